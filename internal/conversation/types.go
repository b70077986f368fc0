package conversation

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus mirrors the conversation document's processing_status field.
type ProcessingStatus string

const (
	StatusPendingTranscription ProcessingStatus = "pending_transcription"
	StatusBatchTranscription   ProcessingStatus = "batch_transcription"
	StatusReprocessing         ProcessingStatus = "reprocessing"
	StatusCompleted            ProcessingStatus = "completed"
	StatusTranscriptionFailed  ProcessingStatus = "transcription_failed"
)

// DiarizationSource records who produced a TranscriptVersion's segments.
type DiarizationSource string

const (
	DiarizationProvider       DiarizationSource = "provider"
	DiarizationSpeakerService DiarizationSource = "speaker_service"
	DiarizationNone           DiarizationSource = ""
)

// Word is one word-level timing entry inside a TranscriptVersion.
type Word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	Speaker    string  `json:"speaker,omitempty"`
}

// SegmentType distinguishes spoken content from device/system events.
type SegmentType string

const (
	SegmentSpeech SegmentType = "speech"
	SegmentEvent  SegmentType = "event"
)

// Segment is a diarized span of a TranscriptVersion.
type Segment struct {
	Start   float64     `json:"start"`
	End     float64     `json:"end"`
	Text    string      `json:"text"`
	Speaker string      `json:"speaker,omitempty"`
	Type    SegmentType `json:"type"`
}

// TranscriptVersion is one transcription pass over a conversation's audio.
type TranscriptVersion struct {
	VersionID         string                 `json:"version_id"`
	Transcript        string                 `json:"transcript"`
	Words             []Word                 `json:"words"`
	Segments          []Segment              `json:"segments"`
	Provider          string                 `json:"provider"`
	Model             string                 `json:"model"`
	DiarizationSource DiarizationSource      `json:"diarization_source"`
	Metadata          map[string]interface{} `json:"metadata"`
}

// WordCount returns len(Words), used by speech classification (§4.7).
func (t TranscriptVersion) WordCount() int {
	return len(t.Words)
}

// Marker is a device or plugin event attached to a conversation (button
// presses, close requests, etc).
type Marker struct {
	Kind      string    `json:"kind"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is a persisted record scoped to one stretch of meaningful
// speech (§3.1).
type Conversation struct {
	ConversationID            uuid.UUID           `json:"conversation_id"`
	UserID                    uuid.UUID           `json:"user_id"`
	ClientID                  string              `json:"client_id"`
	Title                     string              `json:"title"`
	Summary                   string              `json:"summary"`
	DetailedSummary           string              `json:"detailed_summary"`
	TranscriptVersions        []TranscriptVersion `json:"transcript_versions"`
	ActiveTranscriptVersionID string              `json:"active_transcript_version_id"`
	AudioChunksCount          int                 `json:"audio_chunks_count"`
	AudioTotalDuration        float64             `json:"audio_total_duration"`
	ProcessingStatus          ProcessingStatus    `json:"processing_status"`
	AlwaysPersist             bool                `json:"always_persist"`
	EndReason                 string              `json:"end_reason"`
	CompletedAt               *time.Time          `json:"completed_at"`
	Markers                   []Marker            `json:"markers"`
	Deleted                   bool                `json:"deleted"`
	DeletedReason             string              `json:"deleted_reason"`
	DeletedAt                 *time.Time          `json:"deleted_at"`
	Starred                   bool                `json:"starred"`
	CreatedAt                 time.Time           `json:"created_at"`
	UpdatedAt                 time.Time           `json:"updated_at"`
}

// ActiveTranscript returns the transcript version named by
// ActiveTranscriptVersionID, or nil if unset/missing.
func (c *Conversation) ActiveTranscript() *TranscriptVersion {
	for i := range c.TranscriptVersions {
		if c.TranscriptVersions[i].VersionID == c.ActiveTranscriptVersionID {
			return &c.TranscriptVersions[i]
		}
	}
	return nil
}

// SetActiveTranscript appends (or replaces, if VersionID matches) a
// transcript version and marks it active, preserving the invariant that
// ActiveTranscriptVersionID always references an element of
// TranscriptVersions (§3.1).
func (c *Conversation) SetActiveTranscript(tv TranscriptVersion) {
	for i := range c.TranscriptVersions {
		if c.TranscriptVersions[i].VersionID == tv.VersionID {
			c.TranscriptVersions[i] = tv
			c.ActiveTranscriptVersionID = tv.VersionID
			return
		}
	}
	c.TranscriptVersions = append(c.TranscriptVersions, tv)
	c.ActiveTranscriptVersionID = tv.VersionID
}

// AudioChunk is one fixed-duration slice of a conversation's audio (§4.5).
type AudioChunk struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	ChunkIndex     int       `json:"chunk_index"`
	StartTime      float64   `json:"start_time"`
	EndTime        float64   `json:"end_time"`
	Duration       float64   `json:"duration"`
	SampleRate     int       `json:"sample_rate"`
	Channels       int       `json:"channels"`
	SampleWidth    int       `json:"sample_width"`
	AudioData      []byte    `json:"-"`
}
