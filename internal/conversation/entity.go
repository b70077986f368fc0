package conversation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationEntity is the gorm-mapped row backing Conversation. The
// transcript-version list is stored as a JSON column rather than a join
// table — it's small, versioned together, and always read as a whole.
type ConversationEntity struct {
	ID                        uuid.UUID      `gorm:"primaryKey;type:char(36);not null"`
	UserID                    uuid.UUID      `gorm:"column:user_id;type:char(36);not null;index"`
	ClientID                  string         `gorm:"column:client_id;type:varchar(255);index"`
	Title                     string         `gorm:"type:varchar(255)"`
	Summary                   string         `gorm:"type:text"`
	DetailedSummary           string         `gorm:"column:detailed_summary;type:text"`
	TranscriptVersions        json.RawMessage `gorm:"column:transcript_versions;type:json"`
	ActiveTranscriptVersionID string         `gorm:"column:active_transcript_version_id;type:varchar(64)"`
	AudioChunksCount          int            `gorm:"column:audio_chunks_count"`
	AudioTotalDuration        float64        `gorm:"column:audio_total_duration"`
	ProcessingStatus          string         `gorm:"column:processing_status;type:varchar(32);index"`
	AlwaysPersist             bool           `gorm:"column:always_persist"`
	EndReason                 string         `gorm:"column:end_reason;type:varchar(64)"`
	CompletedAt               *time.Time     `gorm:"column:completed_at"`
	Markers                   json.RawMessage `gorm:"type:json"`
	Deleted                   bool           `gorm:"index"`
	DeletedReason             string         `gorm:"column:deleted_reason;type:varchar(64)"`
	DeletedAt                 *time.Time     `gorm:"column:deleted_at_reason"`
	Starred                   bool
	CreatedAt                 time.Time      `gorm:"autoCreateTime(3)"`
	UpdatedAt                 time.Time      `gorm:"autoUpdateTime(3)"`
	GormDeletedAt             gorm.DeletedAt `gorm:"column:gorm_deleted_at;index"`
}

func (ConversationEntity) TableName() string {
	return "conversations"
}

func (c *ConversationEntity) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

func (c *ConversationEntity) ToDomain() (*Conversation, error) {
	var versions []TranscriptVersion
	if len(c.TranscriptVersions) > 0 {
		if err := json.Unmarshal(c.TranscriptVersions, &versions); err != nil {
			return nil, err
		}
	}
	var markers []Marker
	if len(c.Markers) > 0 {
		if err := json.Unmarshal(c.Markers, &markers); err != nil {
			return nil, err
		}
	}

	return &Conversation{
		ConversationID:            c.ID,
		UserID:                    c.UserID,
		ClientID:                  c.ClientID,
		Title:                     c.Title,
		Summary:                   c.Summary,
		DetailedSummary:           c.DetailedSummary,
		TranscriptVersions:        versions,
		ActiveTranscriptVersionID: c.ActiveTranscriptVersionID,
		AudioChunksCount:          c.AudioChunksCount,
		AudioTotalDuration:        c.AudioTotalDuration,
		ProcessingStatus:          ProcessingStatus(c.ProcessingStatus),
		AlwaysPersist:             c.AlwaysPersist,
		EndReason:                 c.EndReason,
		CompletedAt:               c.CompletedAt,
		Markers:                   markers,
		Deleted:                   c.Deleted,
		DeletedReason:             c.DeletedReason,
		DeletedAt:                 c.DeletedAt,
		Starred:                   c.Starred,
		CreatedAt:                 c.CreatedAt,
		UpdatedAt:                 c.UpdatedAt,
	}, nil
}

func (c *ConversationEntity) FromDomain(conv *Conversation) error {
	versions, err := json.Marshal(conv.TranscriptVersions)
	if err != nil {
		return err
	}
	markers, err := json.Marshal(conv.Markers)
	if err != nil {
		return err
	}

	c.ID = conv.ConversationID
	c.UserID = conv.UserID
	c.ClientID = conv.ClientID
	c.Title = conv.Title
	c.Summary = conv.Summary
	c.DetailedSummary = conv.DetailedSummary
	c.TranscriptVersions = versions
	c.ActiveTranscriptVersionID = conv.ActiveTranscriptVersionID
	c.AudioChunksCount = conv.AudioChunksCount
	c.AudioTotalDuration = conv.AudioTotalDuration
	c.ProcessingStatus = string(conv.ProcessingStatus)
	c.AlwaysPersist = conv.AlwaysPersist
	c.EndReason = conv.EndReason
	c.CompletedAt = conv.CompletedAt
	c.Markers = markers
	c.Deleted = conv.Deleted
	c.DeletedReason = conv.DeletedReason
	c.DeletedAt = conv.DeletedAt
	c.Starred = conv.Starred
	return nil
}

func NewConversationEntityFromDomain(conv *Conversation) (*ConversationEntity, error) {
	e := &ConversationEntity{}
	if err := e.FromDomain(conv); err != nil {
		return nil, err
	}
	return e, nil
}

// AudioChunkEntity is the gorm-mapped row backing AudioChunk (§4.5); the
// compressed PCM payload is stored as a BLOB column.
type AudioChunkEntity struct {
	ConversationID uuid.UUID `gorm:"column:conversation_id;primaryKey;type:char(36);not null"`
	ChunkIndex     int       `gorm:"column:chunk_index;primaryKey"`
	StartTime      float64   `gorm:"column:start_time"`
	EndTime        float64   `gorm:"column:end_time"`
	Duration       float64
	SampleRate     int    `gorm:"column:sample_rate"`
	Channels       int
	SampleWidth    int    `gorm:"column:sample_width"`
	AudioData      []byte `gorm:"column:audio_data;type:mediumblob"`
	CreatedAt      time.Time `gorm:"autoCreateTime(3)"`
}

func (AudioChunkEntity) TableName() string {
	return "audio_chunks"
}

func (a *AudioChunkEntity) ToDomain() AudioChunk {
	return AudioChunk{
		ConversationID: a.ConversationID,
		ChunkIndex:     a.ChunkIndex,
		StartTime:      a.StartTime,
		EndTime:        a.EndTime,
		Duration:       a.Duration,
		SampleRate:     a.SampleRate,
		Channels:       a.Channels,
		SampleWidth:    a.SampleWidth,
		AudioData:      a.AudioData,
	}
}

func NewAudioChunkEntityFromDomain(chunk AudioChunk) *AudioChunkEntity {
	return &AudioChunkEntity{
		ConversationID: chunk.ConversationID,
		ChunkIndex:     chunk.ChunkIndex,
		StartTime:      chunk.StartTime,
		EndTime:        chunk.EndTime,
		Duration:       chunk.Duration,
		SampleRate:     chunk.SampleRate,
		Channels:       chunk.Channels,
		SampleWidth:    chunk.SampleWidth,
		AudioData:      chunk.AudioData,
	}
}
