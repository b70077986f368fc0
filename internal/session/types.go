package session

import "time"

// Status is the session lifecycle field (§3.1). Transitions are one-way:
// active -> finalizing -> finished.
type Status string

const (
	StatusActive     Status = "active"
	StatusFinalizing Status = "finalizing"
	StatusFinished   Status = "finished"
)

// Mode is the recording mode negotiated at audio-start (§4.4.1).
type Mode string

const (
	ModeStreaming Mode = "streaming"
	ModeBatch     Mode = "batch"
)

// AudioFormat is the PCM/Opus format negotiated at audio-start.
type AudioFormat struct {
	Rate     int `json:"rate"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

// Record is the full set of fields the reference layout keeps in one
// Redis hash per session (§3.1, §4.1). Fields absent from the hash
// unmarshal to their zero value — callers must treat "field missing" and
// "field zero" identically, per the atomic-field contract in §4.1.
type Record struct {
	SessionID            string      `redis:"session_id"`
	UserID                string      `redis:"user_id"`
	ClientID              string      `redis:"client_id"`
	UserEmail             string      `redis:"user_email"`
	Mode                  Mode        `redis:"mode"`
	Provider              string      `redis:"provider"`
	Status                Status      `redis:"status"`
	CompletionReason       string      `redis:"completion_reason"`
	WebSocketConnected     bool        `redis:"websocket_connected"`
	ChunksPublished        int64       `redis:"chunks_published"`
	SpeechDetectionJobID   string      `redis:"speech_detection_job_id"`
	PersistenceJobID       string      `redis:"persistence_job_id"`
	TranscriptionError     string      `redis:"transcription_error"`
	ConversationCloseRequested string  `redis:"conversation_close_requested"`
	AlwaysPersist          bool        `redis:"always_persist"`
	AudioRate              int         `redis:"audio_rate"`
	AudioWidth             int         `redis:"audio_width"`
	AudioChannels          int         `redis:"audio_channels"`
	CreatedAt              time.Time   `redis:"created_at"`
}
