package gateway

import (
	"encoding/json"

	"github.com/loomline/voicecore/internal/conversation"
)

// MessageType is the Wyoming-style frame header's `type` field (§6.2).
type MessageType string

const (
	TypeReady             MessageType = "ready"
	TypeAudioStart        MessageType = "audio-start"
	TypeAudioChunk        MessageType = "audio-chunk"
	TypeAudioStop         MessageType = "audio-stop"
	TypeButtonEvent       MessageType = "button-event"
	TypePing              MessageType = "ping"
	TypeInterimTranscript MessageType = "interim_transcript"
	TypeError             MessageType = "error"
)

// Header is the JSON object preceding an optional binary payload. It is
// sent as its own WebSocket text frame; PayloadLength announces how many
// bytes of the following binary frame belong to this message.
type Header struct {
	Type          MessageType     `json:"type"`
	Data          json.RawMessage `json:"data,omitempty"`
	PayloadLength int             `json:"payload_length,omitempty"`
}

// Mode is the session's transcription mode (§4.4.1).
type Mode string

const (
	ModeStreaming Mode = "streaming"
	ModeBatch     Mode = "batch"
)

// AudioStartData is the `audio-start` header's `data` field.
type AudioStartData struct {
	Rate     int  `json:"rate"`
	Width    int  `json:"width"`
	Channels int  `json:"channels"`
	Mode     Mode `json:"mode,omitempty"`
	// AlwaysPersist requests the placeholder-conversation behavior of
	// §4.5: audio is saved even if speech detection never fires.
	AlwaysPersist bool `json:"always_persist,omitempty"`
}

// ButtonEventData is the `button-event` header's `data` field (§4.4,
// §4.10.5). The plugin router dispatches on two State values,
// SINGLE_PRESS and DOUBLE_PRESS (plugins.ButtonEventFor); LONG_PRESS and
// any other value map to no event.
type ButtonEventData struct {
	State string `json:"state"`
}

// ErrorData is sent back to the client on the `error` message type.
type ErrorData struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ReadyData is sent once the gateway accepts a connection.
type ReadyData struct {
	Message string `json:"message"`
}

// InterimTranscriptData forwards one results-stream entry to the client
// (§4.4.1 step 4).
type InterimTranscriptData struct {
	Text     string                 `json:"text"`
	IsFinal  bool                   `json:"is_final"`
	Words    []conversation.Word    `json:"words,omitempty"`
	Segments []conversation.Segment `json:"segments,omitempty"`
}

// Codec selects the WS query parameter `codec` (§6.1).
type Codec string

const (
	CodecPCM  Codec = "pcm"
	CodecOpus Codec = "opus"
)

const (
	ButtonSinglePress = "SINGLE_PRESS"
	ButtonDoublePress = "DOUBLE_PRESS"
	ButtonLongPress   = "LONG_PRESS"
)
