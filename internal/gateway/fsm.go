package gateway

import (
	"github.com/looplab/fsm"
)

// Connection states (§4.4 "Gateway state machine").
const (
	StateAwaitingAuth    = "awaiting_auth"
	StateControlMode     = "control_mode"
	StateAudioStreaming  = "audio_streaming_mode"
	StateClosing         = "closing"
	StateClosed          = "closed"
)

// Connection events driving the state machine.
const (
	EventAuthenticated = "authenticated"
	EventAudioStart    = "audio_start"
	EventAudioStop     = "audio_stop"
	EventDisconnect    = "disconnect"
	EventClosed        = "closed"
)

// NewConnectionFSM builds the per-connection state machine replacing the
// teacher's ad hoc `IsActive bool` (internal/handlers/websocket/session.go)
// with a real FSM so an out-of-order control frame (e.g. audio-stop before
// audio-start) is rejected by the library rather than by scattered checks.
// Audio chunks are not FSM events; handleAudioChunk does not consult it.
func NewConnectionFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateAwaitingAuth,
		fsm.Events{
			{Name: EventAuthenticated, Src: []string{StateAwaitingAuth}, Dst: StateControlMode},
			{Name: EventAudioStart, Src: []string{StateControlMode, StateAudioStreaming}, Dst: StateAudioStreaming},
			{Name: EventAudioStop, Src: []string{StateAudioStreaming}, Dst: StateControlMode},
			{Name: EventDisconnect, Src: []string{StateAwaitingAuth, StateControlMode, StateAudioStreaming}, Dst: StateClosing},
			{Name: EventClosed, Src: []string{StateClosing}, Dst: StateClosed},
		},
		fsm.Callbacks{},
	)
}
