// Package speaker defines the contract for the external speaker
// recognition service used by the Speech-Detection enrolled-speaker
// check (§4.7 step 5) and the Post-Conversation speaker_recognition job
// (§4.9). Shaped like the teacher's pkg/io/stt/vad.VAD — a narrow,
// swappable interface around one external capability — rather than the
// heavier whisper.WhisperClient, since the speaker service here is
// always optional infrastructure.
package speaker

import (
	"context"
	"errors"

	"github.com/loomline/voicecore/internal/conversation"
)

// ErrUnreachable signals a connection/timeout failure talking to the
// speaker service. Per §4.9, dependants of speaker_recognition must be
// cancelled when this occurs — it is distinct from "service reached,
// answered no speakers".
var ErrUnreachable = errors.New("speaker service unreachable")

// IdentifyResult carries the diarized segments the service produced for
// a window of audio, plus the distinct speaker ids it found.
type IdentifyResult struct {
	Segments []conversation.Segment
	Speakers []string
}

// Client identifies speakers across a WAV payload. One call always
// covers one (possibly windowed) stretch of audio — windowing and
// overlap-merge across multiple calls is the caller's job (§4.9).
type Client interface {
	Identify(ctx context.Context, wav []byte, sampleRate, channels int) (IdentifyResult, error)

	// EnrolledSpeakerPresent answers the Speech-Detection Job's
	// lightweight "is this a known speaker" check (§4.7 step 5), which
	// does not need full diarization.
	EnrolledSpeakerPresent(ctx context.Context, userID string, wav []byte, sampleRate, channels int) (bool, error)
}
