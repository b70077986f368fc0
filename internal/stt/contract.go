package stt

import (
	"context"

	"github.com/loomline/voicecore/internal/conversation"
	"github.com/loomline/voicecore/internal/session"
)

// StreamResult is one interim or final result produced by a streaming
// provider (§4.6). Generalized from the teacher's whisper.TranscriptionResponse
// shape, but expressed in the domain's Word/Segment types rather than a
// provider-specific response struct.
type StreamResult struct {
	Text     string
	Words    []conversation.Word
	Segments []conversation.Segment
	IsFinal  bool
}

// BatchResult is the output of a one-shot batch transcription (§4.9
// batch_retranscribe, §4.9 Transcription-Fallback).
type BatchResult struct {
	Text     string
	Words    []conversation.Word
	Segments []conversation.Segment
	Language string
}

// Stream is one provider-side streaming session, opened for the
// lifetime of a conversation's audio (§4.6). Write feeds raw PCM;
// Results delivers interim/final entries until Close.
type Stream interface {
	Write(ctx context.Context, pcm []byte) error
	Results() <-chan StreamResult
	Close() error
}

// StreamingProvider opens a Stream bound to one session's negotiated
// audio format (§4.4.1). The teacher has no true streaming STT example —
// the only STT client in the pack (pkg/io/stt/whisper) is request/response —
// so this interface is new, shaped after the teacher's WhisperClient
// constructor signature (baseURL + logger) to stay consistent with it.
type StreamingProvider interface {
	Name() string
	OpenStream(ctx context.Context, sessionID string, format session.AudioFormat) (Stream, error)
}

// BatchProvider transcribes a complete WAV payload in one call (§4.9
// batch_retranscribe, Transcription-Fallback). Grounded directly on
// pkg/io/stt/whisper.WhisperClient.TranscribeAudio.
type BatchProvider interface {
	Name() string
	Transcribe(ctx context.Context, wav []byte, sampleRate, channels int) (BatchResult, error)
}
