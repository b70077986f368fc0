package stt

import (
	"context"
	"sync"
	"time"

	"github.com/loomline/voicecore/internal/session"
)

// ChunkedStreamingProvider turns a BatchProvider into a StreamingProvider
// by buffering PCM and re-transcribing the accumulated window on a fixed
// interval, in the same shape as the teacher's voice_stream_system.VSS
// (process ticker draining a buffer and calling a batch Whisper client
// per tick). Every tick's result is emitted as an interim StreamResult;
// Close emits one final result over everything buffered since the last
// flush.
type ChunkedStreamingProvider struct {
	provider BatchProvider
	interval time.Duration
}

func NewChunkedStreamingProvider(provider BatchProvider, interval time.Duration) *ChunkedStreamingProvider {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ChunkedStreamingProvider{provider: provider, interval: interval}
}

func (p *ChunkedStreamingProvider) Name() string { return p.provider.Name() }

func (p *ChunkedStreamingProvider) OpenStream(ctx context.Context, sessionID string, format session.AudioFormat) (Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	s := &chunkedStream{
		provider: p.provider,
		format:   format,
		results:  make(chan StreamResult, 8),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run(streamCtx, p.interval)
	return s, nil
}

type chunkedStream struct {
	provider BatchProvider
	format   session.AudioFormat

	mu  sync.Mutex
	buf []byte

	results chan StreamResult
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
}

func (s *chunkedStream) Write(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.buf = append(s.buf, pcm...)
	return nil
}

func (s *chunkedStream) Results() <-chan StreamResult { return s.results }

func (s *chunkedStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
	s.flush(context.Background(), true)
	close(s.results)
	return nil
}

func (s *chunkedStream) run(ctx context.Context, interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flush(ctx, false)
		}
	}
}

func (s *chunkedStream) flush(ctx context.Context, final bool) {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return
	}
	pcm := s.buf
	s.buf = nil
	s.mu.Unlock()

	wav, err := EncodeWAV(pcm, s.format.Rate, s.format.Channels, s.format.Width)
	if err != nil {
		return
	}
	result, err := s.provider.Transcribe(ctx, wav, s.format.Rate, s.format.Channels)
	if err != nil {
		return
	}
	select {
	case s.results <- StreamResult{Text: result.Text, Words: result.Words, Segments: result.Segments, IsFinal: final}:
	default:
	}
}
