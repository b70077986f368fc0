package gateway

import (
	"context"
	"fmt"
	"runtime"

	"layeh.com/gopus"
)

// OpusDecoder wraps a stateful gopus decoder for one wearable client
// stream, mirroring the teacher's per-participant decoder in
// pkg/audio/discord/opus.go but generalized from Discord's fixed
// 48 kHz/stereo frame size to the session's negotiated rate/channels.
type OpusDecoder struct {
	dec       *gopus.Decoder
	frameSize int
}

func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("creating opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec:       dec,
		frameSize: sampleRate * 20 / 1000, // 20ms frames
	}, nil
}

func (d *OpusDecoder) decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// DecodePool bounds concurrent Opus decode work to size slots (the
// gateway passes its configured pool size, default 4; NumCPU when size
// is zero or negative) so a burst of wearable clients can't starve the gateway's read loops.
// Unlike the teacher's per-participant decoder, the decoder itself stays
// owned by the session (decode state must not cross streams) — the pool
// only bounds how many decode calls run at once.
type DecodePool struct {
	sem chan struct{}
}

func NewDecodePool(size int) *DecodePool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &DecodePool{sem: make(chan struct{}, size)}
}

// Decode runs dec.decode(packet) on the bounded pool, logging nothing
// itself — callers log decode failures per §4.4.2 ("never crash the
// session").
func (p *DecodePool) Decode(ctx context.Context, dec *OpusDecoder, packet []byte) ([]byte, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.sem }()
	return dec.decode(packet)
}
