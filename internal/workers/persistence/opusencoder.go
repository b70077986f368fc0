package persistence

import (
	"fmt"

	"layeh.com/gopus"
)

// opusEncoder compresses accumulated PCM into Opus before a chunk is
// written to the database (§4.5 "reference: Opus at 16 kHz mono"),
// mirroring internal/gateway.OpusDecoder's construction but for the
// opposite direction.
type opusEncoder struct {
	enc       *gopus.Encoder
	frameSize int
	channels  int
}

func newOpusEncoder(sampleRate, channels int) (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("creating opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc, frameSize: sampleRate * 20 / 1000, channels: channels}, nil
}

// encode compresses one frame-aligned PCM buffer. Callers must pad the
// final partial frame of a chunk with silence before calling this —
// gopus requires exactly frameSize samples per call.
func (e *opusEncoder) encode(pcm []int16) ([]byte, error) {
	data, err := e.enc.Encode(pcm, e.frameSize, len(pcm)*2)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return data, nil
}

// encodePCM compresses pcm into a sequence of length-prefixed Opus
// packets, padding the final partial frame with silence only when final
// is true.
func (e *opusEncoder) encodePCM(pcm []byte, final bool) ([]byte, error) {
	frameBytes := e.frameSize * e.channels * 2
	out := make([]byte, 0, len(pcm)/2)
	for offset := 0; offset+frameBytes <= len(pcm); offset += frameBytes {
		frame := bytesToInt16s(pcm[offset : offset+frameBytes])
		packet, err := e.encode(frame)
		if err != nil {
			return nil, err
		}
		out = appendLengthPrefixed(out, packet)
	}

	remainder := len(pcm) % frameBytes
	if remainder > 0 && final {
		padded := make([]byte, frameBytes)
		copy(padded, pcm[len(pcm)-remainder:])
		packet, err := e.encode(bytesToInt16s(padded))
		if err != nil {
			return nil, err
		}
		out = appendLengthPrefixed(out, packet)
	}
	return out, nil
}

func bytesToInt16s(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return out
}
