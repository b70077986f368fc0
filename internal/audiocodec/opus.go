// Package audiocodec holds the length-prefixed Opus packet framing
// shared between the Audio Persistence Worker (writer) and the
// Post-Conversation Chain's batch_retranscribe/speaker_recognition jobs
// (readers, §4.9) — both sides need the exact same wire shape for the
// BLOB stored in AudioChunk.AudioData. Decode side mirrors
// internal/gateway.OpusDecoder's gopus usage.
package audiocodec

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"
)

// DecodePackets decodes a chunk's length-prefixed Opus packet stream
// back into raw PCM, using one stateful decoder per call (packets
// within a single chunk were all produced by one encoder instance, so
// decode state carries correctly across them).
func DecodePackets(data []byte, sampleRate, channels int) ([]byte, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("creating opus decoder: %w", err)
	}
	frameSize := sampleRate * 20 / 1000

	var pcm []byte
	for offset := 0; offset+2 <= len(data); {
		n := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
		offset += 2
		if offset+n > len(data) {
			return nil, fmt.Errorf("truncated opus packet at offset %d", offset)
		}
		packet := data[offset : offset+n]
		offset += n

		samples, err := dec.Decode(packet, frameSize, false)
		if err != nil {
			return nil, fmt.Errorf("decoding opus packet: %w", err)
		}
		pcm = append(pcm, int16sToBytes(samples)...)
	}
	return pcm, nil
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
