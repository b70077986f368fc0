package stt

import "fmt"

// EncodeWAV wraps raw PCM in a WAV container. Generalized from
// pkg/io/stt/whisper.WhisperClient.audioFramesToWAV, which hardcoded mono
// 16-bit audio for a single provider; here sampleRate/channels/sampleWidth
// all come from the session's negotiated format (§4.4.1) since the
// gateway accepts more than one device profile.
func EncodeWAV(pcm []byte, sampleRate, channels, sampleWidth int) ([]byte, error) {
	if sampleWidth != 1 && sampleWidth != 2 && sampleWidth != 4 {
		return nil, fmt.Errorf("unsupported sample width %d", sampleWidth)
	}
	bitsPerSample := sampleWidth * 8
	byteRate := sampleRate * channels * sampleWidth
	blockAlign := channels * sampleWidth
	dataSize := len(pcm)

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	writeUint32LE(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	writeUint32LE(header[16:20], 16)
	writeUint16LE(header[20:22], 1)
	writeUint16LE(header[22:24], uint16(channels))
	writeUint32LE(header[24:28], uint32(sampleRate))
	writeUint32LE(header[28:32], uint32(byteRate))
	writeUint16LE(header[32:34], uint16(blockAlign))
	writeUint16LE(header[34:36], uint16(bitsPerSample))
	copy(header[36:40], "data")
	writeUint32LE(header[40:44], uint32(dataSize))

	out := make([]byte, 0, len(header)+dataSize)
	out = append(out, header...)
	out = append(out, pcm...)
	return out, nil
}

func writeUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func writeUint16LE(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
