package stt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeWAVHeaderFields(t *testing.T) {
	pcm := make([]byte, 320)
	out, err := EncodeWAV(pcm, 16000, 1, 2)
	require.NoError(t, err)
	require.Equal(t, "RIFF", string(out[0:4]))
	require.Equal(t, "WAVE", string(out[8:12]))
	require.Equal(t, "data", string(out[36:40]))
	require.Len(t, out, 44+len(pcm))
}

func TestEncodeWAVRejectsUnsupportedWidth(t *testing.T) {
	_, err := EncodeWAV([]byte{1, 2, 3}, 16000, 1, 3)
	require.Error(t, err)
}
