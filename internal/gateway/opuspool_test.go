package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDecodePoolDefaultsSize(t *testing.T) {
	pool := NewDecodePool(0)
	require.NotNil(t, pool)
	require.Greater(t, cap(pool.sem), 0)
}

func TestDecodePoolForwardsDecodeError(t *testing.T) {
	pool := NewDecodePool(2)
	dec, err := NewOpusDecoder(16000, 1)
	require.NoError(t, err)

	// An invalid Opus packet should surface a decode error rather than
	// hang or panic, proving the pool forwards the underlying call.
	_, err = pool.Decode(context.Background(), dec, []byte{0x00, 0x01, 0x02})
	require.Error(t, err)
}

func TestDecodePoolRespectsContextCancellation(t *testing.T) {
	pool := NewDecodePool(1)
	pool.sem <- struct{}{} // occupy the only slot

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dec, err := NewOpusDecoder(16000, 1)
	require.NoError(t, err)

	_, err = pool.Decode(ctx, dec, []byte{0x00})
	require.ErrorIs(t, err, context.Canceled)
}
