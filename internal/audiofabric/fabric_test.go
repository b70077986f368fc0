package audiofabric

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestFabric(t *testing.T) (*Fabric, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rc, time.Minute), rc
}

func TestNewAppliesDefaultTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	f := New(rc, 0)
	require.Equal(t, 60*time.Second, f.disconnectTTL)
}

func TestPublishAndReadAudio(t *testing.T) {
	f, _ := newTestFabric(t)
	ctx := context.Background()

	require.NoError(t, f.EnsureConsumerGroup(ctx, "client-1", "detect", "0"))
	require.NoError(t, f.PublishAudio(ctx, "client-1", AudioEntry{
		SessionID: "sess-1", ChunkID: "000001", Data: []byte("pcm-bytes"),
		SampleRate: 16000, Channels: 1, SampleWidth: 2,
	}))

	streams, err := f.ReadAudio(ctx, "client-1", "detect", "consumer-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Len(t, streams[0].Messages, 1)
	require.Equal(t, "000001", streams[0].Messages[0].Values["chunk_id"])
}

func TestEnsureConsumerGroupToleratesBusyGroup(t *testing.T) {
	f, _ := newTestFabric(t)
	ctx := context.Background()

	require.NoError(t, f.EnsureConsumerGroup(ctx, "client-2", "detect", "0"))
	require.NoError(t, f.EnsureConsumerGroup(ctx, "client-2", "detect", "0"))
}

func TestAckAudioWithNoIDsIsNoop(t *testing.T) {
	f, _ := newTestFabric(t)
	require.NoError(t, f.AckAudio(context.Background(), "client-3", "detect"))
}

func TestPublishEndSentinel(t *testing.T) {
	f, _ := newTestFabric(t)
	ctx := context.Background()

	require.NoError(t, f.EnsureConsumerGroup(ctx, "client-4", "detect", "0"))
	require.NoError(t, f.PublishEndSentinel(ctx, "client-4", "sess-4"))

	streams, err := f.ReadAudio(ctx, "client-4", "detect", "consumer-1", 10, 0)
	require.NoError(t, err)
	require.Equal(t, EndSentinelChunkID, streams[0].Messages[0].Values["chunk_id"])
}

func TestPublishAndReadResults(t *testing.T) {
	f, _ := newTestFabric(t)
	ctx := context.Background()

	require.NoError(t, f.PublishResult(ctx, "sess-5", ResultEntry{
		ChunkIndex: "0", Text: "hello", Provider: "whisper", IsFinal: true,
	}))
	require.NoError(t, f.PublishResult(ctx, "sess-5", ResultEntry{
		ChunkIndex: "1", Text: " world", Provider: "whisper", IsFinal: true,
	}))

	msgs, err := f.ReadResults(ctx, "sess-5")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestDeleteResultsStream(t *testing.T) {
	f, _ := newTestFabric(t)
	ctx := context.Background()

	require.NoError(t, f.PublishResult(ctx, "sess-6", ResultEntry{ChunkIndex: "0", Text: "hi"}))
	require.NoError(t, f.DeleteResultsStream(ctx, "sess-6"))

	msgs, err := f.ReadResults(ctx, "sess-6")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestPublishAndSubscribeInterim(t *testing.T) {
	f, _ := newTestFabric(t)
	ctx := context.Background()

	sub := f.SubscribeInterim(ctx, "sess-7")
	defer sub.Close()

	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, f.PublishInterim(ctx, "sess-7", []byte(`{"text":"hi"}`)))

	select {
	case msg := <-sub.Channel():
		require.Equal(t, `{"text":"hi"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for interim message")
	}
}

func TestExpireAudioStream(t *testing.T) {
	f, _ := newTestFabric(t)
	ctx := context.Background()

	require.NoError(t, f.PublishAudio(ctx, "client-8", AudioEntry{SessionID: "sess-8", ChunkID: "000001"}))
	require.NoError(t, f.ExpireAudioStream(ctx, "client-8"))
}
