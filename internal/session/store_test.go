package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(rc)
}

func TestCreateAndGetAllRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := Record{
		SessionID: "sess-1",
		UserID:    "user-1",
		ClientID:  "client-1",
		UserEmail: "a@b.com",
		Mode:      ModeStreaming,
		Provider:  "whisper",
		Status:    StatusActive,
		AudioRate: 16000, AudioWidth: 2, AudioChannels: 1,
	}
	require.NoError(t, store.Create(ctx, rec))

	exists, err := store.Exists(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, exists)

	got, err := store.GetAll(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "sess-1", got.SessionID)
	require.Equal(t, "user-1", got.UserID)
	require.Equal(t, ModeStreaming, got.Mode)
	require.Equal(t, StatusActive, got.Status)
	require.Equal(t, 16000, got.AudioRate)
	require.False(t, got.CreatedAt.IsZero())
}

func TestGetAllReturnsErrSessionGoneWhenMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetAll(ctx, "nope")
	require.ErrorIs(t, err, ErrSessionGone)
}

func TestSetFieldReturnsErrSessionGoneWhenMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.SetField(ctx, "nope", "status", string(StatusFinished))
	require.ErrorIs(t, err, ErrSessionGone)
}

func TestSetFieldOverwritesExistingSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, Record{SessionID: "sess-2", Status: StatusActive}))
	require.NoError(t, store.SetField(ctx, "sess-2", "status", string(StatusFinalizing)))

	v, err := store.GetField(ctx, "sess-2", "status")
	require.NoError(t, err)
	require.Equal(t, string(StatusFinalizing), v)
}

func TestGetFieldReturnsEmptyWhenUnset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	v, err := store.GetField(ctx, "sess-missing", "status")
	require.NoError(t, err)
	require.Equal(t, "", v)
}

func TestSetIfUnsetOnlySetsOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, Record{SessionID: "sess-3"}))

	ok, err := store.SetIfUnset(ctx, "sess-3", "speech_detection_job_id", "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.SetIfUnset(ctx, "sess-3", "speech_detection_job_id", "job-2")
	require.NoError(t, err)
	require.False(t, ok)

	v, err := store.GetField(ctx, "sess-3", "speech_detection_job_id")
	require.NoError(t, err)
	require.Equal(t, "job-1", v)
}

func TestIncrFieldAccumulates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, Record{SessionID: "sess-4"}))

	n, err := store.IncrField(ctx, "sess-4", "chunks_published", 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = store.IncrField(ctx, "sess-4", "chunks_published", 4)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)
}

func TestConsumeCloseRequestedReadsThenClears(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, Record{SessionID: "sess-5"}))
	require.NoError(t, store.SetField(ctx, "sess-5", "conversation_close_requested", "user_requested"))

	reason, err := store.ConsumeCloseRequested(ctx, "sess-5")
	require.NoError(t, err)
	require.Equal(t, "user_requested", reason)

	reason, err = store.ConsumeCloseRequested(ctx, "sess-5")
	require.NoError(t, err)
	require.Equal(t, "", reason)
}

func TestConsumeCloseRequestedEmptyWhenNeverSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, Record{SessionID: "sess-6"}))

	reason, err := store.ConsumeCloseRequested(ctx, "sess-6")
	require.NoError(t, err)
	require.Equal(t, "", reason)
}

func TestAddMarkerAndDrainMarkers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddMarker(ctx, "sess-7", map[string]string{"type": "bookmark"}))
	require.NoError(t, store.AddMarker(ctx, "sess-7", map[string]string{"type": "highlight"}))

	markers, err := store.DrainMarkers(ctx, "sess-7")
	require.NoError(t, err)
	require.Len(t, markers, 2)

	drainedAgain, err := store.DrainMarkers(ctx, "sess-7")
	require.NoError(t, err)
	require.Empty(t, drainedAgain)
}

func TestCurrentConversationLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	v, err := store.GetCurrentConversation(ctx, "sess-8")
	require.NoError(t, err)
	require.Equal(t, "", v)

	require.NoError(t, store.SetCurrentConversation(ctx, "sess-8", "conv-1", time.Minute))
	v, err = store.GetCurrentConversation(ctx, "sess-8")
	require.NoError(t, err)
	require.Equal(t, "conv-1", v)

	require.NoError(t, store.ClearCurrentConversation(ctx, "sess-8"))
	v, err = store.GetCurrentConversation(ctx, "sess-8")
	require.NoError(t, err)
	require.Equal(t, "", v)
}

func TestOpenConversationJobLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetOpenConversationJob(ctx, "sess-9", "job-9", time.Minute))
	v, err := store.GetOpenConversationJob(ctx, "sess-9")
	require.NoError(t, err)
	require.Equal(t, "job-9", v)

	require.NoError(t, store.ClearOpenConversationJob(ctx, "sess-9"))
	v, err = store.GetOpenConversationJob(ctx, "sess-9")
	require.NoError(t, err)
	require.Equal(t, "", v)
}

func TestIncrConversationCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.IncrConversationCount(ctx, "sess-10")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = store.IncrConversationCount(ctx, "sess-10")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestTranscriptionCompleteLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	v, err := store.GetTranscriptionComplete(ctx, "sess-11")
	require.NoError(t, err)
	require.Equal(t, "", v)

	require.NoError(t, store.SetTranscriptionComplete(ctx, "sess-11", "done"))
	v, err = store.GetTranscriptionComplete(ctx, "sess-11")
	require.NoError(t, err)
	require.Equal(t, "done", v)

	require.NoError(t, store.ClearTranscriptionComplete(ctx, "sess-11"))
	v, err = store.GetTranscriptionComplete(ctx, "sess-11")
	require.NoError(t, err)
	require.Equal(t, "", v)
}

func TestExpireAppliesTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, Record{SessionID: "sess-12"}))

	require.NoError(t, store.Expire(ctx, "sess-12", time.Hour))

	exists, err := store.Exists(ctx, "sess-12")
	require.NoError(t, err)
	require.True(t, exists)
}
