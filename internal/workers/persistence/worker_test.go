package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/loomline/voicecore/internal/audiofabric"
	"github.com/loomline/voicecore/internal/config"
	"github.com/loomline/voicecore/internal/conversation"
	"github.com/loomline/voicecore/internal/jobqueue"
	"github.com/loomline/voicecore/internal/session"
	"github.com/loomline/voicecore/pkg/Logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	chunks []conversation.AudioChunk
}

func (f *fakeRepo) Create(ctx context.Context, conv *conversation.Conversation) error { return nil }
func (f *fakeRepo) Get(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	return nil, conversation.ErrConversationNotFound
}
func (f *fakeRepo) Update(ctx context.Context, conv *conversation.Conversation) error { return nil }
func (f *fakeRepo) AppendAudioChunk(ctx context.Context, chunk conversation.AudioChunk) error {
	f.chunks = append(f.chunks, chunk)
	return nil
}
func (f *fakeRepo) CountAudioChunks(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	return int64(len(f.chunks)), nil
}
func (f *fakeRepo) ListAudioChunks(ctx context.Context, conversationID uuid.UUID) ([]conversation.AudioChunk, error) {
	return f.chunks, nil
}

func newTestWorker(t *testing.T) (*Worker, *redis.Client, *fakeRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fabric := audiofabric.New(rc, time.Minute)
	store := session.NewStore(rc)
	repo := &fakeRepo{}
	logger := Logger.New(false)
	w := New(fabric, store, repo, logger, config.PersistenceConfig{ChunkDurationSeconds: 0.01, Timeout: time.Minute})
	return w, rc, repo
}

func TestHandleFlushesChunksAndExitsOnEndSentinel(t *testing.T) {
	w, rc, repo := newTestWorker(t)
	ctx := context.Background()

	sessionID := "sess-1"
	clientID := "client-1"
	store := session.NewStore(rc)
	convID := uuid.New().String()
	require.NoError(t, store.SetCurrentConversation(ctx, sessionID, convID, time.Hour))

	fabric := audiofabric.New(rc, time.Minute)
	pcm := make([]byte, 3200) // 100ms @16kHz mono 16-bit
	require.NoError(t, fabric.PublishAudio(ctx, clientID, audiofabric.AudioEntry{
		SessionID: sessionID, ChunkID: "00000", Data: pcm, SampleRate: 16000, Channels: 1, SampleWidth: 2,
	}))
	require.NoError(t, fabric.PublishEndSentinel(ctx, clientID, sessionID))

	p := jobqueue.Payload{
		JobID: "persist-1", JobType: jobqueue.JobAudioPersistence,
		Args: map[string]interface{}{"session_id": sessionID, "client_id": clientID, "user_id": uuid.New().String()},
	}

	err := w.Handle(ctx, p)
	require.NoError(t, err)
	require.NotEmpty(t, repo.chunks)
	require.Equal(t, convID, repo.chunks[0].ConversationID.String())
}
