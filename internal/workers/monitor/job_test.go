package monitor

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
	conversations map[uuid.UUID]*conversation.Conversation
	chunkCounts   map[uuid.UUID]int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{conversations: map[uuid.UUID]*conversation.Conversation{}, chunkCounts: map[uuid.UUID]int64{}}
}
func (r *fakeRepo) Create(ctx context.Context, conv *conversation.Conversation) error {
	if conv.ConversationID == uuid.Nil {
		conv.ConversationID = uuid.New()
	}
	r.conversations[conv.ConversationID] = conv
	return nil
}
func (r *fakeRepo) Get(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	c, ok := r.conversations[id]
	if !ok {
		return nil, conversation.ErrConversationNotFound
	}
	cp := *c
	return &cp, nil
}
func (r *fakeRepo) Update(ctx context.Context, conv *conversation.Conversation) error {
	r.conversations[conv.ConversationID] = conv
	return nil
}
func (r *fakeRepo) AppendAudioChunk(ctx context.Context, chunk conversation.AudioChunk) error {
	r.chunkCounts[chunk.ConversationID]++
	return nil
}
func (r *fakeRepo) CountAudioChunks(ctx context.Context, id uuid.UUID) (int64, error) {
	return r.chunkCounts[id], nil
}
func (r *fakeRepo) ListAudioChunks(ctx context.Context, id uuid.UUID) ([]conversation.AudioChunk, error) {
	return nil, nil
}

func newTestWorker(t *testing.T) (*Worker, *redis.Client, *fakeRepo, *session.Store, *audiofabric.Fabric) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fabric := audiofabric.New(rc, time.Minute)
	store := session.NewStore(rc)
	logger := Logger.New(false)
	queue := jobqueue.NewQueue(config.QueueConfig{RedisAddr: mr.Addr(), Concurrency: 1}, logger)
	tracker := jobqueue.NewDependencyTracker(rc, queue)
	repo := newFakeRepo()
	cfg := config.MonitorConfig{
		TickInterval:      5 * time.Millisecond,
		InactivityTimeout: 20 * time.Millisecond,
		MaxDuration:       time.Hour,
		Timeout:           time.Second,
		CloseWaitTimeout:  20 * time.Millisecond,
		ChunkWaitTimeout:  20 * time.Millisecond,
	}
	w := New(fabric, store, repo, tracker, queue, nil, logger, cfg, config.PostChainConfig{})
	return w, rc, repo, store, fabric
}

func TestOpenCreatesConversationAndLinksMonitorMeta(t *testing.T) {
	w, _, repo, store, _ := newTestWorker(t)
	ctx := context.Background()
	userID := uuid.New().String()

	conv, err := w.open(ctx, "sess-1", userID, "client-1", "detect-1")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, conv.ConversationID)
	require.Equal(t, conversation.StatusPendingTranscription, conv.ProcessingStatus)

	stored, ok := repo.conversations[conv.ConversationID]
	require.True(t, ok)
	require.Equal(t, conv.ConversationID, stored.ConversationID)

	current, err := store.GetCurrentConversation(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, conv.ConversationID.String(), current)
}

func TestOpenReusesPlaceholderWhenAlwaysPersistPending(t *testing.T) {
	w, _, repo, store, _ := newTestWorker(t)
	ctx := context.Background()

	existing := &conversation.Conversation{
		ConversationID:   uuid.New(),
		AlwaysPersist:    true,
		ProcessingStatus: conversation.StatusPendingTranscription,
	}
	repo.conversations[existing.ConversationID] = existing
	require.NoError(t, store.SetCurrentConversation(ctx, "sess-2", existing.ConversationID.String(), time.Hour))

	conv, err := w.open(ctx, "sess-2", uuid.New().String(), "client-2", "")
	require.NoError(t, err)
	require.Equal(t, existing.ConversationID, conv.ConversationID)
}

func TestCloseMarksDeletedWhenNoAudioChunksArrive(t *testing.T) {
	w, _, repo, _, _ := newTestWorker(t)
	conv := &conversation.Conversation{ConversationID: uuid.New()}
	repo.conversations[conv.ConversationID] = conv

	deleted := w.close(conv, "sess-3", ReasonInactivityTimeout, false)

	require.True(t, deleted)
	require.True(t, repo.conversations[conv.ConversationID].Deleted)
	require.Equal(t, "audio_chunks_not_ready", repo.conversations[conv.ConversationID].DeletedReason)
}

func TestCloseSnapshotsStreamingTranscriptWhenChunksPresent(t *testing.T) {
	w, _, repo, _, _ := newTestWorker(t)
	conv := &conversation.Conversation{ConversationID: uuid.New()}
	repo.conversations[conv.ConversationID] = conv
	repo.chunkCounts[conv.ConversationID] = 2

	deleted := w.close(conv, "sess-4", ReasonUserStopped, true)

	require.False(t, deleted)
	updated := repo.conversations[conv.ConversationID]
	require.NotNil(t, updated.ActiveTranscript())
}

func TestMonitorLoopFiresInactivityTimeout(t *testing.T) {
	w, _, _, store, _ := newTestWorker(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, session.Record{SessionID: "sess-5", Status: session.StatusActive}))
	require.NoError(t, w.queue.Enqueue(ctx, jobqueue.QueueDefault, jobqueue.Payload{JobID: "job-1", JobType: jobqueue.JobConversationMonitor}))
	conv := &conversation.Conversation{ConversationID: uuid.New()}

	reason, closeRequested := w.monitorLoop(ctx, "job-1", "sess-5", uuid.New().String(), conv)

	require.Equal(t, ReasonInactivityTimeout, reason)
	require.False(t, closeRequested)
}

func TestMonitorLoopHonorsCloseRequested(t *testing.T) {
	w, _, _, store, _ := newTestWorker(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, session.Record{SessionID: "sess-6", Status: session.StatusActive}))
	require.NoError(t, store.SetField(ctx, "sess-6", "conversation_close_requested", "user_request"))
	require.NoError(t, w.queue.Enqueue(ctx, jobqueue.QueueDefault, jobqueue.Payload{JobID: "job-2", JobType: jobqueue.JobConversationMonitor}))
	conv := &conversation.Conversation{ConversationID: uuid.New()}

	reason, closeRequested := w.monitorLoop(ctx, "job-2", "sess-6", uuid.New().String(), conv)

	require.Equal(t, "user_request", reason)
	require.True(t, closeRequested)
}

func TestMonitorLoopExitsWhenJobRecordIsGone(t *testing.T) {
	w, _, _, store, _ := newTestWorker(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, session.Record{SessionID: "sess-9", Status: session.StatusActive}))
	conv := &conversation.Conversation{ConversationID: uuid.New()}

	reason, closeRequested := w.monitorLoop(ctx, "missing-job", "sess-9", uuid.New().String(), conv)

	require.Equal(t, ReasonZombie, reason)
	require.False(t, closeRequested)
}

func TestEndOfConversationRestartsSpeechDetectionWhenSessionActive(t *testing.T) {
	w, rc, repo, store, _ := newTestWorker(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, session.Record{SessionID: "sess-7", Status: session.StatusActive, UserID: uuid.New().String(), ClientID: "client-7"}))

	conv := &conversation.Conversation{ConversationID: uuid.New()}
	repo.conversations[conv.ConversationID] = conv

	w.endOfConversation(ctx, "sess-7", conv, ReasonMaxDuration, false)

	require.Equal(t, ReasonMaxDuration, repo.conversations[conv.ConversationID].EndReason)
	require.NotNil(t, repo.conversations[conv.ConversationID].CompletedAt)

	keys, err := rc.Keys(ctx, "asynq:*").Result()
	require.NoError(t, err)
	require.NotEmpty(t, keys)
}
