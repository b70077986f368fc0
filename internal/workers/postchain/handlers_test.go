package postchain

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
	"github.com/loomline/voicecore/internal/llm"
	"github.com/loomline/voicecore/internal/session"
	"github.com/loomline/voicecore/pkg/Logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeConvRepo struct {
	conversations map[uuid.UUID]*conversation.Conversation
	chunks        map[uuid.UUID][]conversation.AudioChunk
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{conversations: map[uuid.UUID]*conversation.Conversation{}, chunks: map[uuid.UUID][]conversation.AudioChunk{}}
}
func (r *fakeConvRepo) Create(ctx context.Context, conv *conversation.Conversation) error {
	if conv.ConversationID == uuid.Nil {
		conv.ConversationID = uuid.New()
	}
	r.conversations[conv.ConversationID] = conv
	return nil
}
func (r *fakeConvRepo) Get(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	c, ok := r.conversations[id]
	if !ok {
		return nil, conversation.ErrConversationNotFound
	}
	cp := *c
	return &cp, nil
}
func (r *fakeConvRepo) Update(ctx context.Context, conv *conversation.Conversation) error {
	r.conversations[conv.ConversationID] = conv
	return nil
}
func (r *fakeConvRepo) AppendAudioChunk(ctx context.Context, chunk conversation.AudioChunk) error {
	r.chunks[chunk.ConversationID] = append(r.chunks[chunk.ConversationID], chunk)
	return nil
}
func (r *fakeConvRepo) CountAudioChunks(ctx context.Context, id uuid.UUID) (int64, error) {
	return int64(len(r.chunks[id])), nil
}
func (r *fakeConvRepo) ListAudioChunks(ctx context.Context, id uuid.UUID) ([]conversation.AudioChunk, error) {
	return r.chunks[id], nil
}

type fakeLLM struct{}

func (fakeLLM) Summarize(ctx context.Context, transcript string, segments []string, memoryContext string) (llm.TitleSummary, error) {
	return llm.TitleSummary{Title: "Lunch plans", Summary: "Discussed lunch.", DetailedSummary: "They discussed lunch plans in detail."}, nil
}
func (fakeLLM) ExtractMemory(ctx context.Context, transcript string, segments []string) (llm.MemoryExtraction, error) {
	return llm.MemoryExtraction{Facts: []string{"likes pizza"}, Entities: []string{"pizza"}}, nil
}

func newTestHandlers(t *testing.T) (*Handlers, *fakeConvRepo, *jobqueue.DependencyTracker) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tracker := jobqueue.NewDependencyTracker(rc, nil)
	repo := newFakeConvRepo()
	store := session.NewStore(rc)
	fabric := audiofabric.New(rc, time.Minute)
	h := NewHandlers(repo, store, fabric, tracker, nil, nil, fakeLLM{}, nil, config.PostChainConfig{}, Logger.New(false))
	return h, repo, tracker
}

func TestHandleTitleSummaryCompletesConversation(t *testing.T) {
	h, repo, _ := newTestHandlers(t)
	convID := uuid.New()
	conv := &conversation.Conversation{ConversationID: convID}
	conv.SetActiveTranscript(conversation.TranscriptVersion{VersionID: "streaming_1", Transcript: "let's grab lunch tomorrow"})
	repo.conversations[convID] = conv

	p := jobqueue.Payload{JobID: "title-1", Args: map[string]interface{}{"conversation_id": convID.String()}}
	require.NoError(t, h.HandleTitleSummary(context.Background(), p))

	updated := repo.conversations[convID]
	require.Equal(t, "Lunch plans", updated.Title)
	require.Equal(t, conversation.StatusCompleted, updated.ProcessingStatus)
}

func TestHandleMemoryExtractionRecordsMeta(t *testing.T) {
	h, repo, tracker := newTestHandlers(t)
	convID := uuid.New()
	conv := &conversation.Conversation{ConversationID: convID}
	conv.SetActiveTranscript(conversation.TranscriptVersion{VersionID: "streaming_1", Transcript: "let's grab lunch tomorrow"})
	repo.conversations[convID] = conv

	p := jobqueue.Payload{JobID: "memory-1", Args: map[string]interface{}{"conversation_id": convID.String()}}
	require.NoError(t, h.HandleMemoryExtraction(context.Background(), p))

	meta, err := tracker.GetMeta(context.Background(), "memory-1")
	require.NoError(t, err)
	require.NotEmpty(t, meta["facts"])
}

func TestHandleTranscriptionFallbackSkipsWhenNoPlaceholder(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	p := jobqueue.Payload{JobID: "fallback-1", Args: map[string]interface{}{"session_id": "sess-no-conv"}}
	require.NoError(t, h.HandleTranscriptionFallback(context.Background(), p))
}

func TestHandleTranscriptionFallbackRetriesWhenAudioStillOnStream(t *testing.T) {
	h, repo, _ := newTestHandlers(t)
	convID := uuid.New()
	repo.conversations[convID] = &conversation.Conversation{ConversationID: convID}

	ctx := context.Background()
	require.NoError(t, h.store.SetCurrentConversation(ctx, "sess-pending", convID.String(), time.Hour))
	require.NoError(t, h.fabric.PublishAudio(ctx, "client-pending", audiofabric.AudioEntry{SessionID: "sess-pending", ChunkID: "00000"}))

	p := jobqueue.Payload{JobID: "fallback-2", Args: map[string]interface{}{"session_id": "sess-pending", "client_id": "client-pending"}}
	require.Error(t, h.HandleTranscriptionFallback(ctx, p))
}

func TestHandleBatchRetranscribeMarksDeletedOnNoAudio(t *testing.T) {
	h, repo, _ := newTestHandlers(t)
	convID := uuid.New()
	repo.conversations[convID] = &conversation.Conversation{ConversationID: convID}

	p := jobqueue.Payload{JobID: "batch-1", Args: map[string]interface{}{"conversation_id": convID.String()}}
	require.NoError(t, h.HandleBatchRetranscribe(context.Background(), p))

	require.True(t, repo.conversations[convID].Deleted)
	require.Equal(t, "audio_chunks_not_ready", repo.conversations[convID].DeletedReason)
}
