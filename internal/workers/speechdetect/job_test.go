package speechdetect

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/loomline/voicecore/internal/audiofabric"
	"github.com/loomline/voicecore/internal/config"
	"github.com/loomline/voicecore/internal/jobqueue"
	"github.com/loomline/voicecore/internal/session"
	"github.com/loomline/voicecore/pkg/Logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T) (*Worker, *redis.Client, *audiofabric.Fabric, *session.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fabric := audiofabric.New(rc, time.Minute)
	store := session.NewStore(rc)
	logger := Logger.New(false)
	queue := jobqueue.NewQueue(config.QueueConfig{RedisAddr: mr.Addr(), Concurrency: 1}, logger)
	cfg := config.SpeechDetectionConfig{
		PollInterval:    10 * time.Millisecond,
		ThresholdWords:  1,
		ThresholdSeconds: 0,
		GracePeriod:         10 * time.Millisecond,
		SpeakerCheckTimeout: 30 * time.Millisecond,
		Timeout:             time.Second,
	}
	w := New(fabric, store, queue, nil, logger, cfg)
	return w, rc, fabric, store
}

func TestHandleEnqueuesMonitorOnSpeechDetected(t *testing.T) {
	w, _, fabric, store := newTestWorker(t)
	ctx := context.Background()
	sessionID := "sess-1"

	require.NoError(t, fabric.PublishResult(ctx, sessionID, audiofabric.ResultEntry{
		ChunkIndex: "0",
		Text:       "hello",
		Words:      []byte(`[{"word":"hello","start":0,"end":1,"confidence":0.9}]`),
		Provider:   "fake",
	}))

	p := jobqueue.Payload{
		JobID: "detect-1", JobType: jobqueue.JobSpeechDetection,
		Args: map[string]interface{}{"session_id": sessionID, "user_id": "u1", "client_id": "c1"},
	}
	err := w.Handle(ctx, p)
	require.NoError(t, err)

	jobID, err := store.GetOpenConversationJob(ctx, sessionID)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)
}

func TestHandleSkipsWhenOpenConversationAlreadyExists(t *testing.T) {
	w, _, _, store := newTestWorker(t)
	ctx := context.Background()
	sessionID := "sess-2"

	require.NoError(t, store.SetOpenConversationJob(ctx, sessionID, "existing-job", time.Minute))

	p := jobqueue.Payload{
		JobID: "detect-2", JobType: jobqueue.JobSpeechDetection,
		Args: map[string]interface{}{"session_id": sessionID, "user_id": "u1", "client_id": "c1"},
	}
	err := w.Handle(ctx, p)
	require.NoError(t, err)

	jobID, err := store.GetOpenConversationJob(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, "existing-job", jobID)
}
