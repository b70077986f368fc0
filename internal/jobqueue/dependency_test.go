package jobqueue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/loomline/voicecore/internal/config"
	"github.com/loomline/voicecore/pkg/Logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func testQueueConfig(rc *redis.Client) config.QueueConfig {
	return config.QueueConfig{RedisAddr: rc.Options().Addr, Concurrency: 1}
}

func TestDependencyTrackerDefersOnDependency(t *testing.T) {
	rc := newTestRedis(t)
	tracker := NewDependencyTracker(rc, nil)

	status, err := tracker.Schedule(context.Background(), QueueMemory, Payload{
		JobID:     "memory-1",
		JobType:   JobMemoryExtraction,
		DependsOn: []string{"speaker-1"},
	})
	require.NoError(t, err)
	require.Equal(t, "deferred", status)

	waiting, err := rc.SMembers(context.Background(), waitingKey("speaker-1")).Result()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"memory-1"}, waiting)
}

func TestDependencyTrackerPromotesOnlyAfterAllParentsFinish(t *testing.T) {
	rc := newTestRedis(t)
	tracker := NewDependencyTracker(rc, NewQueue(testQueueConfig(rc), Logger.New(false)))
	ctx := context.Background()

	_, err := tracker.Schedule(ctx, QueueDefault, Payload{
		JobID:     "event-1",
		JobType:   JobEventDispatch,
		DependsOn: []string{"title-1", "memory-1"},
	})
	require.NoError(t, err)

	require.NoError(t, tracker.MarkFinished(ctx, "title-1"))
	remaining, err := rc.Get(ctx, remainingKey("event-1")).Int()
	require.NoError(t, err)
	require.Equal(t, 1, remaining)

	require.NoError(t, tracker.MarkFinished(ctx, "memory-1"))
	_, err = rc.Get(ctx, remainingKey("event-1")).Result()
	require.ErrorIs(t, err, redis.Nil)
}

func TestDependencyTrackerPreservesOriginalQueueOnPromotion(t *testing.T) {
	rc := newTestRedis(t)
	tracker := NewDependencyTracker(rc, NewQueue(testQueueConfig(rc), Logger.New(false)))
	ctx := context.Background()

	_, err := tracker.Schedule(ctx, QueueMemory, Payload{
		JobID:     "memory-2",
		JobType:   JobMemoryExtraction,
		DependsOn: []string{"speaker-2"},
	})
	require.NoError(t, err)

	require.NoError(t, tracker.MarkFinished(ctx, "speaker-2"))

	_, err = rc.Get(ctx, payloadKey("memory-2")).Result()
	require.ErrorIs(t, err, redis.Nil)

	info, err := tracker.queue.inspector.GetTaskInfo(QueueMemory, "memory-2")
	require.NoError(t, err)
	require.Equal(t, QueueMemory, info.Queue)
}

func TestDependencyTrackerMarkFailedCancelsTransitively(t *testing.T) {
	rc := newTestRedis(t)
	tracker := NewDependencyTracker(rc, nil)
	ctx := context.Background()

	_, err := tracker.Schedule(ctx, QueueDefault, Payload{JobID: "title-1", JobType: JobTitleSummary, DependsOn: []string{"speaker-1"}})
	require.NoError(t, err)
	_, err = tracker.Schedule(ctx, QueueDefault, Payload{JobID: "event-1", JobType: JobEventDispatch, DependsOn: []string{"title-1"}})
	require.NoError(t, err)

	require.NoError(t, tracker.MarkFailed(ctx, "speaker-1"))

	remaining, err := rc.SMembers(ctx, waitingKey("speaker-1")).Result()
	require.NoError(t, err)
	require.Empty(t, remaining)

	remaining, err = rc.SMembers(ctx, waitingKey("title-1")).Result()
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestDependencyTrackerMeta(t *testing.T) {
	rc := newTestRedis(t)
	tracker := NewDependencyTracker(rc, nil)
	ctx := context.Background()

	meta, err := tracker.GetMeta(ctx, "unknown")
	require.NoError(t, err)
	require.Empty(t, meta)

	require.NoError(t, tracker.SetMeta(ctx, "job-1", map[string]interface{}{"progress": 0.5}))
	meta, err = tracker.GetMeta(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, 0.5, meta["progress"])
}
