package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/loomline/voicecore/internal/config"
	"github.com/loomline/voicecore/pkg/Logger"
)

// HandlerFunc processes one job's Payload. A non-nil error triggers
// asynq's own retry policy; the caller is responsible for invoking
// DependencyTracker.MarkFinished/MarkFailed once the outcome is final
// (asynq has no hook for "this task's dependents should now run").
type HandlerFunc func(ctx context.Context, p Payload) error

// Queue wraps asynq's client/server/mux, mirroring the shape of the
// teacher's AsynqSchedulerService but generalized from a single task
// type to the eleven voice-domain JobTypes (§4.3).
type Queue struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	inspector *asynq.Inspector
	logger    *Logger.Logger
}

func NewQueue(cfg config.QueueConfig, logger *Logger.Logger) *Queue {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			QueueTranscription: 6,
			QueueAudio:         4,
			QueueMemory:        2,
			QueueDefault:       1,
		},
		Logger: NewAsynqLogger(logger),
	})

	return &Queue{
		client:    asynq.NewClient(redisOpt),
		server:    server,
		mux:       asynq.NewServeMux(),
		inspector: asynq.NewInspector(redisOpt),
		logger:    logger,
	}
}

// RegisterHandler wires one JobType to its HandlerFunc (§4.3 "handler
// function id"). asynq's task type string is the JobType value itself.
func (q *Queue) RegisterHandler(jobType JobType, handler HandlerFunc) {
	q.mux.HandleFunc(string(jobType), func(ctx context.Context, t *asynq.Task) error {
		p, err := Unmarshal(t.Payload())
		if err != nil {
			return fmt.Errorf("unmarshalling payload for %s: %w", jobType, err)
		}
		return handler(ctx, p)
	})
}

// Enqueue submits p for immediate processing on the named queue.
// Callers with a depends_on set should use DependencyTracker.Schedule
// instead, which calls back into this method once the dependency
// resolves.
func (q *Queue) Enqueue(ctx context.Context, queueName string, p Payload) error {
	data, err := p.Marshal()
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}
	task := asynq.NewTask(string(p.JobType), data)
	_, err = q.client.Enqueue(task, asynq.Queue(queueName), asynq.TaskID(p.JobID))
	if err != nil && err != asynq.ErrTaskIDConflict {
		return fmt.Errorf("enqueueing job %s: %w", p.JobID, err)
	}
	return nil
}

// EnqueueIn schedules p to run on queueName after delay. The
// Speech-Detection Job and the Conversation Monitor do not use it; both
// poll with their own in-process tickers.
func (q *Queue) EnqueueIn(ctx context.Context, queueName string, p Payload, delay time.Duration) error {
	data, err := p.Marshal()
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}
	task := asynq.NewTask(string(p.JobType), data)
	_, err = q.client.Enqueue(task, asynq.Queue(queueName), asynq.TaskID(p.JobID), asynq.ProcessIn(delay))
	if err != nil && err != asynq.ErrTaskIDConflict {
		return fmt.Errorf("scheduling job %s: %w", p.JobID, err)
	}
	return nil
}

// Start runs the asynq server until ctx is cancelled, blocking like the
// teacher's scheduler Run loop.
func (q *Queue) Start(ctx context.Context) error {
	if err := q.server.Start(q.mux); err != nil {
		return fmt.Errorf("starting job queue server: %w", err)
	}
	<-ctx.Done()
	q.server.Shutdown()
	return nil
}

func (q *Queue) Stop() {
	q.client.Close()
	q.inspector.Close()
}

// TaskExists reports whether jobID still has a live task record on
// queueName's backend. The Conversation Monitor's own job is enqueued
// with a custom task id (its jobID), so a missing record here means the
// job was deleted, archived-and-swept, or otherwise lost from asynq's
// bookkeeping — the heartbeat's "job record gone → zombie" check
// (§4.8.2 step 1, §8.1, §9).
func (q *Queue) TaskExists(queueName, jobID string) (bool, error) {
	_, err := q.inspector.GetTaskInfo(queueName, jobID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, asynq.ErrTaskNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("inspecting task %s: %w", jobID, err)
}
