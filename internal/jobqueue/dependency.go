package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DependencyTracker layers asynq's missing "depends_on" semantics on top
// of a small set of Redis keys (§4.3): a dependent job's payload is
// stored once under jobdep:<job_id>:payload, a remaining-dependency
// counter under jobdep:<job_id>:remaining, and the job id registered as
// a waiter under jobdep:<parent_id>:waiting_on for every parent it
// depends on — so a job with several dependencies (§4.9's event_dispatch
// on both title_summary and memory_extraction) only promotes once every
// one of them has called MarkFinished. When a dependency fails,
// MarkFailed cancels everything waiting on it (and cascades
// transitively, since a cancelled job's own waiters must cancel too).
//
// This completes a pattern the teacher's own scheduler admits it never
// finished — CancelScheduledTask/RescheduleTask there are explicit
// "not fully implemented" stubs because asynq has no native concept of
// job dependency or custom-id cancellation.
type DependencyTracker struct {
	rc    *redis.Client
	queue *Queue
}

func NewDependencyTracker(rc *redis.Client, queue *Queue) *DependencyTracker {
	return &DependencyTracker{rc: rc, queue: queue}
}

func waitingKey(jobID string) string {
	return fmt.Sprintf("jobdep:%s:waiting_on", jobID)
}

func metaKey(jobID string) string {
	return fmt.Sprintf("jobdep:%s:meta", jobID)
}

// payloadKey stores a deferred job's own marshalled payload, so a
// multi-parent job can be looked up by id once its last dependency
// finishes rather than keeping a full copy under every parent it waits
// on.
func payloadKey(jobID string) string {
	return fmt.Sprintf("jobdep:%s:payload", jobID)
}

// remainingKey counts how many of a deferred job's dependencies are
// still unresolved; it reaches zero exactly once, which is the signal
// to promote.
func remainingKey(jobID string) string {
	return fmt.Sprintf("jobdep:%s:remaining", jobID)
}

// Schedule enqueues p immediately if it has no dependency, or holds it
// back — registered as a waiter on every id in p.DependsOn — otherwise.
// A job with several dependencies (§4.9's event_dispatch, gated on both
// title_summary and memory_extraction) only promotes once all of them
// have called MarkFinished. Returns the resulting status ("queued" or
// "deferred") per the Job entity (§3.1).
func (t *DependencyTracker) Schedule(ctx context.Context, queueName string, p Payload) (string, error) {
	if len(p.DependsOn) == 0 {
		return "queued", t.queue.Enqueue(ctx, queueName, p)
	}

	if p.Args == nil {
		p.Args = map[string]interface{}{}
	}
	p.Args["_queue"] = queueName

	data, err := p.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshalling deferred payload: %w", err)
	}
	if err := t.rc.Set(ctx, payloadKey(p.JobID), data, 0).Err(); err != nil {
		return "", fmt.Errorf("storing deferred payload %s: %w", p.JobID, err)
	}
	if err := t.rc.Set(ctx, remainingKey(p.JobID), len(p.DependsOn), 0).Err(); err != nil {
		return "", fmt.Errorf("storing dependency count for %s: %w", p.JobID, err)
	}
	for _, dep := range p.DependsOn {
		if err := t.rc.SAdd(ctx, waitingKey(dep), p.JobID).Err(); err != nil {
			return "", fmt.Errorf("deferring job %s on %s: %w", p.JobID, dep, err)
		}
	}
	return "deferred", nil
}

// MarkFinished notifies every job waiting on jobID that this one of
// their dependencies is done, promoting from deferred to queued any
// waiter whose *last* outstanding dependency just resolved.
func (t *DependencyTracker) MarkFinished(ctx context.Context, jobID string) error {
	key := waitingKey(jobID)
	waiters, err := t.rc.SMembers(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("reading waiters for %s: %w", jobID, err)
	}
	if err := t.rc.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("clearing waiters for %s: %w", jobID, err)
	}

	for _, waiterID := range waiters {
		remaining, err := t.rc.Decr(ctx, remainingKey(waiterID)).Result()
		if err != nil {
			return fmt.Errorf("decrementing dependency count for %s: %w", waiterID, err)
		}
		if remaining > 0 {
			continue
		}

		data, err := t.rc.Get(ctx, payloadKey(waiterID)).Bytes()
		if err == redis.Nil {
			continue // already promoted or cancelled by a concurrent call
		}
		if err != nil {
			return fmt.Errorf("reading deferred payload %s: %w", waiterID, err)
		}
		p, err := Unmarshal(data)
		if err != nil {
			continue
		}
		_ = t.rc.Del(ctx, payloadKey(waiterID), remainingKey(waiterID)).Err()

		p.DependsOn = nil
		queueName := QueueDefault
		if q, ok := p.Args["_queue"].(string); ok && q != "" {
			queueName = q
		}
		if err := t.queue.Enqueue(ctx, queueName, p); err != nil {
			return fmt.Errorf("promoting job %s: %w", p.JobID, err)
		}
	}
	return nil
}

// MarkFailed cancels every job transitively waiting on jobID, matching
// "dependency failure causes transitive dependants to be canceled" from
// §4.3. Cancellation here means the deferred payload is simply dropped
// (and its own waiters are recursively dropped) rather than enqueued,
// regardless of whether its other dependencies ever finish.
func (t *DependencyTracker) MarkFailed(ctx context.Context, jobID string) error {
	key := waitingKey(jobID)
	waiters, err := t.rc.SMembers(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("reading waiters for %s: %w", jobID, err)
	}
	if err := t.rc.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("clearing waiters for %s: %w", jobID, err)
	}

	for _, waiterID := range waiters {
		if err := t.rc.Del(ctx, payloadKey(waiterID), remainingKey(waiterID)).Err(); err != nil {
			return fmt.Errorf("clearing cancelled job %s: %w", waiterID, err)
		}
		if err := t.MarkFailed(ctx, waiterID); err != nil {
			return err
		}
	}
	return nil
}

// SetMeta stores a small free-form progress blob for a job (§4.3 "meta
// is mutable during execution so the UI can show progress").
func (t *DependencyTracker) SetMeta(ctx context.Context, jobID string, meta map[string]interface{}) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshalling job meta: %w", err)
	}
	return t.rc.Set(ctx, metaKey(jobID), data, 0).Err()
}

func (t *DependencyTracker) GetMeta(ctx context.Context, jobID string) (map[string]interface{}, error) {
	data, err := t.rc.Get(ctx, metaKey(jobID)).Bytes()
	if err == redis.Nil {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading job meta: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshalling job meta: %w", err)
	}
	return meta, nil
}
