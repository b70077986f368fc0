// Package postchain implements the Post-Conversation Chain (C9, §4.9):
// a small DAG of jobs — batch_retranscribe?, speaker_recognition,
// memory_extraction, title_summary, event_dispatch — wired through
// internal/jobqueue.DependencyTracker, the layer that gives asynq the
// "depends_on" semantics its own scheduler never finished (see that
// package's own comment on the teacher's stub CancelScheduledTask).
package postchain

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/loomline/voicecore/internal/config"
	"github.com/loomline/voicecore/internal/jobqueue"
)

// ChainArgs carries the identifiers every stage of the chain needs.
type ChainArgs struct {
	ConversationID string
	SessionID      string
	UserID         string
	ClientID       string
	// RequireBatchRetranscribe forces the batch_retranscribe stage on
	// regardless of cfg.AlwaysBatchRetranscribe — set by callers whose
	// conversation has no transcript yet (the gateway's batch-mode
	// rotation, §4.4.2), as opposed to the streaming path where the
	// Conversation Monitor already produced one.
	RequireBatchRetranscribe bool
}

// EnqueueChain schedules every stage of §4.9's DAG and returns the
// event_dispatch job id, the terminal node callers can use to track
// completion of the whole chain.
//
// event_dispatch depends on both title_summary and memory_extraction
// (§4.9, §5): conversation.complete must not reach plugins until the
// chain's two terminal stages have both finished, not just the one that
// happens to flip processing_status to completed.
func EnqueueChain(ctx context.Context, tracker *jobqueue.DependencyTracker, cfg config.PostChainConfig, args ChainArgs) (string, error) {
	var batchDeps []string
	if cfg.AlwaysBatchRetranscribe || args.RequireBatchRetranscribe {
		batchJobID := "batch_retx_" + uuid.NewString()
		if _, err := tracker.Schedule(ctx, jobqueue.QueueTranscription, jobqueue.Payload{
			JobID:       batchJobID,
			JobType:     jobqueue.JobBatchRetranscribe,
			Description: "batch re-transcription",
			Args:        chainArgMap(args),
		}); err != nil {
			return "", fmt.Errorf("scheduling batch_retranscribe: %w", err)
		}
		batchDeps = []string{batchJobID}
	}

	speakerJobID := "speaker_" + uuid.NewString()
	if _, err := tracker.Schedule(ctx, jobqueue.QueueDefault, jobqueue.Payload{
		JobID:       speakerJobID,
		JobType:     jobqueue.JobSpeakerRecognition,
		Description: "speaker recognition",
		Args:        chainArgMap(args),
		DependsOn:   batchDeps,
	}); err != nil {
		return "", fmt.Errorf("scheduling speaker_recognition: %w", err)
	}

	memoryJobID := "memory_" + uuid.NewString()
	if _, err := tracker.Schedule(ctx, jobqueue.QueueMemory, jobqueue.Payload{
		JobID:       memoryJobID,
		JobType:     jobqueue.JobMemoryExtraction,
		Description: "memory extraction",
		Args:        chainArgMap(args),
		DependsOn:   []string{speakerJobID},
	}); err != nil {
		return "", fmt.Errorf("scheduling memory_extraction: %w", err)
	}

	titleJobID := "title_" + uuid.NewString()
	if _, err := tracker.Schedule(ctx, jobqueue.QueueDefault, jobqueue.Payload{
		JobID:       titleJobID,
		JobType:     jobqueue.JobTitleSummary,
		Description: "title and summary generation",
		Args:        chainArgMap(args),
		DependsOn:   []string{speakerJobID},
	}); err != nil {
		return "", fmt.Errorf("scheduling title_summary: %w", err)
	}

	eventJobID := "event_" + uuid.NewString()
	if _, err := tracker.Schedule(ctx, jobqueue.QueueDefault, jobqueue.Payload{
		JobID:       eventJobID,
		JobType:     jobqueue.JobEventDispatch,
		Description: "conversation.complete dispatch",
		Args:        chainArgMap(args),
		DependsOn:   []string{titleJobID, memoryJobID},
	}); err != nil {
		return "", fmt.Errorf("scheduling event_dispatch: %w", err)
	}

	return eventJobID, nil
}

func chainArgMap(args ChainArgs) map[string]interface{} {
	return map[string]interface{}{
		"conversation_id": args.ConversationID,
		"session_id":      args.SessionID,
		"user_id":         args.UserID,
		"client_id":       args.ClientID,
	}
}
