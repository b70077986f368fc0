// Package speechdetect implements the Speech-Detection Job (C7, §4.7): a
// long-running poller, one per session, that decides whether a session
// has produced meaningful speech and — if so — opens a Conversation
// Monitor. Structured after the teacher's
// internal/domains/sys_manager/voice_stream_system.VSS.Run select-loop
// (ticker-driven classification over a buffered/aggregated view) but
// polling the Audio Stream Fabric's results aggregator instead of an
// in-process ring buffer, since this job runs detached from the gateway
// connection.
package speechdetect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/loomline/voicecore/internal/audiofabric"
	"github.com/loomline/voicecore/internal/config"
	"github.com/loomline/voicecore/internal/jobqueue"
	"github.com/loomline/voicecore/internal/session"
	"github.com/loomline/voicecore/internal/speaker"
	"github.com/loomline/voicecore/pkg/Logger"
)

type Worker struct {
	fabric      *audiofabric.Fabric
	store       *session.Store
	queue       *jobqueue.Queue
	speakerSvc  speaker.Client
	logger      *Logger.Logger
	cfg         config.SpeechDetectionConfig
}

func New(fabric *audiofabric.Fabric, store *session.Store, queue *jobqueue.Queue, speakerSvc speaker.Client, logger *Logger.Logger, cfg config.SpeechDetectionConfig) *Worker {
	return &Worker{fabric: fabric, store: store, queue: queue, speakerSvc: speakerSvc, logger: logger, cfg: cfg}
}

func (w *Worker) Handle(ctx context.Context, p jobqueue.Payload) error {
	sessionID := p.ArgString("session_id")
	userID := p.ArgString("user_id")
	clientID := p.ArgString("client_id")

	// §9 Open Question #1: read-then-clear before the single-instance
	// guard, so a racing close request can't wedge this job forever.
	if _, err := w.store.ConsumeCloseRequested(ctx, sessionID); err != nil {
		w.logger.Errorf("speechdetect: consuming close-requested flag for session %s: %v", sessionID, err)
	}

	existing, err := w.store.GetOpenConversationJob(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("checking open conversation guard: %w", err)
	}
	if existing != "" {
		return nil
	}

	timeout := w.cfg.Timeout
	if timeout <= 0 {
		timeout = 24*time.Hour - 60*time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pollInterval := w.cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var graceDeadline time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if reason, err := w.store.ConsumeCloseRequested(ctx, sessionID); err == nil && reason != "" {
			// a close request while no speech was ever detected still
			// counts as "session wants to stop waiting" — fall through
			// to the finalizing-status check below on the next read.
			_ = reason
		}

		messages, err := w.fabric.ReadResults(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("reading results aggregator: %w", err)
		}
		view := audiofabric.Aggregate(messages)

		hasSpeech := view.WordCount() >= w.cfg.ThresholdWords && view.LastWordEnd() >= w.cfg.ThresholdSeconds

		if hasSpeech {
			return w.onSpeechDetected(ctx, p.JobID, sessionID, userID, clientID)
		}

		rec, err := w.store.GetAll(ctx, sessionID)
		if err != nil {
			if err == session.ErrSessionGone {
				return nil
			}
			return fmt.Errorf("reading session record: %w", err)
		}

		if rec.TranscriptionError != "" {
			w.logger.Errorf("speechdetect: session %s transcription_error=%q, exiting without fallback", sessionID, rec.TranscriptionError)
			return nil
		}

		if rec.Status == session.StatusFinalizing || rec.Status == session.StatusFinished {
			if graceDeadline.IsZero() {
				grace := w.cfg.GracePeriod
				if grace <= 0 {
					grace = 15 * time.Second
				}
				graceDeadline = time.Now().Add(grace)
				continue
			}
			if time.Now().Before(graceDeadline) {
				continue
			}
			return w.onNoSpeech(ctx, sessionID, clientID)
		}
	}
}

func (w *Worker) onNoSpeech(ctx context.Context, sessionID, clientID string) error {
	fallback := jobqueue.Payload{
		JobID:       "fallback_" + uuid.NewString(),
		JobType:     jobqueue.JobTranscriptionFallback,
		Description: "no speech detected on streaming path",
		Args: map[string]interface{}{
			"session_id": sessionID,
			"client_id":  clientID,
		},
	}
	if err := w.queue.Enqueue(ctx, jobqueue.QueueTranscription, fallback); err != nil {
		return fmt.Errorf("enqueueing transcription fallback: %w", err)
	}
	return nil
}

func (w *Worker) onSpeechDetected(ctx context.Context, speechDetectJobID, sessionID, userID, clientID string) error {
	w.requestSpeakerCheck(ctx, sessionID, userID)

	count, err := w.store.IncrConversationCount(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("reading conversation count: %w", err)
	}
	// IncrConversationCount already advanced the counter for the new
	// conversation; use the pre-increment value for the job-id pattern
	// since it must be stable across retries of this same job run.
	n := count - 1

	monitorJobID := fmt.Sprintf("open-conv_%s_%d", sessionID, n)
	monitorPayload := jobqueue.Payload{
		JobID:       monitorJobID,
		JobType:     jobqueue.JobConversationMonitor,
		Description: "conversation monitor",
		Args: map[string]interface{}{
			"session_id":         sessionID,
			"user_id":            userID,
			"client_id":          clientID,
			"speech_detected_at": time.Now().Format(time.RFC3339Nano),
			"speech_detect_job":  speechDetectJobID,
		},
	}
	if err := w.queue.Enqueue(ctx, jobqueue.QueueDefault, monitorPayload); err != nil {
		return fmt.Errorf("enqueueing conversation monitor: %w", err)
	}

	timeout := w.cfg.Timeout
	if timeout <= 0 {
		timeout = 24*time.Hour - 60*time.Second
	}
	if err := w.store.SetOpenConversationJob(ctx, sessionID, monitorJobID, timeout); err != nil {
		return fmt.Errorf("recording open conversation job: %w", err)
	}

	return nil
}

// requestSpeakerCheck enqueues a dedicated Speaker-Check Job (step 5)
// and polls the session's marker list for its result rather than
// calling the speaker service in-process, keeping the check on the same
// job-queue/marker plumbing every other side-effect of this job uses.
func (w *Worker) requestSpeakerCheck(ctx context.Context, sessionID, userID string) {
	checkJobID := "speaker-check_" + uuid.NewString()
	payload := jobqueue.Payload{
		JobID:       checkJobID,
		JobType:     jobqueue.JobSpeakerCheck,
		Description: "enrolled speaker check",
		Args:        map[string]interface{}{"session_id": sessionID, "user_id": userID},
	}
	if err := w.queue.Enqueue(ctx, jobqueue.QueueDefault, payload); err != nil {
		w.logger.Errorf("speechdetect: enqueueing speaker check for session %s: %v", sessionID, err)
		return
	}

	timeout := w.speakerCheckTimeout()
	deadline := time.Now().Add(timeout)
	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	poll := time.NewTicker(interval)
	defer poll.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
		}
		markers, err := w.store.DrainMarkers(ctx, sessionID)
		if err != nil {
			return
		}
		for _, m := range markers {
			// put back any non-speaker-check markers we incidentally drained
			if !isSpeakerCheckMarker(m, checkJobID) {
				_ = w.store.AddMarker(ctx, sessionID, json.RawMessage(m))
				continue
			}
			return
		}
	}
}

func isSpeakerCheckMarker(raw, jobID string) bool {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return false
	}
	kind, _ := m["type"].(string)
	id, _ := m["job_id"].(string)
	return kind == "speaker_check" && id == jobID
}

func (w *Worker) speakerCheckTimeout() time.Duration {
	if w.cfg.SpeakerCheckTimeout > 0 {
		return w.cfg.SpeakerCheckTimeout
	}
	return 30 * time.Second
}

// HandleSpeakerCheck is the handler for jobqueue.JobSpeakerCheck,
// registered alongside the main detection handler. It calls the speaker
// service and writes the result back as a session marker the requesting
// Speech-Detection job polls for.
func (w *Worker) HandleSpeakerCheck(ctx context.Context, p jobqueue.Payload) error {
	sessionID := p.ArgString("session_id")
	userID := p.ArgString("user_id")

	marker := map[string]interface{}{
		"type":   "speaker_check",
		"job_id": p.JobID,
		"at":     time.Now().Format(time.RFC3339Nano),
	}
	if w.speakerSvc == nil {
		marker["enrolled_speaker_present"] = false
	} else {
		present, err := w.speakerSvc.EnrolledSpeakerPresent(ctx, userID, nil, 0, 0)
		if err != nil {
			marker["error"] = err.Error()
		} else {
			marker["enrolled_speaker_present"] = present
		}
	}

	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("marshalling speaker-check marker: %w", err)
	}
	return w.store.AddMarker(ctx, sessionID, json.RawMessage(data))
}
