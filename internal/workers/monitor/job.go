// Package monitor implements the Conversation Monitor Job (C8, §4.8):
// one job per conversation, opened by the Speech-Detection Job, owning
// the conversation's entire lifetime from first detected speech through
// to handing off the Post-Conversation Chain. Tick-loop shape is modeled
// after the teacher's voice_stream_system.VSS.Run select-loop (ticker +
// timer), generalized from an in-process audio buffer to the Audio
// Stream Fabric's results aggregator.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/loomline/voicecore/internal/audiofabric"
	"github.com/loomline/voicecore/internal/config"
	"github.com/loomline/voicecore/internal/conversation"
	"github.com/loomline/voicecore/internal/jobqueue"
	"github.com/loomline/voicecore/internal/plugins"
	"github.com/loomline/voicecore/internal/session"
	"github.com/loomline/voicecore/internal/workers/postchain"
	"github.com/loomline/voicecore/pkg/Logger"
)

type Worker struct {
	fabric  *audiofabric.Fabric
	store   *session.Store
	repo    conversation.Repository
	tracker *jobqueue.DependencyTracker
	queue   *jobqueue.Queue
	router  *plugins.Router
	logger  *Logger.Logger
	cfg     config.MonitorConfig
	pcCfg   config.PostChainConfig
}

func New(fabric *audiofabric.Fabric, store *session.Store, repo conversation.Repository, tracker *jobqueue.DependencyTracker,
	queue *jobqueue.Queue, router *plugins.Router, logger *Logger.Logger, cfg config.MonitorConfig, pcCfg config.PostChainConfig) *Worker {
	return &Worker{fabric: fabric, store: store, repo: repo, tracker: tracker, queue: queue, router: router, logger: logger, cfg: cfg, pcCfg: pcCfg}
}

func (w *Worker) Handle(ctx context.Context, p jobqueue.Payload) error {
	sessionID := p.ArgString("session_id")
	userID := p.ArgString("user_id")
	clientID := p.ArgString("client_id")
	speechDetectJobID := p.ArgString("speech_detect_job")

	timeout := w.cfg.Timeout
	if timeout <= 0 {
		timeout = 3*time.Hour - 60*time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conv, err := w.open(runCtx, sessionID, userID, clientID, speechDetectJobID)
	if err != nil {
		return fmt.Errorf("opening conversation: %w", err)
	}

	var endReason string
	var deleted bool
	defer func() {
		// §4.8.6: always runs, even if the loop or close returned early
		// on error — the detached context keeps it from being cut short
		// by runCtx's own deadline having just expired.
		w.endOfConversation(context.Background(), sessionID, conv, endReason, deleted)
	}()

	reason, closeRequested := w.monitorLoop(runCtx, p.JobID, sessionID, userID, conv)
	endReason = reason
	deleted = w.close(conv, sessionID, endReason, closeRequested)

	return nil
}

// open implements §4.8.1.
func (w *Worker) open(ctx context.Context, sessionID, userID, clientID, speechDetectJobID string) (*conversation.Conversation, error) {
	var conv *conversation.Conversation

	if current, err := w.store.GetCurrentConversation(ctx, sessionID); err == nil && current != "" {
		if id, err := uuid.Parse(current); err == nil {
			if existing, err := w.repo.Get(ctx, id); err == nil &&
				existing.AlwaysPersist && existing.ProcessingStatus == conversation.StatusPendingTranscription {
				existing.Title = "Recording…"
				existing.Summary = "Transcribing audio…"
				conv = existing
			}
		}
	}

	if conv == nil {
		conv = &conversation.Conversation{
			ConversationID:   uuid.New(),
			ClientID:         clientID,
			Title:            "Recording…",
			ProcessingStatus: conversation.StatusPendingTranscription,
		}
		if uid, err := uuid.Parse(userID); err == nil {
			conv.UserID = uid
		}
		if err := w.repo.Create(ctx, conv); err != nil {
			return nil, fmt.Errorf("creating conversation: %w", err)
		}
	} else if err := w.repo.Update(ctx, conv); err != nil {
		return nil, fmt.Errorf("updating reused conversation placeholder: %w", err)
	}

	if err := w.store.SetCurrentConversation(ctx, sessionID, conv.ConversationID.String(), 24*time.Hour); err != nil {
		return nil, fmt.Errorf("writing current-conversation signal: %w", err)
	}

	if speechDetectJobID != "" {
		_ = w.tracker.SetMeta(ctx, speechDetectJobID, map[string]interface{}{"conversation_id": conv.ConversationID.String()})
	}

	if markers, err := w.store.DrainMarkers(ctx, sessionID); err == nil && len(markers) > 0 {
		for _, raw := range markers {
			conv.Markers = append(conv.Markers, conversation.Marker{Kind: "session_marker", Data: raw, Timestamp: time.Now()})
		}
		_ = w.repo.Update(ctx, conv)
	}

	return conv, nil
}

// monitorLoop implements §4.8.2-§4.8.4's tick loop and returns the
// final end reason plus whether it was the close-requested path (close()
// skips waiting on transcription completion in that case).
func (w *Worker) monitorLoop(ctx context.Context, jobID, sessionID, userID string, conv *conversation.Conversation) (string, bool) {
	tick := w.cfg.TickInterval
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	maxDuration := w.cfg.MaxDuration
	if maxDuration <= 0 {
		maxDuration = 3 * time.Hour
	}
	inactivityTimeout := w.cfg.InactivityTimeout
	if inactivityTimeout <= 0 {
		inactivityTimeout = 60 * time.Second
	}

	latch := newEndReasonLatch()
	start := time.Now()
	var lastChunkCount int
	var lastWordEnd float64
	lastSpeechAt := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ReasonUserStopped, false
		case <-ticker.C:
		}

		if exists, err := w.queue.TaskExists(jobqueue.QueueDefault, jobID); err == nil && !exists {
			// §4.8.2 step 1 / §8.1: this job's own record vanished from
			// the queue backend — treat it as a zombie and stop rather
			// than keep polling a session nothing will ever finish.
			return ReasonZombie, false
		}

		rec, err := w.store.GetAll(ctx, sessionID)
		if err != nil {
			if err == session.ErrSessionGone {
				if latch.close(ctx, ReasonSessionCompletion) {
					return ReasonUserStopped, false
				}
			}
			continue
		}

		if rec.Status == session.StatusFinished && rec.WebSocketConnected && rec.CompletionReason == "all_jobs_complete" {
			_ = w.store.SetField(ctx, sessionID, "status", string(session.StatusActive))
			continue
		}

		if rec.CompletionReason != "" {
			if latch.close(ctx, ReasonSessionCompletion) {
				return rec.CompletionReason, false
			}
		}
		if rec.Status == session.StatusFinalizing || rec.Status == session.StatusFinished {
			if latch.close(ctx, ReasonSessionCompletion) {
				return ReasonUserStopped, false
			}
		}

		if closeReason, _ := w.store.ConsumeCloseRequested(ctx, sessionID); closeReason != "" {
			if latch.close(ctx, ReasonCloseRequested) {
				return closeReason, true
			}
		}

		if time.Since(start) >= maxDuration {
			if latch.close(ctx, ReasonMaxDuration) {
				return ReasonMaxDuration, false
			}
		}

		if messages, err := w.fabric.ReadResults(ctx, sessionID); err == nil {
			view := audiofabric.Aggregate(messages)
			view.Segments = validateSegments(view.Segments)
			wordEnd := view.LastWordEnd()
			if wordEnd > lastWordEnd {
				lastWordEnd = wordEnd
				lastSpeechAt = time.Now()
			}

			_ = w.tracker.SetMeta(ctx, jobID, map[string]interface{}{
				"transcript":  view.Text,
				"word_count":  view.WordCount(),
				"chunk_count": view.ChunkCount,
			})

			if view.ChunkCount > lastChunkCount && w.router != nil {
				results, _ := w.router.Dispatch(ctx, plugins.EventTranscriptStreaming, userID, map[string]interface{}{
					"transcript":      view.Text,
					"segment_id":      view.ChunkCount,
					"word_count":      view.WordCount(),
					"segments":        view.Segments,
					"conversation_id": conv.ConversationID.String(),
				}, nil)
				_ = results
			}
			lastChunkCount = view.ChunkCount
		}

		if time.Since(lastSpeechAt) >= inactivityTimeout {
			if latch.close(ctx, ReasonInactivityTimeout) {
				return ReasonInactivityTimeout, false
			}
		}
	}
}

// close implements §4.8.5, returning whether the conversation ended up
// marked deleted (no audio ever materialized).
func (w *Worker) close(conv *conversation.Conversation, sessionID, endReason string, closeRequested bool) bool {
	ctx := context.Background()

	if !closeRequested {
		w.waitFor(ctx, w.cfg.CloseWaitTimeout, func() bool {
			status, err := w.store.GetTranscriptionComplete(ctx, sessionID)
			return err == nil && status != ""
		})
	}

	haveChunks := w.waitFor(ctx, w.cfg.ChunkWaitTimeout, func() bool {
		count, err := w.repo.CountAudioChunks(ctx, conv.ConversationID)
		return err == nil && count > 0
	})
	if !haveChunks {
		conv.Deleted = true
		conv.DeletedReason = "audio_chunks_not_ready"
		if err := w.repo.Update(ctx, conv); err != nil {
			w.logger.Errorf("monitor: marking conversation %s deleted: %v", conv.ConversationID, err)
		}
		return true
	}

	var view audiofabric.CombinedView
	if messages, err := w.fabric.ReadResults(ctx, sessionID); err == nil {
		view = audiofabric.Aggregate(messages)
	}
	segments := validateSegments(view.Segments)
	diarSource := conversation.DiarizationNone
	if len(segments) > 0 {
		diarSource = conversation.DiarizationProvider
	}

	version := conversation.TranscriptVersion{
		VersionID:         "streaming_" + shortID(conv.ConversationID),
		Transcript:        view.Text,
		Words:             view.Words,
		Segments:          segments,
		Provider:          view.Provider,
		Model:             view.Provider,
		DiarizationSource: diarSource,
		Metadata: map[string]interface{}{
			"source":      "streaming",
			"chunk_count": view.ChunkCount,
			"word_count":  view.WordCount(),
		},
	}
	conv.SetActiveTranscript(version)
	if err := w.repo.Update(ctx, conv); err != nil {
		w.logger.Errorf("monitor: persisting final streaming transcript for %s: %v", conv.ConversationID, err)
	}

	eventJobID, err := postchain.EnqueueChain(ctx, w.tracker, w.pcCfg, postchain.ChainArgs{
		ConversationID: conv.ConversationID.String(),
		SessionID:      sessionID,
		UserID:         conv.UserID.String(),
		ClientID:       conv.ClientID,
	})
	if err != nil {
		w.logger.Errorf("monitor: enqueueing post-conversation chain for %s: %v", conv.ConversationID, err)
	} else {
		w.logger.Infof("monitor: post-conversation chain %s enqueued for conversation %s", eventJobID, conv.ConversationID)
	}

	return false
}

// waitFor polls cond every 500ms until it returns true or timeout
// elapses (default 30s), per §4.8.5 steps 1-2's "wait up to 30s" rule.
func (w *Worker) waitFor(ctx context.Context, timeout time.Duration, cond func() bool) bool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// endOfConversation implements §4.8.6, run unconditionally by Handle's
// deferred call regardless of how the loop/close path exited.
func (w *Worker) endOfConversation(ctx context.Context, sessionID string, conv *conversation.Conversation, endReason string, deleted bool) {
	if err := w.fabric.DeleteResultsStream(ctx, sessionID); err != nil {
		w.logger.Errorf("monitor: deleting results stream for session %s: %v", sessionID, err)
	}
	if err := w.store.Expire(ctx, sessionID, time.Hour); err != nil {
		w.logger.Errorf("monitor: setting session TTL for %s: %v", sessionID, err)
	}
	_ = w.store.ClearOpenConversationJob(ctx, sessionID)
	_ = w.store.ClearCurrentConversation(ctx, sessionID)

	if !deleted {
		conv.EndReason = endReason
		now := time.Now()
		conv.CompletedAt = &now
		if err := w.repo.Update(ctx, conv); err != nil {
			w.logger.Errorf("monitor: writing end_reason/completed_at for %s: %v", conv.ConversationID, err)
		}
	}

	// The session-wide conversation counter is incremented once, by the
	// Speech-Detection Job's open step (it needs the pre-increment value
	// for its deterministic open-conv_<session>_<N> job id) — this
	// handler reads it rather than incrementing a second time.
	rec, err := w.store.GetAll(ctx, sessionID)
	if err != nil {
		return
	}

	switch {
	case rec.Status == session.StatusActive:
		_ = w.store.ClearTranscriptionComplete(ctx, sessionID)
		w.restartSpeechDetection(ctx, sessionID, rec.UserID, rec.ClientID)
	case rec.WebSocketConnected:
		_ = w.store.SetField(ctx, sessionID, "status", string(session.StatusActive))
		_ = w.store.ClearTranscriptionComplete(ctx, sessionID)
		w.restartSpeechDetection(ctx, sessionID, rec.UserID, rec.ClientID)
	}
}

func (w *Worker) restartSpeechDetection(ctx context.Context, sessionID, userID, clientID string) {
	payload := jobqueue.Payload{
		JobID:       "detect_" + uuid.NewString(),
		JobType:     jobqueue.JobSpeechDetection,
		Description: "speech detection",
		Args:        map[string]interface{}{"session_id": sessionID, "user_id": userID, "client_id": clientID},
	}
	if err := w.queue.Enqueue(ctx, jobqueue.QueueDefault, payload); err != nil {
		w.logger.Errorf("monitor: restarting speech detection for session %s: %v", sessionID, err)
	}
}

func shortID(id uuid.UUID) string {
	s := id.String()
	if len(s) < 8 {
		return s
	}
	return s[:8]
}
