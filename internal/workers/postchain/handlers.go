package postchain

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/loomline/voicecore/internal/audiocodec"
	"github.com/loomline/voicecore/internal/audiofabric"
	"github.com/loomline/voicecore/internal/config"
	"github.com/loomline/voicecore/internal/conversation"
	"github.com/loomline/voicecore/internal/jobqueue"
	"github.com/loomline/voicecore/internal/llm"
	"github.com/loomline/voicecore/internal/plugins"
	"github.com/loomline/voicecore/internal/session"
	"github.com/loomline/voicecore/internal/speaker"
	"github.com/loomline/voicecore/internal/stt"
	"github.com/loomline/voicecore/pkg/Logger"
)

// Handlers groups every Post-Conversation Chain stage (§4.9) plus the
// standalone Transcription-Fallback Job. Chain-stage failures call
// MarkFailed and swallow the error rather than returning it to asynq:
// DependencyTracker has already cancelled dependants, and asynq's own
// retry would just race a second cascade-cancel against the same job id.
// The Transcription-Fallback Job has no dependants and returns its errors
// to asynq.
type Handlers struct {
	repo       conversation.Repository
	store      *session.Store
	fabric     *audiofabric.Fabric
	tracker    *jobqueue.DependencyTracker
	batchSTT   stt.BatchProvider
	speakerSvc speaker.Client
	llmModel   llm.Provider
	router     *plugins.Router
	cfg        config.PostChainConfig
	logger     *Logger.Logger
}

func NewHandlers(repo conversation.Repository, store *session.Store, fabric *audiofabric.Fabric, tracker *jobqueue.DependencyTracker,
	batchSTT stt.BatchProvider, speakerSvc speaker.Client, llmModel llm.Provider, router *plugins.Router,
	cfg config.PostChainConfig, logger *Logger.Logger) *Handlers {
	return &Handlers{
		repo: repo, store: store, fabric: fabric, tracker: tracker, batchSTT: batchSTT,
		speakerSvc: speakerSvc, llmModel: llmModel, router: router, cfg: cfg, logger: logger,
	}
}

func conversationIDFrom(p jobqueue.Payload) (uuid.UUID, error) {
	return uuid.Parse(p.ArgString("conversation_id"))
}

// reconstructWAV decodes every stored audio chunk back into one
// contiguous PCM buffer and wraps it as a WAV file, mirroring the
// decode-then-encode round trip internal/stt.EncodeWAV exists for.
func reconstructWAV(chunks []conversation.AudioChunk) ([]byte, int, int, error) {
	if len(chunks) == 0 {
		return nil, 0, 0, fmt.Errorf("no audio chunks to reconstruct")
	}
	sampleRate := chunks[0].SampleRate
	channels := chunks[0].Channels
	sampleWidth := chunks[0].SampleWidth

	var pcm []byte
	for _, c := range chunks {
		decoded, err := audiocodec.DecodePackets(c.AudioData, c.SampleRate, c.Channels)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("decoding chunk %d: %w", c.ChunkIndex, err)
		}
		pcm = append(pcm, decoded...)
	}
	wav, err := stt.EncodeWAV(pcm, sampleRate, channels, sampleWidth)
	if err != nil {
		return nil, 0, 0, err
	}
	return wav, sampleRate, channels, nil
}

// HandleBatchRetranscribe implements §4.9's batch_retranscribe stage.
func (h *Handlers) HandleBatchRetranscribe(ctx context.Context, p jobqueue.Payload) error {
	convID, err := conversationIDFrom(p)
	if err != nil {
		return h.fail(ctx, p.JobID, err)
	}
	conv, err := h.repo.Get(ctx, convID)
	if err != nil {
		return h.fail(ctx, p.JobID, err)
	}

	chunks, err := h.repo.ListAudioChunks(ctx, convID)
	if err != nil {
		return h.fail(ctx, p.JobID, err)
	}
	if len(chunks) == 0 {
		conv.Deleted = true
		conv.DeletedReason = "audio_chunks_not_ready"
		_ = h.repo.Update(ctx, conv)
		return h.fail(ctx, p.JobID, fmt.Errorf("no audio chunks for conversation %s", convID))
	}

	wav, sampleRate, channels, err := reconstructWAV(chunks)
	if err != nil {
		return h.fail(ctx, p.JobID, err)
	}

	_ = h.tracker.SetMeta(ctx, p.JobID, map[string]interface{}{"current": 0, "total": 1, "percent": 0.0, "message": "transcribing"})

	result, err := h.batchSTT.Transcribe(ctx, wav, sampleRate, channels)
	if err != nil {
		return h.fail(ctx, p.JobID, err)
	}

	if strings.TrimSpace(result.Text) == "" {
		conv.Deleted = true
		conv.DeletedReason = "no_meaningful_speech"
		_ = h.repo.Update(ctx, conv)
		return h.fail(ctx, p.JobID, fmt.Errorf("batch retranscription found no meaningful speech"))
	}

	version := conversation.TranscriptVersion{
		VersionID:         "batch_" + shortID(convID),
		Transcript:        result.Text,
		Words:             result.Words,
		Segments:          result.Segments,
		Provider:          h.batchSTT.Name(),
		Model:             result.Language,
		DiarizationSource: conversation.DiarizationProvider,
	}
	conv.SetActiveTranscript(version)
	conv.ProcessingStatus = conversation.StatusBatchTranscription
	if err := h.repo.Update(ctx, conv); err != nil {
		return h.fail(ctx, p.JobID, err)
	}

	_ = h.tracker.SetMeta(ctx, p.JobID, map[string]interface{}{"current": 1, "total": 1, "percent": 100.0, "message": "done"})
	return h.finish(ctx, p.JobID)
}

// HandleSpeakerRecognition implements §4.9's speaker_recognition stage.
func (h *Handlers) HandleSpeakerRecognition(ctx context.Context, p jobqueue.Payload) error {
	convID, err := conversationIDFrom(p)
	if err != nil {
		return h.fail(ctx, p.JobID, err)
	}
	conv, err := h.repo.Get(ctx, convID)
	if err != nil {
		return h.fail(ctx, p.JobID, err)
	}
	active := conv.ActiveTranscript()
	if active == nil {
		return h.fail(ctx, p.JobID, fmt.Errorf("conversation %s has no active transcript", convID))
	}

	chunks, err := h.repo.ListAudioChunks(ctx, convID)
	if err != nil {
		return h.fail(ctx, p.JobID, err)
	}
	if len(chunks) == 0 || h.speakerSvc == nil {
		return h.finish(ctx, p.JobID)
	}

	wav, sampleRate, channels, err := reconstructWAV(chunks)
	if err != nil {
		return h.fail(ctx, p.JobID, err)
	}

	threshold := h.cfg.SpeakerLongAudioThreshold
	if threshold <= 0 {
		threshold = 1500
	}
	totalSeconds := conv.AudioTotalDuration
	windows := speaker.PlanWindows(totalSeconds, h.cfg.SpeakerWindowSeconds, h.cfg.SpeakerOverlapSeconds)
	if totalSeconds <= float64(threshold) {
		windows = []speaker.Window{{StartSeconds: 0, EndSeconds: totalSeconds}}
	}

	bytesPerSecond := sampleRate * channels * 2
	results := make([]speaker.IdentifyResult, 0, len(windows))
	for _, w := range windows {
		start := int(w.StartSeconds) * bytesPerSecond
		end := int(w.EndSeconds) * bytesPerSecond
		if end > len(wav) {
			end = len(wav)
		}
		if start >= end {
			continue
		}
		windowWAV, err := stt.EncodeWAV(wav[start:end], sampleRate, channels, 2)
		if err != nil {
			return h.fail(ctx, p.JobID, err)
		}
		res, err := h.speakerSvc.Identify(ctx, windowWAV, sampleRate, channels)
		if err != nil {
			return h.fail(ctx, p.JobID, fmt.Errorf("speaker service: %w", err))
		}
		results = append(results, res)
	}

	merged := speaker.MergeResults(results)
	if len(merged.Segments) > 0 {
		active.Segments = merged.Segments
		active.DiarizationSource = conversation.DiarizationSpeakerService
		conv.SetActiveTranscript(*active)
	}
	if err := h.repo.Update(ctx, conv); err != nil {
		return h.fail(ctx, p.JobID, err)
	}
	_ = h.tracker.SetMeta(ctx, p.JobID, map[string]interface{}{"speakers": merged.Speakers})
	return h.finish(ctx, p.JobID)
}

// HandleMemoryExtraction implements §4.9's memory_extraction stage — a
// pure consumer of the final transcript, out of core scope beyond
// calling the contract and recording its output in job meta.
func (h *Handlers) HandleMemoryExtraction(ctx context.Context, p jobqueue.Payload) error {
	convID, err := conversationIDFrom(p)
	if err != nil {
		return h.fail(ctx, p.JobID, err)
	}
	conv, err := h.repo.Get(ctx, convID)
	if err != nil {
		return h.fail(ctx, p.JobID, err)
	}
	active := conv.ActiveTranscript()
	if active == nil || h.llmModel == nil {
		return h.finish(ctx, p.JobID)
	}

	extraction, err := h.llmModel.ExtractMemory(ctx, active.Transcript, segmentTexts(active.Segments))
	if err != nil {
		h.logger.Errorf("postchain: memory extraction for %s: %v", convID, err)
		return h.finish(ctx, p.JobID)
	}
	_ = h.tracker.SetMeta(ctx, p.JobID, map[string]interface{}{"facts": extraction.Facts, "entities": extraction.Entities})
	return h.finish(ctx, p.JobID)
}

// HandleTitleSummary implements §4.9's title_summary stage.
func (h *Handlers) HandleTitleSummary(ctx context.Context, p jobqueue.Payload) error {
	convID, err := conversationIDFrom(p)
	if err != nil {
		return h.fail(ctx, p.JobID, err)
	}
	conv, err := h.repo.Get(ctx, convID)
	if err != nil {
		return h.fail(ctx, p.JobID, err)
	}
	active := conv.ActiveTranscript()
	if active == nil || h.llmModel == nil {
		conv.ProcessingStatus = conversation.StatusCompleted
		_ = h.repo.Update(ctx, conv)
		return h.finish(ctx, p.JobID)
	}

	summary, err := h.llmModel.Summarize(ctx, active.Transcript, segmentTexts(active.Segments), "")
	if err != nil {
		conv.ProcessingStatus = conversation.StatusTranscriptionFailed
		_ = h.repo.Update(ctx, conv)
		return h.fail(ctx, p.JobID, err)
	}

	conv.Title = summary.Title
	conv.Summary = summary.Summary
	conv.DetailedSummary = summary.DetailedSummary
	conv.ProcessingStatus = conversation.StatusCompleted
	if err := h.repo.Update(ctx, conv); err != nil {
		return h.fail(ctx, p.JobID, err)
	}
	return h.finish(ctx, p.JobID)
}

// HandleEventDispatch implements §4.9's event_dispatch stage: ensures
// conversation.complete reaches plugins exactly once, whichever path
// (streaming or file-upload) produced the conversation.
func (h *Handlers) HandleEventDispatch(ctx context.Context, p jobqueue.Payload) error {
	convID, err := conversationIDFrom(p)
	if err != nil {
		return h.fail(ctx, p.JobID, err)
	}
	conv, err := h.repo.Get(ctx, convID)
	if err != nil {
		return h.fail(ctx, p.JobID, err)
	}

	if h.router != nil {
		_, _ = h.router.Dispatch(ctx, plugins.EventConversationComplete, p.ArgString("user_id"), map[string]interface{}{
			"conversation_id": convID.String(),
			"end_reason":      conv.EndReason,
			"title":           conv.Title,
			"summary":         conv.Summary,
		}, nil)
	}
	return h.finish(ctx, p.JobID)
}

// HandleTranscriptionFallback implements the Transcription-Fallback Job
// (§4.9, last paragraph): a standalone job enqueued by Speech-Detection
// when the streaming path produced nothing.
func (h *Handlers) HandleTranscriptionFallback(ctx context.Context, p jobqueue.Payload) error {
	sessionID := p.ArgString("session_id")

	conversationID, err := h.store.GetCurrentConversation(ctx, sessionID)
	if err != nil || conversationID == "" {
		h.logger.Infof("transcription-fallback: session %s has no placeholder conversation, skipping (reason=no_audio)", sessionID)
		return nil
	}
	convID, err := uuid.Parse(conversationID)
	if err != nil {
		return nil
	}
	chunks, err := h.repo.ListAudioChunks(ctx, convID)
	if err != nil {
		return fmt.Errorf("listing fallback audio chunks for %s: %w", conversationID, err)
	}
	if len(chunks) == 0 {
		if n, err := h.fabric.AudioStreamLength(ctx, p.ArgString("client_id")); err == nil && n > 0 {
			// The Audio Persistence Worker hasn't caught up with the
			// client's stream yet — audio exists, it's just not in the
			// database yet (§4.9). Retry rather than mark as no_audio.
			return fmt.Errorf("transcription-fallback: conversation %s has %d unpersisted audio entries still on the stream", conversationID, n)
		}
		h.logger.Infof("transcription-fallback: conversation %s has no audio chunks, skipping (reason=no_audio)", conversationID)
		return nil
	}

	conv, err := h.repo.Get(ctx, convID)
	if err != nil {
		return fmt.Errorf("loading fallback conversation %s: %w", conversationID, err)
	}

	wav, sampleRate, channels, err := reconstructWAV(chunks)
	if err != nil {
		return fmt.Errorf("reconstructing fallback audio: %w", err)
	}
	result, err := h.batchSTT.Transcribe(ctx, wav, sampleRate, channels)
	if err != nil {
		return fmt.Errorf("fallback batch transcription: %w", err)
	}

	version := conversation.TranscriptVersion{
		VersionID:         "batch_" + shortID(convID),
		Transcript:        result.Text,
		Words:             result.Words,
		Segments:          result.Segments,
		Provider:          h.batchSTT.Name(),
		DiarizationSource: conversation.DiarizationProvider,
	}
	conv.SetActiveTranscript(version)
	conv.ProcessingStatus = conversation.StatusBatchTranscription
	if err := h.repo.Update(ctx, conv); err != nil {
		return fmt.Errorf("persisting fallback transcript: %w", err)
	}

	if _, err := EnqueueChain(ctx, h.tracker, h.cfg, ChainArgs{
		ConversationID: conversationID,
		SessionID:      sessionID,
		UserID:         p.ArgString("user_id"),
		ClientID:       p.ArgString("client_id"),
	}); err != nil {
		return fmt.Errorf("enqueueing post-conversation chain from fallback: %w", err)
	}
	return nil
}

func (h *Handlers) finish(ctx context.Context, jobID string) error {
	if err := h.tracker.MarkFinished(ctx, jobID); err != nil {
		h.logger.Errorf("postchain: marking %s finished: %v", jobID, err)
	}
	return nil
}

func (h *Handlers) fail(ctx context.Context, jobID string, cause error) error {
	h.logger.Errorf("postchain: job %s failed: %v", jobID, cause)
	if err := h.tracker.MarkFailed(ctx, jobID); err != nil {
		h.logger.Errorf("postchain: marking %s failed: %v", jobID, err)
	}
	return nil
}

func segmentTexts(segments []conversation.Segment) []string {
	out := make([]string, 0, len(segments))
	for _, s := range segments {
		out = append(out, s.Text)
	}
	return out
}

func shortID(id uuid.UUID) string {
	s := id.String()
	if len(s) < 8 {
		return s
	}
	return s[:8]
}
