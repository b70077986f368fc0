// Package persistence implements the Audio Persistence Worker (C5,
// §4.5): one long-running job per session that tails the audio stream
// through its own consumer group and writes fixed-duration compressed
// chunks to the conversation repository. The accumulate-until-threshold
// buffering reuses the teacher's pkg/io/stt/audioRing ring buffer
// directly (smallnest/ringbuffer) rather than a plain byte slice, since
// this worker's input is the Redis Stream fabric rather than the
// gateway's in-process channel.
package persistence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/loomline/voicecore/internal/audiofabric"
	"github.com/loomline/voicecore/internal/config"
	"github.com/loomline/voicecore/internal/conversation"
	"github.com/loomline/voicecore/internal/jobqueue"
	"github.com/loomline/voicecore/internal/session"
	"github.com/loomline/voicecore/pkg/Logger"
	"github.com/redis/go-redis/v9"
	"github.com/smallnest/ringbuffer"
)

const consumerGroup = "persistence"

// ringCapacity bounds one session's pre-flush PCM accumulator. At
// 48kHz/stereo/16-bit that's well over a minute of audio, far above any
// sane ChunkDurationSeconds setting, so Write should never see Free()
// run out in practice.
const ringCapacity = 16 << 20

// Worker is the C5 handler registered against jobqueue.JobAudioPersistence.
type Worker struct {
	fabric *audiofabric.Fabric
	store  *session.Store
	repo   conversation.Repository
	logger *Logger.Logger
	cfg    config.PersistenceConfig
}

func New(fabric *audiofabric.Fabric, store *session.Store, repo conversation.Repository, logger *Logger.Logger, cfg config.PersistenceConfig) *Worker {
	return &Worker{fabric: fabric, store: store, repo: repo, logger: logger, cfg: cfg}
}

// chunkState is the accumulator for one session's output chunk stream.
// conversationID and chunkIndex rotate whenever conversation:current
// changes, per §4.5 "Conversation rotation".
type chunkState struct {
	conversationID string
	chunkIndex     int
	elapsedSeconds float64

	sampleRate  int
	channels    int
	sampleWidth int

	rb      *ringbuffer.RingBuffer
	encoder *opusEncoder
}

func (s *chunkState) ring() *ringbuffer.RingBuffer {
	if s.rb == nil {
		s.rb = ringbuffer.New(ringCapacity).SetBlocking(false)
	}
	return s.rb
}

func (w *Worker) Handle(ctx context.Context, p jobqueue.Payload) error {
	sessionID := p.ArgString("session_id")
	clientID := p.ArgString("client_id")
	userID := p.ArgString("user_id")
	alwaysPersist := p.ArgBool("always_persist")

	timeout := w.cfg.Timeout
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := w.fabric.EnsureConsumerGroup(ctx, clientID, consumerGroup, "0"); err != nil {
		return fmt.Errorf("attaching persistence consumer group: %w", err)
	}

	state := &chunkState{}
	if alwaysPersist {
		if err := w.ensurePlaceholder(ctx, sessionID, userID, clientID); err != nil {
			w.logger.Errorf("persistence: creating placeholder conversation for session %s: %v", sessionID, err)
		}
	}

	consumer := "persistence-" + sessionID
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := w.fabric.ReadAudio(ctx, clientID, consumerGroup, consumer, 50, 5*time.Second)
		if err != nil {
			return fmt.Errorf("reading audio stream: %w", err)
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				chunkID, _ := msg.Values["chunk_id"].(string)
				if chunkID == audiofabric.EndSentinelChunkID {
					if err := w.flush(ctx, sessionID, state, true); err != nil {
						w.logger.Errorf("persistence: final flush for session %s: %v", sessionID, err)
					}
					_ = w.fabric.AckAudio(ctx, clientID, consumerGroup, msg.ID)
					return nil
				}

				w.ingest(msg, state)
				if err := w.maybeFlush(ctx, sessionID, state); err != nil {
					w.logger.Errorf("persistence: flush for session %s: %v", sessionID, err)
				}
				_ = w.fabric.AckAudio(ctx, clientID, consumerGroup, msg.ID)
			}
		}
	}
}

func (w *Worker) ensurePlaceholder(ctx context.Context, sessionID, userID, clientID string) error {
	existing, err := w.store.GetCurrentConversation(ctx, sessionID)
	if err != nil {
		return err
	}
	if existing != "" {
		return nil
	}

	uid, _ := uuid.Parse(userID)
	conv := &conversation.Conversation{
		ConversationID:   uuid.New(),
		UserID:           uid,
		ClientID:         clientID,
		Title:            "Recording…",
		ProcessingStatus: conversation.StatusPendingTranscription,
		AlwaysPersist:    true,
		CreatedAt:        time.Now(),
	}
	if err := w.repo.Create(ctx, conv); err != nil {
		return fmt.Errorf("creating placeholder conversation: %w", err)
	}
	return w.store.SetCurrentConversation(ctx, sessionID, conv.ConversationID.String(), 24*time.Hour)
}

// ingest appends one audio-stream entry's PCM payload onto the
// accumulator, picking up the format fields on the first message since
// they are fixed for the life of the session (§4.4.1 negotiation).
func (w *Worker) ingest(msg redis.XMessage, state *chunkState) {
	data, _ := msg.Values["data"].(string)
	if data == "" {
		return
	}
	if state.sampleRate == 0 {
		state.sampleRate = parseIntField(msg.Values["sample_rate"])
		state.channels = parseIntField(msg.Values["channels"])
		state.sampleWidth = parseIntField(msg.Values["sample_width"])
	}
	if _, err := state.ring().Write([]byte(data)); err != nil {
		w.logger.Errorf("persistence: ring buffer write: %v", err)
	}
}

func (w *Worker) maybeFlush(ctx context.Context, sessionID string, state *chunkState) error {
	if state.sampleRate == 0 {
		return nil
	}
	bytesPerSecond := state.sampleRate * state.channels * state.sampleWidth
	if bytesPerSecond == 0 {
		return nil
	}
	threshold := w.cfg.ChunkDurationSeconds
	if threshold <= 0 {
		threshold = 30
	}
	if float64(state.ring().Length()) >= threshold*float64(bytesPerSecond) {
		return w.flush(ctx, sessionID, state, false)
	}
	return nil
}

func (w *Worker) flush(ctx context.Context, sessionID string, state *chunkState, final bool) error {
	currentConvID, err := w.store.GetCurrentConversation(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("reading current conversation: %w", err)
	}
	if currentConvID == "" {
		return nil // no conversation open yet; keep buffering
	}
	if currentConvID != state.conversationID {
		state.conversationID = currentConvID
		state.chunkIndex = 0
	}
	rb := state.ring()
	if rb.IsEmpty() {
		return nil
	}

	pcm := make([]byte, rb.Length())
	if _, err := rb.Read(pcm); err != nil {
		return fmt.Errorf("draining ring buffer: %w", err)
	}

	bytesPerSecond := state.sampleRate * state.channels * state.sampleWidth
	duration := float64(len(pcm)) / float64(bytesPerSecond)

	compressed, err := w.compress(state, pcm, final)
	if err != nil {
		return fmt.Errorf("compressing chunk: %w", err)
	}

	convID, err := uuid.Parse(state.conversationID)
	if err != nil {
		return fmt.Errorf("parsing conversation id: %w", err)
	}

	chunk := conversation.AudioChunk{
		ConversationID: convID,
		ChunkIndex:     state.chunkIndex,
		StartTime:      state.elapsedSeconds,
		EndTime:        state.elapsedSeconds + duration,
		Duration:       duration,
		SampleRate:     state.sampleRate,
		Channels:       state.channels,
		SampleWidth:    state.sampleWidth,
		AudioData:      compressed,
	}
	if err := w.repo.AppendAudioChunk(ctx, chunk); err != nil {
		return fmt.Errorf("appending audio chunk: %w", err)
	}

	state.elapsedSeconds += duration
	state.chunkIndex++
	return nil
}

// compress encodes PCM into a sequence of length-prefixed Opus packets.
// A leftover partial frame at the end is zero-padded only when final is
// true (session ending); otherwise it is dropped, since flush has already
// drained the ring buffer, so a mid-stream flush loses at most one 20 ms
// frame.
func (w *Worker) compress(state *chunkState, pcm []byte, final bool) ([]byte, error) {
	if state.encoder == nil {
		enc, err := newOpusEncoder(state.sampleRate, state.channels)
		if err != nil {
			return nil, err
		}
		state.encoder = enc
	}
	return state.encoder.encodePCM(pcm, final)
}

func appendLengthPrefixed(dst, packet []byte) []byte {
	n := len(packet)
	dst = append(dst, byte(n), byte(n>>8))
	return append(dst, packet...)
}

func parseIntField(v interface{}) int {
	s, _ := v.(string)
	n, _ := strconv.Atoi(s)
	return n
}

// EncodeBatchChunks splits one accumulated batch-mode PCM buffer into
// chunkDurationSeconds-long conversation.AudioChunk rows for convID,
// using the same Opus encoder flush uses for streaming audio so both
// ingestion paths persist chunks in an identical on-disk format (§4.4.2,
// §4.5). Exported for the gateway's batch-rotation flush, the only
// caller outside this worker.
func EncodeBatchChunks(convID uuid.UUID, pcm []byte, sampleRate, channels, sampleWidth int, chunkDurationSeconds float64) ([]conversation.AudioChunk, error) {
	if sampleRate <= 0 || channels <= 0 || sampleWidth <= 0 || len(pcm) == 0 {
		return nil, nil
	}
	bytesPerSecond := sampleRate * channels * sampleWidth
	if chunkDurationSeconds <= 0 {
		chunkDurationSeconds = 30
	}
	chunkBytes := int(chunkDurationSeconds * float64(bytesPerSecond))
	if chunkBytes <= 0 {
		chunkBytes = len(pcm)
	}

	enc, err := newOpusEncoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("creating batch opus encoder: %w", err)
	}

	var chunks []conversation.AudioChunk
	elapsed := 0.0
	for offset := 0; offset < len(pcm); offset += chunkBytes {
		end := offset + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		slice := pcm[offset:end]
		compressed, err := enc.encodePCM(slice, end == len(pcm))
		if err != nil {
			return nil, fmt.Errorf("encoding batch chunk: %w", err)
		}

		duration := float64(len(slice)) / float64(bytesPerSecond)
		chunks = append(chunks, conversation.AudioChunk{
			ConversationID: convID,
			ChunkIndex:     len(chunks),
			StartTime:      elapsed,
			EndTime:        elapsed + duration,
			Duration:       duration,
			SampleRate:     sampleRate,
			Channels:       channels,
			SampleWidth:    sampleWidth,
			AudioData:      compressed,
		})
		elapsed += duration
	}
	return chunks, nil
}
