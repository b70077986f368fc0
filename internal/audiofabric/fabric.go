package audiofabric

import (
	"context"
	"fmt"
	"time"

	"github.com/loomline/voicecore/internal/session"
	"github.com/redis/go-redis/v9"
)

// EndSentinelChunkID marks end-of-session on the audio stream (§4.2).
const EndSentinelChunkID = "END"

// AudioEntry is one append-only audio-stream entry (§4.2 #1).
type AudioEntry struct {
	SessionID   string
	ChunkID     string // zero-padded monotonic, or EndSentinelChunkID
	Data        []byte
	SampleRate  int
	Channels    int
	SampleWidth int
	UserID      string
	ClientID    string
}

// ResultEntry is one append-only results-stream entry (§4.2 #2).
type ResultEntry struct {
	ChunkIndex string
	Text       string
	Words      []byte // JSON-encoded
	Segments   []byte // JSON-encoded
	Provider   string
	IsFinal    bool
}

// Fabric is the C2 Audio Stream Fabric: two Redis Streams per session
// (audio in, transcription results out) plus the interim pub/sub topic.
// Built directly on redis/go-redis/v9's stream API — no teacher file
// uses streams, so the command shape here follows the library's
// documented XAdd/XReadGroup/XAck contract.
type Fabric struct {
	rc                  *redis.Client
	disconnectTTL       time.Duration
}

func New(rc *redis.Client, disconnectTTL time.Duration) *Fabric {
	if disconnectTTL <= 0 {
		disconnectTTL = 60 * time.Second
	}
	return &Fabric{rc: rc, disconnectTTL: disconnectTTL}
}

// PublishAudio appends one entry to the audio stream (§4.2 #1). The
// gateway is the only writer; it must never block on a slow consumer —
// XAdd returns immediately once the entry lands, regardless of how many
// consumer groups still have to read it.
func (f *Fabric) PublishAudio(ctx context.Context, clientID string, entry AudioEntry) error {
	_, err := f.rc.XAdd(ctx, &redis.XAddArgs{
		Stream: session.AudioStreamKey(clientID),
		Values: map[string]interface{}{
			"session_id":   entry.SessionID,
			"chunk_id":     entry.ChunkID,
			"data":         entry.Data,
			"sample_rate":  entry.SampleRate,
			"channels":     entry.Channels,
			"sample_width": entry.SampleWidth,
			"user_id":      entry.UserID,
			"client_id":    entry.ClientID,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publishing audio entry: %w", err)
	}
	return nil
}

// PublishEndSentinel marks end-of-session on the audio stream.
func (f *Fabric) PublishEndSentinel(ctx context.Context, clientID, sessionID string) error {
	return f.PublishAudio(ctx, clientID, AudioEntry{SessionID: sessionID, ChunkID: EndSentinelChunkID})
}

// ExpireAudioStream applies the disconnect-retention TTL (§4.2 Retention)
// so still-attached consumers can drain before the stream disappears.
func (f *Fabric) ExpireAudioStream(ctx context.Context, clientID string) error {
	return f.rc.Expire(ctx, session.AudioStreamKey(clientID), f.disconnectTTL).Err()
}

// AudioStreamLength reports how many entries are still on clientID's
// audio stream — used by the Transcription-Fallback Job to tell "no
// audio was ever recorded" apart from "audio is still sitting in the
// stream, unprocessed" (§4.9).
func (f *Fabric) AudioStreamLength(ctx context.Context, clientID string) (int64, error) {
	n, err := f.rc.XLen(ctx, session.AudioStreamKey(clientID)).Result()
	if err != nil {
		return 0, fmt.Errorf("reading audio stream length: %w", err)
	}
	return n, nil
}

// EnsureConsumerGroup lazily creates a consumer group on the audio
// stream, tolerating BUSYGROUP (already exists). start is "$" for a
// fresh attach or "0" to replay from the beginning for redelivery
// recovery (§4.2 Fan-out).
func (f *Fabric) EnsureConsumerGroup(ctx context.Context, clientID, group, start string) error {
	err := f.rc.XGroupCreateMkStream(ctx, session.AudioStreamKey(clientID), group, start).Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("creating consumer group %s: %w", group, err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// ReadAudio reads up to count pending/new entries for a consumer group
// (used independently by C5 and C6 — §4.2 Fan-out: neither sees the
// other's acknowledgements).
func (f *Fabric) ReadAudio(ctx context.Context, clientID, group, consumer string, count int64, block time.Duration) ([]redis.XStream, error) {
	res, err := f.rc.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{session.AudioStreamKey(clientID), ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("reading audio stream: %w", err)
	}
	return res, nil
}

// AckAudio acknowledges processed entries (at-least-once delivery;
// idempotency is by chunk_id per §4.2).
func (f *Fabric) AckAudio(ctx context.Context, clientID, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return f.rc.XAck(ctx, session.AudioStreamKey(clientID), group, ids...).Err()
}

// PublishResult appends one entry to the results stream (§4.2 #2).
func (f *Fabric) PublishResult(ctx context.Context, sessionID string, entry ResultEntry) error {
	_, err := f.rc.XAdd(ctx, &redis.XAddArgs{
		Stream: session.ResultsStreamKey(sessionID),
		Values: map[string]interface{}{
			"chunk_index": entry.ChunkIndex,
			"text":        entry.Text,
			"words":       entry.Words,
			"segments":    entry.Segments,
			"provider":    entry.Provider,
			"is_final":    entry.IsFinal,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publishing result entry: %w", err)
	}
	return nil
}

// ReadResults reads the full results stream (monitor + speech-detection
// only read — single reader per consumer, no consumer group needed).
func (f *Fabric) ReadResults(ctx context.Context, sessionID string) ([]redis.XMessage, error) {
	msgs, err := f.rc.XRange(ctx, session.ResultsStreamKey(sessionID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("reading results stream: %w", err)
	}
	return msgs, nil
}

// DeleteResultsStream removes the results stream at end-of-conversation
// (§4.8.6 step 1) — the audio stream is never deleted here, it belongs
// to the client.
func (f *Fabric) DeleteResultsStream(ctx context.Context, sessionID string) error {
	return f.rc.Del(ctx, session.ResultsStreamKey(sessionID)).Err()
}

// PublishInterim forwards a result to the WS-facing pub/sub topic.
func (f *Fabric) PublishInterim(ctx context.Context, sessionID string, payload []byte) error {
	return f.rc.Publish(ctx, session.InterimTopicKey(sessionID), payload).Err()
}

// SubscribeInterim returns a subscription the gateway forwards to the
// client as {type: "interim_transcript", data: …} messages (§4.4.1).
func (f *Fabric) SubscribeInterim(ctx context.Context, sessionID string) *redis.PubSub {
	return f.rc.Subscribe(ctx, session.InterimTopicKey(sessionID))
}
