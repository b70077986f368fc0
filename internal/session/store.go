package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionGone is returned when a session hash no longer exists.
// Writers must treat this as "session gone" and exit their loop rather
// than recreate it (§4.1 failure model).
var ErrSessionGone = errors.New("session gone")

// Store is the C1 Session Store: atomic create/read/write over a Redis
// hash per session, plus the handful of auxiliary signal keys in §6.3.
// Each write is a single Redis command (HSET, HSETNX, HINCRBY) or, in
// ConsumeCloseRequested, one MULTI/EXEC transaction. SetField's
// session-gone check is a separate EXISTS issued before its HSET.
type Store struct {
	rc *redis.Client
}

func NewStore(rc *redis.Client) *Store {
	return &Store{rc: rc}
}

// Create initializes a session record. Safe to call more than once for
// the same id (fields are simply overwritten), matching the "any
// operation must be safe to repeat" contract.
func (s *Store) Create(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	fields := map[string]interface{}{
		"session_id":           rec.SessionID,
		"user_id":              rec.UserID,
		"client_id":            rec.ClientID,
		"user_email":           rec.UserEmail,
		"mode":                 string(rec.Mode),
		"provider":             rec.Provider,
		"status":               string(rec.Status),
		"websocket_connected":  rec.WebSocketConnected,
		"chunks_published":     rec.ChunksPublished,
		"always_persist":       rec.AlwaysPersist,
		"audio_rate":           rec.AudioRate,
		"audio_width":          rec.AudioWidth,
		"audio_channels":       rec.AudioChannels,
		"created_at":           rec.CreatedAt.Format(time.RFC3339Nano),
	}
	return s.rc.HSet(ctx, SessionKey(rec.SessionID), fields).Err()
}

// Exists reports whether a session hash is still present.
func (s *Store) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.rc.Exists(ctx, SessionKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking session existence: %w", err)
	}
	return n > 0, nil
}

// GetField reads a single field, returning "" if unset.
func (s *Store) GetField(ctx context.Context, sessionID, field string) (string, error) {
	v, err := s.rc.HGet(ctx, SessionKey(sessionID), field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading session field %s: %w", field, err)
	}
	return v, nil
}

// SetField atomically overwrites a single field.
func (s *Store) SetField(ctx context.Context, sessionID, field string, value interface{}) error {
	exists, err := s.Exists(ctx, sessionID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrSessionGone
	}
	return s.rc.HSet(ctx, SessionKey(sessionID), field, value).Err()
}

// SetIfUnset sets field only if it is not already present, via HSETNX.
// Returns true if the field was set by this call.
func (s *Store) SetIfUnset(ctx context.Context, sessionID, field string, value interface{}) (bool, error) {
	ok, err := s.rc.HSetNX(ctx, SessionKey(sessionID), field, value).Result()
	if err != nil {
		return false, fmt.Errorf("setting session field %s if unset: %w", field, err)
	}
	return ok, nil
}

// IncrField atomically increments an integer field (chunks_published,
// etc) and returns the new value.
func (s *Store) IncrField(ctx context.Context, sessionID, field string, delta int64) (int64, error) {
	n, err := s.rc.HIncrBy(ctx, SessionKey(sessionID), field, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing session field %s: %w", field, err)
	}
	return n, nil
}

// GetAll loads the full hash into a Record. Returns ErrSessionGone if the
// hash does not exist.
func (s *Store) GetAll(ctx context.Context, sessionID string) (*Record, error) {
	raw, err := s.rc.HGetAll(ctx, SessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading session hash: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrSessionGone
	}

	rec := &Record{
		SessionID:                  raw["session_id"],
		UserID:                     raw["user_id"],
		ClientID:                   raw["client_id"],
		UserEmail:                  raw["user_email"],
		Mode:                       Mode(raw["mode"]),
		Provider:                   raw["provider"],
		Status:                     Status(raw["status"]),
		CompletionReason:           raw["completion_reason"],
		WebSocketConnected:         raw["websocket_connected"] == "1" || raw["websocket_connected"] == "true",
		SpeechDetectionJobID:       raw["speech_detection_job_id"],
		PersistenceJobID:           raw["persistence_job_id"],
		TranscriptionError:         raw["transcription_error"],
		ConversationCloseRequested: raw["conversation_close_requested"],
		AlwaysPersist:              raw["always_persist"] == "1" || raw["always_persist"] == "true",
	}
	if v, ok := raw["chunks_published"]; ok {
		fmt.Sscanf(v, "%d", &rec.ChunksPublished)
	}
	if v, ok := raw["audio_rate"]; ok {
		fmt.Sscanf(v, "%d", &rec.AudioRate)
	}
	if v, ok := raw["audio_width"]; ok {
		fmt.Sscanf(v, "%d", &rec.AudioWidth)
	}
	if v, ok := raw["audio_channels"]; ok {
		fmt.Sscanf(v, "%d", &rec.AudioChannels)
	}
	if v, ok := raw["created_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.CreatedAt = t
		}
	}

	return rec, nil
}

// Expire applies a TTL to the session hash (1h after conversation close,
// per §4.8.6).
func (s *Store) Expire(ctx context.Context, sessionID string, ttl time.Duration) error {
	return s.rc.Expire(ctx, SessionKey(sessionID), ttl).Err()
}

// ConsumeCloseRequested reads and clears conversation_close_requested in
// one MULTI/EXEC transaction, resolving the Open Question about the stale-flag race
// (§9, SPEC_FULL "Open Question resolutions" #1): both the monitor and
// the speech-detection loop must read-then-clear, never clear separately
// from the read, so a racing plugin call can't reassert the flag between
// the two steps.
func (s *Store) ConsumeCloseRequested(ctx context.Context, sessionID string) (string, error) {
	key := SessionKey(sessionID)
	var get *redis.StringCmd
	_, err := s.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.HGet(ctx, key, "conversation_close_requested")
		pipe.HDel(ctx, key, "conversation_close_requested")
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading and clearing close-requested flag: %w", err)
	}
	return get.Val(), nil
}

// AddMarker appends a marker to the session's pending-marker list
// (button presses, etc) ahead of conversation attachment (§4.8.1).
func (s *Store) AddMarker(ctx context.Context, sessionID string, marker interface{}) error {
	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("marshalling marker: %w", err)
	}
	return s.rc.RPush(ctx, markersKey(sessionID), data).Err()
}

// DrainMarkers returns and clears all pending markers for a session.
func (s *Store) DrainMarkers(ctx context.Context, sessionID string) ([]string, error) {
	key := markersKey(sessionID)
	vals, err := s.rc.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading markers: %w", err)
	}
	if err := s.rc.Del(ctx, key).Err(); err != nil {
		return nil, fmt.Errorf("clearing markers: %w", err)
	}
	return vals, nil
}

func markersKey(sessionID string) string {
	return fmt.Sprintf("%s:markers", SessionKey(sessionID))
}

// SetCurrentConversation writes the rotation signal the Audio Persistence
// Worker polls before writing each chunk (§4.5, §6.3).
func (s *Store) SetCurrentConversation(ctx context.Context, sessionID, conversationID string, ttl time.Duration) error {
	return s.rc.Set(ctx, CurrentConversationKey(sessionID), conversationID, ttl).Err()
}

func (s *Store) GetCurrentConversation(ctx context.Context, sessionID string) (string, error) {
	v, err := s.rc.Get(ctx, CurrentConversationKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading current conversation: %w", err)
	}
	return v, nil
}

func (s *Store) ClearCurrentConversation(ctx context.Context, sessionID string) error {
	return s.rc.Del(ctx, CurrentConversationKey(sessionID)).Err()
}

// SetOpenConversationJob records the active monitor job id (§4.7 step 7).
func (s *Store) SetOpenConversationJob(ctx context.Context, sessionID, jobID string, ttl time.Duration) error {
	return s.rc.Set(ctx, OpenConversationKey(sessionID), jobID, ttl).Err()
}

func (s *Store) GetOpenConversationJob(ctx context.Context, sessionID string) (string, error) {
	v, err := s.rc.Get(ctx, OpenConversationKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading open conversation job: %w", err)
	}
	return v, nil
}

func (s *Store) ClearOpenConversationJob(ctx context.Context, sessionID string) error {
	return s.rc.Del(ctx, OpenConversationKey(sessionID)).Err()
}

// IncrConversationCount bumps the per-session conversation counter,
// applying the 1h TTL from §6.3 on first write.
func (s *Store) IncrConversationCount(ctx context.Context, sessionID string) (int64, error) {
	key := ConversationCountKey(sessionID)
	n, err := s.rc.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing conversation count: %w", err)
	}
	if n == 1 {
		s.rc.Expire(ctx, key, time.Hour)
	}
	return n, nil
}

// SetTranscriptionComplete writes the end-of-stream flag the monitor
// waits on during close (§4.8.5).
func (s *Store) SetTranscriptionComplete(ctx context.Context, sessionID, status string) error {
	return s.rc.Set(ctx, TranscriptionCompleteKey(sessionID), status, 0).Err()
}

func (s *Store) ClearTranscriptionComplete(ctx context.Context, sessionID string) error {
	return s.rc.Del(ctx, TranscriptionCompleteKey(sessionID)).Err()
}

func (s *Store) GetTranscriptionComplete(ctx context.Context, sessionID string) (string, error) {
	v, err := s.rc.Get(ctx, TranscriptionCompleteKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading transcription-complete flag: %w", err)
	}
	return v, nil
}
