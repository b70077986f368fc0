package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/loomline/voicecore/internal/audiofabric"
	"github.com/loomline/voicecore/internal/config"
	"github.com/loomline/voicecore/internal/conversation"
	"github.com/loomline/voicecore/internal/domains/user"
	"github.com/loomline/voicecore/internal/jobqueue"
	"github.com/loomline/voicecore/internal/session"
	"github.com/loomline/voicecore/internal/workers/persistence"
	"github.com/loomline/voicecore/internal/workers/postchain"
	"github.com/loomline/voicecore/pkg/Logger"
)

// Handler is the C4 WebSocket Gateway's HTTP-facing entrypoint, mirroring
// the teacher's WebSocketHandler (internal/handlers/websocket/handler.go)
// but driven by a real state machine and the voice-domain stores instead
// of the assistant conversation pipeline.
type Handler struct {
	logger      *Logger.Logger
	cfg         *config.Settings
	userService user.UserService
	store       *session.Store
	fabric      *audiofabric.Fabric
	queue       *jobqueue.Queue
	repo        conversation.Repository
	tracker     *jobqueue.DependencyTracker
	conns       *ConnectionManager
	decodePool  *DecodePool
	upgrader    websocket.Upgrader
}

func NewHandler(
	logger *Logger.Logger,
	cfg *config.Settings,
	userService user.UserService,
	store *session.Store,
	fabric *audiofabric.Fabric,
	queue *jobqueue.Queue,
	repo conversation.Repository,
	tracker *jobqueue.DependencyTracker,
) *Handler {
	return &Handler{
		logger:      logger,
		cfg:         cfg,
		userService: userService,
		store:       store,
		fabric:      fabric,
		queue:       queue,
		repo:        repo,
		tracker:     tracker,
		conns:       NewConnectionManager(logger),
		decodePool:  NewDecodePool(cfg.Gateway.OpusDecodePoolSize),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket implements the AwaitingAuth state (§4.4): upgrades the
// connection, validates the token, and on success hands off to the
// connection's read loop.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	codec := Codec(c.Query("codec"))
	token := c.Query("token")
	deviceName := c.DefaultQuery("device_name", "default")

	if codec != CodecPCM && codec != CodecOpus {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported codec"})
		return
	}

	claims, err := h.userService.ValidateToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	clientID := fmt.Sprintf("%s:%s", claims.UserID, deviceName)
	gwConn := NewConnection(clientID, claims.UserID, claims.Email, deviceName, codec, conn)
	if err := gwConn.FSM.Event(context.Background(), EventAuthenticated); err != nil {
		h.logger.Errorf("fsm transition failed: %v", err)
		return
	}

	h.conns.Register(gwConn)
	defer h.conns.Unregister(clientID)

	if err := WriteMessage(conn, TypeReady, ReadyData{Message: "connected"}); err != nil {
		h.logger.Errorf("failed to send ready message: %v", err)
		return
	}

	h.runLoop(gwConn)
}

// runLoop is the ControlMode/AudioStreamingMode dispatch loop (§4.4 state
// machine), ending with the teardown sequence of §4.4.3.
func (h *Handler) runLoop(conn *Connection) {
	ctx := context.Background()
	for {
		frame, err := ReadFrame(conn.Conn)
		if err != nil {
			h.teardown(ctx, conn, "websocket_disconnect")
			return
		}
		conn.Touch()

		switch frame.Header.Type {
		case TypeAudioStart:
			h.handleAudioStart(ctx, conn, frame)
		case TypeAudioChunk:
			h.handleAudioChunk(ctx, conn, frame)
		case TypeAudioStop:
			h.handleAudioStop(ctx, conn)
		case TypeButtonEvent:
			h.handleButtonEvent(ctx, conn, frame)
		case TypePing:
			// keepalive; ignored per §4.4.
		default:
			h.sendError(conn, "unknown_message_type", "unrecognised frame type", "400")
		}
	}
}

func (h *Handler) sendError(conn *Connection, code, message, errCode string) {
	_ = WriteMessage(conn.Conn, TypeError, ErrorData{Error: code, Message: message, Code: errCode})
}

// handleAudioStart implements §4.4.1 session initialization.
func (h *Handler) handleAudioStart(ctx context.Context, conn *Connection, frame Frame) {
	var data AudioStartData
	if err := unmarshalData(frame.Header.Data, &data); err != nil {
		h.sendError(conn, "bad_request", "invalid audio-start payload", "400")
		return
	}

	mode := data.Mode
	if mode == "" {
		mode = ModeStreaming
	}
	if mode == ModeStreaming && !h.cfg.Gateway.StreamingSTTEnabled {
		if conn.Codec == CodecPCM {
			h.sendError(conn, "streaming_not_configured", "no streaming STT provider configured", "1008")
			_ = conn.Conn.Close()
			return
		}
		mode = ModeBatch
	}

	conn.SetFormat(mode, data.Rate, data.Width, data.Channels)
	if conn.Codec == CodecOpus {
		dec, err := NewOpusDecoder(data.Rate, data.Channels)
		if err != nil {
			h.logger.Errorf("failed to create opus decoder for %s: %v", conn.ClientID, err)
		} else {
			conn.mu.Lock()
			conn.opusDecoder = dec
			conn.mu.Unlock()
		}
	}

	rec := session.Record{
		SessionID:     conn.ClientID,
		UserID:        conn.UserID,
		ClientID:      conn.ClientID,
		UserEmail:     conn.UserEmail,
		Mode:          session.Mode(mode),
		Provider:      h.cfg.Gateway.STTProviderName,
		Status:        session.StatusActive,
		AudioRate:     data.Rate,
		AudioWidth:    data.Width,
		AudioChannels: data.Channels,
		AlwaysPersist: data.AlwaysPersist,
	}
	if err := h.store.Create(ctx, rec); err != nil {
		h.logger.Errorf("failed to create session record for %s: %v", conn.ClientID, err)
	}

	speechJobID := uuid.NewString()
	if err := h.queue.Enqueue(ctx, jobqueue.QueueTranscription, jobqueue.Payload{
		JobID:   speechJobID,
		JobType: jobqueue.JobSpeechDetection,
		Args:    map[string]interface{}{"session_id": conn.ClientID},
	}); err != nil {
		h.logger.Errorf("failed to enqueue speech-detection job for %s: %v", conn.ClientID, err)
	}

	persistJobID := uuid.NewString()
	if err := h.queue.Enqueue(ctx, jobqueue.QueueTranscription, jobqueue.Payload{
		JobID:   persistJobID,
		JobType: jobqueue.JobAudioPersistence,
		Args: map[string]interface{}{
			"client_id":      conn.ClientID,
			"session_id":     conn.ClientID,
			"user_id":        conn.UserID,
			"always_persist": data.AlwaysPersist,
		},
	}); err != nil {
		h.logger.Errorf("failed to enqueue persistence job for %s: %v", conn.ClientID, err)
	}

	if mode == ModeStreaming {
		transcribeJobID := uuid.NewString()
		if err := h.queue.Enqueue(ctx, jobqueue.QueueTranscription, jobqueue.Payload{
			JobID:   transcribeJobID,
			JobType: jobqueue.JobStreamingTranscription,
			Args: map[string]interface{}{
				"client_id":  conn.ClientID,
				"session_id": conn.ClientID,
				"rate":       float64(data.Rate),
				"width":      float64(data.Width),
				"channels":   float64(data.Channels),
			},
		}); err != nil {
			h.logger.Errorf("failed to enqueue streaming transcription job for %s: %v", conn.ClientID, err)
		}
	}

	interimCtx, cancel := context.WithCancel(context.Background())
	conn.SetInterimCancel(cancel)
	go h.forwardInterim(interimCtx, conn)

	if err := conn.FSM.Event(ctx, EventAudioStart); err != nil {
		h.logger.Debugf("fsm audio-start transition for %s: %v", conn.ClientID, err)
	}
}

// forwardInterim subscribes to the interim pub/sub topic and relays each
// message to the client (§4.4.1 step 4).
func (h *Handler) forwardInterim(ctx context.Context, conn *Connection) {
	sub := h.fabric.SubscribeInterim(ctx, conn.ClientID)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				return
			}
		}
	}
}

// handleAudioChunk implements §4.4.2 per-chunk handling.
func (h *Handler) handleAudioChunk(ctx context.Context, conn *Connection, frame Frame) {
	pcm := frame.Payload
	if conn.Codec == CodecOpus {
		conn.mu.Lock()
		dec := conn.opusDecoder
		conn.mu.Unlock()
		if dec == nil {
			h.logger.Errorf("opus chunk received before decoder initialised for %s", conn.ClientID)
			return
		}
		decoded, err := h.decodePool.Decode(ctx, dec, frame.Payload)
		if err != nil {
			h.logger.Errorf("opus decode failed for %s: %v", conn.ClientID, err)
			return
		}
		pcm = decoded
	}

	switch conn.Mode() {
	case ModeStreaming:
		chunkID := fmt.Sprintf("%05d", conn.NextChunkID())
		err := h.fabric.PublishAudio(ctx, conn.ClientID, audiofabric.AudioEntry{
			SessionID: conn.ClientID,
			ChunkID:   chunkID,
			Data:      pcm,
		})
		if err != nil {
			h.logger.Errorf("failed to publish audio chunk for %s: %v", conn.ClientID, err)
			return
		}
		if _, err := h.store.IncrField(ctx, conn.ClientID, "chunks_published", 1); err != nil {
			h.logger.Errorf("failed to bump chunks_published for %s: %v", conn.ClientID, err)
		}
	case ModeBatch:
		rotateAfter := time.Duration(h.cfg.Gateway.BatchRotateMinutes) * time.Minute
		if conn.AppendBatch(pcm, rotateAfter) {
			h.rotateBatch(ctx, conn)
		}
	}
}

// rotateBatch implements the "rolling batch" flush in §4.4.2 / §8.2: a new
// "Recording Part N" conversation, its accumulated PCM encoded into chunks
// the same way C5 would and persisted, the conversation:current rotation
// signal set, and a post-conversation chain enqueued with a forced
// batch_retranscribe stage (there is no streaming transcript for this
// audio, unlike the Conversation Monitor's streaming-mode rotation).
func (h *Handler) rotateBatch(ctx context.Context, conn *Connection) {
	buf := conn.DrainBatch()
	if len(buf) == 0 {
		return
	}
	n, err := h.store.IncrConversationCount(ctx, conn.ClientID)
	if err != nil {
		h.logger.Errorf("failed to bump conversation count for %s: %v", conn.ClientID, err)
		return
	}
	title := fmt.Sprintf("Recording Part %d", n)

	rate, width, channels := conn.Format()
	chunks, err := persistence.EncodeBatchChunks(uuid.New(), buf, rate, channels, width, h.cfg.Persistence.ChunkDurationSeconds)
	if err != nil {
		h.logger.Errorf("failed to encode batch chunks for %s: %v", conn.ClientID, err)
		return
	}
	if len(chunks) == 0 {
		return
	}
	convID := chunks[0].ConversationID

	uid, _ := uuid.Parse(conn.UserID)
	conv := &conversation.Conversation{
		ConversationID:   convID,
		UserID:           uid,
		ClientID:         conn.ClientID,
		Title:            title,
		ProcessingStatus: conversation.StatusBatchTranscription,
		CreatedAt:        time.Now(),
	}
	if err := h.repo.Create(ctx, conv); err != nil {
		h.logger.Errorf("failed to create batch conversation for %s: %v", conn.ClientID, err)
		return
	}
	for _, chunk := range chunks {
		if err := h.repo.AppendAudioChunk(ctx, chunk); err != nil {
			h.logger.Errorf("failed to append batch chunk %d for %s: %v", chunk.ChunkIndex, conn.ClientID, err)
		}
	}

	if err := h.store.SetCurrentConversation(ctx, conn.ClientID, convID.String(), 24*time.Hour); err != nil {
		h.logger.Errorf("failed to set conversation:current for %s: %v", conn.ClientID, err)
	}

	if _, err := postchain.EnqueueChain(ctx, h.tracker, h.cfg.PostChain, postchain.ChainArgs{
		ConversationID:           convID.String(),
		SessionID:                conn.ClientID,
		UserID:                   conn.UserID,
		ClientID:                 conn.ClientID,
		RequireBatchRetranscribe: true,
	}); err != nil {
		h.logger.Errorf("failed to enqueue post-conversation chain for %s: %v", conn.ClientID, err)
	}

	h.logger.Infof("rotated batch buffer for %s into %q (%d bytes, %d chunks)", conn.ClientID, title, len(buf), len(chunks))
}

func (h *Handler) handleButtonEvent(ctx context.Context, conn *Connection, frame Frame) {
	var data ButtonEventData
	if err := unmarshalData(frame.Header.Data, &data); err != nil {
		h.sendError(conn, "bad_request", "invalid button-event payload", "400")
		return
	}
	if err := h.store.AddMarker(ctx, conn.ClientID, map[string]interface{}{
		"type":  "button",
		"state": data.State,
		"at":    time.Now().Format(time.RFC3339Nano),
	}); err != nil {
		h.logger.Errorf("failed to record button marker for %s: %v", conn.ClientID, err)
	}
}

// handleAudioStop implements §4.4.3 clean teardown.
func (h *Handler) handleAudioStop(ctx context.Context, conn *Connection) {
	_ = h.fabric.PublishEndSentinel(ctx, conn.ClientID, conn.ClientID)
	if conn.Mode() == ModeBatch {
		h.rotateBatch(ctx, conn)
	}
	if err := h.store.SetField(ctx, conn.ClientID, "status", string(session.StatusFinalizing)); err != nil {
		h.logger.Errorf("failed to finalize session %s: %v", conn.ClientID, err)
	}
	_ = h.store.SetField(ctx, conn.ClientID, "completion_reason", "user_stopped")
	conn.CancelInterim()
	if err := conn.FSM.Event(ctx, EventAudioStop); err != nil {
		h.logger.Debugf("fsm audio-stop transition for %s: %v", conn.ClientID, err)
	}
}

// teardown handles WS disconnect / read-loop error exit (§4.4.3).
func (h *Handler) teardown(ctx context.Context, conn *Connection, reason string) {
	status, err := h.store.GetField(ctx, conn.ClientID, "status")
	if err == nil && status == string(session.StatusActive) {
		_ = h.store.SetField(ctx, conn.ClientID, "status", string(session.StatusFinalizing))
		_ = h.store.SetField(ctx, conn.ClientID, "completion_reason", reason)
	}
	_ = h.store.SetField(ctx, conn.ClientID, "status", string(session.StatusFinished))
	_ = h.fabric.ExpireAudioStream(ctx, conn.ClientID)
	conn.CancelInterim()
	_ = conn.FSM.Event(ctx, EventDisconnect)
	_ = conn.FSM.Event(ctx, EventClosed)
}

func unmarshalData(raw []byte, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
