package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
)

// Connection is one active WebSocket session (§4.4). ClientID doubles as
// the session_id (§4.4.1 step 1: "session_id = client_id, deterministic
// from user + device_name").
type Connection struct {
	ClientID  string
	UserID    string
	UserEmail string
	DeviceName string
	Codec     Codec
	Conn      *websocket.Conn
	FSM       *fsm.FSM

	mu             sync.Mutex
	mode           Mode
	rate           int
	width          int
	channels       int
	chunkCounter   uint64
	batchBuf       []byte
	batchStartedAt time.Time

	opusDecoder *OpusDecoder

	interimCancel context.CancelFunc
	connectedAt   time.Time
	lastActive    atomic.Int64
}

func NewConnection(clientID, userID, userEmail, deviceName string, codec Codec, conn *websocket.Conn) *Connection {
	c := &Connection{
		ClientID:    clientID,
		UserID:      userID,
		UserEmail:   userEmail,
		DeviceName:  deviceName,
		Codec:       codec,
		Conn:        conn,
		FSM:         NewConnectionFSM(),
		connectedAt: time.Now(),
	}
	c.lastActive.Store(time.Now().UnixNano())
	return c
}

func (c *Connection) Touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Connection) SetFormat(mode Mode, rate, width, channels int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
	c.rate = rate
	c.width = width
	c.channels = channels
	c.batchStartedAt = time.Now()
}

func (c *Connection) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Format returns the negotiated PCM format (§4.4.1) for encoding/chunking
// decisions made outside the connection itself (e.g. batch rotation).
func (c *Connection) Format() (rate, width, channels int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate, c.width, c.channels
}

// NextChunkID returns the next monotonic chunk counter (starting at 0)
// used for streaming-mode publication; callers zero-pad it with "%05d"
// (§4.4.2).
func (c *Connection) NextChunkID() uint64 {
	return atomic.AddUint64(&c.chunkCounter, 1) - 1
}

// AppendBatch accumulates PCM bytes for batch mode and reports whether
// the rolling-batch duration threshold has been crossed.
func (c *Connection) AppendBatch(pcm []byte, rotateAfter time.Duration) (shouldRotate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchBuf = append(c.batchBuf, pcm...)
	return time.Since(c.batchStartedAt) >= rotateAfter
}

// DrainBatch returns and clears the accumulated batch buffer, resetting
// the rotation clock (§4.4.2 "reset buffer, continue accumulating").
func (c *Connection) DrainBatch() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.batchBuf
	c.batchBuf = nil
	c.batchStartedAt = time.Now()
	return buf
}

func (c *Connection) SetInterimCancel(cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interimCancel = cancel
}

func (c *Connection) CancelInterim() {
	c.mu.Lock()
	cancel := c.interimCancel
	c.interimCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Connection) IsExpired(timeout time.Duration) bool {
	return time.Since(c.LastActive()) > timeout
}
