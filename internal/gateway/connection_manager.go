package gateway

import (
	"sync"
	"time"

	"github.com/loomline/voicecore/pkg/Logger"
)

// ConnectionManager tracks active gateway connections keyed by client id,
// generalized from the teacher's internal/handlers/websocket/connection_manager.go
// (which keyed by uuid.UUID user id — here the key is the deterministic
// client_id since one user may hold multiple device connections).
type ConnectionManager struct {
	logger         *Logger.Logger
	conns          map[string]*Connection
	mutex          sync.RWMutex
	cleanupTicker  *time.Ticker
	stopCleanup    chan struct{}
	connTimeout    time.Duration
}

func NewConnectionManager(logger *Logger.Logger) *ConnectionManager {
	cm := &ConnectionManager{
		logger:      logger,
		conns:       make(map[string]*Connection),
		stopCleanup: make(chan struct{}),
		connTimeout: 30 * time.Minute,
	}
	cm.startCleanupRoutine()
	return cm
}

func (cm *ConnectionManager) Register(conn *Connection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.conns[conn.ClientID] = conn
	cm.logger.Infof("registered gateway connection for client %s", conn.ClientID)
}

func (cm *ConnectionManager) Unregister(clientID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if conn, ok := cm.conns[clientID]; ok {
		conn.CancelInterim()
		delete(cm.conns, clientID)
		cm.logger.Infof("unregistered gateway connection for client %s", clientID)
	}
}

func (cm *ConnectionManager) Get(clientID string) (*Connection, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	conn, ok := cm.conns[clientID]
	return conn, ok
}

func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.conns)
}

func (cm *ConnectionManager) startCleanupRoutine() {
	cm.cleanupTicker = time.NewTicker(5 * time.Minute)
	go func() {
		for {
			select {
			case <-cm.cleanupTicker.C:
				cm.cleanupExpired()
			case <-cm.stopCleanup:
				cm.cleanupTicker.Stop()
				return
			}
		}
	}()
}

func (cm *ConnectionManager) cleanupExpired() {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	var expired []string
	for id, conn := range cm.conns {
		if conn.IsExpired(cm.connTimeout) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		cm.conns[id].CancelInterim()
		delete(cm.conns, id)
	}
	if len(expired) > 0 {
		cm.logger.Infof("cleaned up %d expired gateway connections", len(expired))
	}
}

func (cm *ConnectionManager) Stats() map[string]interface{} {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return map[string]interface{}{
		"active_connections": len(cm.conns),
	}
}

func (cm *ConnectionManager) Close() {
	close(cm.stopCleanup)
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	for _, conn := range cm.conns {
		conn.CancelInterim()
	}
	cm.conns = make(map[string]*Connection)
}
