package devserver

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/fiqir/dating-app/internal/logger"
	"github.com/fiqir/dating-app/internal/metrics"
)

// pushConn is one user's push connection with a write mutex serializing
// outbound frames.
type pushConn struct {
	userID     string
	netConn    net.Conn
	writeMu    sync.Mutex
	lastActive time.Time // guarded by the hub mutex
}

// writeText sends a WebSocket text frame. The write mutex ensures that
// concurrent goroutines do not interleave frame bytes.
func (c *pushConn) writeText(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.netConn, ws.OpText, data)
}

// writePing sends a protocol-level ping frame.
func (c *pushConn) writePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.netConn, ws.NewPingFrame(nil))
}

// Hub is the registry of live push connections, one per user. A new
// connection for an already-connected user replaces the old one.
type Hub struct {
	mu     sync.RWMutex
	byUser map[string]*pushConn

	onDisconnect func(userID string)
	done         chan struct{}
	closeOnce    sync.Once
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		byUser: make(map[string]*pushConn),
		done:   make(chan struct{}),
	}
}

// SetOnDisconnect registers a callback invoked when a user's connection is
// removed, for presence and NATS subscription cleanup.
func (h *Hub) SetOnDisconnect(fn func(userID string)) {
	h.onDisconnect = fn
}

// Add registers a connection for the user, closing any previous one.
func (h *Hub) Add(userID string, netConn net.Conn) *pushConn {
	c := &pushConn{userID: userID, netConn: netConn, lastActive: time.Now()}

	h.mu.Lock()
	prev := h.byUser[userID]
	h.byUser[userID] = c
	n := len(h.byUser)
	h.mu.Unlock()

	if prev != nil {
		prev.netConn.Close()
	}
	metrics.PushConnections.Set(float64(n))
	return c
}

// Remove drops the connection if it is still the user's current one and
// closes it. Returns true if it was removed.
func (h *Hub) Remove(c *pushConn) bool {
	h.mu.Lock()
	current, ok := h.byUser[c.userID]
	if ok && current == c {
		delete(h.byUser, c.userID)
	} else {
		ok = false
	}
	n := len(h.byUser)
	h.mu.Unlock()

	if !ok {
		return false
	}
	c.netConn.Close()
	metrics.PushConnections.Set(float64(n))
	if h.onDisconnect != nil {
		h.onDisconnect(c.userID)
	}
	return true
}

// Touch marks the user's connection as recently active.
func (h *Hub) Touch(userID string) {
	h.mu.Lock()
	if c, ok := h.byUser[userID]; ok {
		c.lastActive = time.Now()
	}
	h.mu.Unlock()
}

// Send writes a text frame to the user's connection. Returns false if the
// user is not connected to this instance.
func (h *Hub) Send(userID string, data []byte) bool {
	h.mu.RLock()
	c := h.byUser[userID]
	h.mu.RUnlock()

	if c == nil {
		return false
	}
	if err := c.writeText(data); err != nil {
		logger.Warn("push write failed", "user", userID, "err", err)
		h.Remove(c)
		return false
	}
	return true
}

// Count returns the number of connected users.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser)
}

// StartHeartbeat pings all connections every interval and evicts those
// without activity within interval + timeout. Returns immediately; the
// goroutine exits when the hub is closed.
func (h *Hub) StartHeartbeat(interval, timeout time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-h.done:
				return
			case <-ticker.C:
				h.checkConnections(interval + timeout)
			}
		}
	}()
}

func (h *Hub) checkConnections(deadline time.Duration) {
	now := time.Now()

	h.mu.RLock()
	conns := make([]*pushConn, 0, len(h.byUser))
	for _, c := range h.byUser {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.mu.RLock()
		stale := now.Sub(c.lastActive) > deadline
		h.mu.RUnlock()

		if stale {
			logger.Info("push heartbeat timeout", "user", c.userID)
			h.Remove(c)
			continue
		}
		if err := c.writePing(); err != nil {
			h.Remove(c)
		}
	}
}

// Close evicts every connection and stops the heartbeat.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	conns := make([]*pushConn, 0, len(h.byUser))
	for _, c := range h.byUser {
		conns = append(conns, c)
	}
	h.byUser = make(map[string]*pushConn)
	h.mu.Unlock()

	for _, c := range conns {
		c.netConn.Close()
	}
	metrics.PushConnections.Set(0)
}
