// Package transport owns the persistent push channel: one WebSocket
// connection per session, its state machine, and the reconnect policy for
// abnormal closures.
package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/fiqir/dating-app/internal/apperr"
	"github.com/fiqir/dating-app/internal/logger"
	"github.com/fiqir/dating-app/internal/metrics"
)

// State is the channel lifecycle state.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// ErrChannelClosed is returned by Send after the channel has been closed
// explicitly. Sends issued while the channel is reconnecting are buffered
// and flushed on reopen instead, so a like or message never vanishes
// silently.
var ErrChannelClosed = errors.New("transport: channel is closed")

// Config holds the channel's connection settings.
type Config struct {
	URL     string        // push endpoint, e.g. ws://host/ws
	Token   string        // auth token, sent as a query parameter
	Backoff time.Duration // fixed wait between reconnect attempts
}

// DefaultConfig returns sensible defaults for everything but URL and Token.
func DefaultConfig() Config {
	return Config{Backoff: 3 * time.Second}
}

// Channel is the persistent bidirectional push connection. All methods are
// goroutine-safe. Message and state callbacks are invoked from the internal
// read/reconnect goroutines and must not block for extended periods.
type Channel struct {
	cfg Config

	mu           sync.Mutex
	state        State
	conn         net.Conn
	pending      [][]byte // sends buffered while not open
	reconnecting bool     // guards against overlapping reconnect attempts
	done         chan struct{}
	closeOnce    sync.Once

	onMessage func([]byte)
	onState   func(State)
	onFatal   func(error) // authentication failure during reconnect
}

// NewChannel creates an unconnected Channel. Register callbacks before
// calling Connect; they survive reconnects.
func NewChannel(cfg Config) *Channel {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultConfig().Backoff
	}
	return &Channel{
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// OnMessage registers the inbound frame callback.
func (c *Channel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// OnStateChange registers the state transition callback.
func (c *Channel) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnFatal registers a callback for unrecoverable failures discovered after
// Connect has returned (an authentication rejection during reconnect).
func (c *Channel) OnFatal(fn func(error)) {
	c.mu.Lock()
	c.onFatal = fn
	c.mu.Unlock()
}

// State returns the current channel state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the WebSocket connection and starts the read loop.
// An authentication rejection (HTTP 401/403 on the handshake) is fatal for
// this channel instance and is returned to the caller; it is never retried.
func (c *Channel) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateClosed)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateOpen)
	c.flushPending()

	go c.readLoop(conn)
	return nil
}

// dial opens the WebSocket handshake with the auth token attached as a
// query parameter.
func (c *Channel) dial(ctx context.Context) (net.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, apperr.Validation("invalid push URL", err)
	}
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()

	conn, _, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		var se ws.StatusError
		if errors.As(err, &se) && (int(se) == http.StatusUnauthorized || int(se) == http.StatusForbidden) {
			return nil, apperr.Authentication("push channel handshake rejected", err)
		}
		return nil, apperr.Transient("push channel dial failed", err)
	}
	return conn, nil
}

// Send transmits an envelope over the channel. While the channel is
// connecting (initial dial or reconnect) the payload is buffered and
// flushed in order once the connection reopens. After an explicit Close,
// Send fails with ErrChannelClosed.
func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		conn := c.conn
		c.mu.Unlock()
		if err := wsutil.WriteClientMessage(conn, ws.OpText, data); err != nil {
			// The read loop notices the dead connection and reconnects;
			// requeue so the frame goes out after the channel reopens.
			c.mu.Lock()
			c.pending = append(c.pending, data)
			c.mu.Unlock()
			return nil
		}
		return nil

	case StateConnecting:
		c.pending = append(c.pending, data)
		c.mu.Unlock()
		return nil

	default:
		c.mu.Unlock()
		return ErrChannelClosed
	}
}

// Close performs a graceful shutdown with the given close code. This is the
// terminal transition; the channel will not reconnect.
func (c *Channel) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(StateClosing)
		close(c.done)

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		if conn != nil {
			frame := ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusCode(code), reason))
			frame = ws.MaskFrameInPlace(frame)
			_ = ws.WriteFrame(conn, frame)
			err = conn.Close()
		}
		c.setState(StateClosed)
	})
	return err
}

// readLoop reads frames until the connection dies, passing each inbound
// text frame to the message callback. On abnormal closure it hands off to
// the reconnect goroutine; on graceful closure it finishes the shutdown.
func (c *Channel) readLoop(conn net.Conn) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			select {
			case <-c.done:
				// Explicit Close already ran; nothing more to do.
				return
			default:
			}

			var ce wsutil.ClosedError
			if errors.As(err, &ce) && ce.Code == ws.StatusNormalClosure {
				// Server shut the channel down cleanly. Terminal.
				logger.Info("push channel closed by server", "reason", ce.Reason)
				c.setState(StateClosed)
				return
			}

			logger.Warn("push channel lost, scheduling reconnect", "err", err)
			c.scheduleReconnect()
			return
		}

		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		if fn != nil && len(data) > 0 {
			fn(data)
		}
	}
}

// scheduleReconnect transitions to Connecting and starts a single
// background reconnect attempt. Overlapping calls (read error racing a
// write error) collapse into one attempt. The transition happens in the
// same critical section as the guard check, so a Close that lands in
// between cannot end up overwritten by a stale Connecting state.
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	if c.reconnecting || c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateConnecting
	fn := c.onState
	c.mu.Unlock()

	metrics.ChannelState.Set(float64(StateConnecting))
	if fn != nil {
		fn(StateConnecting)
	}

	go func() {
		defer func() {
			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()
		}()

		for {
			select {
			case <-c.done:
				return
			case <-time.After(c.cfg.Backoff):
			}

			metrics.Reconnects.Inc()
			conn, err := c.dial(context.Background())
			if err != nil {
				if apperr.IsAuthentication(err) {
					// Token no longer valid: surface, never retry forever.
					logger.Error("push channel re-auth failed", "err", err)
					c.setState(StateClosed)
					c.mu.Lock()
					fn := c.onFatal
					c.mu.Unlock()
					if fn != nil {
						fn(err)
					}
					return
				}
				logger.Warn("push channel reconnect failed", "err", err)
				continue
			}

			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			c.setState(StateOpen)
			c.flushPending()
			go c.readLoop(conn)
			return
		}
	}()
}

// flushPending writes out frames buffered while the channel was connecting,
// preserving order. Frames that fail to write are requeued by Send's error
// path via the next reconnect cycle.
func (c *Channel) flushPending() {
	c.mu.Lock()
	queued := c.pending
	c.pending = nil
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return
	}
	for i, data := range queued {
		if err := wsutil.WriteClientMessage(conn, ws.OpText, data); err != nil {
			logger.Warn("flush of buffered frame failed", "err", err)
			c.mu.Lock()
			c.pending = append(queued[i:], c.pending...)
			c.mu.Unlock()
			return
		}
	}
}

// setState records the transition, updates the gauge, and notifies the
// callback outside the lock.
func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	fn := c.onState
	c.mu.Unlock()

	metrics.ChannelState.Set(float64(s))
	if fn != nil {
		fn(s)
	}
}
