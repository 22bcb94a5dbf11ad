// Package messaging provides a NATS client wrapper for cross-instance push
// delivery. Each dev server instance publishes user events to per-user
// subjects and subscribes to the subjects of the users connected to it, so
// an event raised on one instance reaches a client connected to another.
package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fiqir/dating-app/internal/logger"
)

// SubjectUserEvents is the per-user push subject prefix: events.<user_id>.
const SubjectUserEvents = "events"

// NATSClient wraps the NATS connection with helpers for user event pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "fiqir-devserver",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Info("nats connected", "url", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishUserEvent publishes an encoded push envelope to the user's subject.
func (c *NATSClient) PublishUserEvent(userID string, data []byte) error {
	return c.conn.Publish(SubjectUserEvents+"."+userID, data)
}

// SubscribeUserEvents subscribes to a user's event subject. Called when the
// user's push connection lands on this instance.
func (c *NATSClient) SubscribeUserEvents(userID string, handler func(data []byte)) error {
	subject := SubjectUserEvents + "." + userID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeUserEvents drops the user's subject subscription when their
// push connection leaves this instance.
func (c *NATSClient) UnsubscribeUserEvents(userID string) error {
	subject := SubjectUserEvents + "." + userID

	c.mu.Lock()
	sub, ok := c.subs[subject]
	if ok {
		delete(c.subs, subject)
	}
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			logger.Warn("nats drain failed", "subject", subject, "err", err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		logger.Warn("nats connection drain failed", "err", err)
	}
}
