package devserver

import (
	"github.com/fiqir/dating-app/internal/logger"
	"github.com/fiqir/dating-app/internal/messaging"
	"github.com/fiqir/dating-app/internal/metrics"
	"github.com/fiqir/dating-app/internal/protocol"
)

// Notifier routes push events to users. With NATS configured, every event
// goes through the per-user subject so the instance actually holding the
// user's connection delivers it; each instance subscribes to the subjects
// of its locally connected users, including for its own events. Without
// NATS, delivery is direct through the local hub.
type Notifier struct {
	hub  *Hub
	nats *messaging.NATSClient
}

// NewNotifier creates a Notifier. nats may be nil for single-instance use.
func NewNotifier(hub *Hub, nats *messaging.NATSClient) *Notifier {
	return &Notifier{hub: hub, nats: nats}
}

// Publish encodes and delivers one event to one user. Delivery is best
// effort: a user with no live connection simply misses the push and
// reconciles via REST refresh.
func (n *Notifier) Publish(userID, eventType string, payload interface{}) {
	data, err := protocol.NewEnvelope(eventType, payload)
	if err != nil {
		logger.Error("encoding push event failed", "type", eventType, "err", err)
		return
	}

	if n.nats != nil {
		if err := n.nats.PublishUserEvent(userID, data); err != nil {
			logger.Warn("nats publish failed", "user", userID, "err", err)
		}
		return
	}

	if n.hub.Send(userID, data) {
		metrics.PushDelivered.WithLabelValues("local").Inc()
	}
}

// PublishAll delivers a batch of store events.
func (n *Notifier) PublishAll(events []event) {
	for _, ev := range events {
		n.Publish(ev.userID, ev.typ, ev.payload)
	}
}

// deliverFromBridge hands a NATS-delivered envelope to the local hub. Bound
// as the subject handler for each locally connected user.
func (n *Notifier) deliverFromBridge(userID string) func(data []byte) {
	return func(data []byte) {
		if n.hub.Send(userID, data) {
			metrics.PushDelivered.WithLabelValues("nats").Inc()
		}
	}
}
