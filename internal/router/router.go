// Package router classifies inbound push events by type and fans them out
// to subscribers. Subscriptions live here, not on the connection, so a
// channel reconnect never requires re-subscribing.
package router

import (
	"sync"

	"github.com/fiqir/dating-app/internal/logger"
	"github.com/fiqir/dating-app/internal/metrics"
	"github.com/fiqir/dating-app/internal/protocol"
)

// Handler is the callback signature for a decoded push event.
type Handler func(*protocol.Event)

// Token identifies one subscription for later removal.
type Token struct {
	eventType string
	id        uint64
}

type subscription struct {
	id      uint64
	handler Handler
}

// Router fans push events out to subscribers of the matching type. Dispatch
// is synchronous and runs handlers in subscription order; one failing
// handler never prevents the rest from seeing the event.
type Router struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string][]subscription
}

// New creates an empty Router.
func New() *Router {
	return &Router{subs: make(map[string][]subscription)}
}

// Subscribe registers a handler for the given event type and returns a
// token for Unsubscribe.
func (r *Router) Subscribe(eventType string, h Handler) Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.subs[eventType] = append(r.subs[eventType], subscription{id: r.nextID, handler: h})
	return Token{eventType: eventType, id: r.nextID}
}

// Unsubscribe removes the subscription identified by tok. Removing an
// already-removed token is a no-op.
func (r *Router) Unsubscribe(tok Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subs[tok.eventType]
	for i, sub := range list {
		if sub.id == tok.id {
			r.subs[tok.eventType] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Dispatch fans the event out to all subscribers of its type, in
// subscription order. Unknown event types are dropped with a warning so
// server-added types never break the client. A panicking handler is
// recovered and logged; remaining subscribers still run.
func (r *Router) Dispatch(ev *protocol.Event) {
	if ev == nil {
		return
	}
	if ev.IsUnknown() {
		logger.Warn("dropping unknown push event type", "type", ev.Type)
		metrics.EventsDispatched.WithLabelValues("unknown").Inc()
		return
	}
	metrics.EventsDispatched.WithLabelValues(ev.Type).Inc()

	r.mu.Lock()
	list := make([]subscription, len(r.subs[ev.Type]))
	copy(list, r.subs[ev.Type])
	r.mu.Unlock()

	for _, sub := range list {
		invoke(sub, ev)
	}
}

// DispatchRaw parses raw channel bytes and dispatches the result. Malformed
// payloads are logged and dropped; they never crash the router.
func (r *Router) DispatchRaw(data []byte) {
	ev, err := protocol.ParseEvent(data)
	if err != nil {
		logger.Warn("dropping malformed push payload", "err", err)
		return
	}
	r.Dispatch(ev)
}

// invoke runs a single handler with panic isolation.
func invoke(sub subscription, ev *protocol.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("push event handler panicked", "type", ev.Type, "panic", rec)
		}
	}()
	sub.handler(ev)
}
