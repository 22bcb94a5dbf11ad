package router

import (
	"testing"

	"github.com/fiqir/dating-app/internal/protocol"
)

func typingEvent() *protocol.Event {
	return &protocol.Event{
		Type:   protocol.TypeTyping,
		Typing: &protocol.TypingData{MatchID: "m-1", IsTyping: true},
	}
}

func TestDispatch_SubscriptionOrder(t *testing.T) {
	r := New()

	var order []string
	r.Subscribe(protocol.TypeTyping, func(*protocol.Event) { order = append(order, "first") })
	r.Subscribe(protocol.TypeTyping, func(*protocol.Event) { order = append(order, "second") })
	r.Subscribe(protocol.TypeTyping, func(*protocol.Event) { order = append(order, "third") })

	r.Dispatch(typingEvent())

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), order)
	}
	for i, name := range want {
		if order[i] != name {
			t.Errorf("call %d: expected %s, got %s", i, name, order[i])
		}
	}
}

func TestDispatch_PanicIsolation(t *testing.T) {
	r := New()

	var after int
	r.Subscribe(protocol.TypeTyping, func(*protocol.Event) { panic("handler bug") })
	r.Subscribe(protocol.TypeTyping, func(*protocol.Event) { after++ })

	r.Dispatch(typingEvent())

	if after != 1 {
		t.Errorf("subscriber after a panicking handler should still run, got %d calls", after)
	}
}

func TestDispatch_TypeFiltering(t *testing.T) {
	r := New()

	var likeCalls, typingCalls int
	r.Subscribe(protocol.TypeNewLike, func(*protocol.Event) { likeCalls++ })
	r.Subscribe(protocol.TypeTyping, func(*protocol.Event) { typingCalls++ })

	r.Dispatch(typingEvent())

	if likeCalls != 0 {
		t.Errorf("new_like subscriber should not see typing events, got %d", likeCalls)
	}
	if typingCalls != 1 {
		t.Errorf("expected 1 typing call, got %d", typingCalls)
	}
}

func TestUnsubscribe(t *testing.T) {
	r := New()

	var calls int
	tok := r.Subscribe(protocol.TypeTyping, func(*protocol.Event) { calls++ })

	r.Dispatch(typingEvent())
	r.Unsubscribe(tok)
	r.Dispatch(typingEvent())
	r.Unsubscribe(tok) // double-unsubscribe is a no-op

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDispatch_UnknownTypeDropped(t *testing.T) {
	r := New()

	var calls int
	r.Subscribe("profile_boosted", func(*protocol.Event) { calls++ })

	r.DispatchRaw([]byte(`{"type":"profile_boosted","data":{"boost_id":"b-1"}}`))

	if calls != 0 {
		t.Errorf("unknown event types must be dropped, got %d calls", calls)
	}
}

func TestDispatchRaw_MalformedDropped(t *testing.T) {
	r := New()

	var calls int
	r.Subscribe(protocol.TypeNewLike, func(*protocol.Event) { calls++ })

	r.DispatchRaw([]byte(`{"type":`))
	r.DispatchRaw([]byte(`{"data":{}}`))
	r.DispatchRaw([]byte(`{"type":"new_like","data":"not-an-object"}`))

	if calls != 0 {
		t.Errorf("malformed payloads must never reach handlers, got %d calls", calls)
	}
}

func TestDispatchRaw_ValidEventReachesHandler(t *testing.T) {
	r := New()

	var got *protocol.Event
	r.Subscribe(protocol.TypeNewLike, func(ev *protocol.Event) { got = ev })

	r.DispatchRaw([]byte(`{"type":"new_like","data":{"like_id":"l-1","liker_id":"u-2","liked_id":"u-1","created_at":1700000000}}`))

	if got == nil || got.Like == nil {
		t.Fatal("expected decoded new_like event")
	}
	if got.Like.LikeID != "l-1" {
		t.Errorf("expected like_id l-1, got %q", got.Like.LikeID)
	}
}
