package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiqir/dating-app/internal/api"
	"github.com/fiqir/dating-app/internal/protocol"
)

const selfID = "u-self"

// fakeServer implements just enough of the match REST surface for ledger
// tests, with per-endpoint knobs for failures and latency.
type fakeServer struct {
	likeCalls    int64
	likeDelay    time.Duration
	likeResponse api.LikeResponse

	sendFail    atomic.Bool
	sendCreated int64

	mu      sync.Mutex
	removed []string

	matchesResponse  []protocol.MatchData
	messagesResponse []protocol.MessageData
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /matches/like/{$}", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.likeCalls, 1)
		if f.likeDelay > 0 {
			time.Sleep(f.likeDelay)
		}
		json.NewEncoder(w).Encode(f.likeResponse)
	})

	mux.HandleFunc("POST /matches/remove-like/{$}", func(w http.ResponseWriter, r *http.Request) {
		var req api.RemoveLikeRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.removed = append(f.removed, req.LikeID)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	})

	mux.HandleFunc("GET /matches/my-matches/{$}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": f.matchesResponse})
	})

	mux.HandleFunc("GET /matches/{id}/messages/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": f.messagesResponse})
	})

	mux.HandleFunc("POST /matches/{id}/send-message/", func(w http.ResponseWriter, r *http.Request) {
		if f.sendFail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"code":"internal","detail":"boom"}`))
			return
		}
		var req api.SendMessageRequest
		json.NewDecoder(r.Body).Decode(&req)
		created := atomic.AddInt64(&f.sendCreated, 1)
		json.NewEncoder(w).Encode(protocol.MessageData{
			ID:        fmt.Sprintf("m-srv-%d", created),
			MatchID:   r.PathValue("id"),
			SenderID:  selfID,
			Content:   req.Content,
			CreatedAt: 1700000000 + created,
		})
	})

	return mux
}

func newTestLedger(t *testing.T, f *fakeServer) *Ledger {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return New(selfID, api.NewClient(srv.URL, 0))
}

func matchEnvelope(id string, unread int) *protocol.Event {
	return &protocol.Event{
		Type: protocol.TypeNewMatch,
		Match: &protocol.MatchData{
			ID: id, ParticipantA: selfID, ParticipantB: "u-other",
			CreatedAt: 1700000000, UnreadCount: unread,
		},
	}
}

func messageEnvelope(msgID, matchID, sender string, createdAt int64) *protocol.Event {
	return &protocol.Event{
		Type: protocol.TypeNewMessage,
		Message: &protocol.MessageData{
			ID: msgID, MatchID: matchID, SenderID: sender,
			Content: "hi", CreatedAt: createdAt,
		},
	}
}

// ---------------------------------------------------------------------------
// Mutual match convergence
// ---------------------------------------------------------------------------

func TestLike_RESTAndPushConvergeOnOneMatch(t *testing.T) {
	f := &fakeServer{
		likeResponse: api.LikeResponse{
			LikeID:      "l-1",
			MutualMatch: true,
			MatchData: &protocol.MatchData{
				ID: "match-1", ParticipantA: selfID, ParticipantB: "u-other",
				CreatedAt: 1700000000,
			},
		},
	}
	l := newTestLedger(t, f)

	res, err := l.Like(context.Background(), "u-other")
	require.NoError(t, err)
	require.True(t, res.MutualMatch)
	require.NotNil(t, res.Match)

	// The same match arrives later over the push channel, twice.
	l.ApplyPushedEvent(matchEnvelope("match-1", 0))
	l.ApplyPushedEvent(matchEnvelope("match-1", 0))

	matches := l.Matches()
	require.Len(t, matches, 1, "REST and push paths must converge on exactly one match")
	assert.Equal(t, "match-1", matches[0].ID)
}

func TestApplyPushedEvent_NewMatchIdempotent(t *testing.T) {
	l := newTestLedger(t, &fakeServer{})

	for i := 0; i < 5; i++ {
		l.ApplyPushedEvent(matchEnvelope("match-1", 0))
	}

	require.Len(t, l.Matches(), 1)
}

func TestApplyPushedEvent_NewMessageIdempotent(t *testing.T) {
	l := newTestLedger(t, &fakeServer{})
	l.ApplyPushedEvent(matchEnvelope("match-1", 0))

	for i := 0; i < 3; i++ {
		l.ApplyPushedEvent(messageEnvelope("msg-1", "match-1", "u-other", 1700000100))
	}

	assert.Len(t, l.Messages("match-1"), 1)
	assert.Equal(t, 1, l.Matches()[0].UnreadCount)
}

// ---------------------------------------------------------------------------
// Like coalescing
// ---------------------------------------------------------------------------

func TestLike_CoalescesConcurrentDuplicates(t *testing.T) {
	f := &fakeServer{
		likeDelay:    50 * time.Millisecond,
		likeResponse: api.LikeResponse{LikeID: "l-1", MutualMatch: false},
	}
	l := newTestLedger(t, f)

	var wg sync.WaitGroup
	results := make([]LikeResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.Like(context.Background(), "u-other")
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	assert.EqualValues(t, 1, atomic.LoadInt64(&f.likeCalls),
		"duplicate likes before the first response must share one request")
	assert.Equal(t, results[0].LikeID, results[1].LikeID)
}

func TestLike_FailureRevertsOptimisticEdge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"code":"internal","detail":"boom"}`))
	}))
	t.Cleanup(srv.Close)

	l := New(selfID, api.NewClient(srv.URL, 0))
	_, err := l.Like(context.Background(), "u-other")
	require.Error(t, err)

	// A second like is not blocked by a stale in-flight entry or a stale
	// optimistic edge.
	_, err = l.Like(context.Background(), "u-other")
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Unread accounting
// ---------------------------------------------------------------------------

func TestUnread_NeverDecreasesExceptMarkRead(t *testing.T) {
	f := &fakeServer{}
	l := newTestLedger(t, f)

	l.ApplyPushedEvent(matchEnvelope("match-1", 0))
	l.ApplyPushedEvent(messageEnvelope("msg-1", "match-1", "u-other", 1700000100))
	l.ApplyPushedEvent(messageEnvelope("msg-2", "match-1", "u-other", 1700000200))
	require.Equal(t, 2, l.Matches()[0].UnreadCount)

	// A stale server snapshot reporting fewer unread must not decrease it.
	f.matchesResponse = []protocol.MatchData{{
		ID: "match-1", ParticipantA: selfID, ParticipantB: "u-other",
		CreatedAt: 1700000000, UnreadCount: 1,
	}}
	_, err := l.RefreshMatches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, l.Matches()[0].UnreadCount)

	// Only the explicit local action resets it.
	l.MarkRead("match-1")
	assert.Equal(t, 0, l.Matches()[0].UnreadCount)
}

func TestUnread_StaleSnapshotCannotResurrectAfterMarkRead(t *testing.T) {
	f := &fakeServer{}
	l := newTestLedger(t, f)

	l.ApplyPushedEvent(matchEnvelope("match-1", 0))
	l.ApplyPushedEvent(messageEnvelope("msg-1", "match-1", "u-other", 1700000100))
	l.MarkRead("match-1")

	f.matchesResponse = []protocol.MatchData{{
		ID: "match-1", ParticipantA: selfID, ParticipantB: "u-other",
		CreatedAt: 1700000000, UnreadCount: 1,
		LastMessage: &protocol.MessageData{
			ID: "msg-1", MatchID: "match-1", SenderID: "u-other",
			Content: "hi", CreatedAt: 1700000100,
		},
	}}
	_, err := l.RefreshMatches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, l.Matches()[0].UnreadCount,
		"server snapshot predating the local mark-read must not resurrect unread")

	// But genuinely new activity counts again.
	l.ApplyPushedEvent(messageEnvelope("msg-2", "match-1", "u-other", 1700000300))
	assert.Equal(t, 1, l.Matches()[0].UnreadCount)
}

// ---------------------------------------------------------------------------
// Ordering
// ---------------------------------------------------------------------------

func TestMatches_OrderedByActivityAndStable(t *testing.T) {
	l := newTestLedger(t, &fakeServer{})

	l.ApplyPushedEvent(&protocol.Event{Type: protocol.TypeNewMatch, Match: &protocol.MatchData{
		ID: "match-a", ParticipantA: selfID, ParticipantB: "u-1", CreatedAt: 1700000000,
	}})
	l.ApplyPushedEvent(&protocol.Event{Type: protocol.TypeNewMatch, Match: &protocol.MatchData{
		ID: "match-b", ParticipantA: selfID, ParticipantB: "u-2", CreatedAt: 1700000500,
	}})

	// Older match gets newer activity via a message.
	l.ApplyPushedEvent(messageEnvelope("msg-1", "match-a", "u-1", 1700001000))

	first := l.Matches()
	require.Len(t, first, 2)
	assert.Equal(t, "match-a", first[0].ID, "message activity should outrank creation time")
	assert.Equal(t, "match-b", first[1].ID)

	// Stable under repeated calls with no new activity.
	for i := 0; i < 3; i++ {
		again := l.Matches()
		assert.Equal(t, first[0].ID, again[0].ID)
		assert.Equal(t, first[1].ID, again[1].ID)
	}
}

func TestMessages_SortedByCreatedAtNotArrival(t *testing.T) {
	l := newTestLedger(t, &fakeServer{})
	l.ApplyPushedEvent(matchEnvelope("match-1", 0))

	// Arrival order: newest first. Display order must re-sort.
	l.ApplyPushedEvent(messageEnvelope("msg-c", "match-1", "u-other", 1700000300))
	l.ApplyPushedEvent(messageEnvelope("msg-a", "match-1", "u-other", 1700000100))
	l.ApplyPushedEvent(messageEnvelope("msg-b", "match-1", "u-other", 1700000200))

	msgs := l.Messages("match-1")
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg-a", msgs[0].ID)
	assert.Equal(t, "msg-b", msgs[1].ID)
	assert.Equal(t, "msg-c", msgs[2].ID)
}

// ---------------------------------------------------------------------------
// Optimistic sends
// ---------------------------------------------------------------------------

func TestSendMessage_OptimisticReconcile(t *testing.T) {
	f := &fakeServer{}
	l := newTestLedger(t, f)
	l.ApplyPushedEvent(matchEnvelope("match-1", 0))

	msg, err := l.SendMessage(context.Background(), "match-1", "selam")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, DeliverySent, msg.Delivery)
	assert.NotContains(t, msg.ID, "tmp-", "temporary id must be replaced by the server id")

	msgs := l.Messages("match-1")
	require.Len(t, msgs, 1, "temp and confirmed records must not coexist")
	assert.Equal(t, msg.ID, msgs[0].ID)
	assert.Equal(t, 0, l.Matches()[0].UnreadCount, "own messages never count as unread")
}

func TestSendMessage_FailureMarksFailedAndRetryWorks(t *testing.T) {
	f := &fakeServer{}
	f.sendFail.Store(true)
	l := newTestLedger(t, f)
	l.ApplyPushedEvent(matchEnvelope("match-1", 0))

	msg, err := l.SendMessage(context.Background(), "match-1", "selam")
	require.Error(t, err)
	require.NotNil(t, msg, "failed optimistic message must stay visible")
	assert.Equal(t, DeliveryFailed, msg.Delivery)

	msgs := l.Messages("match-1")
	require.Len(t, msgs, 1)
	assert.Equal(t, DeliveryFailed, msgs[0].Delivery)

	f.sendFail.Store(false)
	retried, err := l.RetryMessage(context.Background(), "match-1", msg.ID)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, DeliverySent, retried.Delivery)
	require.Len(t, l.Messages("match-1"), 1)
}

func TestSendMessage_PushRacingResponseDoesNotDuplicate(t *testing.T) {
	var l *Ledger

	// The push notification for the confirmed message lands before the REST
	// response is even written.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/matches/match-1/send-message/" {
			l.ApplyPushedEvent(&protocol.Event{Type: protocol.TypeNewMessage, Message: &protocol.MessageData{
				ID: "m-race", MatchID: "match-1", SenderID: selfID,
				Content: "selam", CreatedAt: 1700000400,
			}})
			json.NewEncoder(w).Encode(protocol.MessageData{
				ID: "m-race", MatchID: "match-1", SenderID: selfID,
				Content: "selam", CreatedAt: 1700000400,
			})
			return
		}
		w.Write([]byte("{}"))
	}))
	t.Cleanup(srv.Close)

	l = New(selfID, api.NewClient(srv.URL, 0))
	l.ApplyPushedEvent(matchEnvelope("match-1", 0))

	msg, err := l.SendMessage(context.Background(), "match-1", "selam")
	require.NoError(t, err)
	assert.Equal(t, "m-race", msg.ID)
	require.Len(t, l.Messages("match-1"), 1, "racing push and response must collapse into one record")
}

// ---------------------------------------------------------------------------
// Remove like / unmatch
// ---------------------------------------------------------------------------

func TestRemoveLike_OnMatchedEdgeTearsDownMatch(t *testing.T) {
	f := &fakeServer{
		likeResponse: api.LikeResponse{
			LikeID:      "l-1",
			MutualMatch: true,
			MatchData: &protocol.MatchData{
				ID: "match-1", ParticipantA: selfID, ParticipantB: "u-other",
				CreatedAt: 1700000000,
			},
		},
	}
	l := newTestLedger(t, f)

	res, err := l.Like(context.Background(), "u-other")
	require.NoError(t, err)
	require.Len(t, l.Matches(), 1)

	l.ApplyPushedEvent(messageEnvelope("msg-1", "match-1", "u-other", 1700000100))

	require.NoError(t, l.RemoveLike(context.Background(), res.LikeID))
	assert.Empty(t, l.Matches(), "post-match removal is an unmatch")
	assert.Empty(t, l.Messages("match-1"))

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Equal(t, []string{"l-1"}, f.removed)
}

// ---------------------------------------------------------------------------
// Read receipts
// ---------------------------------------------------------------------------

func TestReadReceipt_MarksOwnMessagesRead(t *testing.T) {
	f := &fakeServer{}
	l := newTestLedger(t, f)
	l.ApplyPushedEvent(matchEnvelope("match-1", 0))

	sent, err := l.SendMessage(context.Background(), "match-1", "selam")
	require.NoError(t, err)
	require.False(t, sent.Read)

	l.ApplyPushedEvent(&protocol.Event{Type: protocol.TypeReadReceipt, ReadReceipt: &protocol.ReadReceiptData{
		MatchID: "match-1", ReaderID: "u-other", LastMessageID: sent.ID, ReadAt: 1700000500,
	}})

	msgs := l.Messages("match-1")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read)
}
