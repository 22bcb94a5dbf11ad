// Package ledger keeps the client-side projection of likes, matches, and
// chat messages consistent between REST responses and pushed notifications.
// The same logical event can arrive on either path in either order; every
// mutation is keyed by a stable server-issued id so replays converge.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fiqir/dating-app/internal/api"
	"github.com/fiqir/dating-app/internal/logger"
	"github.com/fiqir/dating-app/internal/metrics"
	"github.com/fiqir/dating-app/internal/protocol"
)

// LikeStatus is the lifecycle state of a directed like edge. Pending
// transitions to matched or rejected exactly once; both are terminal.
type LikeStatus string

const (
	LikePending  LikeStatus = "pending"
	LikeMatched  LikeStatus = "matched"
	LikeRejected LikeStatus = "rejected"
)

// LikeEdge is a directed record of one user expressing interest in another.
type LikeEdge struct {
	ID        string
	LikerID   string
	LikedID   string
	Status    LikeStatus
	CreatedAt int64
	UpdatedAt int64
}

// DeliveryState tracks the optimistic-send lifecycle of an outbound chat
// message, kept separate from the server-owned Read flag.
type DeliveryState int

const (
	DeliverySent DeliveryState = iota
	DeliveryPending
	DeliveryFailed
)

// ChatMessage is one message in a match, text or gift. Append-only; once
// confirmed, only the Read flag changes.
type ChatMessage struct {
	ID        string
	MatchID   string
	SenderID  string
	Content   string
	Gift      *protocol.GiftPayloadData
	CreatedAt int64
	Read      bool
	Delivery  DeliveryState
	ClientRef string // client-generated correlation id for optimistic sends
}

// Match is the projection of one mutual match. Identity is immutable;
// UnreadCount and LastMessage are owned by this package.
type Match struct {
	ID           string
	ParticipantA string
	ParticipantB string
	CreatedAt    int64
	UnreadCount  int
	LastMessage  *ChatMessage
}

// activityAt is the sort key for the match list.
func (m *Match) activityAt() int64 {
	if m.LastMessage != nil && m.LastMessage.CreatedAt > m.CreatedAt {
		return m.LastMessage.CreatedAt
	}
	return m.CreatedAt
}

// LikeResult is the outcome of a like action.
type LikeResult struct {
	LikeID      string
	MutualMatch bool
	Match       *Match
}

// likeCall coalesces concurrent likes on the same target into one
// outstanding request; late callers share the first result.
type likeCall struct {
	done chan struct{}
	res  LikeResult
	err  error
}

// Ledger is the session-wide projection. All mutations go through its
// methods; no other component writes this state.
type Ledger struct {
	selfID string
	client *api.Client

	mu          sync.Mutex
	likes       map[string]*LikeEdge      // like id -> edge
	likeByPair  map[[2]string]string      // (liker, liked) -> like id
	matches     map[string]*Match         // match id -> match
	messages    map[string][]*ChatMessage // match id -> sorted messages
	msgIndex    map[string]string         // message id -> match id
	readThrough map[string]int64          // match id -> createdAt watermark of local mark-read
	inflight    map[string]*likeCall      // target id -> coalesced like call
}

// New creates a Ledger for the logged-in user.
func New(selfID string, client *api.Client) *Ledger {
	return &Ledger{
		selfID:      selfID,
		client:      client,
		likes:       make(map[string]*LikeEdge),
		likeByPair:  make(map[[2]string]string),
		matches:     make(map[string]*Match),
		messages:    make(map[string][]*ChatMessage),
		msgIndex:    make(map[string]string),
		readThrough: make(map[string]int64),
		inflight:    make(map[string]*likeCall),
	}
}

// ---------------------------------------------------------------------------
// Likes
// ---------------------------------------------------------------------------

// Like records an optimistic pending edge, issues the request, and promotes
// the edge to a Match when the server reports a mutual like. Concurrent
// likes on the same target before the first response returns are coalesced
// into a single outstanding request.
func (l *Ledger) Like(ctx context.Context, targetID string) (LikeResult, error) {
	pair := [2]string{l.selfID, targetID}

	l.mu.Lock()
	if call, ok := l.inflight[targetID]; ok {
		l.mu.Unlock()
		<-call.done
		return call.res, call.err
	}
	call := &likeCall{done: make(chan struct{})}
	l.inflight[targetID] = call

	// Optimistic pending edge under a correlation id until the server
	// assigns the real one.
	corr := "pending-" + uuid.NewString()
	now := time.Now().Unix()
	edge := &LikeEdge{
		ID: corr, LikerID: l.selfID, LikedID: targetID,
		Status: LikePending, CreatedAt: now, UpdatedAt: now,
	}
	l.likes[corr] = edge
	l.likeByPair[pair] = corr
	l.mu.Unlock()

	resp, err := l.client.Like(ctx, targetID)

	l.mu.Lock()
	delete(l.inflight, targetID)
	if err != nil {
		// Visibly revert the optimistic edge; the caller gets the error.
		delete(l.likes, corr)
		if l.likeByPair[pair] == corr {
			delete(l.likeByPair, pair)
		}
		call.err = err
	} else {
		delete(l.likes, corr)
		edge.ID = resp.LikeID
		edge.UpdatedAt = time.Now().Unix()
		l.likes[resp.LikeID] = edge
		l.likeByPair[pair] = resp.LikeID

		call.res = LikeResult{LikeID: resp.LikeID, MutualMatch: resp.MutualMatch}
		if resp.MutualMatch && resp.MatchData != nil {
			edge.Status = LikeMatched
			m := l.upsertMatchLocked(resp.MatchData)
			call.res.Match = copyMatch(m)
		}
	}
	l.mu.Unlock()

	close(call.done)
	return call.res, call.err
}

// RemoveLike withdraws a like. On a still-pending edge this simply deletes
// it; on a matched edge the server treats remove-like as an unmatch, so the
// local Match and its messages are torn down too.
func (l *Ledger) RemoveLike(ctx context.Context, likeID string) error {
	if err := l.client.RemoveLike(ctx, likeID); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	edge, ok := l.likes[likeID]
	if !ok {
		return nil
	}
	delete(l.likes, likeID)
	delete(l.likeByPair, [2]string{edge.LikerID, edge.LikedID})

	if edge.Status == LikeMatched {
		for id, m := range l.matches {
			if m.ParticipantA == edge.LikedID || m.ParticipantB == edge.LikedID {
				for _, msg := range l.messages[id] {
					delete(l.msgIndex, msg.ID)
				}
				delete(l.messages, id)
				delete(l.matches, id)
				delete(l.readThrough, id)
				break
			}
		}
	}
	return nil
}

// PeopleILike fetches outgoing edges and merges them into the projection.
func (l *Ledger) PeopleILike(ctx context.Context) ([]LikeEdge, error) {
	entries, err := l.client.PeopleILike(ctx)
	if err != nil {
		return nil, err
	}
	return l.mergeLikeEntries(entries), nil
}

// PeopleWhoLikeMe fetches incoming edges and merges them into the
// projection. Entitlement gating happens server-side.
func (l *Ledger) PeopleWhoLikeMe(ctx context.Context) ([]LikeEdge, error) {
	entries, err := l.client.PeopleWhoLikeMe(ctx)
	if err != nil {
		return nil, err
	}
	return l.mergeLikeEntries(entries), nil
}

func (l *Ledger) mergeLikeEntries(entries []api.LikeEntry) []LikeEdge {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]LikeEdge, 0, len(entries))
	for _, e := range entries {
		edge := l.upsertLikeLocked(e.LikeID, e.LikerID, e.LikedID, LikeStatus(e.Status), e.CreatedAt, e.UpdatedAt)
		out = append(out, *edge)
	}
	return out
}

// upsertLikeLocked inserts or updates an edge by server id. A terminal edge
// never transitions again; stale pending updates cannot demote it.
func (l *Ledger) upsertLikeLocked(id, likerID, likedID string, status LikeStatus, createdAt, updatedAt int64) *LikeEdge {
	if edge, ok := l.likes[id]; ok {
		if edge.Status == LikePending && status != LikePending {
			edge.Status = status
			edge.UpdatedAt = updatedAt
		}
		return edge
	}
	edge := &LikeEdge{
		ID: id, LikerID: likerID, LikedID: likedID,
		Status: status, CreatedAt: createdAt, UpdatedAt: updatedAt,
	}
	l.likes[id] = edge
	l.likeByPair[[2]string{likerID, likedID}] = id
	return edge
}

// ---------------------------------------------------------------------------
// Pushed events
// ---------------------------------------------------------------------------

// ApplyPushedEvent applies a push notification to the same projection the
// REST path mutates. Idempotent: replaying an event is a no-op.
func (l *Ledger) ApplyPushedEvent(ev *protocol.Event) {
	if ev == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch ev.Type {
	case protocol.TypeNewLike:
		d := ev.Like
		l.upsertLikeLocked(d.LikeID, d.LikerID, d.LikedID, LikePending, d.CreatedAt, d.CreatedAt)

	case protocol.TypeNewMatch:
		l.upsertMatchLocked(ev.Match)

	case protocol.TypeNewMessage:
		l.insertMessageLocked(ev.Message, DeliverySent)

	case protocol.TypeReadReceipt:
		l.applyReadReceiptLocked(ev.ReadReceipt)

	default:
		logger.Debug("ledger ignoring event", "type", ev.Type)
	}
}

// upsertMatchLocked inserts a match by id or merges the mutable fields of
// an existing one. Duplicate new_match deliveries (REST response racing the
// push channel) land here and collapse into one record.
func (l *Ledger) upsertMatchLocked(d *protocol.MatchData) *Match {
	if d == nil {
		return nil
	}
	m, ok := l.matches[d.ID]
	if !ok {
		m = &Match{
			ID:           d.ID,
			ParticipantA: d.ParticipantA,
			ParticipantB: d.ParticipantB,
			CreatedAt:    d.CreatedAt,
		}
		l.matches[d.ID] = m

		// Mark both directions matched if the edges are known locally.
		for _, pair := range [][2]string{{d.ParticipantA, d.ParticipantB}, {d.ParticipantB, d.ParticipantA}} {
			if id, ok := l.likeByPair[pair]; ok {
				if edge := l.likes[id]; edge != nil && edge.Status == LikePending {
					edge.Status = LikeMatched
					edge.UpdatedAt = time.Now().Unix()
				}
			}
		}
	}

	if d.LastMessage != nil {
		l.insertMessageLocked(d.LastMessage, DeliverySent)
	}
	l.mergeUnreadLocked(m, d.UnreadCount, d.LastMessage)
	return m
}

// mergeUnreadLocked applies the monotonic unread rule: the count only grows
// until a local mark-read resets it, and stale server snapshots from before
// the mark-read watermark can never resurrect it.
func (l *Ledger) mergeUnreadLocked(m *Match, serverCount int, last *protocol.MessageData) {
	watermark := l.readThrough[m.ID]
	if last != nil && last.CreatedAt <= watermark {
		return // already read locally, server snapshot is stale
	}
	if last == nil && watermark > 0 {
		return
	}
	if serverCount > m.UnreadCount {
		m.UnreadCount = serverCount
	}
}

// insertMessageLocked adds a message to its match, deduplicating by server
// id, keeping the per-match slice sorted by createdAt with id tie-break,
// and maintaining unreadCount and lastMessage.
func (l *Ledger) insertMessageLocked(d *protocol.MessageData, delivery DeliveryState) *ChatMessage {
	if d == nil {
		return nil
	}
	if matchID, ok := l.msgIndex[d.ID]; ok {
		// Replay: already projected.
		for _, msg := range l.messages[matchID] {
			if msg.ID == d.ID {
				return msg
			}
		}
		return nil
	}

	msg := &ChatMessage{
		ID:        d.ID,
		MatchID:   d.MatchID,
		SenderID:  d.SenderID,
		Content:   d.Content,
		Gift:      d.Gift,
		CreatedAt: d.CreatedAt,
		Delivery:  delivery,
	}
	l.msgIndex[d.ID] = d.MatchID
	l.messages[d.MatchID] = insertSorted(l.messages[d.MatchID], msg)

	if m, ok := l.matches[d.MatchID]; ok {
		if m.LastMessage == nil || laterMessage(msg, m.LastMessage) {
			m.LastMessage = msg
		}
		if msg.SenderID != l.selfID && msg.CreatedAt > l.readThrough[d.MatchID] {
			m.UnreadCount++
		}
	}
	return msg
}

// applyReadReceiptLocked marks own sent messages as read up to the receipt
// watermark. It never touches unreadCount; that belongs to the local user.
func (l *Ledger) applyReadReceiptLocked(d *protocol.ReadReceiptData) {
	if d == nil || d.ReaderID == l.selfID {
		return
	}
	var upTo int64
	if matchID, ok := l.msgIndex[d.LastMessageID]; ok && matchID == d.MatchID {
		for _, msg := range l.messages[matchID] {
			if msg.ID == d.LastMessageID {
				upTo = msg.CreatedAt
				break
			}
		}
	}
	for _, msg := range l.messages[d.MatchID] {
		if msg.SenderID == l.selfID && (upTo == 0 || msg.CreatedAt <= upTo) {
			msg.Read = true
		}
	}
}

// ---------------------------------------------------------------------------
// Matches and messages
// ---------------------------------------------------------------------------

// Matches returns the match list ordered by most-recent activity, newest
// first, with the id as a tie-break so repeated calls with no new activity
// are stable.
func (l *Ledger) Matches() []Match {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Match, 0, len(l.matches))
	for _, m := range l.matches {
		out = append(out, *copyMatch(m))
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].activityAt(), out[j].activityAt()
		if ai != aj {
			return ai > aj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Messages returns the messages of a match in display order.
func (l *Ledger) Messages(matchID string) []ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()

	msgs := l.messages[matchID]
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = *m
	}
	return out
}

// RefreshMatches reconciles the authoritative match list into the
// projection.
func (l *Ledger) RefreshMatches(ctx context.Context) ([]Match, error) {
	data, err := l.client.MyMatches(ctx)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	for i := range data {
		l.upsertMatchLocked(&data[i])
	}
	l.mu.Unlock()
	return l.Matches(), nil
}

// RefreshMessages fetches a match's history and merges it in. Fetching a
// conversation counts as reading it, so the unread count resets.
func (l *Ledger) RefreshMessages(ctx context.Context, matchID string) ([]ChatMessage, error) {
	data, err := l.client.Messages(ctx, matchID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	for i := range data {
		l.insertMessageLocked(&data[i], DeliverySent)
	}
	l.markReadLocked(matchID)
	l.mu.Unlock()
	return l.Messages(matchID), nil
}

// MarkRead resets the unread count for a match. This is the only operation
// allowed to decrease it.
func (l *Ledger) MarkRead(matchID string) {
	l.mu.Lock()
	l.markReadLocked(matchID)
	l.mu.Unlock()
}

func (l *Ledger) markReadLocked(matchID string) {
	m, ok := l.matches[matchID]
	if !ok {
		return
	}
	m.UnreadCount = 0
	var watermark int64
	for _, msg := range l.messages[matchID] {
		if msg.SenderID != l.selfID {
			msg.Read = true
			if msg.CreatedAt > watermark {
				watermark = msg.CreatedAt
			}
		}
	}
	if watermark > l.readThrough[matchID] {
		l.readThrough[matchID] = watermark
	}
}

// ---------------------------------------------------------------------------
// Sending
// ---------------------------------------------------------------------------

// SendMessage appends the message optimistically under a client-generated
// temporary id, then reconciles it to the server-assigned record. On
// failure the message stays visible, flagged failed, so the user can retry.
func (l *Ledger) SendMessage(ctx context.Context, matchID, content string) (*ChatMessage, error) {
	tmpID := "tmp-" + uuid.NewString()
	now := time.Now().Unix()

	msg := &ChatMessage{
		ID: tmpID, ClientRef: tmpID, MatchID: matchID, SenderID: l.selfID,
		Content: content, CreatedAt: now, Delivery: DeliveryPending,
	}

	l.mu.Lock()
	l.msgIndex[tmpID] = matchID
	l.messages[matchID] = insertSorted(l.messages[matchID], msg)
	l.mu.Unlock()

	return l.submit(ctx, msg)
}

// RetryMessage re-submits a previously failed optimistic message under its
// original client reference, so the server can deduplicate.
func (l *Ledger) RetryMessage(ctx context.Context, matchID, messageID string) (*ChatMessage, error) {
	l.mu.Lock()
	var msg *ChatMessage
	for _, m := range l.messages[matchID] {
		if m.ID == messageID && m.Delivery == DeliveryFailed {
			msg = m
			break
		}
	}
	if msg != nil {
		msg.Delivery = DeliveryPending
	}
	l.mu.Unlock()

	if msg == nil {
		return nil, nil
	}
	metrics.MessagesSent.WithLabelValues("retried").Inc()
	return l.submit(ctx, msg)
}

// submit issues the send request and reconciles the optimistic record.
// The result is applied to the shared projection even if the originating
// screen has been dismissed; state is never orphaned by UI lifecycle.
func (l *Ledger) submit(ctx context.Context, msg *ChatMessage) (*ChatMessage, error) {
	resp, err := l.client.SendMessage(ctx, msg.MatchID, msg.Content, msg.ClientRef)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err != nil {
		msg.Delivery = DeliveryFailed
		metrics.MessagesSent.WithLabelValues("failed").Inc()
		return copyMessage(msg), err
	}

	// Drop the temporary record; the server copy replaces it. If the push
	// channel already delivered the confirmed message, the insert is a
	// deduplicated no-op.
	l.removeMessageLocked(msg.MatchID, msg.ID)
	confirmed := l.insertMessageLocked(resp, DeliverySent)
	if confirmed != nil {
		confirmed.ClientRef = msg.ClientRef
		if m, ok := l.matches[msg.MatchID]; ok {
			if m.LastMessage == nil || laterMessage(confirmed, m.LastMessage) {
				m.LastMessage = confirmed
			}
		}
	}
	metrics.MessagesSent.WithLabelValues("sent").Inc()
	return copyMessage(confirmed), nil
}

// ApplyConfirmedMessage projects a message that was confirmed out of band,
// such as the chat record embedded in a gift-send response.
func (l *Ledger) ApplyConfirmedMessage(d *protocol.MessageData) {
	l.mu.Lock()
	l.insertMessageLocked(d, DeliverySent)
	l.mu.Unlock()
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func (l *Ledger) removeMessageLocked(matchID, msgID string) {
	delete(l.msgIndex, msgID)
	msgs := l.messages[matchID]
	for i, m := range msgs {
		if m.ID == msgID {
			l.messages[matchID] = append(msgs[:i:i], msgs[i+1:]...)
			return
		}
	}
}

// insertSorted keeps the slice ordered by createdAt with id as tie-break.
// Ordering is display order, not arrival order.
func insertSorted(msgs []*ChatMessage, msg *ChatMessage) []*ChatMessage {
	msgs = append(msgs, msg)
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt != msgs[j].CreatedAt {
			return msgs[i].CreatedAt < msgs[j].CreatedAt
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs
}

func laterMessage(a, b *ChatMessage) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID > b.ID
}

func copyMatch(m *Match) *Match {
	if m == nil {
		return nil
	}
	out := *m
	if m.LastMessage != nil {
		msg := *m.LastMessage
		out.LastMessage = &msg
	}
	return &out
}

func copyMessage(m *ChatMessage) *ChatMessage {
	if m == nil {
		return nil
	}
	out := *m
	return &out
}
