// Package devserver is the reference backend the client SDK develops
// against. It implements the full REST and push surface with an in-memory
// domain store, JWT auth, Redis-backed connection sessions, and an optional
// NATS bridge for multi-instance push fan-out.
package devserver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/fiqir/dating-app/internal/api"
	"github.com/fiqir/dating-app/internal/protocol"
)

// Gift transaction split and coin-to-ETB conversion used by the dev server.
var (
	platformShare = decimal.RequireFromString("0.25")
	creatorShare  = decimal.RequireFromString("0.75")
	etbPerCoin    = decimal.RequireFromString("0.50")
)

// Domain errors. The handler layer maps these to HTTP statuses and the
// error codes the client taxonomy recognizes.
var (
	errNotFound            = errors.New("not found")
	errBadCredentials      = errors.New("bad credentials")
	errNotMatched          = errors.New("recipient not matched")
	errInsufficientFunds   = errors.New("insufficient funds")
	errKycRequired         = errors.New("kyc level too low")
	errInsufficientBalance = errors.New("amount exceeds balance")
	errInvalidInput        = errors.New("invalid input")
)

// User is a registered account.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash []byte
	KYCLevel     int
}

type likeEdge struct {
	id        string
	likerID   string
	likedID   string
	status    string // pending | matched | rejected
	createdAt int64
	updatedAt int64
}

type match struct {
	id           string
	participantA string
	participantB string
	createdAt    int64
}

type message struct {
	id        string
	matchID   string
	senderID  string
	content   string
	gift      *protocol.GiftPayloadData
	clientRef string
	createdAt int64
}

type userWallet struct {
	balance     int64
	totalEarned int64
	totalSpent  int64
}

// event is a pending push notification produced by a store mutation.
type event struct {
	userID  string
	typ     string
	payload interface{}
}

// Store is the in-memory domain state. Mutations return the push events
// they imply; the caller decides how to deliver them.
type Store struct {
	mu          sync.Mutex
	users       map[string]*User // user id -> user
	usersByMail map[string]*User
	likes       map[string]*likeEdge
	likeByPair  map[[2]string]*likeEdge
	matches     map[string]*match
	matchByPair map[[2]string]*match
	messages    map[string][]*message // match id -> ordered messages
	msgByRef    map[string]*message   // client ref -> message
	readAt      map[string]map[string]int64
	wallets     map[string]*userWallet
	gifts       []api.Gift
	withdrawals map[string]string // request id -> status
	seq         int64
}

// NewStore creates an empty Store with the given gift catalog.
func NewStore(gifts []api.Gift) *Store {
	return &Store{
		users:       make(map[string]*User),
		usersByMail: make(map[string]*User),
		likes:       make(map[string]*likeEdge),
		likeByPair:  make(map[[2]string]*likeEdge),
		matches:     make(map[string]*match),
		matchByPair: make(map[[2]string]*match),
		messages:    make(map[string][]*message),
		msgByRef:    make(map[string]*message),
		readAt:      make(map[string]map[string]int64),
		wallets:     make(map[string]*userWallet),
		gifts:       gifts,
		withdrawals: make(map[string]string),
	}
}

// AddUser registers a user with a bcrypt-hashed password and an initial
// coin balance.
func (s *Store) AddUser(name, email, password string, kycLevel int, coins int64) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := &User{
		ID:           "u-" + uuid.NewString()[:8],
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		KYCLevel:     kycLevel,
	}
	s.users[u.ID] = u
	s.usersByMail[email] = u
	s.wallets[u.ID] = &userWallet{balance: coins}
	return u, nil
}

// Authenticate checks credentials and returns the user.
func (s *Store) Authenticate(email, password string) (*User, error) {
	s.mu.Lock()
	u := s.usersByMail[email]
	s.mu.Unlock()

	if u == nil {
		return nil, errBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, errBadCredentials
	}
	return u, nil
}

// User returns a user by id.
func (s *Store) User(id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	if u == nil {
		return nil, errNotFound
	}
	return u, nil
}

// now returns a strictly increasing unix timestamp so ordering keys never
// collide within one instance.
func (s *Store) now() int64 {
	t := time.Now().Unix()
	if t <= s.seq {
		t = s.seq + 1
	}
	s.seq = t
	return t
}

// ---------------------------------------------------------------------------
// Likes and matches
// ---------------------------------------------------------------------------

// Like records a directed like. When the reverse edge already exists both
// edges flip to matched and a Match is created atomically; mutual detection
// happens here and only here.
func (s *Store) Like(likerID, likedID string) (api.LikeResponse, []event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if likerID == likedID || s.users[likedID] == nil {
		return api.LikeResponse{}, nil, errInvalidInput
	}

	// Repeated like on the same target returns the existing edge.
	if edge, ok := s.likeByPair[[2]string{likerID, likedID}]; ok {
		resp := api.LikeResponse{LikeID: edge.id, MutualMatch: edge.status == "matched"}
		if resp.MutualMatch {
			if m := s.matchByPair[pairKey(likerID, likedID)]; m != nil {
				resp.MatchData = s.matchDataLocked(m, likerID)
			}
		}
		return resp, nil, nil
	}

	now := s.now()
	edge := &likeEdge{
		id: "l-" + uuid.NewString()[:8], likerID: likerID, likedID: likedID,
		status: "pending", createdAt: now, updatedAt: now,
	}
	s.likes[edge.id] = edge
	s.likeByPair[[2]string{likerID, likedID}] = edge

	reverse := s.likeByPair[[2]string{likedID, likerID}]
	if reverse == nil || reverse.status != "pending" {
		// One-directional: notify the liked user.
		return api.LikeResponse{LikeID: edge.id}, []event{{
			userID: likedID,
			typ:    protocol.TypeNewLike,
			payload: protocol.LikeData{
				LikeID: edge.id, LikerID: likerID, LikedID: likedID, CreatedAt: now,
			},
		}}, nil
	}

	edge.status = "matched"
	reverse.status = "matched"
	reverse.updatedAt = now

	m := &match{
		id: "match-" + uuid.NewString()[:8],
		participantA: likerID, participantB: likedID, createdAt: now,
	}
	s.matches[m.id] = m
	s.matchByPair[pairKey(likerID, likedID)] = m

	events := []event{
		{userID: likerID, typ: protocol.TypeNewMatch, payload: *s.matchDataLocked(m, likerID)},
		{userID: likedID, typ: protocol.TypeNewMatch, payload: *s.matchDataLocked(m, likedID)},
	}
	resp := api.LikeResponse{
		LikeID: edge.id, MutualMatch: true,
		MatchData: s.matchDataLocked(m, likerID),
	}
	return resp, events, nil
}

// RemoveLike withdraws a like. Removing a matched edge unmatches: the match
// and its messages are deleted for both sides.
func (s *Store) RemoveLike(actorID, likeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	edge := s.likes[likeID]
	if edge == nil || edge.likerID != actorID {
		return errNotFound
	}
	delete(s.likes, likeID)
	delete(s.likeByPair, [2]string{edge.likerID, edge.likedID})

	if edge.status == "matched" {
		key := pairKey(edge.likerID, edge.likedID)
		if m := s.matchByPair[key]; m != nil {
			for _, msg := range s.messages[m.id] {
				delete(s.msgByRef, msg.clientRef)
			}
			delete(s.messages, m.id)
			delete(s.readAt, m.id)
			delete(s.matches, m.id)
			delete(s.matchByPair, key)
		}
		if reverse := s.likeByPair[[2]string{edge.likedID, edge.likerID}]; reverse != nil {
			reverse.status = "pending"
			reverse.updatedAt = s.now()
		}
	}
	return nil
}

// LikesBy returns the edges where userID is the liker.
func (s *Store) LikesBy(userID string) []api.LikeEntry {
	return s.likeEntries(func(e *likeEdge) bool { return e.likerID == userID })
}

// LikesOf returns the edges where userID is the liked party.
func (s *Store) LikesOf(userID string) []api.LikeEntry {
	return s.likeEntries(func(e *likeEdge) bool { return e.likedID == userID })
}

func (s *Store) likeEntries(keep func(*likeEdge) bool) []api.LikeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []api.LikeEntry{}
	for _, e := range s.likes {
		if keep(e) {
			out = append(out, api.LikeEntry{
				LikeID: e.id, LikerID: e.likerID, LikedID: e.likedID,
				Status: e.status, CreatedAt: e.createdAt, UpdatedAt: e.updatedAt,
			})
		}
	}
	return out
}

// Matches returns the user's matches with per-user unread counts.
func (s *Store) Matches(userID string) []protocol.MatchData {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []protocol.MatchData{}
	for _, m := range s.matches {
		if m.participantA == userID || m.participantB == userID {
			out = append(out, *s.matchDataLocked(m, userID))
		}
	}
	return out
}

// matchDataLocked projects a match for one participant's point of view.
func (s *Store) matchDataLocked(m *match, userID string) *protocol.MatchData {
	d := &protocol.MatchData{
		ID:           m.id,
		ParticipantA: m.participantA,
		ParticipantB: m.participantB,
		CreatedAt:    m.createdAt,
	}
	msgs := s.messages[m.id]
	if len(msgs) > 0 {
		d.LastMessage = messageData(msgs[len(msgs)-1])
	}
	watermark := s.readAt[m.id][userID]
	for _, msg := range msgs {
		if msg.senderID != userID && msg.createdAt > watermark {
			d.UnreadCount++
		}
	}
	return d
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// Messages returns a match's history for a participant. Fetching counts as
// reading: the caller's watermark advances and the partner gets a
// read_receipt for the newest partner-authored message.
func (s *Store) Messages(matchID, userID string) ([]protocol.MessageData, []event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.matches[matchID]
	if m == nil || !isParticipant(m, userID) {
		return nil, nil, errNotFound
	}

	msgs := s.messages[matchID]
	out := make([]protocol.MessageData, 0, len(msgs))
	var lastPartnerMsg *message
	for _, msg := range msgs {
		out = append(out, *messageData(msg))
		if msg.senderID != userID {
			lastPartnerMsg = msg
		}
	}

	var events []event
	if lastPartnerMsg != nil {
		if s.readAt[matchID] == nil {
			s.readAt[matchID] = make(map[string]int64)
		}
		if lastPartnerMsg.createdAt > s.readAt[matchID][userID] {
			s.readAt[matchID][userID] = lastPartnerMsg.createdAt
			events = append(events, event{
				userID: partnerOf(m, userID),
				typ:    protocol.TypeReadReceipt,
				payload: protocol.ReadReceiptData{
					MatchID: matchID, ReaderID: userID,
					LastMessageID: lastPartnerMsg.id, ReadAt: s.now(),
				},
			})
		}
	}
	return out, events, nil
}

// SendMessage appends a text message. A repeated client ref returns the
// original record instead of duplicating it, making retries idempotent.
func (s *Store) SendMessage(matchID, senderID, content, clientRef string) (*protocol.MessageData, []event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.matches[matchID]
	if m == nil || !isParticipant(m, senderID) {
		return nil, nil, errNotFound
	}
	if content == "" {
		return nil, nil, errInvalidInput
	}
	if clientRef != "" {
		if prev := s.msgByRef[clientRef]; prev != nil && prev.matchID == matchID {
			return messageData(prev), nil, nil
		}
	}

	msg := s.appendMessageLocked(m, senderID, content, nil, clientRef)
	events := []event{{
		userID:  partnerOf(m, senderID),
		typ:     protocol.TypeNewMessage,
		payload: *messageData(msg),
	}}
	return messageData(msg), events, nil
}

func (s *Store) appendMessageLocked(m *match, senderID, content string, gift *protocol.GiftPayloadData, clientRef string) *message {
	msg := &message{
		id:      "m-" + uuid.NewString()[:8],
		matchID: m.id, senderID: senderID, content: content,
		gift: gift, clientRef: clientRef, createdAt: s.now(),
	}
	s.messages[m.id] = append(s.messages[m.id], msg)
	if clientRef != "" {
		s.msgByRef[clientRef] = msg
	}
	return msg
}

// ---------------------------------------------------------------------------
// Wallet and gifting
// ---------------------------------------------------------------------------

// Gifts returns the catalog.
func (s *Store) Gifts() []api.Gift {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Gift, len(s.gifts))
	copy(out, s.gifts)
	return out
}

// Wallet returns a user's wallet snapshot. BalanceETB is the withdrawable
// fiat value of earned coins.
func (s *Store) Wallet(userID string) (api.WalletData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.walletDataLocked(userID)
}

func (s *Store) walletDataLocked(userID string) (api.WalletData, error) {
	w := s.wallets[userID]
	u := s.users[userID]
	if w == nil || u == nil {
		return api.WalletData{}, errNotFound
	}
	return api.WalletData{
		Balance:     w.balance,
		TotalEarned: w.totalEarned,
		TotalSpent:  w.totalSpent,
		BalanceETB:  decimal.NewFromInt(w.totalEarned).Mul(etbPerCoin).StringFixed(2),
		KYCLevel:    u.KYCLevel,
	}, nil
}

// SendGift executes the gift transaction atomically: sender debit,
// recipient credit of the creator share, and the chat message all commit
// together or not at all.
func (s *Store) SendGift(senderID, recipientID, giftID string) (*api.GiftSendResponse, []event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var gift *api.Gift
	for i := range s.gifts {
		if s.gifts[i].ID == giftID {
			gift = &s.gifts[i]
			break
		}
	}
	if gift == nil {
		return nil, nil, errInvalidInput
	}

	m := s.matchByPair[pairKey(senderID, recipientID)]
	if m == nil {
		return nil, nil, errNotMatched
	}

	sender := s.wallets[senderID]
	recipient := s.wallets[recipientID]
	if sender == nil || recipient == nil {
		return nil, nil, errNotFound
	}
	if sender.balance < gift.CoinCost {
		return nil, nil, errInsufficientFunds
	}

	cost := decimal.NewFromInt(gift.CoinCost)
	earned := cost.Mul(creatorShare).IntPart()

	sender.balance -= gift.CoinCost
	sender.totalSpent += gift.CoinCost
	recipient.balance += earned
	recipient.totalEarned += earned

	msg := s.appendMessageLocked(m, senderID, gift.Name, &protocol.GiftPayloadData{
		GiftID: gift.ID, Name: gift.Name, CoinCost: gift.CoinCost,
	}, "")

	txID := "tx-" + uuid.NewString()[:8]
	events := []event{
		{
			userID:  recipientID,
			typ:     protocol.TypeNewMessage,
			payload: *messageData(msg),
		},
		{
			userID: recipientID,
			typ:    protocol.TypeGiftReceived,
			payload: protocol.GiftReceivedData{
				TransactionID: txID, SenderID: senderID,
				GiftID: gift.ID, CoinsEarned: earned,
			},
		},
	}
	resp := &api.GiftSendResponse{
		TransactionID: txID,
		RecipientID:   recipientID,
		GiftID:        gift.ID,
		CoinCost:      gift.CoinCost,
		PlatformShare: cost.Mul(platformShare).StringFixed(2),
		CreatorShare:  cost.Mul(creatorShare).StringFixed(2),
		Balance:       sender.balance,
		Message:       messageData(msg),
	}
	return resp, events, nil
}

// Purchase returns a checkout URL for an external payment flow. No balance
// changes until the payment provider confirms out of band.
func (s *Store) Purchase(userID, packageID string) (api.PurchaseResponse, error) {
	if packageID == "" {
		return api.PurchaseResponse{}, errInvalidInput
	}
	return api.PurchaseResponse{
		CheckoutURL: fmt.Sprintf("https://checkout.chapa.co/pay/%s-%s", userID, packageID),
	}, nil
}

// ConfirmPurchase credits coins after an out-of-band payment confirmation.
func (s *Store) ConfirmPurchase(userID string, coins int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.wallets[userID]
	if w == nil {
		return errNotFound
	}
	w.balance += coins
	return nil
}

// Withdraw validates and records a withdrawal request. The same KYC and
// balance rules the client checks locally are enforced again here.
func (s *Store) Withdraw(userID string, req api.WithdrawRequest) (api.WithdrawResponse, error) {
	amount, err := decimal.NewFromString(req.AmountETB)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		return api.WithdrawResponse{}, errInvalidInput
	}
	if req.Method != "CHAPA" && req.Method != "TELEBIRR" {
		return api.WithdrawResponse{}, errInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[userID]
	w := s.wallets[userID]
	if u == nil || w == nil {
		return api.WithdrawResponse{}, errNotFound
	}
	if u.KYCLevel < 2 {
		return api.WithdrawResponse{}, errKycRequired
	}
	available := decimal.NewFromInt(w.totalEarned).Mul(etbPerCoin)
	if amount.GreaterThan(available) {
		return api.WithdrawResponse{}, errInsufficientBalance
	}

	id := "wr-" + uuid.NewString()[:8]
	s.withdrawals[id] = "pending"
	return api.WithdrawResponse{RequestID: id, Status: "pending"}, nil
}

// Partner returns the other participant of a match the user is in.
func (s *Store) Partner(matchID, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.matches[matchID]
	if m == nil || !isParticipant(m, userID) {
		return "", errNotFound
	}
	return partnerOf(m, userID), nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

func isParticipant(m *match, userID string) bool {
	return m.participantA == userID || m.participantB == userID
}

func partnerOf(m *match, userID string) string {
	if m.participantA == userID {
		return m.participantB
	}
	return m.participantA
}

func messageData(msg *message) *protocol.MessageData {
	return &protocol.MessageData{
		ID:        msg.id,
		MatchID:   msg.matchID,
		SenderID:  msg.senderID,
		Content:   msg.content,
		Gift:      msg.gift,
		CreatedAt: msg.createdAt,
	}
}
