package devserver

import (
	"testing"

	"github.com/fiqir/dating-app/internal/api"
	"github.com/fiqir/dating-app/internal/protocol"
)

func newSeededStore(t *testing.T) (*Store, *User, *User) {
	t.Helper()
	s := NewStore(DefaultGifts())
	a, err := s.AddUser("Hanna", "hanna@fiqir.dev", "pw-a", 2, 500)
	if err != nil {
		t.Fatalf("add user: %v", err)
	}
	b, err := s.AddUser("Dawit", "dawit@fiqir.dev", "pw-b", 1, 100)
	if err != nil {
		t.Fatalf("add user: %v", err)
	}
	return s, a, b
}

func mustMatch(t *testing.T, s *Store, a, b *User) string {
	t.Helper()
	if _, _, err := s.Like(a.ID, b.ID); err != nil {
		t.Fatalf("like: %v", err)
	}
	resp, _, err := s.Like(b.ID, a.ID)
	if err != nil {
		t.Fatalf("reverse like: %v", err)
	}
	if !resp.MutualMatch || resp.MatchData == nil {
		t.Fatal("expected mutual match")
	}
	return resp.MatchData.ID
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

func TestAuthenticate(t *testing.T) {
	s, a, _ := newSeededStore(t)

	u, err := s.Authenticate("hanna@fiqir.dev", "pw-a")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if u.ID != a.ID {
		t.Errorf("expected user %s, got %s", a.ID, u.ID)
	}

	if _, err := s.Authenticate("hanna@fiqir.dev", "wrong"); err != errBadCredentials {
		t.Errorf("expected errBadCredentials, got %v", err)
	}
	if _, err := s.Authenticate("nobody@fiqir.dev", "pw"); err != errBadCredentials {
		t.Errorf("expected errBadCredentials for unknown email, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Likes and mutual-match detection
// ---------------------------------------------------------------------------

func TestLike_OneDirectionalNotifiesLikedUser(t *testing.T) {
	s, a, b := newSeededStore(t)

	resp, events, err := s.Like(a.ID, b.ID)
	if err != nil {
		t.Fatalf("like: %v", err)
	}
	if resp.MutualMatch {
		t.Error("one-directional like must not be a match")
	}
	if len(events) != 1 || events[0].userID != b.ID || events[0].typ != protocol.TypeNewLike {
		t.Fatalf("expected one new_like event for %s, got %+v", b.ID, events)
	}
}

func TestLike_MutualCreatesOneMatchAndNotifiesBoth(t *testing.T) {
	s, a, b := newSeededStore(t)

	if _, _, err := s.Like(a.ID, b.ID); err != nil {
		t.Fatalf("like: %v", err)
	}
	resp, events, err := s.Like(b.ID, a.ID)
	if err != nil {
		t.Fatalf("reverse like: %v", err)
	}

	if !resp.MutualMatch || resp.MatchData == nil {
		t.Fatal("expected mutual match with match data")
	}
	if len(events) != 2 {
		t.Fatalf("expected new_match events for both participants, got %d", len(events))
	}
	for _, ev := range events {
		if ev.typ != protocol.TypeNewMatch {
			t.Errorf("expected new_match, got %s", ev.typ)
		}
	}

	if got := len(s.Matches(a.ID)); got != 1 {
		t.Errorf("expected 1 match for liker, got %d", got)
	}
	if got := len(s.Matches(b.ID)); got != 1 {
		t.Errorf("expected 1 match for liked, got %d", got)
	}
}

func TestLike_RepeatReturnsExistingEdge(t *testing.T) {
	s, a, b := newSeededStore(t)

	first, _, err := s.Like(a.ID, b.ID)
	if err != nil {
		t.Fatalf("like: %v", err)
	}
	second, events, err := s.Like(a.ID, b.ID)
	if err != nil {
		t.Fatalf("repeat like: %v", err)
	}
	if second.LikeID != first.LikeID {
		t.Errorf("repeat like created a second edge: %s vs %s", second.LikeID, first.LikeID)
	}
	if len(events) != 0 {
		t.Errorf("repeat like must not re-notify, got %d events", len(events))
	}
}

func TestLike_SelfAndUnknownTargetRejected(t *testing.T) {
	s, a, _ := newSeededStore(t)

	if _, _, err := s.Like(a.ID, a.ID); err != errInvalidInput {
		t.Errorf("self-like: expected errInvalidInput, got %v", err)
	}
	if _, _, err := s.Like(a.ID, "u-ghost"); err != errInvalidInput {
		t.Errorf("unknown target: expected errInvalidInput, got %v", err)
	}
}

func TestRemoveLike_MatchedEdgeUnmatches(t *testing.T) {
	s, a, b := newSeededStore(t)
	matchID := mustMatch(t, s, a, b)

	if _, _, err := s.SendMessage(matchID, a.ID, "selam", ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	likes := s.LikesBy(a.ID)
	if len(likes) != 1 {
		t.Fatalf("expected 1 outgoing like, got %d", len(likes))
	}
	if err := s.RemoveLike(a.ID, likes[0].LikeID); err != nil {
		t.Fatalf("remove like: %v", err)
	}

	if got := len(s.Matches(a.ID)); got != 0 {
		t.Errorf("expected match torn down for remover, got %d", got)
	}
	if got := len(s.Matches(b.ID)); got != 0 {
		t.Errorf("expected match torn down for partner, got %d", got)
	}
	if _, _, err := s.Messages(matchID, a.ID); err != errNotFound {
		t.Errorf("expected messages gone with the match, got %v", err)
	}
}

func TestRemoveLike_OnlyLikerMayRemove(t *testing.T) {
	s, a, b := newSeededStore(t)
	if _, _, err := s.Like(a.ID, b.ID); err != nil {
		t.Fatalf("like: %v", err)
	}
	likeID := s.LikesBy(a.ID)[0].LikeID

	if err := s.RemoveLike(b.ID, likeID); err != errNotFound {
		t.Errorf("expected errNotFound for foreign edge, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Messaging
// ---------------------------------------------------------------------------

func TestSendMessage_NotifiesPartnerOnly(t *testing.T) {
	s, a, b := newSeededStore(t)
	matchID := mustMatch(t, s, a, b)

	msg, events, err := s.SendMessage(matchID, a.ID, "selam", "ref-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.SenderID != a.ID || msg.MatchID != matchID {
		t.Errorf("unexpected message projection: %+v", msg)
	}
	if len(events) != 1 || events[0].userID != b.ID || events[0].typ != protocol.TypeNewMessage {
		t.Fatalf("expected one new_message event for partner, got %+v", events)
	}
}

func TestSendMessage_ClientRefIsIdempotent(t *testing.T) {
	s, a, b := newSeededStore(t)
	matchID := mustMatch(t, s, a, b)

	first, _, err := s.SendMessage(matchID, a.ID, "selam", "ref-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	second, events, err := s.SendMessage(matchID, a.ID, "selam", "ref-1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("retry created a duplicate: %s vs %s", second.ID, first.ID)
	}
	if len(events) != 0 {
		t.Errorf("retry must not re-notify, got %d events", len(events))
	}

	msgs, _, err := s.Messages(matchID, a.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("expected exactly 1 stored message, got %d", len(msgs))
	}
}

func TestSendMessage_NonParticipantRejected(t *testing.T) {
	s, a, b := newSeededStore(t)
	matchID := mustMatch(t, s, a, b)
	c, _ := s.AddUser("Selam", "selam@fiqir.dev", "pw-c", 2, 0)

	if _, _, err := s.SendMessage(matchID, c.ID, "hi", ""); err != errNotFound {
		t.Errorf("expected errNotFound, got %v", err)
	}
}

func TestMessages_FetchMarksReadAndEmitsReceipt(t *testing.T) {
	s, a, b := newSeededStore(t)
	matchID := mustMatch(t, s, a, b)

	if _, _, err := s.SendMessage(matchID, a.ID, "selam", ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Partner has one unread message until they fetch the conversation.
	if got := s.Matches(b.ID)[0].UnreadCount; got != 1 {
		t.Fatalf("expected 1 unread before fetch, got %d", got)
	}

	_, events, err := s.Messages(matchID, b.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(events) != 1 || events[0].userID != a.ID || events[0].typ != protocol.TypeReadReceipt {
		t.Fatalf("expected read_receipt for sender, got %+v", events)
	}

	if got := s.Matches(b.ID)[0].UnreadCount; got != 0 {
		t.Errorf("expected 0 unread after fetch, got %d", got)
	}

	// A second fetch with nothing new emits no receipt.
	_, events, err = s.Messages(matchID, b.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no receipt on a clean re-fetch, got %+v", events)
	}
}

// ---------------------------------------------------------------------------
// Gifting
// ---------------------------------------------------------------------------

func TestSendGift_AtomicDebitCreditAndMessage(t *testing.T) {
	s, a, b := newSeededStore(t)
	matchID := mustMatch(t, s, a, b)

	resp, events, err := s.SendGift(a.ID, b.ID, "rose") // 50 coins
	if err != nil {
		t.Fatalf("send gift: %v", err)
	}

	if resp.Balance != 450 {
		t.Errorf("expected sender balance 450, got %d", resp.Balance)
	}
	if resp.PlatformShare != "12.50" || resp.CreatorShare != "37.50" {
		t.Errorf("unexpected split: platform=%s creator=%s", resp.PlatformShare, resp.CreatorShare)
	}
	if resp.Message == nil || resp.Message.Gift == nil {
		t.Fatal("expected gift chat message in the response")
	}

	recipient, err := s.Wallet(b.ID)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if recipient.Balance != 137 { // 100 + floor(50*0.75)
		t.Errorf("expected recipient balance 137, got %d", recipient.Balance)
	}
	if recipient.TotalEarned != 37 {
		t.Errorf("expected total earned 37, got %d", recipient.TotalEarned)
	}

	// Recipient gets the chat message and the wallet credit event.
	var gotMessage, gotGift bool
	for _, ev := range events {
		if ev.userID != b.ID {
			t.Errorf("unexpected event recipient %s", ev.userID)
		}
		switch ev.typ {
		case protocol.TypeNewMessage:
			gotMessage = true
		case protocol.TypeGiftReceived:
			gotGift = true
		}
	}
	if !gotMessage || !gotGift {
		t.Errorf("expected new_message and gift_received, got %+v", events)
	}

	msgs, _, err := s.Messages(matchID, b.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Gift == nil {
		t.Errorf("expected one gift message in history, got %+v", msgs)
	}
}

func TestSendGift_InsufficientFundsChangesNothing(t *testing.T) {
	s, a, b := newSeededStore(t)
	matchID := mustMatch(t, s, b, a) // b has 100 coins

	if _, _, err := s.SendGift(b.ID, a.ID, "diamond"); err != errInsufficientFunds { // 500 coins
		t.Fatalf("expected errInsufficientFunds, got %v", err)
	}

	w, _ := s.Wallet(b.ID)
	if w.Balance != 100 || w.TotalSpent != 0 {
		t.Errorf("wallet must be untouched, got %+v", w)
	}
	msgs, _, err := s.Messages(matchID, a.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("no chat message may exist for a failed gift, got %d", len(msgs))
	}
}

func TestSendGift_UnmatchedRecipientRejected(t *testing.T) {
	s, a, b := newSeededStore(t)

	if _, _, err := s.SendGift(a.ID, b.ID, "rose"); err != errNotMatched {
		t.Errorf("expected errNotMatched, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Wallet and withdrawals
// ---------------------------------------------------------------------------

func TestWithdraw(t *testing.T) {
	s, a, b := newSeededStore(t)
	mustMatch(t, s, a, b)

	// Give b earnings: a sends a diamond (500 coins, b earns 375 coins =
	// 187.50 ETB at 0.50 ETB per coin).
	if _, _, err := s.SendGift(a.ID, b.ID, "diamond"); err != nil {
		t.Fatalf("send gift: %v", err)
	}

	tests := []struct {
		name    string
		userID  string
		req     api.WithdrawRequest
		wantErr error
	}{
		{"kyc too low", b.ID, api.WithdrawRequest{Method: "CHAPA", Destination: "0911", AmountETB: "10.00"}, errKycRequired},
		{"bad method", a.ID, api.WithdrawRequest{Method: "MPESA", Destination: "0911", AmountETB: "10.00"}, errInvalidInput},
		{"bad amount", a.ID, api.WithdrawRequest{Method: "CHAPA", Destination: "0911", AmountETB: "-1"}, errInvalidInput},
		{"over balance", a.ID, api.WithdrawRequest{Method: "CHAPA", Destination: "0911", AmountETB: "10.00"}, errInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Withdraw(tt.userID, tt.req); err != tt.wantErr {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	// b has earnings but kyc 1; bump to 2 via a fresh verified earner.
	c, _ := s.AddUser("Selam", "selam2@fiqir.dev", "pw", 2, 1000)
	mustMatch(t, s, a, c)
	if _, _, err := s.SendGift(a.ID, c.ID, "rose"); err != nil {
		t.Fatalf("send gift: %v", err)
	}

	resp, err := s.Withdraw(c.ID, api.WithdrawRequest{Method: "TELEBIRR", Destination: "0911223344", AmountETB: "18.00"})
	if err != nil {
		t.Fatalf("withdraw: %v", err) // earned 37 coins = 18.50 ETB
	}
	if resp.Status != "pending" || resp.RequestID == "" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestPurchase_ReturnsCheckoutURLOnly(t *testing.T) {
	s, a, _ := newSeededStore(t)

	resp, err := s.Purchase(a.ID, "pack-500")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if resp.CheckoutURL == "" {
		t.Fatal("expected a checkout url")
	}

	w, _ := s.Wallet(a.ID)
	if w.Balance != 500 {
		t.Errorf("purchase must not credit coins, got %d", w.Balance)
	}

	if err := s.ConfirmPurchase(a.ID, 200); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	w, _ = s.Wallet(a.ID)
	if w.Balance != 700 {
		t.Errorf("expected 700 after confirmation, got %d", w.Balance)
	}
}
