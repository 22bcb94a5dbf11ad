package api

import "github.com/fiqir/dating-app/internal/protocol"

// LoginRequest is the payload for POST /auth/login/.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the session token and the authenticated profile.
type LoginResponse struct {
	Token   string  `json:"token"`
	Profile Profile `json:"profile"`
}

// Profile is the authenticated user's profile as returned by the server.
type Profile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	KYCLevel int    `json:"kyc_level"`
}

// LikeRequest is the payload for POST /matches/like/.
type LikeRequest struct {
	Liked string `json:"liked"`
}

// LikeResponse is the synchronous result of a like action. MatchData is set
// only when the like completed a mutual pair.
type LikeResponse struct {
	LikeID      string              `json:"like_id"`
	MutualMatch bool                `json:"mutual_match"`
	MatchData   *protocol.MatchData `json:"match_data,omitempty"`
}

// RemoveLikeRequest is the payload for POST /matches/remove-like/.
type RemoveLikeRequest struct {
	LikeID string `json:"like_id"`
}

// LikeEntry is one row of the people-i-like / people-who-like-me lists.
type LikeEntry struct {
	LikeID    string `json:"like_id"`
	LikerID   string `json:"liker_id"`
	LikedID   string `json:"liked_id"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// SendMessageRequest is the payload for POST /matches/{id}/send-message/.
// ClientRef carries the client-generated temporary id so retries are
// idempotent server-side.
type SendMessageRequest struct {
	Content   string `json:"content"`
	ClientRef string `json:"client_ref,omitempty"`
}

// Gift is one entry of the gift catalog.
type Gift struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	CoinCost int64  `json:"coin_cost"`
}

// SendGiftRequest is the payload for POST /gifts/send/.
type SendGiftRequest struct {
	RecipientID string `json:"recipient_id"`
	GiftID      string `json:"gift_id"`
}

// GiftSendResponse confirms an atomic gift transaction: the wallet debit and
// the inserted chat message come back together.
type GiftSendResponse struct {
	TransactionID string                `json:"transaction_id"`
	RecipientID   string                `json:"recipient_id"`
	GiftID        string                `json:"gift_id"`
	CoinCost      int64                 `json:"coin_cost"`
	PlatformShare string                `json:"platform_share"`
	CreatorShare  string                `json:"creator_share"`
	Balance       int64                 `json:"balance"`
	Message       *protocol.MessageData `json:"message"`
}

// WalletData is the authoritative wallet snapshot from GET /wallet/.
type WalletData struct {
	Balance     int64  `json:"balance"`
	TotalEarned int64  `json:"total_earned"`
	TotalSpent  int64  `json:"total_spent"`
	BalanceETB  string `json:"balance_etb"`
	KYCLevel    int    `json:"kyc_level"`
}

// PurchaseRequest is the payload for POST /wallet/purchase/.
type PurchaseRequest struct {
	PackageID string `json:"package_id"`
}

// PurchaseResponse carries the external checkout URL. Obtaining it implies
// nothing about payment success.
type PurchaseResponse struct {
	CheckoutURL string `json:"checkout_url"`
}

// WithdrawRequest is the payload for POST /wallet/withdraw/.
type WithdrawRequest struct {
	Method      string `json:"method"`
	Destination string `json:"destination"`
	AmountETB   string `json:"amount_etb"`
}

// WithdrawResponse acknowledges a submitted withdrawal request.
type WithdrawResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// listResponse is the generic paginated list wrapper used by the match and
// gift list endpoints.
type listResponse[T any] struct {
	Results []T `json:"results"`
}

// serverError is the error body shape shared by all endpoints.
type serverError struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}
