// Package api implements the REST client for the Fiqir server. All verbs
// and paths mirror the server contract; responses and error bodies are
// decoded into typed structs and mapped onto the apperr taxonomy.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/fiqir/dating-app/internal/apperr"
	"github.com/fiqir/dating-app/internal/metrics"
	"github.com/fiqir/dating-app/internal/protocol"
)

// Client is a thin, goroutine-safe REST client. The auth token may be set
// after construction (login) or swapped on refresh.
type Client struct {
	baseURL string
	httpc   *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient creates a Client for the given base URL. A zero timeout falls
// back to 15 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// SetToken sets the bearer token used for authenticated requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// do executes one JSON request/response cycle. Transport failures map to
// TransientNetworkError; non-2xx statuses are decoded and mapped through
// apperr.FromResponse. out may be nil for endpoints with no useful body.
func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	start := time.Now()
	defer func() {
		metrics.RequestLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("api: build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return apperr.Transient(fmt.Sprintf("%s request failed", op), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var se serverError
		_ = json.NewDecoder(resp.Body).Decode(&se)
		return apperr.FromResponse(resp.StatusCode, se.Code, se.Detail)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("api: decode %s response: %w", op, err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

// Login authenticates and returns the session token with the profile.
// The token is NOT stored on the client; the session layer owns that.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.do(ctx, "login", http.MethodPost, "/auth/login/", LoginRequest{Email: email, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Matches
// ---------------------------------------------------------------------------

// Like records a like on the target user. The response reports whether the
// like completed a mutual match.
func (c *Client) Like(ctx context.Context, targetID string) (*LikeResponse, error) {
	var out LikeResponse
	err := c.do(ctx, "like", http.MethodPost, "/matches/like/", LikeRequest{Liked: targetID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveLike withdraws a previously recorded like by id.
func (c *Client) RemoveLike(ctx context.Context, likeID string) error {
	return c.do(ctx, "remove_like", http.MethodPost, "/matches/remove-like/", RemoveLikeRequest{LikeID: likeID}, nil)
}

// PeopleILike lists outgoing like edges.
func (c *Client) PeopleILike(ctx context.Context) ([]LikeEntry, error) {
	var out listResponse[LikeEntry]
	if err := c.do(ctx, "people_i_like", http.MethodGet, "/matches/people-i-like/", nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// PeopleWhoLikeMe lists incoming like edges. Access is gated server-side by
// the caller's entitlement state.
func (c *Client) PeopleWhoLikeMe(ctx context.Context) ([]LikeEntry, error) {
	var out listResponse[LikeEntry]
	if err := c.do(ctx, "people_who_like_me", http.MethodGet, "/matches/people-who-like-me/", nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// MyMatches lists the caller's matches with unread counts and last messages.
func (c *Client) MyMatches(ctx context.Context) ([]protocol.MatchData, error) {
	var out listResponse[protocol.MatchData]
	if err := c.do(ctx, "my_matches", http.MethodGet, "/matches/my-matches/", nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Messages lists all messages of a match in server order.
func (c *Client) Messages(ctx context.Context, matchID string) ([]protocol.MessageData, error) {
	var out listResponse[protocol.MessageData]
	path := fmt.Sprintf("/matches/%s/messages/", matchID)
	if err := c.do(ctx, "messages", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// SendMessage posts a chat message to a match and returns the server-side
// record with its assigned id.
func (c *Client) SendMessage(ctx context.Context, matchID, content, clientRef string) (*protocol.MessageData, error) {
	var out protocol.MessageData
	path := fmt.Sprintf("/matches/%s/send-message/", matchID)
	err := c.do(ctx, "send_message", http.MethodPost, path, SendMessageRequest{Content: content, ClientRef: clientRef}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Gifting and wallet
// ---------------------------------------------------------------------------

// GiftCatalog fetches the purchasable gift list.
func (c *Client) GiftCatalog(ctx context.Context) ([]Gift, error) {
	var out listResponse[Gift]
	if err := c.do(ctx, "gift_catalog", http.MethodGet, "/gifts/", nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// SendGift executes an atomic gift transaction: wallet debit plus chat
// message insertion, confirmed together by the server.
func (c *Client) SendGift(ctx context.Context, recipientID, giftID string) (*GiftSendResponse, error) {
	var out GiftSendResponse
	err := c.do(ctx, "send_gift", http.MethodPost, "/gifts/send/", SendGiftRequest{RecipientID: recipientID, GiftID: giftID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Wallet fetches the authoritative wallet snapshot.
func (c *Client) Wallet(ctx context.Context) (*WalletData, error) {
	var out WalletData
	if err := c.do(ctx, "wallet", http.MethodGet, "/wallet/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PurchaseCoins starts a coin purchase and returns the external checkout
// URL. The wallet balance does not change until a confirmation arrives
// out of band.
func (c *Client) PurchaseCoins(ctx context.Context, packageID string) (*PurchaseResponse, error) {
	var out PurchaseResponse
	err := c.do(ctx, "purchase_coins", http.MethodPost, "/wallet/purchase/", PurchaseRequest{PackageID: packageID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitWithdrawal submits a payout request. Client-side gating happens in
// the payout package before this is ever called.
func (c *Client) SubmitWithdrawal(ctx context.Context, req WithdrawRequest) (*WithdrawResponse, error) {
	var out WithdrawResponse
	err := c.do(ctx, "withdraw", http.MethodPost, "/wallet/withdraw/", req, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
