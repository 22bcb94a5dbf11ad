// Package session owns the lifecycle of one logged-in client session. It
// assembles the push channel, router, ledger, wallet, and payout gate,
// created on login and torn down on logout, so no component is reachable as
// an ambient global.
package session

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fiqir/dating-app/internal/api"
	"github.com/fiqir/dating-app/internal/apperr"
	"github.com/fiqir/dating-app/internal/config"
	"github.com/fiqir/dating-app/internal/ledger"
	"github.com/fiqir/dating-app/internal/logger"
	"github.com/fiqir/dating-app/internal/payout"
	"github.com/fiqir/dating-app/internal/protocol"
	"github.com/fiqir/dating-app/internal/router"
	"github.com/fiqir/dating-app/internal/state"
	"github.com/fiqir/dating-app/internal/transport"
	"github.com/fiqir/dating-app/internal/wallet"
)

// Session holds the per-login component graph. All projections hang off it;
// when the session ends they go with it.
type Session struct {
	cfg   *config.Config
	store state.Store

	client  *api.Client
	channel *transport.Channel
	router  *router.Router
	ledger  *ledger.Ledger
	wallet  *wallet.Coordinator
	payout  *payout.Gate

	profile api.Profile
	onAuth  func(error)
}

// Login authenticates, persists the session, and brings the push channel
// up. The returned Session is fully wired: pushed events flow into the
// ledger and wallet without further setup.
func Login(ctx context.Context, cfg *config.Config, store state.Store, email, password string) (*Session, error) {
	client := api.NewClient(cfg.API.BaseURL, cfg.API.Timeout)

	resp, err := client.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	client.SetToken(resp.Token)

	if err := store.Save(&state.Snapshot{
		Token:   resp.Token,
		Profile: &resp.Profile,
		SavedAt: time.Now().Unix(),
	}); err != nil {
		logger.Warn("persisting session state failed", "err", err)
	}

	return start(ctx, cfg, store, client, resp.Profile, resp.Token)
}

// Resume restores a session from persisted state without re-authenticating.
// A missing or cleared token means there is nothing to resume.
func Resume(ctx context.Context, cfg *config.Config, store state.Store) (*Session, error) {
	snap, err := store.Load()
	if err != nil {
		return nil, err
	}
	if snap.Token == "" || snap.Profile == nil {
		return nil, apperr.Authentication("no stored session", nil)
	}
	if tokenExpired(snap.Token) {
		if cerr := store.Clear(); cerr != nil {
			logger.Warn("clearing expired session failed", "err", cerr)
		}
		return nil, apperr.Authentication("stored session expired", nil)
	}

	client := api.NewClient(cfg.API.BaseURL, cfg.API.Timeout)
	client.SetToken(snap.Token)
	return start(ctx, cfg, store, client, *snap.Profile, snap.Token)
}

// tokenExpired inspects the stored bearer token's exp claim without
// verifying the signature, which only the server can do. A token that is
// not a parseable JWT is left for the server to judge on first use.
func tokenExpired(token string) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now())
}

// start wires the component graph and connects the push channel.
func start(ctx context.Context, cfg *config.Config, store state.Store, client *api.Client, profile api.Profile, token string) (*Session, error) {
	s := &Session{
		cfg:     cfg,
		store:   store,
		client:  client,
		profile: profile,
		router:  router.New(),
	}
	s.ledger = ledger.New(profile.ID, client)
	s.wallet = wallet.New(client, s.ledger)
	s.payout = payout.New(client, s.wallet)

	// Subscriptions outlive any individual connection; a channel reconnect
	// never requires re-subscribing.
	for _, eventType := range []string{
		protocol.TypeNewLike,
		protocol.TypeNewMatch,
		protocol.TypeNewMessage,
		protocol.TypeReadReceipt,
	} {
		s.router.Subscribe(eventType, s.ledger.ApplyPushedEvent)
	}
	s.router.Subscribe(protocol.TypeGiftReceived, s.wallet.ApplyPushedEvent)

	s.channel = transport.NewChannel(transport.Config{
		URL:     cfg.Push.URL,
		Token:   token,
		Backoff: cfg.Push.ReconnectBackoff,
	})
	s.channel.OnMessage(s.router.DispatchRaw)
	s.channel.OnFatal(s.handleFatal)

	if err := s.channel.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// handleFatal reacts to unrecoverable channel errors. Authentication
// failures invalidate the stored session and propagate to the app layer to
// force a re-login.
func (s *Session) handleFatal(err error) {
	if apperr.IsAuthentication(err) {
		logger.Warn("session invalidated by push channel", "err", err)
		if cerr := s.store.Clear(); cerr != nil {
			logger.Warn("clearing stored session failed", "err", cerr)
		}
	}
	if s.onAuth != nil {
		s.onAuth(err)
	}
}

// OnSessionExpired registers the callback invoked when the session dies for
// authentication reasons. Must be set before the failure happens.
func (s *Session) OnSessionExpired(fn func(error)) {
	s.onAuth = fn
}

// Profile returns the authenticated user's profile.
func (s *Session) Profile() api.Profile { return s.profile }

// Client returns the authenticated REST client.
func (s *Session) Client() *api.Client { return s.client }

// Router returns the notification router for additional subscriptions, such
// as UI typing indicators.
func (s *Session) Router() *router.Router { return s.router }

// Ledger returns the interaction projection.
func (s *Session) Ledger() *ledger.Ledger { return s.ledger }

// Wallet returns the wallet coordinator.
func (s *Session) Wallet() *wallet.Coordinator { return s.wallet }

// Payout returns the withdrawal gate.
func (s *Session) Payout() *payout.Gate { return s.payout }

// Channel returns the push channel, mainly for state observation.
func (s *Session) Channel() *transport.Channel { return s.channel }

// SetTyping sends a typing indicator over the push channel. Best effort; a
// buffered or dropped indicator is not an application error.
func (s *Session) SetTyping(matchID string, isTyping bool) error {
	data, err := protocol.NewEnvelope(protocol.TypeSetTyping, protocol.TypingData{
		MatchID:  matchID,
		UserID:   s.profile.ID,
		IsTyping: isTyping,
	})
	if err != nil {
		return err
	}
	return s.channel.Send(data)
}

// SaveCoinSnapshot persists the last-known coin balance for the next
// startup. Called after wallet refreshes worth remembering.
func (s *Session) SaveCoinSnapshot(ctx context.Context) {
	snap, err := s.wallet.Wallet(ctx)
	if err != nil {
		return
	}
	stored, err := s.store.Load()
	if err != nil {
		return
	}
	stored.Coins = snap.Balance
	stored.SavedAt = time.Now().Unix()
	if err := s.store.Save(stored); err != nil {
		logger.Warn("persisting coin snapshot failed", "err", err)
	}
}

// Logout tears the session down: the channel closes gracefully and the
// persisted state is cleared.
func (s *Session) Logout() error {
	if err := s.channel.Close(1000, "logout"); err != nil {
		logger.Warn("closing push channel on logout", "err", err)
	}
	return s.store.Clear()
}
