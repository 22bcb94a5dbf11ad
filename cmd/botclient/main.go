// Command botclient drives two seeded accounts through the full interaction
// flow against a running dev server: like, match, chat, gift, and a payout
// check. Useful as a smoke test and as a worked example of the client SDK.
package main

import (
	"context"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fiqir/dating-app/internal/config"
	"github.com/fiqir/dating-app/internal/logger"
	"github.com/fiqir/dating-app/internal/payout"
	"github.com/fiqir/dating-app/internal/protocol"
	"github.com/fiqir/dating-app/internal/session"
	"github.com/fiqir/dating-app/internal/state"
)

func main() {
	cfg := config.New()
	cfg.Log.Component = "botclient"
	logger.InitFromConfig(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hanna := mustLogin(ctx, cfg, envDefault("BOT_A_EMAIL", "hanna@fiqir.dev"), envDefault("BOT_A_PASSWORD", "hanna-pass"))
	dawit := mustLogin(ctx, cfg, envDefault("BOT_B_EMAIL", "dawit@fiqir.dev"), envDefault("BOT_B_PASSWORD", "dawit-pass"))
	defer hanna.Logout()
	defer dawit.Logout()

	// Surface typing indicators on Dawit's side as they arrive.
	dawit.Router().Subscribe(protocol.TypeTyping, func(ev *protocol.Event) {
		if ev.Typing == nil {
			return
		}
		logger.Info("typing indicator", "match", ev.Typing.MatchID, "from", ev.Typing.UserID, "typing", ev.Typing.IsTyping)
	})

	// --- Like both ways until the edge becomes a match ---

	res, err := hanna.Ledger().Like(ctx, dawit.Profile().ID)
	if err != nil {
		fatal("like failed", err)
	}
	logger.Info("liked", "target", dawit.Profile().Name, "mutual", res.MutualMatch)

	res, err = dawit.Ledger().Like(ctx, hanna.Profile().ID)
	if err != nil {
		fatal("like back failed", err)
	}
	if !res.MutualMatch || res.Match == nil {
		fatal("expected a mutual match", nil)
	}
	matchID := res.Match.ID
	logger.Info("matched", "match", matchID)

	// --- Chat with typing indicators and a read receipt ---

	if err := hanna.SetTyping(matchID, true); err != nil {
		logger.Warn("typing indicator failed", "err", err)
	}
	msg, err := hanna.Ledger().SendMessage(ctx, matchID, "selam! buna this weekend?")
	if err != nil {
		fatal("send failed", err)
	}
	hanna.SetTyping(matchID, false)
	logger.Info("sent", "id", msg.ID, "delivery", msg.Delivery)

	// Fetching the conversation reads it, which pushes a receipt to Hanna.
	if _, err := dawit.Ledger().RefreshMessages(ctx, matchID); err != nil {
		fatal("fetching conversation failed", err)
	}
	time.Sleep(500 * time.Millisecond)

	for _, m := range hanna.Ledger().Messages(matchID) {
		logger.Info("conversation", "sender", m.SenderID, "content", m.Content, "read", m.Read)
	}

	// --- Send a gift and watch the creator share land ---

	gifts, err := hanna.Wallet().Catalog(ctx)
	if err != nil {
		fatal("catalog failed", err)
	}
	tx, err := hanna.Wallet().SendGift(ctx, dawit.Profile().ID, gifts[0].ID)
	if err != nil {
		fatal("gift failed", err)
	}
	logger.Info("gift sent", "tx", tx.TransactionID, "cost", tx.CoinCost, "creator_share", tx.CreatorShare.String())
	time.Sleep(500 * time.Millisecond)

	wallet, err := dawit.Wallet().Refresh(ctx)
	if err != nil {
		fatal("wallet refresh failed", err)
	}
	logger.Info("recipient wallet", "coins", wallet.Balance, "earned", wallet.TotalEarned, "etb", wallet.BalanceETB.String())

	// --- Payout eligibility for the earnings ---

	decision := payout.CanWithdraw(wallet, decimal.NewFromInt(10))
	logger.Info("withdraw 10 ETB", "allowed", decision.Allowed, "reason", decision.Reason)

	for _, m := range dawit.Ledger().Matches() {
		logger.Info("match state", "id", m.ID, "unread", m.UnreadCount)
	}
	logger.Info("bot run complete")
}

func mustLogin(ctx context.Context, cfg *config.Config, email, password string) *session.Session {
	s, err := session.Login(ctx, cfg, state.NewMemoryStore(), email, password)
	if err != nil {
		fatal("login failed", err)
	}
	logger.Info("logged in", "user", s.Profile().Name, "id", s.Profile().ID)
	return s
}

func fatal(msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}

func envDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
