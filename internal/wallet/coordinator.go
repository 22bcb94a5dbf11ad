// Package wallet owns the coin balance projection and the gifting flow. The
// cached balance only ever takes values the server has stated: a full
// refresh, or the post-transaction balance in a confirmed gift response. A
// pushed credit is a hint that the balance moved, not a statement of what it
// is, so it triggers a refresh instead of arithmetic that could double-count
// against a refresh that already includes it.
package wallet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fiqir/dating-app/internal/api"
	"github.com/fiqir/dating-app/internal/apperr"
	"github.com/fiqir/dating-app/internal/ledger"
	"github.com/fiqir/dating-app/internal/logger"
	"github.com/fiqir/dating-app/internal/metrics"
	"github.com/fiqir/dating-app/internal/protocol"
)

// refreshTimeout bounds the background refresh triggered by a pushed credit.
const refreshTimeout = 10 * time.Second

// Snapshot is the cached wallet state. BalanceETB is the fiat equivalent the
// payout flow validates against; it only changes on a full refresh.
type Snapshot struct {
	Balance     int64
	TotalEarned int64
	TotalSpent  int64
	BalanceETB  decimal.Decimal
	KYCLevel    int
}

// GiftTransaction is the confirmed result of a gift send. The platform and
// creator shares come back as exact decimal strings from the server.
type GiftTransaction struct {
	TransactionID string
	RecipientID   string
	GiftID        string
	CoinCost      int64
	PlatformShare decimal.Decimal
	CreatorShare  decimal.Decimal
}

// Coordinator tracks the coin balance, gates gift sends on affordability,
// and reconciles optimistic debits against confirmed server responses. One
// instance per logged-in session; all wallet mutations go through it.
type Coordinator struct {
	client *api.Client
	ledger *ledger.Ledger

	mu        sync.Mutex
	snap      Snapshot
	loaded    bool
	catalog   []api.Gift
	appliedTx map[string]struct{}
}

// New creates a Coordinator. The ledger receives the chat message embedded
// in a confirmed gift send, as an ordered side effect of the wallet debit.
func New(client *api.Client, l *ledger.Ledger) *Coordinator {
	return &Coordinator{
		client:    client,
		ledger:    l,
		appliedTx: make(map[string]struct{}),
	}
}

// Wallet returns the cached snapshot, fetching it on first use.
func (c *Coordinator) Wallet(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.loaded {
		snap := c.snap
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Refresh replaces the cached snapshot with the authoritative one.
func (c *Coordinator) Refresh(ctx context.Context) (Snapshot, error) {
	data, err := c.client.Wallet(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	metrics.WalletRefreshes.Inc()

	etb, err := decimal.NewFromString(data.BalanceETB)
	if err != nil {
		logger.Warn("unparseable balance_etb in wallet response", "value", data.BalanceETB, "err", err)
		etb = decimal.Zero
	}

	c.mu.Lock()
	c.snap = Snapshot{
		Balance:     data.Balance,
		TotalEarned: data.TotalEarned,
		TotalSpent:  data.TotalSpent,
		BalanceETB:  etb,
		KYCLevel:    data.KYCLevel,
	}
	c.loaded = true
	snap := c.snap
	c.mu.Unlock()
	return snap, nil
}

// CanAfford reports whether the cached balance covers the given coin cost.
// UI gating only; the server re-validates on send.
func (c *Coordinator) CanAfford(coinCost int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded && c.snap.Balance >= coinCost
}

// Catalog returns the gift catalog, fetching it on first use.
func (c *Coordinator) Catalog(ctx context.Context) ([]api.Gift, error) {
	c.mu.Lock()
	if c.catalog != nil {
		out := make([]api.Gift, len(c.catalog))
		copy(out, c.catalog)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	gifts, err := c.client.GiftCatalog(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.catalog = gifts
	c.mu.Unlock()
	return gifts, nil
}

// SendGift performs the gift transaction: affordability is checked locally
// before any request is issued, and a confirmed response applies the wallet
// debit and the chat message insertion together, never piecemeal.
func (c *Coordinator) SendGift(ctx context.Context, recipientID, giftID string) (*GiftTransaction, error) {
	gift, err := c.findGift(ctx, giftID)
	if err != nil {
		return nil, err
	}
	if _, err := c.Wallet(ctx); err != nil {
		return nil, err
	}

	if !c.CanAfford(gift.CoinCost) {
		metrics.GiftsSent.WithLabelValues("insufficient_funds").Inc()
		return nil, apperr.ErrInsufficientFunds
	}

	resp, err := c.client.SendGift(ctx, recipientID, giftID)
	if err != nil {
		if errors.Is(err, apperr.ErrInsufficientFunds) {
			// The cached balance was stale. Take the authoritative one
			// instead of trusting the local projection.
			metrics.GiftsSent.WithLabelValues("insufficient_funds").Inc()
			if _, rerr := c.Refresh(ctx); rerr != nil {
				logger.Warn("wallet refresh after rejected gift failed", "err", rerr)
			}
			return nil, err
		}
		metrics.GiftsSent.WithLabelValues("rejected").Inc()
		switch apperr.KindOf(err) {
		case apperr.KindBusinessRule, apperr.KindAuthentication, apperr.KindTransientNetwork:
			return nil, err
		default:
			return nil, apperr.TransactionFailed(err)
		}
	}

	// The response balance is the server's post-debit statement. Adopting
	// it (instead of subtracting the cost locally) stays correct when a
	// refresh interleaved and already stored the debited balance.
	c.mu.Lock()
	c.appliedTx[resp.TransactionID] = struct{}{}
	c.snap.Balance = resp.Balance
	c.loaded = true
	c.mu.Unlock()

	// Message insertion is a dependent side effect of the confirmed debit.
	if resp.Message != nil {
		c.ledger.ApplyConfirmedMessage(resp.Message)
	}
	metrics.GiftsSent.WithLabelValues("sent").Inc()

	return &GiftTransaction{
		TransactionID: resp.TransactionID,
		RecipientID:   resp.RecipientID,
		GiftID:        resp.GiftID,
		CoinCost:      resp.CoinCost,
		PlatformShare: parseShare(resp.PlatformShare),
		CreatorShare:  parseShare(resp.CreatorShare),
	}, nil
}

// PurchaseCoins obtains a checkout URL from the payment gateway. The balance
// is untouched; it changes only when a later confirmation event or refresh
// reports the credited amount.
func (c *Coordinator) PurchaseCoins(ctx context.Context, packageID string) (string, error) {
	resp, err := c.client.PurchaseCoins(ctx, packageID)
	if err != nil {
		return "", err
	}
	return resp.CheckoutURL, nil
}

// ApplyPushedEvent reacts to an incoming gift credit. The event carries the
// earned amount but not the resulting balance, and the client cannot tell
// whether its last refresh already included this transaction, so the credit
// is taken from a fresh authoritative snapshot rather than applied as a
// delta. Keyed by transaction id: a replayed event schedules nothing.
func (c *Coordinator) ApplyPushedEvent(ev *protocol.Event) {
	if ev == nil || ev.Type != protocol.TypeGiftReceived || ev.GiftReceived == nil {
		return
	}
	d := ev.GiftReceived
	if d.TransactionID == "" {
		return
	}

	c.mu.Lock()
	if _, seen := c.appliedTx[d.TransactionID]; seen {
		c.mu.Unlock()
		return
	}
	c.appliedTx[d.TransactionID] = struct{}{}
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if _, err := c.Refresh(ctx); err != nil {
			logger.Warn("wallet refresh after gift_received failed", "err", err)
		}
	}()
}

// findGift resolves a catalog entry by id.
func (c *Coordinator) findGift(ctx context.Context, giftID string) (*api.Gift, error) {
	gifts, err := c.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	for i := range gifts {
		if gifts[i].ID == giftID {
			return &gifts[i], nil
		}
	}
	return nil, apperr.Validation("unknown gift id", nil)
}

func parseShare(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
