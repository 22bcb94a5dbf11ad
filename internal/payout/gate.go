// Package payout gates withdrawal requests on identity verification and
// balance before they ever reach the network. The checks are advisory; the
// server re-validates every submission.
package payout

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fiqir/dating-app/internal/api"
	"github.com/fiqir/dating-app/internal/apperr"
	"github.com/fiqir/dating-app/internal/wallet"
)

// RequiredKYCLevel is the minimum verification tier for withdrawals.
const RequiredKYCLevel = 2

// WithdrawalRequest is a withdrawal as entered by the user. AmountETB is
// validated separately since it is a decimal, not a string field.
type WithdrawalRequest struct {
	Method      string `validate:"required,oneof=CHAPA TELEBIRR"`
	Destination string `validate:"required,min=4"`
	AmountETB   decimal.Decimal
}

// Decision is the advisory outcome of the withdrawal predicate.
type Decision struct {
	Allowed bool
	Reason  string
}

// Gate validates withdrawal requests against the cached wallet state.
type Gate struct {
	client   *api.Client
	wallet   *wallet.Coordinator
	validate *validator.Validate
}

// New creates a Gate backed by the given wallet coordinator.
func New(client *api.Client, w *wallet.Coordinator) *Gate {
	return &Gate{
		client:   client,
		wallet:   w,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// CanWithdraw is the pure withdrawal predicate over a wallet snapshot.
func CanWithdraw(snap wallet.Snapshot, amount decimal.Decimal) Decision {
	switch {
	case snap.KYCLevel < RequiredKYCLevel:
		return Decision{Reason: "identity verification incomplete"}
	case amount.LessThanOrEqual(decimal.Zero):
		return Decision{Reason: "amount must be positive"}
	case amount.GreaterThan(snap.BalanceETB):
		return Decision{Reason: "amount exceeds available balance"}
	default:
		return Decision{Allowed: true}
	}
}

// SubmitWithdrawal runs the full local gate and, only if everything passes,
// submits the request. Malformed input fails with a validation error, a low
// verification tier with KycRequired, and an overdraft with
// InsufficientBalance, all without any network traffic.
func (g *Gate) SubmitWithdrawal(ctx context.Context, req WithdrawalRequest) (*api.WithdrawResponse, error) {
	if err := g.validate.Struct(req); err != nil {
		return nil, apperr.Validation("invalid withdrawal request", err)
	}
	if req.AmountETB.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.Validation("withdrawal amount must be positive", nil)
	}

	snap, err := g.wallet.Wallet(ctx)
	if err != nil {
		return nil, err
	}
	if snap.KYCLevel < RequiredKYCLevel {
		return nil, apperr.ErrKycRequired
	}
	if req.AmountETB.GreaterThan(snap.BalanceETB) {
		return nil, apperr.ErrInsufficientBalance
	}

	return g.client.SubmitWithdrawal(ctx, api.WithdrawRequest{
		Method:      req.Method,
		Destination: req.Destination,
		AmountETB:   req.AmountETB.StringFixed(2),
	})
}
