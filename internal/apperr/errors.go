// Package apperr defines the client-side error taxonomy. Every failure that
// crosses a component boundary is one of these kinds, so callers can always
// tell a retryable network blip from a fatal auth failure or a
// user-actionable business rule.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and presentation.
type Kind int

const (
	// KindTransientNetwork covers retryable failures: transport errors,
	// channel reconnects, transient 5xx responses.
	KindTransientNetwork Kind = iota + 1

	// KindAuthentication is fatal to the current session and must be
	// surfaced to force a re-login.
	KindAuthentication

	// KindValidation marks client-detected bad input that was never sent.
	KindValidation

	// KindBusinessRule marks server- or client-enforced domain rules the
	// user can act on. Each carries a distinct code and message.
	KindBusinessRule

	// KindServerRejection is the catch-all for unexpected 4xx/5xx.
	KindServerRejection
)

// Error is the concrete error type used across the SDK. Code is a stable
// machine-readable identifier; Message is safe to show to the user.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Is matches two apperr.Errors by code, so errors.Is(err, ErrKycRequired)
// holds for any instance carrying the same code, not just the sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Business-rule sentinels. Compare with errors.Is.
var (
	ErrInsufficientFunds = &Error{
		Kind: KindBusinessRule, Code: "insufficient_funds",
		Message: "You don't have enough coins for this gift.",
	}
	ErrRecipientUnreachable = &Error{
		Kind: KindBusinessRule, Code: "recipient_unreachable",
		Message: "You can only send gifts to people you've matched with.",
	}
	ErrKycRequired = &Error{
		Kind: KindBusinessRule, Code: "kyc_required",
		Message: "Complete identity verification to withdraw your earnings.",
	}
	ErrInsufficientBalance = &Error{
		Kind: KindBusinessRule, Code: "insufficient_balance",
		Message: "Withdrawal amount exceeds your available balance.",
	}
	ErrMessageBlocked = &Error{
		Kind: KindBusinessRule, Code: "message_blocked",
		Message: "This message can't be sent because it violates community guidelines.",
	}
	ErrRateLimited = &Error{
		Kind: KindBusinessRule, Code: "rate_limited",
		Message: "You're doing that too often. Try again in a moment.",
	}
)

// Transient creates a retryable network error wrapping the cause.
func Transient(msg string, cause error) *Error {
	return &Error{Kind: KindTransientNetwork, Code: "transient_network", Message: msg, cause: cause}
}

// Authentication creates a fatal authentication error.
func Authentication(msg string, cause error) *Error {
	return &Error{Kind: KindAuthentication, Code: "authentication_failed", Message: msg, cause: cause}
}

// Validation creates a client-side validation error. The request carrying
// the bad input must never have reached the network.
func Validation(msg string, cause error) *Error {
	return &Error{Kind: KindValidation, Code: "validation_failed", Message: msg, cause: cause}
}

// ServerRejection creates a catch-all rejection error for an unexpected
// status code.
func ServerRejection(status int, msg string) *Error {
	return &Error{
		Kind: KindServerRejection, Code: "server_rejection",
		Message: fmt.Sprintf("%s (status %d)", msg, status),
	}
}

// TransactionFailed is the generic gifting failure surfaced when the server
// rejects a gift send for a reason the client cannot act on.
func TransactionFailed(cause error) *Error {
	return &Error{
		Kind: KindServerRejection, Code: "transaction_failed",
		Message: "The gift could not be sent. Please try again.",
		cause:   cause,
	}
}

// businessCodes maps server error codes to their sentinel errors so the REST
// layer produces the exact instance callers compare against.
var businessCodes = map[string]*Error{
	ErrInsufficientFunds.Code:    ErrInsufficientFunds,
	ErrRecipientUnreachable.Code: ErrRecipientUnreachable,
	ErrKycRequired.Code:          ErrKycRequired,
	ErrInsufficientBalance.Code:  ErrInsufficientBalance,
	ErrMessageBlocked.Code:       ErrMessageBlocked,
	ErrRateLimited.Code:          ErrRateLimited,
}

// FromResponse converts an HTTP status and the server's error body into the
// taxonomy. Keeps the REST client clean by centralizing the mapping.
func FromResponse(status int, code string, detail string) error {
	if status < 400 {
		return nil
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Authentication("session is no longer valid", nil)

	case status >= 500:
		return Transient(fmt.Sprintf("server error: %s", detail), nil)

	default:
		if sentinel, ok := businessCodes[code]; ok {
			return sentinel
		}
		if detail == "" {
			detail = "request rejected"
		}
		return ServerRejection(status, detail)
	}
}

// KindOf returns the Kind of err, or 0 if err is not an apperr.Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool { return KindOf(err) == KindTransientNetwork }

// IsAuthentication reports whether err is fatal to the session.
func IsAuthentication(err error) bool { return KindOf(err) == KindAuthentication }
