package apperr

import (
	"errors"
	"net/http"
	"testing"
)

func TestFromResponse_Mapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		code   string
		want   Kind
	}{
		{"unauthorized", http.StatusUnauthorized, "", KindAuthentication},
		{"forbidden", http.StatusForbidden, "", KindAuthentication},
		{"server error", http.StatusInternalServerError, "", KindTransientNetwork},
		{"bad gateway", http.StatusBadGateway, "", KindTransientNetwork},
		{"business code", http.StatusConflict, "insufficient_funds", KindBusinessRule},
		{"unknown 4xx", http.StatusTeapot, "weird", KindServerRejection},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := FromResponse(tc.status, tc.code, "detail")
			if got := KindOf(err); got != tc.want {
				t.Errorf("expected kind %d, got %d (%v)", tc.want, got, err)
			}
		})
	}
}

func TestFromResponse_SentinelIdentity(t *testing.T) {
	err := FromResponse(http.StatusConflict, "kyc_required", "")
	if !errors.Is(err, ErrKycRequired) {
		t.Errorf("expected ErrKycRequired, got %v", err)
	}
	if errors.Is(err, ErrInsufficientFunds) {
		t.Error("distinct business errors must not collapse into one another")
	}
}

func TestFromResponse_Success(t *testing.T) {
	if err := FromResponse(http.StatusOK, "", ""); err != nil {
		t.Errorf("2xx should map to nil, got %v", err)
	}
}

func TestErrorIs_MatchesByCode(t *testing.T) {
	fresh := &Error{Kind: KindBusinessRule, Code: "insufficient_funds", Message: "other text"}
	if !errors.Is(fresh, ErrInsufficientFunds) {
		t.Error("errors with the same code should match the sentinel")
	}
}

func TestUnwrap_PreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Transient("push channel lost", cause)
	if !errors.Is(err, cause) {
		t.Error("wrapped cause should be reachable via errors.Is")
	}
	if !IsTransient(err) {
		t.Error("expected transient error")
	}
}

func TestDistinctUserMessages(t *testing.T) {
	msgs := map[string]bool{}
	for _, e := range []*Error{ErrInsufficientFunds, ErrRecipientUnreachable, ErrKycRequired, ErrInsufficientBalance} {
		if msgs[e.Message] {
			t.Errorf("duplicate user-facing message: %q", e.Message)
		}
		msgs[e.Message] = true
	}
}
