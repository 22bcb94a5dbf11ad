package devserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fiqir/dating-app/internal/api"
	"github.com/fiqir/dating-app/internal/logger"
	"github.com/fiqir/dating-app/internal/ratelimit"
)

// writeJSON encodes v with a 200 status.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encoding response failed", "err", err)
	}
}

// writeError emits the {code, detail} error body shared by all endpoints.
func writeError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"code": code, "detail": detail})
}

// writeDomainError maps store errors to HTTP statuses and the error codes
// the client taxonomy recognizes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBadCredentials):
		writeError(w, http.StatusUnauthorized, "authentication_failed", "bad credentials")
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, errNotMatched):
		writeError(w, http.StatusUnprocessableEntity, "recipient_unreachable", "recipient is not matched with you")
	case errors.Is(err, errInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_funds", "coin balance too low")
	case errors.Is(err, errKycRequired):
		writeError(w, http.StatusUnprocessableEntity, "kyc_required", "identity verification required")
	case errors.Is(err, errInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_balance", "amount exceeds withdrawable balance")
	case errors.Is(err, errInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request")
	default:
		logger.Error("unhandled domain error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// allow applies a rate limiting rule to the authenticated user. Without
// Redis there is no limiter and everything passes.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, rule ratelimit.Rule) bool {
	if s.limiter == nil {
		return true
	}
	ok, _ := s.limiter.Allow(r.Context(), authedUser(r), rule)
	if !ok {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "slow down and try again shortly")
	}
	return ok
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return false
	}
	return true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	user, err := s.store.Authenticate(req.Email, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	token, err := s.auth.Issue(user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, api.LoginResponse{
		Token:   token,
		Profile: api.Profile{ID: user.ID, Name: user.Name, KYCLevel: user.KYCLevel},
	})
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	var req api.LikeRequest
	if !decode(w, r, &req) {
		return
	}
	if !s.allow(w, r, ratelimit.RuleLike) {
		return
	}
	resp, events, err := s.store.Like(authedUser(r), req.Liked)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.notifier.PublishAll(events)
	writeJSON(w, resp)
}

func (s *Server) handleRemoveLike(w http.ResponseWriter, r *http.Request) {
	var req api.RemoveLikeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.store.RemoveLike(authedUser(r), req.LikeID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handlePeopleILike(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"results": s.store.LikesBy(authedUser(r))})
}

func (s *Server) handlePeopleWhoLikeMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"results": s.store.LikesOf(authedUser(r))})
}

func (s *Server) handleMyMatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"results": s.store.Matches(authedUser(r))})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["id"]
	msgs, events, err := s.store.Messages(matchID, authedUser(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.notifier.PublishAll(events)
	writeJSON(w, map[string]interface{}{"results": msgs})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req api.SendMessageRequest
	if !decode(w, r, &req) {
		return
	}
	if !s.allow(w, r, ratelimit.RuleMessage) {
		return
	}
	if res := s.filter.Check(req.Content); res.Blocked {
		logger.Info("message blocked", "user", authedUser(r), "reason", res.Reason, "term", res.Term)
		writeError(w, http.StatusUnprocessableEntity, "message_blocked", "message violates community guidelines")
		return
	}
	matchID := mux.Vars(r)["id"]
	msg, events, err := s.store.SendMessage(matchID, authedUser(r), req.Content, req.ClientRef)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.notifier.PublishAll(events)
	writeJSON(w, msg)
}

func (s *Server) handleGiftCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"results": s.store.Gifts()})
}

func (s *Server) handleSendGift(w http.ResponseWriter, r *http.Request) {
	var req api.SendGiftRequest
	if !decode(w, r, &req) {
		return
	}
	if !s.allow(w, r, ratelimit.RuleGift) {
		return
	}
	resp, events, err := s.store.SendGift(authedUser(r), req.RecipientID, req.GiftID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.notifier.PublishAll(events)
	writeJSON(w, resp)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.Wallet(authedUser(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, data)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req api.PurchaseRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.store.Purchase(authedUser(r), req.PackageID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req api.WithdrawRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.store.Withdraw(authedUser(r), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, resp)
}
