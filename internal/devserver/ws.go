package devserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/fiqir/dating-app/internal/logger"
	"github.com/fiqir/dating-app/internal/protocol"
)

// handlePush upgrades the push endpoint. Auth rides in the token query
// parameter; a bad token is rejected before the upgrade so the client sees
// a handshake failure it can classify as fatal.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		logger.Warn("push upgrade failed", "err", err)
		return
	}

	c := s.hub.Add(userID, netConn)
	s.registerPresence(userID)
	logger.Info("push connected", "user", userID, "total", s.hub.Count())

	go s.readLoop(c)
}

// registerPresence records the connection in the presence store and, with
// NATS configured, subscribes to the user's event subject so cross-instance
// events reach this connection.
func (s *Server) registerPresence(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.presence.Connect(ctx, userID); err != nil {
		logger.Warn("presence connect failed", "user", userID, "err", err)
	}
	if s.nats != nil {
		if err := s.nats.SubscribeUserEvents(userID, s.notifier.deliverFromBridge(userID)); err != nil {
			logger.Warn("nats subscribe failed", "user", userID, "err", err)
		}
	}
}

// dropPresence is the hub disconnect callback.
func (s *Server) dropPresence(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.presence.Disconnect(ctx, userID); err != nil {
		logger.Warn("presence disconnect failed", "user", userID, "err", err)
	}
	if s.nats != nil {
		if err := s.nats.UnsubscribeUserEvents(userID); err != nil {
			logger.Debug("nats unsubscribe", "user", userID, "err", err)
		}
	}
	logger.Info("push disconnected", "user", userID, "total", s.hub.Count())
}

// readLoop consumes inbound frames from one push connection. The only
// upstream application message is the typing indicator, forwarded to the
// match partner; everything else just proves liveness.
func (s *Server) readLoop(c *pushConn) {
	defer s.hub.Remove(c)

	for {
		data, err := wsutil.ReadClientText(c.netConn)
		if err != nil {
			return
		}
		s.hub.Touch(c.userID)
		s.refreshPresence(c.userID)

		ev, err := protocol.ParseEvent(data)
		if err != nil {
			logger.Warn("malformed upstream frame", "user", c.userID, "err", err)
			continue
		}
		if ev.Type != protocol.TypeSetTyping || ev.Typing == nil {
			continue
		}

		partner, err := s.store.Partner(ev.Typing.MatchID, c.userID)
		if err != nil {
			continue
		}
		s.notifier.Publish(partner, protocol.TypeTyping, protocol.TypingData{
			MatchID:  ev.Typing.MatchID,
			UserID:   c.userID,
			IsTyping: ev.Typing.IsTyping,
		})
	}
}

func (s *Server) refreshPresence(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.presence.Refresh(ctx, userID); err != nil {
		logger.Debug("presence refresh", "user", userID, "err", err)
	}
}
