package devserver

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/fiqir/dating-app/internal/config"
	"github.com/fiqir/dating-app/internal/logger"
	"github.com/fiqir/dating-app/internal/messaging"
	"github.com/fiqir/dating-app/internal/metrics"
	"github.com/fiqir/dating-app/internal/moderation"
	"github.com/fiqir/dating-app/internal/ratelimit"
)

// Server wires the REST surface, the push hub, and their backing stores.
type Server struct {
	cfg      *config.Config
	store    *Store
	auth     *Auth
	hub      *Hub
	notifier *Notifier
	presence PresenceStore
	nats     *messaging.NATSClient
	filter   *moderation.Filter
	limiter  *ratelimit.Limiter // nil without Redis

	httpServer *http.Server
}

// New assembles a Server from configuration. Redis and NATS are optional;
// without them the server runs single-instance with in-process delivery.
func New(cfg *config.Config, store *Store) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		store:    store,
		auth:     NewAuth(cfg.DevServer.JWTSecret, cfg.DevServer.TokenTTL),
		hub:      NewHub(),
		presence: NoopPresence{},
		filter:   moderation.NewFilter(),
	}

	if addr := cfg.DevServer.RedisAddr; addr != "" {
		host, _ := os.Hostname()
		presence, err := NewRedisPresence(addr, host)
		if err != nil {
			return nil, err
		}
		s.presence = presence
		s.limiter = ratelimit.NewLimiter(presence.Client())
	}

	if url := cfg.DevServer.NATSURL; url != "" {
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = url
		nats, err := messaging.NewNATSClient(natsCfg)
		if err != nil {
			return nil, err
		}
		s.nats = nats
	}

	s.notifier = NewNotifier(s.hub, s.nats)
	s.hub.SetOnDisconnect(s.dropPresence)
	return s, nil
}

// Handler builds the full HTTP handler: public auth and push endpoints,
// token-guarded API routes, CORS, and metrics.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/auth/login/", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handlePush)
	r.Handle("/metrics", metrics.Handler())
	r.HandleFunc("/health", s.handleHealth)

	authed := r.PathPrefix("/").Subrouter()
	authed.Use(s.auth.Middleware)
	authed.HandleFunc("/matches/like/", s.handleLike).Methods(http.MethodPost)
	authed.HandleFunc("/matches/remove-like/", s.handleRemoveLike).Methods(http.MethodPost)
	authed.HandleFunc("/matches/people-i-like/", s.handlePeopleILike).Methods(http.MethodGet)
	authed.HandleFunc("/matches/people-who-like-me/", s.handlePeopleWhoLikeMe).Methods(http.MethodGet)
	authed.HandleFunc("/matches/my-matches/", s.handleMyMatches).Methods(http.MethodGet)
	authed.HandleFunc("/matches/{id}/messages/", s.handleMessages).Methods(http.MethodGet)
	authed.HandleFunc("/matches/{id}/send-message/", s.handleSendMessage).Methods(http.MethodPost)
	authed.HandleFunc("/gifts/", s.handleGiftCatalog).Methods(http.MethodGet)
	authed.HandleFunc("/gifts/send/", s.handleSendGift).Methods(http.MethodPost)
	authed.HandleFunc("/wallet/", s.handleWallet).Methods(http.MethodGet)
	authed.HandleFunc("/wallet/purchase/", s.handlePurchase).Methods(http.MethodPost)
	authed.HandleFunc("/wallet/withdraw/", s.handleWithdraw).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.DevServer.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":      "ok",
		"connections": s.hub.Count(),
	})
}

// Run starts the HTTP listener and the push heartbeat, blocking until the
// listener stops.
func (s *Server) Run() error {
	s.hub.StartHeartbeat(30*time.Second, 10*time.Second)

	s.httpServer = &http.Server{
		Addr:    s.cfg.DevServer.ListenAddr,
		Handler: s.Handler(),
	}
	logger.Info("dev server listening", "addr", s.cfg.DevServer.ListenAddr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("devserver: http server error: %w", err)
	}
	return nil
}

// Shutdown stops the listener, closes all push connections, and releases
// the Redis and NATS connections.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.hub.Close()
	if s.nats != nil {
		s.nats.Close()
	}
	if cerr := s.presence.Close(); cerr != nil && err == nil {
		err = cerr
	}
	logger.Info("dev server stopped")
	return err
}
