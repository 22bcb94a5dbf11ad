package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fiqir/dating-app/internal/config"
	"github.com/fiqir/dating-app/internal/devserver"
	"github.com/fiqir/dating-app/internal/logger"
)

func main() {
	cfg := config.New()
	cfg.Log.Component = "devserver"
	logger.InitFromConfig(cfg)

	store := devserver.NewStore(devserver.DefaultGifts())
	users, err := devserver.Seed(store, devserver.DefaultSeedUsers())
	if err != nil {
		logger.Error("seeding failed", "err", err)
		os.Exit(1)
	}
	for _, u := range users {
		logger.Info("seeded user", "id", u.ID, "name", u.Name, "email", u.Email, "kyc", u.KYCLevel)
	}

	srv, err := devserver.New(cfg, store)
	if err != nil {
		logger.Error("server setup failed", "err", err)
		os.Exit(1)
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
		os.Exit(0)
	}()

	if err := srv.Run(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
