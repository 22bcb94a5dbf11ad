package config

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	Log struct {
		Level     string
		Format    string
		Component string
		Source    bool
	}

	API struct {
		BaseURL string
		Timeout time.Duration
	}

	Push struct {
		URL              string
		ReconnectBackoff time.Duration
	}

	State struct {
		Path string
	}

	DevServer struct {
		ListenAddr  string
		RedisAddr   string
		NATSURL     string // empty = in-process fan-out only
		JWTSecret   string
		TokenTTL    time.Duration
		CORSOrigins []string
	}
}

func New() *Config {
	cfg := &Config{}

	// Logger
	cfg.Log.Level = getEnvDefault("LOG_LEVEL", "info")
	cfg.Log.Format = getEnvDefault("LOG_FORMAT", "text")
	cfg.Log.Component = getEnvDefault("LOG_COMPONENT", "fiqir")
	cfg.Log.Source = isTruthy(os.Getenv("LOG_SOURCE"))

	// REST API
	cfg.API.BaseURL = getEnvDefault("API_BASE_URL", "http://localhost:8080")
	cfg.API.Timeout = getEnvDuration("API_TIMEOUT", 15*time.Second)

	// Push channel
	cfg.Push.URL = getEnvDefault("PUSH_URL", "ws://localhost:8080/ws")
	cfg.Push.ReconnectBackoff = getEnvDuration("PUSH_RECONNECT_BACKOFF", 3*time.Second)

	// Persisted client state
	cfg.State.Path = getEnvDefault("STATE_PATH", defaultStatePath())

	// Dev server
	cfg.DevServer.ListenAddr = getEnvDefault("DEVSERVER_ADDR", ":8080")
	cfg.DevServer.RedisAddr = getEnvDefault("REDIS_ADDR", "")
	cfg.DevServer.NATSURL = getEnvDefault("NATS_URL", "")
	cfg.DevServer.JWTSecret = getEnvDefault("JWT_SECRET", "fiqir-dev-secret")
	cfg.DevServer.TokenTTL = getEnvDuration("TOKEN_TTL", 24*time.Hour)
	if origins := getEnvDefault("CORS_ORIGINS", "*"); origins != "" {
		cfg.DevServer.CORSOrigins = strings.Split(origins, ",")
	}

	return cfg
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".fiqir-state.json"
	}
	return dir + "/fiqir/state.json"
}

func getEnvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
