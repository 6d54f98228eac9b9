package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// WSURL is the websocket endpoint of the messaging backend.
	WSURL string
	// APIBaseURL is the HTTP base of the backend; the chat-service
	// path is appended by the rest client.
	APIBaseURL string
	// Token is the bearer token handed to the identity collaborator.
	Token string
	// StorePath is the local message archive file. Empty disables it.
	StorePath string

	KeepAliveInterval time.Duration
	SessionLifetime   time.Duration
	ReconnectDelay    time.Duration
	StreamRetryDelay  time.Duration
}

func Load() (*Config, error) {
	// Optional .env next to the binary; real env always wins.
	_ = godotenv.Load()

	keepAlive, err := time.ParseDuration(getEnv("KEEPALIVE_INTERVAL", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid KEEPALIVE_INTERVAL: %w", err)
	}
	lifetime, err := time.ParseDuration(getEnv("SESSION_LIFETIME", "180s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_LIFETIME: %w", err)
	}
	reconnect, err := time.ParseDuration(getEnv("RECONNECT_DELAY", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECONNECT_DELAY: %w", err)
	}
	streamRetry, err := time.ParseDuration(getEnv("STREAM_RETRY_DELAY", "2s"))
	if err != nil {
		return nil, fmt.Errorf("invalid STREAM_RETRY_DELAY: %w", err)
	}

	cfg := &Config{
		WSURL:             getEnv("PALAVER_WS_URL", "ws://localhost:7000/rs"),
		APIBaseURL:        getEnv("PALAVER_API_URL", "http://localhost:8080"),
		Token:             os.Getenv("PALAVER_TOKEN"),
		StorePath:         getEnv("PALAVER_DB", "palaver.db"),
		KeepAliveInterval: keepAlive,
		SessionLifetime:   lifetime,
		ReconnectDelay:    reconnect,
		StreamRetryDelay:  streamRetry,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.WSURL == "" {
		return fmt.Errorf("PALAVER_WS_URL is required")
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("PALAVER_API_URL is required")
	}
	if c.KeepAliveInterval <= 0 {
		return fmt.Errorf("KEEPALIVE_INTERVAL must be greater than 0")
	}
	if c.SessionLifetime <= c.KeepAliveInterval {
		return fmt.Errorf("SESSION_LIFETIME must exceed KEEPALIVE_INTERVAL")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY must be greater than 0")
	}
	if c.StreamRetryDelay <= 0 {
		return fmt.Errorf("STREAM_RETRY_DELAY must be greater than 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
