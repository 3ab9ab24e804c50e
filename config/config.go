// Package config loads the bus configuration from the environment. The core
// never opens files itself; the embedding environment provides secrets via
// the process environment (or a .env file in development).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries the secrets and tunables the transport stack needs.
type Config struct {
	MasterKey       string
	BootToken       string
	ServiceName     string
	Embedded        bool
	Development     bool
	MaxPayloadSize  int
	RateLimitBurst  int
	RateLimitWindow time.Duration
	HandshakeTTL    time.Duration
	SessionTTL      time.Duration
	TicketTTL       time.Duration
	KeyUpdateEvery  time.Duration
	ErrorThreshold  uint64
}

// Defaults mirrored from the record-layer and session-cache tunables.
const (
	DefaultMaxPayloadSize  = 65536
	DefaultRateLimitBurst  = 100
	DefaultRateLimitWindow = 60 * time.Second
	DefaultHandshakeTTL    = 5 * time.Second
	DefaultSessionTTL      = 3600 * time.Second
	DefaultTicketTTL       = 3600 * time.Second
	DefaultKeyUpdateEvery  = 30 * time.Second
	DefaultErrorThreshold  = 10
)

// GetEnvOrDefault returns the environment value for key, or defaultValue if
// it is unset or empty.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

// Load reads the configuration from the environment. A .env file is loaded
// first if present; missing .env is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		MasterKey:       os.Getenv("SECUREBUS_MASTER_KEY"),
		BootToken:       os.Getenv("SECUREBUS_BOOT_TOKEN"),
		ServiceName:     GetEnvOrDefault("SECUREBUS_SERVICE", "securebus"),
		Embedded:        GetEnvOrDefault("SECUREBUS_EMBEDDED", "false") == "true",
		Development:     GetEnvOrDefault("SECUREBUS_DEV", "false") == "true",
		MaxPayloadSize:  getEnvInt("SECUREBUS_MAX_PAYLOAD", DefaultMaxPayloadSize),
		RateLimitBurst:  getEnvInt("SECUREBUS_RATE_BURST", DefaultRateLimitBurst),
		RateLimitWindow: getEnvDuration("SECUREBUS_RATE_WINDOW", DefaultRateLimitWindow),
		HandshakeTTL:    getEnvDuration("SECUREBUS_HANDSHAKE_TTL", DefaultHandshakeTTL),
		SessionTTL:      getEnvDuration("SECUREBUS_SESSION_TTL", DefaultSessionTTL),
		TicketTTL:       getEnvDuration("SECUREBUS_TICKET_TTL", DefaultTicketTTL),
		KeyUpdateEvery:  getEnvDuration("SECUREBUS_KEY_UPDATE_EVERY", DefaultKeyUpdateEvery),
		ErrorThreshold:  uint64(getEnvInt("SECUREBUS_ERROR_THRESHOLD", DefaultErrorThreshold)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the required secrets. The master key is mandatory; the
// boot token is only required in embedded mode, where the bootstrap
// provisioning step issues it.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MasterKey) == "" {
		return fmt.Errorf("config: SECUREBUS_MASTER_KEY is required")
	}
	if len(c.MasterKey) < 16 {
		return fmt.Errorf("config: SECUREBUS_MASTER_KEY too short (%d bytes, need >= 16)", len(c.MasterKey))
	}
	if c.Embedded && strings.TrimSpace(c.BootToken) == "" {
		return fmt.Errorf("config: SECUREBUS_BOOT_TOKEN is required in embedded mode")
	}
	return nil
}

// NormalizeHex validates a hex-encoded secret: non-empty, even length, hex
// digits only. It returns the lower-cased form.
func NormalizeHex(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || len(trimmed)%2 != 0 {
		return "", fmt.Errorf("config: invalid hex value")
	}
	for _, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return "", fmt.Errorf("config: invalid hex value")
		}
	}
	return strings.ToLower(trimmed), nil
}
