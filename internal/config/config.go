// Package config provides centralized configuration for the studybook
// client. It loads from CLI flags and environment variables, validates
// required fields, and provides sensible defaults.
//
// The --local-only flag runs without a remote document store; everything is
// served from the encrypted local store.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/studybook/studybook/internal/crypto"
	"github.com/studybook/studybook/internal/ratelimit"
)

// Config holds all client configuration.
type Config struct {
	// Local persistence
	DataDir      string // Directory for the local store database
	DatabaseName string // File name of the local store database
	LocalKey     string // 64 hex characters (32 bytes); empty disables encryption
	MasterKey    string // Hex master secret to derive LocalKey from when unset
	Profile      string // Profile name, used for key derivation

	// Share links
	BaseURL string // Origin used when building share links

	// Remote document store
	LocalOnly    bool          // If true, never touch the remote store (--local-only)
	ReadyTimeout time.Duration // How long to wait for the remote SDK before going local-only

	// Cache and subscription windows
	Freshness   time.Duration // Window during which a refresh skips the remote refetch
	OwnLimit    int           // Subscription window for the session's own notes
	PublicLimit int           // Subscription window for shared public notes
	SettleDelay time.Duration // Delay between regaining connectivity and resubscribing

	// Rate limiting
	RateLimitConfig ratelimit.Config
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Load builds the configuration from environment variables and the given
// flag values.
func Load(localOnly bool, dataDir string) (*Config, error) {
	cfg := &Config{}

	cfg.LocalOnly = localOnly
	cfg.DataDir = getEnvOrDefault("DATA_DIR", "./data")
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.DatabaseName = getEnvOrDefault("DATABASE_NAME", "studybook.db")
	cfg.LocalKey = strings.TrimSpace(os.Getenv("LOCAL_KEY"))
	cfg.MasterKey = strings.TrimSpace(os.Getenv("MASTER_KEY"))
	cfg.Profile = getEnvOrDefault("PROFILE", "default")
	cfg.BaseURL = getEnvOrDefault("BASE_URL", "https://studybook.app")

	cfg.ReadyTimeout = parseDurationOrDefault("READY_TIMEOUT", 5*time.Second)
	cfg.Freshness = parseDurationOrDefault("CACHE_FRESHNESS", 30*time.Second)
	cfg.OwnLimit = parseIntOrDefault("OWN_NOTES_LIMIT", 50)
	cfg.PublicLimit = parseIntOrDefault("PUBLIC_NOTES_LIMIT", 20)
	cfg.SettleDelay = parseDurationOrDefault("RECONNECT_SETTLE_DELAY", time.Second)

	cfg.RateLimitConfig = ratelimit.DefaultConfig
	cfg.RateLimitConfig.CleanupInterval = parseDurationOrDefault("RATE_LIMIT_CLEANUP_INTERVAL", time.Hour)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.DataDir == "" {
		errs = append(errs, "DATA_DIR must not be empty")
	}
	if c.DatabaseName == "" {
		errs = append(errs, "DATABASE_NAME must not be empty")
	}
	if c.LocalKey != "" {
		if len(c.LocalKey) != 64 {
			errs = append(errs, "LOCAL_KEY must be 64 hex characters (generate with: openssl rand -hex 32)")
		} else if _, err := hex.DecodeString(c.LocalKey); err != nil {
			errs = append(errs, "LOCAL_KEY must be valid hex")
		}
	}
	if c.MasterKey != "" {
		if len(c.MasterKey) < 64 {
			errs = append(errs, "MASTER_KEY must be at least 64 hex characters (generate with: openssl rand -hex 32)")
		} else if _, err := hex.DecodeString(c.MasterKey); err != nil {
			errs = append(errs, "MASTER_KEY must be valid hex")
		}
	}
	if c.Profile == "" {
		errs = append(errs, "PROFILE must not be empty")
	}
	if c.ReadyTimeout <= 0 {
		errs = append(errs, "READY_TIMEOUT must be positive")
	}
	if c.Freshness <= 0 {
		errs = append(errs, "CACHE_FRESHNESS must be positive")
	}
	if c.OwnLimit <= 0 {
		errs = append(errs, "OWN_NOTES_LIMIT must be positive")
	}
	if c.PublicLimit <= 0 {
		errs = append(errs, "PUBLIC_NOTES_LIMIT must be positive")
	}
	if c.SettleDelay < 0 {
		errs = append(errs, "RECONNECT_SETTLE_DELAY must not be negative")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// LocalKeyBytes returns the local store encryption key: the explicit
// LOCAL_KEY when set, otherwise a key derived from MASTER_KEY for this
// profile. Returns nil when encryption is disabled.
func (c *Config) LocalKeyBytes() []byte {
	if c.LocalKey != "" {
		key, err := hex.DecodeString(c.LocalKey)
		if err != nil {
			return nil
		}
		return key
	}
	if c.MasterKey != "" {
		master, err := hex.DecodeString(c.MasterKey)
		if err != nil {
			return nil
		}
		key, err := crypto.DeriveLocalKey(master, c.Profile, 1)
		if err != nil {
			return nil
		}
		return key
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseDurationOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func parseIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
