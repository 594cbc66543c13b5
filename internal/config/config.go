// Package config loads runtime settings for the keygate API. Configuration
// is an explicit struct handed to each component by its constructor; there
// are no process-wide settings singletons.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the service.
//
// TokenSecret signs all JWTs (HS256) and must be set outside local
// development. DatabaseDSN may be empty, in which case the API runs on the
// in-memory store.
type Config struct {
	Addr        string
	DatabaseDSN string

	TokenSecret      string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	VerificationTTL  time.Duration
	OTPLength        int
	OTPTTL           time.Duration
	BcryptCost       int
	MagicLinkBaseURL string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	RateBurst     int
	RatePerSecond int
	MaxBodyBytes  int64
}

// Load builds a Config from defaults overlaid with environment variables.
// An optional .env file in the working directory is read first; a missing
// file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:             ":8080",
		TokenSecret:      "dev-secret",
		AccessTTL:        30 * time.Minute,
		RefreshTTL:       7 * 24 * time.Hour,
		VerificationTTL:  10 * time.Minute,
		OTPLength:        6,
		OTPTTL:           time.Minute,
		BcryptCost:       12,
		MagicLinkBaseURL: "http://localhost:8080/v1/auth/magic-link/verify",
		SMTPPort:         587,
		SMTPFrom:         "no-reply@keygate.dev",
		RateBurst:        20,
		RatePerSecond:    10,
		MaxBodyBytes:     1 << 20,
	}

	cfg.Addr = envString("KEYGATE_ADDR", cfg.Addr)
	cfg.DatabaseDSN = envString("KEYGATE_PG_DSN", cfg.DatabaseDSN)
	cfg.TokenSecret = envString("KEYGATE_TOKEN_SECRET", cfg.TokenSecret)
	cfg.MagicLinkBaseURL = envString("KEYGATE_MAGIC_LINK_URL", cfg.MagicLinkBaseURL)
	cfg.SMTPHost = envString("KEYGATE_SMTP_HOST", cfg.SMTPHost)
	cfg.SMTPUsername = envString("KEYGATE_SMTP_USERNAME", cfg.SMTPUsername)
	cfg.SMTPPassword = envString("KEYGATE_SMTP_PASSWORD", cfg.SMTPPassword)
	cfg.SMTPFrom = envString("KEYGATE_SMTP_FROM", cfg.SMTPFrom)

	var err error
	if cfg.AccessTTL, err = envDuration("KEYGATE_ACCESS_TTL", cfg.AccessTTL); err != nil {
		return nil, err
	}
	if cfg.RefreshTTL, err = envDuration("KEYGATE_REFRESH_TTL", cfg.RefreshTTL); err != nil {
		return nil, err
	}
	if cfg.VerificationTTL, err = envDuration("KEYGATE_VERIFICATION_TTL", cfg.VerificationTTL); err != nil {
		return nil, err
	}
	if cfg.OTPTTL, err = envDuration("KEYGATE_OTP_TTL", cfg.OTPTTL); err != nil {
		return nil, err
	}
	if cfg.OTPLength, err = envInt("KEYGATE_OTP_LENGTH", cfg.OTPLength); err != nil {
		return nil, err
	}
	if cfg.BcryptCost, err = envInt("KEYGATE_BCRYPT_COST", cfg.BcryptCost); err != nil {
		return nil, err
	}
	if cfg.SMTPPort, err = envInt("KEYGATE_SMTP_PORT", cfg.SMTPPort); err != nil {
		return nil, err
	}
	if cfg.RateBurst, err = envInt("KEYGATE_RATE_BURST", cfg.RateBurst); err != nil {
		return nil, err
	}
	if cfg.RatePerSecond, err = envInt("KEYGATE_RATE_PER_SEC", cfg.RatePerSecond); err != nil {
		return nil, err
	}
	maxBody, err := envInt("KEYGATE_MAX_BODY_BYTES", int(cfg.MaxBodyBytes))
	if err != nil {
		return nil, err
	}
	cfg.MaxBodyBytes = int64(maxBody)

	return cfg, nil
}

// SMTPConfigured reports whether an outbound relay is set up.
func (c *Config) SMTPConfigured() bool {
	return strings.TrimSpace(c.SMTPHost) != ""
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
