// Package config loads and validates service configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the API process needs at startup.
type Config struct {
	// Addr is the address the HTTP server listens on (e.g. :8080).
	Addr string `mapstructure:"TAVOLO_ADDR"`
	// PGDSN is the Postgres DSN; empty disables the database-backed store.
	PGDSN string `mapstructure:"TAVOLO_PG_DSN"`
	// AuthSecret signs HS256 access tokens. Required.
	AuthSecret string `mapstructure:"TAVOLO_AUTH_SECRET"`
	// Issuer is the iss claim on issued access tokens.
	Issuer string `mapstructure:"TAVOLO_ISSUER"`
	// AccessTTL is the access token lifetime (e.g. "15m").
	AccessTTL time.Duration `mapstructure:"TAVOLO_ACCESS_TTL"`
	// RefreshTTL is the refresh session lifetime (e.g. "336h" for 14 days).
	RefreshTTL time.Duration `mapstructure:"TAVOLO_REFRESH_TTL"`
	// OTPTTL is how long a one-time passcode stays valid.
	OTPTTL time.Duration `mapstructure:"TAVOLO_OTP_TTL"`
	// AllowedOrigins is a comma-separated CORS allow list.
	AllowedOrigins string `mapstructure:"TAVOLO_ALLOWED_ORIGINS"`
	// RateBurst and RatePerSec bound the per-IP token bucket.
	RateBurst  int `mapstructure:"TAVOLO_RATE_BURST"`
	RatePerSec int `mapstructure:"TAVOLO_RATE_PER_SEC"`
}

// Load reads .env when present, then builds and validates Config from the
// environment. Env vars override .env values.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine (CI, containers)

	v.AutomaticEnv()

	v.SetDefault("TAVOLO_ADDR", ":8080")
	v.SetDefault("TAVOLO_PG_DSN", "")
	v.SetDefault("TAVOLO_AUTH_SECRET", "")
	v.SetDefault("TAVOLO_ISSUER", "tavolo")
	v.SetDefault("TAVOLO_ACCESS_TTL", "15m")
	v.SetDefault("TAVOLO_REFRESH_TTL", "336h")
	v.SetDefault("TAVOLO_OTP_TTL", "10m")
	v.SetDefault("TAVOLO_ALLOWED_ORIGINS", "")
	v.SetDefault("TAVOLO_RATE_BURST", 20)
	v.SetDefault("TAVOLO_RATE_PER_SEC", 10)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("config: TAVOLO_ADDR must be set")
	}
	if strings.TrimSpace(c.AuthSecret) == "" {
		return errors.New("config: TAVOLO_AUTH_SECRET must be set")
	}
	if c.AccessTTL <= 0 {
		return errors.New("config: TAVOLO_ACCESS_TTL must be positive")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return errors.New("config: TAVOLO_REFRESH_TTL must exceed TAVOLO_ACCESS_TTL")
	}
	if c.OTPTTL <= 0 {
		return errors.New("config: TAVOLO_OTP_TTL must be positive")
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		return errors.New("config: rate limit values must be positive")
	}
	return nil
}

// Origins returns the parsed CORS allow list.
func (c *Config) Origins() []string {
	if strings.TrimSpace(c.AllowedOrigins) == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
