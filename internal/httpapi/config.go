package httpapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/remitops/minorista-ledger/pkg/money"
)

const (
	defaultListenAddr     = ":8080"
	defaultAllowedOrigin  = "http://localhost:8000"
	defaultProfitRate     = "0.05"
	defaultHistoryLimit   = 50
	maxHistoryLimit       = 500
	defaultRequestTimeout = 5 * time.Second
)

// Config aggregates runtime settings for the ledger HTTP API.
type Config struct {
	ListenAddr        string
	AllowedOrigins    []string
	DefaultProfitRate money.Rate
	RequestTimeout    time.Duration
}

// Validate fills defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.DefaultProfitRate.IsZero() {
		rate, err := money.NewRateFromString(defaultProfitRate)
		if err != nil {
			return err
		}
		cfg.DefaultProfitRate = rate
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("listen addr is required")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
