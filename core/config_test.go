package core

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Delivery.BatchSize != 10 || cfg.Delivery.MaxAttempts != 3 || cfg.Delivery.TickInterval != 5*time.Second {
		t.Fatalf("unexpected delivery defaults %+v", cfg.Delivery)
	}
	if cfg.Backoff.Strategy != BackoffStrategyTick {
		t.Fatalf("expected tick strategy by default, got %q", cfg.Backoff.Strategy)
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "service name", mutate: func(c *Config) { c.ServiceName = " " }, want: "service_name"},
		{name: "batch size", mutate: func(c *Config) { c.Delivery.BatchSize = 0 }, want: "batch_size"},
		{name: "max attempts", mutate: func(c *Config) { c.Delivery.MaxAttempts = -1 }, want: "max_attempts"},
		{name: "tick interval", mutate: func(c *Config) { c.Delivery.TickInterval = 0 }, want: "tick_interval"},
		{name: "request timeout", mutate: func(c *Config) { c.Delivery.RequestTimeout = 0 }, want: "request_timeout"},
		{name: "lease shorter than timeout", mutate: func(c *Config) { c.Delivery.ClaimLease = time.Second }, want: "claim_lease"},
		{name: "lease shorter than serial waves", mutate: func(c *Config) { c.Delivery.Concurrency = 1 }, want: "claim_lease must be at least 1m45s"},
		{name: "concurrency", mutate: func(c *Config) { c.Delivery.Concurrency = -2 }, want: "concurrency"},
		{name: "strategy", mutate: func(c *Config) { c.Backoff.Strategy = "linear" }, want: "backoff.strategy"},
		{name: "cache ttl", mutate: func(c *Config) { c.Directory.CacheTTL = -time.Second }, want: "cache_ttl"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDeliveryConfig_Concurrency(t *testing.T) {
	if got := (DeliveryConfig{BatchSize: 10}).concurrency(); got != 10 {
		t.Fatalf("expected batch size when unset, got %d", got)
	}
	if got := (DeliveryConfig{BatchSize: 10, Concurrency: 3}).concurrency(); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := (DeliveryConfig{BatchSize: 2, Concurrency: 8}).concurrency(); got != 2 {
		t.Fatalf("expected concurrency capped by batch size, got %d", got)
	}
}

func TestNormalizeRawConfig_ParsesDurations(t *testing.T) {
	raw := map[string]any{
		"service_name": "relay",
		"delivery":     map[string]any{"tick_interval": "2s", "batch_size": 5},
		"backoff":      map[string]any{"base": " 1m ", "strategy": "exponential"},
		"directory":    map[string]any{"cache_ttl": 30 * time.Second},
	}
	out, err := NormalizeRawConfig(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	delivery := out["delivery"].(map[string]any)
	if delivery["tick_interval"] != 2*time.Second || delivery["batch_size"] != 5 {
		t.Fatalf("unexpected delivery section %v", delivery)
	}
	if out["backoff"].(map[string]any)["base"] != time.Minute {
		t.Fatalf("expected trimmed duration to parse")
	}
	if raw["delivery"].(map[string]any)["tick_interval"] != "2s" {
		t.Fatalf("expected input map to be left untouched")
	}

	if _, err := NormalizeRawConfig(map[string]any{"delivery": map[string]any{"claim_lease": "soon"}}); err == nil {
		t.Fatalf("expected invalid duration error")
	}
}

func TestDeliveryConfig_MinClaimLease(t *testing.T) {
	cfg := DeliveryConfig{BatchSize: 4, Concurrency: 1, RequestTimeout: 300 * time.Millisecond}
	if got := cfg.MinClaimLease(); got != 1200*time.Millisecond+outcomeWriteTimeout {
		t.Fatalf("expected one timeout per serial wave, got %s", got)
	}
	cfg.Concurrency = 3
	if got := cfg.MinClaimLease(); got != 600*time.Millisecond+outcomeWriteTimeout {
		t.Fatalf("expected two waves, got %s", got)
	}
	full := DefaultConfig()
	full.Delivery.BatchSize = 4
	full.Delivery.Concurrency = 1
	full.Delivery.RequestTimeout = 300 * time.Millisecond
	full.Delivery.ClaimLease = 300 * time.Millisecond
	if err := full.Validate(); err == nil || !strings.Contains(err.Error(), "claim_lease") {
		t.Fatalf("expected lease of one request timeout to be rejected for a serial batch, got %v", err)
	}
	if got := (DeliveryConfig{}).MinClaimLease(); got != 0 {
		t.Fatalf("expected zero for an unset config, got %s", got)
	}
}
