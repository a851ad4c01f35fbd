package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultBatchSize      = 10
	defaultMaxAttempts    = 3
	defaultTickInterval   = 5 * time.Second
	defaultRequestTimeout = 10 * time.Second
	defaultClaimLease     = time.Minute
	defaultBackoffBase    = 5 * time.Second
	defaultBackoffMax     = 5 * time.Minute
	defaultCacheTTL       = time.Minute
)

type DeliveryConfig struct {
	BatchSize      int           `koanf:"batch_size" mapstructure:"batch_size"`
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	TickInterval   time.Duration `koanf:"tick_interval" mapstructure:"tick_interval"`
	RequestTimeout time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
	ClaimLease     time.Duration `koanf:"claim_lease" mapstructure:"claim_lease"`
	Concurrency    int           `koanf:"concurrency" mapstructure:"concurrency"`
}

type BackoffConfig struct {
	Strategy string        `koanf:"strategy" mapstructure:"strategy"`
	Base     time.Duration `koanf:"base" mapstructure:"base"`
	Max      time.Duration `koanf:"max" mapstructure:"max"`
}

type DirectoryConfig struct {
	CacheTTL time.Duration `koanf:"cache_ttl" mapstructure:"cache_ttl"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Delivery    DeliveryConfig  `koanf:"delivery" mapstructure:"delivery"`
	Backoff     BackoffConfig   `koanf:"backoff" mapstructure:"backoff"`
	Directory   DirectoryConfig `koanf:"directory" mapstructure:"directory"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "botrelay",
		Delivery: DeliveryConfig{
			BatchSize:      defaultBatchSize,
			MaxAttempts:    defaultMaxAttempts,
			TickInterval:   defaultTickInterval,
			RequestTimeout: defaultRequestTimeout,
			ClaimLease:     defaultClaimLease,
		},
		Backoff: BackoffConfig{
			Strategy: BackoffStrategyTick,
			Base:     defaultBackoffBase,
			Max:      defaultBackoffMax,
		},
		Directory: DirectoryConfig{
			CacheTTL: defaultCacheTTL,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Delivery.BatchSize <= 0 {
		return fmt.Errorf("core: delivery.batch_size must be positive")
	}
	if c.Delivery.MaxAttempts <= 0 {
		return fmt.Errorf("core: delivery.max_attempts must be positive")
	}
	if c.Delivery.TickInterval <= 0 {
		return fmt.Errorf("core: delivery.tick_interval must be positive")
	}
	if c.Delivery.RequestTimeout <= 0 {
		return fmt.Errorf("core: delivery.request_timeout must be positive")
	}
	if c.Delivery.Concurrency < 0 {
		return fmt.Errorf("core: delivery.concurrency must not be negative")
	}
	if minimum := c.Delivery.MinClaimLease(); c.Delivery.ClaimLease < minimum {
		return fmt.Errorf("core: delivery.claim_lease must be at least %s for batch_size %d at concurrency %d",
			minimum, c.Delivery.BatchSize, c.Delivery.concurrency())
	}
	switch c.Backoff.Strategy {
	case BackoffStrategyTick, BackoffStrategyExponential:
	default:
		return fmt.Errorf("core: invalid backoff.strategy %q", c.Backoff.Strategy)
	}
	if c.Directory.CacheTTL < 0 {
		return fmt.Errorf("core: directory.cache_ttl must not be negative")
	}
	return nil
}

// MinClaimLease is the lease that covers every wave of a full batch: the
// batch runs in ceil(batch_size/concurrency) waves of at most one request
// timeout each, plus the outcome write of the last wave.
func (c DeliveryConfig) MinClaimLease() time.Duration {
	if c.BatchSize <= 0 || c.RequestTimeout <= 0 {
		return 0
	}
	limit := c.concurrency()
	waves := (c.BatchSize + limit - 1) / limit
	return time.Duration(waves)*c.RequestTimeout + outcomeWriteTimeout
}

func (c DeliveryConfig) concurrency() int {
	if c.Concurrency > 0 && c.Concurrency < c.BatchSize {
		return c.Concurrency
	}
	return c.BatchSize
}

var durationKeys = map[string][]string{
	"delivery":  {"tick_interval", "request_timeout", "claim_lease"},
	"backoff":   {"base", "max"},
	"directory": {"cache_ttl"},
}

// NormalizeRawConfig converts duration strings ("5s") found in raw config
// sources into time.Duration values before decoding.
func NormalizeRawConfig(raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		out[key] = value
	}
	for section, keys := range durationKeys {
		nested, ok := out[section].(map[string]any)
		if !ok {
			continue
		}
		copied := make(map[string]any, len(nested))
		for key, value := range nested {
			copied[key] = value
		}
		for _, key := range keys {
			text, ok := copied[key].(string)
			if !ok {
				continue
			}
			parsed, err := time.ParseDuration(strings.TrimSpace(text))
			if err != nil {
				return nil, fmt.Errorf("core: invalid %s.%s: %w", section, key, err)
			}
			copied[key] = parsed
		}
		out[section] = copied
	}
	return out, nil
}
