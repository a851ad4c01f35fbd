package core

import (
	"errors"
	"math"
	"time"
)

type Disposition string

const (
	DispositionRetryable Disposition = "retryable"
	DispositionTerminal  Disposition = "terminal"
	// DispositionDeferred leaves the event untouched for the next tick without
	// consuming an attempt (storage outages while resolving the target).
	DispositionDeferred Disposition = "deferred"
)

const (
	BackoffStrategyTick        = "tick"
	BackoffStrategyExponential = "exponential"
)

// classifyDeliveryError is shared by the bundled policies.
func classifyDeliveryError(err error) Disposition {
	switch {
	case err == nil:
		return DispositionRetryable
	case errors.Is(err, ErrBotNotFound), errors.Is(err, ErrBotDisabled):
		return DispositionTerminal
	case errors.Is(err, ErrTransport), errors.Is(err, ErrRemoteRejected):
		return DispositionRetryable
	case errors.Is(err, ErrStorage):
		return DispositionDeferred
	default:
		return DispositionRetryable
	}
}

// TickIntervalPolicy retries on the next scheduled tick.
type TickIntervalPolicy struct{}

func (TickIntervalPolicy) NextEligibleAt(int, time.Time) *time.Time {
	return nil
}

func (TickIntervalPolicy) Classify(err error) Disposition {
	return classifyDeliveryError(err)
}

// ExponentialPolicy delays the next attempt by Base * 2^attempts, capped at Max.
type ExponentialPolicy struct {
	Base time.Duration
	Max  time.Duration
}

func (p ExponentialPolicy) Delay(attempts int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = defaultBackoffBase
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = defaultBackoffMax
	}
	if attempts < 0 {
		attempts = 0
	}
	next := time.Duration(float64(base) * math.Pow(2, float64(attempts)))
	if next <= 0 || next > maximum {
		return maximum
	}
	return next
}

func (p ExponentialPolicy) NextEligibleAt(attempts int, now time.Time) *time.Time {
	next := now.UTC().Add(p.Delay(attempts))
	return &next
}

func (ExponentialPolicy) Classify(err error) Disposition {
	return classifyDeliveryError(err)
}

// NewRetryPolicy builds the policy named by cfg.Strategy.
func NewRetryPolicy(cfg BackoffConfig) RetryPolicy {
	if cfg.Strategy == BackoffStrategyExponential {
		return ExponentialPolicy{Base: cfg.Base, Max: cfg.Max}
	}
	return TickIntervalPolicy{}
}

var (
	_ RetryPolicy = TickIntervalPolicy{}
	_ RetryPolicy = ExponentialPolicy{}
)
