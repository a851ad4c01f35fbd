package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Runner drives a Ticker on a fixed interval until its context is cancelled.
type Runner struct {
	ticker    Ticker
	interval  time.Duration
	telemetry telemetry
}

func NewRunner(ticker Ticker, interval time.Duration, logger Logger) (*Runner, error) {
	if ticker == nil {
		return nil, fmt.Errorf("core: runner ticker is required")
	}
	if interval <= 0 {
		interval = defaultTickInterval
	}
	return &Runner{
		ticker:    ticker,
		interval:  interval,
		telemetry: telemetry{logger: logger},
	}, nil
}

// Run blocks until ctx is done. Ticks run sequentially, so a slow tick delays
// the next one instead of overlapping it.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil || r.ticker == nil {
		return fmt.Errorf("core: runner is not configured")
	}
	timer := time.NewTicker(r.interval)
	defer timer.Stop()

	r.telemetry.logInfo(ctx, "delivery runner started", map[string]any{
		"tick_interval": r.interval.String(),
	})
	for {
		select {
		case <-ctx.Done():
			r.telemetry.logInfo(context.WithoutCancel(ctx), "delivery runner stopped", map[string]any{
				"reason": ctx.Err().Error(),
			})
			return nil
		case <-timer.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single tick and logs its outcome.
func (r *Runner) RunOnce(ctx context.Context) TickStats {
	if r == nil || r.ticker == nil {
		return TickStats{}
	}
	stats, err := r.ticker.Tick(ctx)
	switch {
	case errors.Is(err, ErrTickInFlight):
		r.telemetry.logDebug(ctx, "delivery tick skipped", map[string]any{"reason": err.Error()})
	case err != nil:
		r.telemetry.logError(ctx, "delivery tick completed with errors", map[string]any{
			"claimed": stats.Claimed,
			"error":   err.Error(),
		})
	case stats.Claimed > 0:
		r.telemetry.logInfo(ctx, "delivery tick completed", map[string]any{
			"claimed":   stats.Claimed,
			"delivered": stats.Delivered,
			"retried":   stats.Retried,
			"failed":    stats.Failed,
			"deferred":  stats.Deferred,
			"released":  stats.Released,
		})
	}
	return stats
}
