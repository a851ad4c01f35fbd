package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	outcomeWriteTimeout = 5 * time.Second
	maxErrorMessageLen  = 1024
)

type deliveryResult string

const (
	resultDelivered  deliveryResult = "delivered"
	resultRetried    deliveryResult = "retried"
	resultFailed     deliveryResult = "failed"
	resultDeferred   deliveryResult = "deferred"
	resultReleased   deliveryResult = "released"
	resultWriteError deliveryResult = "write_error"
)

type eventResult struct {
	kind deliveryResult
	err  error
}

// DeliveryWorker claims due bot events and delivers them to their webhooks.
// Only one Tick runs at a time per worker.
type DeliveryWorker struct {
	store     BotEventStore
	directory BotDirectory
	sender    WebhookSender
	policy    RetryPolicy
	config    DeliveryConfig
	telemetry telemetry
	now       func() time.Time
	inFlight  sync.Mutex
}

func NewDeliveryWorker(
	store BotEventStore,
	directory BotDirectory,
	sender WebhookSender,
	policy RetryPolicy,
	config DeliveryConfig,
	logger Logger,
	metrics MetricsRecorder,
) (*DeliveryWorker, error) {
	if store == nil {
		return nil, fmt.Errorf("core: bot event store is required")
	}
	if directory == nil {
		return nil, fmt.Errorf("core: bot directory is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("core: webhook sender is required")
	}
	if policy == nil {
		policy = TickIntervalPolicy{}
	}
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	defaults := DefaultConfig().Delivery
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.ClaimLease <= 0 {
		config.ClaimLease = defaults.ClaimLease
	}
	if config.TickInterval <= 0 {
		config.TickInterval = defaults.TickInterval
	}
	return &DeliveryWorker{
		store:     store,
		directory: directory,
		sender:    sender,
		policy:    policy,
		config:    config,
		telemetry: telemetry{logger: logger, metrics: metrics},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (w *DeliveryWorker) Config() DeliveryConfig {
	if w == nil {
		return DeliveryConfig{}
	}
	return w.config
}

// Tick claims up to BatchSize due events and attempts each one concurrently.
// Per-event failures never abort the batch; the returned error only joins
// claim and outcome-write failures.
func (w *DeliveryWorker) Tick(ctx context.Context) (TickStats, error) {
	if w == nil || w.store == nil {
		return TickStats{}, fmt.Errorf("core: delivery worker is not configured")
	}
	if !w.inFlight.TryLock() {
		return TickStats{}, ErrTickInFlight
	}
	defer w.inFlight.Unlock()

	startedAt := time.Now()
	events, err := w.store.ClaimDue(ctx, ClaimRequest{
		Limit:       w.config.BatchSize,
		MaxAttempts: w.config.MaxAttempts,
		Lease:       w.config.ClaimLease,
		Now:         w.now(),
	})
	if err != nil {
		err = WrapStorage("claim_due", err)
		w.telemetry.observeOperation(ctx, startedAt, "delivery_tick", err, nil)
		return TickStats{}, err
	}

	stats := TickStats{Claimed: len(events)}
	if len(events) == 0 {
		return stats, nil
	}

	results := make([]eventResult, len(events))
	var group errgroup.Group
	group.SetLimit(w.config.concurrency())
	for i, event := range events {
		group.Go(func() error {
			results[i] = w.deliverOne(ctx, event)
			return nil
		})
	}
	_ = group.Wait()

	var tickErr error
	for _, result := range results {
		switch result.kind {
		case resultDelivered:
			stats.Delivered++
		case resultRetried:
			stats.Retried++
		case resultFailed:
			stats.Failed++
		case resultDeferred:
			stats.Deferred++
		case resultReleased:
			stats.Released++
		case resultWriteError:
			stats.WriteErrors++
		}
		if result.err != nil {
			tickErr = errors.Join(tickErr, result.err)
		}
	}

	w.telemetry.observeOperation(ctx, startedAt, "delivery_tick", tickErr, map[string]any{
		"claimed":      stats.Claimed,
		"delivered":    stats.Delivered,
		"retried":      stats.Retried,
		"failed":       stats.Failed,
		"deferred":     stats.Deferred,
		"released":     stats.Released,
		"write_errors": stats.WriteErrors,
	})
	return stats, tickErr
}

func (w *DeliveryWorker) deliverOne(ctx context.Context, event BotEvent) eventResult {
	if ctx.Err() != nil {
		return w.release(ctx, event, "tick cancelled before delivery")
	}

	fields := map[string]any{
		"bot_event_id": event.ID,
		"bot_id":       event.BotID,
		"event_type":   event.EventType,
		"attempts":     event.Attempts,
	}

	target, err := w.directory.Resolve(ctx, event.BotID)
	if err != nil {
		if ctx.Err() != nil {
			return w.release(ctx, event, "tick cancelled while resolving bot")
		}
		if w.policy.Classify(err) != DispositionTerminal {
			// No attempt is consumed when the target cannot be looked up.
			fields["error"] = err.Error()
			w.telemetry.logWarn(ctx, "bot directory lookup deferred", fields)
			released := w.release(ctx, event, "bot directory unavailable")
			if released.kind == resultReleased {
				released.kind = resultDeferred
			}
			return released
		}
		return w.record(ctx, event, Outcome{
			Kind:         OutcomeFailed,
			Attempts:     event.Attempts,
			AttemptedAt:  w.now(),
			ErrorMessage: truncateMessage(err.Error()),
		})
	}

	if !w.leaseCovers(event) {
		// Another worker may claim the event once the lease lapses; hand it
		// back instead of racing that worker.
		return w.release(ctx, event, "claim lease too short for delivery")
	}

	attempt := event.Attempts + 1
	startedAt := time.Now()
	result, sendErr := w.sender.Send(ctx, WebhookDelivery{
		Event:   event,
		Target:  target,
		Attempt: attempt,
		Timeout: w.config.RequestTimeout,
	})
	attemptedAt := w.now()
	w.telemetry.observeOperation(ctx, startedAt, "delivery_attempt", sendErr, fields)

	if sendErr == nil {
		return w.record(ctx, event, Outcome{
			Kind:        OutcomeDelivered,
			Attempts:    attempt,
			AttemptedAt: attemptedAt,
			StatusCode:  result.StatusCode,
		})
	}
	if ctx.Err() != nil && errors.Is(sendErr, context.Canceled) {
		return w.release(ctx, event, "tick cancelled during delivery")
	}

	outcome := Outcome{
		Kind:         OutcomeRetry,
		Attempts:     attempt,
		AttemptedAt:  attemptedAt,
		ErrorMessage: truncateMessage(sendErr.Error()),
		StatusCode:   statusCodeOf(sendErr, result.StatusCode),
	}
	if attempt >= w.config.MaxAttempts || w.policy.Classify(sendErr) == DispositionTerminal {
		outcome.Kind = OutcomeFailed
	} else {
		outcome.NextEligibleAt = w.policy.NextEligibleAt(attempt, attemptedAt)
	}
	return w.record(ctx, event, outcome)
}

// leaseCovers reports whether the claim outlives one more request timeout.
func (w *DeliveryWorker) leaseCovers(event BotEvent) bool {
	if event.ClaimedUntil == nil {
		return true
	}
	return !w.now().Add(w.config.RequestTimeout).After(*event.ClaimedUntil)
}

func (w *DeliveryWorker) record(ctx context.Context, event BotEvent, outcome Outcome) eventResult {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeWriteTimeout)
	defer cancel()

	if err := w.store.RecordOutcome(writeCtx, event.ID, event.ClaimID, outcome); err != nil {
		err = WrapStorage("record_outcome", err)
		w.telemetry.logError(ctx, "bot event outcome write failed", map[string]any{
			"bot_event_id": event.ID,
			"bot_id":       event.BotID,
			"outcome":      string(outcome.Kind),
			"error":        err.Error(),
		})
		return eventResult{kind: resultWriteError, err: fmt.Errorf("bot event %q: %w", event.ID, err)}
	}

	switch outcome.Kind {
	case OutcomeDelivered:
		return eventResult{kind: resultDelivered}
	case OutcomeFailed:
		w.telemetry.logWarn(ctx, "bot event failed", map[string]any{
			"bot_event_id": event.ID,
			"bot_id":       event.BotID,
			"attempts":     outcome.Attempts,
			"error":        outcome.ErrorMessage,
		})
		return eventResult{kind: resultFailed}
	default:
		return eventResult{kind: resultRetried}
	}
}

func (w *DeliveryWorker) release(ctx context.Context, event BotEvent, reason string) eventResult {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeWriteTimeout)
	defer cancel()

	if err := w.store.ReleaseClaim(releaseCtx, event.ID, event.ClaimID); err != nil {
		err = WrapStorage("release_claim", err)
		w.telemetry.logError(ctx, "bot event claim release failed", map[string]any{
			"bot_event_id": event.ID,
			"reason":       reason,
			"error":        err.Error(),
		})
		return eventResult{kind: resultWriteError, err: fmt.Errorf("bot event %q: %w", event.ID, err)}
	}
	w.telemetry.logDebug(ctx, "bot event claim released", map[string]any{
		"bot_event_id": event.ID,
		"reason":       reason,
	})
	return eventResult{kind: resultReleased}
}

func statusCodeOf(err error, fallback int) int {
	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) && deliveryErr.StatusCode > 0 {
		return deliveryErr.StatusCode
	}
	return fallback
}

func truncateMessage(message string) string {
	message = strings.TrimSpace(message)
	if len(message) <= maxErrorMessageLen {
		return message
	}
	return message[:maxErrorMessageLen]
}

var _ Ticker = (*DeliveryWorker)(nil)
