package gojob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-botrelay/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	JobIDDeliveryTick  = "botrelay.delivery.tick"
	ScriptDeliveryTick = "botrelay.delivery.tick"

	paramSlot    = "slot"
	paramAttempt = "attempt"

	dedupDrop = job.DeduplicationPolicy("drop")

	defaultRetryDelay = 5 * time.Second
)

// ErrQueueEmpty reports that ConsumeNext found no job to run.
var ErrQueueEmpty = errors.New("gojob: no tick job available")

// RetryPolicy bounds queue-level retries of a failed tick job.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// Bound applies the policy to a nack for the given attempt. A retry on the
// last allowed attempt becomes terminal: dead_letter with DeadLetterOnMax,
// failed otherwise.
func (p RetryPolicy) Bound(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.Disposition == "" {
		out.Disposition = queue.NackDispositionRetry
	}
	if out.Disposition == queue.NackDispositionRetry && p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Disposition = queue.NackDispositionFailed
		if p.DeadLetterOnMax {
			out.Disposition = queue.NackDispositionDeadLetter
		}
	}
	return out
}

// TickMessage builds the queue message for the tick slot containing at.
// Messages for the same slot share an idempotency key so a queue with
// deduplication runs each slot once.
func TickMessage(at time.Time, interval time.Duration) *job.ExecutionMessage {
	slot := at.UTC()
	if interval > 0 {
		slot = slot.Truncate(interval)
	}
	return &job.ExecutionMessage{
		JobID:      JobIDDeliveryTick,
		ScriptPath: ScriptDeliveryTick,
		Parameters: map[string]any{
			paramSlot: slot.Format(time.RFC3339Nano),
		},
		IdempotencyKey: JobIDDeliveryTick + ":" + strconv.FormatInt(slot.UnixNano(), 10),
		DedupPolicy:    dedupDrop,
	}
}

// TickScheduler publishes delivery tick jobs to a go-job queue.
type TickScheduler struct {
	enqueuer queue.Enqueuer
	interval time.Duration
}

func NewTickScheduler(enqueuer queue.Enqueuer, interval time.Duration) (*TickScheduler, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("gojob: enqueuer is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("gojob: tick interval must be positive")
	}
	return &TickScheduler{enqueuer: enqueuer, interval: interval}, nil
}

func (s *TickScheduler) Schedule(ctx context.Context, at time.Time) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("gojob: scheduler is not configured")
	}
	_, err := s.enqueuer.Enqueue(ctx, TickMessage(at, s.interval))
	return err
}

// TickConsumer runs one delivery tick per dequeued job and settles the
// delivery with the queue.
type TickConsumer struct {
	ticker     core.Ticker
	policy     RetryPolicy
	retryDelay time.Duration
	logger     core.Logger
	hooks      []worker.Hook
}

type TickConsumerOption func(*TickConsumer)

func WithRetryPolicy(policy RetryPolicy) TickConsumerOption {
	return func(c *TickConsumer) {
		c.policy = policy
	}
}

func WithRetryDelay(delay time.Duration) TickConsumerOption {
	return func(c *TickConsumer) {
		if delay > 0 {
			c.retryDelay = delay
		}
	}
}

func WithLogger(logger core.Logger) TickConsumerOption {
	return func(c *TickConsumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHooks reports each handled tick job to go-job worker hooks.
func WithHooks(hooks ...worker.Hook) TickConsumerOption {
	return func(c *TickConsumer) {
		for _, hook := range hooks {
			if hook != nil {
				c.hooks = append(c.hooks, hook)
			}
		}
	}
}

func NewTickConsumer(ticker core.Ticker, opts ...TickConsumerOption) (*TickConsumer, error) {
	if ticker == nil {
		return nil, fmt.Errorf("gojob: ticker is required")
	}
	consumer := &TickConsumer{
		ticker:     ticker,
		policy:     RetryPolicy{MaxAttempts: 3, MaxDelay: time.Minute},
		retryDelay: defaultRetryDelay,
		logger:     glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(consumer)
		}
	}
	return consumer, nil
}

// ConsumeNext dequeues one job and handles it. An empty queue yields
// ErrQueueEmpty.
func (c *TickConsumer) ConsumeNext(ctx context.Context, dequeuer queue.Dequeuer) (core.TickStats, error) {
	if dequeuer == nil {
		return core.TickStats{}, fmt.Errorf("gojob: dequeuer is required")
	}
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		return core.TickStats{}, err
	}
	if delivery == nil {
		return core.TickStats{}, ErrQueueEmpty
	}
	attempt := AttemptOf(delivery.Message())
	if counted, ok := delivery.(interface{ Attempts() int }); ok && counted.Attempts() > 0 {
		attempt = counted.Attempts()
	}
	return c.Handle(ctx, delivery, attempt)
}

// Handle runs a tick for delivery. A tick already in flight acks the job
// since the running tick covers the slot.
func (c *TickConsumer) Handle(ctx context.Context, delivery queue.Delivery, attempt int) (core.TickStats, error) {
	if c == nil || c.ticker == nil {
		return core.TickStats{}, fmt.Errorf("gojob: consumer is not configured")
	}
	if delivery == nil {
		return core.TickStats{}, fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	if msg == nil || strings.TrimSpace(msg.JobID) != JobIDDeliveryTick {
		jobID := ""
		if msg != nil {
			jobID = msg.JobID
		}
		err := fmt.Errorf("gojob: unexpected job %q", jobID)
		if nackErr := delivery.Nack(ctx, queue.NackOptions{Disposition: queue.NackDispositionDeadLetter, Reason: err.Error()}); nackErr != nil {
			return core.TickStats{}, errors.Join(err, nackErr)
		}
		return core.TickStats{}, err
	}

	event := worker.Event{Delivery: delivery, Message: msg, Attempt: attempt, StartedAt: time.Now()}
	for _, hook := range c.hooks {
		hook.OnStart(ctx, event)
	}
	stats, err := c.ticker.Tick(ctx)
	event.Duration = time.Since(event.StartedAt)
	if err == nil || errors.Is(err, core.ErrTickInFlight) {
		if err != nil {
			c.logger.Debug("delivery tick skipped, previous tick still running", "job_id", msg.JobID)
		}
		for _, hook := range c.hooks {
			hook.OnSuccess(ctx, event)
		}
		return stats, delivery.Ack(ctx)
	}

	opts := c.policy.Bound(queue.NackOptions{
		Disposition: queue.NackDispositionRetry,
		Delay:       c.retryDelay,
		Reason:      err.Error(),
	}, attempt)
	c.logger.Warn("delivery tick job failed",
		"job_id", msg.JobID,
		"attempt", attempt,
		"disposition", string(opts.Disposition),
		"error", err,
	)
	event.Err = err
	event.Delay = opts.Delay
	for _, hook := range c.hooks {
		if opts.Disposition == queue.NackDispositionRetry {
			hook.OnRetry(ctx, event)
		} else {
			hook.OnFailure(ctx, event)
		}
	}
	if nackErr := delivery.Nack(context.WithoutCancel(ctx), opts); nackErr != nil {
		return stats, errors.Join(err, nackErr)
	}
	return stats, err
}

// AttemptOf reads the attempt counter carried in the message parameters.
// Messages without one are on their first attempt.
func AttemptOf(msg *job.ExecutionMessage) int {
	if msg == nil {
		return 1
	}
	switch v := msg.Parameters[paramAttempt].(type) {
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

// TickHook reports go-job worker lifecycle events for tick jobs through the
// relay's logger and metrics recorder.
type TickHook struct {
	logger  core.Logger
	metrics core.MetricsRecorder
}

func NewTickHook(logger core.Logger, metrics core.MetricsRecorder) *TickHook {
	if logger == nil {
		logger = glog.Nop()
	}
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	return &TickHook{logger: logger, metrics: metrics}
}

func (h *TickHook) OnStart(ctx context.Context, event worker.Event) {
	h.observe(ctx, "start", event)
}

func (h *TickHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.observe(ctx, "success", event)
}

func (h *TickHook) OnFailure(ctx context.Context, event worker.Event) {
	h.observe(ctx, "failure", event)
}

func (h *TickHook) OnRetry(ctx context.Context, event worker.Event) {
	h.observe(ctx, "retry", event)
}

func (h *TickHook) observe(ctx context.Context, phase string, event worker.Event) {
	if h == nil {
		return
	}
	msg := event.Message
	if msg == nil && event.Delivery != nil {
		msg = event.Delivery.Message()
	}
	jobID := ""
	if msg != nil {
		jobID = strings.TrimSpace(msg.JobID)
	}
	if jobID != JobIDDeliveryTick {
		return
	}

	tags := map[string]string{"job_id": jobID, "phase": phase}
	h.metrics.IncCounter(ctx, "botrelay.job.total", 1, tags)
	if event.Duration > 0 {
		h.metrics.ObserveHistogram(ctx, "botrelay.job.duration_ms", float64(event.Duration.Milliseconds()), tags)
	}

	args := []any{"job_id", jobID, "attempt", event.Attempt}
	switch phase {
	case "failure":
		h.logger.Error("delivery tick job failed", append(args, "error", event.Err)...)
	case "retry":
		h.logger.Warn("delivery tick job retrying", append(args, "delay", event.Delay.String(), "error", event.Err)...)
	default:
		h.logger.Debug("delivery tick job "+phase, args...)
	}
}

var (
	_ worker.Hook = (*TickHook)(nil)
)
