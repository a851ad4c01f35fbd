package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	jobsql "github.com/goliatone/go-job/queue/adapters/postgres"
	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-botrelay/adapters/gojob"
	"github.com/goliatone/go-botrelay/core"
)

const (
	tickQueueTable       = "botrelay_tick_jobs"
	tickQueueDLQTable    = "botrelay_tick_jobs_dlq"
	tickQueueStatusTable = "botrelay_tick_jobs_status"

	minTickQueueIdle = 50 * time.Millisecond
)

// tickQueue schedules delivery ticks as go-job messages in the relay database
// and consumes them one at a time. Several daemons sharing a database then
// split ticks through the queue lease instead of each running its own ticker.
type tickQueue struct {
	queue     *jobsql.Adapter
	scheduler *gojob.TickScheduler
	consumer  *gojob.TickConsumer
	interval  time.Duration
	logger    glog.Logger
	now       func() time.Time
}

func newTickQueue(ctx context.Context, db *sql.DB, driver string, ticker core.Ticker, delivery core.DeliveryConfig, logger glog.Logger) (*tickQueue, error) {
	if db == nil {
		return nil, fmt.Errorf("botrelayd: tick queue requires a database")
	}
	interval := delivery.TickInterval
	dialect := jobsql.DialectPostgres
	if driver == driverSQLite {
		dialect = jobsql.DialectSQLite
	}
	storage := jobsql.NewStorage(db,
		jobsql.WithTableName(tickQueueTable),
		jobsql.WithDLQTableName(tickQueueDLQTable),
		jobsql.WithStatusTableName(tickQueueStatusTable),
		jobsql.WithDialect(dialect),
		// A job stays leased for as long as its tick may hold event claims.
		jobsql.WithVisibilityTimeout(delivery.ClaimLease),
	)
	if err := storage.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("botrelayd: tick queue schema: %w", err)
	}

	queue := jobsql.NewAdapter(storage)
	scheduler, err := gojob.NewTickScheduler(queue, interval)
	if err != nil {
		return nil, err
	}
	consumer, err := gojob.NewTickConsumer(ticker,
		gojob.WithLogger(logger),
		gojob.WithRetryDelay(interval),
		gojob.WithHooks(gojob.NewTickHook(logger, nil)),
	)
	if err != nil {
		return nil, err
	}
	return &tickQueue{
		queue:     queue,
		scheduler: scheduler,
		consumer:  consumer,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (q *tickQueue) run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return q.produce(groupCtx)
	})
	group.Go(func() error {
		return q.consume(groupCtx)
	})
	return group.Wait()
}

func (q *tickQueue) produce(ctx context.Context) error {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		if err := q.scheduleOnce(ctx); err != nil && ctx.Err() == nil {
			q.logger.Warn("schedule delivery tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (q *tickQueue) consume(ctx context.Context) error {
	idle := q.interval / 2
	if idle < minTickQueueIdle {
		idle = minTickQueueIdle
	}
	for {
		ran, err := q.consumeOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			q.logger.Warn("consume delivery tick failed", "error", err)
		}
		if ran {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(idle):
		}
	}
}

func (q *tickQueue) scheduleOnce(ctx context.Context) error {
	return q.scheduler.Schedule(ctx, q.now())
}

// consumeOnce runs at most one queued tick and reports whether it ran one.
func (q *tickQueue) consumeOnce(ctx context.Context) (bool, error) {
	stats, err := q.consumer.ConsumeNext(ctx, q.queue)
	if errors.Is(err, gojob.ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if stats.Claimed > 0 {
		q.logger.Debug("queued delivery tick finished",
			"claimed", stats.Claimed,
			"delivered", stats.Delivered,
			"retried", stats.Retried,
			"failed", stats.Failed,
		)
	}
	return true, nil
}
