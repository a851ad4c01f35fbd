package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// BotEventStore is the durable log of bot events. It holds no business logic.
type BotEventStore interface {
	Insert(ctx context.Context, event NewBotEvent) (string, error)
	ClaimDue(ctx context.Context, req ClaimRequest) ([]BotEvent, error)
	RecordOutcome(ctx context.Context, id string, claimID string, outcome Outcome) error
	ReleaseClaim(ctx context.Context, id string, claimID string) error
}

type BotEventReader interface {
	Get(ctx context.Context, id string) (BotEvent, error)
	List(ctx context.Context, filter BotEventFilter) ([]BotEvent, error)
}

type BotEventRequeuer interface {
	Requeue(ctx context.Context, id string) error
}

type BotDirectory interface {
	Resolve(ctx context.Context, botID string) (BotTarget, error)
}

type BotAuthenticator interface {
	AuthenticateAPIKey(ctx context.Context, apiKey string) (Bot, error)
}

// MembershipResolver is the conversation-membership collaborator boundary.
type MembershipResolver interface {
	BotMembers(ctx context.Context, conversationID string) ([]string, error)
}

type WebhookSender interface {
	Send(ctx context.Context, delivery WebhookDelivery) (WebhookResult, error)
}

type RetryPolicy interface {
	NextEligibleAt(attempts int, now time.Time) *time.Time
	Classify(err error) Disposition
}

type Ticker interface {
	Tick(ctx context.Context) (TickStats, error)
}
