package botrelay

import "github.com/goliatone/go-botrelay/core"

type Config = core.Config

type DeliveryConfig = core.DeliveryConfig

type BackoffConfig = core.BackoffConfig

type DirectoryConfig = core.DirectoryConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type BotEvent = core.BotEvent
type BotEventFilter = core.BotEventFilter
type BotEventStatus = core.BotEventStatus
type FanOutRequest = core.FanOutRequest
type FanOutResult = core.FanOutResult
type TickStats = core.TickStats

var (
	WithLogger             = core.WithLogger
	WithLoggerProvider     = core.WithLoggerProvider
	WithMetricsRecorder    = core.WithMetricsRecorder
	WithConfigProvider     = core.WithConfigProvider
	WithOptionsResolver    = core.WithOptionsResolver
	WithEventStore         = core.WithEventStore
	WithEventReader        = core.WithEventReader
	WithEventRequeuer      = core.WithEventRequeuer
	WithBotDirectory       = core.WithBotDirectory
	WithMembershipResolver = core.WithMembershipResolver
	WithWebhookSender      = core.WithWebhookSender
	WithRetryPolicy        = core.WithRetryPolicy
	WithClock              = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
