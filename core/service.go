package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-botrelay/adapters/gologger"
)

const defaultListLimit = 50

// Service wires the producer, the delivery worker and the read/operator
// surface over a single set of stores.
type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	eventStore      BotEventStore
	eventReader     BotEventReader
	requeuer        BotEventRequeuer
	directory       BotDirectory
	membership      MembershipResolver
	sender          WebhookSender
	retryPolicy     RetryPolicy
	producer        *EventProducer
	worker          *DeliveryWorker
	telemetry       telemetry
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	EventStore      BotEventStore
	EventReader     BotEventReader
	Requeuer        BotEventRequeuer
	Directory       BotDirectory
	Membership      MembershipResolver
	Sender          WebhookSender
	RetryPolicy     RetryPolicy
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := gologger.Resolve(gologger.RootName, builder.loggerProvider, builder.logger)
	logger = gologger.Component(provider, logger, gologger.RootName)

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(err)
	}

	if builder.eventStore == nil {
		return nil, mapBuildError(fmt.Errorf("core: bot event store is required"))
	}
	if builder.eventReader == nil {
		if reader, ok := builder.eventStore.(BotEventReader); ok {
			builder.eventReader = reader
		}
	}
	if builder.requeuer == nil {
		if requeuer, ok := builder.eventStore.(BotEventRequeuer); ok {
			builder.requeuer = requeuer
		}
	}
	if builder.retryPolicy == nil {
		builder.retryPolicy = NewRetryPolicy(finalConfig.Backoff)
	}

	svc := &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		eventStore:      builder.eventStore,
		eventReader:     builder.eventReader,
		requeuer:        builder.requeuer,
		directory:       builder.directory,
		membership:      builder.membership,
		sender:          builder.sender,
		retryPolicy:     builder.retryPolicy,
		telemetry:       telemetry{logger: logger, metrics: builder.metricsRecorder},
	}

	if builder.membership != nil {
		producer, err := NewEventProducer(builder.eventStore, builder.membership, namedLogger(provider, logger, "botrelay.producer"), builder.metricsRecorder)
		if err != nil {
			return nil, mapBuildError(err)
		}
		if builder.now != nil {
			producer.now = builder.now
		}
		svc.producer = producer
	}
	if builder.directory != nil && builder.sender != nil {
		worker, err := NewDeliveryWorker(
			builder.eventStore,
			builder.directory,
			builder.sender,
			builder.retryPolicy,
			finalConfig.Delivery,
			namedLogger(provider, logger, "botrelay.worker"),
			builder.metricsRecorder,
		)
		if err != nil {
			return nil, mapBuildError(err)
		}
		if builder.now != nil {
			worker.now = builder.now
		}
		svc.worker = worker
	}
	return svc, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(err error) error {
	if err == nil {
		return nil
	}
	mapped := MapError(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func namedLogger(provider LoggerProvider, fallback Logger, name string) Logger {
	return gologger.Component(provider, fallback, name)
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.metricsRecorder,
		ConfigProvider:  s.configProvider,
		OptionsResolver: s.optionsResolver,
		EventStore:      s.eventStore,
		EventReader:     s.eventReader,
		Requeuer:        s.requeuer,
		Directory:       s.directory,
		Membership:      s.membership,
		Sender:          s.sender,
		RetryPolicy:     s.retryPolicy,
	}
}

func (s *Service) Producer() *EventProducer {
	if s == nil {
		return nil
	}
	return s.producer
}

func (s *Service) Worker() *DeliveryWorker {
	if s == nil {
		return nil
	}
	return s.worker
}

func (s *Service) FanOut(ctx context.Context, req FanOutRequest) (FanOutResult, error) {
	if s == nil || s.producer == nil {
		return FanOutResult{}, fmt.Errorf("core: membership resolver is required for fan-out")
	}
	return s.producer.FanOut(ctx, req)
}

func (s *Service) Notify(ctx context.Context, req FanOutRequest) FanOutResult {
	if s == nil || s.producer == nil {
		return FanOutResult{}
	}
	return s.producer.Notify(ctx, req)
}

func (s *Service) Tick(ctx context.Context) (TickStats, error) {
	if s == nil || s.worker == nil {
		return TickStats{}, fmt.Errorf("core: bot directory and webhook sender are required for delivery")
	}
	return s.worker.Tick(ctx)
}

// Run drives the delivery worker every delivery.tick_interval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if s == nil || s.worker == nil {
		return fmt.Errorf("core: bot directory and webhook sender are required for delivery")
	}
	runner, err := NewRunner(s.worker, s.config.Delivery.TickInterval, namedLogger(s.loggerProvider, s.logger, "botrelay.runner"))
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}

func (s *Service) GetBotEvent(ctx context.Context, id string) (BotEvent, error) {
	if s == nil || s.eventReader == nil {
		return BotEvent{}, fmt.Errorf("core: bot event reader is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return BotEvent{}, fmt.Errorf("core: bot event id is required")
	}
	return s.eventReader.Get(ctx, id)
}

func (s *Service) ListBotEvents(ctx context.Context, filter BotEventFilter) ([]BotEvent, error) {
	if s == nil || s.eventReader == nil {
		return nil, fmt.Errorf("core: bot event reader is not configured")
	}
	if filter.Status != "" {
		status, err := ParseBotEventStatus(string(filter.Status))
		if err != nil {
			return nil, err
		}
		filter.Status = status
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.eventReader.List(ctx, filter)
}

// RequeueBotEvent moves a failed event back to pending with attempts reset.
func (s *Service) RequeueBotEvent(ctx context.Context, id string) (BotEvent, error) {
	if s == nil || s.requeuer == nil {
		return BotEvent{}, fmt.Errorf("core: bot event requeuer is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return BotEvent{}, fmt.Errorf("core: bot event id is required")
	}
	startedAt := time.Now()
	err := s.requeuer.Requeue(ctx, id)
	s.telemetry.observeOperation(ctx, startedAt, "requeue", err, map[string]any{"bot_event_id": id})
	if err != nil {
		return BotEvent{}, err
	}
	if s.eventReader == nil {
		return BotEvent{ID: id, Status: BotEventStatusPending}, nil
	}
	return s.eventReader.Get(ctx, id)
}
