package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig   Config
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
	now             func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

// WithEventStore sets the store used for insert/claim/outcome. When the value
// also implements BotEventReader or BotEventRequeuer those roles are picked up.
func WithEventStore(store BotEventStore) Option {
	return func(b *serviceBuilder) {
		b.eventStore = store
	}
}

func WithEventReader(reader BotEventReader) Option {
	return func(b *serviceBuilder) {
		b.eventReader = reader
	}
}

func WithEventRequeuer(requeuer BotEventRequeuer) Option {
	return func(b *serviceBuilder) {
		b.requeuer = requeuer
	}
}

func WithBotDirectory(directory BotDirectory) Option {
	return func(b *serviceBuilder) {
		b.directory = directory
	}
}

func WithMembershipResolver(resolver MembershipResolver) Option {
	return func(b *serviceBuilder) {
		b.membership = resolver
	}
}

func WithWebhookSender(sender WebhookSender) Option {
	return func(b *serviceBuilder) {
		b.sender = sender
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(b *serviceBuilder) {
		b.retryPolicy = policy
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("botrelay", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// StaticConfigLoader serves a fixed raw map, mostly for tests and embedding.
func StaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	raw, err = NormalizeRawConfig(raw)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	delivery := map[string]any{}
	putInt(delivery, "batch_size", cfg.Delivery.BatchSize, includeZero)
	putInt(delivery, "max_attempts", cfg.Delivery.MaxAttempts, includeZero)
	putInt(delivery, "concurrency", cfg.Delivery.Concurrency, includeZero)
	putDuration(delivery, "tick_interval", cfg.Delivery.TickInterval, includeZero)
	putDuration(delivery, "request_timeout", cfg.Delivery.RequestTimeout, includeZero)
	putDuration(delivery, "claim_lease", cfg.Delivery.ClaimLease, includeZero)
	if len(delivery) > 0 {
		layer["delivery"] = delivery
	}

	backoff := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Backoff.Strategy) != "" {
		backoff["strategy"] = strings.TrimSpace(cfg.Backoff.Strategy)
	}
	putDuration(backoff, "base", cfg.Backoff.Base, includeZero)
	putDuration(backoff, "max", cfg.Backoff.Max, includeZero)
	if len(backoff) > 0 {
		layer["backoff"] = backoff
	}

	directory := map[string]any{}
	putDuration(directory, "cache_ttl", cfg.Directory.CacheTTL, includeZero)
	if len(directory) > 0 {
		layer["directory"] = directory
	}
	return layer
}

func putInt(layer map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}

func putDuration(layer map[string]any, key string, value time.Duration, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}
