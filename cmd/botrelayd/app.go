package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
	"golang.org/x/sync/errgroup"

	botrelay "github.com/goliatone/go-botrelay"
	"github.com/goliatone/go-botrelay/adapters/gologger"
	"github.com/goliatone/go-botrelay/core"
	"github.com/goliatone/go-botrelay/httpapi"
	"github.com/goliatone/go-botrelay/migrations"
	"github.com/goliatone/go-botrelay/security"
	sqlstore "github.com/goliatone/go-botrelay/store/sql"
	"github.com/goliatone/go-botrelay/transport"
)

const shutdownTimeout = 10 * time.Second

type persistenceConfig struct {
	driver string
	dsn    string
}

func (c persistenceConfig) GetDebug() bool                { return false }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.dsn }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "botrelayd" }

// app owns every long-lived resource of the daemon.
type app struct {
	settings settings
	logger   glog.Logger
	client   *persistence.Client
	factory  *sqlstore.RepositoryFactory
	service  *core.Service
	ticks    *tickQueue
	api      *httpapi.Server
	server   *http.Server
}

func buildApp(ctx context.Context, cfg settings, provider glog.LoggerProvider) (*app, error) {
	logger := gologger.Component(provider, nil, "daemon")

	client, err := openPersistence(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{settings: cfg, logger: logger, client: client}

	if cfg.Migrate {
		if err := a.migrate(ctx); err != nil {
			a.close()
			return nil, err
		}
	}

	a.factory, err = sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		a.close()
		return nil, err
	}
	if key := strings.TrimSpace(cfg.SecretKey); key != "" {
		cipher, err := security.NewAppKeyCipherFromString(key)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("botrelayd: secret cipher: %w", err)
		}
		a.factory.WithSecretCipher(cipher)
	} else {
		logger.Warn("webhook secrets are stored unsealed, set BOTRELAY_SECRET_KEY to seal them")
	}
	if err := a.seedBots(ctx); err != nil {
		a.close()
		return nil, err
	}

	relayCfg, err := core.NewCfgxConfigProvider(core.StaticConfigLoader(cfg.Relay)).Load(ctx, core.DefaultConfig())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("botrelayd: relay config: %w", err)
	}
	directory, err := a.factory.CachedBotDirectory(relayCfg.Directory)
	if err != nil {
		a.close()
		return nil, err
	}

	a.service, err = core.NewService(relayCfg,
		core.WithLoggerProvider(provider),
		core.WithEventStore(a.factory.BotEventStore()),
		core.WithBotDirectory(directory),
		core.WithMembershipResolver(a.factory.MembershipStore()),
		core.WithWebhookSender(transport.NewWebhookSender(&http.Client{})),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.TickQueue {
		a.ticks, err = newTickQueue(ctx, client.DB().DB, cfg.Driver, a.service, a.service.Config().Delivery,
			gologger.Component(provider, nil, "tick_queue"))
		if err != nil {
			a.close()
			return nil, err
		}
		logger.Info("delivery ticks scheduled through the job queue", "table", tickQueueTable)
	}

	facade, err := botrelay.NewFacade(a.service)
	if err != nil {
		a.close()
		return nil, err
	}
	a.api, err = httpapi.NewServer(facade,
		httpapi.WithLoggerProvider(provider),
		httpapi.WithBotAuthenticator(a.factory.BotDirectoryStore()),
		httpapi.WithHealthCheck(func(ctx context.Context) error {
			return client.DB().PingContext(ctx)
		}),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	a.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func openPersistence(cfg settings) (*persistence.Client, error) {
	var dialect schema.Dialect
	switch cfg.Driver {
	case driverSQLite:
		dialect = sqlitedialect.New()
	case driverPostgres, driverPGX:
		dialect = pgdialect.New()
	default:
		return nil, fmt.Errorf("botrelayd: unsupported driver %q", cfg.Driver)
	}

	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("botrelayd: open database: %w", err)
	}
	if cfg.Driver == driverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{driver: cfg.Driver, dsn: cfg.DSN}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("botrelayd: persistence client: %w", err)
	}
	return client, nil
}

func (a *app) migrate(ctx context.Context) error {
	dialect, err := migrations.DialectForDriver(a.settings.Driver)
	if err != nil {
		return err
	}
	source, err := migrations.Register(ctx, dialect, func(_ context.Context, source migrations.Source) error {
		a.client.RegisterSQLMigrations(source.FS)
		return nil
	})
	if err != nil {
		return err
	}
	if err := a.client.Migrate(ctx); err != nil {
		return fmt.Errorf("botrelayd: migrate: %w", err)
	}
	a.logger.Info("schema migrated", "dialect", dialect, "versions", len(source.Versions))
	return nil
}

func (a *app) seedBots(ctx context.Context) error {
	directory := a.factory.BotDirectoryStore()
	membership := a.factory.MembershipStore()
	for _, seed := range a.settings.Bots {
		status := core.BotStatusActive
		if seed.Disabled {
			status = core.BotStatusDisabled
		}
		bot, err := directory.EnsureBot(ctx, sqlstore.RegisterBotInput{
			ID:            seed.ID,
			Name:          seed.Name,
			WebhookURL:    seed.WebhookURL,
			WebhookSecret: seed.WebhookSecret,
			APIKey:        seed.APIKey,
			Status:        status,
		})
		if err != nil {
			return fmt.Errorf("botrelayd: seed bot %q: %w", seed.ID, err)
		}
		for _, conversationID := range seed.Conversations {
			if strings.TrimSpace(conversationID) == "" {
				continue
			}
			if err := membership.AddMember(ctx, conversationID, bot.ID, sqlstore.MemberKindBot); err != nil {
				return fmt.Errorf("botrelayd: seed membership %q/%q: %w", conversationID, bot.ID, err)
			}
		}
		a.logger.Info("bot seeded", "bot_id", bot.ID, "status", string(bot.Status), "conversations", len(seed.Conversations))
	}
	return nil
}

// run serves HTTP and drives delivery ticks, in process or through the tick
// queue, until ctx is cancelled.
func (a *app) run(ctx context.Context) error {
	defer a.close()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if a.ticks != nil {
			return a.ticks.run(groupCtx)
		}
		return a.service.Run(groupCtx)
	})
	group.Go(func() error {
		a.logger.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func (a *app) close() {
	if a == nil || a.client == nil {
		return
	}
	if err := a.client.Close(); err != nil {
		a.logger.Warn("close persistence client", "error", err)
	}
}
