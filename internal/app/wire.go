package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/marginsim/internal/blob/s3"
	"github.com/alanyoungcy/marginsim/internal/cache/redis"
	"github.com/alanyoungcy/marginsim/internal/config"
	"github.com/alanyoungcy/marginsim/internal/domain"
	"github.com/alanyoungcy/marginsim/internal/feed"
	"github.com/alanyoungcy/marginsim/internal/notify"
	"github.com/alanyoungcy/marginsim/internal/server/handler"
	"github.com/alanyoungcy/marginsim/internal/service"
	"github.com/alanyoungcy/marginsim/internal/store/memory"
	"github.com/alanyoungcy/marginsim/internal/store/postgres"
	"github.com/alanyoungcy/marginsim/internal/strategy"
	"github.com/alanyoungcy/marginsim/internal/telemetry"
)

// Dependencies bundles what the modes need. Optional infrastructure is nil
// when disabled in the configuration.
type Dependencies struct {
	Runs   domain.RunStore
	Trades domain.TradeStore
	Equity domain.EquityStore
	Audit  domain.AuditStore
	Bars   domain.BarStore

	Bus      domain.SignalBus
	Locks    domain.LockManager
	Limiter  domain.RateLimiter
	BarCache domain.BarCache

	Archiver *s3blob.ReportArchiver
	Sources  map[string]feed.Source
	Notifier *notify.Notifier
	Metrics  *telemetry.Metrics

	// Checks feed the health endpoint.
	Checks map[string]handler.Check

	Service *service.RunService
}

// Wire builds every dependency from cfg. The returned cleanup releases them
// in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{
		Sources: make(map[string]feed.Source),
		Checks:  make(map[string]handler.Check),
		Metrics: telemetry.New(),
	}

	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		pool := pg.Pool()
		deps.Runs = postgres.NewRunStore(pool)
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Equity = postgres.NewEquityStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Bars = postgres.NewBarStore(pool)
		deps.Checks["postgres"] = pg.Ping
	} else {
		mem := memory.New()
		deps.Runs = mem
		deps.Trades = mem.Trades()
		deps.Equity = mem.Equity()
		logger.InfoContext(ctx, "wire: postgres disabled, runs kept in memory")
	}

	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Bus = redis.NewSignalBus(rc)
		deps.Locks = redis.NewLockManager(rc)
		deps.Limiter = redis.NewRateLimiter(rc)
		deps.BarCache = redis.NewBarCache(rc, cfg.Data.CacheTTL.Duration)
		deps.Checks["redis"] = rc.Ping
	}

	deps.Sources[config.SourceFile] = feed.FileSource{Dir: cfg.Data.Dir}
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		reader := s3blob.NewReader(sc)
		deps.Archiver = s3blob.NewReportArchiver(s3blob.NewWriter(sc), reader, deps.Audit)
		deps.Sources[config.SourceS3] = feed.BlobSource{Reader: reader, Prefix: cfg.Data.S3Prefix}
		deps.Checks["s3"] = sc.Health
	}
	if deps.Bars != nil {
		deps.Sources[config.SourcePostgres] = feed.StoreSource{Store: deps.Bars}
	}
	if cfg.Data.Cache && deps.BarCache != nil {
		for name, src := range deps.Sources {
			deps.Sources[name] = feed.CachedSource{Source: src, Cache: deps.BarCache, Logger: logger}
		}
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	svcDeps := service.Deps{
		Runs:       deps.Runs,
		Trades:     deps.Trades,
		Equity:     deps.Equity,
		Audit:      deps.Audit,
		Bus:        deps.Bus,
		Locks:      deps.Locks,
		Notifier:   deps.Notifier,
		Metrics:    deps.Metrics,
		Sources:    deps.Sources,
		Strategies: strategy.Builtin(),
		LockTTL:    cfg.Redis.LockTTL.Duration,
	}
	// A nil *ReportArchiver must not become a non-nil interface.
	if deps.Archiver != nil {
		svcDeps.Archiver = deps.Archiver
	}
	svc, err := service.NewRunService(svcDeps, logger)
	if err != nil {
		return fail("run service", err)
	}
	deps.Service = svc

	return deps, cleanup, nil
}
