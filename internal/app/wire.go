package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/propdesk/propdesk/internal/archive"
	"github.com/propdesk/propdesk/internal/blob/s3"
	"github.com/propdesk/propdesk/internal/cache/redis"
	"github.com/propdesk/propdesk/internal/config"
	"github.com/propdesk/propdesk/internal/domain"
	"github.com/propdesk/propdesk/internal/engine"
	"github.com/propdesk/propdesk/internal/monitor"
	"github.com/propdesk/propdesk/internal/store/postgres"
)

// Dependencies holds every constructed component plus the resources that
// need closing on shutdown. Engine and Evaluator are the embedding surface
// for whatever fronts the system (an API process, an admin tool); the run
// modes here only drive the background loops.
type Dependencies struct {
	Engine    *engine.Engine
	Evaluator *monitor.Evaluator
	Monitor   *monitor.Monitor
	Archiver  *archive.Runner

	// DefaultRules seeds the rules snapshot of challenges created through
	// this process, from the [rules] config section.
	DefaultRules           domain.RulesConfig
	DefaultStartingBalance float64

	closers []func()
}

// rulesFromConfig maps the [rules] config section onto the domain snapshot.
func rulesFromConfig(r config.RulesDefaults) domain.RulesConfig {
	return domain.RulesConfig{
		ProfitTarget:           r.ProfitTarget,
		MaxDrawdown:            r.MaxDrawdown,
		DailyDrawdown:          r.DailyDrawdown,
		MaxOpenPositions:       r.MaxOpenPositions,
		PerEventExposurePct:    r.PerEventExposurePct,
		PerCategoryExposurePct: r.PerCategoryExposurePct,
		MaxTradesPerHour:       r.MaxTradesPerHour,
		MinMarketVolume:        r.MinMarketVolume,
		LiquidityCapPct:        r.LiquidityCapPct,
	}
}

// Close releases all held resources in reverse construction order.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// needsS3 reports whether the configured mode uses object storage.
func needsS3(cfg config.Config) bool {
	return cfg.Mode == config.ModeArchive || (cfg.Mode == config.ModeFull && cfg.Archive.Enabled)
}

// wire constructs the dependency graph for the configured mode.
func wire(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		DefaultRules:           rulesFromConfig(cfg.Rules),
		DefaultStartingBalance: cfg.Rules.StartingBalance,
	}

	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("app: postgres: %w", err)
	}
	deps.closers = append(deps.closers, pg.Close)

	if err := pg.RunMigrations(ctx); err != nil {
		deps.Close()
		return nil, fmt.Errorf("app: migrations: %w", err)
	}

	rd, err := redis.New(ctx, redis.ClientConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("app: redis: %w", err)
	}
	deps.closers = append(deps.closers, func() { _ = rd.Close() })

	challenges := postgres.NewChallengeStore(pg)
	positions := postgres.NewPositionStore(pg)
	trades := postgres.NewTradeStore(pg)
	markets := postgres.NewMarketStore(pg)
	audit := postgres.NewAuditStore(pg)
	ledger := postgres.NewLedger(pg)

	prices := redis.NewPriceCache(rd)
	books := redis.NewBookCache(rd)

	deps.Engine = engine.New(
		challenges, positions, trades, markets, ledger, prices, books, audit,
		engine.Config{
			SlippagePct:     cfg.Engine.SlippagePct,
			SyntheticDepth:  cfg.Engine.SyntheticDepth,
			SyntheticLevels: cfg.Engine.SyntheticLevels,
			SyntheticStep:   cfg.Engine.SyntheticStep,
		},
		logger,
	)

	deps.Evaluator = monitor.NewEvaluator(challenges, positions, prices, logger)
	deps.Monitor = monitor.New(
		challenges, positions, prices, deps.Evaluator,
		cfg.Monitor.Interval.Duration, cfg.Monitor.MaxParallel, logger,
	)

	if needsS3(cfg) {
		blob, err := s3.New(ctx, s3.ClientConfig{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("app: s3: %w", err)
		}

		archiver := archive.New(trades, audit, s3.NewWriter(blob), logger)
		retention := time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour
		deps.Archiver = archive.NewRunner(archiver, cfg.Archive.Interval.Duration, retention, logger)
	}

	return deps, nil
}
