package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/terra-clan/challenge-engine/internal/api"
	"github.com/terra-clan/challenge-engine/internal/catalog"
	"github.com/terra-clan/challenge-engine/internal/challenge"
	"github.com/terra-clan/challenge-engine/internal/config"
	"github.com/terra-clan/challenge-engine/internal/coverage"
	"github.com/terra-clan/challenge-engine/internal/engine"
	"github.com/terra-clan/challenge-engine/internal/services"
	"github.com/terra-clan/challenge-engine/internal/statistics"
	"github.com/terra-clan/challenge-engine/internal/storage"
)

// app wires the components every command shares
type app struct {
	cfg      *config.Config
	logger   *zap.SugaredLogger
	repo     storage.Repository
	catalog  *catalog.Loader
	stats    *statistics.Service
	engine   *engine.Engine
	registry *services.Registry
	events   api.Subscriber
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, memory bool) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: services.NewRegistry(),
	}

	a.catalog = catalog.NewLoader(logger)
	if err := a.catalog.LoadFromDir(cfg.Catalog.Dir); err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	if memory {
		logger.Warn("game state is kept in memory and lost on exit")
		a.repo = storage.NewMemoryRepository()
	} else {
		repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:          cfg.Database.DSN,
			MaxOpenConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create database repository: %w", err)
		}
		a.repo = repo
		logger.Info("database connected successfully")

		postgresProvider, err := services.NewPostgresProvider(ctx, cfg.Database.DSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create postgres provider: %w", err)
		}
		a.registry.Register("postgres", postgresProvider)
	}

	var (
		locker   engine.Locker
		notifier engine.Notifier
	)
	if cfg.Redis.Address != "" {
		redisProvider, err := services.NewRedisProvider(ctx, cfg.Redis.Address, cfg.Redis.Password, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create redis provider: %w", err)
		}
		redisProvider.SetLockTTL(cfg.Redis.LockTTL)
		a.registry.Register("redis", redisProvider)
		locker, notifier, a.events = redisProvider, redisProvider, redisProvider
	} else {
		bus := services.NewLocalBus(logger)
		locker, notifier, a.events = services.NewLocalLocker(), bus, bus
	}

	reader, err := coverage.NewReader(cfg.Coverage.CacheSize, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create coverage reader: %w", err)
	}

	seed := cfg.Game.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	factory := challenge.NewFactory(reader, challenge.NewRand(seed), challenge.FactoryConfig{
		TestProbability: cfg.Game.TestProbability,
		RankBias:        cfg.Game.RankBias,
		MaxAttempts:     cfg.Game.MaxAttempts,
	}, logger)

	a.stats = statistics.NewService(a.repo, cfg.Game.BackfillLimit, logger)
	a.engine = engine.New(a.repo, a.catalog, a.stats, factory, reader, engine.Config{
		Quota:              cfg.Game.Quota,
		CommitLimit:        cfg.Game.CommitLimit,
		UniquenessAttempts: cfg.Game.UniquenessAttempts,
		Workers:            cfg.Game.Workers,
		Extensions:         cfg.Game.Extensions,
	}, logger, engine.WithLocker(locker), engine.WithNotifier(notifier))

	logger.Infow("catalog loaded",
		"projects", len(a.catalog.ListProjects()),
		"activated", len(a.catalog.ActivatedProjects()),
		"users", len(a.catalog.Users()),
	)
	return a, nil
}

// Close releases the backing services
func (a *app) Close() error {
	var errs []error
	if err := a.registry.CloseAll(); err != nil {
		errs = append(errs, err)
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("repository: %w", err))
		}
	}
	return errors.Join(errs...)
}
