// Package app wires configuration, logging and all pipeline components into
// one container shared by the CLI commands.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/govnewsbr/pipeline/internal/api"
	"github.com/govnewsbr/pipeline/internal/clock"
	"github.com/govnewsbr/pipeline/internal/clock/system"
	"github.com/govnewsbr/pipeline/internal/config"
	"github.com/govnewsbr/pipeline/internal/index"
	"github.com/govnewsbr/pipeline/internal/logging"
	"github.com/govnewsbr/pipeline/internal/metrics"
	"github.com/govnewsbr/pipeline/internal/migrate"
	"github.com/govnewsbr/pipeline/internal/news"
	"github.com/govnewsbr/pipeline/internal/pipeline"
	"github.com/govnewsbr/pipeline/internal/publisher"
	"github.com/govnewsbr/pipeline/internal/ratelimit"
	"github.com/govnewsbr/pipeline/internal/retry"
	"github.com/govnewsbr/pipeline/internal/scraper"
	"github.com/govnewsbr/pipeline/internal/store"
	"github.com/govnewsbr/pipeline/internal/store/gcs"
	"github.com/govnewsbr/pipeline/internal/store/local"
	"github.com/govnewsbr/pipeline/internal/store/memory"
	"github.com/govnewsbr/pipeline/internal/store/postgres"
	"github.com/govnewsbr/pipeline/internal/temporal"
)

// App holds the wired components for one process lifetime.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	clock      clock.Clock
	normalizer *temporal.Normalizer
	store      store.Provider
	projector  *index.Projector
	publisher  publisher.Provider
	runner     *pipeline.Runner
	migrator   *migrate.Coordinator
	server     *api.Server

	closers []func() error
}

// New loads configuration and constructs every component the commands need.
// A .env file in the working directory is applied before config resolution.
func New(ctx context.Context, configPath string) (*App, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	a := &App{
		cfg:        cfg,
		logger:     logger,
		clock:      system.New(),
		normalizer: temporal.NewNormalizer(),
	}
	a.closers = append(a.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	pol := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}

	if err := a.initStore(ctx, pol); err != nil {
		a.close()
		return nil, err
	}
	if err := a.initIndex(pol); err != nil {
		a.close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.close()
		return nil, err
	}

	sources, err := a.buildSources()
	if err != nil {
		a.close()
		return nil, err
	}

	a.runner = pipeline.NewRunner(sources, a.store, a.projector, a.publisher, a.clock, logger)
	a.migrator = migrate.NewCoordinator(a.store,
		migrate.NewFileLedger(cfg.Migration.LedgerPath),
		a.normalizer, a.clock, logger)

	if cfg.Server.Enabled {
		a.server = api.NewServer(cfg.Server, a.runner, logger)
		a.server.Start()
	}

	return a, nil
}

func (a *App) initStore(ctx context.Context, pol retry.Policy) error {
	switch a.cfg.Store.Provider {
	case "local":
		st, err := local.New(a.cfg.Store.Local, a.clock, a.logger)
		if err != nil {
			return err
		}
		a.store = st
	case "gcs":
		st, err := gcs.New(ctx, a.cfg.Store.GCS, pol, a.clock, a.logger)
		if err != nil {
			return err
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
	case "postgres":
		st, err := postgres.New(ctx, a.cfg.Store.Postgres, pol, a.clock, a.logger)
		if err != nil {
			return err
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
	case "memory":
		a.store = memory.New()
	default:
		return fmt.Errorf("unknown store provider %q", a.cfg.Store.Provider)
	}
	a.logger.Info("Canonical store ready", zap.String("provider", a.cfg.Store.Provider))
	return nil
}

func (a *App) initIndex(pol retry.Policy) error {
	client, err := index.NewClient(a.cfg.Index, a.logger)
	if err != nil {
		return err
	}
	a.projector = index.NewProjector(client, a.cfg.Index.BatchSize, pol, a.logger)
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.cfg.PubSub.Topic == "" {
		a.publisher = publisher.Noop{}
		return nil
	}
	pub, err := publisher.NewPubSub(ctx, a.cfg.PubSub, a.logger)
	if err != nil {
		return err
	}
	a.publisher = pub
	a.closers = append(a.closers, pub.Close)
	return nil
}

func (a *App) buildSources() ([]scraper.Source, error) {
	reg, err := scraper.LoadRegistry(a.cfg.Scraper.RegistryPath)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.New(a.cfg.RateLimit)

	var sources []scraper.Source
	for _, name := range reg.Names() {
		src, err := scraper.NewGovBRSource(name, reg.Agencies[name],
			a.cfg.Scraper.Portal, a.normalizer, limiter, a.clock, a.logger)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Runner returns the pipeline runner.
func (a *App) Runner() *pipeline.Runner { return a.runner }

// Migrator returns the field-migration coordinator.
func (a *App) Migrator() *migrate.Coordinator { return a.migrator }

// Store returns the canonical store.
func (a *App) Store() store.Provider { return a.store }

// Projector returns the search projector.
func (a *App) Projector() *index.Projector { return a.projector }

// DefaultPolicy maps the allow-update flag onto a merge policy.
func DefaultPolicy(allowUpdate bool) news.MergePolicy {
	if allowUpdate {
		return news.PolicyOverwrite
	}
	return news.PolicySkip
}

// Close shuts the server down and releases every component in reverse order.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if err := a.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (a *App) close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
