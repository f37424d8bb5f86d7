package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/archive"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/config"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/orchestrator"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/progress"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/reconciler"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/source"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/store"
)

// app holds the wired components shared by the serve and scrape
// commands.
type app struct {
	cfg          *config.Config
	store        store.Store
	registry     source.Registry
	publisher    progress.Publisher
	orchestrator orchestrator.Orchestrator
}

// loadConfig reads and validates the configuration and applies the
// configured log level unless --log-level was given.
func loadConfig() (*config.Config, error) {
	if len(cfgFiles) == 0 {
		return nil, fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if logLevel == "" {
		level, err := logrus.ParseLevel(cfg.Global.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid global.log_level %q: %w", cfg.Global.LogLevel, err)
		}

		log.SetLevel(level)
	}

	return cfg, nil
}

// newApp opens the store and builds every component. The scheduler is
// only enabled when withScheduler is set.
func newApp(ctx context.Context, cfg *config.Config, withScheduler bool) (*app, error) {
	registry, err := source.NewRegistryFromConfig(log, cfg, &http.Client{})
	if err != nil {
		return nil, fmt.Errorf("building sources: %w", err)
	}

	archiver, err := archive.NewArchiver(log, &cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("creating archiver: %w", err)
	}

	if err := archiver.Preflight(ctx); err != nil {
		return nil, fmt.Errorf("archive preflight: %w", err)
	}

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting store: %w", err)
	}

	pub := progress.NewPublisher(log)

	orch := orchestrator.NewOrchestrator(
		log,
		orchestrator.Config{
			SchedulerEnabled: withScheduler && cfg.Scheduler.Enabled,
			Interval:         cfg.SchedulerInterval(),
			RunOnStart:       cfg.Scheduler.RunOnStart,
		},
		registry,
		st,
		reconciler.NewReconciler(log, st),
		pub,
		archiver,
	)

	if err := orch.Start(ctx); err != nil {
		pub.Close()
		_ = st.Stop()

		return nil, fmt.Errorf("starting orchestrator: %w", err)
	}

	return &app{
		cfg:          cfg,
		store:        st,
		registry:     registry,
		publisher:    pub,
		orchestrator: orch,
	}, nil
}

// Close stops components in reverse start order.
func (a *app) Close() error {
	var errs []error

	if err := a.orchestrator.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping orchestrator: %w", err))
	}

	a.publisher.Close()

	if err := a.store.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping store: %w", err))
	}

	return errors.Join(errs...)
}
