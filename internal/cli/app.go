package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"labflow/internal/config"
	"labflow/internal/fixture"
	"labflow/internal/lifecycle"
	"labflow/internal/logging"
	"labflow/internal/manifest"
	"labflow/internal/metrics"
	"labflow/internal/notify"
	"labflow/internal/output"
	"labflow/internal/rollup"
	"labflow/internal/router"
	"labflow/internal/status"
	"labflow/internal/store"
	"labflow/internal/store/memory"
	"labflow/internal/store/sqlite"
)

// NewApp wires the production stack described by cfg.
//
// The memory driver loads its state from cfg.Store.Path when the file
// exists and writes it back on [App.Close].
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed, err := cfg.SeedStatus()
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewFromConfig(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}

	rt, err := loadRouter(cfg.Workflows)
	if err != nil {
		return nil, err
	}
	logger.Debug("workflow catalog loaded", "manifest", cfg.Workflows.Manifest, "workflows", rt.WorkflowIDs())

	app := &App{
		Config:   cfg,
		Router:   rt,
		Notifier: notify.NewService(cfg.Notify),
		Printer:  output.NewPrinter(),
		Logger:   logger,
	}
	app.Printer.SetTruncateLength(cfg.Output.TruncateLength)
	app.Printer.SetTimeFormat(cfg.Output.TimeFormat)

	if err := app.openStore(ctx); err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		app.Metrics = metrics.New()
	}
	app.wireServices(seed)
	return app, nil
}

func loadRouter(cfg config.WorkflowsConfig) (*router.Router, error) {
	m, err := manifest.ReadFromFile(cfg.Manifest)
	if err != nil {
		return nil, fmt.Errorf("load workflow manifest: %w", err)
	}
	var schemas *manifest.SchemaManifest
	if cfg.Schemas != "" {
		schemas, err = manifest.ReadSchemasFromFile(cfg.Schemas)
		if err != nil {
			return nil, fmt.Errorf("load section schemas: %w", err)
		}
	}
	return router.NewRouterFromManifest(m, schemas)
}

func (app *App) openStore(ctx context.Context) error {
	cfg := app.Config.Store
	engine := store.DefaultRulesEngine()

	switch cfg.Driver {
	case config.DriverSQLite:
		st, err := sqlite.Open(cfg.Path, engine)
		if err != nil {
			return err
		}
		app.Store = st
	case config.DriverMemory:
		st := memory.NewStore(engine)
		app.Store = st
		if cfg.Path == "" {
			return nil
		}
		if err := loadMemoryState(ctx, st, cfg.Path); err != nil {
			return err
		}
		app.persist = func(ctx context.Context) error {
			doc, err := fixture.Export(ctx, st)
			if err != nil {
				return fmt.Errorf("snapshot memory store: %w", err)
			}
			return fixture.WriteFile(cfg.Path, doc)
		}
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	return nil
}

func loadMemoryState(ctx context.Context, st *memory.Store, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	doc, err := fixture.ReadFile(path)
	if err != nil {
		return err
	}
	if _, err := fixture.Import(ctx, st, doc); err != nil {
		return fmt.Errorf("load memory state: %w", err)
	}
	return nil
}

// wireServices builds the roll-up service and the lifecycle engine over the
// opened store.
func (app *App) wireServices(seed status.StationStatus) {
	ru := rollup.NewService(app.Store)
	ru.SetPublisher(app.Notifier)
	ru.SetLogger(app.Logger)
	ru.SetConcurrency(app.Config.Rollup.Concurrency)

	eng := lifecycle.NewEngine(app.Store, app.Router, app.Store, app.Store, app.Store)
	eng.SetRollup(ru)
	eng.SetLogger(app.Logger)
	eng.SetSeedStatus(seed)

	if app.Metrics != nil {
		ru.SetRecorder(app.Metrics)
		eng.SetRecorder(app.Metrics)
	}

	app.Rollup = ru
	app.Engine = eng
}
