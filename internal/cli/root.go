// Package cli provides the command-line interface for labflow.
//
// Commands are built with Cobra around an [App] that carries every
// collaborator. [NewApp] wires the production stack from configuration;
// tests build an App by hand with in-memory collaborators and run
// commands through [NewRootCommand].
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"labflow/internal/acceptance"
	"labflow/internal/config"
	"labflow/internal/lifecycle"
	"labflow/internal/metrics"
	"labflow/internal/notify"
	"labflow/internal/output"
	"labflow/internal/router"
	"labflow/internal/status"
	"labflow/internal/store"
)

// Transitioner moves items through their workflows. The lifecycle.Engine
// type implements this interface.
type Transitioner interface {
	Progress(ctx context.Context, itemID, actingUserID string) (*acceptance.StationRecord, error)
	Complete(ctx context.Context, recordID string, params map[string]string, details, actingUserID string) (lifecycle.TransitionResult, error)
	Reject(ctx context.Context, recordID string, params map[string]string, details, actingUserID string, reRouteOrder *int) (lifecycle.TransitionResult, error)
	EnterSample(ctx context.Context, barcode, sectionID, actingUserID string) ([]acceptance.StationRecord, error)
}

// Recomputer derives order statuses. The rollup.Service type implements
// this interface.
type Recomputer interface {
	Recompute(ctx context.Context, orderID string) (status.OrderStatus, error)
	RecomputeAll(ctx context.Context, orderIDs ...string) (map[string]status.OrderStatus, error)
}

// App holds the collaborators shared by every command.
type App struct {
	Config   *config.Config
	Store    store.Store
	Router   *router.Router
	Engine   Transitioner
	Rollup   Recomputer
	Notifier notify.Service
	Metrics  *metrics.Recorder
	Printer  *output.Printer
	Logger   *slog.Logger

	// persist writes memory-driver state back to disk. Nil for SQLite.
	persist func(ctx context.Context) error
}

// Close flushes memory-driver state, writes the metrics textfile when
// enabled, and closes the store.
func (app *App) Close(ctx context.Context) error {
	var firstErr error
	if app.persist != nil {
		if err := app.persist(ctx); err != nil {
			firstErr = err
		}
	}
	if app.Metrics != nil && app.Config != nil && app.Config.Metrics.Enabled && app.Config.Metrics.Textfile != "" {
		if err := app.Metrics.WriteTextfile(app.Config.Metrics.Textfile); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if app.Store != nil {
		if err := app.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (app *App) logger() *slog.Logger {
	if app.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return app.Logger
}

// NewRootCommand creates the root command with every subcommand attached.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "labflow",
		Short: "Laboratory acceptance workflow engine",
		Long: `labflow moves laboratory testing units through their workflow stations.

Items are seeded at their first station, scanned in at the sample-entry gate,
completed or rejected station by station, and their orders roll up to
reported once every report is published.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newImportCommand(app),
		newExportCommand(app),
		newShowCommand(app),
		newProgressCommand(app),
		newCompleteCommand(app),
		newRejectCommand(app),
		newScanCommand(app),
		newScanFeedCommand(app),
		newPublishCommand(app),
		newRecomputeCommand(app),
		newNotifyTestCommand(app),
	)

	return rootCmd
}

// ExecuteResult is the outcome of a CLI run.
type ExecuteResult struct {
	ExitCode int
	Err      error
}

// RunWithConfig builds the application from cfg, runs the command line in
// args and closes the application.
func RunWithConfig(ctx context.Context, cfg *config.Config, args []string) ExecuteResult {
	app, err := NewApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExecuteResult{ExitCode: ExitGeneric, Err: err}
	}

	rootCmd := NewRootCommand(app)
	rootCmd.SetArgs(args)
	runErr := rootCmd.ExecuteContext(ctx)

	if err := app.Close(ctx); err != nil {
		app.logger().Error("shutdown failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	if runErr != nil {
		if code, ok := IsExitError(runErr); ok {
			return ExecuteResult{ExitCode: code, Err: runErr}
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		return ExecuteResult{ExitCode: ExitGeneric, Err: runErr}
	}
	return ExecuteResult{}
}

// Execute loads configuration, runs the command line and exits the process
// with the resulting code.
func Execute() {
	cfg, err := config.NewLoader().Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(ExitGeneric)
	}

	result := RunWithConfig(context.Background(), cfg, os.Args[1:])
	os.Exit(result.ExitCode)
}
