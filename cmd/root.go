// Package cmd defines and implements the CLI commands for the govnews
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/govnewsbr/pipeline/internal/app"
	"github.com/govnewsbr/pipeline/internal/config"
	"github.com/govnewsbr/pipeline/internal/index"
	"github.com/govnewsbr/pipeline/internal/logging"
	"github.com/govnewsbr/pipeline/internal/migrate"
	"github.com/govnewsbr/pipeline/internal/pipeline"
	"github.com/govnewsbr/pipeline/internal/store"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the application surface commands use. It allows injecting a mock
// app during tests.
type App interface {
	Close(ctx context.Context) error
	Config() config.Config
	Logger() *zap.Logger
	Runner() *pipeline.Runner
	Migrator() *migrate.Coordinator
	Store() store.Provider
	Projector() *index.Projector
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context) (App, error) {
	return app.New(ctx, cfgFile)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "govnews",
		Short: "News pipeline for Brazilian federal government portals.",
		Long: `govnews scrapes news from federal agency portals, reconciles them
into a canonical deduplicated dataset, and projects the result into a
search engine. Runs are idempotent: re-scraping an already collected
window changes nothing.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := appInstance.Close(shutdownCtx); err != nil {
					logging.L.Warn("Shutdown finished with errors", zap.Error(err))
				}
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml resolved via env)")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newProjectCmd())
	cmd.AddCommand(newMigrateFieldCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. Exit code 0 means the run completed,
// 2 means it finished with partial failures, 1 means it failed outright.
func Execute() {
	logging.InitLogger(false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, pipeline.ErrPartialFailure) {
			logging.L.Warn("Run finished with partial failures", zap.Error(err))
			os.Exit(2)
		}
		logging.L.Error("Command execution failed", zap.Error(err))
		os.Exit(1)
	}
}
