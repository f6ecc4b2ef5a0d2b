package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"CitySense/internal/app"
	"CitySense/internal/config"
	"CitySense/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "citysense",
	Short: "Civic issue scoring and daily escalation pipeline",
	Long: "CitySense scores citizen-submitted civic issue reports as they arrive and,\n" +
		"once a day, escalates the most critical one with generated text.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyseCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.Version = version
}

// openApp loads configuration and builds the application with production adapters.
func openApp(ctx context.Context) (*app.Application, *slog.Logger, error) {
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger, app.Adapters{})
	if err != nil {
		return nil, nil, err
	}
	return application, logger, nil
}
