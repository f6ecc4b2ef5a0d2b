package main

import (
	"github.com/spf13/cobra"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept trigger events over HTTP and run the daily timer",
	Long: `Starts the dispatcher workers, the in-process daily timer and the HTTP listener
for report-created and daily-timer events. Stops on SIGINT or SIGTERM after
in-flight tasks finish.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		application, logger, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer application.Close()

		if serveMigrate {
			if err := application.Migrate(cmd.Context()); err != nil {
				return err
			}
		}

		logger.Info("citysense starting", "version", version)
		return application.Serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "create missing tables before serving")
}
