package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var analyseCmd = &cobra.Command{
	Use:   "analyse <report-id>...",
	Short: "Analyse PENDING reports now",
	Long: `Runs classification and scoring inline for each report id. Reports that are
no longer PENDING are left untouched, so re-running is safe.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, _, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer application.Close()

		var failed int
		for _, id := range args {
			if err := application.AnalyseReport(cmd.Context(), id); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: done\n", id)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d reports failed", failed, len(args))
		}
		return nil
	},
}
