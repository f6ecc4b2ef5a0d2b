package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"CitySense/internal/domain"
)

var aggregateDate string

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Run the daily escalation for one day",
	Long: `Ranks the scored reports of the given day in the reference timezone and stores
the escalation artifact for the top one. Defaults to the day that closed last.
A day that already has an artifact is left untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var date domain.Date
		if aggregateDate != "" {
			parsed, err := domain.ParseDate(aggregateDate)
			if err != nil {
				return err
			}
			date = parsed
		}

		application, _, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer application.Close()

		if date == "" {
			date = application.ClosedDay()
		}
		if err := application.Aggregate(cmd.Context(), date); err != nil {
			return err
		}

		artifact, err := application.Repository().GetEscalationArtifact(cmd.Context(), date)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			fmt.Fprintf(cmd.OutOrStdout(), "%s: nothing to escalate\n", date)
		case err != nil:
			return err
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "%s: report %s (%.2f)\n%s\n", date, artifact.ReportID, artifact.CompositeScore, artifact.Content)
		}
		return nil
	},
}

func init() {
	aggregateCmd.Flags().StringVar(&aggregateDate, "date", "", "day to aggregate (YYYY-MM-DD)")
}
