// File: cmd/results.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/toolforge/internal/history"
	"github.com/xkilldash9x/toolforge/internal/observability"
)

// newResultsCmd creates the 'results' command, which lists the experiment
// outcomes recorded in the history database.
func newResultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results",
		Short: "Lists recorded experiment results from the history database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if !cfg.History.Enabled {
				return fmt.Errorf("the history store is disabled (set history.enabled: true)")
			}
			pool, err := history.NewPool(ctx, cfg.History.Postgres)
			if err != nil {
				return fmt.Errorf("failed to connect to history database: %w", err)
			}
			defer pool.Close()

			store, err := history.New(ctx, pool, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize history store: %w", err)
			}
			records, err := store.ListResults(ctx)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				cmd.Println("No experiment results recorded yet.")
				return nil
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-8s %-12s %-9s %-11s %-10s %s\n",
				"EXP", "EXPERIMENT", "RESOLVED", "UNRESOLVED", "COST", "RECORDED")
			for _, r := range records {
				fmt.Fprintf(w, "%-8d %-12s %-9d %-11d $%-9.2f %s\n",
					r.ExpNum, r.ExperimentDir, r.Resolved, r.Unresolved,
					r.TotalCost, r.RecordedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}
