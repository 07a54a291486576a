package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/opportunity-planner/internal/monitoring"
)

var (
	statsLookback int
	statsAlert    bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize stored planning jobs",
	Long:  "Prints job counts, error and fallback rates, recovery repairs, reconciliation findings and API cost. With --alert, breached thresholds are posted to the monitoring webhook.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("stats"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lookback := cfg.Monitoring.LookbackWindowHours
		if cmd.Flags().Changed("lookback") {
			lookback = statsLookback
		}

		collector := monitoring.NewCollector(st, nil)
		if !statsAlert {
			snap, err := collector.Collect(ctx, lookback)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		}

		report, err := monitoring.NewWatch(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring).Check(ctx, lookback)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report.Snapshot)
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsLookback, "lookback", 0, "lookback window in hours, 0 for all jobs (default from config)")
	statsCmd.Flags().BoolVar(&statsAlert, "alert", false, "evaluate alert thresholds and post to the webhook")
	rootCmd.AddCommand(statsCmd)
}
