package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/opportunity-planner/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a stored planning job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("status"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := store.GetJob(ctx, st, args[0])
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				return eris.Errorf("job %s not found", args[0])
			}
			return err
		}
		return printJSON(cmd.OutOrStdout(), job)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
