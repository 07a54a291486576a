package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-planner/internal/model"
	"github.com/sells-group/opportunity-planner/internal/payload"
	"github.com/sells-group/opportunity-planner/internal/records"
)

var (
	payloadOut     string
	payloadMode    string
	payloadHorizon int
)

var payloadCmd = &cobra.Command{
	Use:   "payload <records-file>",
	Short: "Build an opportunity payload from a records file",
	Long:  "Reads service opportunity rows (JSON, YAML, CSV or XLSX) and prints the compact payload that would be sent for planning.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("payload"); err != nil {
			return err
		}

		in, err := loadInput(args[0])
		if err != nil {
			return err
		}

		gen := payload.New(payload.WithOptions(payload.Options{
			IncludedDrivers: cfg.Planner.IncludedDrivers,
			DetailDrivers:   cfg.Planner.DetailDrivers,
		}))
		pl := gen.Generate(in.Records, in.Preferences)
		if pl == nil {
			return eris.Errorf("%s: no service opportunities", args[0])
		}

		zap.L().Info("payload built",
			zap.String("file", args[0]),
			zap.Int("items", pl.SummaryMetrics.ItemCount),
			zap.Int("drivers", len(pl.TopDrivers)),
		)

		if payloadOut == "" {
			return printJSON(cmd.OutOrStdout(), pl)
		}
		f, err := os.Create(payloadOut)
		if err != nil {
			return eris.Wrap(err, "create payload output")
		}
		defer f.Close() //nolint:errcheck
		return printJSON(f, pl)
	},
}

// loadInput reads a records file and applies the --mode and --horizon overrides.
func loadInput(path string) (*records.Input, error) {
	in, err := records.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if payloadMode != "" {
		in.Preferences.FinancialMode = model.FinancialMode(payloadMode)
	}
	if payloadHorizon > 0 {
		in.Preferences.TimeHorizonMonths = payloadHorizon
	}
	return in, nil
}

func init() {
	payloadCmd.Flags().StringVarP(&payloadOut, "out", "o", "", "write the payload to a file instead of stdout")
	for _, c := range []*cobra.Command{payloadCmd, planCmd} {
		c.Flags().StringVar(&payloadMode, "mode", "", "financial mode override (revenue_only or cost_bearing)")
		c.Flags().IntVar(&payloadHorizon, "horizon", 0, "time horizon in months override")
	}
	rootCmd.AddCommand(payloadCmd)
}
