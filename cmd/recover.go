package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-planner/internal/model"
	"github.com/sells-group/opportunity-planner/internal/payload"
	"github.com/sells-group/opportunity-planner/internal/reconcile"
	"github.com/sells-group/opportunity-planner/internal/recovery"
)

var recoverPayload string

// recoverReport is printed by the recover command.
type recoverReport struct {
	Stage       recovery.Stage       `json:"stage"`
	Repairs     []string             `json:"repairs"`
	Substituted bool                 `json:"substituted"`
	Failure     *recoverFailure      `json:"failure,omitempty"`
	Plan        *model.GeneratedPlan `json:"plan,omitempty"`
	Findings    []string             `json:"findings,omitempty"`
}

type recoverFailure struct {
	Kind   recovery.FailureKind `json:"kind"`
	Stage  recovery.Stage       `json:"stage"`
	Detail string               `json:"detail,omitempty"`
}

var recoverCmd = &cobra.Command{
	Use:   "recover <response-file>",
	Short: "Recover a plan from a saved raw model response",
	Long:  "Runs the recovery pipeline over raw response text offline. With --payload, the recovered plan is also reconciled against that payload.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("recover"); err != nil {
			return err
		}

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read response file")
		}

		res := recovery.Recover(string(raw))
		report := recoverReport{
			Stage:       res.Stage,
			Repairs:     res.Repairs,
			Substituted: res.Substituted(),
			Plan:        res.Plan,
		}
		if report.Repairs == nil {
			report.Repairs = []string{}
		}

		if res.Failure != nil {
			report.Failure = &recoverFailure{Kind: res.Failure.Kind, Stage: res.Failure.Stage, Detail: res.Failure.Detail}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return eris.Errorf("recovery failed: %s", res.Failure.Kind)
		}

		if recoverPayload != "" && !res.Plan.Fallback {
			pl, err := readPayload(recoverPayload)
			if err != nil {
				return err
			}
			if err := payload.CheckInvariant(pl); err != nil {
				return eris.Wrap(err, "payload file does not reconcile")
			}
			report.Findings = reconcile.New(cfg.Reconcile).Reconcile(res.Plan, pl)
		}

		zap.L().Info("recovery complete",
			zap.String("stage", string(res.Stage)),
			zap.Strings("repairs", res.Repairs),
			zap.Int("findings", len(report.Findings)),
		)
		return printJSON(cmd.OutOrStdout(), report)
	},
}

func readPayload(path string) (*model.OpportunityPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read payload file")
	}
	var pl model.OpportunityPayload
	if err := json.Unmarshal(data, &pl); err != nil {
		return nil, eris.Wrap(err, "decode payload file")
	}
	return &pl, nil
}

func init() {
	recoverCmd.Flags().StringVar(&recoverPayload, "payload", "", "payload JSON file to reconcile the recovered plan against")
	rootCmd.AddCommand(recoverCmd)
}
