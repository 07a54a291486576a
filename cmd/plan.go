package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/opportunity-planner/internal/model"
)

var planOutDir string

var planCmd = &cobra.Command{
	Use:   "plan <records-file>...",
	Short: "Generate implementation plans for one or more records files",
	Long:  "Builds a payload per file, requests a plan, and prints the finished jobs. Files are processed concurrently up to planner.max_concurrent.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPlanner(ctx, "plan")
		if err != nil {
			return err
		}
		defer env.Close()

		if planOutDir != "" {
			if err := os.MkdirAll(planOutDir, 0o755); err != nil {
				return eris.Wrap(err, "create output dir")
			}
		}

		jobs := make([]*model.Job, len(args))
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(max(cfg.Planner.MaxConcurrent, 1))

		for i, path := range args {
			g.Go(func() error {
				job, err := planFile(gCtx, env, path)
				if err != nil {
					return eris.Wrapf(err, "plan %s", path)
				}
				jobs[i] = job
				if planOutDir == "" {
					return nil
				}
				return writeJob(filepath.Join(planOutDir, jobFileName(path)), job)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		errored := 0
		for _, job := range jobs {
			if job.Status == model.JobStatusError {
				errored++
			}
		}
		zap.L().Info("plan complete",
			zap.Int("files", len(args)),
			zap.Int("errored", errored),
		)

		if planOutDir != "" {
			return nil
		}
		if len(jobs) == 1 {
			return printJSON(cmd.OutOrStdout(), jobs[0])
		}
		return printJSON(cmd.OutOrStdout(), jobs)
	},
}

func planFile(ctx context.Context, env *plannerEnv, path string) (*model.Job, error) {
	in, err := loadInput(path)
	if err != nil {
		return nil, err
	}
	pl, err := env.Planner.Payload(in.Records, in.Preferences)
	if err != nil {
		return nil, err
	}
	job, err := env.Planner.Run(ctx, pl)
	if err != nil {
		return nil, err
	}
	zap.L().Info("plan job finished",
		zap.String("file", path),
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
	)
	return job, nil
}

// jobFileName maps records/q3.csv to q3.plan.json.
func jobFileName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".plan.json"
}

func writeJob(path string, job *model.Job) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "create plan output")
	}
	defer f.Close() //nolint:errcheck
	return printJSON(f, job)
}

func init() {
	planCmd.Flags().StringVar(&planOutDir, "out-dir", "", "write one <name>.plan.json per input file instead of printing")
	rootCmd.AddCommand(planCmd)
}
