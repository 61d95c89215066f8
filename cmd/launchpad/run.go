package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/launchpad/internal/batch"
	"github.com/mattjoyce/launchpad/internal/config"
	"github.com/mattjoyce/launchpad/internal/job"
	"github.com/mattjoyce/launchpad/internal/log"
	"github.com/mattjoyce/launchpad/internal/orchestrator"
	"github.com/mattjoyce/launchpad/internal/storage"
	"github.com/mattjoyce/launchpad/internal/worker"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <batch.yaml>",
		Short: "Run a batch of jobs and print a JSON report",
		Long: `Run every job in a batch file through the worker and print the
aggregate report as JSON. Results are listed in batch order.

Options are taken from flags, then the batch file, then the batch section
of the configuration.

Examples:
  # Run jobs concurrently, one browser port per job from 9222
  launchpad run jobs.yaml --base-port 9222

  # Run one at a time and keep the report
  launchpad run jobs.yaml --sequential -o report.json`,
		Args: cobra.ExactArgs(1),
		RunE: runBatch,
	}
	cmd.Flags().Bool("sequential", false, "Run jobs one at a time")
	cmd.Flags().String("mode", "", "Run mode: parallel or sequential")
	cmd.Flags().Int("max-parallel", 0, "Cap concurrent workers in parallel mode (0 = one per job)")
	cmd.Flags().Int("base-port", 0, "Assign metadata.port = base-port + index")
	cmd.Flags().Duration("timeout", 0, "Per-job deadline (default batch.timeout or worker.timeout)")
	cmd.Flags().StringP("output", "o", "", "Write the report to a file instead of stdout")
	cmd.Flags().Bool("record", false, "Journal results to the history database")
	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	file, err := batch.Load(args[0])
	if err != nil {
		return err
	}

	opts, timeout, err := batchOptions(cmd, cfg, file)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	orch := orchestrator.New(worker.New(workerConfig(cfg, timeout)), opts)
	descriptors := file.Descriptors()
	report, err := orch.Run(ctx, descriptors)
	if err != nil {
		return err
	}

	if record, _ := cmd.Flags().GetBool("record"); record {
		if err := recordReport(context.WithoutCancel(ctx), cfg.State.Path, report); err != nil {
			log.WithComponent("main").Warn("failed to journal batch results", "error", err)
		}
	}

	if out, _ := cmd.Flags().GetString("output"); out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		cmd.SetOut(f)
		defer f.Close()
	}
	if err := writeJSON(cmd, report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if report.Failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", report.Failed, len(report.Results))
	}
	return nil
}

// batchOptions resolves run options: flag, then batch file, then config.
func batchOptions(cmd *cobra.Command, cfg *config.Config, file *batch.File) (orchestrator.Options, time.Duration, error) {
	flags := cmd.Flags()

	mode := cfg.Batch.Mode
	if file.Mode != "" {
		mode = file.Mode
	}
	if flags.Changed("mode") {
		mode, _ = flags.GetString("mode")
	}
	if seq, _ := flags.GetBool("sequential"); seq {
		mode = string(orchestrator.ModeSequential)
	}
	parsed, err := orchestrator.ParseMode(mode)
	if err != nil {
		return orchestrator.Options{}, 0, err
	}

	opts := orchestrator.Options{
		Mode:        parsed,
		MaxParallel: firstPositive(intFlag(cmd, "max-parallel"), file.MaxParallel, cfg.Batch.MaxParallel),
		BasePort:    firstPositive(intFlag(cmd, "base-port"), file.BasePort, cfg.Batch.BasePort),
	}
	if opts.MaxParallel < 0 || opts.BasePort < 0 || opts.BasePort > 65535 {
		return orchestrator.Options{}, 0, fmt.Errorf("invalid batch options: max_parallel=%d base_port=%d", opts.MaxParallel, opts.BasePort)
	}

	timeout, _ := flags.GetDuration("timeout")
	if timeout <= 0 {
		timeout = file.Timeout
	}
	if timeout <= 0 {
		timeout = cfg.Batch.Timeout
	}
	return opts, timeout, nil
}

func intFlag(cmd *cobra.Command, name string) int {
	v, _ := cmd.Flags().GetInt(name)
	return v
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

// recordReport journals each batch result as a finished job.
func recordReport(ctx context.Context, path string, report *orchestrator.Report) error {
	if path == "" {
		return fmt.Errorf("state.path is not configured")
	}
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()

	history := storage.NewHistory(db)
	for _, res := range report.Results {
		if err := history.Record(ctx, jobFromResult(res)); err != nil {
			return err
		}
	}
	return nil
}

func jobFromResult(res job.Result) job.Job {
	r := res
	j := job.Job{
		ID: uuid.NewString(),
		Descriptor: job.Descriptor{
			Ticker:  res.Ticker,
			Topic:   res.Topic,
			Goal:    res.Goal,
			Sources: res.Sources,
		},
		Status:    job.StatusCompleted,
		CreatedAt: res.StartedAt,
		Result:    &r,
	}
	if !res.StartedAt.IsZero() {
		started, finished := res.StartedAt, res.FinishedAt
		j.StartedAt = &started
		j.CompletedAt = &finished
	}
	if !res.Success {
		j.Status = job.StatusFailed
		j.Error = res.Error
	}
	return j
}
