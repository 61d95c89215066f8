package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/launchpad/internal/storage"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [job-id]",
		Short: "Show finished jobs from the history database",
		Long: `Show finished jobs journaled by launchpad serve (or launchpad run --record).

With a job id, print that job's full record including worker output.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistory,
	}
	cmd.Flags().Int("limit", 20, "Maximum number of jobs to list")
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.State.Path == "" {
		return errors.New("state.path is not configured")
	}
	if _, err := os.Stat(cfg.State.Path); err != nil {
		return fmt.Errorf("no history database at %s: %w", cfg.State.Path, err)
	}

	ctx := cmd.Context()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	history := storage.NewHistory(db)

	if len(args) == 1 {
		entry, err := history.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("job %s: %w", args[0], err)
		}
		return writeJSON(cmd, entry)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	entries, err := history.List(ctx, limit)
	if err != nil {
		return err
	}
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return writeJSON(cmd, entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No finished jobs.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tSTATUS\tTICKER\tTOPIC\tEXIT\tDURATION\tCOMPLETED")
	for _, e := range entries {
		exit := "-"
		if e.ExitCode != nil {
			exit = fmt.Sprintf("%d", *e.ExitCode)
		}
		completed := "-"
		if e.CompletedAt != nil {
			completed = e.CompletedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.JobID, e.Status, dash(e.Ticker), e.Topic, exit, e.Duration.Round(time.Millisecond), completed)
	}
	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
