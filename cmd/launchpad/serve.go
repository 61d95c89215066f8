package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/launchpad/internal/api"
	"github.com/mattjoyce/launchpad/internal/config"
	"github.com/mattjoyce/launchpad/internal/events"
	"github.com/mattjoyce/launchpad/internal/lock"
	"github.com/mattjoyce/launchpad/internal/log"
	"github.com/mattjoyce/launchpad/internal/registry"
	"github.com/mattjoyce/launchpad/internal/service"
	"github.com/mattjoyce/launchpad/internal/storage"
	"github.com/mattjoyce/launchpad/internal/worker"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP job service",
		Long: `Run the HTTP job service.

Jobs submitted with POST /crawl run in the background; poll GET /jobs/{id}
or follow GET /events for progress. Finished jobs are journaled to the
state database unless --no-history is given.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("listen", "", "Override api.listen")
	cmd.Flags().Bool("no-history", false, "Do not journal finished jobs")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.API.Listen = listen
	}
	noHistory, _ := cmd.Flags().GetBool("no-history")

	logger := log.WithComponent("main")
	logger.Info("launchpad starting", "version", version, "config", cfg.SourcePath)

	if cfg.State.LockPath != "" {
		if err := storage.CheckLocalFilesystem(cfg.State.LockPath); err != nil {
			return err
		}
		pidLock, err := lock.Acquire(cfg.State.LockPath)
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.State.LockPath, "error", err)
			return err
		}
		defer func() { _ = pidLock.Release() }()
		logger.Info("acquired PID lock", "path", pidLock.Path())
	}

	ctx := cmd.Context()

	var opts []registry.Option
	if cfg.State.Path != "" && !noHistory {
		db, err := storage.OpenSQLite(ctx, cfg.State.Path)
		if err != nil {
			logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
			return err
		}
		defer db.Close()
		opts = append(opts, registry.WithJournal(storage.NewHistory(db)))
		logger.Info("job history enabled", "path", cfg.State.Path)
	}

	hub := events.NewHub(cfg.API.EventBacklog)
	defer hub.Close()

	svc := service.New(registry.New(opts...), worker.New(workerConfig(cfg, 0)), hub)
	server := api.New(api.Config{
		Listen:      cfg.API.Listen,
		ServiceName: cfg.Service.Name,
		APIKey:      cfg.API.APIKey,
		CORSOrigins: cfg.API.CORSOrigins,
		SubmitRate:  cfg.API.SubmitRate,
		SubmitBurst: cfg.API.SubmitBurst,
	}, svc, hub, log.WithComponent("api"))

	if cfg.API.APIKey == "" {
		logger.Warn("api.api_key not set; job routes are unauthenticated", "listen", cfg.API.Listen)
	}

	serveErr := server.Start(ctx)
	if errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}

	// In-flight workers get until the shutdown timeout, then their process
	// groups are killed.
	logger.Info("waiting for running jobs", "timeout", cfg.Service.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Warn("running jobs were cut short", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("api: %w", serveErr)
	}
	logger.Info("launchpad stopped")
	return nil
}

// workerConfig maps configuration onto the invoker. A positive timeout
// overrides worker.timeout.
func workerConfig(cfg *config.Config, timeout time.Duration) worker.Config {
	if timeout <= 0 {
		timeout = cfg.Worker.Timeout
	}
	return worker.Config{
		Command:        cfg.Worker.Command,
		Dir:            cfg.Worker.Dir,
		Env:            cfg.Worker.Env,
		Timeout:        timeout,
		GracePeriod:    cfg.Worker.GracePeriod,
		RequireSummary: cfg.Worker.RequireSummary,
	}
}
