package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/mattjoyce/launchpad/internal/extract"
	"github.com/mattjoyce/launchpad/internal/job"
	"github.com/mattjoyce/launchpad/internal/log"
)

const (
	// DefaultTimeout suits multi-source research jobs.
	DefaultTimeout = 10 * time.Minute

	// DefaultGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	DefaultGracePeriod = 5 * time.Second
)

//go:generate mockgen -destination=mocks/mock_invoker.go -package=mocks github.com/mattjoyce/launchpad/internal/worker Invoker

// Invoker executes exactly one job and reports its outcome.
type Invoker interface {
	Invoke(ctx context.Context, d job.Descriptor) job.Result
}

// Config describes how to start the worker executable.
type Config struct {
	// Command is the executable followed by any fixed leading arguments,
	// e.g. ["node", "stock-guardian.js"].
	Command []string
	Dir     string
	// Env entries are appended to the parent environment.
	Env            []string
	Timeout        time.Duration
	GracePeriod    time.Duration
	RequireSummary bool
}

// Process is the subprocess-backed Invoker.
type Process struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Process, filling zero durations with defaults.
func New(cfg Config) *Process {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Process{
		cfg:    cfg,
		logger: log.WithComponent("worker"),
	}
}

// Timeout is the deadline applied to each invocation.
func (p *Process) Timeout() time.Duration { return p.cfg.Timeout }

// Args builds the positional arguments handed to the worker for d.
func Args(d job.Descriptor) ([]string, error) {
	sources, err := json.Marshal(d.Sources)
	if err != nil {
		return nil, fmt.Errorf("encode sources: %w", err)
	}

	var metadata []byte
	if len(d.Metadata) > 0 {
		metadata, err = json.Marshal(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}

	if d.Ticker != "" && d.Topic != "" {
		if metadata == nil {
			metadata = []byte("{}")
		}
		return []string{d.Ticker, d.Topic, d.Goal, string(sources), string(metadata)}, nil
	}

	args := []string{d.Label(), d.Goal, string(sources)}
	if metadata != nil {
		args = append(args, string(metadata))
	}
	return args, nil
}

// Invoke runs the worker for d and blocks until it exits, the deadline
// expires, or ctx is cancelled. The returned Result is always populated.
func (p *Process) Invoke(ctx context.Context, d job.Descriptor) (res job.Result) {
	res = job.NewResult(d)
	res.StartedAt = time.Now().UTC()
	defer func() {
		res.FinishedAt = time.Now().UTC()
		res.Duration = res.FinishedAt.Sub(res.StartedAt)
	}()

	logger := p.logger.With("topic", d.Label())

	if len(p.cfg.Command) == 0 || p.cfg.Command[0] == "" {
		res.Kind = job.KindSpawn
		res.Error = "no worker command configured"
		return res
	}

	args, err := Args(d)
	if err != nil {
		res.Kind = job.KindSpawn
		res.Error = err.Error()
		return res
	}

	argv := append(append([]string(nil), p.cfg.Command[1:]...), args...)
	// Not CommandContext: termination of the group is managed below.
	cmd := exec.Command(p.cfg.Command[0], argv...)
	cmd.Dir = p.cfg.Dir
	if len(p.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), p.cfg.Env...)
	}
	setProcessGroup(cmd)
	// A descendant holding the pipes must not stall Wait after the child exits.
	cmd.WaitDelay = p.cfg.GracePeriod

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning worker", "command", p.cfg.Command[0], "timeout", p.cfg.Timeout)

	if err := cmd.Start(); err != nil {
		logger.Error("worker spawn failed", "error", err)
		res.Kind = job.KindSpawn
		res.Error = err.Error()
		return res
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	timer := time.NewTimer(p.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		logger.Warn("worker timed out, terminating process group", "timeout", p.cfg.Timeout)
		p.terminate(cmd, waitErr, logger)
		res.Error = fmt.Sprintf("worker timed out after %v", p.cfg.Timeout)
		p.fillTimeout(&res, cmd, &stdout, &stderr)
		return res

	case <-ctx.Done():
		logger.Warn("worker cancelled, terminating process group", "error", ctx.Err())
		p.terminate(cmd, waitErr, logger)
		res.Error = fmt.Sprintf("worker cancelled: %v", ctx.Err())
		p.fillTimeout(&res, cmd, &stdout, &stderr)
		return res

	case err := <-waitErr:
		killGroup(cmd)
		res.Stdout = stdout.String()
		res.Stderr = stderr.String()
		p.fillExit(&res, cmd, err, logger)
		return res
	}
}

// terminate sends SIGTERM to the group, escalates to SIGKILL after the grace
// period, and waits for the child to be reaped.
func (p *Process) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if err := signalGroup(cmd, sigTerm); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(p.cfg.GracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("worker exited after SIGTERM")
	case <-grace.C:
		logger.Warn("worker did not exit after SIGTERM, sending SIGKILL")
		if err := signalGroup(cmd, sigKill); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
	// Descendants that ignored SIGTERM are still in the group.
	killGroup(cmd)
}

func (p *Process) fillTimeout(res *job.Result, cmd *exec.Cmd, stdout, stderr *bytes.Buffer) {
	res.Success = false
	res.TimedOut = true
	res.Kind = job.KindTimeout
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
}

func (p *Process) fillExit(res *job.Result, cmd *exec.Cmd, err error, logger *slog.Logger) {
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.Is(err, exec.ErrWaitDelay):
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		logger.Error("wait for worker failed", "error", err)
		res.Kind = job.KindWorkerFailure
		res.Error = fmt.Sprintf("wait for worker: %v", err)
		return
	}

	if res.ExitCode != 0 {
		logger.Warn("worker exited with non-zero status", "exit_code", res.ExitCode)
		res.Kind = job.KindWorkerFailure
		if res.ExitCode < 0 && cmd.ProcessState != nil {
			res.Error = fmt.Sprintf("worker terminated: %s", cmd.ProcessState.String())
		} else {
			res.Error = fmt.Sprintf("worker exited with code %d", res.ExitCode)
		}
		return
	}

	res.Success = true
	summary, perr := extract.LastJSONLine(res.Stdout)
	if perr == nil {
		res.Summary = summary
		logger.Info("worker completed", "duration", time.Since(res.StartedAt))
		return
	}

	if p.cfg.RequireSummary {
		logger.Warn("worker output has no JSON summary", "error", perr)
		res.Success = false
		res.Kind = job.KindResultParse
		res.Error = fmt.Sprintf("failed to parse result: %v", perr)
		return
	}
	res.ParseError = perr.Error()
	logger.Info("worker completed without summary", "duration", time.Since(res.StartedAt))
}
