// Package orchestrator runs a batch of jobs through a worker.Invoker and
// returns one Result per job, in submission order.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/launchpad/internal/job"
	"github.com/mattjoyce/launchpad/internal/log"
	"github.com/mattjoyce/launchpad/internal/worker"
)

type Mode string

const (
	// ModeParallel starts one invocation per job concurrently.
	ModeParallel Mode = "parallel"
	// ModeSequential runs each invocation to completion before the next, for
	// workers that contend for a single local resource such as a browser port.
	ModeSequential Mode = "sequential"
)

// ParseMode accepts "parallel", "sequential", or empty for parallel.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeParallel:
		return ModeParallel, nil
	case ModeSequential:
		return ModeSequential, nil
	default:
		return "", fmt.Errorf("unknown run mode %q (want parallel or sequential)", s)
	}
}

type Options struct {
	Mode Mode
	// MaxParallel caps concurrent invocations in parallel mode. Zero means one
	// per job; callers with large batches are expected to set it.
	MaxParallel int
	// BasePort, when positive, assigns metadata["port"] = BasePort+index to
	// jobs that do not set a port themselves.
	BasePort int
}

// Report is the aggregate outcome of one batch.
type Report struct {
	Mode      Mode          `json:"mode"`
	Results   []job.Result  `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

type Orchestrator struct {
	inv    worker.Invoker
	opts   Options
	logger *slog.Logger
}

func New(inv worker.Invoker, opts Options) *Orchestrator {
	if opts.Mode == "" {
		opts.Mode = ModeParallel
	}
	return &Orchestrator{
		inv:    inv,
		opts:   opts,
		logger: log.WithComponent("orchestrator"),
	}
}

// Run validates the whole batch, then executes it. The only error returned is
// a validation failure, in which case nothing was started. Individual job
// failures are reported in the Results.
func (o *Orchestrator) Run(ctx context.Context, batch []job.Descriptor) (*Report, error) {
	for i, d := range batch {
		if err := d.ValidateAt(i); err != nil {
			return nil, err
		}
	}

	prepared := o.prepare(batch)
	results := make([]job.Result, len(prepared))

	o.logger.Info("running batch", "jobs", len(prepared), "mode", o.opts.Mode, "max_parallel", o.opts.MaxParallel)
	start := time.Now()

	switch o.opts.Mode {
	case ModeSequential:
		o.runSequential(ctx, prepared, results)
	case ModeParallel:
		o.runParallel(ctx, prepared, results)
	default:
		return nil, fmt.Errorf("unknown run mode %q", o.opts.Mode)
	}

	report := &Report{
		Mode:    o.opts.Mode,
		Results: results,
		Elapsed: time.Since(start),
	}
	for _, r := range results {
		if r.Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	o.logger.Info("batch finished",
		"jobs", len(results),
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"elapsed", report.Elapsed,
	)
	return report, nil
}

// runParallel fans out one goroutine per job. The group is not bound to a
// shared context so one failure never cancels its siblings; each goroutine
// owns exactly one slot of results.
func (o *Orchestrator) runParallel(ctx context.Context, batch []job.Descriptor, results []job.Result) {
	var g errgroup.Group
	if o.opts.MaxParallel > 0 {
		g.SetLimit(o.opts.MaxParallel)
	}
	for i, d := range batch {
		g.Go(func() error {
			results[i] = o.invoke(ctx, i, d)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) runSequential(ctx context.Context, batch []job.Descriptor, results []job.Result) {
	for i, d := range batch {
		results[i] = o.invoke(ctx, i, d)
	}
}

// invoke never panics and never returns a zero Result.
func (o *Orchestrator) invoke(ctx context.Context, index int, d job.Descriptor) (res job.Result) {
	logger := o.logger.With("index", index, "topic", d.Label())

	if err := ctx.Err(); err != nil {
		res = job.NewResult(d)
		res.Kind = job.KindTimeout
		res.Error = fmt.Sprintf("not started: %v", err)
		res.StartedAt = time.Now().UTC()
		res.FinishedAt = res.StartedAt
		return res
	}

	started := time.Now().UTC()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker invocation panicked", "panic", r)
			res = job.NewResult(d)
			res.Kind = job.KindPanic
			res.Error = fmt.Sprintf("worker invocation panicked: %v", r)
			res.StartedAt = started
			res.FinishedAt = time.Now().UTC()
			res.Duration = res.FinishedAt.Sub(started)
		}
	}()

	logger.Debug("starting job", "sources", len(d.Sources))
	res = o.inv.Invoke(ctx, d)
	if !res.Success {
		logger.Warn("job failed", "kind", res.Kind, "error", res.Error)
	}
	return res
}

func (o *Orchestrator) prepare(batch []job.Descriptor) []job.Descriptor {
	out := make([]job.Descriptor, len(batch))
	for i, d := range batch {
		d = d.Clone()
		if o.opts.BasePort > 0 {
			if _, ok := d.Metadata["port"]; !ok {
				if d.Metadata == nil {
					d.Metadata = make(map[string]any)
				}
				d.Metadata["port"] = o.opts.BasePort + i
			}
		}
		out[i] = d
	}
	return out
}
