// Package iteration runs a measurement script a fixed number of times against
// one browser and hands every result to the collector.
package iteration

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/onkernel/pageperf/lib/collector"
)

// Script performs one iteration. It may return a partial payload together
// with an error when a later page of a multi-page script fails.
type Script interface {
	Run(ctx context.Context, iteration int) (*collector.IterationPayload, error)
}

// Sink receives iteration results. *collector.Collector implements it.
type Sink interface {
	Absorb(payload collector.IterationPayload) error
	RecordFailure(iteration int, url, alias string, err error)
	AddSessionError(iteration int, err error)
}

// Observer is told when iterations start and finish.
type Observer interface {
	IterationStarted(i int)
	IterationFinished(i int, err error)
}

type Options struct {
	Iterations int
	// Delay is the pause between two iterations.
	Delay    time.Duration
	Observer Observer
}

// Runner runs iterations one after another. Iteration i is fully absorbed
// before iteration i+1 starts.
type Runner struct {
	logger *slog.Logger
	sink   Sink
	opts   Options
	wait   func(ctx context.Context, d time.Duration) error
}

func NewRunner(logger *slog.Logger, sink Sink, opts Options) *Runner {
	if opts.Iterations < 1 {
		opts.Iterations = 1
	}
	return &Runner{logger: logger, sink: sink, opts: opts, wait: sleepCtx}
}

// Run executes every iteration. Page and browser failures are recorded and
// the run continues; a malformed metric tree or a cancelled context stops it.
func (r *Runner) Run(ctx context.Context, script Script) error {
	n := r.opts.Iterations
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := r.logger.With("iteration", i, "of", n)
		log.Info("iteration starting")
		if r.opts.Observer != nil {
			r.opts.Observer.IterationStarted(i)
		}

		payload, err := script.Run(ctx, i)
		if payload != nil && len(payload.Pages) > 0 {
			if aerr := r.sink.Absorb(*payload); aerr != nil {
				return aerr
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.record(i, err)
		}
		if r.opts.Observer != nil {
			r.opts.Observer.IterationFinished(i, err)
		}
		log.Info("iteration finished", "failed", err != nil)

		if i < n && r.opts.Delay > 0 {
			if err := r.wait(ctx, r.opts.Delay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) record(i int, err error) {
	var pe *PageError
	if errors.As(err, &pe) {
		r.sink.RecordFailure(i, pe.URL, pe.Alias, pe.Err)
		return
	}
	r.sink.AddSessionError(i, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
