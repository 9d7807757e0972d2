package backtest

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Job is one independent run of a sweep. Instruments must not share
// strategies or tick sources with another job.
type Job struct {
	Settings    Settings
	Instruments []Instrument
	Observer    Observer
}

// Sweep runs jobs concurrently, at most limit at a time (GOMAXPROCS when
// limit <= 0). Reports come back in job order. The first fatal error cancels
// the remaining jobs.
func (e *Engine) Sweep(ctx context.Context, jobs []Job, limit int) ([]*Report, error) {
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	reports := make([]*Report, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range jobs {
		i := i
		g.Go(func() error {
			rep, err := e.Run(gctx, jobs[i].Settings, jobs[i].Instruments, jobs[i].Observer)
			reports[i] = rep
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}
