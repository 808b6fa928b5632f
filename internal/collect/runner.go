package collect

import (
	"context"
	"time"

	"github.com/abelbrown/icewatch/internal/logging"
	"github.com/abelbrown/icewatch/internal/model"
)

// Cycle describes one collection pass.
type Cycle struct {
	Producer string
	Number   int
	Reports  int
	Duration time.Duration
	Err      error
	Wait     time.Duration // delay before the next pass
}

// Runner polls one Producer until its context is cancelled.
type Runner struct {
	producer Producer
	out      chan<- model.RawReport
	backoff  *Backoff

	// OnCycle, if set, is called after every pass from the runner goroutine.
	OnCycle func(Cycle)
}

// NewRunner creates a runner that sends reports to out.
func NewRunner(p Producer, out chan<- model.RawReport) *Runner {
	return &Runner{
		producer: p,
		out:      out,
		backoff:  NewBackoff(),
	}
}

// Backoff exposes the retry policy for tuning.
func (r *Runner) Backoff() *Backoff {
	return r.backoff
}

// Run collects, forwards and sleeps until ctx is done. Failures back off
// exponentially; a success resets the backoff and waits the poll interval.
// It returns nil when cancelled.
func (r *Runner) Run(ctx context.Context) error {
	name := r.producer.Name()
	logging.Info("collector starting", "source", name)
	defer logging.Info("collector stopped", "source", name)

	for n := 1; ; n++ {
		if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		reports, err := r.producer.Collect(ctx)
		cycle := Cycle{Producer: name, Number: n, Duration: time.Since(start), Err: err}

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			cycle.Wait = r.backoff.Next()
			logging.Warn("collection failed, backing off", "source", name, "cycle", n, "backoff", cycle.Wait, "error", err)
		} else {
			r.backoff.Reset()
			cycle.Reports = len(reports)
			cycle.Wait = r.producer.PollInterval()
			if !r.forward(ctx, reports) {
				return nil
			}
			if len(reports) > 0 {
				logging.Info("collected reports", "source", name, "cycle", n, "count", len(reports))
			} else {
				logging.Debug("cycle complete, no new reports", "source", name, "cycle", n)
			}
		}

		if r.OnCycle != nil {
			r.OnCycle(cycle)
		}
		if !sleep(ctx, cycle.Wait) {
			return nil
		}
	}
}

// forward sends reports in order, stopping if ctx is cancelled.
func (r *Runner) forward(ctx context.Context, reports []model.RawReport) bool {
	for _, rep := range reports {
		select {
		case r.out <- rep:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// sleep waits for d or until ctx is done. It reports whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
