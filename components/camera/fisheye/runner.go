package fisheye

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/fisheye/utils"
)

// A Runner advances a pipeline once per tick of a fixed period until it is closed.
type Runner struct {
	pipeline *Pipeline
	period   time.Duration
	workers  utils.StoppableWorkers
	done     chan struct{}
}

// NewRunner starts ticking pipeline every period on the pipeline's clock. onFrame, if not nil, is
// called after every Advance.
func NewRunner(ctx context.Context, pipeline *Pipeline, period time.Duration, onFrame func(Stats)) (*Runner, error) {
	if period <= 0 {
		return nil, errors.Errorf("tick period must be positive, got %v", period)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := &Runner{pipeline: pipeline, period: period, done: make(chan struct{})}
	r.workers = utils.NewStoppableWorkersWithContext(ctx, func(ctx context.Context) {
		r.run(ctx, onFrame)
	})
	return r, nil
}

func (r *Runner) run(ctx context.Context, onFrame func(Stats)) {
	defer close(r.done)
	ticker := r.pipeline.clock.Ticker(r.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := r.pipeline.Advance(ctx); err != nil {
			if !errors.Is(err, ErrClosed) && ctx.Err() == nil {
				r.pipeline.logger.Errorw("frame cycle failed", "pipeline", r.pipeline.name, "error", err)
			}
			return
		}
		if onFrame != nil {
			onFrame(r.pipeline.Stats())
		}
	}
}

// Done is closed once the runner stops ticking, either because it was closed, its context is
// done or the pipeline was closed.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Close stops ticking and waits for the current frame to finish. It does not close the pipeline.
func (r *Runner) Close() {
	r.workers.Stop()
}
