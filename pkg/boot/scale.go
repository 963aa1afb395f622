package boot

import (
	"context"
	"runtime"

	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
	"github.com/vnykmshr/goboot/pkg/runtime/pipeline"
	"github.com/vnykmshr/goboot/pkg/scaling/reconcile"
	"github.com/vnykmshr/goboot/pkg/scaling/scaler"
	"github.com/vnykmshr/goboot/pkg/scaling/targetstore"
)

// Scale queues stages that set the numForks option to n and converge the
// worker pool on it. In a worker process the convergence is skipped.
func (a *App) Scale(n int) *App {
	if n < 0 {
		panic(gberrors.NewValidationError("boot", "target", n, "must be non-negative"))
	}
	a.SetOption(OptNumForks, n)
	return a.Push(a.convergeStage())
}

// ScaleFull scales to one worker per logical CPU.
func (a *App) ScaleFull() *App {
	return a.Scale(runtime.NumCPU())
}

// ScaleSpec scales to a target given as text: a non-negative integer or
// "full".
func (a *App) ScaleSpec(spec string) error {
	n, err := scaler.ParseTarget(spec)
	if err != nil {
		return err
	}
	a.Scale(n)
	return nil
}

// Target returns the current value of the numForks option.
func (a *App) Target() int { return a.intOption(OptNumForks) }

// Offset returns the scaler's count of unsettled worker transitions:
// positive while spawned workers are still starting, negative while
// terminated workers are still disconnecting.
func (a *App) Offset() int { return a.scaler.Offset() }

func (a *App) convergeStage() Stage {
	return pipeline.Sync[*App]("converge", func() error {
		if err := a.scaler.SetTarget(a.intOption(OptNumForks)); err != nil {
			return err
		}
		a.scaler.Converge()
		return nil
	})
}

// requestConvergence queues a convergence stage behind whatever is already
// queued.
func (a *App) requestConvergence(reason string) {
	a.logger.Debug().Str("reason", reason).Msg("convergence requested")
	a.Push(a.convergeStage())
}

// Reconcile re-runs convergence on a cron schedule, so the pool returns to
// its target after drifting without a new Scale call.
func (a *App) Reconcile(spec string) *App {
	if err := reconcile.Validate(spec); err != nil {
		panic(err)
	}
	sched := a.registry.config.Scheduler
	err := a.registry.reconcilerFor().Schedule(a.name, spec, func() {
		if err := sched.Post(func() { a.requestConvergence("reconcile") }); err != nil {
			a.logger.Debug().Err(err).Msg("dropping reconcile trigger")
		}
	})
	if err != nil {
		panic(err)
	}
	return a
}

// FollowTargets scales the App to the target stored for it in store, now
// and whenever it changes, until ctx ends or the Registry is closed. It is
// a no-op in a worker process.
func (a *App) FollowTargets(ctx context.Context, store targetstore.Store) error {
	if !a.registry.config.Cluster.IsControl() {
		return nil
	}

	ctx, release, err := a.registry.track(ctx)
	if err != nil {
		return err
	}
	updates, err := store.Watch(ctx, a.name)
	if err != nil {
		release()
		return err
	}
	n, ok, err := store.Target(ctx, a.name)
	if err != nil {
		release()
		return err
	}
	sched := a.registry.config.Scheduler
	apply := func(n int) {
		a.logger.Info().Int("target", n).Msg("target changed")
		if err := sched.Post(func() { a.Scale(n) }); err != nil {
			a.logger.Debug().Err(err).Msg("dropping target change")
		}
	}
	if ok {
		apply(n)
	}

	go func() {
		defer release()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-updates:
				if !ok {
					return
				}
				apply(n)
			}
		}
	}()
	return nil
}
