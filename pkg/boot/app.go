package boot

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/vnykmshr/goboot/pkg/cluster"
	"github.com/vnykmshr/goboot/pkg/common/validation"
	"github.com/vnykmshr/goboot/pkg/runtime/namespace"
	"github.com/vnykmshr/goboot/pkg/runtime/pipeline"
	"github.com/vnykmshr/goboot/pkg/scaling/scaler"
	"github.com/vnykmshr/goboot/pkg/scaling/throttle"
)

// Stage is a pipeline stage owned by an App.
type Stage = pipeline.Stage[*App]

// App is a named application instance. Every mutating method queues a
// stage on the App's pipeline and returns the App for chaining; the stages
// run one at a time in call order, even when a stage completes
// asynchronously.
//
// Invalid arguments are programming errors: they panic with a
// *errors.ValidationError when the method is called, not when its stage
// runs.
type App struct {
	name     string
	registry *Registry
	parent   *App
	tree     *namespace.Tree
	pipe     *pipeline.Pipeline[*App]
	scaler   *scaler.Scaler
	bucket   *throttle.Bucket
	logger   zerolog.Logger
	debug    atomic.Bool

	mu      sync.RWMutex
	options map[string]any
}

// newApp must be called with r.mu held.
func (r *Registry) newApp(name string, inherited map[string]any, parent *App) *App {
	opts := DefaultOptions(name)
	for k, v := range r.config.Defaults {
		opts[k] = v
	}
	for k, v := range inherited {
		opts[k] = v
	}

	a := &App{
		name:     name,
		registry: r,
		parent:   parent,
		tree:     r.treeLocked(cast.ToString(opts[OptAppRoot])),
		options:  opts,
	}
	a.debug.Store(cast.ToBool(opts[OptDebug]))

	c := r.config.Cluster
	a.logger = r.logger.With().
		Str("app", name).
		Str("role", cluster.RoleOf(c).String()).
		Int("worker", c.WorkerID()).
		Logger().
		Hook(debugGate{app: a})

	metrics := r.config.Metrics
	a.pipe = pipeline.NewWithConfig(pipeline.Config[*App]{
		Owner:     a,
		Scheduler: r.config.Scheduler,
		OnStagePush: func(stage string, depth int) {
			metrics.StagePushed(name, depth)
		},
		OnStageStart: func(stage string) {
			a.logger.Debug().Str("stage", stage).Msg("stage started")
		},
		OnStageComplete: func(res pipeline.StageResult) {
			metrics.ObserveStage(name, res.StageName, res.Kind.String(), res.Duration, res.Error)
			metrics.SetDepth(name, a.pipe.Len())
		},
		OnError: func(stage string, err error) {
			a.logger.Error().Err(err).Str("stage", stage).Msg("stage failed, pipeline halted")
		},
	})

	bucket, err := throttle.NewSafe(throttle.Limit(a.floatOption(OptRespawnRate)), a.intOption(OptRespawnBurst))
	if err != nil {
		panic(err)
	}
	a.bucket = bucket
	a.scaler = scaler.New(scaler.Config{
		Name:      name,
		Cluster:   c,
		Scheduler: r.config.Scheduler,
		Trigger:   a.requestConvergence,
		Respawn:   func() bool { return a.boolOption(OptForkRespawn) },
		Throttle:  bucket,
		Logger:    &a.logger,
		Metrics:   metrics,
	})

	a.logger.Debug().Msg("app created")
	return a
}

// Name returns the App's registry name.
func (a *App) Name() string { return a.name }

// Parent returns the App this one was created from by Context, or nil.
func (a *App) Parent() *App { return a.parent }

// Registry returns the Registry holding the App.
func (a *App) Registry() *Registry { return a.registry }

// Role reports the process role the App runs in.
func (a *App) Role() cluster.Role { return a.registry.Role() }

// WorkerID returns this process's worker id, 0 in the control process.
func (a *App) WorkerID() int { return a.registry.config.Cluster.WorkerID() }

// Logger returns the App's logger. Debug messages are emitted only while
// the debug option is true.
func (a *App) Logger() *zerolog.Logger { return &a.logger }

// Debug reports the current value of the debug option.
func (a *App) Debug() bool { return a.debug.Load() }

// Push queues stage. A Sync stage that runs immediately and fails halts the
// pipeline; the failure is logged and reported by Err.
func (a *App) Push(stage Stage) *App {
	_ = a.pipe.Push(stage)
	return a
}

// Then queues a synchronous step.
func (a *App) Then(name string, fn func() error) *App {
	return a.Push(pipeline.Sync[*App](name, fn))
}

// ThenAsync queues a step that completes when it calls done.
func (a *App) ThenAsync(name string, fn func(done pipeline.Done)) *App {
	return a.Push(pipeline.Async[*App](name, fn))
}

// ThenWith queues a step that receives the App and completes when it calls
// done.
func (a *App) ThenWith(name string, fn func(a *App, done pipeline.Done)) *App {
	return a.Push(pipeline.WithOwner[*App](name, fn))
}

// Wait blocks until every stage queued before the call has run. It returns
// the failure that halted the pipeline, or ctx.Err().
func (a *App) Wait(ctx context.Context) error {
	return a.pipe.Wait(ctx)
}

// Err returns the failure that last halted the pipeline.
func (a *App) Err() error { return a.pipe.Err() }

// Resume restarts a halted pipeline without queueing a stage.
func (a *App) Resume() error { return a.pipe.Resume() }

// SetOption queues a stage that sets option name to v.
func (a *App) SetOption(name string, v any) *App {
	if err := checkOption(name, v); err != nil {
		panic(err)
	}
	return a.Push(pipeline.Sync[*App]("set_option", func() error {
		a.setOption(name, v)
		return nil
	}))
}

// SetOptions queues a single stage that sets every option in opts.
func (a *App) SetOptions(opts map[string]any) *App {
	if err := checkOptions(opts); err != nil {
		panic(err)
	}
	copied := make(map[string]any, len(opts))
	for k, v := range opts {
		copied[k] = v
	}
	return a.Push(pipeline.Sync[*App]("set_options", func() error {
		for _, k := range sortedKeys(copied) {
			a.setOption(k, copied[k])
		}
		return nil
	}))
}

func (a *App) setOption(name string, v any) {
	a.mu.Lock()
	a.options[name] = v
	a.mu.Unlock()

	switch name {
	case OptDebug:
		a.debug.Store(cast.ToBool(v))
	case OptRespawnRate:
		a.bucket.SetLimit(throttle.Limit(cast.ToFloat64(v)))
	case OptRespawnBurst:
		_ = a.bucket.SetBurst(cast.ToInt(v))
	}
	a.logger.Debug().Str("option", name).Interface("value", v).Msg("set option")
}

// Option returns the current value of option name. Values set by queued
// stages are visible once those stages have run.
func (a *App) Option(name string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.options[name]
	return v, ok
}

// Options returns a copy of the current options.
func (a *App) Options() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]any, len(a.options))
	for k, v := range a.options {
		out[k] = v
	}
	return out
}

// Context returns the App registered under name, creating it as a child
// of a on first use. A new child starts with a's current options,
// overridden by overrides, so it shares a's namespace unless overrides
// names another appRoot. It has its own pipeline.
func (a *App) Context(name string, overrides map[string]any) *App {
	if err := validation.ValidateNotEmpty("boot", "name", name); err != nil {
		panic(err)
	}
	if err := checkOptions(overrides); err != nil {
		panic(err)
	}
	return a.registry.getOrCreate(name, func() *App {
		opts := a.Options()
		for k, v := range overrides {
			opts[k] = v
		}
		a.logger.Debug().Str("context", name).Msg("create context")
		return a.registry.newApp(name, opts, a)
	})
}

// Control calls fn immediately when running in the control process.
func (a *App) Control(fn func(a *App)) *App {
	if a.registry.config.Cluster.IsControl() {
		fn(a)
	}
	return a
}

// Worker calls fn immediately when running in a worker process.
func (a *App) Worker(fn func(a *App)) *App {
	if a.registry.config.Cluster.IsWorker() {
		fn(a)
	}
	return a
}

// Namespace returns the tree the App mounts into.
func (a *App) Namespace() *namespace.Tree { return a.tree }

// Resolve returns the value mounted at path. Misses and provider failures
// report false.
func (a *App) Resolve(path string) (any, bool) { return a.tree.Resolve(path) }

// Stats is a snapshot of an App's pipeline and scaler.
type Stats struct {
	Pipeline pipeline.Stats
	Scaler   scaler.Stats
}

// Stats returns a snapshot of the App's counters.
func (a *App) Stats() Stats {
	return Stats{Pipeline: a.pipe.Stats(), Scaler: a.scaler.Stats()}
}
