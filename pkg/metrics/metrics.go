// Package metrics provides Prometheus instrumentation for goboot components.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for goboot components. A nil
// *Registry is valid and records nothing.
type Registry struct {
	// Pipeline Metrics
	StagesPushed    *prometheus.CounterVec
	StagesCompleted *prometheus.CounterVec
	StagesFailed    *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	PipelineDepth   *prometheus.GaugeVec

	// Scaling Metrics
	WorkersTarget     *prometheus.GaugeVec
	WorkersLive       *prometheus.GaugeVec
	ScalingOffset     *prometheus.GaugeVec
	Convergences      *prometheus.CounterVec
	WorkersSpawned    *prometheus.CounterVec
	WorkersTerminated *prometheus.CounterVec
	WorkerExits       *prometheus.CounterVec
	SpawnFailures     *prometheus.CounterVec
	Respawns          *prometheus.CounterVec
	RespawnsThrottled *prometheus.CounterVec

	// Event Loop Metrics
	LoopTasks  *prometheus.CounterVec
	LoopPanics *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by goboot components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithConfig(Config{
		Enabled:   true,
		Registry:  reg,
		Namespace: DefaultNamespace,
	})
}

// NewRegistryWithConfig creates a registry honouring the namespace and
// constant labels of config.
func NewRegistryWithConfig(config Config) *Registry {
	reg := config.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ns := config.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	factory := promauto.With(reg)
	labels := config.Labels

	counter := func(subsystem, name, help string, labelNames ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, labelNames)
	}
	gauge := func(subsystem, name, help string, labelNames ...string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, labelNames)
	}

	return &Registry{
		// Pipeline Metrics
		StagesPushed:    counter("pipeline", "stages_pushed_total", "Total number of stages pushed", "app"),
		StagesCompleted: counter("pipeline", "stages_completed_total", "Total number of stages completed successfully", "app", "stage"),
		StagesFailed:    counter("pipeline", "stages_failed_total", "Total number of stages that failed and halted the pipeline", "app", "stage"),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   "pipeline",
				Name:        "stage_duration_seconds",
				Help:        "Time from stage start to completion",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"app", "kind"},
		),
		PipelineDepth: gauge("pipeline", "depth", "Number of stages waiting to run", "app"),

		// Scaling Metrics
		WorkersTarget:     gauge("scaler", "workers_target", "Desired number of workers", "app"),
		WorkersLive:       gauge("scaler", "workers_live", "Live workers observed at the last convergence", "app"),
		ScalingOffset:     gauge("scaler", "offset", "Unsettled worker transitions; positive while spawning, negative while terminating", "app"),
		Convergences:      counter("scaler", "convergences_total", "Convergence attempts by resulting action", "app", "action"),
		WorkersSpawned:    counter("scaler", "workers_spawned_total", "Total number of workers spawned", "app"),
		WorkersTerminated: counter("scaler", "workers_terminated_total", "Total number of workers asked to terminate", "app"),
		WorkerExits:       counter("scaler", "worker_exits_total", "Worker exits by status", "app", "status"),
		SpawnFailures:     counter("scaler", "spawn_failures_total", "Total number of failed spawn attempts", "app"),
		Respawns:          counter("scaler", "respawns_total", "Convergences triggered by worker exits", "app"),
		RespawnsThrottled: counter("scaler", "respawns_throttled_total", "Respawn triggers delayed by the throttle", "app"),

		// Event Loop Metrics
		LoopTasks:  counter("loop", "tasks_total", "Total number of functions run on the event loop", "loop"),
		LoopPanics: counter("loop", "panics_total", "Total number of recovered panics on the event loop", "loop"),
	}
}

// ObserveStage records a finished stage.
func (r *Registry) ObserveStage(app, stage, kind string, d time.Duration, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.StagesFailed.WithLabelValues(app, stage).Inc()
	} else {
		r.StagesCompleted.WithLabelValues(app, stage).Inc()
	}
	r.StageDuration.WithLabelValues(app, kind).Observe(d.Seconds())
}

// StagePushed records a pushed stage and the resulting queue depth.
func (r *Registry) StagePushed(app string, depth int) {
	if r == nil {
		return
	}
	r.StagesPushed.WithLabelValues(app).Inc()
	r.PipelineDepth.WithLabelValues(app).Set(float64(depth))
}

// SetDepth records the pipeline queue depth.
func (r *Registry) SetDepth(app string, depth int) {
	if r == nil {
		return
	}
	r.PipelineDepth.WithLabelValues(app).Set(float64(depth))
}

// Convergence records one convergence decision.
func (r *Registry) Convergence(app, action string, current, target, offset int) {
	if r == nil {
		return
	}
	r.Convergences.WithLabelValues(app, action).Inc()
	r.WorkersLive.WithLabelValues(app).Set(float64(current))
	r.WorkersTarget.WithLabelValues(app).Set(float64(target))
	r.ScalingOffset.WithLabelValues(app).Set(float64(offset))
}

// SetTarget records the desired worker count.
func (r *Registry) SetTarget(app string, target int) {
	if r == nil {
		return
	}
	r.WorkersTarget.WithLabelValues(app).Set(float64(target))
}

// SetOffset records the scaling offset.
func (r *Registry) SetOffset(app string, offset int) {
	if r == nil {
		return
	}
	r.ScalingOffset.WithLabelValues(app).Set(float64(offset))
}

// Spawned records a successful spawn.
func (r *Registry) Spawned(app string) {
	if r == nil {
		return
	}
	r.WorkersSpawned.WithLabelValues(app).Inc()
}

// SpawnFailed records a failed spawn.
func (r *Registry) SpawnFailed(app string) {
	if r == nil {
		return
	}
	r.SpawnFailures.WithLabelValues(app).Inc()
}

// Terminated records a termination request.
func (r *Registry) Terminated(app string) {
	if r == nil {
		return
	}
	r.WorkersTerminated.WithLabelValues(app).Inc()
}

// Exited records a worker exit.
func (r *Registry) Exited(app string, err error) {
	if r == nil {
		return
	}
	status := "clean"
	if err != nil {
		status = "error"
	}
	r.WorkerExits.WithLabelValues(app, status).Inc()
}

// Respawn records a respawn trigger, and whether it was delayed.
func (r *Registry) Respawn(app string, throttled bool) {
	if r == nil {
		return
	}
	r.Respawns.WithLabelValues(app).Inc()
	if throttled {
		r.RespawnsThrottled.WithLabelValues(app).Inc()
	}
}

// LoopTask records a function run on the named loop.
func (r *Registry) LoopTask(loop string, panicked bool) {
	if r == nil {
		return
	}
	r.LoopTasks.WithLabelValues(loop).Inc()
	if panicked {
		r.LoopPanics.WithLabelValues(loop).Inc()
	}
}
