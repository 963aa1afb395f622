// Package metrics provides Prometheus instrumentation for goboot components.
//
// # Overview
//
// The registry covers three areas:
//   - Pipelines: stages pushed, completed and failed, stage durations, queue depth
//   - Scaling: target and live worker counts, the scaling offset, convergence
//     decisions, spawns, terminations, exits and respawns
//   - Event loops: functions run and panics recovered
//
// Every metric carries an "app" (or "loop") label so several named
// applications can share one registry.
//
// # Quick Start
//
// Pass a registry to the boot registry and expose it over HTTP:
//
//	reg := boot.NewRegistry(boot.Config{Metrics: metrics.DefaultRegistry})
//	http.Handle("/metrics", promhttp.Handler())
//
// # Custom Registry
//
// Use a separate Prometheus registry for isolation, as tests do:
//
//	promReg := prometheus.NewRegistry()
//	m := metrics.NewRegistryWithConfig(metrics.Config{
//		Enabled:   true,
//		Registry:  promReg,
//		Namespace: "myapp",
//		Labels:    prometheus.Labels{"env": "staging"},
//	})
//
// # Nil Registry
//
// The recording helpers (ObserveStage, Convergence, Spawned, ...) are safe on
// a nil *Registry, which is how disabled metrics are represented.
//
// # Available Metrics
//
//	goboot_pipeline_stages_pushed_total{app}
//	goboot_pipeline_stages_completed_total{app,stage}
//	goboot_pipeline_stages_failed_total{app,stage}
//	goboot_pipeline_stage_duration_seconds{app,kind}
//	goboot_pipeline_depth{app}
//	goboot_scaler_workers_target{app}
//	goboot_scaler_workers_live{app}
//	goboot_scaler_offset{app}
//	goboot_scaler_convergences_total{app,action}
//	goboot_scaler_workers_spawned_total{app}
//	goboot_scaler_workers_terminated_total{app}
//	goboot_scaler_worker_exits_total{app,status}
//	goboot_scaler_spawn_failures_total{app}
//	goboot_scaler_respawns_total{app}
//	goboot_scaler_respawns_throttled_total{app}
//	goboot_loop_tasks_total{loop}
//	goboot_loop_panics_total{loop}
package metrics
