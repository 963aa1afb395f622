/*
Package goboot bootstraps applications made of mounted modules and runs them
across a pool of worker processes.

Application (pkg/boot):
  - Registry: named Apps, shared scheduler, cluster and reconciler
  - App: ordered boot stages, options, mounts, run, scale, contexts

Runtime (pkg/runtime):
  - pipeline: ordered sync and async stages advanced on the next turn
  - loop: single-goroutine event loop providing that next turn
  - namespace: dotted mount tree with eager, lazy and snapshot leaves
  - discovery: directory scanning and JSON/YAML/TOML decoding
  - preload: bounded-concurrency warming of lazy leaves

Scaling (pkg/scaling):
  - scaler: converges the worker count to a target, with respawn
  - throttle: token bucket pacing respawns
  - reconcile: cron schedules that re-run convergence
  - targetstore: shared targets in memory or Redis

Processes (pkg/cluster):
  - Exec: workers as re-executed child processes

Example usage:

	import "github.com/vnykmshr/goboot/pkg/boot"

	registry := boot.NewRegistry(boot.Config{})
	defer registry.Close(context.Background())

	app := registry.App("web").
		MountDir("config", "config").
		Run("services").
		Control(func(a *boot.App) { a.ScaleFull() })

	if err := app.Wait(ctx); err != nil {
		log.Fatal(err)
	}

The goboot command (cmd/goboot) drives the same API from a config file.
*/
package goboot
