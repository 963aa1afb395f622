// Package reconcile triggers work on cron schedules.
//
// Applications use it to re-run a convergence attempt periodically, so a
// worker pool that drifted from its target (a worker killed from outside,
// a respawn that was disabled) is brought back even without a new event:
//
//	r := reconcile.New()
//	_ = r.Schedule("web", "@every 30s", func() { app.Converge() })
//	r.Start()
//	defer func() { <-r.Stop() }()
//
// Schedules use the standard five cron fields, an optional leading seconds
// field, or descriptors such as "@hourly" and "@every 1m".
package reconcile
