/*
Package scaler keeps a pool of worker processes converged on a target
count.

A convergence attempt counts the live workers (starting, online or
running), compares them with the target and issues commands:

	current > target   terminate the excess, highest worker ids first
	current < target   spawn the deficit
	current == target  nothing

Converge returns once the commands are issued. Settlement is tracked by
the offset: it is set to +deficit or -excess and moves one step toward zero
each time a spawned worker comes online (or exits first, or fails to
spawn) and each time a terminated worker disconnects (or exits). While the
offset is non-zero further attempts are refused, so two overlapping
attempts can never double-spawn or double-kill. A refused attempt is
retried once the offset returns to zero.

Worker events arrive on cluster goroutines and are posted to the
configured Scheduler before they touch scaler state.

# Respawn

When Config.Respawn reports true, an unexpected worker exit posts a
trigger for a new attempt on the next scheduler turn. The trigger calls
Config.Trigger, which the application uses to push a convergence stage
onto its pipeline, so the attempt is ordered with the rest of the
application's stages. Triggers are paced by Config.Throttle: a throttled
trigger is delayed, never dropped. Workers the scaler terminated itself are
not respawned.

Basic usage:

	s := scaler.New(scaler.Config{
		Name:      "web",
		Cluster:   c,
		Scheduler: l,
		Respawn:   func() bool { return true },
		Throttle:  throttle.New(1, 3),
	})
	_ = s.SetTarget(4)
	d := s.Converge() // spawn current=0 target=4 delta=4
*/
package scaler
