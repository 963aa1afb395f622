// Package throttle paces respawn-driven convergence attempts with a token
// bucket. A crash-looping worker would otherwise trigger a new spawn as fast
// as it can exit; the bucket lets Burst respawns through immediately and
// spaces the rest at Rate per second. Reserve never refuses, it only
// reports a delay.
package throttle
