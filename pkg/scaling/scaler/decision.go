package scaler

import "fmt"

// Action is what a convergence attempt did.
type Action int

const (
	// ActionNone means the live count already matched the target.
	ActionNone Action = iota
	// ActionSkip means the attempt was refused.
	ActionSkip
	// ActionSpawn means workers were spawned.
	ActionSpawn
	// ActionTerminate means workers were asked to terminate.
	ActionTerminate
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionSkip:
		return "skip"
	case ActionSpawn:
		return "spawn"
	case ActionTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Decision records one convergence attempt.
type Decision struct {
	Action  Action
	Current int
	Target  int
	// Delta is the number of workers spawned (positive) or terminated
	// (negative). For a skipped attempt it is the offset that blocked it.
	Delta  int
	Reason string
}

func (d Decision) String() string {
	return fmt.Sprintf("%s current=%d target=%d delta=%d: %s", d.Action, d.Current, d.Target, d.Delta, d.Reason)
}
