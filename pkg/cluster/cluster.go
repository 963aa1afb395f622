package cluster

import (
	"sort"
)

// Role identifies which side of the cluster the current process is on.
type Role int

const (
	// RoleControl is the process that spawns and terminates workers.
	RoleControl Role = iota
	// RoleWorker is a spawned process doing application work.
	RoleWorker
)

func (r Role) String() string {
	if r == RoleWorker {
		return "worker"
	}
	return "control"
}

// State is the observed lifecycle state of a worker process.
type State int

const (
	StateStarting State = iota
	StateOnline
	StateRunning
	StateDisconnecting
	StateExited
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateOnline:
		return "online"
	case StateRunning:
		return "running"
	case StateDisconnecting:
		return "disconnecting"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Live reports whether a worker in this state counts towards the pool size.
func (s State) Live() bool {
	return s == StateStarting || s == StateOnline || s == StateRunning
}

// Worker is a process owned by the cluster. Subscriptions registered after
// the corresponding transition already happened are invoked immediately.
type Worker interface {
	// ID is the cluster-assigned identifier, increasing with spawn order.
	ID() int

	// PID is the operating system process id, 0 if not started.
	PID() int

	// State returns the current lifecycle state.
	State() State

	// OnOnline is called once when the worker comes online.
	OnOnline(fn func())

	// OnDisconnect is called once when the worker detaches from the
	// control process, which always precedes exit.
	OnDisconnect(fn func())

	// OnExit is called once when the process has exited.
	OnExit(fn func(err error))
}

// Cluster is the process-cluster subsystem the scaler drives.
type Cluster interface {
	// IsControl reports whether this process may spawn workers.
	IsControl() bool

	// IsWorker reports whether this process is a spawned worker.
	IsWorker() bool

	// WorkerID is this process's worker id, 0 in the control process.
	WorkerID() int

	// Spawn starts a new worker process.
	Spawn() (Worker, error)

	// Workers returns every known worker that has not exited, ordered by ID.
	Workers() []Worker

	// Terminate requests a graceful shutdown of w.
	Terminate(w Worker) error
}

// RoleOf returns the role of the current process in c.
func RoleOf(c Cluster) Role {
	if c.IsWorker() {
		return RoleWorker
	}
	return RoleControl
}

// LiveWorkers returns the workers of c whose state counts towards the pool
// size, ordered by ascending ID.
func LiveWorkers(c Cluster) []Worker {
	all := c.Workers()
	live := make([]Worker, 0, len(all))
	for _, w := range all {
		if w.State().Live() {
			live = append(live, w)
		}
	}
	SortByID(live)
	return live
}

// SortByID orders workers by ascending ID in place.
func SortByID(workers []Worker) {
	sort.Slice(workers, func(i, j int) bool {
		return workers[i].ID() < workers[j].ID()
	})
}
