package scaler

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vnykmshr/goboot/pkg/cluster"
	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
	"github.com/vnykmshr/goboot/pkg/metrics"
	"github.com/vnykmshr/goboot/pkg/scaling/throttle"
)

// Scheduler runs posted functions on a later turn. loop.Loop implements it.
type Scheduler interface {
	Post(fn func()) error
}

// Config holds configuration options for a Scaler.
type Config struct {
	// Name labels logs and metrics.
	Name string

	// Cluster is the process cluster driven by the scaler. Required.
	Cluster cluster.Cluster

	// Scheduler receives worker events and respawn triggers, so scaler
	// state changes happen on one goroutine. Required.
	Scheduler Scheduler

	// Trigger re-enqueues a convergence attempt. The application pushes a
	// convergence stage onto its pipeline here. If nil, Converge is called
	// directly on the scheduler turn.
	Trigger func(reason string)

	// Respawn reports whether an exited worker should be replaced. Nil
	// means never.
	Respawn func() bool

	// Throttle paces respawn triggers. Nil means unthrottled.
	Throttle *throttle.Bucket

	// AfterFunc schedules delayed respawn triggers. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, fn func()) *time.Timer

	// OnDecision is called after every convergence attempt.
	OnDecision func(Decision)

	// Logger receives scaling messages. Nil disables logging.
	Logger *zerolog.Logger

	// Metrics records scaling metrics. Nil disables them.
	Metrics *metrics.Registry
}

// Stats is a snapshot of scaler counters.
type Stats struct {
	Target         int
	Offset         int
	Convergences   int64
	Skipped        int64
	Spawned        int64
	SpawnFailures  int64
	Terminated     int64
	Exits          int64
	Respawns       int64
	Throttled      int64
	LastDecision   Decision
	LastDecisionAt time.Time
}

// transition is one issued spawn or terminate; it settles exactly once.
type transition struct {
	settled bool
}

// Scaler converges the live worker count of a cluster on a target.
//
// The offset is the number of issued transitions that have not settled:
// positive while spawned workers are still expected to come online,
// negative while terminated workers are still expected to disconnect. A
// convergence attempt is refused while it is non-zero.
type Scaler struct {
	config Config
	logger zerolog.Logger

	mu             sync.Mutex
	target         int
	offset         int
	recheck        bool
	respawnPending bool
	terminating    map[int]bool
	timers         map[int]*time.Timer
	timerSeq       int
	closed         bool
	stats          Stats
}

// New creates a Scaler. It panics if Cluster or Scheduler is missing.
func New(config Config) *Scaler {
	s, err := NewSafe(config)
	if err != nil {
		panic(err)
	}
	return s
}

// NewSafe is New returning an error instead of panicking.
func NewSafe(config Config) (*Scaler, error) {
	if config.Cluster == nil {
		return nil, gberrors.NewValidationError("scaler", "Cluster", nil, "cannot be nil")
	}
	if config.Scheduler == nil {
		return nil, gberrors.NewValidationError("scaler", "Scheduler", nil, "cannot be nil").
			WithHint("worker events must be delivered on the application loop")
	}
	if config.Name == "" {
		config.Name = "default"
	}
	if config.AfterFunc == nil {
		config.AfterFunc = time.AfterFunc
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("scaler", config.Name).Logger()
	}

	return &Scaler{
		config:      config,
		logger:      logger,
		terminating: make(map[int]bool),
		timers:      make(map[int]*time.Timer),
	}, nil
}

// SetTarget records the desired worker count. It does not converge.
func (s *Scaler) SetTarget(n int) error {
	if n < 0 {
		return gberrors.NewValidationError("scaler", "target", n, "must be non-negative")
	}
	s.mu.Lock()
	s.target = n
	s.mu.Unlock()

	s.config.Metrics.SetTarget(s.config.Name, n)
	return nil
}

// Target returns the desired worker count.
func (s *Scaler) Target() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Offset returns the number of unsettled transitions, signed as described
// on Scaler.
func (s *Scaler) Offset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Stats returns a snapshot of the scaler counters.
func (s *Scaler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Target = s.target
	st.Offset = s.offset
	return st
}

// Converge compares live workers with the target and issues the spawn or
// terminate commands that close the gap. It returns as soon as the commands
// are issued; settlement is tracked by the offset.
func (s *Scaler) Converge() Decision {
	if !s.config.Cluster.IsControl() {
		return s.decide(Decision{Action: ActionSkip, Reason: "not the control process"})
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.decide(Decision{Action: ActionSkip, Reason: "scaler stopped"})
	}
	if s.offset != 0 {
		s.recheck = true
		d := Decision{Action: ActionSkip, Target: s.target, Delta: s.offset, Reason: "previous convergence still settling"}
		s.mu.Unlock()
		return s.decide(d)
	}

	live := cluster.LiveWorkers(s.config.Cluster)
	current, target := len(live), s.target

	switch {
	case current > target:
		excess := live[target:]
		s.offset = -len(excess)
		for _, w := range excess {
			s.terminating[w.ID()] = true
		}
		s.mu.Unlock()

		d := s.decide(Decision{
			Action:  ActionTerminate,
			Current: current,
			Target:  target,
			Delta:   -len(excess),
			Reason:  fmt.Sprintf("terminating %d excess workers", len(excess)),
		})
		// highest ids first
		for i := len(excess) - 1; i >= 0; i-- {
			s.terminate(excess[i])
		}
		return d

	case current < target:
		deficit := target - current
		s.offset = deficit
		s.mu.Unlock()

		d := s.decide(Decision{
			Action:  ActionSpawn,
			Current: current,
			Target:  target,
			Delta:   deficit,
			Reason:  fmt.Sprintf("spawning %d workers", deficit),
		})
		for i := 0; i < deficit; i++ {
			s.spawn()
		}
		return d

	default:
		s.mu.Unlock()
		return s.decide(Decision{Action: ActionNone, Current: current, Target: target, Reason: "at target"})
	}
}

func (s *Scaler) decide(d Decision) Decision {
	s.mu.Lock()
	s.stats.Convergences++
	if d.Action == ActionSkip {
		s.stats.Skipped++
	}
	s.stats.LastDecision = d
	s.stats.LastDecisionAt = time.Now()
	offset := s.offset
	s.mu.Unlock()

	s.logger.Debug().
		Str("action", d.Action.String()).
		Int("current", d.Current).
		Int("target", d.Target).
		Int("delta", d.Delta).
		Int("offset", offset).
		Msg(d.Reason)
	s.config.Metrics.Convergence(s.config.Name, d.Action.String(), d.Current, d.Target, offset)
	if s.config.OnDecision != nil {
		s.config.OnDecision(d)
	}
	return d
}

// spawn issues one spawn. The transition settles on online, on exit before
// online, or immediately if the spawn fails.
func (s *Scaler) spawn() {
	tr := &transition{}

	w, err := s.config.Cluster.Spawn()
	if err != nil {
		s.mu.Lock()
		s.stats.SpawnFailures++
		s.mu.Unlock()
		s.config.Metrics.SpawnFailed(s.config.Name)
		s.logger.Warn().Err(err).Msg("spawn failed")

		s.settle(tr)
		s.requestRespawn("spawn failed")
		return
	}

	s.mu.Lock()
	s.stats.Spawned++
	s.mu.Unlock()
	s.config.Metrics.Spawned(s.config.Name)
	s.logger.Debug().Int("worker", w.ID()).Msg("spawned worker")

	id := w.ID()
	w.OnOnline(func() {
		s.post(func() {
			s.logger.Debug().Int("worker", id).Msg("worker online")
			s.settle(tr)
		})
	})
	w.OnExit(func(err error) {
		s.post(func() {
			s.settle(tr)
			s.workerExited(id, err)
		})
	})
}

// terminate issues one termination. The transition settles on disconnect,
// on exit, or immediately if the request fails.
func (s *Scaler) terminate(w cluster.Worker) {
	tr := &transition{}
	id := w.ID()

	w.OnDisconnect(func() {
		s.post(func() {
			s.logger.Debug().Int("worker", id).Msg("worker disconnected")
			s.settle(tr)
		})
	})
	w.OnExit(func(error) {
		s.post(func() {
			s.settle(tr)
			s.mu.Lock()
			delete(s.terminating, id)
			s.mu.Unlock()
		})
	})

	if err := s.config.Cluster.Terminate(w); err != nil {
		s.logger.Warn().Int("worker", id).Err(err).Msg("terminate failed")
		s.settle(tr)
		return
	}

	s.mu.Lock()
	s.stats.Terminated++
	s.mu.Unlock()
	s.config.Metrics.Terminated(s.config.Name)
	s.logger.Debug().Int("worker", id).Msg("terminating worker")
}

// settle moves the offset one step toward zero, once per transition. When
// the offset reaches zero after a refused attempt, a new attempt is queued.
func (s *Scaler) settle(tr *transition) {
	s.mu.Lock()
	if tr.settled {
		s.mu.Unlock()
		return
	}
	tr.settled = true
	switch {
	case s.offset > 0:
		s.offset--
	case s.offset < 0:
		s.offset++
	}
	offset := s.offset
	recheck := offset == 0 && s.recheck && !s.closed
	if recheck {
		s.recheck = false
	}
	s.mu.Unlock()

	s.config.Metrics.SetOffset(s.config.Name, offset)
	if recheck {
		s.post(func() { s.trigger("recheck after settling") })
	}
}

// workerExited handles the exit of a worker this scaler spawned.
func (s *Scaler) workerExited(id int, err error) {
	s.mu.Lock()
	s.stats.Exits++
	intended := s.terminating[id]
	delete(s.terminating, id)
	s.mu.Unlock()

	s.config.Metrics.Exited(s.config.Name, err)
	if intended {
		return
	}
	if err != nil {
		s.logger.Warn().Int("worker", id).Err(err).Msg("worker exited")
	} else {
		s.logger.Debug().Int("worker", id).Msg("worker exited")
	}
	s.requestRespawn(fmt.Sprintf("worker %d exited", id))
}

// requestRespawn posts a guarded trigger for a new convergence attempt when
// respawn is enabled. Concurrent requests collapse into one pending trigger.
func (s *Scaler) requestRespawn(reason string) {
	if s.config.Respawn == nil || !s.config.Respawn() {
		return
	}

	s.mu.Lock()
	if s.closed || s.respawnPending {
		s.mu.Unlock()
		return
	}
	s.respawnPending = true
	s.stats.Respawns++
	s.mu.Unlock()

	fire := func() {
		s.mu.Lock()
		s.respawnPending = false
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			s.trigger(reason)
		}
	}

	var delay time.Duration
	if s.config.Throttle != nil {
		delay = s.config.Throttle.Reserve()
	}
	s.config.Metrics.Respawn(s.config.Name, delay > 0)

	if delay <= 0 {
		s.post(fire)
		return
	}

	s.mu.Lock()
	s.stats.Throttled++
	s.mu.Unlock()
	s.logger.Debug().Dur("delay", delay).Msg("respawn throttled")

	// The entry exists before the timer starts so Stop can cancel a timer
	// that fires while it is being registered.
	s.mu.Lock()
	s.timerSeq++
	id := s.timerSeq
	s.timers[id] = nil
	s.mu.Unlock()

	t := s.config.AfterFunc(delay, func() {
		s.mu.Lock()
		_, live := s.timers[id]
		delete(s.timers, id)
		s.mu.Unlock()
		if live {
			s.post(fire)
		}
	})

	s.mu.Lock()
	if _, ok := s.timers[id]; ok {
		s.timers[id] = t
	}
	s.mu.Unlock()
}

func (s *Scaler) trigger(reason string) {
	s.logger.Debug().Str("reason", reason).Msg("convergence triggered")
	if s.config.Trigger != nil {
		s.config.Trigger(reason)
		return
	}
	s.Converge()
}

func (s *Scaler) post(fn func()) {
	if err := s.config.Scheduler.Post(fn); err != nil {
		s.logger.Debug().Err(err).Msg("dropping scaler event")
	}
}

// Stop cancels pending respawn timers and refuses further convergence.
// Workers are left running.
func (s *Scaler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, t := range s.timers {
		if t != nil {
			t.Stop()
		}
	}
	s.timers = make(map[int]*time.Timer)
}
