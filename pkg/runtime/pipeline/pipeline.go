package pipeline

import (
	"fmt"
	"sync"
	"time"

	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
)

// Scheduler runs posted functions on a later turn, after the poster's call
// stack has unwound. loop.Loop implements it.
type Scheduler interface {
	Post(fn func()) error
}

// StageResult describes one finished stage.
type StageResult struct {
	// StageName is the name of the stage
	StageName string

	// Kind is the invocation shape of the stage
	Kind Kind

	// Error is the error the stage completed with, if any
	Error error

	// Duration is how long the stage took to complete
	Duration time.Duration

	// StartTime is when the stage started
	StartTime time.Time

	// EndTime is when the stage completed
	EndTime time.Time
}

// Stats holds pipeline execution statistics.
type Stats struct {
	TotalPushed     int64
	Completed       int64
	Failed          int64
	Pending         int
	TotalDuration   time.Duration
	AverageDuration time.Duration
	StageStats      map[string]StageStats
	LastCompletedAt time.Time
}

// StageStats holds statistics for stages sharing a name.
type StageStats struct {
	Name            string
	ExecutionCount  int64
	SuccessCount    int64
	ErrorCount      int64
	TotalDuration   time.Duration
	AverageDuration time.Duration
}

// Config holds pipeline configuration options.
type Config[T any] struct {
	// Owner is passed to WithOwner stages.
	Owner T

	// Scheduler receives the continuation that starts the next stage.
	// Required.
	Scheduler Scheduler

	// OnStagePush is called after a stage is queued, with the queue depth.
	OnStagePush func(stageName string, depth int)

	// OnStageStart is called when a stage starts execution.
	OnStageStart func(stageName string)

	// OnStageComplete is called when a stage completes.
	OnStageComplete func(result StageResult)

	// OnError is called when a stage fails and the pipeline halts.
	OnError func(stageName string, err error)
}

// Pipeline runs stages one at a time in push order. A stage starts only
// after the previous one has completed; the next stage is always started on
// a later scheduler turn, never from inside the completion call.
//
// A failing stage halts the pipeline: queued stages stay queued until the
// next Push or Resume. A stage that never completes stalls it forever.
type Pipeline[T any] struct {
	config Config[T]

	mu        sync.Mutex
	queue     []Stage[T]
	current   *run[T]
	scheduled bool
	halted    bool
	err       error
	haltCh    chan struct{}
	stats     Stats
}

type run[T any] struct {
	stage Stage[T]
	start time.Time
}

// New creates a pipeline owned by owner that continues on sched.
func New[T any](owner T, sched Scheduler) *Pipeline[T] {
	return NewWithConfig(Config[T]{Owner: owner, Scheduler: sched})
}

// NewWithConfig creates a pipeline with the specified configuration.
// It panics if no Scheduler is configured.
func NewWithConfig[T any](config Config[T]) *Pipeline[T] {
	if config.Scheduler == nil {
		panic(gberrors.NewValidationError("pipeline", "Scheduler", nil, "cannot be nil").
			WithHint("use loop.New() for a standalone scheduler"))
	}
	return &Pipeline[T]{
		config: config,
		stats: Stats{
			StageStats: make(map[string]StageStats),
		},
	}
}

// Push appends stage to the queue. If the pipeline is idle the stage starts
// immediately in the caller; a Sync stage run that way returns its error
// here. Push on a halted pipeline resumes draining.
func (p *Pipeline[T]) Push(stage Stage[T]) error {
	if !stage.valid() {
		panic(gberrors.NewValidationError("pipeline", "stage", stage.name, "invalid stage").
			WithHint("build stages with Sync, Async or WithOwner"))
	}

	p.mu.Lock()
	p.queue = append(p.queue, stage)
	p.stats.TotalPushed++
	depth := len(p.queue)
	p.halted = false
	idle := p.current == nil && !p.scheduled
	p.mu.Unlock()

	if p.config.OnStagePush != nil {
		p.config.OnStagePush(stage.name, depth)
	}

	if !idle {
		return nil
	}
	return p.drain()
}

// Resume restarts draining after a failure without pushing a new stage.
func (p *Pipeline[T]) Resume() error {
	p.mu.Lock()
	p.halted = false
	idle := p.current == nil && !p.scheduled
	p.mu.Unlock()

	if !idle {
		return nil
	}
	return p.drain()
}

// drain starts the head stage if nothing is running.
func (p *Pipeline[T]) drain() error {
	p.mu.Lock()
	if p.current != nil || p.halted || len(p.queue) == 0 {
		p.mu.Unlock()
		return nil
	}
	r := &run[T]{stage: p.queue[0], start: time.Now()}
	p.queue[0] = Stage[T]{}
	p.queue = p.queue[1:]
	p.current = r
	p.mu.Unlock()

	return p.execute(r)
}

// next is the continuation posted after a stage completes.
func (p *Pipeline[T]) next() {
	p.mu.Lock()
	p.scheduled = false
	p.mu.Unlock()

	// Failures are reported through OnError and Err.
	_ = p.drain()
}

// execute invokes r according to its kind. A panicking stage clears the
// slot, halts the pipeline and keeps panicking.
func (p *Pipeline[T]) execute(r *run[T]) error {
	if p.config.OnStageStart != nil {
		p.config.OnStageStart(r.stage.name)
	}

	completed := false
	defer func() {
		if completed {
			return
		}
		if rec := recover(); rec != nil {
			p.complete(r, fmt.Errorf("stage %q panicked: %v", r.stage.name, rec))
			panic(rec)
		}
	}()

	switch r.stage.kind {
	case KindSync:
		err := r.stage.sync()
		completed = true
		p.complete(r, err)
		return err
	case KindAsync:
		r.stage.async(p.doneFor(r))
	case KindOwner:
		r.stage.owner(p.config.Owner, p.doneFor(r))
	}
	completed = true
	return nil
}

func (p *Pipeline[T]) doneFor(r *run[T]) Done {
	var once sync.Once
	return func(err error) {
		once.Do(func() { p.complete(r, err) })
	}
}

// complete clears the slot, records the outcome and either halts or posts
// the next drain attempt.
func (p *Pipeline[T]) complete(r *run[T], err error) {
	end := time.Now()
	result := StageResult{
		StageName: r.stage.name,
		Kind:      r.stage.kind,
		Error:     err,
		Duration:  end.Sub(r.start),
		StartTime: r.start,
		EndTime:   end,
	}

	p.mu.Lock()
	if p.current != r {
		// already settled by a panic
		p.mu.Unlock()
		return
	}
	p.current = nil
	p.updateStats(result)

	schedule := false
	if err != nil {
		p.halt(err)
	} else if len(p.queue) > 0 && !p.halted {
		p.scheduled = true
		schedule = true
	}
	p.mu.Unlock()

	if p.config.OnStageComplete != nil {
		p.config.OnStageComplete(result)
	}
	if err != nil && p.config.OnError != nil {
		p.config.OnError(r.stage.name, err)
	}

	if schedule {
		if perr := p.config.Scheduler.Post(p.next); perr != nil {
			p.mu.Lock()
			p.scheduled = false
			p.halt(perr)
			p.mu.Unlock()
			if p.config.OnError != nil {
				p.config.OnError(r.stage.name, perr)
			}
		}
	}
}

// halt must be called with p.mu held.
func (p *Pipeline[T]) halt(err error) {
	p.halted = true
	p.err = err
	if p.haltCh != nil {
		close(p.haltCh)
		p.haltCh = nil
	}
}

// updateStats must be called with p.mu held.
func (p *Pipeline[T]) updateStats(result StageResult) {
	p.stats.TotalDuration += result.Duration
	p.stats.LastCompletedAt = result.EndTime
	if result.Error == nil {
		p.stats.Completed++
	} else {
		p.stats.Failed++
	}

	stats, exists := p.stats.StageStats[result.StageName]
	if !exists {
		stats = StageStats{Name: result.StageName}
	}
	stats.ExecutionCount++
	stats.TotalDuration += result.Duration
	if result.Error == nil {
		stats.SuccessCount++
	} else {
		stats.ErrorCount++
	}
	stats.AverageDuration = time.Duration(int64(stats.TotalDuration) / stats.ExecutionCount)
	p.stats.StageStats[result.StageName] = stats
}

// Len returns the number of queued stages that have not started.
func (p *Pipeline[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Busy reports whether a stage is running or the next one is scheduled.
func (p *Pipeline[T]) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil || p.scheduled
}

// Current returns the name of the running stage, if any.
func (p *Pipeline[T]) Current() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return "", false
	}
	return p.current.stage.name, true
}

// Halted reports whether draining stopped after a failure.
func (p *Pipeline[T]) Halted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

// Err returns the error of the most recent failure, or nil.
func (p *Pipeline[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats returns pipeline execution statistics.
func (p *Pipeline[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	statsCopy := p.stats
	statsCopy.Pending = len(p.queue)
	statsCopy.StageStats = make(map[string]StageStats, len(p.stats.StageStats))
	for k, v := range p.stats.StageStats {
		statsCopy.StageStats[k] = v
	}
	finished := statsCopy.Completed + statsCopy.Failed
	if finished > 0 {
		statsCopy.AverageDuration = time.Duration(int64(statsCopy.TotalDuration) / finished)
	}
	return statsCopy
}
