package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
)

// parser accepts five-field expressions, six-field expressions with a
// leading seconds field, and descriptors such as "@hourly" or "@every 30s".
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether spec is a schedule the Reconciler accepts.
func Validate(spec string) error {
	if spec == "" {
		return gberrors.NewValidationError("reconcile", "schedule", spec, "cannot be empty").
			WithHint(`use a cron expression such as "*/5 * * * *" or "@every 30s"`)
	}
	if _, err := parser.Parse(spec); err != nil {
		return gberrors.NewValidationError("reconcile", "schedule", spec, err.Error())
	}
	return nil
}

// Config holds configuration options for a Reconciler.
type Config struct {
	// Location evaluates schedules. Defaults to time.Local.
	Location *time.Location

	// Logger receives scheduling messages. Nil disables logging.
	Logger *zerolog.Logger
}

// Entry describes one scheduled job.
type Entry struct {
	ID   string
	Spec string
	Next time.Time
	Prev time.Time
}

type job struct {
	spec  string
	entry cron.EntryID
}

// Reconciler runs named jobs on cron schedules. A job that is still
// running when its next activation arrives is skipped, and a panicking
// job is recovered and logged.
type Reconciler struct {
	cron   *cron.Cron
	logger zerolog.Logger
	loc    *time.Location

	mu      sync.Mutex
	jobs    map[string]job
	started bool
	stopped bool
}

// New creates a Reconciler with default configuration.
func New() *Reconciler {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a Reconciler.
func NewWithConfig(config Config) *Reconciler {
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "reconcile").Logger()
	}
	loc := config.Location
	if loc == nil {
		loc = time.Local
	}

	cl := cronLogger{logger: logger}
	return &Reconciler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		loc:    loc,
		jobs:   make(map[string]job),
	}
}

// Schedule runs fn on spec under id. An existing job with the same id is
// replaced.
func (r *Reconciler) Schedule(id, spec string, fn func()) error {
	if id == "" {
		return gberrors.NewValidationError("reconcile", "id", id, "cannot be empty")
	}
	if fn == nil {
		return gberrors.NewValidationError("reconcile", "job", nil, "cannot be nil")
	}
	if err := Validate(spec); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return gberrors.NewOperationError("reconcile", "schedule", gberrors.ErrClosed).WithContext(id)
	}
	if old, ok := r.jobs[id]; ok {
		r.cron.Remove(old.entry)
	}
	entry, err := r.cron.AddJob(spec, cron.FuncJob(fn))
	if err != nil {
		return gberrors.NewOperationError("reconcile", "schedule", err).WithContext(id)
	}
	r.jobs[id] = job{spec: spec, entry: entry}
	r.logger.Debug().Str("job", id).Str("schedule", spec).Msg("scheduled")
	return nil
}

// Cancel removes the job with the given id and reports whether it existed.
func (r *Reconciler) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return false
	}
	r.cron.Remove(j.entry)
	delete(r.jobs, id)
	return true
}

// Next returns the next activation time of the job with the given id.
func (r *Reconciler) Next(id string) (time.Time, error) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return time.Time{}, gberrors.NewOperationError("reconcile", "next", gberrors.ErrNotFound).WithContext(id)
	}
	return r.cron.Entry(j.entry).Schedule.Next(time.Now().In(r.loc)), nil
}

// Entries returns the scheduled jobs ordered by id.
func (r *Reconciler) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().In(r.loc)
	out := make([]Entry, 0, len(r.jobs))
	for id, j := range r.jobs {
		ce := r.cron.Entry(j.entry)
		out = append(out, Entry{ID: id, Spec: j.spec, Next: ce.Schedule.Next(now), Prev: ce.Prev})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Start begins running jobs. It is a no-op if already started or stopped.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true
	r.cron.Start()
}

// Stop halts scheduling. The returned channel closes once running jobs
// have finished.
func (r *Reconciler) Stop() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if !r.started {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx.Done()
	}
	return r.cron.Stop().Done()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
