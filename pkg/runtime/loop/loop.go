package loop

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
)

// Config holds configuration options for a Loop.
type Config struct {
	// Name labels log lines of this loop.
	Name string

	// Logger receives recovered panics when PanicHandler is nil.
	// Nil disables logging.
	Logger *zerolog.Logger

	// PanicHandler is called when posted work panics. The loop keeps running.
	PanicHandler func(recovered interface{}, stack []byte)

	// OnTaskComplete is called after each posted function returns.
	OnTaskComplete func(panicked bool)
}

// Stats is a snapshot of loop counters.
type Stats struct {
	Posted    int64
	Completed int64
	Panicked  int64
	Pending   int
}

// Loop runs posted functions one at a time, in posting order, on a single
// goroutine. The queue is unbounded, so Post never blocks.
type Loop struct {
	config Config
	logger zerolog.Logger

	mu         sync.Mutex
	queue      []func()
	isShutdown bool

	wake         chan struct{}
	done         chan struct{}
	shutdownOnce sync.Once

	posted    int64
	completed int64
	panicked  int64
}

// New creates and starts a Loop with default configuration.
func New() *Loop {
	return NewWithConfig(Config{})
}

// NewWithConfig creates and starts a Loop.
func NewWithConfig(config Config) *Loop {
	if config.Name == "" {
		config.Name = "default"
	}
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("loop", config.Name).Logger()
	}

	l := &Loop{
		config: config,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Post queues fn to run on the loop goroutine after everything posted before
// it. It returns ErrClosed once Shutdown has been called.
func (l *Loop) Post(fn func()) error {
	if fn == nil {
		return gberrors.NewValidationError("loop", "fn", nil, "cannot be nil")
	}

	l.mu.Lock()
	if l.isShutdown {
		l.mu.Unlock()
		return gberrors.NewOperationError("loop", "Post", gberrors.ErrClosed)
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	atomic.AddInt64(&l.posted, 1)
	l.signal()
	return nil
}

// Do posts fn and waits for it to finish or for ctx to end. It must not be
// called from the loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	finished := make(chan struct{})
	if err := l.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work. Already queued functions still run; the
// returned channel closes when the loop goroutine has exited.
func (l *Loop) Shutdown() <-chan struct{} {
	l.shutdownOnce.Do(func() {
		l.mu.Lock()
		l.isShutdown = true
		l.mu.Unlock()
		l.signal()
	})
	return l.done
}

// Pending returns the number of queued functions not yet started.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Posted:    atomic.LoadInt64(&l.posted),
		Completed: atomic.LoadInt64(&l.completed),
		Panicked:  atomic.LoadInt64(&l.panicked),
		Pending:   l.Pending(),
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// run is the loop goroutine.
func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			shutdown := l.isShutdown
			l.mu.Unlock()
			if shutdown {
				return
			}
			<-l.wake
			continue
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.execute(fn)
	}
}

// execute runs a single posted function, recovering panics.
func (l *Loop) execute(fn func()) {
	panicked := false
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			atomic.AddInt64(&l.panicked, 1)
			stack := debug.Stack()
			if l.config.PanicHandler != nil {
				l.config.PanicHandler(r, stack)
			} else {
				l.logger.Error().Interface("panic", r).Bytes("stack", stack).Msg("posted task panicked")
			}
		}
		atomic.AddInt64(&l.completed, 1)
		if l.config.OnTaskComplete != nil {
			l.config.OnTaskComplete(panicked)
		}
	}()

	fn()
}
