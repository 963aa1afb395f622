package preload

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
	"github.com/vnykmshr/goboot/pkg/runtime/namespace"
)

// Result describes one loaded leaf.
type Result struct {
	// Path is the namespace path of the leaf.
	Path string

	// Err is the provider error, or the recovered panic.
	Err error

	// Duration is how long the provider ran.
	Duration time.Duration

	// WorkerID identifies the worker that ran the provider.
	WorkerID int
}

// Stats summarizes a Preload call.
type Stats struct {
	Loaded   int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// Config holds configuration options for a Preloader.
type Config struct {
	// Workers is the number of providers run concurrently. Defaults to
	// runtime.NumCPU().
	Workers int

	// Logger receives per-leaf debug messages and failures. Nil disables
	// logging.
	Logger *zerolog.Logger

	// OnLoad is called after each provider returns, from the worker that
	// ran it.
	OnLoad func(result Result)
}

// Preloader runs the lazy providers below a namespace path on a bounded set
// of workers.
type Preloader struct {
	config Config
	logger zerolog.Logger
}

// New creates a Preloader with the given number of workers.
// It panics if workers is not positive.
func New(workers int) *Preloader {
	p, err := NewSafe(workers)
	if err != nil {
		panic(err)
	}
	return p
}

// NewSafe is New returning an error instead of panicking.
func NewSafe(workers int) (*Preloader, error) {
	if workers <= 0 {
		return nil, gberrors.NewValidationError("preload", "workers", workers, "must be positive")
	}
	return NewWithConfigSafe(Config{Workers: workers})
}

// NewWithConfig creates a Preloader from config. It panics on invalid
// configuration.
func NewWithConfig(config Config) *Preloader {
	p, err := NewWithConfigSafe(config)
	if err != nil {
		panic(err)
	}
	return p
}

// NewWithConfigSafe is NewWithConfig returning an error instead of
// panicking.
func NewWithConfigSafe(config Config) (*Preloader, error) {
	if config.Workers < 0 {
		return nil, gberrors.NewValidationError("preload", "Workers", config.Workers, "cannot be negative").
			WithHint("use 0 for one worker per CPU")
	}
	if config.Workers == 0 {
		config.Workers = runtime.NumCPU()
	}
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "preload").Logger()
	}
	return &Preloader{config: config, logger: logger}, nil
}

// Workers returns the concurrency of p.
func (p *Preloader) Workers() int { return p.config.Workers }

type task struct {
	path string
	node *namespace.Node
}

// Preload runs every lazy provider below root and waits for them. Snapshot
// and eager leaves are counted as skipped. Leaves not yet started when ctx
// ends are abandoned and ctx.Err() is returned. Provider failures are joined
// in namespace order.
func (p *Preloader) Preload(ctx context.Context, tree *namespace.Tree, root string) (Stats, error) {
	start := time.Now()
	var (
		tasks []task
		stats Stats
	)
	err := tree.Walk(root, func(path string, n *namespace.Node) error {
		if n.Kind() != namespace.KindLazy {
			stats.Skipped++
			return nil
		}
		tasks = append(tasks, task{path: path, node: n})
		return nil
	})
	if err != nil {
		return stats, err
	}

	results := make([]Result, len(tasks))
	queue := make(chan int)
	workers := min(p.config.Workers, len(tasks))

	var wg sync.WaitGroup
	for id := 0; id < workers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := range queue {
				results[i] = p.load(id, tasks[i])
			}
		}(id)
	}

	var cancelled error
feed:
	for i := range tasks {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		select {
		case queue <- i:
		case <-ctx.Done():
			cancelled = ctx.Err()
			break feed
		}
	}
	close(queue)
	wg.Wait()

	var errs []error
	for _, r := range results {
		switch {
		case r.Path == "":
			// never started
		case r.Err != nil:
			stats.Failed++
			errs = append(errs, gberrors.NewOperationError("preload", "load", r.Err).WithContext(r.Path))
		default:
			stats.Loaded++
		}
	}
	stats.Duration = time.Since(start)

	p.logger.Debug().
		Str("root", root).
		Int("loaded", stats.Loaded).
		Int("failed", stats.Failed).
		Int("skipped", stats.Skipped).
		Dur("duration", stats.Duration).
		Msg("preload finished")

	if cancelled != nil {
		errs = append(errs, cancelled)
	}
	return stats, errors.Join(errs...)
}

// load runs the provider of t, converting a panic into an error.
func (p *Preloader) load(workerID int, t task) (result Result) {
	start := time.Now()
	result = Result{Path: t.path, WorkerID: workerID}

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("provider panicked: %v\nStack trace:\n%s", r, debug.Stack())
		}
		result.Duration = time.Since(start)
		if result.Err != nil {
			p.logger.Warn().Err(result.Err).Str("path", t.path).Msg("preload failed")
		} else {
			p.logger.Debug().Str("path", t.path).Dur("duration", result.Duration).Msg("preloaded")
		}
		if p.config.OnLoad != nil {
			p.config.OnLoad(result)
		}
	}()

	_, result.Err = t.node.Value()
	return result
}
