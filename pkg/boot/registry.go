package boot

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/vnykmshr/goboot/pkg/cluster"
	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
	"github.com/vnykmshr/goboot/pkg/common/validation"
	"github.com/vnykmshr/goboot/pkg/metrics"
	"github.com/vnykmshr/goboot/pkg/runtime/discovery"
	"github.com/vnykmshr/goboot/pkg/runtime/loop"
	"github.com/vnykmshr/goboot/pkg/runtime/namespace"
	"github.com/vnykmshr/goboot/pkg/scaling/reconcile"
)

// Scheduler runs posted functions on a later turn. loop.Loop implements it.
type Scheduler interface {
	Post(fn func()) error
}

// Config holds configuration options for a Registry.
type Config struct {
	// Cluster spawns and observes worker processes. Defaults to a
	// cluster.Exec re-executing the current binary.
	Cluster cluster.Cluster

	// Scheduler runs pipeline continuations and worker events. Defaults to
	// a loop owned by the Registry.
	Scheduler Scheduler

	// Logger is the base logger of every App. Nil disables logging.
	Logger *zerolog.Logger

	// Metrics records pipeline and scaling metrics. Nil disables them.
	Metrics *metrics.Registry

	// Fs is scanned by MountDir. Defaults to the OS filesystem.
	Fs afero.Fs

	// Discoverer overrides the discoverer built over Fs.
	Discoverer *discovery.Discoverer

	// Reconciler runs App.Reconcile schedules. Defaults to one owned by the
	// Registry, started on first use.
	Reconciler *reconcile.Reconciler

	// Defaults overrides the option defaults of new Apps.
	Defaults map[string]any

	// Context is passed to runnables started by App.Run. Defaults to
	// context.Background().
	Context context.Context
}

// Registry holds named Apps. App returns the same instance for the same
// name for the life of the Registry.
type Registry struct {
	config  Config
	logger  zerolog.Logger
	session string

	ownedLoop    *loop.Loop
	ownedCluster *cluster.Exec
	discoverer   *discovery.Discoverer

	mu             sync.Mutex
	apps           map[string]*App
	trees          map[string]*namespace.Tree
	reconciler     *reconcile.Reconciler
	ownsReconciler bool
	cancels        []context.CancelFunc
	closed         bool

	followers sync.WaitGroup
}

// NewRegistry creates a Registry. It panics on invalid configuration.
func NewRegistry(config Config) *Registry {
	r, err := NewRegistrySafe(config)
	if err != nil {
		panic(err)
	}
	return r
}

// NewRegistrySafe is NewRegistry returning an error instead of panicking.
func NewRegistrySafe(config Config) (*Registry, error) {
	if err := checkOptions(config.Defaults); err != nil {
		return nil, err
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}

	r := &Registry{
		apps:       make(map[string]*App),
		trees:      make(map[string]*namespace.Tree),
		reconciler: config.Reconciler,
	}

	if config.Cluster == nil {
		exec, err := cluster.NewExec(cluster.ExecConfig{Logger: config.Logger})
		if err != nil {
			return nil, gberrors.NewOperationError("boot", "new_registry", err)
		}
		r.ownedCluster = exec
		r.session = exec.Session()
		config.Cluster = exec
	}
	if r.session == "" {
		r.session = os.Getenv(cluster.EnvSession)
	}
	if r.session == "" {
		r.session = uuid.NewString()
	}

	if config.Scheduler == nil {
		r.ownedLoop = loop.NewWithConfig(loop.Config{
			Name:   "boot",
			Logger: config.Logger,
			OnTaskComplete: func(panicked bool) {
				config.Metrics.LoopTask("boot", panicked)
			},
		})
		config.Scheduler = r.ownedLoop
	}

	r.discoverer = config.Discoverer
	if r.discoverer == nil {
		r.discoverer = discovery.NewWithConfig(discovery.Config{Fs: config.Fs, Logger: config.Logger})
	}
	if config.Context == nil {
		config.Context = context.Background()
	}

	r.config = config
	r.logger = logger.With().Str("session", r.session).Logger()
	return r, nil
}

// App returns the App registered under name, creating it on first use.
// It panics if name is empty or the Registry is closed.
func (r *Registry) App(name string) *App {
	if err := validation.ValidateNotEmpty("boot", "name", name); err != nil {
		panic(err)
	}
	return r.getOrCreate(name, func() *App {
		return r.newApp(name, nil, nil)
	})
}

func (r *Registry) getOrCreate(name string, create func() *App) *App {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		panic(gberrors.NewOperationError("boot", "app", gberrors.ErrClosed).WithContext(name))
	}
	if a, ok := r.apps[name]; ok {
		return a
	}
	a := create()
	r.apps[name] = a
	return a
}

func (r *Registry) treeLocked(root string) *namespace.Tree {
	t, ok := r.trees[root]
	if !ok {
		t = namespace.New()
		r.trees[root] = t
	}
	return t
}

// Lookup returns the App registered under name.
func (r *Registry) Lookup(name string) (*App, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.apps[name]
	return a, ok
}

// Names returns the names of all registered Apps in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.apps))
	for name := range r.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Session identifies the process tree. Workers spawned by the default
// cluster inherit it.
func (r *Registry) Session() string { return r.session }

// Role reports whether this process is the control process or a worker.
func (r *Registry) Role() cluster.Role { return cluster.RoleOf(r.config.Cluster) }

// Cluster returns the cluster driven by the Registry's Apps.
func (r *Registry) Cluster() cluster.Cluster { return r.config.Cluster }

func (r *Registry) reconcilerFor() *reconcile.Reconciler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reconciler == nil {
		r.reconciler = reconcile.NewWithConfig(reconcile.Config{Logger: r.config.Logger})
		r.ownsReconciler = true
	}
	if r.ownsReconciler {
		r.reconciler.Start()
	}
	return r.reconciler
}

// track derives a context that also ends when the Registry closes. Close
// waits until release has been called.
func (r *Registry) track(ctx context.Context) (tracked context.Context, release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil, gberrors.NewOperationError("boot", "track", gberrors.ErrClosed)
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancels = append(r.cancels, cancel)
	r.followers.Add(1)

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			cancel()
			r.followers.Done()
		})
	}, nil
}

// Close stops every App's scaler and the resources the Registry owns: the
// loop (after draining posted work), the reconciler, and the default
// cluster, which terminates its workers. Workers of an injected cluster are
// left running.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	apps := make([]*App, 0, len(r.apps))
	for _, a := range r.apps {
		apps = append(apps, a)
	}
	cancels := r.cancels
	r.cancels = nil
	rec, ownsRec := r.reconciler, r.ownsReconciler
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	r.followers.Wait()

	for _, a := range apps {
		a.scaler.Stop()
	}

	if rec != nil && ownsRec {
		select {
		case <-rec.Stop():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.ownedLoop != nil {
		select {
		case <-r.ownedLoop.Shutdown():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.ownedCluster != nil {
		if err := r.ownedCluster.Shutdown(ctx); err != nil {
			return gberrors.NewOperationError("boot", "close", err)
		}
	}
	r.logger.Debug().Int("apps", len(apps)).Msg("registry closed")
	return nil
}
