package boot

import (
	"context"
	"path/filepath"

	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
	"github.com/vnykmshr/goboot/pkg/common/validation"
	"github.com/vnykmshr/goboot/pkg/runtime/discovery"
	"github.com/vnykmshr/goboot/pkg/runtime/namespace"
	"github.com/vnykmshr/goboot/pkg/runtime/pipeline"
	"github.com/vnykmshr/goboot/pkg/runtime/preload"
)

// Runner is a mounted component that Run can start.
type Runner interface {
	Run(ctx context.Context) error
}

// Mount queues a stage binding provider at path in the given mode.
func (a *App) Mount(path string, provider namespace.Provider, mode namespace.Mode) *App {
	if err := validation.ValidateMountPath("boot", "path", path); err != nil {
		panic(err)
	}
	if provider == nil {
		panic(gberrors.NewValidationError("boot", "provider", nil, "cannot be nil"))
	}
	if mode.String() == "unknown" {
		panic(gberrors.NewValidationError("boot", "mode", int(mode), "unknown mount mode"))
	}
	return a.Push(pipeline.Sync[*App]("mount", func() error {
		a.logger.Debug().Str("path", path).Str("mode", mode.String()).Msg("mount")
		return a.tree.Bind(path, provider, mode)
	}))
}

// MountValue queues a stage binding v at path as a snapshot.
func (a *App) MountValue(path string, v any) *App {
	return a.Mount(path, namespace.Static(v), namespace.ModeSnapshot)
}

// MountDir queues a stage that scans dir and mounts every recognised file
// below point, lazily. The scan runs off the pipeline; later stages wait
// for it. A relative dir resolves against the appDir option and the scan
// honours the mask and maxDepth options. A missing dir is logged and
// skipped.
func (a *App) MountDir(point, dir string) *App {
	return a.MountDirDepth(point, dir, -1)
}

// MountDirDepth is MountDir with an explicit depth limit. A negative depth
// uses the maxDepth option.
func (a *App) MountDirDepth(point, dir string, depth int) *App {
	if err := validation.ValidateMountPath("boot", "point", point); err != nil {
		panic(err)
	}
	if err := validation.ValidateNotEmpty("boot", "dir", dir); err != nil {
		panic(err)
	}
	return a.Push(pipeline.Async[*App]("mount_dir", func(done pipeline.Done) {
		root := a.resolveDir(dir)
		limit := depth
		if limit < 0 {
			limit = a.intOption(OptMaxDepth)
		}
		match := discovery.MaskMatcher(a.maskOption())
		go func() {
			done(a.mountDir(point, root, match, limit))
		}()
	}))
}

func (a *App) resolveDir(dir string) string {
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(a.stringOption(OptAppDir), dir)
}

func (a *App) mountDir(point, root string, match discovery.Matcher, limit int) error {
	a.logger.Debug().Str("dir", root).Str("point", point).Msg("mount dir")

	entries, err := a.registry.discoverer.Discover(root, match, limit)
	if gberrors.IsNotFound(err) {
		a.logger.Warn().Str("dir", root).Msg("unable to mount: not found")
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		path := e.MountPath(point)
		a.logger.Debug().Str("file", e.Path).Str("path", path).Msg("mount file")
		if err := a.tree.Bind(path, namespace.Provider(e.Load), namespace.ModeLazy); err != nil {
			return err
		}
	}
	return nil
}

// Run queues a stage that starts what is mounted at path. If nothing is
// mounted there when Run is called, MountDir(path, path) is queued first.
//
// A runnable value (func(), func() error, func(context.Context) error or
// Runner) is invoked. For a branch, each direct leaf child is loaded and
// invoked if runnable. A path that still resolves to nothing is logged and
// skipped. Runnables run inside the stage, so long-running components
// should start their own goroutines.
func (a *App) Run(path string) *App {
	if err := validation.ValidateMountPath("boot", "path", path); err != nil {
		panic(err)
	}
	if !a.tree.Has(path) {
		a.MountDir(path, path)
	}
	return a.Push(pipeline.Sync[*App]("run", func() error {
		return a.run(path)
	}))
}

func (a *App) run(path string) error {
	node, ok := a.tree.Lookup(path)
	if !ok {
		a.logger.Warn().Str("path", path).Msg("nothing mounted to run")
		return nil
	}
	if !node.IsBranch() {
		return a.start(path, node)
	}
	for _, name := range node.Children() {
		child, ok := node.Child(name)
		if !ok || child.IsBranch() {
			continue
		}
		if err := a.start(namespace.Join(path, name), child); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) start(path string, node *namespace.Node) error {
	v, err := node.Value()
	if err != nil {
		return gberrors.NewOperationError("boot", "run", err).WithContext(path)
	}
	ctx := a.registry.config.Context

	var runErr error
	switch fn := v.(type) {
	case Runner:
		a.logger.Debug().Str("path", path).Msg("running")
		runErr = fn.Run(ctx)
	case func(context.Context) error:
		a.logger.Debug().Str("path", path).Msg("running")
		runErr = fn(ctx)
	case func() error:
		a.logger.Debug().Str("path", path).Msg("running")
		runErr = fn()
	case func():
		a.logger.Debug().Str("path", path).Msg("running")
		fn()
	default:
		a.logger.Debug().Str("path", path).Msg("loaded")
	}
	if runErr != nil {
		return gberrors.NewOperationError("boot", "run", runErr).WithContext(path)
	}
	return nil
}

// Preload queues a stage that runs every lazy provider mounted below path
// (the whole namespace when path is empty) on preloadWorkers workers. Any
// provider failure halts the pipeline; the error lists each failed path. A
// path with nothing mounted is logged and skipped.
func (a *App) Preload(path string) *App {
	return a.Push(pipeline.Async[*App]("preload", func(done pipeline.Done) {
		p, err := preload.NewWithConfigSafe(preload.Config{
			Workers: a.intOption(OptPreloadWorkers),
			Logger:  &a.logger,
		})
		if err != nil {
			done(err)
			return
		}
		ctx := a.registry.config.Context
		go func() {
			stats, err := p.Preload(ctx, a.tree, path)
			if gberrors.IsNotFound(err) {
				a.logger.Warn().Str("path", path).Msg("nothing mounted to preload")
				done(nil)
				return
			}
			a.logger.Info().
				Str("path", path).
				Int("loaded", stats.Loaded).
				Int("failed", stats.Failed).
				Dur("duration", stats.Duration).
				Msg("preloaded")
			done(err)
		}()
	}))
}
