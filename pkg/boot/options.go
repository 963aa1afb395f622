package boot

import (
	"regexp"
	"sort"

	"github.com/spf13/cast"

	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
	"github.com/vnykmshr/goboot/pkg/runtime/discovery"
)

// Option names understood by an App. Any other name is stored as given.
const (
	// OptAppDir is the directory relative mount directories resolve against.
	OptAppDir = "appDir"
	// OptAppRoot names the namespace tree of the App. Apps created with the
	// same root share one tree. It is read when the App is created.
	OptAppRoot = "appRoot"
	// OptMask selects directory entries during MountDir; a pattern string
	// or *regexp.Regexp. Empty matches everything.
	OptMask = "mask"
	// OptMaxDepth bounds MountDir recursion.
	OptMaxDepth = "maxDepth"
	// OptDebug enables debug logging for the App.
	OptDebug = "debug"
	// OptForkRespawn replaces workers that exit unexpectedly.
	OptForkRespawn = "forkRespawn"
	// OptNumForks is the desired worker count.
	OptNumForks = "numForks"
	// OptRespawnRate limits respawn-triggered convergences per second; 0
	// means unlimited.
	OptRespawnRate = "respawnRate"
	// OptRespawnBurst is how many respawns may happen back to back.
	OptRespawnBurst = "respawnBurst"
	// OptPreloadWorkers bounds the providers Preload runs at once; 0 means
	// one per CPU.
	OptPreloadWorkers = "preloadWorkers"
)

// DefaultOptions returns the option defaults of an App named name.
func DefaultOptions(name string) map[string]any {
	return map[string]any{
		OptAppDir:         ".",
		OptAppRoot:        name,
		OptMask:           discovery.DefaultMaskPattern,
		OptMaxDepth:       discovery.DefaultMaxDepth,
		OptDebug:          false,
		OptForkRespawn:    false,
		OptNumForks:       0,
		OptRespawnRate:    0.0,
		OptRespawnBurst:   1,
		OptPreloadWorkers: 0,
	}
}

// checkOption validates the value of a well-known option.
func checkOption(name string, v any) error {
	invalid := func(reason string) error {
		return gberrors.NewValidationError("boot", name, v, reason)
	}
	switch name {
	case "":
		return gberrors.NewValidationError("boot", "option", name, "name cannot be empty")
	case OptAppDir, OptAppRoot:
		if _, err := cast.ToStringE(v); err != nil {
			return invalid("must be a string")
		}
	case OptMask:
		if _, err := compileMask(v); err != nil {
			return invalid(err.Error())
		}
	case OptDebug, OptForkRespawn:
		if _, err := cast.ToBoolE(v); err != nil {
			return invalid("must be a boolean")
		}
	case OptMaxDepth, OptNumForks, OptPreloadWorkers:
		n, err := cast.ToIntE(v)
		if err != nil {
			return invalid("must be an integer")
		}
		if n < 0 {
			return invalid("must be non-negative")
		}
	case OptRespawnRate:
		f, err := cast.ToFloat64E(v)
		if err != nil || f < 0 {
			return invalid("must be a non-negative number")
		}
	case OptRespawnBurst:
		n, err := cast.ToIntE(v)
		if err != nil || n <= 0 {
			return invalid("must be a positive integer")
		}
	}
	return nil
}

func checkOptions(opts map[string]any) error {
	for _, k := range sortedKeys(opts) {
		if err := checkOption(k, opts[k]); err != nil {
			return err
		}
	}
	return nil
}

func compileMask(v any) (*regexp.Regexp, error) {
	switch m := v.(type) {
	case nil:
		return nil, nil
	case *regexp.Regexp:
		return m, nil
	default:
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return regexp.Compile(s)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (a *App) intOption(name string) int {
	v, _ := a.Option(name)
	return cast.ToInt(v)
}

func (a *App) floatOption(name string) float64 {
	v, _ := a.Option(name)
	return cast.ToFloat64(v)
}

func (a *App) boolOption(name string) bool {
	v, _ := a.Option(name)
	return cast.ToBool(v)
}

func (a *App) stringOption(name string) string {
	v, _ := a.Option(name)
	return cast.ToString(v)
}

func (a *App) maskOption() *regexp.Regexp {
	v, _ := a.Option(OptMask)
	re, err := compileMask(v)
	if err != nil {
		return discovery.DefaultMask
	}
	return re
}
