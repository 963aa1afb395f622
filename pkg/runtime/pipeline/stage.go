package pipeline

import (
	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
)

// Done signals completion of an asynchronous stage. A non-nil error halts
// the pipeline. Calls after the first are ignored.
type Done func(err error)

// Kind identifies how a stage is invoked.
type Kind int

const (
	// KindSync stages complete when their function returns.
	KindSync Kind = iota
	// KindAsync stages complete when they call Done.
	KindAsync
	// KindOwner stages are async stages that also receive the pipeline owner.
	KindOwner
)

func (k Kind) String() string {
	switch k {
	case KindSync:
		return "sync"
	case KindAsync:
		return "async"
	case KindOwner:
		return "owner"
	default:
		return "unknown"
	}
}

// Stage is one unit of ordered work. Build stages with Sync, Async or
// WithOwner; the zero Stage is invalid.
type Stage[T any] struct {
	name  string
	kind  Kind
	sync  func() error
	async func(Done)
	owner func(T, Done)
}

// Sync returns a stage that completes when fn returns.
func Sync[T any](name string, fn func() error) Stage[T] {
	if fn == nil {
		panic(gberrors.NewValidationError("pipeline", "fn", nil, "cannot be nil").
			WithHint("stage " + name))
	}
	return Stage[T]{name: name, kind: KindSync, sync: fn}
}

// Async returns a stage that completes when fn calls done.
func Async[T any](name string, fn func(done Done)) Stage[T] {
	if fn == nil {
		panic(gberrors.NewValidationError("pipeline", "fn", nil, "cannot be nil").
			WithHint("stage " + name))
	}
	return Stage[T]{name: name, kind: KindAsync, async: fn}
}

// WithOwner returns a stage that receives the pipeline owner and completes
// when fn calls done.
func WithOwner[T any](name string, fn func(owner T, done Done)) Stage[T] {
	if fn == nil {
		panic(gberrors.NewValidationError("pipeline", "fn", nil, "cannot be nil").
			WithHint("stage " + name))
	}
	return Stage[T]{name: name, kind: KindOwner, owner: fn}
}

// Name returns the stage name used in stats and hooks.
func (s Stage[T]) Name() string { return s.name }

// Kind returns the invocation shape of the stage.
func (s Stage[T]) Kind() Kind { return s.kind }

func (s Stage[T]) valid() bool {
	switch s.kind {
	case KindSync:
		return s.sync != nil
	case KindAsync:
		return s.async != nil
	case KindOwner:
		return s.owner != nil
	}
	return false
}
