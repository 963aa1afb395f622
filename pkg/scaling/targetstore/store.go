package targetstore

import (
	"context"

	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
)

// Store shares desired worker counts between processes. A control process
// watches its application's target while operators or other services set
// it.
type Store interface {
	// Target returns the stored target for app. ok is false when none has
	// been set.
	Target(ctx context.Context, app string) (n int, ok bool, err error)

	// SetTarget stores n as the target for app and notifies watchers.
	SetTarget(ctx context.Context, app string, n int) error

	// Watch delivers targets set after the call returns. The channel is
	// closed when ctx ends or the store is closed.
	Watch(ctx context.Context, app string) (<-chan int, error)

	// Close releases the store's resources.
	Close() error
}

func validate(app string, n int) error {
	if app == "" {
		return gberrors.NewValidationError("targetstore", "app", app, "cannot be empty")
	}
	if n < 0 {
		return gberrors.NewValidationError("targetstore", "target", n, "must be non-negative")
	}
	return nil
}
