package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{ErrClosed, ErrInvalidConfiguration, ErrNotFound, ErrPathConflict, ErrNotControlProcess}
	for i, a := range sentinels {
		if a.Error() == "" {
			t.Errorf("sentinel %d has an empty message", i)
		}
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("%q should not match %q", a, b)
			}
		}
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "negative worker count",
			err:  NewValidationError("scaler", "target", -2, "must be non-negative"),
			want: "scaler: invalid target=-2 (must be non-negative)",
		},
		{
			name: "bad mask with hint",
			err: NewValidationError("boot", "mask", "[", "does not compile").
				WithHint("use a Go regular expression"),
			want: "boot: invalid mask=[ (does not compile) - use a Go regular expression",
		},
		{
			name: "empty mount path",
			err:  NewValidationError("namespace", "path", "", "must not be empty"),
			want: "namespace: invalid path= (must not be empty)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !errors.Is(tt.err, ErrInvalidConfiguration) {
				t.Error("ValidationError should unwrap to ErrInvalidConfiguration")
			}
			if !IsValidationError(tt.err) {
				t.Error("IsValidationError should be true")
			}
		})
	}
}

func TestWithHintChains(t *testing.T) {
	err := NewValidationError("boot", "numForks", "many", "not a count")
	if got := err.WithHint("use full or a number"); got != err {
		t.Error("WithHint should return the receiver")
	}
	if err.Hint != "use full or a number" {
		t.Errorf("Hint = %q", err.Hint)
	}
}

func TestOperationError(t *testing.T) {
	cause := fmt.Errorf("decode settings/db.toml: %w", errors.New("bad key"))

	plain := NewOperationError("discovery", "load", cause)
	if got, want := plain.Error(), "discovery.load failed: decode settings/db.toml: bad key"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	withContext := NewOperationError("preload", "load", cause).WithContext("settings.db")
	if !strings.HasSuffix(withContext.Error(), "(settings.db)") {
		t.Errorf("Error() = %q should end with the context", withContext.Error())
	}
	if !errors.Is(withContext, cause) {
		t.Error("OperationError should unwrap to its cause")
	}
	if IsValidationError(withContext) {
		t.Error("an OperationError is not a validation error")
	}
}

func TestOperationErrorWrapsSentinels(t *testing.T) {
	err := fmt.Errorf("mount: %w", NewOperationError("namespace", "bind", ErrPathConflict).WithContext("config.db.host"))

	if !errors.Is(err, ErrPathConflict) {
		t.Error("wrapped conflict should match ErrPathConflict")
	}
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatal("errors.As should find the OperationError")
	}
	if opErr.Context != "config.db.host" {
		t.Errorf("Context = %q", opErr.Context)
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		notFound   bool
		closed     bool
		validation bool
	}{
		{name: "nil", err: nil},
		{name: "not found", err: ErrNotFound, notFound: true},
		{name: "wrapped not found", err: fmt.Errorf("resolve settings.db: %w", ErrNotFound), notFound: true},
		{name: "closed", err: ErrClosed, closed: true},
		{name: "operation on closed loop", err: NewOperationError("loop", "post", ErrClosed), closed: true},
		{name: "validation", err: NewValidationError("scaler", "target", -1, "negative"), validation: true},
		{name: "unrelated", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tt.notFound)
			}
			if got := IsClosed(tt.err); got != tt.closed {
				t.Errorf("IsClosed = %v, want %v", got, tt.closed)
			}
			if got := IsValidationError(tt.err); got != tt.validation {
				t.Errorf("IsValidationError = %v, want %v", got, tt.validation)
			}
		})
	}
}
