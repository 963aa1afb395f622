package preload

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnykmshr/goboot/internal/testutil"
	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
	"github.com/vnykmshr/goboot/pkg/runtime/namespace"
)

func counting(calls *int32, v any) namespace.Provider {
	return func() (any, error) {
		atomic.AddInt32(calls, 1)
		return v, nil
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		workers     int
		expectPanic bool
	}{
		{"single worker", 1, false},
		{"several workers", 8, false},
		{"zero workers", 0, true},
		{"negative workers", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				r := recover()
				if tt.expectPanic && r == nil {
					t.Error("expected panic")
				}
				if !tt.expectPanic && r != nil {
					t.Errorf("unexpected panic: %v", r)
				}
			}()
			p := New(tt.workers)
			testutil.AssertEqual(t, p.Workers(), tt.workers)
		})
	}
}

func TestNewWithConfigDefaultsWorkers(t *testing.T) {
	p := NewWithConfig(Config{})
	if p.Workers() <= 0 {
		t.Errorf("Workers() = %d, want one per CPU", p.Workers())
	}

	_, err := NewWithConfigSafe(Config{Workers: -2})
	if !gberrors.IsValidationError(err) {
		t.Errorf("error = %v, want a validation error", err)
	}
}

func TestPreloadRunsLazyLeaves(t *testing.T) {
	tree := namespace.New()
	var calls int32
	testutil.AssertNoError(t, tree.Bind("conf.db", counting(&calls, "db"), namespace.ModeLazy))
	testutil.AssertNoError(t, tree.Bind("conf.cache", counting(&calls, "cache"), namespace.ModeLazy))
	testutil.AssertNoError(t, tree.BindValue("conf.name", "web"))
	testutil.AssertNoError(t, tree.Bind("other.x", counting(&calls, "x"), namespace.ModeLazy))

	stats, err := New(2).Preload(context.Background(), tree, "conf")
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, stats.Loaded, 2)
	testutil.AssertEqual(t, stats.Skipped, 1)
	testutil.AssertEqual(t, stats.Failed, 0)
	testutil.AssertEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestPreloadReportsFailuresInOrder(t *testing.T) {
	tree := namespace.New()
	boom := errors.New("bad yaml")
	testutil.AssertNoError(t, tree.Bind("a.ok", namespace.Static(1), namespace.ModeLazy))
	testutil.AssertNoError(t, tree.Bind("a.broken", func() (any, error) { return nil, boom }, namespace.ModeLazy))
	testutil.AssertNoError(t, tree.Bind("a.panics", func() (any, error) { panic("kaboom") }, namespace.ModeLazy))

	var (
		mu   sync.Mutex
		seen []string
	)
	p := NewWithConfig(Config{
		Workers: 3,
		OnLoad: func(r Result) {
			mu.Lock()
			seen = append(seen, r.Path)
			mu.Unlock()
		},
	})

	stats, err := p.Preload(context.Background(), tree, "")
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, stats.Loaded, 1)
	testutil.AssertEqual(t, stats.Failed, 2)

	if !errors.Is(err, boom) {
		t.Errorf("error %v should wrap the provider error", err)
	}
	msg := err.Error()
	if strings.Index(msg, "a.broken") > strings.Index(msg, "a.panics") {
		t.Errorf("failures should follow namespace order: %s", msg)
	}
	if !strings.Contains(msg, "provider panicked: kaboom") {
		t.Errorf("panic should be reported: %s", msg)
	}

	mu.Lock()
	defer mu.Unlock()
	testutil.AssertEqual(t, len(seen), 3)
}

func TestPreloadMissingRoot(t *testing.T) {
	_, err := New(1).Preload(context.Background(), namespace.New(), "nowhere")
	if !gberrors.IsNotFound(err) {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestPreloadEmptySubtree(t *testing.T) {
	tree := namespace.New()
	testutil.AssertNoError(t, tree.BindValue("a.b", 1))

	stats, err := New(4).Preload(context.Background(), tree, "a")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, stats.Loaded, 0)
	testutil.AssertEqual(t, stats.Skipped, 1)
}

func TestPreloadStopsFeedingWhenCancelled(t *testing.T) {
	tree := namespace.New()
	release := make(chan struct{})
	var calls int32
	for _, name := range []string{"a", "b", "c", "d"} {
		testutil.AssertNoError(t, tree.Bind("m."+name, func() (any, error) {
			atomic.AddInt32(&calls, 1)
			<-release
			return nil, nil
		}, namespace.ModeLazy))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := New(1).Preload(ctx, tree, "m")
		done <- err
	}()

	testutil.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	close(release)

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(testutil.TestTimeout):
		t.Fatal("Preload did not return")
	}
	if n := atomic.LoadInt32(&calls); n > 2 {
		t.Errorf("%d providers ran after cancellation, want at most 2", n)
	}
}
