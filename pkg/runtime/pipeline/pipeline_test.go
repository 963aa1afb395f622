package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vnykmshr/goboot/internal/testutil"
	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
	"github.com/vnykmshr/goboot/pkg/runtime/loop"
)

type owner struct{ name string }

// recorder collects stage events in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func assertEvents(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestNewRequiresScheduler(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		err, ok := r.(error)
		if !ok || !gberrors.IsValidationError(err) {
			t.Fatalf("panic = %v, want validation error", r)
		}
	}()
	New[*owner](&owner{}, nil)
}

func TestStageConstructorsRejectNil(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"sync", func() { Sync[int]("s", nil) }},
		{"async", func() { Async[int]("a", nil) }},
		{"owner", func() { WithOwner[int]("o", nil) }},
		{"zero push", func() { New[int](0, testutil.NewManualScheduler()).Push(Stage[int]{}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn()
		})
	}
}

func TestFirstStageRunsInline(t *testing.T) {
	sched := testutil.NewManualScheduler()
	p := New[*owner](&owner{}, sched)
	ran := testutil.NewCallbackTracker()

	testutil.AssertNoError(t, p.Push(Sync[*owner]("first", func() error {
		ran.Mark()
		return nil
	})))

	ran.AssertCallCount(t, 1)
	testutil.AssertEqual(t, sched.Len(), 0)
	testutil.AssertEqual(t, p.Busy(), false)
}

func TestNextStageRunsOnLaterTurn(t *testing.T) {
	sched := testutil.NewManualScheduler()
	p := New[*owner](&owner{}, sched)
	rec := &recorder{}

	var release Done
	_ = p.Push(Async[*owner]("a", func(done Done) {
		rec.add("a")
		release = done
	}))
	_ = p.Push(Sync[*owner]("b", func() error { rec.add("b"); return nil }))
	_ = p.Push(Sync[*owner]("c", func() error { rec.add("c"); return nil }))

	assertEvents(t, rec.get(), "a")
	testutil.AssertEqual(t, p.Len(), 2)

	release(nil)
	// completion only schedules the next stage
	assertEvents(t, rec.get(), "a")
	testutil.AssertEqual(t, sched.Len(), 1)
	testutil.AssertEqual(t, p.Busy(), true)

	sched.RunOne()
	assertEvents(t, rec.get(), "a", "b")
	sched.RunPending()
	assertEvents(t, rec.get(), "a", "b", "c")
	testutil.AssertEqual(t, p.Busy(), false)
}

func TestMixedShapesPreserveOrder(t *testing.T) {
	l := loop.New()
	defer func() { <-l.Shutdown() }()

	o := &owner{name: "app"}
	p := New[*owner](o, l)
	rec := &recorder{}

	for i := 0; i < 30; i++ {
		i := i
		switch i % 3 {
		case 0:
			_ = p.Push(Sync[*owner]("sync", func() error {
				rec.add("%d", i)
				return nil
			}))
		case 1:
			_ = p.Push(Async[*owner]("async", func(done Done) {
				go func() {
					time.Sleep(time.Millisecond)
					rec.add("%d", i)
					done(nil)
				}()
			}))
		case 2:
			_ = p.Push(WithOwner[*owner]("owner", func(got *owner, done Done) {
				if got != o {
					t.Errorf("owner = %v, want %v", got, o)
				}
				rec.add("%d", i)
				done(nil)
			}))
		}
	}

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	testutil.AssertNoError(t, p.Wait(ctx))

	events := rec.get()
	testutil.AssertEqual(t, len(events), 30)
	for i, e := range events {
		testutil.AssertEqual(t, e, fmt.Sprint(i))
	}
}

func TestPushFromRunningStage(t *testing.T) {
	sched := testutil.NewManualScheduler()
	p := New[*owner](&owner{}, sched)
	rec := &recorder{}

	var release Done
	_ = p.Push(Async[*owner]("outer", func(done Done) {
		rec.add("outer")
		_ = p.Push(Sync[*owner]("inner", func() error { rec.add("inner"); return nil }))
		release = done
	}))
	_ = p.Push(Sync[*owner]("sibling", func() error { rec.add("sibling"); return nil }))

	release(nil)
	_ = p.Push(Sync[*owner]("after", func() error { rec.add("after"); return nil }))
	sched.RunPending()

	assertEvents(t, rec.get(), "outer", "inner", "sibling", "after")
}

func TestPushedDuringStageRunsAfterQueuedSiblings(t *testing.T) {
	sched := testutil.NewManualScheduler()
	p := New[*owner](&owner{}, sched)
	rec := &recorder{}

	var release Done
	_ = p.Push(Async[*owner]("gate", func(done Done) { release = done }))
	_ = p.Push(Sync[*owner]("s1", func() error {
		rec.add("s1")
		_ = p.Push(Sync[*owner]("child", func() error { rec.add("child"); return nil }))
		return nil
	}))
	_ = p.Push(Sync[*owner]("s2", func() error { rec.add("s2"); return nil }))

	release(nil)
	sched.RunPending()

	assertEvents(t, rec.get(), "s1", "s2", "child")
}

func TestLongSyncChainDoesNotRecurse(t *testing.T) {
	sched := testutil.NewManualScheduler()
	p := New[int](0, sched)

	count := 0
	var gate Done
	_ = p.Push(Async[int]("gate", func(done Done) { gate = done }))
	for i := 0; i < 10000; i++ {
		_ = p.Push(Sync[int]("step", func() error { count++; return nil }))
	}
	gate(nil)

	// every stage costs exactly one scheduler turn
	testutil.AssertEqual(t, sched.RunPending(), 10000)
	testutil.AssertEqual(t, count, 10000)
}

func TestDoneIsIdempotent(t *testing.T) {
	sched := testutil.NewManualScheduler()
	p := New[int](0, sched)
	ran := testutil.NewCallbackTracker()

	var release Done
	_ = p.Push(Async[int]("a", func(done Done) { release = done }))
	_ = p.Push(Sync[int]("b", func() error { ran.Mark(); return nil }))

	release(nil)
	release(nil)
	release(errors.New("late"))
	sched.RunPending()

	ran.AssertCallCount(t, 1)
	testutil.AssertNoError(t, p.Err())
	testutil.AssertEqual(t, p.Stats().Completed, int64(2))
}

func TestSyncErrorHaltsAndReturns(t *testing.T) {
	sched := testutil.NewManualScheduler()
	var failed string
	p := NewWithConfig(Config[int]{
		Scheduler: sched,
		OnError:   func(name string, err error) { failed = name },
	})
	boom := errors.New("boom")
	ran := testutil.NewCallbackTracker()

	err := p.Push(Sync[int]("bad", func() error { return boom }))
	testutil.AssertEqual(t, errors.Is(err, boom), true)
	testutil.AssertEqual(t, failed, "bad")
	testutil.AssertEqual(t, p.Halted(), true)
	testutil.AssertEqual(t, errors.Is(p.Err(), boom), true)

	// the next push resumes draining
	testutil.AssertNoError(t, p.Push(Sync[int]("good", func() error { ran.Mark(); return nil })))
	ran.AssertCallCount(t, 1)
	testutil.AssertEqual(t, p.Halted(), false)
}

func TestAsyncErrorHaltsUntilResume(t *testing.T) {
	sched := testutil.NewManualScheduler()
	p := New[int](0, sched)
	boom := errors.New("boom")
	ran := testutil.NewCallbackTracker()

	var release Done
	_ = p.Push(Async[int]("bad", func(done Done) { release = done }))
	_ = p.Push(Sync[int]("next", func() error { ran.Mark(); return nil }))

	release(boom)
	testutil.AssertEqual(t, sched.RunPending(), 0)
	ran.AssertNotCalled(t)
	testutil.AssertEqual(t, p.Len(), 1)

	testutil.AssertNoError(t, p.Resume())
	ran.AssertCallCount(t, 1)
}

func TestPanicClearsSlotAndPropagates(t *testing.T) {
	sched := testutil.NewManualScheduler()
	p := New[int](0, sched)

	func() {
		defer func() {
			if r := recover(); r != "kaboom" {
				t.Fatalf("recovered %v, want kaboom", r)
			}
		}()
		_ = p.Push(Sync[int]("panics", func() error { panic("kaboom") }))
	}()

	testutil.AssertEqual(t, p.Busy(), false)
	testutil.AssertEqual(t, p.Halted(), true)
	testutil.AssertError(t, p.Err())

	ran := testutil.NewCallbackTracker()
	testutil.AssertNoError(t, p.Push(Sync[int]("after", func() error { ran.Mark(); return nil })))
	ran.AssertCallCount(t, 1)
}

func TestStalledStageBlocksQueue(t *testing.T) {
	sched := testutil.NewManualScheduler()
	p := New[int](0, sched)
	ran := testutil.NewCallbackTracker()

	_ = p.Push(Async[int]("never", func(done Done) {}))
	_ = p.Push(Sync[int]("blocked", func() error { ran.Mark(); return nil }))
	sched.RunPending()

	ran.AssertNotCalled(t)
	name, ok := p.Current()
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, name, "never")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	testutil.AssertEqual(t, p.Wait(ctx), context.DeadlineExceeded)
}

func TestWaitReportsHalt(t *testing.T) {
	l := loop.New()
	defer func() { <-l.Shutdown() }()

	p := New[int](0, l)
	boom := errors.New("boom")

	var release Done
	_ = p.Push(Async[int]("bad", func(done Done) { release = done }))
	go func() {
		time.Sleep(10 * time.Millisecond)
		release(boom)
	}()

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	err := p.Wait(ctx)
	testutil.AssertEqual(t, errors.Is(err, boom), true)
}

func TestSchedulerClosedHalts(t *testing.T) {
	l := loop.New()
	<-l.Shutdown()

	p := New[int](0, l)
	ran := testutil.NewCallbackTracker()

	_ = p.Push(Sync[int]("first", func() error { return nil }))
	testutil.AssertEqual(t, p.Halted(), false)

	var release Done
	_ = p.Push(Async[int]("gate", func(done Done) { release = done }))
	_ = p.Push(Sync[int]("after", func() error { ran.Mark(); return nil }))
	release(nil)

	ran.AssertNotCalled(t)
	testutil.AssertEqual(t, p.Halted(), true)
	testutil.AssertEqual(t, gberrors.IsClosed(p.Err()), true)
}

func TestHooksAndStats(t *testing.T) {
	sched := testutil.NewManualScheduler()
	rec := &recorder{}
	p := NewWithConfig(Config[int]{
		Scheduler:       sched,
		OnStagePush:     func(name string, depth int) { rec.add("push %s %d", name, depth) },
		OnStageStart:    func(name string) { rec.add("start %s", name) },
		OnStageComplete: func(r StageResult) { rec.add("complete %s %v", r.StageName, r.Error != nil) },
	})

	_ = p.Push(Sync[int]("opt", func() error { return nil }))
	_ = p.Push(Sync[int]("opt", func() error { return nil }))
	_ = p.Push(Sync[int]("fail", func() error { return errors.New("x") }))
	sched.RunPending()

	assertEvents(t, rec.get(),
		"push opt 1", "start opt", "complete opt false",
		"push opt 1", "start opt", "complete opt false",
		"push fail 1", "start fail", "complete fail true",
	)

	stats := p.Stats()
	testutil.AssertEqual(t, stats.TotalPushed, int64(3))
	testutil.AssertEqual(t, stats.Completed, int64(2))
	testutil.AssertEqual(t, stats.Failed, int64(1))
	testutil.AssertEqual(t, stats.StageStats["opt"].ExecutionCount, int64(2))
	testutil.AssertEqual(t, stats.StageStats["fail"].ErrorCount, int64(1))
}

func TestKindString(t *testing.T) {
	testutil.AssertEqual(t, KindSync.String(), "sync")
	testutil.AssertEqual(t, KindAsync.String(), "async")
	testutil.AssertEqual(t, KindOwner.String(), "owner")
	testutil.AssertEqual(t, Kind(9).String(), "unknown")
	testutil.AssertEqual(t, Sync[int]("x", func() error { return nil }).Kind(), KindSync)
}
