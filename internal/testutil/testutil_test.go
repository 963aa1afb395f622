package testutil

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vnykmshr/goboot/pkg/cluster"
)

func TestEventually(t *testing.T) {
	start := time.Now()
	Eventually(t, func() bool { return time.Since(start) > 20*time.Millisecond }, time.Second, time.Millisecond)

	calls := 0
	AssertEventually(t, func() bool {
		calls++
		return calls == 3
	})
	AssertEqual(t, calls, 3)
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := WithTimeout(t)
	defer cancel()

	deadline, ok := ctx.Deadline()
	AssertEqual(t, ok, true)
	if until := time.Until(deadline); until <= 0 || until > TestTimeout {
		t.Fatalf("deadline in %v, want within %v", until, TestTimeout)
	}
}

func TestAssertions(t *testing.T) {
	AssertNoError(t, nil)
	AssertError(t, errors.New("spawn failed"))
	AssertEqual(t, "web", "web")
	AssertEqual(t, 2, 2)
	AssertNotEqual(t, 1, 2)
}

func TestMockClock(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewMockClock(start)
	AssertEqual(t, c.Now(), start)

	c.Advance(1500 * time.Millisecond)
	AssertEqual(t, c.Now(), start.Add(1500*time.Millisecond))

	later := time.Unix(5000, 0)
	c.Set(later)
	AssertEqual(t, c.Now(), later)

	if NewMockClock(time.Time{}).Now().IsZero() {
		t.Fatal("zero start should fall back to the wall clock")
	}
}

func TestLogSink(t *testing.T) {
	s := NewLogSink()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fmt.Fprintf(s, "{\"app\":\"web\",\"worker\":%d}\n", i)
		}(i)
	}
	wg.Wait()

	AssertEqual(t, len(s.Lines()), 8)
	AssertEqual(t, s.Contains(`"app":"web"`, `"worker":3`), true)
	AssertEqual(t, s.Contains(`"app":"api"`), false)
	AssertEqual(t, s.Len(), len(s.String()))

	boom := errors.New("disk full")
	s.FailWith(boom)
	_, err := s.Write([]byte("dropped\n"))
	AssertEqual(t, errors.Is(err, boom), true)
	AssertEqual(t, len(s.Lines()), 8)
}

func TestCallbackTracker(t *testing.T) {
	c := NewCallbackTracker()
	c.AssertNotCalled(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Mark()
		}()
	}
	wg.Wait()
	c.AssertCallCount(t, 10)

	c.Mark(cluster.StateOnline)
	c.AssertCalled(t)
	AssertEqual(t, c.Value(), any(cluster.StateOnline))

	c.Reset()
	c.AssertNotCalled(t)
	AssertEqual(t, c.Value() == nil, true)
}

func TestManualScheduler(t *testing.T) {
	s := NewManualScheduler()
	var order []int

	AssertNoError(t, s.Post(func() {
		order = append(order, 1)
		_ = s.Post(func() { order = append(order, 3) })
	}))
	AssertNoError(t, s.Post(func() { order = append(order, 2) }))
	AssertEqual(t, s.Len(), 2)

	AssertEqual(t, s.RunPending(), 3)
	AssertEqual(t, s.Len(), 0)
	AssertEqual(t, len(order), 3)
	for i, v := range order {
		AssertEqual(t, v, i+1)
	}
	AssertEqual(t, s.RunOne(), false)
}

func TestMockCluster(t *testing.T) {
	t.Run("spawn and drive lifecycle", func(t *testing.T) {
		c := NewMockCluster()
		AssertEqual(t, c.IsControl(), true)

		w, err := c.Spawn()
		AssertNoError(t, err)
		AssertEqual(t, w.State(), cluster.StateStarting)

		online := NewCallbackTracker()
		exited := NewCallbackTracker()
		w.OnOnline(func() { online.Mark() })
		w.OnExit(func(err error) { exited.Mark(err) })

		c.Worker(w.ID()).Online()
		online.AssertCallCount(t, 1)
		AssertEqual(t, c.LiveCount(), 1)

		c.Worker(w.ID()).Exit(nil)
		exited.AssertCallCount(t, 1)
		AssertEqual(t, c.LiveCount(), 0)
		AssertEqual(t, len(c.Workers()), 0)
	})

	t.Run("spawn error", func(t *testing.T) {
		c := NewMockCluster()
		boom := errors.New("boom")
		c.SetSpawnError(boom)
		_, err := c.Spawn()
		AssertEqual(t, errors.Is(err, boom), true)
		AssertEqual(t, c.SpawnCount(), 1)
	})

	t.Run("terminate records request", func(t *testing.T) {
		c := NewMockCluster()
		ws := c.AddWorkers(3)
		AssertNoError(t, c.Terminate(ws[2]))
		AssertEqual(t, ws[2].State(), cluster.StateDisconnecting)
		AssertEqual(t, c.LiveCount(), 2)
		AssertEqual(t, c.Terminated()[0], 3)
	})

	t.Run("auto lifecycle", func(t *testing.T) {
		c := NewMockCluster()
		c.SetAutoLifecycle(true)
		w, err := c.Spawn()
		AssertNoError(t, err)
		AssertEventually(t, func() bool { return w.State() == cluster.StateOnline })

		AssertNoError(t, c.Terminate(w))
		AssertEventually(t, func() bool { return w.State() == cluster.StateExited })
	})

	t.Run("worker role", func(t *testing.T) {
		c := NewMockWorkerCluster(4)
		AssertEqual(t, c.IsWorker(), true)
		AssertEqual(t, c.WorkerID(), 4)
		AssertEqual(t, cluster.RoleOf(c), cluster.RoleWorker)
	})
}
