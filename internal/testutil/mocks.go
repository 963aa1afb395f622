package testutil

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/vnykmshr/goboot/pkg/cluster"
)

// MockClock implements the throttle Clock interface with controllable time,
// so respawn pacing can be tested without real delays.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock returns a clock stopped at start, or at time.Now when start
// is zero.
func NewMockClock(start time.Time) *MockClock {
	if start.IsZero() {
		start = time.Now()
	}
	return &MockClock{now: start}
}

// Now returns the current mock time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock clock forward by the given duration.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock clock to a specific time.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// LogSink collects log output from concurrent writers. Zerolog writes one
// JSON object per Write, so Lines returns one entry per event.
type LogSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
	err error
}

// NewLogSink creates an empty LogSink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Write appends p, or returns the error set by FailWith.
func (s *LogSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.buf.Write(p)
}

// FailWith makes every later Write return err.
func (s *LogSink) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *LogSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *LogSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// Lines returns the non-empty lines written so far.
func (s *LogSink) Lines() []string {
	var lines []string
	for _, line := range strings.Split(s.String(), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Contains reports whether any line contains every fragment.
func (s *LogSink) Contains(fragments ...string) bool {
	for _, line := range s.Lines() {
		all := true
		for _, f := range fragments {
			if !strings.Contains(line, f) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// ManualScheduler queues posted work until the test runs it, making "next
// turn" ordering observable.
type ManualScheduler struct {
	mu    sync.Mutex
	queue []func()
}

// NewManualScheduler creates an empty ManualScheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Post queues fn.
func (s *ManualScheduler) Post(fn func()) error {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	return nil
}

// Len returns the number of queued functions.
func (s *ManualScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// RunOne runs the oldest queued function and reports whether there was one.
func (s *ManualScheduler) RunOne() bool {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return false
	}
	fn := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()

	fn()
	return true
}

// RunPending runs queued functions, including ones posted while running,
// until the queue is empty. It returns how many ran.
func (s *ManualScheduler) RunPending() int {
	n := 0
	for s.RunOne() {
		n++
	}
	return n
}

// MockWorker is a cluster.Worker whose transitions are driven by the test.
type MockWorker struct {
	cluster.Lifecycle
	id  int
	pid int
}

func (w *MockWorker) ID() int  { return w.id }
func (w *MockWorker) PID() int { return w.pid }

// Online fires the online transition.
func (w *MockWorker) Online() { w.MarkOnline() }

// Disconnect fires the disconnect transition.
func (w *MockWorker) Disconnect() { w.MarkDisconnected() }

// Exit fires disconnect (if not yet fired) and exit.
func (w *MockWorker) Exit(err error) { w.MarkExited(err) }

// MockCluster is an in-memory cluster.Cluster. By default workers stay in
// the starting state until the test drives them; SetAutoLifecycle makes
// spawned workers come online and terminated workers exit on their own.
type MockCluster struct {
	mu             sync.Mutex
	workerID       int
	nextID         int
	workers        []*MockWorker
	spawnErr       error
	auto           bool
	spawnCount     int
	terminateCount int
	terminated     []int
}

// NewMockCluster creates a cluster in the control role.
func NewMockCluster() *MockCluster {
	return &MockCluster{}
}

// NewMockWorkerCluster creates a cluster as seen from worker id.
func NewMockWorkerCluster(id int) *MockCluster {
	return &MockCluster{workerID: id}
}

func (c *MockCluster) IsControl() bool { return c.workerID == 0 }
func (c *MockCluster) IsWorker() bool  { return c.workerID != 0 }
func (c *MockCluster) WorkerID() int   { return c.workerID }

// SetSpawnError makes subsequent Spawn calls fail with err. Nil clears it.
func (c *MockCluster) SetSpawnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spawnErr = err
}

// SetAutoLifecycle toggles automatic online and exit transitions.
func (c *MockCluster) SetAutoLifecycle(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auto = on
}

// AddWorkers registers n already-online workers and returns them.
func (c *MockCluster) AddWorkers(n int) []*MockWorker {
	added := make([]*MockWorker, 0, n)
	for i := 0; i < n; i++ {
		w := c.newWorker()
		w.MarkOnline()
		added = append(added, w)
	}
	return added
}

func (c *MockCluster) newWorker() *MockWorker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	w := &MockWorker{id: c.nextID, pid: 10000 + c.nextID}
	c.workers = append(c.workers, w)
	return w
}

// Spawn creates a starting worker.
func (c *MockCluster) Spawn() (cluster.Worker, error) {
	c.mu.Lock()
	c.spawnCount++
	err := c.spawnErr
	auto := c.auto
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	w := c.newWorker()
	if auto {
		go w.MarkOnline()
	}
	return w, nil
}

// Workers returns workers that have not exited, ordered by ID.
func (c *MockCluster) Workers() []cluster.Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]cluster.Worker, 0, len(c.workers))
	for _, w := range c.workers {
		if w.State() != cluster.StateExited {
			out = append(out, w)
		}
	}
	return out
}

// Terminate marks w disconnecting and records the request.
func (c *MockCluster) Terminate(w cluster.Worker) error {
	c.mu.Lock()
	c.terminateCount++
	c.terminated = append(c.terminated, w.ID())
	auto := c.auto
	c.mu.Unlock()

	mw, ok := w.(*MockWorker)
	if !ok {
		return errors.New("testutil: foreign worker")
	}
	mw.MarkDisconnecting()
	if auto {
		go mw.MarkExited(nil)
	}
	return nil
}

// Worker returns the worker with the given id, or nil.
func (c *MockCluster) Worker(id int) *MockWorker {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.workers {
		if w.id == id {
			return w
		}
	}
	return nil
}

// Spawned returns every worker ever created, in spawn order.
func (c *MockCluster) Spawned() []*MockWorker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*MockWorker(nil), c.workers...)
}

func (c *MockCluster) SpawnCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spawnCount
}

func (c *MockCluster) TerminateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminateCount
}

// Terminated returns the ids passed to Terminate, in call order.
func (c *MockCluster) Terminated() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.terminated...)
}

// LiveCount returns the number of workers in a live state.
func (c *MockCluster) LiveCount() int {
	return len(cluster.LiveWorkers(c))
}
