package cluster_test

import (
	"bytes"
	"errors"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/vnykmshr/goboot/internal/testutil"
	"github.com/vnykmshr/goboot/pkg/cluster"
	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
)

const helperEnv = "GOBOOT_CLUSTER_HELPER"

// TestHelperProcess is the body of spawned workers. It does nothing when run
// as a normal test.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		return
	}
	switch mode {
	case "exit":
		os.Exit(0)
	case "fail":
		os.Exit(3)
	case "sleep":
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGTERM)
		os.Stdout.WriteString("ready\n")
		select {
		case <-sig:
			os.Exit(0)
		case <-time.After(time.Minute):
			os.Exit(1)
		}
	case "ignore":
		signal.Ignore(syscall.SIGTERM)
		os.Stdout.WriteString("ready\n")
		time.Sleep(time.Minute)
		os.Exit(1)
	}
	os.Exit(2)
}

// readyWriter closes ready on the first "ready" line.
type readyWriter struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	once  sync.Once
	ready chan struct{}
}

func newReadyWriter() *readyWriter { return &readyWriter{ready: make(chan struct{})} }

func (w *readyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	if strings.Contains(w.buf.String(), "ready") {
		w.once.Do(func() { close(w.ready) })
	}
	return len(p), nil
}

func newHelperCluster(t *testing.T, mode string, out *readyWriter, grace time.Duration) *cluster.Exec {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("signals are not delivered to processes on windows")
	}
	cfg := cluster.ExecConfig{
		Command:     os.Args[0],
		Args:        []string{"-test.run=^TestHelperProcess$"},
		Env:         []string{helperEnv + "=" + mode},
		GracePeriod: grace,
	}
	if out != nil {
		cfg.Stdout = out
	}
	c, err := cluster.NewExec(cfg)
	testutil.AssertNoError(t, err)
	return c
}

func waitExit(t *testing.T, w cluster.Worker) error {
	t.Helper()
	done := make(chan error, 1)
	w.OnExit(func(err error) { done <- err })
	select {
	case err := <-done:
		return err
	case <-time.After(2 * testutil.TestTimeout):
		t.Fatal("worker did not exit")
		return nil
	}
}

func TestExecSpawnExit(t *testing.T) {
	c := newHelperCluster(t, "exit", nil, 0)
	testutil.AssertEqual(t, c.IsControl(), true)
	testutil.AssertNotEqual(t, c.Session(), "")

	w, err := c.Spawn()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, w.ID(), 1)
	testutil.AssertNotEqual(t, w.PID(), 0)

	online := testutil.NewCallbackTracker()
	w.OnOnline(func() { online.Mark() })

	testutil.AssertNoError(t, waitExit(t, w))
	online.AssertCallCount(t, 1)
	testutil.AssertEqual(t, w.State(), cluster.StateExited)
	testutil.AssertEqual(t, len(c.Workers()), 0)
}

func TestExecExitError(t *testing.T) {
	c := newHelperCluster(t, "fail", nil, 0)
	w, err := c.Spawn()
	testutil.AssertNoError(t, err)
	testutil.AssertError(t, waitExit(t, w))
}

func TestExecTerminate(t *testing.T) {
	out := newReadyWriter()
	c := newHelperCluster(t, "sleep", out, testutil.TestTimeout)

	w, err := c.Spawn()
	testutil.AssertNoError(t, err)
	<-out.ready
	testutil.AssertEqual(t, len(c.Workers()), 1)

	var order []string
	var mu sync.Mutex
	w.OnDisconnect(func() {
		mu.Lock()
		order = append(order, "disconnect")
		mu.Unlock()
	})

	testutil.AssertNoError(t, c.Terminate(w))
	testutil.AssertEqual(t, w.State().Live(), false)
	testutil.AssertNoError(t, waitExit(t, w))

	mu.Lock()
	defer mu.Unlock()
	testutil.AssertEqual(t, len(order), 1)
}

func TestExecKillAfterGracePeriod(t *testing.T) {
	out := newReadyWriter()
	c := newHelperCluster(t, "ignore", out, 100*time.Millisecond)

	w, err := c.Spawn()
	testutil.AssertNoError(t, err)
	<-out.ready

	start := time.Now()
	testutil.AssertNoError(t, c.Terminate(w))
	testutil.AssertError(t, waitExit(t, w))
	if time.Since(start) > 10*time.Second {
		t.Fatal("worker was not killed after the grace period")
	}
}

func TestExecTerminateUnknown(t *testing.T) {
	c := newHelperCluster(t, "exit", nil, 0)
	other := testutil.NewMockCluster().AddWorkers(1)[0]
	err := c.Terminate(other)
	testutil.AssertEqual(t, gberrors.IsNotFound(err), true)
}

func TestExecShutdown(t *testing.T) {
	out := newReadyWriter()
	c := newHelperCluster(t, "sleep", out, testutil.TestTimeout)

	for i := 0; i < 2; i++ {
		_, err := c.Spawn()
		testutil.AssertNoError(t, err)
	}
	testutil.AssertEqual(t, len(c.Workers()), 2)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	testutil.AssertNoError(t, c.Shutdown(ctx))
	testutil.AssertEqual(t, len(c.Workers()), 0)

	_, err := c.Spawn()
	testutil.AssertEqual(t, gberrors.IsClosed(err), true)
}

func TestExecWorkerRole(t *testing.T) {
	t.Setenv(cluster.EnvWorkerID, "3")

	c, err := cluster.NewExec(cluster.ExecConfig{})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, c.IsWorker(), true)
	testutil.AssertEqual(t, c.WorkerID(), 3)
	testutil.AssertEqual(t, cluster.RoleOf(c), cluster.RoleWorker)

	_, err = c.Spawn()
	testutil.AssertEqual(t, errors.Is(err, gberrors.ErrNotControlProcess), true)
}

func TestWorkerIDFromEnv(t *testing.T) {
	tests := []struct {
		name  string
		value string
		id    int
		ok    bool
	}{
		{"unset", "", 0, false},
		{"valid", "7", 7, true},
		{"zero", "0", 0, false},
		{"negative", "-2", 0, false},
		{"garbage", "abc", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(cluster.EnvWorkerID, tt.value)
			id, ok := cluster.WorkerIDFromEnv()
			testutil.AssertEqual(t, ok, tt.ok)
			testutil.AssertEqual(t, id, tt.id)
		})
	}
}
