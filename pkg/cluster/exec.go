package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
)

const (
	// EnvWorkerID is set in every spawned worker to its cluster id.
	EnvWorkerID = "GOBOOT_WORKER_ID"

	// EnvSession carries the control process session id to workers.
	EnvSession = "GOBOOT_SESSION"
)

// DefaultGracePeriod is how long a terminated worker may take to exit
// before it is killed.
const DefaultGracePeriod = 10 * time.Second

// ExecConfig configures an Exec cluster.
type ExecConfig struct {
	// Command is the worker executable. Defaults to the running binary.
	Command string

	// Args are passed to Command. When Command is empty they default to the
	// arguments of the running process.
	Args []string

	// Env is appended to the inherited environment of each worker.
	Env []string

	// Dir is the working directory of workers. Empty means inherit.
	Dir string

	// Stdout and Stderr default to the control process's streams.
	Stdout io.Writer
	Stderr io.Writer

	// GracePeriod bounds graceful termination before a kill.
	GracePeriod time.Duration

	// Logger receives worker lifecycle messages. Nil disables logging.
	Logger *zerolog.Logger
}

// Exec is a Cluster backed by operating system processes. In a worker
// process (EnvWorkerID set) it only answers role queries.
type Exec struct {
	cfg      ExecConfig
	logger   zerolog.Logger
	workerID int
	session  string

	mu      sync.Mutex
	nextID  int
	workers map[int]*execWorker
	closed  bool
}

type execWorker struct {
	Lifecycle
	id   int
	cmd  *exec.Cmd
	done chan struct{}
}

func (w *execWorker) ID() int { return w.id }

func (w *execWorker) PID() int {
	if w.cmd.Process == nil {
		return 0
	}
	return w.cmd.Process.Pid
}

// NewExec creates an Exec cluster. The role is taken from the environment.
func NewExec(cfg ExecConfig) (*Exec, error) {
	if cfg.Command == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, gberrors.NewOperationError("cluster", "NewExec", err).
				WithContext("cannot resolve running executable")
		}
		cfg.Command = self
		if cfg.Args == nil {
			cfg.Args = append([]string(nil), os.Args[1:]...)
		}
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "cluster").Logger()
	}

	session := os.Getenv(EnvSession)
	if session == "" {
		session = uuid.NewString()
	}

	id, _ := WorkerIDFromEnv()
	return &Exec{
		cfg:      cfg,
		logger:   logger.With().Str("session", session).Logger(),
		workerID: id,
		session:  session,
		workers:  make(map[int]*execWorker),
	}, nil
}

// WorkerIDFromEnv returns the worker id of the current process, if any.
func WorkerIDFromEnv() (int, bool) {
	raw := os.Getenv(EnvWorkerID)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (e *Exec) IsControl() bool { return e.workerID == 0 }

func (e *Exec) IsWorker() bool { return e.workerID != 0 }

func (e *Exec) WorkerID() int { return e.workerID }

// Session returns the id shared by the control process and its workers.
func (e *Exec) Session() string { return e.session }

// Spawn starts a worker process. The online transition fires once the
// process has been started.
func (e *Exec) Spawn() (Worker, error) {
	if e.IsWorker() {
		return nil, gberrors.ErrNotControlProcess
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, gberrors.NewOperationError("cluster", "Spawn", gberrors.ErrClosed)
	}
	e.nextID++
	id := e.nextID
	e.mu.Unlock()

	cmd := exec.Command(e.cfg.Command, e.cfg.Args...)
	cmd.Env = append(os.Environ(), e.cfg.Env...)
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("%s=%d", EnvWorkerID, id),
		fmt.Sprintf("%s=%s", EnvSession, e.session))
	cmd.Dir = e.cfg.Dir
	cmd.Stdout = e.cfg.Stdout
	cmd.Stderr = e.cfg.Stderr

	w := &execWorker{id: id, cmd: cmd, done: make(chan struct{})}
	if err := cmd.Start(); err != nil {
		return nil, gberrors.NewOperationError("cluster", "Spawn", err).
			WithContext(fmt.Sprintf("worker %d", id))
	}

	e.mu.Lock()
	e.workers[id] = w
	e.mu.Unlock()

	e.logger.Debug().Int("worker", id).Int("pid", w.PID()).Msg("worker started")

	go e.supervise(w)
	return w, nil
}

func (e *Exec) supervise(w *execWorker) {
	w.MarkOnline()

	err := w.cmd.Wait()

	e.mu.Lock()
	delete(e.workers, w.id)
	e.mu.Unlock()

	if err != nil {
		e.logger.Debug().Int("worker", w.id).Err(err).Msg("worker exited")
	} else {
		e.logger.Debug().Int("worker", w.id).Msg("worker exited")
	}
	w.MarkExited(err)
	close(w.done)
}

// Workers returns the workers that have not exited, ordered by ID.
func (e *Exec) Workers() []Worker {
	e.mu.Lock()
	out := make([]Worker, 0, len(e.workers))
	for _, w := range e.workers {
		out = append(out, w)
	}
	e.mu.Unlock()

	SortByID(out)
	return out
}

// Terminate sends SIGTERM and kills the worker if it is still running after
// the grace period.
func (e *Exec) Terminate(w Worker) error {
	e.mu.Lock()
	ew, ok := e.workers[w.ID()]
	e.mu.Unlock()
	if !ok {
		return gberrors.NewOperationError("cluster", "Terminate", gberrors.ErrNotFound).
			WithContext(fmt.Sprintf("worker %d", w.ID()))
	}

	ew.MarkDisconnecting()
	if err := ew.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		// platforms without SIGTERM delivery
		return ew.cmd.Process.Kill()
	}

	go func() {
		timer := time.NewTimer(e.cfg.GracePeriod)
		defer timer.Stop()
		select {
		case <-ew.done:
		case <-timer.C:
			e.logger.Warn().Int("worker", ew.id).Dur("grace", e.cfg.GracePeriod).Msg("worker did not exit in time, killing")
			_ = ew.cmd.Process.Kill()
		}
	}()
	return nil
}

// Shutdown terminates every worker and waits for them to exit. Workers still
// running when ctx ends are killed. No new workers can be spawned afterwards.
func (e *Exec) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	workers := e.Workers()
	for _, w := range workers {
		_ = e.Terminate(w)
	}

	for _, w := range workers {
		ew := w.(*execWorker)
		select {
		case <-ew.done:
		case <-ctx.Done():
			for _, rest := range workers {
				_ = rest.(*execWorker).cmd.Process.Kill()
			}
			return ctx.Err()
		}
	}
	return nil
}
