// Package integration contains integration tests that verify cross-package functionality.
// These tests boot complete applications: real directories, real worker
// processes, and a Redis-backed target shared by several control processes.
package integration

import (
	"bytes"
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/goboot/internal/config"
	"github.com/vnykmshr/goboot/internal/testutil"
	"github.com/vnykmshr/goboot/pkg/boot"
	"github.com/vnykmshr/goboot/pkg/cluster"
	"github.com/vnykmshr/goboot/pkg/metrics"
	"github.com/vnykmshr/goboot/pkg/scaling/targetstore"
)

const helperEnv = "GOBOOT_INTEGRATION_HELPER"

// TestHelperProcess is the worker side of TestClusterBootstrap. It boots the
// same App a control process would and idles until terminated.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "worker" {
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	registry := boot.NewRegistry(boot.Config{Context: ctx})
	app := registry.App("web").
		MountValue("services.greeter", func() {
			os.Stdout.WriteString("ready\n")
		}).
		Run("services")
	if err := app.Wait(ctx); err != nil {
		os.Exit(3)
	}
	<-ctx.Done()
	_ = registry.Close(context.Background())
	os.Exit(0)
}

// lineCounter counts "ready" lines written by workers.
type lineCounter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *lineCounter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *lineCounter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Count(w.buf.String(), "ready\n")
}

func TestClusterBootstrap(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}

	out := &lineCounter{}
	exec, err := cluster.NewExec(cluster.ExecConfig{
		Command:     os.Args[0],
		Args:        []string{"-test.run=^TestHelperProcess$"},
		Env:         []string{helperEnv + "=worker"},
		Stdout:      out,
		GracePeriod: 5 * time.Second,
	})
	testutil.AssertNoError(t, err)

	reg := metrics.NewRegistry(prometheus.NewRegistry())
	registry := boot.NewRegistry(boot.Config{
		Cluster: exec,
		Metrics: reg,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		testutil.AssertNoError(t, registry.Close(ctx))
		testutil.AssertNoError(t, exec.Shutdown(ctx))
	}()

	app := registry.App("web").
		SetOption(boot.OptForkRespawn, true).
		Scale(2)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	testutil.AssertNoError(t, app.Wait(ctx))

	testutil.Eventually(t, func() bool {
		return out.count() == 2 && len(exec.Workers()) == 2 && app.Offset() == 0
	}, 10*time.Second, 20*time.Millisecond)

	// a worker killed from outside is replaced
	victim := exec.Workers()[0]
	testutil.AssertNoError(t, syscall.Kill(victim.PID(), syscall.SIGKILL))

	testutil.Eventually(t, func() bool {
		return out.count() == 3 && len(exec.Workers()) == 2 && app.Offset() == 0
	}, 10*time.Second, 20*time.Millisecond)

	for _, w := range exec.Workers() {
		if w.ID() == victim.ID() {
			t.Errorf("worker %d should have been replaced", victim.ID())
		}
	}
	testutil.AssertEqual(t, promtest.ToFloat64(reg.WorkersSpawned.WithLabelValues("web")), 3.0)
	testutil.AssertEqual(t, promtest.ToFloat64(reg.Respawns.WithLabelValues("web")), 1.0)
}

func TestSharedTargetAcrossControlProcesses(t *testing.T) {
	mr := miniredis.RunT(t)

	type control struct {
		cluster *testutil.MockCluster
		app     *boot.App
	}
	var controls []control
	for i := 0; i < 2; i++ {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		store, err := targetstore.NewRedisStore(targetstore.RedisConfig{Client: client, CloseClient: true})
		testutil.AssertNoError(t, err)

		c := testutil.NewMockCluster()
		c.SetAutoLifecycle(true)
		registry := boot.NewRegistry(boot.Config{Cluster: c})
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), testutil.TestTimeout)
			defer cancel()
			testutil.AssertNoError(t, registry.Close(ctx))
			testutil.AssertNoError(t, store.Close())
		})

		app := registry.App("web")
		testutil.AssertNoError(t, app.FollowTargets(context.Background(), store))
		controls = append(controls, control{cluster: c, app: app})
	}

	setter, err := targetstore.NewRedisStore(targetstore.RedisConfig{
		Client:      redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		CloseClient: true,
	})
	testutil.AssertNoError(t, err)
	defer setter.Close()

	for _, target := range []int{3, 1} {
		testutil.AssertNoError(t, setter.SetTarget(context.Background(), "web", target))
		for _, c := range controls {
			testutil.Eventually(t, func() bool {
				return c.app.Target() == target && c.cluster.LiveCount() == target && c.app.Offset() == 0
			}, testutil.TestTimeout, 10*time.Millisecond)
		}
	}
}

func TestBootFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		path := filepath.Join(dir, name)
		testutil.AssertNoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		testutil.AssertNoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	write("conf/server.yaml", "port: 8080\n")
	write("conf/features/flags.json", `{"beta": true}`)
	write("conf/.env.json", `{"secret": "x"}`)
	write("goboot.yaml", "app:\n  name: web\n  dir: "+dir+"\n  preload: true\n  mounts:\n    settings: conf\n")

	cfg, err := config.Load(filepath.Join(dir, "goboot.yaml"))
	testutil.AssertNoError(t, err)

	c := testutil.NewMockCluster()
	registry := boot.NewRegistry(boot.Config{Cluster: c})
	defer registry.Close(context.Background())

	app := registry.App(cfg.App.Name).SetOptions(cfg.Options())
	for _, point := range cfg.MountPoints() {
		app.MountDir(point, cfg.App.Mounts[point])
	}
	if cfg.App.Preload {
		app.Preload("")
	}

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	testutil.AssertNoError(t, app.Wait(ctx))

	server, ok := app.Resolve("settings.server")
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, server.(map[string]any)["port"], any(8080))

	flags, ok := app.Resolve("settings.features.flags")
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, flags.(map[string]any)["beta"], any(true))

	_, ok = app.Resolve("settings..env")
	testutil.AssertEqual(t, ok, false)
	testutil.AssertEqual(t, app.Namespace().Has("settings.env"), false)
}
