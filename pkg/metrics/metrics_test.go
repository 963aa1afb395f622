package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/goboot/internal/testutil"
)

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	r.StagePushed("a", 1)
	r.SetDepth("a", 0)
	r.ObserveStage("a", "s", "sync", time.Second, errors.New("x"))
	r.Convergence("a", "none", 1, 1, 0)
	r.SetTarget("a", 1)
	r.SetOffset("a", 0)
	r.Spawned("a")
	r.SpawnFailed("a")
	r.Terminated("a")
	r.Exited("a", nil)
	r.Respawn("a", true)
	r.LoopTask("l", true)
}

func TestObserveStage(t *testing.T) {
	r := NewRegistry(prometheus.NewRegistry())

	r.ObserveStage("api", "mount", "async", 10*time.Millisecond, nil)
	r.ObserveStage("api", "mount", "async", 10*time.Millisecond, errors.New("boom"))

	testutil.AssertEqual(t, promtest.ToFloat64(r.StagesCompleted.WithLabelValues("api", "mount")), 1.0)
	testutil.AssertEqual(t, promtest.ToFloat64(r.StagesFailed.WithLabelValues("api", "mount")), 1.0)
	testutil.AssertEqual(t, promtest.CollectAndCount(r.StageDuration), 1)
}

func TestScalingMetrics(t *testing.T) {
	r := NewRegistry(prometheus.NewRegistry())

	r.Convergence("web", "terminate", 5, 3, -2)
	r.Terminated("web")
	r.Terminated("web")
	r.Exited("web", nil)
	r.Exited("web", errors.New("signal: killed"))
	r.Respawn("web", false)
	r.Respawn("web", true)

	testutil.AssertEqual(t, promtest.ToFloat64(r.WorkersLive.WithLabelValues("web")), 5.0)
	testutil.AssertEqual(t, promtest.ToFloat64(r.ScalingOffset.WithLabelValues("web")), -2.0)
	testutil.AssertEqual(t, promtest.ToFloat64(r.WorkersTerminated.WithLabelValues("web")), 2.0)
	testutil.AssertEqual(t, promtest.ToFloat64(r.WorkerExits.WithLabelValues("web", "clean")), 1.0)
	testutil.AssertEqual(t, promtest.ToFloat64(r.WorkerExits.WithLabelValues("web", "error")), 1.0)
	testutil.AssertEqual(t, promtest.ToFloat64(r.Respawns.WithLabelValues("web")), 2.0)
	testutil.AssertEqual(t, promtest.ToFloat64(r.RespawnsThrottled.WithLabelValues("web")), 1.0)
}

func TestRegistryExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)
	r.Spawned("api")

	expected := `
# HELP goboot_scaler_workers_spawned_total Total number of workers spawned
# TYPE goboot_scaler_workers_spawned_total counter
goboot_scaler_workers_spawned_total{app="api"} 1
`
	err := promtest.GatherAndCompare(reg, strings.NewReader(expected), "goboot_scaler_workers_spawned_total")
	testutil.AssertNoError(t, err)
}

func TestFromConfig(t *testing.T) {
	testutil.AssertEqual(t, FromConfig(Config{Enabled: false}) == nil, true)
	testutil.AssertEqual(t, FromConfig(DefaultConfig()), DefaultRegistry)

	custom := FromConfig(Config{Enabled: true, Registry: prometheus.NewRegistry()})
	testutil.AssertNotEqual(t, custom, DefaultRegistry)
}
