package metrics

import (
	"fmt"
	"io"
	"math/rand"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/trackload/internal/performance/operation"
)

func outcome(name string, ok bool, latency time.Duration) operation.Outcome {
	o := operation.Outcome{Operation: name, Success: ok, Latency: latency, Status: 201}
	if !ok {
		o.Status = 500
		o.Detail = "status 500"
	}
	return o
}

func TestNewEngine(t *testing.T) {
	engine := NewEngine()
	snapshot := engine.GetSnapshot()

	assert.Zero(t, snapshot.TotalOperations)
	assert.Equal(t, PhaseInit, snapshot.CurrentPhase)
	assert.Empty(t, snapshot.Operations)
	assert.Empty(t, engine.Failures())
}

func TestEngine_Record(t *testing.T) {
	engine := NewEngine()

	engine.Record(1, outcome(operation.CreateEntity, true, 10*time.Millisecond))
	engine.Record(1, outcome(operation.CreateEntity, true, 20*time.Millisecond))
	engine.Record(2, outcome(operation.CreateEntity, false, 30*time.Millisecond))
	engine.Record(2, outcome(operation.Search, true, 5*time.Millisecond))

	snapshot := engine.GetSnapshot()
	assert.Equal(t, int64(4), snapshot.TotalOperations)
	assert.Equal(t, int64(3), snapshot.Succeeded)
	assert.Equal(t, int64(1), snapshot.Failed)
	assert.InDelta(t, 0.25, snapshot.ErrorRate, 1e-9)

	create := snapshot.Operations[operation.CreateEntity]
	assert.Equal(t, int64(3), create.Total)
	assert.Equal(t, int64(2), create.Success)
	assert.Equal(t, int64(1), create.Failed)
	assert.Equal(t, map[int]int64{201: 2, 500: 1}, create.Statuses)
	assert.Equal(t, int64(3), create.Latency.Count)

	failures := engine.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, 2, failures[0].VU)
	assert.Equal(t, operation.CreateEntity, failures[0].Operation)
	assert.Equal(t, 500, failures[0].Status)
}

func TestEngine_LatencyPercentiles(t *testing.T) {
	engine := NewEngine()
	for i := 1; i <= 100; i++ {
		engine.Record(1, outcome(operation.FetchDetail, true, time.Duration(i)*time.Millisecond))
	}

	lat := engine.GetSnapshot().Latency
	assert.InDelta(t, float64(50*time.Millisecond), float64(lat.P50), float64(2*time.Millisecond))
	assert.InDelta(t, float64(99*time.Millisecond), float64(lat.P99), float64(2*time.Millisecond))
	assert.InDelta(t, float64(time.Millisecond), float64(lat.Min), float64(100*time.Microsecond))
}

func TestEngine_FailureRingKeepsMostRecent(t *testing.T) {
	engine := NewEngine(WithMaxFailureSamples(3))
	for i := 0; i < 5; i++ {
		o := outcome(operation.AddNote, false, time.Millisecond)
		o.Key = fmt.Sprintf("SOC-%d", i)
		engine.Record(1, o)
	}

	failures := engine.Failures()
	require.Len(t, failures, 3)
	assert.Equal(t, "SOC-2", failures[0].Key)
	assert.Equal(t, "SOC-4", failures[2].Key)
}

func TestEngine_InitFailuresAndCycles(t *testing.T) {
	engine := NewEngine()
	engine.RecordInitFailure(7, 404, "project not found")
	engine.RecordCycle(false)
	engine.RecordCycle(true)
	engine.UserStarted()
	engine.UserStarted()
	engine.UserStopped()

	s := engine.GetSnapshot()
	assert.Equal(t, int64(1), s.InitFailures)
	assert.Equal(t, int64(2), s.Cycles)
	assert.Equal(t, int64(1), s.IdleCycles)
	assert.Equal(t, 1, s.ActiveUsers)
	assert.Equal(t, int64(2), s.UsersStarted)
	assert.Zero(t, s.TotalOperations)
	require.Len(t, engine.Failures(), 1)
	assert.Equal(t, 7, engine.Failures()[0].VU)
}

func TestEngine_ConcurrentRecord(t *testing.T) {
	engine := NewEngine()
	var wg sync.WaitGroup
	for w := 0; w < 20; w++ {
		wg.Add(1)
		go func(vu int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				engine.Record(vu, outcome(operation.Search, i%5 != 0, time.Millisecond))
			}
		}(w)
	}
	wg.Wait()

	s := engine.GetSnapshot()
	assert.Equal(t, int64(10000), s.TotalOperations)
	assert.Equal(t, int64(2000), s.Failed)
	assert.Equal(t, int64(10000), s.Operations[operation.Search].Total)
}

func TestEngine_BinomialFailureCount(t *testing.T) {
	engine := NewEngine()
	rng := rand.New(rand.NewSource(17))
	for i := 0; i < 100; i++ {
		engine.Record(1, outcome(operation.CreateEntity, rng.Float64() >= 0.5, time.Millisecond))
	}
	// mean 50, sd 5; three sigma
	failed := engine.GetSnapshot().Failed
	assert.InDelta(t, 50, failed, 15)
}

func TestEngine_StopFreezesElapsed(t *testing.T) {
	engine := NewEngine()
	engine.Start()
	time.Sleep(10 * time.Millisecond)
	engine.Stop()

	first := engine.GetSnapshot().Elapsed
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, first, engine.GetSnapshot().Elapsed)
	assert.Equal(t, PhaseDone, engine.GetPhase())
}

func TestCollector(t *testing.T) {
	engine := NewEngine()
	collector := NewCollector(engine)
	engine.UserStarted()

	collector.Observe(1, outcome(operation.CreateEntity, true, 10*time.Millisecond))
	collector.Observe(1, outcome(operation.CreateEntity, false, 10*time.Millisecond))
	collector.Observe(1, outcome(operation.CreateEntity, false, 10*time.Millisecond))

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.operations.WithLabelValues(operation.CreateEntity, "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.operations.WithLabelValues(operation.CreateEntity, "failure")))

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "trackload_operations_total"))
	assert.True(t, strings.Contains(string(body), "trackload_active_users 1"))
}

func TestEngine_NotifiesObserver(t *testing.T) {
	collector := NewCollector(nil)
	engine := NewEngine(WithObserver(collector))

	engine.Record(3, outcome(operation.Search, true, time.Millisecond))

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.operations.WithLabelValues(operation.Search, "success")))
}
