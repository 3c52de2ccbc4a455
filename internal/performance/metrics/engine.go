// Package metrics aggregates operation outcomes into run statistics.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/trackload/internal/performance/operation"
)

// DefaultMaxFailureSamples is how many recent failures are retained.
const DefaultMaxFailureSamples = 50

// Histogram range: 1 microsecond to 1 hour, 3 significant figures.
const (
	histMin     = 1
	histMax     = 3600000000
	histSigFigs = 3
)

// Observer is notified of every recorded outcome, e.g. to export it.
type Observer interface {
	Observe(vu int, o operation.Outcome)
}

// Engine is the process-wide outcome aggregator.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters use atomic operations;
// histograms and the failure ring are mutex protected and held only for
// the duration of a single update.
type Engine struct {
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	ops   map[string]*opStats
	opsMu sync.RWMutex

	total        atomic.Int64
	succeeded    atomic.Int64
	failed       atomic.Int64
	cycles       atomic.Int64
	idleCycles   atomic.Int64
	initFailures atomic.Int64
	usersStarted atomic.Int64
	activeUsers  atomic.Int32

	failures    []Failure
	failureNext int
	maxFailures int
	failuresMu  sync.Mutex

	phase   Phase
	phaseMu sync.RWMutex

	startTime time.Time
	endTime   time.Time
	timeMu    sync.RWMutex

	observers []Observer
}

type opStats struct {
	total    atomic.Int64
	success  atomic.Int64
	failed   atomic.Int64
	mu       sync.Mutex
	hist     *hdrhistogram.Histogram
	statuses map[int]int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxFailureSamples sets the size of the failure ring.
func WithMaxFailureSamples(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxFailures = n
		}
	}
}

// WithObserver adds an observer called on every outcome.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// NewEngine creates a new metrics engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		latencyHist: hdrhistogram.New(histMin, histMax, histSigFigs),
		ops:         make(map[string]*opStats),
		maxFailures: DefaultMaxFailureSamples,
		phase:       PhaseInit,
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.failures = make([]Failure, 0, e.maxFailures)
	return e
}

// Record implements operation.Recorder.
func (e *Engine) Record(vu int, o operation.Outcome) {
	micros := clamp(o.Latency.Microseconds())

	e.latencyHistMu.Lock()
	e.latencyHist.RecordValue(micros)
	e.latencyHistMu.Unlock()

	st := e.statsFor(o.Operation)
	st.total.Add(1)
	st.mu.Lock()
	st.hist.RecordValue(micros)
	if o.Status != 0 {
		st.statuses[o.Status]++
	}
	st.mu.Unlock()

	e.total.Add(1)
	if o.Success {
		st.success.Add(1)
		e.succeeded.Add(1)
	} else {
		st.failed.Add(1)
		e.failed.Add(1)
		e.addFailure(Failure{
			Time:      time.Now(),
			VU:        vu,
			Operation: o.Operation,
			Status:    o.Status,
			Key:       o.Key,
			Detail:    o.Detail,
		})
	}

	for _, obs := range e.observers {
		obs.Observe(vu, o)
	}
}

func (e *Engine) statsFor(name string) *opStats {
	e.opsMu.RLock()
	st, ok := e.ops[name]
	e.opsMu.RUnlock()
	if ok {
		return st
	}

	e.opsMu.Lock()
	defer e.opsMu.Unlock()
	if st, ok = e.ops[name]; ok {
		return st
	}
	st = &opStats{
		hist:     hdrhistogram.New(histMin, histMax, histSigFigs),
		statuses: make(map[int]int64),
	}
	e.ops[name] = st
	return st
}

func clamp(micros int64) int64 {
	if micros < histMin {
		return histMin
	}
	if micros > histMax {
		return histMax
	}
	return micros
}

func (e *Engine) addFailure(f Failure) {
	if e.maxFailures == 0 {
		return
	}
	e.failuresMu.Lock()
	defer e.failuresMu.Unlock()

	if len(e.failures) < e.maxFailures {
		e.failures = append(e.failures, f)
		return
	}
	e.failures[e.failureNext] = f
	e.failureNext = (e.failureNext + 1) % e.maxFailures
}

// RecordInitFailure counts a user that never reached Running.
func (e *Engine) RecordInitFailure(vu int, status int, detail string) {
	e.initFailures.Add(1)
	e.addFailure(Failure{
		Time:      time.Now(),
		VU:        vu,
		Operation: "Initialize",
		Status:    status,
		Detail:    detail,
	})
}

// RecordCycle counts a completed cycle; idle marks a cycle with nothing selectable.
func (e *Engine) RecordCycle(idle bool) {
	e.cycles.Add(1)
	if idle {
		e.idleCycles.Add(1)
	}
}

// SetPhase updates the current run phase.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()
	e.phase = phase
}

// GetPhase returns the current run phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.phase
}

// UserStarted increments the running population.
func (e *Engine) UserStarted() {
	e.usersStarted.Add(1)
	e.activeUsers.Add(1)
}

// UserStopped decrements the running population.
func (e *Engine) UserStopped() { e.activeUsers.Add(-1) }

// ActiveUsers returns the number of users currently running.
func (e *Engine) ActiveUsers() int {
	return int(e.activeUsers.Load())
}

// Start resets the clock used for elapsed time and rates.
func (e *Engine) Start() {
	e.timeMu.Lock()
	defer e.timeMu.Unlock()
	e.startTime = time.Now()
	e.endTime = time.Time{}
}

// Stop freezes the clock and marks the run done.
func (e *Engine) Stop() {
	e.timeMu.Lock()
	e.endTime = time.Now()
	e.timeMu.Unlock()
	e.SetPhase(PhaseDone)
}

func (e *Engine) elapsed() (time.Time, time.Duration) {
	e.timeMu.RLock()
	defer e.timeMu.RUnlock()
	if !e.endTime.IsZero() {
		return e.startTime, e.endTime.Sub(e.startTime)
	}
	return e.startTime, time.Since(e.startTime)
}

// Failures returns retained failure samples, oldest first.
func (e *Engine) Failures() []Failure {
	e.failuresMu.Lock()
	defer e.failuresMu.Unlock()

	out := make([]Failure, 0, len(e.failures))
	out = append(out, e.failures[e.failureNext:]...)
	out = append(out, e.failures[:e.failureNext]...)
	return out
}

// GetSnapshot returns a point-in-time snapshot of all statistics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := latencyStats(e.latencyHist)
	e.latencyHistMu.Unlock()

	start, elapsed := e.elapsed()
	total := e.total.Load()
	failed := e.failed.Load()

	rate := 0.0
	if elapsed.Seconds() > 0 {
		rate = float64(total) / elapsed.Seconds()
	}

	return &Snapshot{
		TotalOperations: total,
		Succeeded:       e.succeeded.Load(),
		Failed:          failed,
		ErrorRate:       ratio(failed, total),
		OpsPerSecond:    rate,
		Cycles:          e.cycles.Load(),
		IdleCycles:      e.idleCycles.Load(),
		InitFailures:    e.initFailures.Load(),
		UsersStarted:    e.usersStarted.Load(),
		ActiveUsers:     e.ActiveUsers(),
		Latency:         latency,
		Operations:      e.GetOperationStats(),
		CurrentPhase:    e.GetPhase(),
		Elapsed:         elapsed,
		StartTime:       start,
		Timestamp:       time.Now(),
	}
}

// GetOperationStats returns per-operation statistics.
func (e *Engine) GetOperationStats() map[string]OperationStats {
	e.opsMu.RLock()
	names := make([]string, 0, len(e.ops))
	for name := range e.ops {
		names = append(names, name)
	}
	e.opsMu.RUnlock()
	sort.Strings(names)

	result := make(map[string]OperationStats, len(names))
	for _, name := range names {
		st := e.statsFor(name)

		st.mu.Lock()
		lat := latencyStats(st.hist)
		statuses := make(map[int]int64, len(st.statuses))
		for code, n := range st.statuses {
			statuses[code] = n
		}
		st.mu.Unlock()

		total := st.total.Load()
		failed := st.failed.Load()
		result[name] = OperationStats{
			Name:      name,
			Total:     total,
			Success:   st.success.Load(),
			Failed:    failed,
			ErrorRate: ratio(failed, total),
			Latency:   lat,
			Statuses:  statuses,
		}
	}
	return result
}

func latencyStats(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    time.Duration(h.Min()) * time.Microsecond,
		Max:    time.Duration(h.Max()) * time.Microsecond,
		Mean:   time.Duration(h.Mean()) * time.Microsecond,
		StdDev: time.Duration(h.StdDev()) * time.Microsecond,
		P50:    time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(h.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		Count:  h.TotalCount(),
	}
}

func ratio(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}
