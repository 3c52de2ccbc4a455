// Package engine orchestrates a complete load run: it builds the scheduler
// and executor from a RunConfig, serves live metrics, evaluates thresholds
// and returns a RunResult.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/trackload/internal/config"
	"github.com/wesleyorama2/trackload/internal/performance"
	"github.com/wesleyorama2/trackload/internal/performance/executor"
	"github.com/wesleyorama2/trackload/internal/performance/metrics"
	"github.com/wesleyorama2/trackload/internal/performance/profile"
)

// RunConfig is everything a run needs.
type RunConfig struct {
	Name string
	Conn config.ConnectionDescriptor
	Mix  *profile.Mix

	Users        int
	RampUp       float64
	Duration     time.Duration
	Cycles       int64
	GracefulStop time.Duration

	TextLocale string
	Seed       int64

	MaxErrorRate *float64
	Thresholds   []string

	// MetricsAddr serves Prometheus metrics at /metrics while the run is
	// active. Empty disables it.
	MetricsAddr string

	HTTP performance.HTTPClientConfig

	// Tracker replaces the HTTP tracker client. Used by tests.
	Tracker performance.Tracker
}

// Validate checks the configuration.
func (c *RunConfig) Validate() error {
	if c.Mix == nil {
		return fmt.Errorf("a profile mix is required")
	}
	if c.MaxErrorRate != nil && (*c.MaxErrorRate < 0 || *c.MaxErrorRate > 1) {
		return fmt.Errorf("maxErrorRate must be between 0 and 1, got %v", *c.MaxErrorRate)
	}
	for _, t := range c.Thresholds {
		if err := ValidateThreshold(t); err != nil {
			return err
		}
	}
	return c.executorConfig().Validate()
}

func (c *RunConfig) executorConfig() *executor.Config {
	return &executor.Config{
		Name:         c.Name,
		Type:         executor.TypeFor(c.Cycles),
		Users:        c.Users,
		RampUp:       c.RampUp,
		Duration:     c.Duration,
		Cycles:       c.Cycles,
		GracefulStop: c.GracefulStop,
	}
}

// ProfileShare is how many users ran a profile.
type ProfileShare struct {
	Name  string `json:"name"`
	Users int    `json:"users"`
}

// RunResult contains the complete run results.
type RunResult struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Executor  string        `json:"executor"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	Users    int            `json:"users"`
	Profiles []ProfileShare `json:"profiles"`

	Statistics     *metrics.Snapshot `json:"statistics"`
	InitFailures   int64             `json:"initFailures"`
	FailureSamples []metrics.Failure `json:"failureSamples,omitempty"`
	HardStopped    int               `json:"hardStopped,omitempty"`

	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`
}

// Engine runs a single load test.
//
// Example usage:
//
//	eng, _ := engine.NewEngine(cfg, logger)
//	result, _ := eng.Run(ctx)
//	fmt.Printf("passed: %v\n", result.Passed)
type Engine struct {
	config *RunConfig
	logger *zap.Logger

	stats     *metrics.Engine
	collector *metrics.Collector
	exec      executor.Executor

	mu          sync.RWMutex
	running     bool
	metricsAddr string
}

// NewEngine validates cfg and prepares the statistics engine.
func NewEngine(cfg RunConfig, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = "trackload"
	}
	if cfg.HTTP == (performance.HTTPClientConfig{}) {
		cfg.HTTP = performance.DefaultHTTPClientConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{config: &cfg, logger: logger.With(zap.String("component", "engine"))}

	if cfg.MetricsAddr != "" {
		e.collector = metrics.NewCollector(nil)
		e.stats = metrics.NewEngine(metrics.WithObserver(e.collector))
		e.collector.RegisterEngine(e.stats)
	} else {
		e.stats = metrics.NewEngine()
	}
	return e, nil
}

// Config returns the run configuration.
func (e *Engine) Config() RunConfig {
	return *e.config
}

// Stats returns the live statistics engine.
func (e *Engine) Stats() *metrics.Engine {
	return e.stats
}

// Run executes the load test and blocks until every user has terminated.
// Cancelling ctx stops the run gracefully; the partial result is still
// returned.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}

	profiles := e.config.Mix.Assign(e.config.Users)
	scheduler, err := performance.NewVUScheduler(performance.SchedulerConfig{
		Conn:       e.config.Conn,
		Profiles:   profiles,
		TextLocale: e.config.TextLocale,
		Seed:       e.config.Seed,
		HTTP:       e.config.HTTP,
		Tracker:    e.config.Tracker,
	}, e.stats, e.logger)
	if err != nil {
		return nil, err
	}

	execConfig := e.config.executorConfig()
	exec, err := executor.CreateAndInitExecutor(ctx, execConfig, e.logger)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.exec = exec
	e.mu.Unlock()

	var ln net.Listener
	if e.config.MetricsAddr != "" {
		ln, err = net.Listen("tcp", e.config.MetricsAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", e.config.MetricsAddr, err)
		}
		e.mu.Lock()
		e.metricsAddr = ln.Addr().String()
		e.mu.Unlock()
	}

	e.logger.Info("run starting",
		zap.String("id", id.String()),
		zap.String("executor", string(exec.Type())),
		zap.Int("users", e.config.Users),
		zap.Float64("rampUp", e.config.RampUp),
		zap.Duration("duration", e.config.Duration),
		zap.Int64("cycles", e.config.Cycles),
		zap.Strings("mix", mixLabels(e.config.Mix)))

	start := time.Now()
	e.stats.Start()

	g, gctx := errgroup.WithContext(ctx)
	runDone := make(chan struct{})
	g.Go(func() error {
		defer close(runDone)
		return exec.Run(gctx, scheduler, e.stats)
	})
	if ln != nil {
		srv := e.metricsServer()
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-runDone:
			case <-gctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	runErr := g.Wait()

	scheduler.Shutdown(time.Second)
	e.stats.Stop()
	end := time.Now()

	snapshot := e.stats.GetSnapshot()
	thresholds := evaluateThresholds(e.config, snapshot)
	passed := runErr == nil
	for _, tr := range thresholds {
		if !tr.Passed {
			passed = false
		}
	}

	result := &RunResult{
		ID:             id.String(),
		Name:           e.config.Name,
		Executor:       string(exec.Type()),
		StartTime:      start,
		EndTime:        end,
		Duration:       end.Sub(start),
		Users:          e.config.Users,
		Profiles:       shares(profiles),
		Statistics:     snapshot,
		InitFailures:   snapshot.InitFailures,
		FailureSamples: e.stats.Failures(),
		HardStopped:    exec.GetStats().HardStopped,
		Passed:         passed,
		Thresholds:     thresholds,
	}

	e.logger.Info("run finished",
		zap.String("id", result.ID),
		zap.Duration("duration", result.Duration),
		zap.Int64("operations", snapshot.TotalOperations),
		zap.Int64("failed", snapshot.Failed),
		zap.Bool("passed", passed))

	return result, runErr
}

func (e *Engine) metricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.collector.Handler())
	return &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// MetricsAddr returns the address the metrics endpoint is bound to, once
// the run has started.
func (e *Engine) MetricsAddr() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.metricsAddr
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// GetProgress returns the executor's progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	exec := e.exec
	e.mu.RUnlock()
	if exec == nil {
		return 0
	}
	return exec.GetProgress()
}

// Stop ends a running test early.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.RLock()
	exec := e.exec
	running := e.running
	e.mu.RUnlock()
	if !running || exec == nil {
		return nil
	}
	return exec.Stop(ctx)
}

// mixLabels renders the configured mix as "name:weight" entries.
func mixLabels(m *profile.Mix) []string {
	if m == nil {
		return nil
	}
	entries := m.Entries()
	out := make([]string, 0, len(entries))
	for _, en := range entries {
		out = append(out, fmt.Sprintf("%s:%d", en.Profile.Name, en.Weight))
	}
	return out
}

func shares(profiles []profile.BehaviorProfile) []ProfileShare {
	counts := make(map[string]int)
	for _, p := range profiles {
		counts[p.Name]++
	}
	out := make([]ProfileShare, 0, len(counts))
	for name, n := range counts {
		out = append(out, ProfileShare{Name: name, Users: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
