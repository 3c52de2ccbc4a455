package executor

import (
	"context"

	"go.uber.org/zap"

	"github.com/wesleyorama2/trackload/internal/performance"
	"github.com/wesleyorama2/trackload/internal/performance/metrics"
)

// PerUserCycles runs exactly Cycles cycles in each user, then lets the user
// terminate. The run ends when the last user does, or earlier if the
// optional duration cap expires.
type PerUserCycles struct {
	population
}

// NewPerUserCycles creates a new per-user-cycles executor.
func NewPerUserCycles(logger *zap.Logger) *PerUserCycles {
	return &PerUserCycles{population: population{logger: logger}}
}

// Type returns the executor type.
func (e *PerUserCycles) Type() Type {
	return TypePerUserCycles
}

// Init initializes the executor with configuration.
func (e *PerUserCycles) Init(_ context.Context, config *Config) error {
	return e.setup(config, TypePerUserCycles)
}

// Run starts the executor and blocks until completion.
func (e *PerUserCycles) Run(ctx context.Context, scheduler *performance.VUScheduler, stats *metrics.Engine) error {
	return e.run(ctx, scheduler, stats, e.config.Cycles)
}

// GetProgress returns completed cycles over the planned total.
func (e *PerUserCycles) GetProgress() float64 {
	if _, started := e.elapsed(); !started {
		return 0.0
	}
	if !e.running.Load() {
		return 1.0
	}

	total := e.totalCycles()
	progress := float64(e.baseStats().Cycles) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

func (e *PerUserCycles) totalCycles() int64 {
	return int64(e.config.Users) * e.config.Cycles
}

// GetActiveVUs returns current active VU count.
func (e *PerUserCycles) GetActiveVUs() int {
	return e.activeUsers()
}

// GetStats returns executor statistics.
func (e *PerUserCycles) GetStats() *Stats {
	s := e.baseStats()
	s.TotalCycles = e.totalCycles()
	return s
}

// Stop gracefully stops the executor.
func (e *PerUserCycles) Stop(ctx context.Context) error {
	return e.requestStop(ctx)
}

// Ensure PerUserCycles implements Executor
var _ Executor = (*PerUserCycles)(nil)
