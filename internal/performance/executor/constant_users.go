package executor

import (
	"context"

	"go.uber.org/zap"

	"github.com/wesleyorama2/trackload/internal/performance"
	"github.com/wesleyorama2/trackload/internal/performance/metrics"
)

// ConstantUsers runs a fixed population for a specified duration.
//
// Users are started at the ramp-up rate and keep cycling until the duration
// expires, the context is cancelled or Stop is called. A zero duration runs
// until stopped.
type ConstantUsers struct {
	population
}

// NewConstantUsers creates a new constant users executor.
func NewConstantUsers(logger *zap.Logger) *ConstantUsers {
	return &ConstantUsers{population: population{logger: logger}}
}

// Type returns the executor type.
func (e *ConstantUsers) Type() Type {
	return TypeConstantUsers
}

// Init initializes the executor with configuration.
func (e *ConstantUsers) Init(_ context.Context, config *Config) error {
	return e.setup(config, TypeConstantUsers)
}

// Run starts the executor and blocks until completion.
func (e *ConstantUsers) Run(ctx context.Context, scheduler *performance.VUScheduler, stats *metrics.Engine) error {
	return e.run(ctx, scheduler, stats, 0)
}

// GetProgress returns elapsed time over the duration. Open-ended runs
// report 0 until they finish.
func (e *ConstantUsers) GetProgress() float64 {
	elapsed, started := e.elapsed()
	if !started {
		return 0.0
	}
	if !e.running.Load() {
		return 1.0
	}
	if e.config.Duration <= 0 {
		return 0.0
	}

	progress := float64(elapsed) / float64(e.config.Duration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (e *ConstantUsers) GetActiveVUs() int {
	return e.activeUsers()
}

// GetStats returns executor statistics.
func (e *ConstantUsers) GetStats() *Stats {
	return e.baseStats()
}

// Stop gracefully stops the executor.
func (e *ConstantUsers) Stop(ctx context.Context) error {
	return e.requestStop(ctx)
}

// Ensure ConstantUsers implements Executor
var _ Executor = (*ConstantUsers)(nil)
