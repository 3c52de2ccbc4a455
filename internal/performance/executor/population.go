package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/trackload/internal/performance"
	"github.com/wesleyorama2/trackload/internal/performance/metrics"
)

// population is the start/stop machinery shared by both executors.
//
// Users run on a context detached from the run's own so that ending the run
// lets in-flight operations finish. That context is only cancelled when the
// graceful stop expires.
type population struct {
	config *Config
	logger *zap.Logger

	mu         sync.Mutex
	startTime  time.Time
	cancelFunc context.CancelFunc
	stats      *metrics.Engine

	running     atomic.Bool
	spawned     atomic.Int32
	hardStopped atomic.Int32

	wg   sync.WaitGroup
	done chan struct{}
}

func (p *population) setup(config *Config, want Type) error {
	if config.Type != want {
		return fmt.Errorf("invalid config type: expected %s, got %s", want, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	p.config = config
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.done = make(chan struct{})
	return nil
}

// run starts the population and blocks until every user has terminated.
func (p *population) run(ctx context.Context, scheduler *performance.VUScheduler, stats *metrics.Engine, maxCycles int64) error {
	if p.config == nil {
		return fmt.Errorf("executor not initialized")
	}
	defer close(p.done)

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if p.config.Duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.config.Duration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	userCtx, hardStop := context.WithCancel(context.WithoutCancel(ctx))
	defer hardStop()

	p.mu.Lock()
	p.startTime = time.Now()
	p.cancelFunc = cancel
	p.stats = stats
	p.mu.Unlock()
	p.running.Store(true)
	defer p.running.Store(false)

	if p.config.RampUp > 0 {
		stats.SetPhase(metrics.PhaseRampUp)
	} else {
		stats.SetPhase(metrics.PhaseSteady)
	}

	if err := p.spawn(runCtx, userCtx, scheduler, maxCycles); err != nil {
		cancel()
		p.stop(scheduler, stats, hardStop)
		return err
	}
	if runCtx.Err() == nil {
		stats.SetPhase(metrics.PhaseSteady)
	}

	allDone := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(allDone)
	}()

	select {
	case <-runCtx.Done():
	case <-allDone:
	}

	p.stop(scheduler, stats, hardStop)
	return nil
}

// spawn starts users, paced by the ramp-up limiter. It stops early when
// runCtx ends.
func (p *population) spawn(runCtx, userCtx context.Context, scheduler *performance.VUScheduler, maxCycles int64) error {
	var limiter *rate.Limiter
	if p.config.RampUp > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.config.RampUp), 1)
	}

	for i := 0; i < p.config.Users; i++ {
		if limiter != nil {
			if err := limiter.Wait(runCtx); err != nil {
				return nil
			}
		} else if runCtx.Err() != nil {
			return nil
		}

		vu, err := scheduler.SpawnVU()
		if err != nil {
			return fmt.Errorf("spawn user %d: %w", i+1, err)
		}
		p.spawned.Add(1)

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			scheduler.RunVU(userCtx, vu, maxCycles)
		}()
	}
	return nil
}

// stop moves every user to Stopping and waits out the graceful period.
// Users still running after that are cut off.
func (p *population) stop(scheduler *performance.VUScheduler, stats *metrics.Engine, hardStop context.CancelFunc) {
	stats.SetPhase(metrics.PhaseStopping)
	scheduler.StopAllVUs()

	graceful := p.config.gracefulStop()
	if left := scheduler.WaitForAllVUs(graceful); left > 0 {
		p.hardStopped.Store(int32(left))
		p.logger.Warn("graceful stop expired, interrupting users",
			zap.Int("users", left),
			zap.Duration("gracefulStop", graceful))
		hardStop()
	}
	p.wg.Wait()
}

// requestStop ends the run early and waits for run to return.
func (p *population) requestStop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancelFunc
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	// run itself enforces the graceful stop; allow for it plus slack.
	timer := time.NewTimer(p.config.gracefulStop() + time.Second)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("graceful stop timeout after %v", p.config.gracefulStop())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *population) activeUsers() int {
	p.mu.Lock()
	stats := p.stats
	p.mu.Unlock()
	if stats == nil {
		return 0
	}
	return stats.ActiveUsers()
}

func (p *population) baseStats() *Stats {
	p.mu.Lock()
	start := p.startTime
	stats := p.stats
	p.mu.Unlock()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}

	s := &Stats{
		StartTime:     start,
		CurrentTime:   time.Now(),
		Elapsed:       elapsed,
		TotalDuration: p.config.TotalDuration(),
		TargetVUs:     p.config.Users,
		SpawnedVUs:    int(p.spawned.Load()),
		HardStopped:   int(p.hardStopped.Load()),
	}
	if stats != nil {
		s.ActiveVUs = stats.ActiveUsers()
		s.Cycles = stats.GetSnapshot().Cycles
	}
	return s
}

func (p *population) elapsed() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startTime.IsZero() {
		return 0, false
	}
	return time.Since(p.startTime), true
}
