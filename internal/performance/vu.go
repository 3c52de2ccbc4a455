// Package performance runs populations of virtual users against the tracker.
package performance

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/trackload/internal/config"
	"github.com/wesleyorama2/trackload/internal/performance/keypool"
	"github.com/wesleyorama2/trackload/internal/performance/metrics"
	"github.com/wesleyorama2/trackload/internal/performance/operation"
	"github.com/wesleyorama2/trackload/internal/performance/profile"
	"github.com/wesleyorama2/trackload/internal/textgen"
	"github.com/wesleyorama2/trackload/internal/tracker"
)

// ErrInitFailed is returned when a user's connectivity check fails.
var ErrInitFailed = errors.New("user initialization failed")

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateInitializing indicates the VU is validating its connection.
	VUStateInitializing VUState = iota
	// VUStateRunning indicates the VU is running operation cycles.
	VUStateRunning
	// VUStateStopping indicates the VU has been asked to stop and will not
	// select another operation.
	VUStateStopping
	// VUStateTerminated indicates the VU has released its resources.
	VUStateTerminated
)

func (s VUState) String() string {
	switch s {
	case VUStateInitializing:
		return "initializing"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Tracker is the tracker API a virtual user needs: the operations plus the
// project read used as its connectivity check.
type Tracker interface {
	operation.Tracker
	GetProject(ctx context.Context, key string) (tracker.Project, error)
}

// VirtualUser is a single simulated actor.
//
// Each VU owns its Entity Key Pool, random source and text generator. Only
// the tracker client and the statistics engine are shared.
type VirtualUser struct {
	ID      int
	Profile profile.BehaviorProfile

	tracker  Tracker
	stats    *metrics.Engine
	env      *operation.Env
	selector *profile.Selector
	logger   *zap.Logger

	state  atomic.Int32
	cycles atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	doneOnce sync.Once

	// wait suspends between cycles. It returns false if the user should
	// stop instead of starting another cycle.
	wait func(ctx context.Context, d time.Duration) bool
}

// NewVirtualUser creates a user in the Initializing state.
func NewVirtualUser(id int, p profile.BehaviorProfile, conn config.ConnectionDescriptor, t Tracker,
	text textgen.Generator, rng *rand.Rand, stats *metrics.Engine, logger *zap.Logger) *VirtualUser {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.Int("vu", id), zap.String("profile", p.Name))

	vu := &VirtualUser{
		ID:       id,
		Profile:  p,
		tracker:  t,
		stats:    stats,
		selector: p.NewSelector(),
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	vu.env = &operation.Env{
		VU:       id,
		Conn:     conn,
		Tracker:  t,
		Pool:     keypool.NewWithRand(rng),
		Text:     text,
		Rand:     rng,
		Queries:  p.Queries,
		Recorder: stats,
		Logger:   logger,
		Stopping: vu.stopRequested,
	}
	vu.wait = vu.sleep
	return vu
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// Cycles returns the number of cycles completed so far, idle ones included.
func (vu *VirtualUser) Cycles() int64 {
	return vu.cycles.Load()
}

// Pool exposes the user's Entity Key Pool. It must only be read from the
// goroutine running the user, or after the user has terminated.
func (vu *VirtualUser) Pool() *keypool.Pool {
	return vu.env.Pool
}

// Init performs the connectivity check. On failure the user records an
// initialization failure and must not run.
func (vu *VirtualUser) Init(ctx context.Context) error {
	project := vu.env.Conn.ProjectKey()
	p, err := vu.tracker.GetProject(ctx, project)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return fmt.Errorf("vu %d: %w", vu.ID, err)
		}
		detail := err.Error()
		if p.Status != 0 {
			detail = fmt.Sprintf("status %d", p.Status)
		}
		vu.stats.RecordInitFailure(vu.ID, p.Status, detail)
		vu.logger.Warn("user initialization failed",
			zap.String("project", project),
			zap.Int("status", p.Status),
			zap.Error(err))
		return fmt.Errorf("vu %d: %w: %v", vu.ID, ErrInitFailed, err)
	}

	vu.logger.Debug("user initialized", zap.String("project", p.ProjKey))
	return nil
}

// RunCycle selects one operation and executes it. A profile with nothing
// selectable yields an idle cycle.
func (vu *VirtualUser) RunCycle(ctx context.Context) {
	op, ok := vu.selector.Pick(vu.env.Rand)
	if !ok {
		vu.cycles.Add(1)
		vu.stats.RecordCycle(true)
		return
	}

	op.Run(ctx, vu.env)
	vu.cycles.Add(1)
	vu.stats.RecordCycle(false)
}

// Run drives the user through its lifecycle. maxCycles of zero means run
// until stopped or ctx is done. The user is terminated when Run returns.
func (vu *VirtualUser) Run(ctx context.Context, maxCycles int64) error {
	defer vu.terminate()

	if vu.stopping(ctx) {
		return nil
	}
	if err := vu.Init(ctx); err != nil {
		return err
	}
	if !vu.state.CompareAndSwap(int32(VUStateInitializing), int32(VUStateRunning)) {
		// Stopped while initializing.
		return nil
	}

	vu.stats.UserStarted()
	defer vu.stats.UserStopped()

	for {
		if vu.stopping(ctx) {
			return nil
		}

		vu.RunCycle(ctx)

		if maxCycles > 0 && vu.cycles.Load() >= maxCycles {
			return nil
		}
		if !vu.wait(ctx, vu.Profile.Pacing.Next(vu.env.Rand)) {
			return nil
		}
	}
}

func (vu *VirtualUser) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-vu.stopCh:
		return true
	default:
		return false
	}
}

func (vu *VirtualUser) stopRequested() bool {
	select {
	case <-vu.stopCh:
		return true
	default:
		return false
	}
}

func (vu *VirtualUser) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !vu.stopping(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-vu.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// RequestStop signals the VU to stop after the in-flight operation.
func (vu *VirtualUser) RequestStop() {
	for {
		s := vu.state.Load()
		if VUState(s) == VUStateStopping || VUState(s) == VUStateTerminated {
			break
		}
		if vu.state.CompareAndSwap(s, int32(VUStateStopping)) {
			break
		}
	}
	vu.stopOnce.Do(func() { close(vu.stopCh) })
}

// terminate releases the pool and marks the user done.
func (vu *VirtualUser) terminate() {
	vu.doneOnce.Do(func() {
		vu.env.Pool.Release()
		vu.state.Store(int32(VUStateTerminated))
		close(vu.doneCh)
	})
}

// Done is closed once the user has terminated.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// WaitForStop waits for the VU to terminate with a timeout.
//
// Returns true if the VU terminated within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}
