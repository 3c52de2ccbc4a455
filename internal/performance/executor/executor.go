// Package executor provides load generation strategies for virtual user populations.
package executor

import (
	"context"
	"time"

	"github.com/wesleyorama2/trackload/internal/performance"
	"github.com/wesleyorama2/trackload/internal/performance/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantUsers keeps a fixed population running for a duration, or
	// until stopped when the duration is zero.
	TypeConstantUsers Type = "constant-users"

	// TypePerUserCycles runs a fixed number of cycles per user.
	TypePerUserCycles Type = "per-user-cycles"
)

// DefaultGracefulStop is how long users get to finish in-flight operations
// once the run ends.
const DefaultGracefulStop = 30 * time.Second

// Executor defines the interface for load generation strategies.
//
// Executors control how a population is started and ended. The cycle loop
// itself belongs to the virtual user.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init initializes the executor with configuration.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run starts the executor and blocks until every user has terminated.
	// Cancelling ctx is treated as an external stop.
	Run(ctx context.Context, scheduler *performance.VUScheduler, stats *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop ends the run early and waits for Run to finish.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`

	Users int `json:"users" yaml:"users"`

	// RampUp is the start rate in users per second. Zero starts every user
	// at once.
	RampUp float64 `json:"rampUp,omitempty" yaml:"rampUp,omitempty"`

	// Duration bounds the run. For per-user-cycles it is an optional cap.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Cycles per user, per-user-cycles only.
	Cycles int64 `json:"cycles,omitempty" yaml:"cycles,omitempty"`

	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs  int `json:"activeVUs"`
	TargetVUs  int `json:"targetVUs"`
	SpawnedVUs int `json:"spawnedVUs"`

	Cycles      int64 `json:"cycles"`
	TotalCycles int64 `json:"totalCycles,omitempty"`

	// HardStopped counts users still busy when the graceful stop expired.
	HardStopped int `json:"hardStopped,omitempty"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}
	if c.Users <= 0 {
		return &ValidationError{Field: "users", Message: "users must be > 0"}
	}
	if c.RampUp < 0 {
		return &ValidationError{Field: "rampUp", Message: "rampUp must be >= 0"}
	}
	if c.Duration < 0 {
		return &ValidationError{Field: "duration", Message: "duration must be >= 0"}
	}
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}

	switch c.Type {
	case TypeConstantUsers:
		if c.Cycles != 0 {
			return &ValidationError{Field: "cycles", Message: "cycles is only valid for " + string(TypePerUserCycles)}
		}

	case TypePerUserCycles:
		if c.Cycles <= 0 {
			return &ValidationError{Field: "cycles", Message: "cycles must be > 0"}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	return nil
}

// TotalDuration returns the configured run length. Zero means open-ended.
func (c *Config) TotalDuration() time.Duration {
	return c.Duration
}

// RampUpDuration estimates how long starting every user takes.
func (c *Config) RampUpDuration() time.Duration {
	if c.RampUp <= 0 || c.Users <= 1 {
		return 0
	}
	return time.Duration(float64(c.Users-1) / c.RampUp * float64(time.Second))
}

func (c *Config) gracefulStop() time.Duration {
	if c.GracefulStop == 0 {
		return DefaultGracefulStop
	}
	return c.GracefulStop
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}
