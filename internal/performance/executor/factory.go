package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// NewExecutor creates a new executor of the specified type.
//
// Returns an uninitialized executor. Call Init() before Run().
func NewExecutor(executorType Type, logger *zap.Logger) (Executor, error) {
	switch executorType {
	case TypeConstantUsers:
		return NewConstantUsers(logger), nil
	case TypePerUserCycles:
		return NewPerUserCycles(logger), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(ctx context.Context, cfg *Config, logger *zap.Logger) (Executor, error) {
	exec, err := NewExecutor(cfg.Type, logger)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// TypeFor picks the executor for a run: a cycle count selects
// per-user-cycles, anything else constant-users.
func TypeFor(cycles int64) Type {
	if cycles > 0 {
		return TypePerUserCycles
	}
	return TypeConstantUsers
}

// GetSupportedExecutors returns a list of all supported executor types.
func GetSupportedExecutors() []Type {
	return []Type{TypeConstantUsers, TypePerUserCycles}
}

// ExecutorDescription provides documentation for an executor type.
type ExecutorDescription struct {
	Type        Type
	Name        string
	Description string
}

// GetExecutorDescription returns documentation for an executor type.
func GetExecutorDescription(executorType Type) *ExecutorDescription {
	switch executorType {
	case TypeConstantUsers:
		return &ExecutorDescription{
			Type:        TypeConstantUsers,
			Name:        "Constant Users",
			Description: "Keeps a fixed population cycling for a duration, or until interrupted when no duration is set.",
		}
	case TypePerUserCycles:
		return &ExecutorDescription{
			Type:        TypePerUserCycles,
			Name:        "Per-User Cycles",
			Description: "Each user runs an exact number of operation cycles and then terminates.",
		}
	default:
		return nil
	}
}
