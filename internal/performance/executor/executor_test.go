package executor_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/trackload/internal/config"
	"github.com/wesleyorama2/trackload/internal/mocktracker"
	"github.com/wesleyorama2/trackload/internal/performance"
	"github.com/wesleyorama2/trackload/internal/performance/executor"
	"github.com/wesleyorama2/trackload/internal/performance/metrics"
	"github.com/wesleyorama2/trackload/internal/performance/operation"
	"github.com/wesleyorama2/trackload/internal/performance/profile"
)

func newScheduler(t *testing.T, mock *mocktracker.Server, pacing profile.Pacing, ops ...operation.Operation) (*performance.VUScheduler, *metrics.Engine) {
	t.Helper()
	server := httptest.NewServer(mock)
	t.Cleanup(server.Close)

	conn, _, err := config.NewConnection(config.ConnectionSettings{
		BaseURL:  server.URL,
		Username: "loadtest",
		APIToken: "token",
		Project:  "SOC",
	})
	require.NoError(t, err)

	p, err := profile.New("test", pacing, ops)
	require.NoError(t, err)

	stats := metrics.NewEngine()
	scheduler, err := performance.NewVUScheduler(performance.SchedulerConfig{
		Conn:     conn,
		Profiles: []profile.BehaviorProfile{p},
		Seed:     3,
		HTTP:     performance.DefaultHTTPClientConfig(),
	}, stats, nil)
	require.NoError(t, err)
	return scheduler, stats
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  executor.Config
		wantErr string
	}{
		{"valid constant", executor.Config{Type: executor.TypeConstantUsers, Users: 2, Duration: time.Second}, ""},
		{"open-ended constant", executor.Config{Type: executor.TypeConstantUsers, Users: 2}, ""},
		{"valid cycles", executor.Config{Type: executor.TypePerUserCycles, Users: 1, Cycles: 3}, ""},
		{"missing type", executor.Config{Users: 1}, "type"},
		{"unknown type", executor.Config{Type: "ramping", Users: 1}, "type"},
		{"no users", executor.Config{Type: executor.TypeConstantUsers}, "users"},
		{"negative ramp", executor.Config{Type: executor.TypeConstantUsers, Users: 1, RampUp: -1}, "rampUp"},
		{"negative duration", executor.Config{Type: executor.TypeConstantUsers, Users: 1, Duration: -time.Second}, "duration"},
		{"cycles on constant", executor.Config{Type: executor.TypeConstantUsers, Users: 1, Cycles: 2}, "cycles"},
		{"zero cycles", executor.Config{Type: executor.TypePerUserCycles, Users: 1}, "cycles"},
		{"negative graceful", executor.Config{Type: executor.TypePerUserCycles, Users: 1, Cycles: 1, GracefulStop: -1}, "gracefulStop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var ve *executor.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.wantErr, ve.Field)
		})
	}
}

func TestConfig_RampUpDuration(t *testing.T) {
	c := executor.Config{Users: 11, RampUp: 2}
	assert.Equal(t, 5*time.Second, c.RampUpDuration())

	c.RampUp = 0
	assert.Zero(t, c.RampUpDuration())
}

func TestNewExecutor(t *testing.T) {
	for _, typ := range executor.GetSupportedExecutors() {
		e, err := executor.NewExecutor(typ, nil)
		require.NoError(t, err)
		assert.Equal(t, typ, e.Type())
		assert.NotNil(t, executor.GetExecutorDescription(typ))
	}

	_, err := executor.NewExecutor("constant-arrival-rate", nil)
	assert.Error(t, err)
	assert.Nil(t, executor.GetExecutorDescription("nope"))
}

func TestTypeFor(t *testing.T) {
	assert.Equal(t, executor.TypePerUserCycles, executor.TypeFor(3))
	assert.Equal(t, executor.TypeConstantUsers, executor.TypeFor(0))
}

func TestInit_WrongType(t *testing.T) {
	e := executor.NewConstantUsers(nil)
	err := e.Init(context.Background(), &executor.Config{Type: executor.TypePerUserCycles, Users: 1, Cycles: 1})
	assert.Error(t, err)
}

func TestPerUserCycles_RunsExactCycles(t *testing.T) {
	mock := mocktracker.New(mocktracker.Options{Seed: 1})
	scheduler, stats := newScheduler(t, mock, profile.Pacing{}, operation.MustNew(operation.CreateEntity, 1))

	exec, err := executor.CreateAndInitExecutor(context.Background(), &executor.Config{
		Type:   executor.TypePerUserCycles,
		Users:  3,
		Cycles: 4,
	}, nil)
	require.NoError(t, err)

	require.NoError(t, exec.Run(context.Background(), scheduler, stats))

	s := stats.GetSnapshot()
	assert.Equal(t, int64(12), s.Cycles)
	assert.Equal(t, int64(12), s.Operations[operation.CreateEntity].Total)
	assert.Equal(t, 12, mock.Calls(mocktracker.EndpointCreate))
	assert.Equal(t, 1.0, exec.GetProgress())

	es := exec.GetStats()
	assert.Equal(t, 3, es.SpawnedVUs)
	assert.Equal(t, int64(12), es.TotalCycles)
	assert.Zero(t, es.ActiveVUs)
	assert.Zero(t, scheduler.GetActiveVUCount())
}

func TestPerUserCycles_DurationCapsRun(t *testing.T) {
	mock := mocktracker.New(mocktracker.Options{Seed: 1})
	scheduler, stats := newScheduler(t, mock, profile.Pacing{Min: 20 * time.Millisecond, Max: 20 * time.Millisecond},
		operation.MustNew(operation.Search, 1))

	exec, err := executor.CreateAndInitExecutor(context.Background(), &executor.Config{
		Type:     executor.TypePerUserCycles,
		Users:    2,
		Cycles:   1000,
		Duration: 150 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, exec.Run(context.Background(), scheduler, stats))
	assert.Less(t, time.Since(start), 2*time.Second)

	cycles := stats.GetSnapshot().Cycles
	assert.Positive(t, cycles)
	assert.Less(t, cycles, int64(2000))
	assert.Zero(t, scheduler.GetActiveVUCount())
}

func TestConstantUsers_RunsForDuration(t *testing.T) {
	mock := mocktracker.New(mocktracker.Options{Seed: 1})
	scheduler, stats := newScheduler(t, mock, profile.Pacing{Min: 5 * time.Millisecond, Max: 10 * time.Millisecond},
		operation.MustNew(operation.Search, 1))

	exec, err := executor.CreateAndInitExecutor(context.Background(), &executor.Config{
		Type:     executor.TypeConstantUsers,
		Users:    3,
		Duration: 200 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, exec.Run(context.Background(), scheduler, stats))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	total := stats.GetSnapshot().TotalOperations
	assert.Positive(t, total)
	assert.Zero(t, scheduler.GetActiveVUCount())
	assert.Equal(t, metrics.PhaseStopping, stats.GetPhase())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, total, stats.GetSnapshot().TotalOperations, "no operation after the run ended")
}

func TestConstantUsers_RampUpStaggersStarts(t *testing.T) {
	mock := mocktracker.New(mocktracker.Options{Seed: 1})
	scheduler, stats := newScheduler(t, mock, profile.Pacing{Min: 5 * time.Millisecond, Max: 5 * time.Millisecond},
		operation.MustNew(operation.Search, 1))

	exec, err := executor.CreateAndInitExecutor(context.Background(), &executor.Config{
		Type:     executor.TypeConstantUsers,
		Users:    3,
		RampUp:   10,
		Duration: time.Second,
	}, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- exec.Run(context.Background(), scheduler, stats) }()

	// 10 users/s: the third user starts about 200ms in.
	time.Sleep(50 * time.Millisecond)
	assert.Less(t, scheduler.SpawnedCount(), 3)
	require.Eventually(t, func() bool { return scheduler.SpawnedCount() == 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, <-done)
}

func TestConstantUsers_OpenEndedStopsOnCancel(t *testing.T) {
	mock := mocktracker.New(mocktracker.Options{Seed: 1})
	scheduler, stats := newScheduler(t, mock, profile.Pacing{Min: time.Millisecond, Max: 5 * time.Millisecond},
		operation.MustNew(operation.Search, 1))

	exec, err := executor.CreateAndInitExecutor(context.Background(), &executor.Config{
		Type:  executor.TypeConstantUsers,
		Users: 2,
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- exec.Run(ctx, scheduler, stats) }()

	require.Eventually(t, func() bool { return stats.GetSnapshot().TotalOperations > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, exec.GetProgress())
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	assert.Zero(t, stats.ActiveUsers())
}

func TestConstantUsers_Stop(t *testing.T) {
	mock := mocktracker.New(mocktracker.Options{Seed: 1})
	scheduler, stats := newScheduler(t, mock, profile.Pacing{Min: time.Millisecond, Max: time.Millisecond},
		operation.MustNew(operation.Search, 1))

	exec, err := executor.CreateAndInitExecutor(context.Background(), &executor.Config{
		Type:  executor.TypeConstantUsers,
		Users: 2,
	}, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- exec.Run(context.Background(), scheduler, stats) }()

	require.Eventually(t, func() bool { return exec.GetActiveVUs() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, exec.Stop(context.Background()))
	require.NoError(t, <-done)
}

func TestConstantUsers_AllInitFailuresEndRun(t *testing.T) {
	mock := mocktracker.New(mocktracker.Options{Seed: 1, Projects: []string{"OTHER"}})
	scheduler, stats := newScheduler(t, mock, profile.Pacing{}, operation.MustNew(operation.CreateEntity, 1))

	exec, err := executor.CreateAndInitExecutor(context.Background(), &executor.Config{
		Type:  executor.TypeConstantUsers,
		Users: 4,
	}, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- exec.Run(context.Background(), scheduler, stats) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run with no initialized users did not end")
	}

	s := stats.GetSnapshot()
	assert.Equal(t, int64(4), s.InitFailures)
	assert.Zero(t, s.TotalOperations)
	assert.Zero(t, mock.Calls(mocktracker.EndpointCreate))
}

func TestGracefulStopExpiryInterruptsUsers(t *testing.T) {
	// Every call, including the project read, outlasts the graceful stop.
	mock := mocktracker.New(mocktracker.Options{Seed: 1, Latency: 2 * time.Second})
	scheduler, stats := newScheduler(t, mock, profile.Pacing{}, operation.MustNew(operation.Search, 1))

	exec, err := executor.CreateAndInitExecutor(context.Background(), &executor.Config{
		Type:         executor.TypeConstantUsers,
		Users:        2,
		Duration:     50 * time.Millisecond,
		GracefulStop: 50 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, exec.Run(context.Background(), scheduler, stats))

	assert.Less(t, time.Since(start), 1500*time.Millisecond)
	assert.Equal(t, 2, exec.GetStats().HardStopped)
	assert.Zero(t, stats.GetSnapshot().TotalOperations, "interrupted calls are not outcomes")
}
