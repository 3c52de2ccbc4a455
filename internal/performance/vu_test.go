package performance

import (
	"context"
	"errors"
	"math/rand"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/trackload/internal/config"
	httpclient "github.com/wesleyorama2/trackload/internal/http"
	"github.com/wesleyorama2/trackload/internal/mocktracker"
	"github.com/wesleyorama2/trackload/internal/performance/metrics"
	"github.com/wesleyorama2/trackload/internal/performance/operation"
	"github.com/wesleyorama2/trackload/internal/performance/profile"
	"github.com/wesleyorama2/trackload/internal/textgen"
	"github.com/wesleyorama2/trackload/internal/tracker"
)

func newConn(t *testing.T, baseURL string) config.ConnectionDescriptor {
	t.Helper()
	conn, _, err := config.NewConnection(config.ConnectionSettings{
		BaseURL:  baseURL,
		Username: "loadtest",
		APIToken: "token",
		Project:  "SOC",
		MinWait:  "0",
		MaxWait:  "0",
	})
	require.NoError(t, err)
	return conn
}

// onlyProfile builds a profile where name has weight 1 and every other
// operation weight 0.
func onlyProfile(t *testing.T, name string) profile.BehaviorProfile {
	t.Helper()
	var catalog []operation.Operation
	for _, n := range []string{operation.CreateEntity, operation.AddNote, operation.FetchDetail,
		operation.Search, operation.UpdateField} {
		weight := 0
		if n == name {
			weight = 1
		}
		catalog = append(catalog, operation.MustNew(n, weight))
	}
	p, err := profile.New("only-"+name, profile.Pacing{}, catalog)
	require.NoError(t, err)
	return p
}

type fixture struct {
	mock      *mocktracker.Server
	stats     *metrics.Engine
	scheduler *VUScheduler
}

func newFixture(t *testing.T, opts mocktracker.Options, profiles ...profile.BehaviorProfile) *fixture {
	t.Helper()
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	mock := mocktracker.New(opts)
	server := httptest.NewServer(mock)
	t.Cleanup(server.Close)

	stats := metrics.NewEngine()
	scheduler, err := NewVUScheduler(SchedulerConfig{
		Conn:     newConn(t, server.URL),
		Profiles: profiles,
		Seed:     7,
		HTTP:     DefaultHTTPClientConfig(),
	}, stats, nil)
	require.NoError(t, err)
	t.Cleanup(func() { scheduler.Shutdown(time.Second) })

	return &fixture{mock: mock, stats: stats, scheduler: scheduler}
}

func TestVirtualUser_InitFailureRunsNothing(t *testing.T) {
	f := newFixture(t, mocktracker.Options{Projects: []string{"OTHER"}},
		onlyProfile(t, operation.CreateEntity))

	vu, err := f.scheduler.SpawnVU()
	require.NoError(t, err)

	err = vu.Run(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInitFailed))

	s := f.stats.GetSnapshot()
	assert.Zero(t, s.TotalOperations)
	assert.Zero(t, s.Cycles)
	assert.Equal(t, int64(1), s.InitFailures)
	assert.Zero(t, f.mock.Calls(mocktracker.EndpointCreate))
	assert.Equal(t, VUStateTerminated, vu.GetState())

	failures := f.stats.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, 404, failures[0].Status)
}

func TestVirtualUser_ThreeCreateCycles(t *testing.T) {
	f := newFixture(t, mocktracker.Options{}, onlyProfile(t, operation.CreateEntity))
	ctx := context.Background()

	vu, err := f.scheduler.SpawnVU()
	require.NoError(t, err)
	require.NoError(t, vu.Init(ctx))

	for i := 0; i < 3; i++ {
		vu.RunCycle(ctx)
	}

	assert.Equal(t, 3, f.mock.Calls(mocktracker.EndpointCreate))
	assert.Equal(t, 3, vu.Pool().Len())
	assert.ElementsMatch(t, []string{"SOC-1", "SOC-2", "SOC-3"}, vu.Pool().Keys())
	assert.Equal(t, int64(3), vu.Cycles())
}

func TestVirtualUser_RunStopsAfterMaxCyclesAndReleasesPool(t *testing.T) {
	f := newFixture(t, mocktracker.Options{}, onlyProfile(t, operation.CreateEntity))

	vu, err := f.scheduler.SpawnVU()
	require.NoError(t, err)
	require.NoError(t, vu.Run(context.Background(), 3))

	s := f.stats.GetSnapshot()
	assert.Equal(t, int64(3), s.Operations[operation.CreateEntity].Success)
	assert.Equal(t, int64(3), s.Cycles)
	assert.Equal(t, 3, f.mock.IssueCount())
	assert.Zero(t, vu.Pool().Len())
	assert.Equal(t, VUStateTerminated, vu.GetState())
	assert.Zero(t, f.stats.ActiveUsers())
}

func TestVirtualUser_EmptyPoolDiscoversOnce(t *testing.T) {
	f := newFixture(t, mocktracker.Options{}, onlyProfile(t, operation.FetchDetail))
	ctx := context.Background()

	vu, err := f.scheduler.SpawnVU()
	require.NoError(t, err)
	require.NoError(t, vu.Init(ctx))
	vu.RunCycle(ctx)

	assert.Equal(t, 1, f.mock.Calls(mocktracker.EndpointSearch))
	assert.Zero(t, f.mock.Calls(mocktracker.EndpointGet))
	_, fetched := f.stats.GetSnapshot().Operations[operation.FetchDetail]
	assert.False(t, fetched)
}

func TestVirtualUser_DiscoverFeedsFetch(t *testing.T) {
	f := newFixture(t, mocktracker.Options{}, onlyProfile(t, operation.FetchDetail))
	f.mock.Seed("SOC", 4)
	ctx := context.Background()

	vu, err := f.scheduler.SpawnVU()
	require.NoError(t, err)
	require.NoError(t, vu.Init(ctx))
	vu.RunCycle(ctx)
	vu.RunCycle(ctx)

	assert.Equal(t, 1, f.mock.Calls(mocktracker.EndpointSearch))
	assert.Equal(t, 2, f.mock.Calls(mocktracker.EndpointGet))
	assert.Equal(t, 4, vu.Pool().Len())
}

func TestVirtualUser_ReadOnlyProfileNeverMutates(t *testing.T) {
	conn := newConn(t, "http://unused.example")
	readonly, err := profile.Builtin("readonly", conn)
	require.NoError(t, err)
	readonly, err = readonly.Derive("readonly-fast", &profile.Pacing{}, nil)
	require.NoError(t, err)

	f := newFixture(t, mocktracker.Options{}, readonly)
	f.mock.Seed("SOC", 5)

	vu, err := f.scheduler.SpawnVU()
	require.NoError(t, err)
	require.NoError(t, vu.Run(context.Background(), 60))

	assert.Zero(t, f.mock.Calls(mocktracker.EndpointCreate))
	assert.Zero(t, f.mock.Calls(mocktracker.EndpointUpdate))
	assert.Zero(t, f.mock.Calls(mocktracker.EndpointComment))
	assert.Positive(t, f.mock.Calls(mocktracker.EndpointGet))
	assert.Positive(t, f.mock.Calls(mocktracker.EndpointSearch))
}

func TestVirtualUser_FailureRateWithinBinomialBounds(t *testing.T) {
	f := newFixture(t, mocktracker.Options{
		FailRate:      0.5,
		FailEndpoints: []string{mocktracker.EndpointCreate},
		Seed:          99,
	}, onlyProfile(t, operation.CreateEntity))

	vu, err := f.scheduler.SpawnVU()
	require.NoError(t, err)
	require.NoError(t, vu.Run(context.Background(), 100))

	create := f.stats.GetSnapshot().Operations[operation.CreateEntity]
	assert.Equal(t, int64(100), create.Total)
	// n=100, p=0.5: sd 5, three sigma
	assert.InDelta(t, 50, create.Failed, 15)
	assert.Equal(t, create.Failed, create.Statuses[500])
}

func TestVirtualUser_DegeneratePacingIsExact(t *testing.T) {
	p, err := onlyProfile(t, operation.CreateEntity).Derive("fixed", &profile.Pacing{
		Min: time.Millisecond,
		Max: time.Millisecond,
	}, nil)
	require.NoError(t, err)
	f := newFixture(t, mocktracker.Options{}, p)

	vu, err := f.scheduler.SpawnVU()
	require.NoError(t, err)

	var waits []time.Duration
	vu.wait = func(_ context.Context, d time.Duration) bool {
		waits = append(waits, d)
		return true
	}
	require.NoError(t, vu.Run(context.Background(), 5))

	// no wait after the final cycle
	require.Len(t, waits, 4)
	for _, d := range waits {
		assert.Equal(t, time.Millisecond, d)
	}
}

func TestVirtualUser_StopBetweenCycles(t *testing.T) {
	p, err := onlyProfile(t, operation.Search).Derive("slow", &profile.Pacing{
		Min: 20 * time.Millisecond,
		Max: 20 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	f := newFixture(t, mocktracker.Options{}, p)

	vu, err := f.scheduler.SpawnVU()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- vu.Run(context.Background(), 0) }()

	require.Eventually(t, func() bool { return vu.Cycles() >= 2 }, 2*time.Second, 5*time.Millisecond)
	vu.RequestStop()
	require.True(t, vu.WaitForStop(time.Second))
	require.NoError(t, <-done)

	after := f.stats.GetSnapshot().TotalOperations
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, f.stats.GetSnapshot().TotalOperations)
	assert.Equal(t, VUStateTerminated, vu.GetState())
}

func TestVirtualUser_ContextCancelStops(t *testing.T) {
	f := newFixture(t, mocktracker.Options{}, onlyProfile(t, operation.Search))
	ctx, cancel := context.WithCancel(context.Background())

	vu, err := f.scheduler.SpawnVU()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- vu.Run(ctx, 0) }()

	require.Eventually(t, func() bool { return vu.Cycles() > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("user did not stop after cancel")
	}
}

// stopOnCreate asks its user to stop while the first create is in flight.
type stopOnCreate struct {
	Tracker
	vu      *VirtualUser
	creates atomic.Int32
}

func (s *stopOnCreate) CreateIssue(ctx context.Context, fields tracker.IssueFields) (tracker.Result, error) {
	if s.creates.Add(1) == 1 {
		s.vu.RequestStop()
	}
	return s.Tracker.CreateIssue(ctx, fields)
}

func TestVirtualUser_StopDuringBatchIssuesNoFurtherCreates(t *testing.T) {
	mock := mocktracker.New(mocktracker.Options{Seed: 1})
	server := httptest.NewServer(mock)
	t.Cleanup(server.Close)
	conn := newConn(t, server.URL)

	p, err := profile.New("batch", profile.Pacing{}, []operation.Operation{
		operation.MustNew(operation.CreateBatch, 1),
	})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	text, err := textgen.New(textgen.LocaleEnglish, rng)
	require.NoError(t, err)

	wrapped := &stopOnCreate{Tracker: tracker.New(httpclient.NewClient(httpclient.WithBaseURL(conn.APIURL())), nil)}
	stats := metrics.NewEngine()
	vu := NewVirtualUser(1, p, conn, wrapped, text, rng, stats, nil)
	wrapped.vu = vu

	require.NoError(t, vu.Run(context.Background(), 0))

	assert.Equal(t, int32(1), wrapped.creates.Load())
	assert.Equal(t, 1, mock.Calls(mocktracker.EndpointCreate))
	assert.Equal(t, int64(1), stats.GetSnapshot().Operations[operation.CreateEntity].Total)
	assert.Equal(t, VUStateTerminated, vu.GetState())
}

func TestVUState_String(t *testing.T) {
	assert.Equal(t, "initializing", VUStateInitializing.String())
	assert.Equal(t, "running", VUStateRunning.String())
	assert.Equal(t, "stopping", VUStateStopping.String())
	assert.Equal(t, "terminated", VUStateTerminated.String())
	assert.Equal(t, "unknown", VUState(42).String())
}

func TestVUScheduler_AssignsProfilesInOrder(t *testing.T) {
	a := onlyProfile(t, operation.CreateEntity)
	b := onlyProfile(t, operation.Search)
	f := newFixture(t, mocktracker.Options{}, a, b)

	var names []string
	for i := 0; i < 4; i++ {
		vu, err := f.scheduler.SpawnVU()
		require.NoError(t, err)
		names = append(names, vu.Profile.Name)
	}
	assert.Equal(t, []string{a.Name, b.Name, a.Name, b.Name}, names)
	assert.Equal(t, 4, f.scheduler.SpawnedCount())
	assert.Equal(t, 4, f.scheduler.GetActiveVUCount())
}

func TestVUScheduler_ShutdownStopsRunningUsers(t *testing.T) {
	f := newFixture(t, mocktracker.Options{}, onlyProfile(t, operation.Search))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		vu, err := f.scheduler.SpawnVU()
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.scheduler.RunVU(ctx, vu, 0)
		}()
	}

	require.Eventually(t, func() bool { return f.stats.ActiveUsers() == 5 }, 2*time.Second, 5*time.Millisecond)
	f.scheduler.Shutdown(2 * time.Second)
	wg.Wait()

	assert.Zero(t, f.scheduler.GetActiveVUCount())
	assert.Zero(t, f.scheduler.WaitForAllVUs(time.Millisecond))
	assert.Zero(t, f.stats.ActiveUsers())
}

func TestNewVUScheduler_Errors(t *testing.T) {
	conn := newConn(t, "http://unused.example")

	_, err := NewVUScheduler(SchedulerConfig{Conn: conn}, metrics.NewEngine(), nil)
	assert.Error(t, err)

	_, err = NewVUScheduler(SchedulerConfig{
		Conn:       conn,
		Profiles:   []profile.BehaviorProfile{onlyProfile(t, operation.Search)},
		TextLocale: "fr",
	}, metrics.NewEngine(), nil)
	assert.Error(t, err)
}
