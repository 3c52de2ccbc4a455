package performance

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/trackload/internal/config"
	httpclient "github.com/wesleyorama2/trackload/internal/http"
	"github.com/wesleyorama2/trackload/internal/performance/metrics"
	"github.com/wesleyorama2/trackload/internal/performance/profile"
	"github.com/wesleyorama2/trackload/internal/textgen"
	"github.com/wesleyorama2/trackload/internal/tracker"
)

// HTTPClientConfig contains the transport settings of the shared client.
type HTTPClientConfig struct {
	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	DisableKeepAlives  bool
	InsecureSkipVerify bool
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// SchedulerConfig configures a VUScheduler.
type SchedulerConfig struct {
	Conn config.ConnectionDescriptor

	// Profiles are assigned to users in spawn order, wrapping around.
	Profiles []profile.BehaviorProfile

	// TextLocale selects the text generator. Empty means English.
	TextLocale string

	// Seed derives each user's random source. Zero seeds from the clock.
	Seed int64

	HTTP HTTPClientConfig

	// Tracker replaces the HTTP tracker client. Used by tests.
	Tracker Tracker
}

// VUScheduler manages the lifecycle of Virtual Users.
//
// It provides:
// - VU pool management (spawning/stopping VUs)
// - one tracker client over a shared connection pool
// - Graceful shutdown coordination
//
// The scheduler is used by executors to control VU counts.
type VUScheduler struct {
	cfg     SchedulerConfig
	stats   *metrics.Engine
	logger  *zap.Logger
	tracker Tracker
	http    *httpclient.Client

	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	nextVUID atomic.Int32

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	shutdownWg   sync.WaitGroup
}

// NewVUScheduler creates a new VU scheduler.
func NewVUScheduler(cfg SchedulerConfig, stats *metrics.Engine, logger *zap.Logger) (*VUScheduler, error) {
	if len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("scheduler needs at least one behavior profile")
	}
	if _, err := textgen.New(cfg.TextLocale, rand.New(rand.NewSource(1))); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &VUScheduler{
		cfg:        cfg,
		stats:      stats,
		logger:     logger.With(zap.String("component", "scheduler")),
		vus:        make(map[int]*VirtualUser),
		shutdownCh: make(chan struct{}),
	}

	s.tracker = cfg.Tracker
	if s.tracker == nil {
		s.http = newHTTPClient(cfg.Conn, cfg.HTTP)
		s.tracker = tracker.New(s.http, logger)
	}
	return s, nil
}

// newHTTPClient creates the client shared by every user.
func newHTTPClient(conn config.ConnectionDescriptor, cfg HTTPClientConfig) *httpclient.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return httpclient.NewClient(
		httpclient.WithBaseURL(conn.APIURL()),
		httpclient.WithTimeout(conn.Timeout()),
		httpclient.WithBasicAuth(conn.Username(), conn.Secret()),
		httpclient.WithHeader("User-Agent", tracker.UserAgent),
		httpclient.WithTransport(transport),
	)
}

// Tracker returns the tracker client users share.
func (s *VUScheduler) Tracker() Tracker {
	return s.tracker
}

// SpawnVU creates and registers a new Virtual User.
//
// The VU is not started. The caller is responsible for running it.
func (s *VUScheduler) SpawnVU() (*VirtualUser, error) {
	id := int(s.nextVUID.Add(1))
	p := s.cfg.Profiles[(id-1)%len(s.cfg.Profiles)]

	rng := rand.New(rand.NewSource(s.cfg.Seed + int64(id)))
	text, err := textgen.New(s.cfg.TextLocale, rng)
	if err != nil {
		return nil, err
	}

	vu := NewVirtualUser(id, p, s.cfg.Conn, s.tracker, text, rng, s.stats, s.logger)

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	return vu, nil
}

// GetActiveVUCount returns the count of non-terminated VUs.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateTerminated {
			count++
		}
	}
	return count
}

// SpawnedCount returns how many VUs have been created.
func (s *VUScheduler) SpawnedCount() int {
	return int(s.nextVUID.Load())
}

// StopAllVUs requests all VUs to stop.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// WaitForAllVUs waits for all VUs to terminate with a timeout.
//
// Returns the number of VUs that did not terminate within the timeout.
func (s *VUScheduler) WaitForAllVUs(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)

	s.vusMu.RLock()
	vus := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		vus = append(vus, vu)
	}
	s.vusMu.RUnlock()

	notStopped := 0
	for _, vu := range vus {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			select {
			case <-vu.Done():
			default:
				notStopped++
			}
			continue
		}
		if !vu.WaitForStop(remaining) {
			notStopped++
		}
	}
	return notStopped
}

// RunVU runs a VU to completion. It is a helper for executors.
//
// maxCycles of zero runs until the VU is stopped or ctx is done.
// Initialization failures are already recorded by the VU and are only
// logged here.
func (s *VUScheduler) RunVU(ctx context.Context, vu *VirtualUser, maxCycles int64) {
	s.shutdownWg.Add(1)
	defer s.shutdownWg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.shutdownCh:
			vu.RequestStop()
		case <-ctx.Done():
		}
	}()

	if err := vu.Run(ctx, maxCycles); err != nil {
		s.logger.Debug("user exited early", zap.Int("vu", vu.ID), zap.Error(err))
	}
}

// Shutdown stops all VUs, waits up to timeout for them, then releases idle
// connections.
func (s *VUScheduler) Shutdown(timeout time.Duration) {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
	s.StopAllVUs()

	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn("users still running after shutdown timeout", zap.Duration("timeout", timeout))
	}

	if s.http != nil {
		s.http.CloseIdleConnections()
	}
}
