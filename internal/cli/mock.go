package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/trackload/internal/mocktracker"
)

func newMockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Serve an in-memory tracker for local smoke tests",
		Long: `Serve the project, issue, comment and search endpoints from memory.

  trackload mock --port 8089 --fail-rate 0.1 --latency 20ms

Point a run at it with JIRA_BASE_URL=http://127.0.0.1:8089 and any
username and token.`,
		Args: cobra.NoArgs,
		RunE: runMock,
	}

	f := cmd.Flags()
	f.String("host", "127.0.0.1", "Interface to listen on")
	f.IntP("port", "p", 8089, "Port to listen on")
	f.Float64("fail-rate", 0, "Probability of answering 500 (0..1)")
	f.StringSlice("fail-endpoint", nil, "Endpoints eligible for failures: project, create, get, comment, update, search")
	f.Duration("latency", 0, "Latency added to every response")
	f.StringSlice("projects", nil, "Project keys that exist (default: any key)")
	f.String("seed-project", "TEST", "Project that receives --seed-issues")
	f.Int("seed-issues", 0, "Issues created at startup so reads and searches have data")
	f.Int64("seed", 0, "Seed for failure injection (0 seeds from the clock)")
	return cmd
}

func runMock(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	f := cmd.Flags()
	host, _ := f.GetString("host")
	port, _ := f.GetInt("port")
	failRate, _ := f.GetFloat64("fail-rate")
	failEndpoints, _ := f.GetStringSlice("fail-endpoint")
	latency, _ := f.GetDuration("latency")
	projects, _ := f.GetStringSlice("projects")
	seedProject, _ := f.GetString("seed-project")
	seedIssues, _ := f.GetInt("seed-issues")
	seed, _ := f.GetInt64("seed")

	if failRate < 0 || failRate > 1 {
		return fmt.Errorf("--fail-rate must be between 0 and 1, got %v", failRate)
	}

	server := mocktracker.New(mocktracker.Options{
		Projects:      projects,
		FailRate:      failRate,
		FailEndpoints: failEndpoints,
		Latency:       latency,
		Seed:          seed,
		Logger:        logger,
	})
	if seedIssues > 0 {
		server.Seed(seedProject, seedIssues)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serveMock(ctx, net.JoinHostPort(host, strconv.Itoa(port)), server, cmd.OutOrStdout(), logger, nil)
}

// serveMock serves handler on addr until ctx is done. ready, when set,
// receives the bound address.
func serveMock(ctx context.Context, addr string, handler http.Handler, w io.Writer, logger *zap.Logger, ready func(string)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	bound := ln.Addr().String()
	fmt.Fprintf(w, "Mock tracker listening on http://%s%s\n", bound, mocktracker.DefaultBasePath)
	logger.Info("mock tracker started", zap.String("addr", bound))
	if ready != nil {
		ready(bound)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("mock tracker stopped")
	return err
}
