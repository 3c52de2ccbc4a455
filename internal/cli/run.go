package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wesleyorama2/trackload/internal/config"
	"github.com/wesleyorama2/trackload/internal/history"
	"github.com/wesleyorama2/trackload/internal/performance/engine"
	"github.com/wesleyorama2/trackload/internal/performance/output"
	"github.com/wesleyorama2/trackload/internal/performance/profile"
)

const (
	defaultUsers  = 5
	defaultRampUp = 1.0
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test against the tracker",
		Long: `Start a population of virtual users and run until the duration elapses,
every user has completed --cycles cycles, or the process is interrupted.

Quick mode:
  trackload run --users 10 --ramp-up 2 --duration 5m

Workload file with profile mix and thresholds:
  trackload run --workload soak.yaml --max-error-rate 0.05 --threshold "p95 < 2s"

Flags override values from the workload file.`,
		Args: cobra.NoArgs,
		RunE: runLoadTest,
	}

	f := cmd.Flags()
	f.StringP("workload", "w", "", "Workload file (YAML or JSON)")
	f.String("name", "", "Run name")
	f.IntP("users", "u", defaultUsers, "Number of virtual users")
	f.Float64("ramp-up", defaultRampUp, "Users started per second (0 starts all at once)")
	f.DurationP("duration", "d", 0, "Run duration (0 runs until interrupted)")
	f.Int64("cycles", 0, "Cycles per user; each user stops after this many (--duration then caps the run)")
	f.StringSlice("profile", nil, "Profile mix as name[:weight], e.g. default:3,readonly:1")
	f.String("locale", "", "Text locale for generated content (en, zh)")
	f.String("project", "", "Project key, overrides PROJECT_KEY")
	f.Duration("timeout", 0, "Per-request timeout, overrides REQUEST_TIMEOUT")
	f.Duration("graceful-stop", 0, "Time in-flight operations get to finish at the end of the run (default 30s)")
	f.Float64("max-error-rate", 0, "Fail the run when the error rate exceeds this fraction (0..1)")
	f.StringArray("threshold", nil, `Latency threshold such as "p95 < 500ms" (repeatable)`)
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run, e.g. :9091")
	f.Bool("json", false, "Print the run result as JSON instead of the summary")
	f.StringP("output", "o", "", "Write the run result as JSON to this file")
	f.String("history-db", "", "Save the run summary to this history database")
	f.BoolP("quiet", "q", false, "Disable live progress output, show only the final status")
	f.Int64("seed", 0, "Seed for operation selection and pacing (0 seeds from the clock)")

	return cmd
}

func runLoadTest(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	conn, err := loadConnection(cmd)
	if err != nil {
		return err
	}

	cfg, err := buildRunConfig(cmd.Flags(), conn)
	if err != nil {
		return err
	}

	eng, err := engine.NewEngine(cfg, logger)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	jsonOut, _ := flags.GetBool("json")
	outputPath, _ := flags.GetString("output")
	historyPath, _ := flags.GetString("history-db")
	quiet, _ := flags.GetBool("quiet")

	stdout := cmd.OutOrStdout()
	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName:      cfg.Name,
		ExecutorType:  executorLabel(cfg),
		TotalDuration: cfg.Duration,
		Writer:        stdout,
		Quiet:         quiet || jsonOut,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	console.PrintHeader(cfg.Users)

	followCtx, stopFollow := context.WithCancel(ctx)
	followDone := make(chan struct{})
	go func() {
		defer close(followDone)
		console.Follow(followCtx, func() *output.LiveStats {
			if !eng.IsRunning() {
				return nil
			}
			return output.StatsFromSnapshot(eng.Stats().GetSnapshot(), eng.GetProgress(), cfg.Duration, cfg.Users)
		})
	}()

	result, runErr := eng.Run(ctx)
	stopFollow()
	<-followDone

	if result == nil {
		return runErr
	}
	if runErr != nil {
		logger.Error("run ended with an error", zap.Error(runErr))
		fmt.Fprintf(cmd.ErrOrStderr(), "Error running test: %v\n", runErr)
	}

	if jsonOut {
		if err := output.WriteJSON(stdout, result); err != nil {
			return err
		}
	} else {
		console.PrintSummary(result)
	}

	if outputPath != "" {
		if err := output.WriteJSONFile(outputPath, result); err != nil {
			return err
		}
		if !jsonOut {
			fmt.Fprintf(stdout, "Results written to: %s\n", outputPath)
		}
	}

	if historyPath != "" {
		if err := saveHistory(historyPath, result); err != nil {
			return err
		}
	}

	if runErr != nil || !result.Passed {
		return errRunFailed
	}
	return nil
}

func saveHistory(path string, result *engine.RunResult) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Save(history.RecordFromResult(result)); err != nil {
		return fmt.Errorf("failed to save run history: %w", err)
	}
	return nil
}

func executorLabel(cfg engine.RunConfig) string {
	if cfg.Cycles > 0 {
		if cfg.Duration > 0 {
			return fmt.Sprintf("per-user-cycles, %d cycles, max %s", cfg.Cycles, cfg.Duration)
		}
		return fmt.Sprintf("per-user-cycles, %d cycles", cfg.Cycles)
	}
	return "constant-users"
}

// buildRunConfig merges the workload file and flags into a RunConfig.
// Explicitly set flags win over the workload, which wins over flag defaults.
func buildRunConfig(flags *pflag.FlagSet, conn config.ConnectionDescriptor) (engine.RunConfig, error) {
	w := &config.Workload{}
	workloadPath, _ := flags.GetString("workload")
	if workloadPath != "" {
		loaded, err := config.LoadWorkload(workloadPath)
		if err != nil {
			return engine.RunConfig{}, err
		}
		w = loaded
	}
	fromFile := workloadPath != ""

	name, _ := flags.GetString("name")
	if name == "" {
		name = w.Name
	}

	users, _ := flags.GetInt("users")
	if !flags.Changed("users") && w.Users > 0 {
		users = w.Users
	}

	rampUp, _ := flags.GetFloat64("ramp-up")
	if !flags.Changed("ramp-up") && fromFile {
		rampUp = w.RampUp
	}

	duration, _ := flags.GetDuration("duration")
	if !flags.Changed("duration") && fromFile {
		duration = time.Duration(w.Duration)
	}
	cycles, _ := flags.GetInt64("cycles")
	if !flags.Changed("cycles") && fromFile {
		cycles = int64(w.Cycles)
	}
	if cycles < 0 {
		return engine.RunConfig{}, fmt.Errorf("--cycles must not be negative")
	}

	gracefulStop, _ := flags.GetDuration("graceful-stop")
	if !flags.Changed("graceful-stop") {
		gracefulStop = time.Duration(w.GracefulStop)
	}

	locale, _ := flags.GetString("locale")
	if locale == "" {
		locale = w.TextLocale
	}

	maxErrorRate := w.MaxErrorRate
	if flags.Changed("max-error-rate") {
		v, _ := flags.GetFloat64("max-error-rate")
		maxErrorRate = &v
	}

	thresholds := w.Thresholds
	if flags.Changed("threshold") {
		thresholds, _ = flags.GetStringArray("threshold")
	}

	if project, _ := flags.GetString("project"); project != "" {
		conn = conn.WithProject(project)
	} else if w.Project != "" {
		conn = conn.WithProject(w.Project)
	}
	timeout, _ := flags.GetDuration("timeout")
	if timeout == 0 {
		timeout = time.Duration(w.Timeout)
	}
	conn = conn.WithTimeout(timeout)

	specs := w.Profiles
	if flags.Changed("profile") {
		raw, _ := flags.GetStringSlice("profile")
		parsed, err := parseProfileFlags(raw)
		if err != nil {
			return engine.RunConfig{}, err
		}
		specs = parsed
	}
	mix, err := profile.FromWorkload(specs, conn)
	if err != nil {
		return engine.RunConfig{}, err
	}

	metricsAddr, _ := flags.GetString("metrics-addr")
	seed, _ := flags.GetInt64("seed")

	return engine.RunConfig{
		Name:         name,
		Conn:         conn,
		Mix:          mix,
		Users:        users,
		RampUp:       rampUp,
		Duration:     duration,
		Cycles:       cycles,
		GracefulStop: gracefulStop,
		TextLocale:   locale,
		Seed:         seed,
		MaxErrorRate: maxErrorRate,
		Thresholds:   thresholds,
		MetricsAddr:  metricsAddr,
	}, nil
}

// parseProfileFlags parses "name[:weight]" entries. A missing weight is 1.
func parseProfileFlags(values []string) ([]config.ProfileSpec, error) {
	specs := make([]config.ProfileSpec, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}

		name, weightStr, hasWeight := strings.Cut(v, ":")
		weight := 1
		if hasWeight {
			n, err := strconv.Atoi(weightStr)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid profile weight in %q", v)
			}
			weight = n
		}
		specs = append(specs, config.ProfileSpec{Name: name, Weight: weight})
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("--profile needs at least one profile name")
	}
	return specs, nil
}
