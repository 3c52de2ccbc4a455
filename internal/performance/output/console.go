// Package output renders live progress and the final run summary to the
// console, and writes run results as JSON.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/trackload/internal/performance/engine"
	"github.com/wesleyorama2/trackload/internal/performance/metrics"
)

const (
	clearLine = "\r\033[2K"

	ruleChar       = "━"
	progressFilled = "█"
	progressEmpty  = "░"

	// maxSummaryFailures caps the failure samples printed in the summary.
	// The JSON result carries all of them.
	maxSummaryFailures = 10
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	// Progress is 0.0 to 1.0, or 0 for an open-ended run.
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveUsers int
	TargetUsers int

	Operations   int64
	Failures     int64
	ErrorRate    float64
	OpsPerSecond float64
	InitFailures int64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	Phase string
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	TestName       string
	ExecutorType   string
	TotalDuration  time.Duration
	UpdateInterval time.Duration
	Writer         io.Writer
	Quiet          bool
	ForceColors    bool
	ForceTTY       bool
}

// ConsoleOutput manages live console output during a run.
type ConsoleOutput struct {
	testName       string
	executorType   string
	totalDuration  time.Duration
	updateInterval time.Duration
	writer         io.Writer
	isTTY          bool
	colors         *ColorScheme
	quiet          bool

	mu         sync.Mutex
	lineActive bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}
	if config.UpdateInterval == 0 {
		config.UpdateInterval = time.Second
	}

	isTTY := config.ForceTTY || IsTerminal(config.Writer)
	colors := NoColorScheme()
	if config.ForceColors || (isTTY && supportsColors()) {
		colors = DefaultColorScheme()
	}

	return &ConsoleOutput{
		testName:       config.TestName,
		executorType:   config.ExecutorType,
		totalDuration:  config.TotalDuration,
		updateInterval: config.UpdateInterval,
		writer:         config.Writer,
		isTTY:          isTTY,
		colors:         colors,
		quiet:          config.Quiet,
	}
}

// PrintHeader prints the run header.
func (c *ConsoleOutput) PrintHeader(users int) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.colors.Rule.Sprint(strings.Repeat(ruleChar, 56))
	info := fmt.Sprintf("%d users", users)
	if c.executorType != "" {
		info = fmt.Sprintf("%s, %s", info, c.executorType)
	}
	if c.totalDuration > 0 {
		info = fmt.Sprintf("%s, %s", info, formatDuration(c.totalDuration))
	}

	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - Running [%s]", c.colors.Title.Sprint(c.testName), info))
	c.writeln(rule)
	c.writeln("")
}

// Follow samples stats every update interval until ctx is done. Terminals
// get a single line rewritten in place; other writers get one line per tick.
func (c *ConsoleOutput) Follow(ctx context.Context, sample func() *LiveStats) {
	if c.quiet {
		return
	}

	ticker := time.NewTicker(c.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := sample()
			if stats == nil {
				continue
			}
			if c.isTTY {
				c.Update(stats)
			} else {
				c.PrintNonInteractiveUpdate(stats)
			}
		}
	}
}

// Update rewrites the live progress line.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.write(clearLine + c.renderProgressLine(stats))
	c.lineActive = true
}

func (c *ConsoleOutput) renderProgressLine(stats *LiveStats) string {
	var b strings.Builder

	if stats.Progress > 0 {
		b.WriteString(c.colors.Success.Sprint(renderProgressBar(stats.Progress, 20)))
		b.WriteString(fmt.Sprintf(" %3.0f%% ", stats.Progress*100))
	}
	b.WriteString(c.colors.Dim.Sprint(formatDuration(stats.Elapsed)))
	b.WriteString(" | ")
	b.WriteString(c.colors.Phase.Sprint(stats.Phase))
	b.WriteString(fmt.Sprintf(" | users %s/%d", c.colors.Value.Sprint(stats.ActiveUsers), stats.TargetUsers))
	b.WriteString(fmt.Sprintf(" | ops %s (%.1f/s)", c.colors.Value.Sprint(formatNumber(stats.Operations)), stats.OpsPerSecond))

	errColor := c.colors.rateColor(stats.ErrorRate)
	b.WriteString(fmt.Sprintf(" | failed %s", errColor.Sprintf("%d (%.1f%%)", stats.Failures, stats.ErrorRate*100)))
	b.WriteString(fmt.Sprintf(" | p95 %s", c.colors.Latency.Sprint(formatDurationShort(stats.LatencyP95))))
	return b.String()
}

// PrintNonInteractiveUpdate prints a plain status line.
// Used when output is not a TTY (e.g., piped to a file or CI/CD).
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] %s | users: %d/%d | ops: %d | failed: %d (%.1f%%) | ops/s: %.1f | p95: %s",
		formatDuration(stats.Elapsed),
		stats.Phase,
		stats.ActiveUsers,
		stats.TargetUsers,
		stats.Operations,
		stats.Failures,
		stats.ErrorRate*100,
		stats.OpsPerSecond,
		formatDurationShort(stats.LatencyP95)))
}

// PrintSummary prints the final run summary.
func (c *ConsoleOutput) PrintSummary(result *engine.RunResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lineActive {
		c.write(clearLine)
		c.lineActive = false
	}

	if result == nil {
		c.writeln("No results available")
		return
	}

	if c.quiet {
		if result.Passed {
			c.writeln(c.colors.Success.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Error.Sprint("FAILED"))
		}
		return
	}

	rule := c.colors.Rule.Sprint(strings.Repeat(ruleChar, 56))
	status := c.colors.Success.Sprint("Completed ✓")
	if !result.Passed {
		status = c.colors.Error.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(result.Name), status))
	c.writeln(rule)
	c.writeln("")

	c.printRun(result)
	if s := result.Statistics; s != nil {
		c.printTotals(result, s)
		c.printOperations(s)
		c.printLatency(s.Latency)
	}
	c.printFailures(result.FailureSamples)
	c.printThresholds(result.Thresholds)
}

func (c *ConsoleOutput) printRun(result *engine.RunResult) {
	c.field("Run ID", result.ID)
	c.field("Executor", result.Executor)
	c.field("Duration", formatDuration(result.Duration))

	profiles := make([]string, 0, len(result.Profiles))
	for _, p := range result.Profiles {
		profiles = append(profiles, fmt.Sprintf("%s×%d", p.Name, p.Users))
	}
	c.field("Users", fmt.Sprintf("%d (%s)", result.Users, strings.Join(profiles, ", ")))
	c.writeln("")
}

func (c *ConsoleOutput) printTotals(result *engine.RunResult, s *metrics.Snapshot) {
	c.field("Operations", formatNumber(s.TotalOperations))
	successRate := 1.0
	if s.TotalOperations > 0 {
		successRate = 1.0 - s.ErrorRate
	}
	c.writeln(fmt.Sprintf("  %-14s %s", "Success Rate:", c.colors.rateColor(1-successRate).Sprintf("%.1f%%", successRate*100)))
	c.field("Throughput", fmt.Sprintf("%.2f ops/s", s.OpsPerSecond))
	c.field("Cycles", fmt.Sprintf("%s (%s idle)", formatNumber(s.Cycles), formatNumber(s.IdleCycles)))

	if result.InitFailures > 0 {
		c.writeln(fmt.Sprintf("  %-14s %s", "Init Failures:", c.colors.Error.Sprint(result.InitFailures)))
	}
	if result.HardStopped > 0 {
		c.writeln(fmt.Sprintf("  %-14s %s", "Interrupted:", c.colors.Warn.Sprintf("%d users", result.HardStopped)))
	}
	c.writeln("")
}

func (c *ConsoleOutput) printOperations(s *metrics.Snapshot) {
	if len(s.Operations) == 0 {
		return
	}

	names := make([]string, 0, len(s.Operations))
	for name := range s.Operations {
		names = append(names, name)
	}
	sort.Strings(names)

	c.writeln(c.colors.Title.Sprint("Operations:"))
	c.writeln(c.colors.Dim.Sprintf("  %-16s %9s %9s %8s %9s %9s", "NAME", "TOTAL", "FAILED", "ERR%", "P50", "P95"))
	for _, name := range names {
		op := s.Operations[name]
		errPct := fmt.Sprintf("%7.1f%%", op.ErrorRate*100)
		c.writeln(fmt.Sprintf("  %-16s %9s %9s %s %9s %9s",
			name,
			formatNumber(op.Total),
			formatNumber(op.Failed),
			c.colors.rateColor(op.ErrorRate).Sprint(errPct),
			formatDurationShort(op.Latency.P50),
			formatDurationShort(op.Latency.P95)))
	}
	c.writeln("")
}

func (c *ConsoleOutput) printLatency(l metrics.LatencyStats) {
	if l.Count == 0 {
		return
	}
	c.writeln(c.colors.Title.Sprint("Latency Distribution:"))
	for _, row := range []struct {
		label string
		value time.Duration
	}{
		{"Min", l.Min},
		{"P50", l.P50},
		{"P90", l.P90},
		{"P95", l.P95},
		{"P99", l.P99},
		{"Max", l.Max},
	} {
		c.writeln(fmt.Sprintf("  %-10s %s", row.label+":", c.colors.Latency.Sprint(formatDurationShort(row.value))))
	}
	c.writeln("")
}

func (c *ConsoleOutput) printFailures(failures []metrics.Failure) {
	if len(failures) == 0 {
		return
	}

	c.writeln(c.colors.Title.Sprintf("Recent Failures (%d):", len(failures)))
	shown := failures
	if len(shown) > maxSummaryFailures {
		shown = shown[len(shown)-maxSummaryFailures:]
	}
	for _, f := range shown {
		var b strings.Builder
		b.WriteString(fmt.Sprintf("  vu %-4d %s", f.VU, f.Operation))
		if f.Status != 0 {
			b.WriteString(fmt.Sprintf(" [%d]", f.Status))
		}
		if f.Key != "" {
			b.WriteString(" " + f.Key)
		}
		b.WriteString(": " + c.colors.Error.Sprint(f.Detail))
		c.writeln(b.String())
	}
	if hidden := len(failures) - len(shown); hidden > 0 {
		c.writeln(c.colors.Dim.Sprintf("  ... %d more in the JSON result", hidden))
	}
	c.writeln("")
}

func (c *ConsoleOutput) printThresholds(thresholds []engine.ThresholdResult) {
	if len(thresholds) == 0 {
		return
	}
	c.writeln(c.colors.Title.Sprint("Thresholds:"))
	for _, t := range thresholds {
		status := c.colors.Success.Sprint("✓")
		if !t.Passed {
			status = c.colors.Error.Sprint("✗")
		}
		c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", status, t.Metric, t.Expression, t.Value))
		if t.Message != "" && !t.Passed {
			c.writeln(fmt.Sprintf("      %s", t.Message))
		}
	}
	c.writeln("")
}

func (c *ConsoleOutput) field(label, value string) {
	c.writeln(fmt.Sprintf("  %-14s %s", label+":", c.colors.Value.Sprint(value)))
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// renderProgressBar renders a progress bar.
func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a duration in a short format.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if n < 0 || len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

// StatsFromSnapshot creates LiveStats from a statistics snapshot.
func StatsFromSnapshot(s *metrics.Snapshot, progress float64, totalDuration time.Duration, targetUsers int) *LiveStats {
	if s == nil {
		return &LiveStats{
			Progress:    progress,
			TargetUsers: targetUsers,
			Phase:       string(metrics.PhaseInit),
		}
	}

	remaining := time.Duration(0)
	if progress > 0 && progress < 1 {
		remaining = time.Duration(float64(s.Elapsed) * (1 - progress) / progress)
	} else if totalDuration > 0 {
		remaining = totalDuration - s.Elapsed
		if remaining < 0 {
			remaining = 0
		}
	}

	return &LiveStats{
		Progress:     progress,
		Elapsed:      s.Elapsed,
		Remaining:    remaining,
		ActiveUsers:  s.ActiveUsers,
		TargetUsers:  targetUsers,
		Operations:   s.TotalOperations,
		Failures:     s.Failed,
		ErrorRate:    s.ErrorRate,
		OpsPerSecond: s.OpsPerSecond,
		InitFailures: s.InitFailures,
		LatencyP95:   s.Latency.P95,
		LatencyAvg:   s.Latency.Mean,
		Phase:        string(s.CurrentPhase),
	}
}
