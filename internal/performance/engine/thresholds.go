package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/trackload/internal/performance/metrics"
)

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

var thresholdPattern = regexp.MustCompile(`^(\w+)\s*([<>=!]+)\s*(.+)$`)

// evaluateThresholds checks that some user got past initialization, then
// the error-rate limit and every latency expression.
func evaluateThresholds(cfg *RunConfig, snapshot *metrics.Snapshot) []ThresholdResult {
	var results []ThresholdResult

	if snapshot.InitFailures > 0 {
		results = append(results, evaluateInitFailures(snapshot))
	}
	if cfg.MaxErrorRate != nil {
		results = append(results, evaluateErrorRate(*cfg.MaxErrorRate, snapshot))
	}
	for _, expr := range cfg.Thresholds {
		results = append(results, evaluateLatencyThreshold(expr, snapshot))
	}
	return results
}

// evaluateInitFailures fails when no user got past its connectivity check.
func evaluateInitFailures(snapshot *metrics.Snapshot) ThresholdResult {
	result := ThresholdResult{
		Metric:     "init_failures",
		Expression: "started users > 0",
		Value:      fmt.Sprintf("%d", snapshot.UsersStarted),
		Passed:     snapshot.UsersStarted > 0,
	}
	if !result.Passed {
		result.Message = fmt.Sprintf("all %d users failed initialization", snapshot.InitFailures)
	}
	return result
}

func evaluateErrorRate(limit float64, snapshot *metrics.Snapshot) ThresholdResult {
	result := ThresholdResult{
		Metric:     "error_rate",
		Expression: fmt.Sprintf("rate <= %.4f", limit),
		Value:      fmt.Sprintf("%.4f", snapshot.ErrorRate),
		Passed:     snapshot.ErrorRate <= limit,
	}
	if !result.Passed {
		result.Message = fmt.Sprintf("error rate is %.4f, threshold: <= %.4f", snapshot.ErrorRate, limit)
	}
	return result
}

// evaluateLatencyThreshold evaluates an expression like "p95 < 500ms"
// against the latency of all operations.
func evaluateLatencyThreshold(expr string, snapshot *metrics.Snapshot) ThresholdResult {
	result := ThresholdResult{
		Metric:     "latency",
		Expression: expr,
	}

	metric, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	actual, ok := latencyValue(metric, snapshot.Latency)
	if !ok {
		result.Message = fmt.Sprintf("unknown metric: %s", metric)
		return result
	}

	threshold, err := time.ParseDuration(valueStr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	result.Value = actual.String()
	result.Passed = compareValues(float64(actual), op, float64(threshold))
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s %s", metric, actual, op, threshold)
	}
	return result
}

func latencyValue(metric string, l metrics.LatencyStats) (time.Duration, bool) {
	switch metric {
	case "min":
		return l.Min, true
	case "max":
		return l.Max, true
	case "avg", "mean":
		return l.Mean, true
	case "p50", "med":
		return l.P50, true
	case "p90":
		return l.P90, true
	case "p95":
		return l.P95, true
	case "p99":
		return l.P99, true
	default:
		return 0, false
	}
}

// ValidateThreshold reports whether expr can be evaluated.
func ValidateThreshold(expr string) error {
	metric, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		return err
	}
	if _, ok := latencyValue(metric, metrics.LatencyStats{}); !ok {
		return fmt.Errorf("unknown metric %q in %q", metric, expr)
	}
	if !validOperator(op) {
		return fmt.Errorf("unknown operator %q in %q", op, expr)
	}
	if _, err := time.ParseDuration(valueStr); err != nil {
		if _, ferr := strconv.ParseFloat(valueStr, 64); ferr != nil {
			return fmt.Errorf("invalid value %q in %q", valueStr, expr)
		}
		return fmt.Errorf("value %q in %q needs a unit, e.g. 500ms", valueStr, expr)
	}
	return nil
}

// parseThresholdExpression parses an expression like "p95 < 500ms".
func parseThresholdExpression(expr string) (metric, op, value string, err error) {
	matches := thresholdPattern.FindStringSubmatch(strings.TrimSpace(expr))
	if len(matches) != 4 {
		return "", "", "", fmt.Errorf("invalid expression format: %s", expr)
	}
	return matches[1], matches[2], strings.TrimSpace(matches[3]), nil
}

func validOperator(op string) bool {
	switch op {
	case "<", "<=", ">", ">=", "==", "=", "!=", "<>":
		return true
	default:
		return false
	}
}

// compareValues compares two values using the given operator.
func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==", "=":
		return actual == threshold
	case "!=", "<>":
		return actual != threshold
	default:
		return false
	}
}
