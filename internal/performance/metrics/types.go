package metrics

import "time"

// Phase represents a phase of the run.
type Phase string

const (
	// PhaseInit is before any user has started.
	PhaseInit Phase = "init"

	// PhaseRampUp is while users are still being started.
	PhaseRampUp Phase = "ramp-up"

	// PhaseSteady is when the whole population is running.
	PhaseSteady Phase = "steady"

	// PhaseStopping is after the stop signal, while in-flight operations finish.
	PhaseStopping Phase = "stopping"

	// PhaseDone indicates the run has completed.
	PhaseDone Phase = "done"
)

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// OperationStats aggregates the outcomes of one operation name.
type OperationStats struct {
	Name      string        `json:"name"`
	Total     int64         `json:"total"`
	Success   int64         `json:"success"`
	Failed    int64         `json:"failed"`
	ErrorRate float64       `json:"errorRate"`
	Latency   LatencyStats  `json:"latency"`
	Statuses  map[int]int64 `json:"statuses,omitempty"`
}

// Failure is a retained failure sample for post-run diagnosis.
type Failure struct {
	Time      time.Time `json:"time"`
	VU        int       `json:"vu"`
	Operation string    `json:"operation"`
	Status    int       `json:"status,omitempty"`
	Key       string    `json:"key,omitempty"`
	Detail    string    `json:"detail"`
}

// Snapshot contains a point-in-time view of the run statistics.
type Snapshot struct {
	TotalOperations int64                     `json:"totalOperations"`
	Succeeded       int64                     `json:"succeeded"`
	Failed          int64                     `json:"failed"`
	ErrorRate       float64                   `json:"errorRate"`
	OpsPerSecond    float64                   `json:"opsPerSecond"`
	Cycles          int64                     `json:"cycles"`
	IdleCycles      int64                     `json:"idleCycles"`
	InitFailures    int64                     `json:"initFailures"`
	UsersStarted    int64                     `json:"usersStarted"`
	ActiveUsers     int                       `json:"activeUsers"`
	Latency         LatencyStats              `json:"latency"`
	Operations      map[string]OperationStats `json:"operations"`
	CurrentPhase    Phase                     `json:"currentPhase"`
	Elapsed         time.Duration             `json:"elapsed"`
	StartTime       time.Time                 `json:"startTime"`
	Timestamp       time.Time                 `json:"timestamp"`
}
