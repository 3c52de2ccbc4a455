// Package operation defines the weighted operations a virtual user performs
// against the tracker and the outcomes they produce.
//
// Operations never return errors. Every call, successful or not, is turned
// into an Outcome and handed to the Env's Recorder.
package operation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/trackload/internal/config"
	httpclient "github.com/wesleyorama2/trackload/internal/http"
	"github.com/wesleyorama2/trackload/internal/performance/keypool"
	"github.com/wesleyorama2/trackload/internal/textgen"
	"github.com/wesleyorama2/trackload/internal/tracker"
)

// Operation names.
const (
	CreateEntity = "CreateEntity"
	AddNote      = "AddNote"
	FetchDetail  = "FetchDetail"
	Search       = "Search"
	UpdateField  = "UpdateField"
	Discover     = "Discover"
	CreateBatch  = "CreateBatch"
	CreateAlert  = "CreateAlert"
	Escalate     = "Escalate"

	// EscalateNote is the outcome name of the comment half of Escalate.
	EscalateNote = "EscalateNote"
)

// Outcome is the result of one tracker call.
type Outcome struct {
	Operation string        `json:"operation"`
	Success   bool          `json:"success"`
	Latency   time.Duration `json:"latency"`
	Status    int           `json:"status,omitempty"`
	Key       string        `json:"key,omitempty"`
	Detail    string        `json:"detail,omitempty"`
}

// Recorder consumes outcomes. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(vu int, o Outcome)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(vu int, o Outcome)

// Record implements Recorder.
func (f RecorderFunc) Record(vu int, o Outcome) { f(vu, o) }

// Tracker is the subset of the tracker API operations need.
type Tracker interface {
	CreateIssue(ctx context.Context, fields tracker.IssueFields) (tracker.Result, error)
	GetIssue(ctx context.Context, key string) (tracker.Result, error)
	AddComment(ctx context.Context, key, body string) (tracker.Result, error)
	UpdateIssue(ctx context.Context, key string, fields map[string]interface{}) (tracker.Result, error)
	Search(ctx context.Context, q tracker.SearchQuery) (tracker.SearchResult, error)
}

// Func performs an operation within a user's environment.
type Func func(ctx context.Context, env *Env)

// Operation is one catalog entry.
type Operation struct {
	Name    string
	Weight  int
	Enabled bool
	Run     Func
}

// Selectable reports whether the operation can be chosen at all.
func (o Operation) Selectable() bool {
	return o.Enabled && o.Weight > 0 && o.Run != nil
}

var registry = map[string]Func{
	CreateEntity: runCreateEntity,
	AddNote:      runAddNote,
	FetchDetail:  runFetchDetail,
	Search:       runSearch,
	UpdateField:  runUpdateField,
	Discover:     runDiscover,
	CreateBatch:  runCreateBatch,
	CreateAlert:  runCreateAlert,
	Escalate:     runEscalate,
}

// Lookup returns the implementation of a named operation.
func Lookup(name string) (Func, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Names returns all operation names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds an enabled catalog entry for a registered operation.
func New(name string, weight int) (Operation, error) {
	fn, ok := Lookup(name)
	if !ok {
		return Operation{}, fmt.Errorf("unknown operation %q, valid operations: %s", name, strings.Join(Names(), ", "))
	}
	if weight < 0 {
		return Operation{}, fmt.Errorf("operation %q: weight must not be negative", name)
	}
	return Operation{Name: name, Weight: weight, Enabled: true, Run: fn}, nil
}

// MustNew is New for static catalogs.
func MustNew(name string, weight int) Operation {
	op, err := New(name, weight)
	if err != nil {
		panic(err)
	}
	return op
}

// Env is the state one virtual user threads through its operations.
// It is owned by a single goroutine.
type Env struct {
	VU       int
	Conn     config.ConnectionDescriptor
	Tracker  Tracker
	Pool     *keypool.Pool
	Text     textgen.Generator
	Rand     *rand.Rand
	Queries  tracker.QuerySet
	Recorder Recorder
	Logger   *zap.Logger

	// Stopping reports that the user was asked to stop. Operations that
	// issue several calls check it before each follow-up call.
	Stopping func() bool

	priorities map[string]string
}

func (env *Env) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return env.Stopping != nil && env.Stopping()
}

func (env *Env) record(o Outcome) {
	if env.Recorder != nil {
		env.Recorder.Record(env.VU, o)
	}
	if !o.Success && env.Logger != nil {
		env.Logger.Debug("operation failed",
			zap.Int("vu", env.VU),
			zap.String("operation", o.Operation),
			zap.Int("status", o.Status),
			zap.String("key", o.Key),
			zap.String("detail", o.Detail))
	}
}

// outcomeOf classifies a tracker call. The call's own success code has
// already been checked by the tracker client; any error is a failure.
func outcomeOf(name, key string, res tracker.Result, err error) Outcome {
	o := Outcome{
		Operation: name,
		Success:   err == nil,
		Latency:   res.Latency,
		Status:    res.Status,
		Key:       key,
	}
	if res.Key != "" {
		o.Key = res.Key
	}
	if err != nil {
		o.Detail = failureDetail(err)
	}
	return o
}

func failureDetail(err error) string {
	var statusErr *tracker.StatusError
	switch {
	case httpclient.IsTimeout(err):
		return "timeout"
	case errors.Is(err, tracker.ErrNoKey):
		return tracker.ErrNoKey.Error()
	case errors.As(err, &statusErr):
		if statusErr.Body != "" {
			return fmt.Sprintf("status %d: %s", statusErr.Status, statusErr.Body)
		}
		return fmt.Sprintf("status %d", statusErr.Status)
	default:
		return err.Error()
	}
}

// aborted reports a call cut short by the run being torn down. Such calls
// are not recorded because they say nothing about the target.
func aborted(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled)
}
