package profile

import (
	"fmt"
	"sort"
	"time"

	"github.com/wesleyorama2/trackload/internal/config"
	"github.com/wesleyorama2/trackload/internal/performance/operation"
	"github.com/wesleyorama2/trackload/internal/tracker"
)

// Built-in profile names.
const (
	Default   = "default"
	Heavy     = "heavy"
	ReadOnly  = "readonly"
	SOCTriage = "soc-triage"
)

type builtin struct {
	description string
	build       func(conn config.ConnectionDescriptor) (BehaviorProfile, error)
}

var builtins = map[string]builtin{
	Default: {
		description: "mixed create/comment/read/search/update traffic",
		build:       buildDefault,
	},
	Heavy: {
		description: "default mix plus batch creation, short pacing",
		build: func(conn config.ConnectionDescriptor) (BehaviorProfile, error) {
			base, err := buildDefault(conn)
			if err != nil {
				return BehaviorProfile{}, err
			}
			w := 10
			return base.Derive(Heavy, &Pacing{Min: 500 * time.Millisecond, Max: 2 * time.Second},
				map[string]Override{operation.CreateBatch: {Weight: &w}})
		},
	},
	ReadOnly: {
		description: "reads and searches only; mutating operations weighted 0",
		build: func(conn config.ConnectionDescriptor) (BehaviorProfile, error) {
			base, err := buildDefault(conn)
			if err != nil {
				return BehaviorProfile{}, err
			}
			zero, fetch, search := 0, 8, 5
			return base.Derive(ReadOnly, &Pacing{Min: time.Second, Max: 3 * time.Second}, map[string]Override{
				operation.CreateEntity: {Weight: &zero},
				operation.AddNote:      {Weight: &zero},
				operation.UpdateField:  {Weight: &zero},
				operation.FetchDetail:  {Weight: &fetch},
				operation.Search:       {Weight: &search},
			})
		},
	},
	SOCTriage: {
		description: "alert ingestion with severity-based priority, triage notes and escalation",
		build: func(conn config.ConnectionDescriptor) (BehaviorProfile, error) {
			p, err := New(SOCTriage, connPacing(conn), []operation.Operation{
				operation.MustNew(operation.CreateAlert, 4),
				operation.MustNew(operation.AddNote, 3),
				operation.MustNew(operation.FetchDetail, 2),
				operation.MustNew(operation.Search, 2),
				operation.MustNew(operation.Escalate, 1),
			})
			p.Queries = tracker.TriageQueries
			return p, err
		},
	},
}

func buildDefault(conn config.ConnectionDescriptor) (BehaviorProfile, error) {
	return New(Default, connPacing(conn), []operation.Operation{
		operation.MustNew(operation.CreateEntity, 5),
		operation.MustNew(operation.AddNote, 3),
		operation.MustNew(operation.FetchDetail, 2),
		operation.MustNew(operation.Search, 1),
		operation.MustNew(operation.UpdateField, 1),
	})
}

func connPacing(conn config.ConnectionDescriptor) Pacing {
	return Pacing{Min: conn.MinWait(), Max: conn.MaxWait()}
}

// Builtin constructs a named built-in profile for conn.
func Builtin(name string, conn config.ConnectionDescriptor) (BehaviorProfile, error) {
	b, ok := builtins[name]
	if !ok {
		return BehaviorProfile{}, fmt.Errorf("unknown profile %q (available: %v)", name, BuiltinNames())
	}
	return b.build(conn)
}

// BuiltinNames lists built-in profiles, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the one-line description of a built-in profile.
func Describe(name string) string {
	return builtins[name].description
}
