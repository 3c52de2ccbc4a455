package operation

import (
	"context"
	"fmt"

	"github.com/wesleyorama2/trackload/internal/textgen"
	"github.com/wesleyorama2/trackload/internal/tracker"
)

// Batch size bounds for CreateBatch.
const (
	BatchMin = 2
	BatchMax = 5
)

// UpdatePrefix marks descriptions rewritten by UpdateField.
const UpdatePrefix = "[updated] "

func runCreateEntity(ctx context.Context, env *Env) {
	createOne(ctx, env, CreateEntity, tracker.IssueFields{
		Project:     env.Conn.ProjectKey(),
		Summary:     env.Text.Summary(),
		Description: env.Text.Description(),
		IssueType:   env.Conn.IssueType(),
	})
}

func createOne(ctx context.Context, env *Env, name string, fields tracker.IssueFields) (string, bool) {
	res, err := env.Tracker.CreateIssue(ctx, fields)
	if aborted(ctx, err) {
		return "", false
	}
	env.record(outcomeOf(name, "", res, err))
	if err != nil {
		return "", false
	}
	env.Pool.Add(res.Key)
	return res.Key, true
}

func runAddNote(ctx context.Context, env *Env) {
	key, ok := keyOrDiscover(ctx, env)
	if !ok {
		return
	}
	res, err := env.Tracker.AddComment(ctx, key, env.Text.Comment())
	if aborted(ctx, err) {
		return
	}
	env.record(outcomeOf(AddNote, key, res, err))
}

func runFetchDetail(ctx context.Context, env *Env) {
	key, ok := keyOrDiscover(ctx, env)
	if !ok {
		return
	}
	res, err := env.Tracker.GetIssue(ctx, key)
	if aborted(ctx, err) {
		return
	}
	env.record(outcomeOf(FetchDetail, key, res, err))
}

func runUpdateField(ctx context.Context, env *Env) {
	key, ok := keyOrDiscover(ctx, env)
	if !ok {
		return
	}
	res, err := env.Tracker.UpdateIssue(ctx, key, map[string]interface{}{
		"description": UpdatePrefix + env.Text.Description(),
	})
	if aborted(ctx, err) {
		return
	}
	env.record(outcomeOf(UpdateField, key, res, err))
}

func runSearch(ctx context.Context, env *Env) {
	queries := env.Queries
	if queries == nil {
		queries = tracker.GeneralQueries
	}
	list := queries(env.Conn.ProjectKey())
	search(ctx, env, Search, list[env.Rand.Intn(len(list))], tracker.SearchMaxResults)
}

func runDiscover(ctx context.Context, env *Env) {
	search(ctx, env, Discover, tracker.RecentQuery(env.Conn.ProjectKey()), tracker.DiscoverMaxResults)
}

func search(ctx context.Context, env *Env, name, jql string, limit int) {
	res, err := env.Tracker.Search(ctx, tracker.SearchQuery{
		JQL:        jql,
		MaxResults: limit,
		Fields:     tracker.SearchFields,
	})
	if aborted(ctx, err) {
		return
	}
	o := outcomeOf(name, "", res.Result, err)
	if err == nil {
		o.Detail = fmt.Sprintf("%d hits", len(res.Issues))
	}
	env.record(o)
	if err == nil {
		env.Pool.Merge(res.Keys())
	}
}

// keyOrDiscover samples the pool. An empty pool triggers exactly one
// Discover; if the pool is still empty the caller skips its call.
func keyOrDiscover(ctx context.Context, env *Env) (string, bool) {
	if key, ok := env.Pool.Sample(); ok {
		return key, true
	}
	runDiscover(ctx, env)
	return env.Pool.Sample()
}

func runCreateBatch(ctx context.Context, env *Env) {
	n := BatchMin + env.Rand.Intn(BatchMax-BatchMin+1)
	for i := 0; i < n; i++ {
		if i > 0 && env.stopped(ctx) {
			return
		}
		runCreateEntity(ctx, env)
	}
}

func runCreateAlert(ctx context.Context, env *Env) {
	alert := textgen.NewAlert(env.Rand)
	key, ok := createOne(ctx, env, CreateAlert, tracker.IssueFields{
		Project:     env.Conn.ProjectKey(),
		Summary:     alert.Summary(),
		Description: alert.IssueDescription(),
		IssueType:   env.Conn.IssueType(),
		Priority:    alert.Priority(),
		Labels:      []string{"wazuh", fmt.Sprintf("rule-%d", alert.RuleID)},
	})
	if ok {
		env.setPriority(key, alert.Priority())
	}
}

// runEscalate raises an issue's priority one step and explains why in a
// comment. The comment is only sent when the priority change succeeded and
// the user is not stopping.
func runEscalate(ctx context.Context, env *Env) {
	key, ok := keyOrDiscover(ctx, env)
	if !ok {
		return
	}

	next := textgen.Escalated(env.priority(key))
	res, err := env.Tracker.UpdateIssue(ctx, key, map[string]interface{}{
		"priority": map[string]string{"name": next},
	})
	if aborted(ctx, err) {
		return
	}
	env.record(outcomeOf(Escalate, key, res, err))
	if err != nil {
		return
	}
	env.setPriority(key, next)
	if env.stopped(ctx) {
		return
	}

	note := fmt.Sprintf("Escalated to %s priority. %s", next, env.Text.Comment())
	res, err = env.Tracker.AddComment(ctx, key, note)
	if aborted(ctx, err) {
		return
	}
	env.record(outcomeOf(EscalateNote, key, res, err))
}

func (env *Env) priority(key string) string {
	if p, ok := env.priorities[key]; ok {
		return p
	}
	return textgen.PriorityMedium
}

func (env *Env) setPriority(key, p string) {
	if env.priorities == nil {
		env.priorities = make(map[string]string)
	}
	env.priorities[key] = p
}
