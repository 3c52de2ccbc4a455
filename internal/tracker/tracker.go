// Package tracker wraps the ticket-tracking REST API used as the load target.
//
// Every call returns a Result carrying the status code and observed latency,
// even when the call fails, so callers can record an outcome either way.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	httpclient "github.com/wesleyorama2/trackload/internal/http"
)

// Declared success codes per call type.
const (
	StatusCreated = http.StatusCreated
	StatusRead    = http.StatusOK
	StatusSearch  = http.StatusOK
	StatusUpdate  = http.StatusNoContent
	StatusComment = http.StatusCreated
	StatusProject = http.StatusOK
)

// UserAgent identifies load-test traffic in the tracker's access logs.
const UserAgent = "trackload"

// Call names used in errors and outcomes.
const (
	OpCreate  = "create issue"
	OpGet     = "get issue"
	OpComment = "add comment"
	OpUpdate  = "update issue"
	OpSearch  = "search"
	OpProject = "get project"
)

var (
	// ErrUnexpectedStatus matches any *StatusError.
	ErrUnexpectedStatus = errors.New("unexpected status")

	// ErrNoKey is returned when a create succeeds but the body has no key.
	ErrNoKey = errors.New("created but no key returned")
)

// StatusError reports a response whose status differs from the declared success code.
type StatusError struct {
	Op     string
	Status int
	Body   string
	Key    string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	if e.Key != "" {
		msg += " (key " + e.Key + ")"
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is lets errors.Is(err, ErrUnexpectedStatus) match.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// Doer executes requests. *httpclient.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error)
}

// Client issues tracker calls through a shared HTTP client.
type Client struct {
	http   Doer
	logger *zap.Logger
}

// New creates a tracker client.
func New(doer Doer, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   doer,
		logger: logger.With(zap.String("component", "tracker")),
	}
}

// Result is the observable part of one call.
type Result struct {
	Status  int
	Latency time.Duration
	Key     string
	Body    []byte
}

// IssueFields is the payload of a create call.
type IssueFields struct {
	Project     string
	Summary     string
	Description string
	IssueType   string
	Priority    string
	Labels      []string
}

func (f IssueFields) payload() map[string]interface{} {
	fields := map[string]interface{}{
		"project":     map[string]string{"key": f.Project},
		"summary":     f.Summary,
		"description": f.Description,
		"issuetype":   map[string]string{"name": f.IssueType},
	}
	if f.Priority != "" {
		fields["priority"] = map[string]string{"name": f.Priority}
	}
	if len(f.Labels) > 0 {
		fields["labels"] = f.Labels
	}
	return map[string]interface{}{"fields": fields}
}

// CreateIssue creates an issue and returns its key in Result.Key.
func (c *Client) CreateIssue(ctx context.Context, fields IssueFields) (Result, error) {
	req := httpclient.NewRequest(http.MethodPost, "/issue").WithBody(fields.payload())

	res, err := c.call(ctx, OpCreate, "", req, StatusCreated)
	if err != nil {
		return res, err
	}

	res.Key = gjson.GetBytes(res.Body, "key").String()
	if res.Key == "" {
		return res, fmt.Errorf("%s: %w", OpCreate, ErrNoKey)
	}
	return res, nil
}

// GetIssue reads one issue.
func (c *Client) GetIssue(ctx context.Context, key string) (Result, error) {
	req := httpclient.NewRequest(http.MethodGet, "/issue/"+url.PathEscape(key)).
		WithQueryParam("fields", strings.Join(DetailFields, ","))
	res, err := c.call(ctx, OpGet, key, req, StatusRead)
	res.Key = key
	return res, err
}

// AddComment appends a comment to an issue.
func (c *Client) AddComment(ctx context.Context, key, body string) (Result, error) {
	req := httpclient.NewRequest(http.MethodPost, "/issue/"+url.PathEscape(key)+"/comment").
		WithBody(map[string]string{"body": body})
	res, err := c.call(ctx, OpComment, key, req, StatusComment)
	res.Key = key
	return res, err
}

// UpdateIssue sets the given fields on an issue.
func (c *Client) UpdateIssue(ctx context.Context, key string, fields map[string]interface{}) (Result, error) {
	req := httpclient.NewRequest(http.MethodPut, "/issue/"+url.PathEscape(key)).
		WithBody(map[string]interface{}{"fields": fields})
	res, err := c.call(ctx, OpUpdate, key, req, StatusUpdate)
	res.Key = key
	return res, err
}

// SearchQuery is the body of a search call.
type SearchQuery struct {
	JQL        string
	MaxResults int
	Fields     []string
}

// IssueSummary is one hit of a search.
type IssueSummary struct {
	Key     string
	Summary string
	Status  string
	Created string
}

// SearchResult holds the hits and the server-side total.
type SearchResult struct {
	Result
	Total  int64
	Issues []IssueSummary
}

// Keys returns the keys of all hits, skipping empty ones.
func (r SearchResult) Keys() []string {
	keys := make([]string, 0, len(r.Issues))
	for _, issue := range r.Issues {
		if issue.Key != "" {
			keys = append(keys, issue.Key)
		}
	}
	return keys
}

// Search runs a query.
func (c *Client) Search(ctx context.Context, q SearchQuery) (SearchResult, error) {
	req := httpclient.NewRequest(http.MethodPost, "/search").WithBody(map[string]interface{}{
		"jql":        q.JQL,
		"maxResults": q.MaxResults,
		"fields":     q.Fields,
	})

	res, err := c.call(ctx, OpSearch, "", req, StatusSearch)
	out := SearchResult{Result: res}
	if err != nil {
		return out, err
	}

	parsed := gjson.ParseBytes(res.Body)
	out.Total = parsed.Get("total").Int()
	parsed.Get("issues").ForEach(func(_, issue gjson.Result) bool {
		out.Issues = append(out.Issues, IssueSummary{
			Key:     issue.Get("key").String(),
			Summary: issue.Get("fields.summary").String(),
			Status:  issue.Get("fields.status.name").String(),
			Created: issue.Get("fields.created").String(),
		})
		return true
	})
	return out, nil
}

// Project is the metadata returned by a project read.
type Project struct {
	Result
	Name    string
	Type    string
	ProjKey string
}

// GetProject reads project metadata. It doubles as the connectivity check.
func (c *Client) GetProject(ctx context.Context, key string) (Project, error) {
	req := httpclient.NewRequest(http.MethodGet, "/project/"+url.PathEscape(key))
	res, err := c.call(ctx, OpProject, key, req, StatusProject)
	p := Project{Result: res}
	if err != nil {
		return p, err
	}

	parsed := gjson.ParseBytes(res.Body)
	p.Name = parsed.Get("name").String()
	p.ProjKey = parsed.Get("key").String()
	p.Type = parsed.Get("projectTypeKey").String()
	return p, nil
}

func (c *Client) call(ctx context.Context, op, key string, req *httpclient.Request, want int) (Result, error) {
	start := time.Now()
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		res := Result{Latency: time.Since(start)}
		c.logger.Debug("call failed",
			zap.String("call", op),
			zap.String("key", key),
			zap.Error(err))
		return res, fmt.Errorf("%s: %w", op, err)
	}

	res := Result{
		Status:  resp.StatusCode,
		Latency: resp.ResponseTime,
		Body:    resp.Body,
	}
	if resp.StatusCode != want {
		return res, &StatusError{
			Op:     op,
			Status: resp.StatusCode,
			Body:   truncate(resp.BodyString(), 200),
			Key:    key,
		}
	}
	return res, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
