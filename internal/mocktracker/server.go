// Package mocktracker is an in-memory stand-in for the ticket-tracking API.
//
// It serves the project, issue, comment and search endpoints under a base
// path, keeps created issues in memory, counts calls per endpoint and can
// inject latency and random failures.
package mocktracker

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultBasePath matches the REST API prefix of the real service.
const DefaultBasePath = "/rest/api/2"

// Endpoint names used for call counting and failure selection.
const (
	EndpointProject = "project"
	EndpointCreate  = "create"
	EndpointGet     = "get"
	EndpointComment = "comment"
	EndpointUpdate  = "update"
	EndpointSearch  = "search"
)

// Options configures a Server.
type Options struct {
	BasePath string

	// Projects limits which project keys exist. Empty means any key exists.
	Projects []string

	// FailRate is the probability of answering 500 instead of the success code.
	FailRate float64

	// FailEndpoints restricts failure injection. Empty means every endpoint
	// except project reads.
	FailEndpoints []string

	// Latency is added to every response.
	Latency time.Duration

	// Seed makes failure injection reproducible. Zero seeds from the clock.
	Seed int64

	Logger *zap.Logger
}

type issue struct {
	id       string
	key      string
	project  string
	fields   map[string]interface{}
	comments []string
	created  time.Time
	seq      int
}

// Server is an http.Handler implementing the mock API.
type Server struct {
	opts   Options
	mux    *http.ServeMux
	logger *zap.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	issues  map[string]*issue
	nextSeq map[string]int
	seq     int
	calls   map[string]int
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.BasePath == "" {
		opts.BasePath = DefaultBasePath
	}
	opts.BasePath = strings.TrimRight(opts.BasePath, "/")
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &Server{
		opts:    opts,
		mux:     http.NewServeMux(),
		logger:  opts.Logger.With(zap.String("component", "mocktracker")),
		rng:     rand.New(rand.NewSource(seed)),
		issues:  make(map[string]*issue),
		nextSeq: make(map[string]int),
		calls:   make(map[string]int),
	}

	base := opts.BasePath
	s.mux.HandleFunc("GET "+base+"/project/{key}", s.handleProject)
	s.mux.HandleFunc("POST "+base+"/issue", s.handleCreate)
	s.mux.HandleFunc("GET "+base+"/issue/{key}", s.handleGet)
	s.mux.HandleFunc("PUT "+base+"/issue/{key}", s.handleUpdate)
	s.mux.HandleFunc("POST "+base+"/issue/{key}/comment", s.handleComment)
	s.mux.HandleFunc("POST "+base+"/search", s.handleSearch)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Calls returns how many requests an endpoint has received.
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// IssueCount returns the number of stored issues.
func (s *Server) IssueCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.issues)
}

// Comments returns the comments stored on an issue.
func (s *Server) Comments(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if is, ok := s.issues[key]; ok {
		return append([]string(nil), is.comments...)
	}
	return nil
}

// Field returns a stored field value of an issue.
func (s *Server) Field(key, field string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	is, ok := s.issues[key]
	if !ok {
		return nil, false
	}
	v, ok := is.fields[field]
	return v, ok
}

// Seed stores n issues in project so reads and searches have data.
func (s *Server) Seed(project string, n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		is := s.storeLocked(project, map[string]interface{}{
			"summary": fmt.Sprintf("seeded issue %d", i+1),
		})
		keys = append(keys, is.key)
	}
	return keys
}

// begin counts the call, applies latency and decides on failure.
// It returns false when the response has already been written.
func (s *Server) begin(w http.ResponseWriter, r *http.Request, endpoint string) bool {
	s.mu.Lock()
	s.calls[endpoint]++
	fail := s.shouldFailLocked(endpoint)
	s.mu.Unlock()

	if s.opts.Latency > 0 {
		select {
		case <-r.Context().Done():
			return false
		case <-time.After(s.opts.Latency):
		}
	}

	if fail {
		s.logger.Debug("injected failure", zap.String("endpoint", endpoint))
		writeError(w, http.StatusInternalServerError, "injected failure")
		return false
	}
	return true
}

func (s *Server) shouldFailLocked(endpoint string) bool {
	if s.opts.FailRate <= 0 {
		return false
	}
	if len(s.opts.FailEndpoints) == 0 {
		if endpoint == EndpointProject {
			return false
		}
	} else if !contains(s.opts.FailEndpoints, endpoint) {
		return false
	}
	return s.rng.Float64() < s.opts.FailRate
}

func (s *Server) projectExists(key string) bool {
	return len(s.opts.Projects) == 0 || contains(s.opts.Projects, key)
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, EndpointProject) {
		return
	}
	key := r.PathValue("key")
	if !s.projectExists(key) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No project could be found with key '%s'.", key))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":             "10000",
		"key":            key,
		"name":           key + " project",
		"projectTypeKey": "software",
	})
}

type createBody struct {
	Fields map[string]interface{} `json:"fields"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, EndpointCreate) {
		return
	}

	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Fields == nil {
		writeError(w, http.StatusBadRequest, "invalid issue payload")
		return
	}

	project := nestedString(body.Fields, "project", "key")
	if project == "" || !s.projectExists(project) {
		writeError(w, http.StatusBadRequest, "project is required")
		return
	}
	if summary, _ := body.Fields["summary"].(string); summary == "" {
		writeError(w, http.StatusBadRequest, "summary is required")
		return
	}

	s.mu.Lock()
	is := s.storeLocked(project, body.Fields)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":   is.id,
		"key":  is.key,
		"self": s.opts.BasePath + "/issue/" + is.id,
	})
}

func (s *Server) storeLocked(project string, fields map[string]interface{}) *issue {
	s.nextSeq[project]++
	s.seq++
	is := &issue{
		id:      uuid.NewString(),
		key:     fmt.Sprintf("%s-%d", project, s.nextSeq[project]),
		project: project,
		fields:  fields,
		created: time.Now(),
		seq:     s.seq,
	}
	s.issues[is.key] = is
	return is
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, EndpointGet) {
		return
	}
	key := r.PathValue("key")

	s.mu.Lock()
	is, ok := s.issues[key]
	var view map[string]interface{}
	if ok {
		view = issueView(is)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Issue does not exist")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, EndpointUpdate) {
		return
	}
	key := r.PathValue("key")

	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Fields == nil {
		writeError(w, http.StatusBadRequest, "invalid update payload")
		return
	}

	s.mu.Lock()
	is, ok := s.issues[key]
	if ok {
		for k, v := range body.Fields {
			is.fields[k] = v
		}
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Issue does not exist")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, EndpointComment) {
		return
	}
	key := r.PathValue("key")

	var body struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Body == "" {
		writeError(w, http.StatusBadRequest, "comment body is required")
		return
	}

	s.mu.Lock()
	is, ok := s.issues[key]
	var id int
	if ok {
		is.comments = append(is.comments, body.Body)
		id = len(is.comments)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Issue does not exist")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":   fmt.Sprintf("%d", id),
		"body": body.Body,
	})
}

type searchBody struct {
	JQL        string `json:"jql"`
	MaxResults int    `json:"maxResults"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, EndpointSearch) {
		return
	}

	var body searchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid search payload")
		return
	}
	if body.MaxResults <= 0 {
		body.MaxResults = 50
	}
	project := projectFromJQL(body.JQL)

	s.mu.Lock()
	matched := make([]*issue, 0, len(s.issues))
	for _, is := range s.issues {
		if project == "" || is.project == project {
			matched = append(matched, is)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq > matched[j].seq })

	total := len(matched)
	if len(matched) > body.MaxResults {
		matched = matched[:body.MaxResults]
	}
	views := make([]map[string]interface{}, 0, len(matched))
	for _, is := range matched {
		views = append(views, issueView(is))
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"startAt":    0,
		"maxResults": body.MaxResults,
		"total":      total,
		"issues":     views,
	})
}

func issueView(is *issue) map[string]interface{} {
	summary, _ := is.fields["summary"].(string)
	return map[string]interface{}{
		"id":  is.id,
		"key": is.key,
		"fields": map[string]interface{}{
			"summary": summary,
			"status":  map[string]string{"name": "To Do"},
			"created": is.created.Format("2006-01-02T15:04:05.000-0700"),
		},
	}
}

// projectFromJQL extracts the value of a leading "project = X" clause.
func projectFromJQL(jql string) string {
	fields := strings.Fields(jql)
	for i := 0; i+2 < len(fields); i++ {
		if strings.EqualFold(fields[i], "project") && fields[i+1] == "=" {
			return strings.Trim(fields[i+2], `"'`)
		}
	}
	return ""
}

func nestedString(m map[string]interface{}, outer, inner string) string {
	sub, ok := m[outer].(map[string]interface{})
	if !ok {
		return ""
	}
	v, _ := sub[inner].(string)
	return v
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"errorMessages": []string{msg},
		"errors":        map[string]string{},
	})
}
