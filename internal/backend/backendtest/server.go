// Package backendtest provides an in-process fake of the workflow backend
// for tests. It keeps workflows, drafts, submissions and query threads in
// memory, records every request, and can be told to fail, drop or stall
// individual operations.
package backendtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pitabwire/msdsdraft/internal/backend"
	"github.com/pitabwire/msdsdraft/model"
)

// RecordedRequest captures a request received by the server.
type RecordedRequest struct {
	Operation string
	Method    string
	Path      string
	Headers   http.Header
	Body      []byte
}

// Decode unmarshals the recorded body into v.
func (r RecordedRequest) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

type fault struct {
	status int
	body   any
	drop   bool
}

// Server is a fake workflow backend.
type Server struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	workflows   map[string]backend.Workflow
	drafts      map[string]backend.DraftPush
	submissions map[string]backend.Submission
	queries     []model.QueryThread
	nextQueryID int
	requests    []RecordedRequest
	faults      map[string][]fault
	gates       map[string]chan struct{}
	healthy     bool
}

// New starts a server and registers its shutdown with t.Cleanup.
func New(t *testing.T) *Server {
	t.Helper()

	s := &Server{
		t:           t,
		workflows:   make(map[string]backend.Workflow),
		drafts:      make(map[string]backend.DraftPush),
		submissions: make(map[string]backend.Submission),
		faults:      make(map[string][]fault),
		gates:       make(map[string]chan struct{}),
		healthy:     true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handle(backend.OpPing, s.health))
	mux.HandleFunc("GET /workflows/{id}", s.handle(backend.OpGetWorkflow, s.getWorkflow))
	mux.HandleFunc("POST /workflows/{id}/draft-responses", s.handle(backend.OpPushDraft, s.pushDraft))
	mux.HandleFunc("POST /workflows/{id}/submit-questionnaire", s.handle(backend.OpSubmit, s.submit))
	mux.HandleFunc("GET /queries/workflow/{id}", s.handle(backend.OpListQueries, s.listQueries))
	mux.HandleFunc("POST /queries", s.handle(backend.OpCreateQuery, s.createQuery))
	mux.HandleFunc("POST /queries/{id}/resolve", s.handle(backend.OpResolveQuery, s.resolveQuery))

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// URL returns the base URL of the server.
func (s *Server) URL() string {
	return s.srv.URL
}

// Close releases blocked handlers and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	for op, gate := range s.gates {
		close(gate)
		delete(s.gates, op)
	}
	s.mu.Unlock()
	s.srv.Close()
}

// AddWorkflow registers a workflow with optional existing responses.
func (s *Server) AddWorkflow(id string, existing ...model.ResponseEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[id] = backend.Workflow{ID: id, Status: "QUESTIONNAIRE_PENDING", ExistingResponses: existing}
}

// AddQuery registers a query thread. An empty ID is filled in.
func (s *Server) AddQuery(q model.QueryThread) model.QueryThread {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == "" {
		s.nextQueryID++
		q.ID = "q-" + strconv.Itoa(s.nextQueryID)
	}
	if q.Status == "" {
		q.Status = model.QueryStatusOpen
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	s.queries = append(s.queries, q)
	return q
}

// FailNext makes the next call of operation answer with status and body.
func (s *Server) FailNext(operation string, status int, body any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[operation] = append(s.faults[operation], fault{status: status, body: body})
}

// DropNext makes the next call of operation close the connection without a
// response.
func (s *Server) DropNext(operation string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[operation] = append(s.faults[operation], fault{drop: true})
}

// SetHealthy controls the health endpoint.
func (s *Server) SetHealthy(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = ok
}

// Block stalls every call of operation until the returned release function
// runs. Requests are recorded before they stall.
func (s *Server) Block(operation string) (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gates[operation] = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gates[operation] == gate {
				delete(s.gates, operation)
				close(gate)
			}
			s.mu.Unlock()
		})
	}
}

// Requests returns the recorded requests for operation, oldest first.
func (s *Server) Requests(operation string) []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RecordedRequest
	for _, r := range s.requests {
		if r.Operation == operation {
			out = append(out, r)
		}
	}
	return out
}

// Count returns how many calls of operation were received.
func (s *Server) Count(operation string) int {
	return len(s.Requests(operation))
}

// Draft returns the last draft pushed for workflowID.
func (s *Server) Draft(workflowID string) (backend.DraftPush, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[workflowID]
	return d, ok
}

// Submission returns the submission received for workflowID.
func (s *Server) Submission(workflowID string) (backend.Submission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[workflowID]
	return sub, ok
}

// Queries returns a copy of all query threads.
func (s *Server) Queries() []model.QueryThread {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.QueryThread, len(s.queries))
	copy(out, s.queries)
	return out
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, body []byte)

// handle records the request, applies queued faults and gates, then runs h.
func (s *Server) handle(operation string, h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Operation: operation,
			Method:    r.Method,
			Path:      r.URL.Path,
			Headers:   r.Header.Clone(),
			Body:      body,
		})
		var f *fault
		if queued := s.faults[operation]; len(queued) > 0 {
			f = &queued[0]
			s.faults[operation] = queued[1:]
		}
		gate := s.gates[operation]
		s.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}

		if f != nil {
			if f.drop {
				hj, ok := w.(http.Hijacker)
				if !ok {
					s.t.Errorf("backendtest: response writer cannot hijack")
					return
				}
				conn, _, err := hj.Hijack()
				if err == nil {
					conn.Close()
				}
				return
			}
			writeJSON(w, f.status, f.body)
			return
		}

		h(w, r, body)
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request, _ []byte) {
	s.mu.Lock()
	ok := s.healthy
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request, _ []byte) {
	id := r.PathValue("id")
	s.mu.Lock()
	wf, ok := s.workflows[id]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": fmt.Sprintf("workflow %s not found", id)})
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) pushDraft(w http.ResponseWriter, r *http.Request, body []byte) {
	var push backend.DraftPush
	if err := json.Unmarshal(body, &push); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	id := r.PathValue("id")
	s.mu.Lock()
	s.drafts[id] = push
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, body []byte) {
	var sub backend.Submission
	if err := json.Unmarshal(body, &sub); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	id := r.PathValue("id")
	s.mu.Lock()
	s.submissions[id] = sub
	if wf, ok := s.workflows[id]; ok {
		wf.Status = "QUESTIONNAIRE_SUBMITTED"
		wf.ExistingResponses = sub.Responses
		s.workflows[id] = wf
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "submitted"})
}

func (s *Server) listQueries(w http.ResponseWriter, r *http.Request, _ []byte) {
	id := r.PathValue("id")
	s.mu.Lock()
	out := []model.QueryThread{}
	for _, q := range s.queries {
		if q.WorkflowID == id {
			out = append(out, q)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createQuery(w http.ResponseWriter, r *http.Request, body []byte) {
	var req model.CreateQueryRequest
	if err := json.Unmarshal(body, &req); err != nil || req.FieldName == "" || req.Question == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "fieldName and question are required",
			"errors":  map[string]string{"question": "required"},
		})
		return
	}
	q := s.AddQuery(model.QueryThread{
		WorkflowID:   req.WorkflowID,
		FieldName:    req.FieldName,
		StepNumber:   req.StepNumber,
		Question:     req.Question,
		AssignedTeam: req.AssignedTeam,
		Priority:     req.Priority,
		RaisedBy:     r.Header.Get("X-Request-Subject"),
	})
	writeJSON(w, http.StatusCreated, q)
}

func (s *Server) resolveQuery(w http.ResponseWriter, r *http.Request, body []byte) {
	var req struct {
		Response string `json:"response"`
	}
	_ = json.Unmarshal(body, &req)
	id := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queries {
		if s.queries[i].ID != id {
			continue
		}
		now := time.Now().UTC()
		s.queries[i].Status = model.QueryStatusResolved
		s.queries[i].Response = req.Response
		s.queries[i].ResolvedAt = &now
		writeJSON(w, http.StatusOK, s.queries[i])
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "query not found"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}
