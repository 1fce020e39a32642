// Package backend is the typed client for the remote workflow and query API.
// Every call runs through a circuit breaker and a retry policy, forwards the
// caller's bearer token, correlation id and trace context, and returns
// failures as model.ErrorEnvelope codes the questionnaire understands.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/msdsdraft/internal/config"
	"github.com/pitabwire/msdsdraft/internal/observability"
	"github.com/pitabwire/msdsdraft/model"
)

// Operation names, used for metrics labels and span attributes.
const (
	OpGetWorkflow  = "get_workflow"
	OpPushDraft    = "push_draft"
	OpSubmit       = "submit_questionnaire"
	OpListQueries  = "list_queries"
	OpCreateQuery  = "create_query"
	OpResolveQuery = "resolve_query"
	OpPing         = "ping"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 10 << 20

// Workflow is the part of a backend workflow record the questionnaire uses.
type Workflow struct {
	ID                string                `json:"id"`
	Status            string                `json:"status,omitempty"`
	MaterialName      string                `json:"materialName,omitempty"`
	ExistingResponses []model.ResponseEntry `json:"existingResponses"`
}

// DraftPush is the body of a draft-responses call.
type DraftPush struct {
	Responses      []model.ResponseEntry `json:"responses"`
	CurrentStep    int                   `json:"currentStep"`
	CompletedSteps []int                 `json:"completedSteps"`
}

// Submission is the body of a submit-questionnaire call.
type Submission struct {
	Responses            []model.ResponseEntry `json:"responses"`
	CompletionPercentage int                   `json:"completionPercentage"`
	SubmittedAt          time.Time             `json:"submittedAt"`
	TotalQueries         int                   `json:"totalQueries"`
	OpenQueries          int                   `json:"openQueries"`
}

// Client calls the workflow backend. It is safe for concurrent use.
type Client struct {
	baseURL    string
	healthPath string
	http       *http.Client
	breaker    *CircuitBreaker
	retry      config.RetryConfig
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithClock replaces time.Now for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a client for the backend described by cfg.
func NewClient(cfg config.BackendConfig, opts ...Option) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend: invalid base url %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}

	c := &Client{
		baseURL:    base,
		healthPath: healthPath,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxConnsPerHost:     10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		breaker: NewCircuitBreaker(cfg.CircuitBreaker),
		retry:   cfg.Retry,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker.OnStateChange(func(s BreakerState) {
		c.metrics.SetBackendCircuitBreakerState(float64(s))
		c.logger.Warn("backend circuit breaker changed state", zap.Stringer("state", s))
	})
	return c, nil
}

// Breaker exposes the circuit breaker for diagnostics.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// GetWorkflow fetches the workflow record with its existing responses.
func (c *Client) GetWorkflow(ctx context.Context, workflowID string) (Workflow, error) {
	var wf Workflow
	err := c.do(ctx, request{
		operation:  OpGetWorkflow,
		method:     http.MethodGet,
		path:       "/workflows/" + url.PathEscape(workflowID),
		idempotent: true,
		out:        &wf,
	})
	return wf, err
}

// PushDraft stores the draft answers on the backend. The call overwrites the
// remote draft, so it is safe to retry.
func (c *Client) PushDraft(ctx context.Context, workflowID string, push DraftPush) error {
	return c.do(ctx, request{
		operation:  OpPushDraft,
		method:     http.MethodPost,
		path:       "/workflows/" + url.PathEscape(workflowID) + "/draft-responses",
		body:       push,
		idempotent: true,
	})
}

// SubmitQuestionnaire submits the final answers. One idempotency key is used
// for every attempt of the call.
func (c *Client) SubmitQuestionnaire(ctx context.Context, workflowID string, sub Submission) error {
	return c.do(ctx, request{
		operation:  OpSubmit,
		method:     http.MethodPost,
		path:       "/workflows/" + url.PathEscape(workflowID) + "/submit-questionnaire",
		body:       sub,
		idempotent: true,
		headers:    map[string]string{"X-Idempotency-Key": uuid.NewString()},
	})
}

// ListQueries returns every query thread of a workflow.
func (c *Client) ListQueries(ctx context.Context, workflowID string) ([]model.QueryThread, error) {
	var threads []model.QueryThread
	err := c.do(ctx, request{
		operation:  OpListQueries,
		method:     http.MethodGet,
		path:       "/queries/workflow/" + url.PathEscape(workflowID),
		idempotent: true,
		out:        &threads,
	})
	return threads, err
}

// CreateQuery raises a new query thread.
func (c *Client) CreateQuery(ctx context.Context, req model.CreateQueryRequest) (model.QueryThread, error) {
	var thread model.QueryThread
	err := c.do(ctx, request{
		operation: OpCreateQuery,
		method:    http.MethodPost,
		path:      "/queries",
		body:      req,
		out:       &thread,
	})
	return thread, err
}

// ResolveQuery answers and closes a query thread.
func (c *Client) ResolveQuery(ctx context.Context, queryID, response string) (model.QueryThread, error) {
	var thread model.QueryThread
	err := c.do(ctx, request{
		operation:  OpResolveQuery,
		method:     http.MethodPost,
		path:       "/queries/" + url.PathEscape(queryID) + "/resolve",
		body:       map[string]string{"response": response},
		idempotent: true,
		out:        &thread,
	})
	return thread, err
}

// Ping calls the backend health endpoint once. It bypasses the circuit
// breaker and retries so it always reflects current reachability.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return fmt.Errorf("backend ping: build request: %w", err)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordBackendRequest(OpPing, 0, time.Since(start))
		return fmt.Errorf("backend ping: %v: %w", err, model.NewNetworkUnavailableError())
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	resp.Body.Close()
	c.metrics.RecordBackendRequest(OpPing, resp.StatusCode, time.Since(start))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("backend ping: %w", model.NewServerError(resp.StatusCode))
	}
	return nil
}

// HealthCheck implements observability.HealthChecker.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.Ping(ctx)
}

type request struct {
	operation  string
	method     string
	path       string
	body       any
	idempotent bool
	headers    map[string]string
	out        any
}

// do runs req with tracing, token expiry detection, retry and decoding.
func (c *Client) do(ctx context.Context, req request) (err error) {
	ctx, span := observability.StartSpan(ctx, "backend."+req.operation,
		observability.AttrOperation.String(req.operation),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	rctx := model.RequestContextFrom(ctx)
	if rctx != nil && tokenExpired(rctx.Token, c.now()) {
		return fmt.Errorf("backend %s: %w", req.operation, model.NewAuthExpiredError())
	}

	var payload []byte
	if req.body != nil {
		payload, err = json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("backend %s: encode body: %w", req.operation, err)
		}
	}
	headers := c.headers(ctx, rctx, req, payload != nil)

	body, err := c.executeWithRetry(ctx, req, headers, payload)
	if err != nil {
		return err
	}
	if req.out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, req.out); err != nil {
			return fmt.Errorf("backend %s: decode response: %w", req.operation, err)
		}
	}
	return nil
}

func (c *Client) headers(ctx context.Context, rctx *model.RequestContext, req request, hasBody bool) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if hasBody {
		h.Set("Content-Type", "application/json")
	}

	correlationID := ""
	if rctx != nil {
		if rctx.Token != "" {
			h.Set("Authorization", "Bearer "+sanitizeHeader(rctx.Token))
		}
		correlationID = rctx.CorrelationID
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	h.Set("X-Correlation-Id", sanitizeHeader(correlationID))

	for k, v := range req.headers {
		h.Set(k, sanitizeHeader(v))
	}
	observability.InjectTraceHeaders(ctx, h)
	return h
}

func (c *Client) executeWithRetry(ctx context.Context, req request, headers http.Header, payload []byte) ([]byte, error) {
	maxAttempts := c.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	canRetry := req.idempotent || !c.retry.IdempotentOnly

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.metrics.RecordBackendRetry(req.operation)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("backend %s: %v: %w", req.operation, ctx.Err(), model.NewNetworkUnavailableError())
			case <-time.After(backoff(c.retry, attempt)):
			}
		}

		body, err := c.executeOnce(ctx, req, headers, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !canRetry || !retryable(ctx, err) {
			return nil, err
		}
		c.logger.Debug("retrying backend call",
			zap.String("operation", req.operation),
			zap.Int("attempt", attempt+1),
			zap.Int("max", maxAttempts),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

func (c *Client) executeOnce(ctx context.Context, req request, headers http.Header, payload []byte) ([]byte, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, fmt.Errorf("backend %s: %w: %w", req.operation, err, model.NewServerError(http.StatusServiceUnavailable))
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, fmt.Errorf("backend %s: build request: %w", req.operation, err)
	}
	httpReq.Header = headers.Clone()

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.breaker.RecordFailure()
		c.metrics.RecordBackendRequest(req.operation, 0, time.Since(start))
		return nil, fmt.Errorf("backend %s: %v: %w", req.operation, err, model.NewNetworkUnavailableError())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.metrics.RecordBackendRequest(req.operation, resp.StatusCode, time.Since(start))
	if err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("backend %s: read response: %v: %w", req.operation, err, model.NewNetworkUnavailableError())
	}

	switch {
	case resp.StatusCode >= 500:
		c.breaker.RecordFailure()
	case resp.StatusCode < 400:
		c.breaker.RecordSuccess()
	}

	if err := classifyStatus(resp.StatusCode, respBody); err != nil {
		return nil, fmt.Errorf("backend %s: %w", req.operation, err)
	}
	return respBody, nil
}

// retryable reports whether a failed attempt may be repeated: transport
// failures and gateway-class 5xx, but never an open breaker or a cancelled
// caller.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	ee, ok := model.AsEnvelope(err)
	if !ok {
		return false
	}
	return ee.Code == model.ErrNetworkUnavailable || ee.Code == model.ErrServerError
}

func backoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay >= cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	return delay
}

// sanitizeHeader strips CR and LF to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}
