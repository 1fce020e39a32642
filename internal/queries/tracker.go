package queries

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/msdsdraft/internal/observability"
	"github.com/pitabwire/msdsdraft/model"
)

// API is the part of the backend client the tracker uses.
type API interface {
	ListQueries(ctx context.Context, workflowID string) ([]model.QueryThread, error)
	CreateQuery(ctx context.Context, req model.CreateQueryRequest) (model.QueryThread, error)
	ResolveQuery(ctx context.Context, queryID, response string) (model.QueryThread, error)
}

// BadgeState is the query status shown next to a field.
type BadgeState string

// Badge states, in display priority order.
const (
	BadgeNone           BadgeState = "none"
	BadgeOpen           BadgeState = "open"
	BadgeResolvedUnseen BadgeState = "resolved_unseen"
	BadgeResolved       BadgeState = "resolved"
)

// Badge summarizes a field's threads.
type Badge struct {
	Field   string     `json:"field"`
	Step    int        `json:"step"`
	State   BadgeState `json:"state"`
	Open    int        `json:"open"`
	Total   int        `json:"total"`
	Overdue bool       `json:"overdue"`
}

// Tracker caches the query threads of one workflow and refreshes them after
// every change.
type Tracker struct {
	workflowID string
	api        API
	sla        time.Duration
	now        func() time.Time
	logger     *zap.Logger
	metrics    *observability.Metrics

	mu          sync.RWMutex
	index       Index
	viewed      map[string]time.Time
	refreshedAt time.Time
	stale       bool
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithSLA sets the overdue threshold.
func WithSLA(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.sla = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) TrackerOption {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker creates an empty tracker for workflowID.
func NewTracker(workflowID string, api API, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		workflowID: workflowID,
		api:        api,
		sla:        DefaultSLA,
		now:        time.Now,
		logger:     zap.NewNop(),
		index:      IndexByField(nil),
		viewed:     make(map[string]time.Time),
		stale:      true,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Refresh reloads the threads from the backend. On failure the previous
// index is kept and marked stale.
func (t *Tracker) Refresh(ctx context.Context) error {
	threads, err := t.api.ListQueries(ctx, t.workflowID)
	if err != nil {
		t.mu.Lock()
		t.stale = true
		t.mu.Unlock()
		t.metrics.RecordQueryRefresh("failed")
		return fmt.Errorf("refresh queries for %s: %w", t.workflowID, err)
	}

	idx := IndexByField(threads)
	t.mu.Lock()
	t.index = idx
	t.refreshedAt = t.now()
	t.stale = false
	t.mu.Unlock()
	t.metrics.RecordQueryRefresh("ok")
	return nil
}

// Raise creates a thread for this workflow and refreshes. The created
// thread is returned even when the follow-up refresh fails.
func (t *Tracker) Raise(ctx context.Context, req model.CreateQueryRequest) (model.QueryThread, error) {
	req.WorkflowID = t.workflowID
	req.Question = strings.TrimSpace(req.Question)
	if req.FieldName == "" || req.Question == "" {
		return model.QueryThread{}, model.NewBadRequestError("a query needs a field and a question")
	}

	created, err := t.api.CreateQuery(ctx, req)
	if err != nil {
		return model.QueryThread{}, err
	}
	if err := t.Refresh(ctx); err != nil {
		t.logger.Warn("query refresh after create failed", zap.String("workflow_id", t.workflowID), zap.Error(err))
		t.upsert(created)
	}
	return created, nil
}

// Resolve answers a thread and refreshes.
func (t *Tracker) Resolve(ctx context.Context, queryID, response string) (model.QueryThread, error) {
	response = strings.TrimSpace(response)
	if queryID == "" || response == "" {
		return model.QueryThread{}, model.NewBadRequestError("resolving a query needs a response")
	}

	resolved, err := t.api.ResolveQuery(ctx, queryID, response)
	if err != nil {
		return model.QueryThread{}, err
	}
	if err := t.Refresh(ctx); err != nil {
		t.logger.Warn("query refresh after resolve failed", zap.String("workflow_id", t.workflowID), zap.Error(err))
		t.upsert(resolved)
	}
	return resolved, nil
}

// upsert replaces or adds q in the cached index.
func (t *Tracker) upsert(q model.QueryThread) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var threads []model.QueryThread
	for _, name := range t.index.Fields() {
		for _, existing := range t.index.byField[name] {
			if existing.ID != q.ID {
				threads = append(threads, existing)
			}
		}
	}
	t.index = IndexByField(append(threads, q))
	t.stale = true
}

// MarkViewed records that the user looked at a field's threads.
func (t *Tracker) MarkViewed(field string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.viewed[field] = t.now()
}

// Index returns the current index.
func (t *Tracker) Index() Index {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.index
}

// Stale reports whether the last refresh failed or never ran.
func (t *Tracker) Stale() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stale
}

// RefreshedAt returns when the last successful refresh finished.
func (t *Tracker) RefreshedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.refreshedAt
}

// Badge returns the badge of one field, BadgeNone when it has no threads.
func (t *Tracker) Badge(field string) Badge {
	if b, ok := t.Badges()[field]; ok {
		return b
	}
	return Badge{Field: field, State: BadgeNone}
}

// Badges returns the badge of every field with threads.
func (t *Tracker) Badges() map[string]Badge {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	overdue := make(map[string]bool)
	for _, q := range t.index.Overdue(now, t.sla) {
		overdue[q.FieldName] = true
	}

	badges := make(map[string]Badge)
	for _, name := range t.index.Fields() {
		threads := t.index.byField[name]
		b := Badge{
			Field:   name,
			Step:    threads[0].StepNumber,
			Total:   len(threads),
			Overdue: overdue[name],
		}
		for _, q := range threads {
			if q.IsOpen() {
				b.Open++
			}
		}
		switch {
		case b.Open > 0:
			b.State = BadgeOpen
		case t.index.HasResolvedUnseen(name, t.viewed[name]):
			b.State = BadgeResolvedUnseen
		default:
			b.State = BadgeResolved
		}
		badges[name] = b
	}
	return badges
}
