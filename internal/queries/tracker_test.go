package queries_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/msdsdraft/internal/backend"
	"github.com/pitabwire/msdsdraft/internal/backend/backendtest"
	"github.com/pitabwire/msdsdraft/internal/config"
	"github.com/pitabwire/msdsdraft/internal/observability"
	"github.com/pitabwire/msdsdraft/internal/queries"
	"github.com/pitabwire/msdsdraft/model"
)

type trackerEnv struct {
	srv     *backendtest.Server
	tracker *queries.Tracker
	metrics *observability.Metrics
	now     time.Time
}

func newTrackerEnv(t *testing.T) *trackerEnv {
	t.Helper()
	srv := backendtest.New(t)
	srv.AddWorkflow("wf-1")

	client, err := backend.NewClient(config.BackendConfig{
		BaseURL: srv.URL(),
		Timeout: 2 * time.Second,
		Retry:   config.RetryConfig{MaxAttempts: 1},
	})
	require.NoError(t, err)

	env := &trackerEnv{
		srv:     srv,
		metrics: observability.InitMetrics(prometheus.NewRegistry()),
		now:     time.Now().UTC(),
	}
	env.tracker = queries.NewTracker("wf-1", client,
		queries.WithClock(func() time.Time { return env.now }),
		queries.WithMetrics(env.metrics),
	)
	return env
}

func TestTracker_Refresh(t *testing.T) {
	env := newTrackerEnv(t)
	env.srv.AddQuery(model.QueryThread{WorkflowID: "wf-1", FieldName: "casNumber", StepNumber: 1, Question: "CAS?"})
	env.srv.AddQuery(model.QueryThread{WorkflowID: "wf-2", FieldName: "casNumber", StepNumber: 1, Question: "other workflow"})

	assert.True(t, env.tracker.Stale())
	require.NoError(t, env.tracker.Refresh(context.Background()))

	idx := env.tracker.Index()
	assert.Equal(t, 1, idx.Total())
	assert.True(t, idx.HasOpen("casNumber"))
	assert.False(t, env.tracker.Stale())
	assert.Equal(t, env.now, env.tracker.RefreshedAt())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.QueryRefreshesTotal.WithLabelValues("ok")))
}

func TestTracker_RefreshFailureKeepsIndex(t *testing.T) {
	env := newTrackerEnv(t)
	env.srv.AddQuery(model.QueryThread{WorkflowID: "wf-1", FieldName: "casNumber", StepNumber: 1, Question: "CAS?"})
	require.NoError(t, env.tracker.Refresh(context.Background()))

	env.srv.FailNext(backend.OpListQueries, http.StatusInternalServerError, nil)
	err := env.tracker.Refresh(context.Background())

	require.Error(t, err)
	assert.True(t, model.HasCode(err, model.ErrServerError))
	assert.Equal(t, 1, env.tracker.Index().OpenCount())
	assert.True(t, env.tracker.Stale())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.QueryRefreshesTotal.WithLabelValues("failed")))
}

func TestTracker_Raise(t *testing.T) {
	env := newTrackerEnv(t)

	created, err := env.tracker.Raise(context.Background(), model.CreateQueryRequest{
		FieldName:  "flashPoint",
		StepNumber: 3,
		Question:   "  Which method was used?  ",
		Priority:   "HIGH",
	})

	require.NoError(t, err)
	assert.Equal(t, "wf-1", created.WorkflowID)
	assert.Equal(t, "Which method was used?", created.Question)
	assert.True(t, env.tracker.Index().HasOpen("flashPoint"))
	assert.Equal(t, 1, env.srv.Count(backend.OpCreateQuery))
	assert.Equal(t, 1, env.srv.Count(backend.OpListQueries), "refresh after create")
}

func TestTracker_RaiseValidation(t *testing.T) {
	env := newTrackerEnv(t)

	_, err := env.tracker.Raise(context.Background(), model.CreateQueryRequest{FieldName: "flashPoint", Question: "   "})

	require.Error(t, err)
	assert.True(t, model.HasCode(err, model.ErrBadRequest))
	assert.Zero(t, env.srv.Count(backend.OpCreateQuery))
}

func TestTracker_RaiseKeepsThreadWhenRefreshFails(t *testing.T) {
	env := newTrackerEnv(t)
	env.srv.FailNext(backend.OpListQueries, http.StatusBadGateway, nil)

	created, err := env.tracker.Raise(context.Background(), model.CreateQueryRequest{
		FieldName: "flashPoint", StepNumber: 3, Question: "Method?",
	})

	require.NoError(t, err)
	got := env.tracker.Index().ForField("flashPoint")
	require.Len(t, got, 1)
	assert.Equal(t, created.ID, got[0].ID)
	assert.True(t, env.tracker.Stale())
}

func TestTracker_ResolveAndBadges(t *testing.T) {
	env := newTrackerEnv(t)
	q := env.srv.AddQuery(model.QueryThread{
		WorkflowID: "wf-1", FieldName: "casNumber", StepNumber: 1, Question: "CAS?",
		CreatedAt: env.now.Add(-100 * time.Hour),
	})
	require.NoError(t, env.tracker.Refresh(context.Background()))

	badge := env.tracker.Badge("casNumber")
	assert.Equal(t, queries.BadgeOpen, badge.State)
	assert.Equal(t, 1, badge.Open)
	assert.True(t, badge.Overdue)
	assert.Equal(t, queries.BadgeNone, env.tracker.Badge("materialName").State)

	env.tracker.MarkViewed("casNumber")
	resolved, err := env.tracker.Resolve(context.Background(), q.ID, "67-64-1")
	require.NoError(t, err)
	assert.Equal(t, model.QueryStatusResolved, resolved.Status)

	badge = env.tracker.Badge("casNumber")
	assert.Equal(t, queries.BadgeResolvedUnseen, badge.State)
	assert.False(t, badge.Overdue)
	assert.Zero(t, env.tracker.Index().OpenCount())

	env.now = time.Now().UTC().Add(time.Minute)
	env.tracker.MarkViewed("casNumber")
	assert.Equal(t, queries.BadgeResolved, env.tracker.Badge("casNumber").State)
}

func TestTracker_ResolveErrors(t *testing.T) {
	env := newTrackerEnv(t)

	_, err := env.tracker.Resolve(context.Background(), "q-1", " ")
	assert.True(t, model.HasCode(err, model.ErrBadRequest))

	_, err = env.tracker.Resolve(context.Background(), "q-404", "answer")
	assert.True(t, model.HasCode(err, model.ErrNotFound))
}
