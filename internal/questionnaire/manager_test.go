package questionnaire_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/msdsdraft/internal/backend"
	"github.com/pitabwire/msdsdraft/internal/observability"
	"github.com/pitabwire/msdsdraft/internal/questionnaire"
	draftsync "github.com/pitabwire/msdsdraft/internal/sync"
	"github.com/pitabwire/msdsdraft/model"
)

func newManager(t *testing.T, e *env, conn *draftsync.Connectivity) (*questionnaire.Manager, *observability.Metrics) {
	t.Helper()
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	m := questionnaire.NewManager(e.schema, e.store, e.client, conn, nil, metrics)
	t.Cleanup(func() { _ = m.CloseAll(context.Background()) })
	return m, metrics
}

func TestManager_OpenGetClose(t *testing.T) {
	e := newEnv(t)
	e.srv.AddWorkflow("42")
	m, metrics := newManager(t, e, draftsync.NewConnectivity(true, nil, nil))

	_, err := m.Get(context.Background(), "42")
	assert.True(t, model.HasCode(err, model.ErrNotFound))

	c, err := m.Open(session(), "42")
	require.NoError(t, err)
	assert.Equal(t, questionnaire.StateReady, c.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.OpenQuestionnaires))

	again, err := m.Open(session(), "42")
	require.NoError(t, err)
	assert.Same(t, c, again)
	got, err := m.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Same(t, c, got)
	assert.Equal(t, 1, e.srv.Count(backend.OpGetWorkflow))

	require.NoError(t, m.Close(context.Background(), "42"))
	assert.Zero(t, m.Len())
	assert.Zero(t, testutil.ToFloat64(metrics.OpenQuestionnaires))
	assert.True(t, model.HasCode(m.Close(context.Background(), "42"), model.ErrNotFound))
}

func TestManager_OpenFailureIsNotKept(t *testing.T) {
	e := newEnv(t)
	m, _ := newManager(t, e, draftsync.NewConnectivity(true, nil, nil))

	_, err := m.Open(session(), "unknown")

	assert.True(t, model.HasCode(err, model.ErrNotFound))
	assert.Zero(t, m.Len())
	_, err = m.Open(session(), "")
	assert.True(t, model.HasCode(err, model.ErrBadRequest))
}

func TestManager_ConcurrentOpensShareOneLoad(t *testing.T) {
	e := newEnv(t)
	e.srv.AddWorkflow("42")
	m, _ := newManager(t, e, draftsync.NewConnectivity(true, nil, nil))
	release := e.srv.Block(backend.OpGetWorkflow)

	var wg sync.WaitGroup
	results := make([]*questionnaire.Controller, 3)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := m.Open(session(), "42")
			assert.NoError(t, err)
			results[i] = c
		}()
	}
	require.Eventually(t, func() bool { return e.srv.Count(backend.OpGetWorkflow) == 1 }, time.Second, 5*time.Millisecond)
	release()
	wg.Wait()

	assert.Equal(t, 1, e.srv.Count(backend.OpGetWorkflow))
	for _, c := range results {
		assert.Same(t, results[0], c)
	}
}

func TestManager_ConnectivityReachesControllers(t *testing.T) {
	e := newEnv(t)
	e.srv.AddWorkflow("42")
	conn := draftsync.NewConnectivity(true, nil, nil)
	m, _ := newManager(t, e, conn)
	c, err := m.Open(session(), "42")
	require.NoError(t, err)

	conn.Set(context.Background(), false)
	require.NoError(t, c.SetAnswer(session(), "materialName", "Acetone"))
	result, err := c.Save(session(), true)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Zero(t, e.srv.Count(backend.OpPushDraft))

	conn.Set(context.Background(), true)

	assert.Equal(t, 1, e.srv.Count(backend.OpPushDraft))
	assert.False(t, c.View().Sync.PendingSync)

	require.NoError(t, m.Close(context.Background(), "42"))
	conn.Set(context.Background(), false)
	assert.True(t, c.Coordinator().Status().Online, "closed controllers are unsubscribed")
}

func TestManager_CloseAll(t *testing.T) {
	e := newEnv(t)
	e.srv.AddWorkflow("42")
	e.srv.AddWorkflow("43")
	m, metrics := newManager(t, e, draftsync.NewConnectivity(true, nil, nil))
	for _, id := range []string{"42", "43"} {
		_, err := m.Open(session(), id)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, m.Len())

	require.NoError(t, m.CloseAll(context.Background()))

	assert.Zero(t, m.Len())
	assert.Zero(t, testutil.ToFloat64(metrics.OpenQuestionnaires))
}
