package questionnaire

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/msdsdraft/internal/observability"
	"github.com/pitabwire/msdsdraft/internal/schema"
	draftsync "github.com/pitabwire/msdsdraft/internal/sync"
	"github.com/pitabwire/msdsdraft/model"
)

// Manager keeps one loaded controller per workflow in this process and
// connects each to the connectivity monitor.
type Manager struct {
	schema  *schema.Schema
	store   DraftStore
	api     Backend
	conn    *draftsync.Connectivity
	opts    []Option
	logger  *zap.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	ctrl   *Controller
	cancel func()
	ready  chan struct{}
	err    error
}

// NewManager creates a manager. opts are applied to every controller it
// opens; the initial connectivity is always taken from conn.
func NewManager(sch *schema.Schema, store DraftStore, api Backend, conn *draftsync.Connectivity, logger *zap.Logger, metrics *observability.Metrics, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		schema:  sch,
		store:   store,
		api:     api,
		conn:    conn,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		entries: make(map[string]*entry),
	}
}

// Open returns the loaded controller of workflowID, loading it first when
// it is not open yet. Concurrent opens of one workflow share a single load.
func (m *Manager) Open(ctx context.Context, workflowID string) (*Controller, error) {
	if workflowID == "" {
		return nil, model.NewBadRequestError("workflow id is required")
	}

	m.mu.Lock()
	if e, ok := m.entries[workflowID]; ok {
		m.mu.Unlock()
		return m.await(ctx, e)
	}
	opts := append(slices.Clone(m.opts),
		WithLogger(m.logger),
		WithMetrics(m.metrics),
		WithOnline(m.conn.Online()),
	)
	ctrl := NewController(workflowID, m.schema, m.store, m.api, opts...)
	e := &entry{ctrl: ctrl, ready: make(chan struct{})}
	m.entries[workflowID] = e
	m.mu.Unlock()

	e.err = ctrl.Load(ctx)
	if e.err != nil {
		m.mu.Lock()
		delete(m.entries, workflowID)
		m.mu.Unlock()
		ctrl.Close(ctx)
		close(e.ready)
		return nil, e.err
	}
	e.cancel = m.conn.Subscribe(ctrl.Coordinator().SetOnline)
	// The monitor may have changed while loading.
	ctrl.Coordinator().SetOnline(ctx, m.conn.Online())
	m.metrics.AddOpenQuestionnaires(1)
	close(e.ready)
	return ctrl, nil
}

func (m *Manager) await(ctx context.Context, e *entry) (*Controller, error) {
	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.ctrl, nil
}

// Get returns the controller of an open workflow, NOT_FOUND otherwise.
func (m *Manager) Get(ctx context.Context, workflowID string) (*Controller, error) {
	m.mu.Lock()
	e, ok := m.entries[workflowID]
	m.mu.Unlock()
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("questionnaire %q is not open", workflowID))
	}
	return m.await(ctx, e)
}

// Close closes and forgets the controller of workflowID.
func (m *Manager) Close(ctx context.Context, workflowID string) error {
	m.mu.Lock()
	e, ok := m.entries[workflowID]
	if ok {
		select {
		case <-e.ready:
			delete(m.entries, workflowID)
		default:
			m.mu.Unlock()
			return model.NewConflictError(fmt.Sprintf("questionnaire %q is still loading", workflowID))
		}
	}
	m.mu.Unlock()
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("questionnaire %q is not open", workflowID))
	}
	m.closeEntry(ctx, e)
	return nil
}

// CloseAll closes every loaded controller and waits for their pushes to
// finish or ctx to end.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	var closing []*entry
	for id, e := range m.entries {
		select {
		case <-e.ready:
			closing = append(closing, e)
			delete(m.entries, id)
		default:
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, e := range closing {
		m.closeEntry(ctx, e)
		if err := e.ctrl.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for %s: %w", e.ctrl.WorkflowID(), err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of open questionnaires.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) closeEntry(ctx context.Context, e *entry) {
	if e.err != nil {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.ctrl.Close(ctx)
	m.metrics.AddOpenQuestionnaires(-1)
	m.logger.Debug("questionnaire closed", zap.String("workflow_id", e.ctrl.WorkflowID()))
}
