package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/msdsdraft/internal/observability"
	"github.com/pitabwire/msdsdraft/model"
)

// Defaults for Store options.
const (
	DefaultKeyPrefix = "msds_draft_"
	DefaultRetention = 7 * 24 * time.Hour
)

// Store keeps one DraftRecord per workflow on top of a Backend and enforces
// the retention window. Corrupt or expired entries are evicted on sight and
// never reported to callers as errors.
type Store struct {
	backend   Backend
	prefix    string
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix sets the key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithRetention sets how long a draft stays loadable after capture.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates a Store over backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		prefix:    DefaultKeyPrefix,
		retention: DefaultRetention,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

func (s *Store) key(workflowID string) string {
	return s.prefix + workflowID
}

// Load returns the draft for workflowID, or nil when there is none, it is
// older than the retention window, or it cannot be decoded. Expired and
// corrupt entries are deleted.
func (s *Store) Load(ctx context.Context, workflowID string) (*model.DraftRecord, error) {
	key := s.key(workflowID)
	raw, found, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("draft: load %s: %w", workflowID, model.NewPersistenceError(err.Error()))
	}
	if !found {
		s.metrics.RecordDraftLoad("miss")
		return nil, nil
	}

	rec, err := decode(raw)
	if err != nil {
		s.logger.Warn("evicting corrupt draft",
			zap.String("workflow_id", workflowID),
			zap.Error(err),
		)
		s.evict(ctx, key, "corrupt")
		s.metrics.RecordDraftLoad("corrupt")
		return nil, nil
	}

	if s.expired(rec) {
		s.logger.Warn("evicting expired draft",
			zap.String("workflow_id", workflowID),
			zap.Time("captured_at", rec.CapturedAt()),
		)
		s.evict(ctx, key, "expired")
		s.metrics.RecordDraftLoad("expired")
		return nil, nil
	}

	rec.WorkflowID = workflowID
	s.metrics.RecordDraftLoad("hit")
	return &rec, nil
}

// Save stamps rec with the current time and overwrites the stored draft for
// its workflow. When the backend is full, other workflows' expired drafts are
// evicted and the write is retried once. A failed write returns
// PERSISTENCE_ERROR; callers keep their in-memory state.
func (s *Store) Save(ctx context.Context, rec model.DraftRecord) (model.DraftRecord, error) {
	if rec.WorkflowID == "" {
		return rec, model.NewBadRequestError("draft: workflow id is required")
	}
	rec.CapturedAtEpochMs = s.now().UnixMilli()
	rec.CompletedStepIndexes = model.NormalizeSteps(rec.CompletedStepIndexes)
	rec.Answers = rec.Answers.Clone()
	if rec.SyncStatus == "" {
		rec.SyncStatus = model.SyncStatusPending
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return rec, fmt.Errorf("draft: encode %s: %w", rec.WorkflowID, err)
	}

	key := s.key(rec.WorkflowID)
	err = s.backend.Put(ctx, key, data)
	if errors.Is(err, ErrStorageFull) {
		evicted, evictErr := s.EvictExpired(ctx, rec.WorkflowID)
		s.logger.Warn("draft storage full, evicted expired drafts before retry",
			zap.String("workflow_id", rec.WorkflowID),
			zap.Int("evicted", evicted),
			zap.NamedError("evict_error", evictErr),
		)
		err = s.backend.Put(ctx, key, data)
		if err == nil {
			s.metrics.RecordDraftSave("retried")
			return rec, nil
		}
	}
	if err != nil {
		s.metrics.RecordDraftSave("failed")
		return rec, model.NewPersistenceError(fmt.Sprintf("draft for workflow %s was not saved locally: %v", rec.WorkflowID, err))
	}

	s.metrics.RecordDraftSave("ok")
	return rec, nil
}

// Clear removes the draft for workflowID.
func (s *Store) Clear(ctx context.Context, workflowID string) error {
	if err := s.backend.Delete(ctx, s.key(workflowID)); err != nil {
		return model.NewPersistenceError(fmt.Sprintf("draft for workflow %s was not cleared: %v", workflowID, err))
	}
	return nil
}

// EvictExpired deletes every expired or corrupt draft except the one for
// except, and returns how many were deleted.
func (s *Store) EvictExpired(ctx context.Context, except string) (int, error) {
	keys, err := s.backend.Keys(ctx, s.prefix)
	if err != nil {
		return 0, fmt.Errorf("draft: list drafts: %w", err)
	}

	skip := ""
	if except != "" {
		skip = s.key(except)
	}

	var evicted int
	var errs []error
	for _, key := range keys {
		if key == skip || !strings.HasPrefix(key, s.prefix) {
			continue
		}
		raw, found, err := s.backend.Get(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !found {
			continue
		}
		reason := ""
		if rec, err := decode(raw); err != nil {
			reason = "corrupt"
		} else if s.expired(rec) {
			reason = "expired"
		}
		if reason == "" {
			continue
		}
		if err := s.backend.Delete(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		s.metrics.RecordDraftEvictions(reason, 1)
		evicted++
	}
	return evicted, errors.Join(errs...)
}

// HealthCheck verifies the backend is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.backend.HealthCheck(ctx)
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) expired(rec model.DraftRecord) bool {
	return s.now().Sub(rec.CapturedAt()) >= s.retention
}

func (s *Store) evict(ctx context.Context, key, reason string) {
	if err := s.backend.Delete(ctx, key); err != nil {
		s.logger.Warn("draft eviction failed", zap.String("key", key), zap.Error(err))
		return
	}
	s.metrics.RecordDraftEvictions(reason, 1)
}

func decode(raw []byte) (model.DraftRecord, error) {
	var rec model.DraftRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.DraftRecord{}, err
	}
	if rec.CapturedAtEpochMs <= 0 {
		return model.DraftRecord{}, errors.New("missing capture time")
	}
	clean := make(model.AnswerSet, len(rec.Answers))
	for name, v := range rec.Answers {
		clean.Set(name, v)
	}
	rec.Answers = clean
	return rec, nil
}
