package sync

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pitabwire/msdsdraft/internal/backend"
	"github.com/pitabwire/msdsdraft/internal/observability"
	"github.com/pitabwire/msdsdraft/model"
)

// DefaultPushTimeout bounds a single remote push.
const DefaultPushTimeout = 15 * time.Second

// subscriberBuffer is the per-subscriber event buffer. Events to a full
// subscriber are dropped.
const subscriberBuffer = 32

// DraftSaver persists drafts locally.
type DraftSaver interface {
	Save(ctx context.Context, rec model.DraftRecord) (model.DraftRecord, error)
}

// Pusher sends drafts to the backend.
type Pusher interface {
	PushDraft(ctx context.Context, workflowID string, push backend.DraftPush) error
}

// Encoder converts answers to the backend wire form.
type Encoder interface {
	Encode(answers model.AnswerSet) []model.ResponseEntry
}

// SnapshotFunc returns the current draft of a workflow. ok is false when
// there is nothing to save.
type SnapshotFunc func() (rec model.DraftRecord, ok bool)

// ResyncFunc reconciles local state with the backend before held pushes
// resume.
type ResyncFunc func(ctx context.Context) error

// Coordinator is the sync state machine of one workflow.
type Coordinator struct {
	workflowID  string
	store       DraftSaver
	pusher      Pusher
	encoder     Encoder
	scheduler   *Scheduler
	resync      ResyncFunc
	pushTimeout time.Duration
	now         func() time.Time
	logger      *zap.Logger
	metrics     *observability.Metrics

	// writeMu serializes local writes.
	writeMu  sync.Mutex
	localGen uint64

	resyncMu sync.Mutex

	mu           sync.Mutex
	online       bool
	pending      bool
	inFlight     bool
	held         bool
	editGen      uint64
	savedGen     uint64
	lastSavedAt  time.Time
	lastSyncedAt time.Time
	latest       *model.DraftRecord
	source       SnapshotFunc
	autoSaveID   cron.EntryID
	autoSaving   bool
	subs         map[int]chan Event
	nextSub      int
	pushes       sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithScheduler enables auto-save on s.
func WithScheduler(s *Scheduler) Option {
	return func(c *Coordinator) { c.scheduler = s }
}

// WithResync sets the function Resync runs while pushes are held.
func WithResync(fn ResyncFunc) Option {
	return func(c *Coordinator) { c.resync = fn }
}

// WithPushTimeout bounds each remote push.
func WithPushTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.pushTimeout = d }
}

// WithOnline sets the initial connectivity.
func WithOnline(online bool) Option {
	return func(c *Coordinator) { c.online = online }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock replaces time.Now for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates the coordinator for workflowID. It starts online.
func NewCoordinator(workflowID string, store DraftSaver, pusher Pusher, encoder Encoder, opts ...Option) *Coordinator {
	c := &Coordinator{
		workflowID:  workflowID,
		store:       store,
		pusher:      pusher,
		encoder:     encoder,
		pushTimeout: DefaultPushTimeout,
		now:         time.Now,
		logger:      zap.NewNop(),
		online:      true,
		subs:        make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("workflow_id", workflowID))
	return c
}

// WorkflowID returns the workflow this coordinator syncs.
func (c *Coordinator) WorkflowID() string {
	return c.workflowID
}

// Status returns the current sync state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Coordinator) statusLocked() Status {
	return Status{
		Online:       c.online,
		PendingSync:  c.pending,
		Held:         c.held,
		Dirty:        c.editGen != c.savedGen,
		InFlight:     c.inFlight,
		LastSavedAt:  c.lastSavedAt,
		LastSyncedAt: c.lastSyncedAt,
	}
}

// MarkDirty records an unsaved edit.
func (c *Coordinator) MarkDirty() {
	c.mu.Lock()
	c.editGen++
	c.mu.Unlock()
}

// MarkSynced records that the backend already holds the current state, as
// after loading a draft the server returned.
func (c *Coordinator) MarkSynced() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setPendingLocked(false)
	c.savedGen = c.editGen
}

// MarkPending records that the local draft is ahead of the backend, as after
// recovering a pending draft from the local store.
func (c *Coordinator) MarkPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setPendingLocked(true)
}

// HoldPushes keeps saves local until a successful Resync, as after loading
// a draft without the backend's copy.
func (c *Coordinator) HoldPushes() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.held = true
}

// Resync runs the resync function while pushes are held and releases them
// when it succeeds. It is a no-op when nothing is held and returns
// NETWORK_UNAVAILABLE while offline.
func (c *Coordinator) Resync(ctx context.Context) error {
	c.resyncMu.Lock()
	defer c.resyncMu.Unlock()

	c.mu.Lock()
	held, online, fn := c.held, c.online, c.resync
	c.mu.Unlock()
	if !held || fn == nil {
		return nil
	}
	if !online {
		return model.NewNetworkUnavailableError()
	}
	if err := fn(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.held = false
	c.mu.Unlock()
	c.publish(EventStatusChanged, "", "")
	c.logger.Info("backend copy reloaded, pushes resumed")
	return nil
}

// Subscribe returns a channel of events and a function that unsubscribes
// and closes it.
func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			_, open := c.subs[id]
			delete(c.subs, id)
			c.mu.Unlock()
			// Close already closed it otherwise.
			if open {
				close(ch)
			}
		})
	}
}

// SaveDraft writes snapshot to the local store and, when online and no other
// push is running, pushes it to the backend. The push is detached from ctx
// cancellation and bounded by the push timeout.
func (c *Coordinator) SaveDraft(ctx context.Context, snapshot model.DraftRecord, opts SaveOptions) SaveResult {
	ctx, span := observability.StartSpan(ctx, "sync.save_draft",
		observability.AttrWorkflowID.String(c.workflowID),
		observability.AttrSilent.Bool(opts.Silent),
	)
	defer span.End()

	snapshot.WorkflowID = c.workflowID
	snapshot.SyncStatus = model.SyncStatusPending
	snapshot.Answers = snapshot.Answers.Clone()

	c.mu.Lock()
	gen := c.editGen
	latest := snapshot
	c.latest = &latest
	c.mu.Unlock()

	var result SaveResult
	rec, localGen, err := c.writeLocal(ctx, snapshot)
	result.Record = rec
	if err != nil {
		result.LocalErr = err
		c.logger.Warn("local draft write failed", zap.Error(err))
		if !opts.Silent {
			c.publish(EventSaveFailed, model.ErrPersistenceError,
				"Your changes could not be saved on this device. They are kept while this page stays open.")
		}
	}

	c.mu.Lock()
	if err == nil {
		c.lastSavedAt = c.now()
	}
	switch {
	case !c.online:
		c.setPendingLocked(true)
		if err == nil {
			c.savedGen = gen
		}
		c.mu.Unlock()
		result.Skipped = true
		c.metrics.RecordSyncPush("skipped_offline", 0)
		if !opts.Silent && err == nil {
			c.publish(EventSavedLocally, model.ErrNetworkUnavailable,
				"You are offline. Changes are saved on this device and will sync when the connection returns.")
		}
		span.SetAttributes(observability.AttrOutcome.String("offline"))
		return result
	case c.held:
		c.setPendingLocked(true)
		if err == nil {
			c.savedGen = gen
		}
		c.mu.Unlock()
		result.Skipped = true
		c.metrics.RecordSyncPush("held", 0)
		if !opts.Silent && err == nil {
			c.publish(EventSavedLocally, "",
				"Saved on this device. Sync resumes once the server copy has been reloaded.")
		}
		span.SetAttributes(observability.AttrOutcome.String("held"))
		return result
	case c.inFlight:
		// Coalesced: leave dirty so the next tick pushes the newer state.
		c.setPendingLocked(true)
		c.mu.Unlock()
		result.Skipped = true
		c.metrics.RecordSyncPush("coalesced", 0)
		if !opts.Silent && err == nil {
			c.publish(EventSavedLocally, "", "Saved on this device. A sync is already in progress.")
		}
		span.SetAttributes(observability.AttrOutcome.String("coalesced"))
		return result
	}
	c.inFlight = true
	c.pushes.Add(1)
	c.mu.Unlock()

	pushErr := c.push(ctx, rec)

	c.mu.Lock()
	c.inFlight = false
	if pushErr == nil {
		c.lastSyncedAt = c.now()
	}
	c.mu.Unlock()

	if pushErr == nil {
		synced := c.markSyncedLocally(ctx, rec, localGen)
		c.mu.Lock()
		if synced {
			c.setPendingLocked(false)
		}
		c.savedGen = max(c.savedGen, gen)
		c.mu.Unlock()
		if synced {
			rec.SyncStatus = model.SyncStatusSynced
			result.Record = rec
		}
		result.Pushed = true
		if !opts.Silent {
			c.publish(EventSaved, "", "All changes saved.")
		}
		span.SetAttributes(observability.AttrOutcome.String("synced"))
	} else {
		result.PushErr = pushErr
		c.mu.Lock()
		c.setPendingLocked(true)
		if err == nil {
			c.savedGen = max(c.savedGen, gen)
		}
		c.mu.Unlock()
		code, msg := pushNotice(pushErr)
		c.logger.Info("draft push failed, keeping draft pending", zap.String("code", code), zap.Error(pushErr))
		if !opts.Silent {
			c.publish(EventSavedLocally, code, msg)
		}
		span.SetAttributes(observability.AttrOutcome.String("pending"))
	}
	c.pushes.Done()
	return result
}

// writeLocal saves rec under the write lock and returns the write generation.
func (c *Coordinator) writeLocal(ctx context.Context, rec model.DraftRecord) (model.DraftRecord, uint64, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.localGen++
	saved, err := c.store.Save(ctx, rec)
	return saved, c.localGen, err
}

// markSyncedLocally rewrites rec as synced unless a newer local write
// happened while the push was running.
func (c *Coordinator) markSyncedLocally(ctx context.Context, rec model.DraftRecord, gen uint64) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.localGen != gen {
		return false
	}
	rec.SyncStatus = model.SyncStatusSynced
	if _, err := c.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		// The backend has the draft; a stale pending flag only causes one
		// redundant push later.
		c.logger.Warn("could not mark local draft as synced", zap.Error(err))
	}
	return true
}

func (c *Coordinator) push(ctx context.Context, rec model.DraftRecord) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.pushTimeout)
	defer cancel()

	start := time.Now()
	err := c.pusher.PushDraft(pctx, c.workflowID, backend.DraftPush{
		Responses:      c.encoder.Encode(rec.Answers),
		CurrentStep:    rec.CurrentStepIndex,
		CompletedSteps: model.NormalizeSteps(rec.CompletedStepIndexes),
	})
	outcome := "synced"
	if err != nil {
		outcome, _ = pushNotice(err)
		outcome = outcomeLabel(outcome)
	}
	c.metrics.RecordSyncPush(outcome, time.Since(start))
	return err
}

// SetOnline updates connectivity. Going from offline to online first runs
// Resync when pushes are held; then, with a pending draft, exactly one silent
// save of the latest snapshot.
func (c *Coordinator) SetOnline(ctx context.Context, online bool) {
	c.mu.Lock()
	was := c.online
	c.online = online
	c.mu.Unlock()

	if was == online {
		return
	}
	c.publish(EventStatusChanged, "", "")
	if !online {
		return
	}

	if err := c.Resync(ctx); err != nil {
		c.logger.Warn("backend copy could not be reloaded, pushes stay held", zap.Error(err))
		return
	}

	c.mu.Lock()
	pending := c.pending
	source := c.source
	latest := c.latest
	c.mu.Unlock()
	if !pending {
		return
	}
	snapshot, ok := model.DraftRecord{}, false
	if source != nil {
		snapshot, ok = source()
	}
	if !ok && latest != nil {
		snapshot, ok = *latest, true
	}
	if !ok {
		return
	}
	c.logger.Info("connection restored, flushing pending draft")
	c.SaveDraft(ctx, snapshot, SaveOptions{Silent: true})
}

// StartAutoSave registers a periodic silent save of snapshot() that runs
// while there are unsaved edits, or while online with a pending draft. It
// is a no-op without a scheduler.
func (c *Coordinator) StartAutoSave(snapshot SnapshotFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = snapshot
	if c.scheduler == nil || c.autoSaving {
		return
	}
	c.autoSaveID = c.scheduler.add(func() { c.autoSaveTick(context.Background()) })
	c.autoSaving = true
}

// StopAutoSave cancels the periodic save. A push already running finishes.
func (c *Coordinator) StopAutoSave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.autoSaving {
		c.scheduler.remove(c.autoSaveID)
		c.autoSaving = false
	}
	c.source = nil
}

// AutoSaving reports whether auto-save is registered.
func (c *Coordinator) AutoSaving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoSaving
}

func (c *Coordinator) autoSaveTick(ctx context.Context) {
	if err := c.Resync(ctx); err != nil {
		c.logger.Debug("resync before auto-save failed", zap.Error(err))
	}

	c.mu.Lock()
	due := c.editGen != c.savedGen || (c.pending && c.online && !c.held)
	source := c.source
	c.mu.Unlock()
	if !due || source == nil {
		return
	}
	snapshot, ok := source()
	if !ok {
		return
	}
	c.SaveDraft(ctx, snapshot, SaveOptions{Silent: true})
}

// Wait blocks until running pushes finish or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.pushes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops auto-save and closes all subscriptions. In-flight pushes are
// not aborted.
func (c *Coordinator) Close() {
	c.StopAutoSave()
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[int]chan Event)
	c.setPendingLocked(false)
	c.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

// setPendingLocked updates the pending flag and gauge. Must be called with
// mu held.
func (c *Coordinator) setPendingLocked(pending bool) {
	if c.pending == pending {
		return
	}
	c.pending = pending
	if pending {
		c.metrics.AddPendingDrafts(1)
	} else {
		c.metrics.AddPendingDrafts(-1)
	}
}

func (c *Coordinator) publish(typ EventType, code, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev := Event{
		Type:       typ,
		WorkflowID: c.workflowID,
		Code:       code,
		Message:    msg,
		Status:     c.statusLocked(),
		At:         c.now(),
	}
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// pushNotice classifies a push failure for display.
func pushNotice(err error) (code, message string) {
	ee, ok := model.AsEnvelope(err)
	if !ok {
		return model.ErrNetworkUnavailable, model.NewNetworkUnavailableError().Message
	}
	switch ee.Code {
	case model.ErrAuthExpired, model.ErrNetworkUnavailable:
		return ee.Code, ee.Message
	case model.ErrServerError:
		return ee.Code, "Saved on this device. The server could not store your draft; it will be retried."
	default:
		return ee.Code, "Saved on this device. The server rejected the draft: " + ee.Message
	}
}

func outcomeLabel(code string) string {
	switch code {
	case model.ErrAuthExpired:
		return "auth_expired"
	case model.ErrNetworkUnavailable:
		return "network_unavailable"
	case model.ErrServerError:
		return "server_error"
	default:
		return "rejected"
	}
}
