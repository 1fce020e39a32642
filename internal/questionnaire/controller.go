// Package questionnaire drives one workflow's MSDS questionnaire through
// Loading, Ready, Submitting and Submitted. A Controller owns the in-memory
// answers and step position; saving goes through a sync Coordinator and
// query badges through a Tracker.
package questionnaire

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/msdsdraft/internal/backend"
	"github.com/pitabwire/msdsdraft/internal/completion"
	"github.com/pitabwire/msdsdraft/internal/observability"
	"github.com/pitabwire/msdsdraft/internal/queries"
	"github.com/pitabwire/msdsdraft/internal/schema"
	draftsync "github.com/pitabwire/msdsdraft/internal/sync"
	"github.com/pitabwire/msdsdraft/model"
)

// State is the lifecycle state of a controller.
type State string

// Controller states.
const (
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateSubmitting State = "submitting"
	StateSubmitted  State = "submitted"
)

// DefaultConfirmBelowPercent is the answered percentage under which a
// submission needs explicit confirmation.
const DefaultConfirmBelowPercent = 80

// maxNotices bounds the sync notices kept for View.
const maxNotices = 5

// Submission gate reason codes.
const (
	ReasonLowCompletion     = "LOW_COMPLETION"
	ReasonOpenQuery         = "OPEN_QUERY"
	ReasonQueriesUnverified = "QUERIES_UNVERIFIED"
)

// DraftStore is the local draft persistence the controller needs.
type DraftStore interface {
	draftsync.DraftSaver
	Load(ctx context.Context, workflowID string) (*model.DraftRecord, error)
	Clear(ctx context.Context, workflowID string) error
}

// Backend is the remote workflow API the controller needs.
type Backend interface {
	queries.API
	draftsync.Pusher
	GetWorkflow(ctx context.Context, workflowID string) (backend.Workflow, error)
	SubmitQuestionnaire(ctx context.Context, workflowID string, sub backend.Submission) error
}

// Controller is the questionnaire state machine of one workflow. All methods
// are safe for concurrent use; backend calls run outside the state lock.
type Controller struct {
	workflowID   string
	schema       *schema.Schema
	eval         *completion.Evaluator
	store        DraftStore
	api          Backend
	coord        *draftsync.Coordinator
	tracker      *queries.Tracker
	confirmBelow int
	now          func() time.Time
	logger       *zap.Logger
	metrics      *observability.Metrics

	mu        sync.Mutex
	state     State
	step      int
	completed []int
	answers   model.AnswerSet
	workflow  backend.Workflow
	offline   bool
	notices   []draftsync.Event
	session   *model.RequestContext
}

type options struct {
	scheduler    *draftsync.Scheduler
	online       bool
	pushTimeout  time.Duration
	confirmBelow int
	querySLA     time.Duration
	now          func() time.Time
	logger       *zap.Logger
	metrics      *observability.Metrics
}

// Option configures a Controller.
type Option func(*options)

// WithScheduler enables auto-save on s.
func WithScheduler(s *draftsync.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithOnline sets the initial connectivity.
func WithOnline(online bool) Option {
	return func(o *options) { o.online = online }
}

// WithPushTimeout bounds each remote draft push.
func WithPushTimeout(d time.Duration) Option {
	return func(o *options) { o.pushTimeout = d }
}

// WithConfirmBelow sets the answered percentage that gates submission.
func WithConfirmBelow(percent int) Option {
	return func(o *options) { o.confirmBelow = percent }
}

// WithQuerySLA sets the overdue threshold for query badges.
func WithQuerySLA(d time.Duration) Option {
	return func(o *options) { o.querySLA = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// NewController creates a controller in the Loading state. Call Load before
// anything else.
func NewController(workflowID string, sch *schema.Schema, store DraftStore, api Backend, opts ...Option) *Controller {
	o := options{
		online:       true,
		pushTimeout:  draftsync.DefaultPushTimeout,
		confirmBelow: DefaultConfirmBelowPercent,
		querySLA:     queries.DefaultSLA,
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With(zap.String("workflow_id", workflowID))

	c := &Controller{
		workflowID:   workflowID,
		schema:       sch,
		eval:         completion.NewEvaluator(sch),
		store:        store,
		api:          api,
		confirmBelow: o.confirmBelow,
		now:          o.now,
		logger:       logger,
		metrics:      o.metrics,
		state:        StateLoading,
		answers:      model.AnswerSet{},
	}

	coordOpts := []draftsync.Option{
		draftsync.WithOnline(o.online),
		draftsync.WithPushTimeout(o.pushTimeout),
		draftsync.WithLogger(logger),
		draftsync.WithMetrics(o.metrics),
		draftsync.WithClock(o.now),
		draftsync.WithResync(c.resync),
	}
	if o.scheduler != nil {
		coordOpts = append(coordOpts, draftsync.WithScheduler(o.scheduler))
	}
	c.coord = draftsync.NewCoordinator(workflowID, store, sessionPusher{c}, sch, coordOpts...)
	c.tracker = queries.NewTracker(workflowID, api,
		queries.WithSLA(o.querySLA),
		queries.WithClock(o.now),
		queries.WithLogger(logger),
		queries.WithMetrics(o.metrics),
	)

	// The coordinator closes the channel on Close.
	events, _ := c.coord.Subscribe()
	go c.collectNotices(events)
	return c
}

// WorkflowID returns the workflow this controller edits.
func (c *Controller) WorkflowID() string {
	return c.workflowID
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Coordinator returns the sync coordinator, for connectivity wiring.
func (c *Controller) Coordinator() *draftsync.Coordinator {
	return c.coord
}

// Tracker returns the query tracker.
func (c *Controller) Tracker() *queries.Tracker {
	return c.tracker
}

// Load recovers the local draft, overlays the answers the backend already
// holds, refreshes queries and enters Ready. When the backend cannot be
// reached but a local draft exists, the controller enters Ready offline.
func (c *Controller) Load(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "questionnaire.load",
		observability.AttrWorkflowID.String(c.workflowID),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	c.mu.Lock()
	if c.state != StateLoading {
		state := c.state
		c.mu.Unlock()
		err = model.NewInvalidTransitionError(fmt.Sprintf("questionnaire is already %s", state))
		return err
	}
	c.rememberLocked(ctx)
	c.mu.Unlock()

	// 1. Recover the local draft. A failed read is treated as no draft.
	local, loadErr := c.store.Load(ctx, c.workflowID)
	if loadErr != nil {
		c.logger.Warn("local draft could not be read", zap.Error(loadErr))
	}
	answers := model.AnswerSet{}
	step := 0
	var completedSteps []int
	if local != nil {
		var dropped []string
		answers, dropped = c.schema.Filter(local.Answers)
		if len(dropped) > 0 {
			c.logger.Warn("dropped draft answers the schema no longer accepts",
				zap.String("draft_schema_version", local.SchemaVersion),
				zap.Strings("fields", dropped),
			)
		}
		step = c.clampStep(local.CurrentStepIndex)
		for _, i := range local.CompletedStepIndexes {
			if i >= 0 && i < c.schema.StepCount() {
				completedSteps = append(completedSteps, i)
			}
		}
	}

	// 2. Overlay the backend's existing responses. Server wins.
	offline := false
	wf, wfErr := c.api.GetWorkflow(ctx, c.workflowID)
	if wfErr != nil {
		recoverable := model.HasCode(wfErr, model.ErrNetworkUnavailable) || model.HasCode(wfErr, model.ErrServerError)
		if local == nil || !recoverable {
			err = fmt.Errorf("load workflow %s: %w", c.workflowID, wfErr)
			return err
		}
		c.logger.Warn("backend unavailable, continuing from local draft", zap.Error(wfErr))
		offline = true
		wf = backend.Workflow{ID: c.workflowID}
		// The backend's answers are unknown until Resync succeeds.
		c.coord.HoldPushes()
	} else {
		server, skipped, decodeErr := c.schema.DecodeResponses(wf.ExistingResponses)
		if decodeErr != nil {
			err = fmt.Errorf("decode existing responses of %s: %w", c.workflowID, decodeErr)
			return err
		}
		if len(skipped) > 0 {
			c.logger.Warn("backend returned answers for unknown fields", zap.Strings("fields", skipped))
		}
		answers.Overlay(server)
	}

	// 3. Refresh queries. Badges are advisory, so failures are only logged.
	if !offline {
		if qErr := c.tracker.Refresh(ctx); qErr != nil {
			c.logger.Warn("query refresh failed during load", zap.Error(qErr))
		}
	}

	c.mu.Lock()
	c.answers = answers
	c.step = step
	c.completed = model.NormalizeSteps(completedSteps)
	c.workflow = wf
	c.offline = offline
	c.state = StateReady
	c.mu.Unlock()

	if local != nil && local.SyncStatus == model.SyncStatusPending {
		c.coord.MarkPending()
	}
	c.coord.StartAutoSave(c.snapshot)

	c.logger.Info("questionnaire loaded",
		zap.Bool("recovered_draft", local != nil),
		zap.Bool("offline", offline),
		zap.Int("step", step),
		zap.Int("answers", len(answers)),
	)
	return nil
}

// resync completes a load that ran without the backend: the backend's
// existing responses are overlaid on the current answers and queries are
// refreshed. It runs through the coordinator before held pushes resume.
func (c *Controller) resync(ctx context.Context) error {
	ctx, span := observability.StartSpan(c.withSession(ctx), "questionnaire.resync",
		observability.AttrWorkflowID.String(c.workflowID),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	wf, err := c.api.GetWorkflow(ctx, c.workflowID)
	if err != nil {
		return err
	}
	server, skipped, err := c.schema.DecodeResponses(wf.ExistingResponses)
	if err != nil {
		err = fmt.Errorf("decode existing responses of %s: %w", c.workflowID, err)
		return err
	}
	if len(skipped) > 0 {
		c.logger.Warn("backend returned answers for unknown fields", zap.Strings("fields", skipped))
	}
	if qErr := c.tracker.Refresh(ctx); qErr != nil {
		c.logger.Warn("query refresh failed during resync", zap.Error(qErr))
	}

	c.mu.Lock()
	c.answers.Overlay(server)
	c.workflow = wf
	c.offline = false
	c.mu.Unlock()
	c.coord.MarkDirty()

	c.logger.Info("questionnaire reconciled with backend", zap.Int("server_answers", len(server)))
	return nil
}

// SetAnswer stores the raw value of one field. Empty values clear the
// answer. Unknown fields yield SCHEMA_ERROR; values of the wrong shape or
// outside the field's options yield VALIDATION_ERROR and are not stored.
func (c *Controller) SetAnswer(ctx context.Context, field string, raw any) error {
	return c.SetAnswers(ctx, map[string]any{field: raw})
}

// SetAnswers stores several answers atomically: either all are stored or
// none is.
func (c *Controller) SetAnswers(ctx context.Context, values map[string]any) error {
	decoded := make(model.AnswerSet, len(values))
	cleared := make([]string, 0)
	for _, name := range sortedKeys(values) {
		v, err := c.decodeAnswer(name, values[name])
		if err != nil {
			return err
		}
		if v.IsEmpty() {
			cleared = append(cleared, name)
			continue
		}
		decoded[name] = v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireReadyLocked(); err != nil {
		return err
	}
	c.rememberLocked(ctx)
	for _, name := range cleared {
		delete(c.answers, name)
	}
	c.answers.Overlay(decoded)
	c.coord.MarkDirty()
	return nil
}

// ClearAnswer removes the answer of field.
func (c *Controller) ClearAnswer(ctx context.Context, field string) error {
	if _, err := c.schema.Field(field); err != nil {
		c.logger.Error("clear of unknown field", zap.String("field", field))
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireReadyLocked(); err != nil {
		return err
	}
	c.rememberLocked(ctx)
	delete(c.answers, field)
	c.coord.MarkDirty()
	return nil
}

func (c *Controller) decodeAnswer(name string, raw any) (model.AnswerValue, error) {
	v, err := c.schema.Decode(name, raw)
	if err != nil {
		if model.HasCode(err, model.ErrSchemaError) {
			c.logger.Error("answer for unknown field", zap.String("field", name))
		}
		return model.AnswerValue{}, err
	}
	problems, err := c.eval.ValidateAnswer(name, v)
	if err != nil {
		return model.AnswerValue{}, err
	}
	for _, p := range problems {
		if p.Code == completion.CodeInvalidOption || p.Code == completion.CodeInvalidKind {
			return model.AnswerValue{}, model.NewValidationError(problems)
		}
	}
	return v, nil
}

// Next moves to the following step.
func (c *Controller) Next(ctx context.Context) error {
	return c.move(ctx, func(step int) int { return step + 1 })
}

// Previous moves to the preceding step.
func (c *Controller) Previous(ctx context.Context) error {
	return c.move(ctx, func(step int) int { return step - 1 })
}

// GoToStep moves to step index.
func (c *Controller) GoToStep(ctx context.Context, index int) error {
	return c.move(ctx, func(int) int { return index })
}

// move leaves the current step when every field on it validates, marks it
// completed and saves silently.
func (c *Controller) move(ctx context.Context, target func(step int) int) error {
	c.mu.Lock()
	if err := c.requireReadyLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.rememberLocked(ctx)
	to := target(c.step)
	if to < 0 || to >= c.schema.StepCount() {
		c.mu.Unlock()
		return model.NewInvalidTransitionError(fmt.Sprintf("step %d is outside 0..%d", to, c.schema.StepCount()-1))
	}
	problems, err := c.eval.ValidateStep(c.step, c.answers)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if len(problems) > 0 {
		c.mu.Unlock()
		return model.NewValidationError(problems)
	}
	if !slices.Contains(c.completed, c.step) {
		c.completed = model.NormalizeSteps(append(c.completed, c.step))
	}
	c.step = to
	c.coord.MarkDirty()
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.coord.SaveDraft(ctx, snapshot, draftsync.SaveOptions{Silent: true})
	return nil
}

// Save writes the current answers locally and pushes them when possible.
func (c *Controller) Save(ctx context.Context, silent bool) (draftsync.SaveResult, error) {
	c.mu.Lock()
	if err := c.requireReadyLocked(); err != nil {
		c.mu.Unlock()
		return draftsync.SaveResult{}, err
	}
	c.rememberLocked(ctx)
	c.mu.Unlock()

	// A failed resync leaves the push held; the save stays local.
	if err := c.coord.Resync(ctx); err != nil {
		c.logger.Debug("resync before save failed", zap.Error(err))
	}

	c.mu.Lock()
	if err := c.requireReadyLocked(); err != nil {
		c.mu.Unlock()
		return draftsync.SaveResult{}, err
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	return c.coord.SaveDraft(ctx, snapshot, draftsync.SaveOptions{Silent: silent}), nil
}

// Submit sends the final answers from the last step. Without confirm, a
// submission with open queries or under the answered-percentage threshold
// returns CONFIRMATION_REQUIRED. On success the local draft is cleared and
// the submitted answers are returned; on failure the controller returns to
// Ready with its data intact.
func (c *Controller) Submit(ctx context.Context, confirm bool) (model.AnswerSet, error) {
	ctx, span := observability.StartSpan(ctx, "questionnaire.submit",
		observability.AttrWorkflowID.String(c.workflowID),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	// 1. Reconcile an offline load and reload queries the last refresh
	// missed. Queries that still cannot be listed need confirmation.
	c.remember(ctx)
	queriesKnown := true
	if c.State() == StateReady {
		if err = c.coord.Resync(ctx); err != nil {
			err = fmt.Errorf("reconcile %s before submission: %w", c.workflowID, err)
			return nil, err
		}
		if c.tracker.Stale() {
			if qErr := c.tracker.Refresh(ctx); qErr != nil {
				c.logger.Warn("query refresh failed before submission", zap.Error(qErr))
				queriesKnown = false
			}
		}
	}

	// 2. Gate on state, position and validity.
	c.mu.Lock()
	if err = c.requireReadyLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.step != c.schema.StepCount()-1 {
		c.mu.Unlock()
		err = model.NewInvalidTransitionError("submission is only possible from the final step")
		return nil, err
	}
	if problems := c.eval.ValidateAll(c.answers); len(problems) > 0 {
		c.mu.Unlock()
		c.metrics.RecordSubmission("invalid")
		err = model.NewValidationError(problems)
		return nil, err
	}

	// 3. Ask for confirmation on low completion or open queries.
	overall := c.eval.EvaluateOverall(c.answers)
	idx := c.tracker.Index()
	if reasons := c.confirmationReasons(overall, idx, queriesKnown); len(reasons) > 0 && !confirm {
		c.mu.Unlock()
		c.metrics.RecordSubmission("confirmation_required")
		err = model.NewConfirmationRequiredError(reasons)
		return nil, err
	}

	// 4. Submit outside the lock.
	answers := c.answers.Clone()
	c.state = StateSubmitting
	c.mu.Unlock()

	err = c.api.SubmitQuestionnaire(ctx, c.workflowID, backend.Submission{
		Responses:            c.schema.Encode(answers),
		CompletionPercentage: overall.AnsweredPercentage,
		SubmittedAt:          c.now().UTC(),
		TotalQueries:         idx.Total(),
		OpenQueries:          idx.OpenCount(),
	})
	if err != nil {
		c.mu.Lock()
		c.state = StateReady
		c.mu.Unlock()
		c.metrics.RecordSubmission(submissionOutcome(err))
		c.logger.Warn("submission failed", zap.Error(err))
		return nil, err
	}

	// 5. Finish: the backend owns the answers now.
	c.coord.StopAutoSave()
	c.coord.MarkSynced()
	if clearErr := c.store.Clear(context.WithoutCancel(ctx), c.workflowID); clearErr != nil {
		c.logger.Warn("submitted draft could not be cleared locally", zap.Error(clearErr))
	}
	c.mu.Lock()
	c.state = StateSubmitted
	c.mu.Unlock()
	c.metrics.RecordSubmission("submitted")
	c.logger.Info("questionnaire submitted",
		zap.Int("answered_percentage", overall.AnsweredPercentage),
		zap.Int("open_queries", idx.OpenCount()),
	)
	return answers, nil
}

func (c *Controller) confirmationReasons(overall model.CompletionStatus, idx queries.Index, queriesKnown bool) []model.FieldError {
	var reasons []model.FieldError
	if overall.AnsweredPercentage < c.confirmBelow {
		reasons = append(reasons, model.FieldError{
			Code: ReasonLowCompletion,
			Message: fmt.Sprintf("Only %d%% of the questionnaire is answered (%d of %d fields).",
				overall.AnsweredPercentage, overall.FieldsAnswered, overall.FieldsTotal),
		})
	}
	if !queriesKnown {
		reasons = append(reasons, model.FieldError{
			Code:    ReasonQueriesUnverified,
			Message: "Open queries could not be checked with the server.",
		})
	}
	for _, name := range idx.OpenFields() {
		open := idx.ForField(name)
		reasons = append(reasons, model.FieldError{
			Field:   name,
			Step:    open[0].StepNumber,
			Code:    ReasonOpenQuery,
			Message: fmt.Sprintf("%s has an open query.", name),
		})
	}
	return reasons
}

// RefreshQueries reloads the query threads from the backend.
func (c *Controller) RefreshQueries(ctx context.Context) error {
	c.remember(ctx)
	return c.tracker.Refresh(ctx)
}

// RaiseQuery opens a query on a field. The step is taken from the schema.
func (c *Controller) RaiseQuery(ctx context.Context, req model.CreateQueryRequest) (model.QueryThread, error) {
	step, err := c.schema.FieldStep(req.FieldName)
	if err != nil {
		return model.QueryThread{}, err
	}
	req.StepNumber = step
	c.remember(ctx)
	return c.tracker.Raise(ctx, req)
}

// ResolveQuery answers a query.
func (c *Controller) ResolveQuery(ctx context.Context, queryID, response string) (model.QueryThread, error) {
	c.remember(ctx)
	return c.tracker.Resolve(ctx, queryID, response)
}

// MarkFieldViewed records that the user looked at a field's queries.
func (c *Controller) MarkFieldViewed(field string) error {
	if _, err := c.schema.Field(field); err != nil {
		return err
	}
	c.tracker.MarkViewed(field)
	return nil
}

// Close stops auto-save. Unsaved edits are written once more; pushes already
// running are not aborted.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	ready := c.state == StateReady
	var snapshot model.DraftRecord
	if ready {
		snapshot = c.snapshotLocked()
	}
	c.mu.Unlock()

	c.coord.StopAutoSave()
	if ready && c.coord.Status().Dirty {
		c.coord.SaveDraft(ctx, snapshot, draftsync.SaveOptions{Silent: true})
	}
	c.coord.Close()
}

// Wait blocks until running pushes finish or ctx ends.
func (c *Controller) Wait(ctx context.Context) error {
	return c.coord.Wait(ctx)
}

// snapshot is the auto-save source.
func (c *Controller) snapshot() (model.DraftRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return model.DraftRecord{}, false
	}
	return c.snapshotLocked(), true
}

func (c *Controller) snapshotLocked() model.DraftRecord {
	return model.DraftRecord{
		WorkflowID:           c.workflowID,
		Answers:              c.answers.Clone(),
		CurrentStepIndex:     c.step,
		CompletedStepIndexes: slices.Clone(c.completed),
		SchemaVersion:        c.schema.Version(),
	}
}

func (c *Controller) requireReadyLocked() error {
	if c.state != StateReady {
		return model.NewNotReadyError(string(c.state))
	}
	return nil
}

func (c *Controller) clampStep(i int) int {
	return max(0, min(i, c.schema.StepCount()-1))
}

// remember keeps the caller's session for saves that run without one.
func (c *Controller) remember(ctx context.Context) {
	c.mu.Lock()
	c.rememberLocked(ctx)
	c.mu.Unlock()
}

func (c *Controller) rememberLocked(ctx context.Context) {
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		c.session = rctx
	}
}

func (c *Controller) lastSession() *model.RequestContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// withSession attaches the last known session to ctx when it has none.
func (c *Controller) withSession(ctx context.Context) context.Context {
	if model.RequestContextFrom(ctx) == nil {
		if rctx := c.lastSession(); rctx != nil {
			ctx = model.WithRequestContext(ctx, rctx)
		}
	}
	return ctx
}

func (c *Controller) collectNotices(events <-chan draftsync.Event) {
	for ev := range events {
		if ev.Type == draftsync.EventStatusChanged {
			continue
		}
		c.mu.Lock()
		c.notices = append(c.notices, ev)
		if len(c.notices) > maxNotices {
			c.notices = slices.Clone(c.notices[len(c.notices)-maxNotices:])
		}
		c.mu.Unlock()
	}
}

// sessionPusher attaches the last known caller session to pushes made by
// auto-save ticks and reconnection flushes.
type sessionPusher struct {
	c *Controller
}

func (p sessionPusher) PushDraft(ctx context.Context, workflowID string, push backend.DraftPush) error {
	return p.c.api.PushDraft(p.c.withSession(ctx), workflowID, push)
}

func submissionOutcome(err error) string {
	switch {
	case model.HasCode(err, model.ErrValidationError):
		return "rejected"
	case model.HasCode(err, model.ErrAuthExpired), model.HasCode(err, model.ErrUnauthorized):
		return "auth"
	case model.HasCode(err, model.ErrNetworkUnavailable), model.HasCode(err, model.ErrServerError):
		return "unavailable"
	default:
		return "failed"
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
