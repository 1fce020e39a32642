package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultAutoSaveInterval is the auto-save period when none is configured.
const DefaultAutoSaveInterval = 30 * time.Second

// Scheduler runs the auto-save jobs of every open questionnaire on one cron
// instance. Each job is skipped while its previous run is still going, so
// ticks for one workflow never overlap.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	spec     string
}

// NewScheduler creates a scheduler firing every interval. Intervals are
// truncated to whole seconds.
func NewScheduler(interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if interval <= 0 {
		interval = DefaultAutoSaveInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	spec := fmt.Sprintf("@every %s", interval.Truncate(time.Second))
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("auto-save schedule %q: %w", spec, err)
	}

	l := cronLogger{logger: logger.Named("autosave")}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		schedule: schedule,
		spec:     spec,
	}, nil
}

// Spec returns the cron spec in use, e.g. "@every 30s".
func (s *Scheduler) Spec() string {
	return s.spec
}

// Start starts the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs or ctx, whichever ends
// first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) add(job func()) cron.EntryID {
	return s.cron.Schedule(s.schedule, cron.FuncJob(job))
}

func (s *Scheduler) remove(id cron.EntryID) {
	s.cron.Remove(id)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
