// Package recurring submits templated tasks on cron schedules. The
// scheduler runs inside the coordinator process and submits through the
// coordinator's normal path, so recurring tasks see the same validation
// and lifecycle hooks as any other submission.
package recurring

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/hugoboss23-5/swarm/id"
)

// SubmitFunc is the callback the scheduler uses to submit tasks.
// This breaks the import cycle: the coordinator provides the
// implementation.
type SubmitFunc func(ctx context.Context, taskName string, payload []byte) (id.TaskID, error)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler fires recurring entries on a tick loop. The coordinator is
// the only writer of cluster state, so there is no distributed locking
// here: one scheduler per swarm.
type Scheduler struct {
	store  Store
	submit SubmitFunc
	logger *slog.Logger

	tickInterval time.Duration

	// parsed caches parsed cron expressions by entry ID.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(store Store, submit SubmitFunc, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:        store,
		submit:       submit,
		logger:       logger,
		tickInterval: time.Second,
		parsed:       make(map[string]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register validates the schedule expression and persists the entry.
// NextRunAt is computed from the schedule.
func (s *Scheduler) Register(ctx context.Context, entry *Entry) error {
	sched, err := ParseSchedule(entry.Schedule)
	if err != nil {
		return err
	}
	next := sched.Next(time.Now().UTC())
	entry.NextRunAt = &next

	if err := s.store.RegisterRecurring(ctx, entry); err != nil {
		return err
	}

	s.parsedMu.Lock()
	s.parsed[entry.ID.String()] = sched
	s.parsedMu.Unlock()
	return nil
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("recurring scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the loop to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("recurring scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick fires every enabled entry whose NextRunAt has passed.
func (s *Scheduler) tick() {
	ctx := context.Background()
	now := time.Now().UTC()

	entries, err := s.store.ListRecurring(ctx)
	if err != nil {
		s.logger.Error("list recurring entries", slog.String("error", err.Error()))
		return
	}

	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		if entry.NextRunAt == nil || entry.NextRunAt.After(now) {
			continue
		}
		s.fire(ctx, entry, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, entry *Entry, now time.Time) {
	sched, err := s.schedule(entry)
	if err != nil {
		s.logger.Error("invalid recurring schedule",
			slog.String("entry", entry.Name),
			slog.String("schedule", entry.Schedule),
			slog.String("error", err.Error()),
		)
		return
	}

	taskID, err := s.submit(ctx, entry.TaskName, entry.Payload)
	if err != nil {
		s.logger.Error("recurring submission failed",
			slog.String("entry", entry.Name),
			slog.String("task_name", entry.TaskName),
			slog.String("error", err.Error()),
		)
		// NextRunAt still advances so a persistently failing template
		// does not fire on every tick.
	} else {
		s.logger.Debug("recurring entry fired",
			slog.String("entry", entry.Name),
			slog.String("task_id", taskID.String()),
		)
	}

	next := sched.Next(now)
	entry.LastRunAt = &now
	entry.NextRunAt = &next
	entry.UpdatedAt = now
	if err := s.store.UpdateRecurring(ctx, entry); err != nil {
		s.logger.Error("update recurring entry",
			slog.String("entry", entry.Name),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) schedule(entry *Entry) (cronlib.Schedule, error) {
	key := entry.ID.String()
	s.parsedMu.RLock()
	sched, ok := s.parsed[key]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(entry.Schedule)
	if err != nil {
		return nil, err
	}
	s.parsedMu.Lock()
	s.parsed[key] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
