package recurring_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hugoboss23-5/swarm/id"
	"github.com/hugoboss23-5/swarm/recurring"
	"github.com/hugoboss23-5/swarm/store/memory"
)

// captureSubmit records submissions and optionally fails them.
type captureSubmit struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (c *captureSubmit) submit(_ context.Context, taskName string, _ []byte) (id.TaskID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return id.Nil, c.err
	}
	c.names = append(c.names, taskName)
	return id.NewTaskID(), nil
}

func (c *captureSubmit) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.names)
}

func TestRegisterComputesNextRun(t *testing.T) {
	t.Parallel()
	st := memory.New()
	sched := recurring.NewScheduler(st, (&captureSubmit{}).submit, nil)

	entry := &recurring.Entry{
		ID:       id.NewRecurringID(),
		Name:     "nightly-cleanup",
		Schedule: "0 3 * * *",
		TaskName: "cleanup",
		Enabled:  true,
	}
	if err := sched.Register(context.Background(), entry); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if entry.NextRunAt == nil {
		t.Fatal("NextRunAt not computed")
	}
	if !entry.NextRunAt.After(time.Now().UTC()) {
		t.Fatalf("NextRunAt %v not in the future", entry.NextRunAt)
	}

	stored, err := st.GetRecurring(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("GetRecurring: %v", err)
	}
	if stored.NextRunAt == nil {
		t.Fatal("persisted entry missing NextRunAt")
	}
}

func TestRegisterRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	sched := recurring.NewScheduler(memory.New(), (&captureSubmit{}).submit, nil)

	entry := &recurring.Entry{
		ID:       id.NewRecurringID(),
		Name:     "broken",
		Schedule: "not a cron expression",
		TaskName: "cleanup",
	}
	if err := sched.Register(context.Background(), entry); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTickFiresDueEntries(t *testing.T) {
	t.Parallel()
	st := memory.New()
	capture := &captureSubmit{}
	sched := recurring.NewScheduler(st, capture.submit,
		nil, recurring.WithTickInterval(10*time.Millisecond))

	entry := &recurring.Entry{
		ID:       id.NewRecurringID(),
		Name:     "heartbeat-report",
		Schedule: "@every 1h",
		TaskName: "report",
		Payload:  []byte(`{"scope":"all"}`),
		Enabled:  true,
	}
	if err := sched.Register(context.Background(), entry); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Backdate NextRunAt so the next tick finds the entry due.
	past := time.Now().UTC().Add(-time.Minute)
	entry.NextRunAt = &past
	if err := st.UpdateRecurring(context.Background(), entry); err != nil {
		t.Fatalf("UpdateRecurring: %v", err)
	}

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop(context.Background())

	deadline := time.Now().Add(time.Second)
	for capture.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("due entry never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	stored, err := st.GetRecurring(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("GetRecurring: %v", err)
	}
	if stored.LastRunAt == nil {
		t.Fatal("LastRunAt not stamped")
	}
	if stored.NextRunAt == nil || !stored.NextRunAt.After(time.Now().UTC().Add(30*time.Minute)) {
		t.Fatalf("NextRunAt not advanced past the hourly interval: %v", stored.NextRunAt)
	}
}

func TestTickSkipsDisabledEntries(t *testing.T) {
	t.Parallel()
	st := memory.New()
	capture := &captureSubmit{}
	sched := recurring.NewScheduler(st, capture.submit,
		nil, recurring.WithTickInterval(10*time.Millisecond))

	entry := &recurring.Entry{
		ID:       id.NewRecurringID(),
		Name:     "paused-job",
		Schedule: "@every 1s",
		TaskName: "noop",
		Enabled:  false,
	}
	if err := sched.Register(context.Background(), entry); err != nil {
		t.Fatalf("Register: %v", err)
	}
	past := time.Now().UTC().Add(-time.Minute)
	entry.NextRunAt = &past
	if err := st.UpdateRecurring(context.Background(), entry); err != nil {
		t.Fatalf("UpdateRecurring: %v", err)
	}

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if capture.count() != 0 {
		t.Fatalf("disabled entry fired %d times", capture.count())
	}
}

func TestFailedSubmissionStillAdvancesSchedule(t *testing.T) {
	t.Parallel()
	st := memory.New()
	capture := &captureSubmit{err: errors.New("coordinator unavailable")}
	sched := recurring.NewScheduler(st, capture.submit,
		nil, recurring.WithTickInterval(10*time.Millisecond))

	entry := &recurring.Entry{
		ID:       id.NewRecurringID(),
		Name:     "flaky-report",
		Schedule: "@every 1h",
		TaskName: "report",
		Enabled:  true,
	}
	if err := sched.Register(context.Background(), entry); err != nil {
		t.Fatalf("Register: %v", err)
	}
	past := time.Now().UTC().Add(-time.Minute)
	entry.NextRunAt = &past
	if err := st.UpdateRecurring(context.Background(), entry); err != nil {
		t.Fatalf("UpdateRecurring: %v", err)
	}

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop(context.Background())

	deadline := time.Now().Add(time.Second)
	for {
		stored, err := st.GetRecurring(context.Background(), entry.ID)
		if err != nil {
			t.Fatalf("GetRecurring: %v", err)
		}
		if stored.NextRunAt != nil && stored.NextRunAt.After(time.Now().UTC()) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("NextRunAt never advanced after failed submission")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
