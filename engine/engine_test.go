package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	swarm "github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/archive"
	"github.com/hugoboss23-5/swarm/backoff"
	"github.com/hugoboss23-5/swarm/engine"
	"github.com/hugoboss23-5/swarm/store/memory"
	"github.com/hugoboss23-5/swarm/task"
	"github.com/hugoboss23-5/swarm/transport"
)

type resizePayload struct {
	Path  string `json:"path"`
	Width int    `json:"width"`
}

// fastConfig keeps every interval short so end-to-end tests settle in
// well under a second per transition.
func fastConfig() swarm.Config {
	cfg := swarm.DefaultConfig()
	cfg.ScheduleInterval = 20 * time.Millisecond
	cfg.SweepInterval = 50 * time.Millisecond
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.HeartbeatTimeout = 2 * time.Second
	cfg.QuorumTimeout = 500 * time.Millisecond
	cfg.AckTimeout = 250 * time.Millisecond
	cfg.LockWait = time.Second
	return cfg
}

func buildEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()

	bus := transport.NewInproc(transport.Options{
		RequestTimeout: 2 * time.Second,
		Retries:        1,
		RetryBackoff:   backoff.Fixed(10 * time.Millisecond),
	}, slog.Default())

	all := append([]engine.Option{engine.WithConfig(fastConfig())}, opts...)
	eng, err := engine.Build(memory.New(), bus, all...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return eng
}

func waitForState(t *testing.T, eng *engine.Engine, taskID swarm.ID, want task.State) *task.Task {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			got, err := eng.Status(context.Background(), taskID)
			if err != nil {
				t.Fatalf("status %s: %v", taskID.String(), err)
			}
			t.Fatalf("task %s stuck in %q, want %q", taskID.String(), got.State, want)
		case <-time.After(10 * time.Millisecond):
			got, err := eng.Status(context.Background(), taskID)
			if err != nil {
				t.Fatalf("status %s: %v", taskID.String(), err)
			}
			if got.State == want {
				return got
			}
		}
	}
}

func TestBuildRequiresStore(t *testing.T) {
	t.Parallel()

	_, err := engine.Build(nil, nil)
	if !errors.Is(err, swarm.ErrNoStore) {
		t.Fatalf("Build(nil) err = %v, want ErrNoStore", err)
	}
}

func TestEndToEndSubmitAndComplete(t *testing.T) {
	eng := buildEngine(t, engine.WithWorkers(2))

	got := make(chan resizePayload, 1)
	engine.RegisterTask(eng, task.NewDefinition("resize", func(_ context.Context, p resizePayload) error {
		got <- p
		return nil
	}))

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx) //nolint:errcheck

	submitted, err := engine.Submit(ctx, eng, "resize", resizePayload{Path: "a.png", Width: 640})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case p := <-got:
		if p.Path != "a.png" || p.Width != 640 {
			t.Fatalf("handler payload = %+v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}

	done := waitForState(t, eng, submitted.ID, task.StateCompleted)
	if done.Token == 0 {
		t.Fatal("completed task carries no fencing token")
	}
	if done.CompletedAt == nil {
		t.Fatal("CompletedAt not stamped")
	}

	entries, err := eng.Archive().ArchiveStore().ListArchive(ctx, archive.ListOpts{FinalState: string(task.StateCompleted)})
	if err != nil {
		t.Fatalf("ListArchive: %v", err)
	}
	if len(entries) != 1 || entries[0].TaskID != submitted.ID {
		t.Fatalf("archive entries = %d, want the completed task", len(entries))
	}
}

func TestEndToEndRetryExhaustionGoesDead(t *testing.T) {
	eng := buildEngine(t, engine.WithWorkers(1))

	engine.RegisterTask(eng, task.NewDefinition("flaky", func(_ context.Context, _ resizePayload) error {
		return errors.New("disk full")
	}))

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx) //nolint:errcheck

	submitted, err := engine.Submit(ctx, eng, "flaky", resizePayload{},
		task.WithRetryBudget(1))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	dead := waitForState(t, eng, submitted.ID, task.StateDead)
	if dead.LastError() != "disk full" {
		t.Fatalf("LastError = %q, want %q", dead.LastError(), "disk full")
	}
	if len(dead.Failures) != 2 {
		t.Fatalf("failures = %d, want 2 (initial attempt + one retry)", len(dead.Failures))
	}

	entries, err := eng.Archive().ArchiveStore().ListArchive(ctx, archive.ListOpts{FinalState: string(task.StateDead)})
	if err != nil {
		t.Fatalf("ListArchive: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dead archive entries = %d, want 1", len(entries))
	}
}

func TestSubmitUnknownHandlerGoesDead(t *testing.T) {
	eng := buildEngine(t, engine.WithWorkers(1))

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx) //nolint:errcheck

	submitted, err := engine.Submit(ctx, eng, "nobody-home", resizePayload{},
		task.WithRetryBudget(0))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitForState(t, eng, submitted.ID, task.StateDead)
}

func TestRegisterRecurringIsIdempotent(t *testing.T) {
	eng := buildEngine(t, engine.WithWorkers(0))

	ctx := context.Background()
	if err := engine.RegisterRecurring(ctx, eng, "nightly", "0 3 * * *", "report", resizePayload{}); err != nil {
		t.Fatalf("first RegisterRecurring: %v", err)
	}
	if err := engine.RegisterRecurring(ctx, eng, "nightly", "0 3 * * *", "report", resizePayload{}); err != nil {
		t.Fatalf("second RegisterRecurring: %v", err)
	}
}

func TestStatusTracksExecutionPhase(t *testing.T) {
	eng := buildEngine(t, engine.WithWorkers(1))

	release := make(chan struct{})
	started := make(chan struct{})
	engine.RegisterTask(eng, task.NewDefinition("transcode", func(ctx context.Context, _ resizePayload) error {
		close(started)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx) //nolint:errcheck

	submitted, err := engine.Submit(ctx, eng, "transcode", resizePayload{Path: "b.mov"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}

	// The running handler holds a live lock; status must reach the
	// executing phase with the grant's token on record.
	running := waitForState(t, eng, submitted.ID, task.StateExecuting)
	if running.Token == 0 {
		t.Fatal("executing task carries no fencing token")
	}

	close(release)
	waitForState(t, eng, submitted.ID, task.StateCompleted)
}
