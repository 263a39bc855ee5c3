package archive_test

import (
	"context"
	"testing"
	"time"

	"github.com/hugoboss23-5/swarm/archive"
	"github.com/hugoboss23-5/swarm/id"
	"github.com/hugoboss23-5/swarm/store/memory"
	"github.com/hugoboss23-5/swarm/task"
)

// storeRestorer resets tasks directly against the store, standing in
// for the coordinator.
type storeRestorer struct {
	tasks task.Store
}

func (r *storeRestorer) Restore(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	tk, err := r.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	tk.State = task.StatePending
	tk.RetryCount = 0
	tk.AssignedNode = id.Nil
	tk.Token = 0
	tk.StartedAt = nil
	tk.CompletedAt = nil
	if err := r.tasks.UpdateTask(ctx, tk); err != nil {
		return nil, err
	}
	return tk, nil
}

func newService(st *memory.Store) *archive.Service {
	svc := archive.NewService(st)
	svc.SetRestorer(&storeRestorer{tasks: st})
	return svc
}

func deadTask(t *testing.T, st task.Store) *task.Task {
	t.Helper()
	tk := &task.Task{
		ID:          id.NewTaskID(),
		Name:        "resize-image",
		Payload:     []byte(`{"width":800}`),
		State:       task.StateDead,
		RetryBudget: 2,
		RetryCount:  2,
	}
	tk.RecordFailure("gpu out of memory", time.Now().UTC())
	tk.AssignedNode = id.NewNodeID()
	tk.Token = 7
	if err := st.CreateTask(context.Background(), tk); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return tk
}

func TestServicePush(t *testing.T) {
	t.Parallel()
	st := memory.New()
	svc := newService(st)
	ctx := context.Background()

	tk := deadTask(t, st)
	if err := svc.Push(ctx, tk); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := st.ListArchive(ctx, archive.ListOpts{})
	if err != nil {
		t.Fatalf("ListArchive: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.TaskID != tk.ID {
		t.Fatalf("TaskID = %v, want %v", e.TaskID, tk.ID)
	}
	if e.FinalState != string(task.StateDead) {
		t.Fatalf("FinalState = %q, want %q", e.FinalState, task.StateDead)
	}
	if e.Error != "gpu out of memory" {
		t.Fatalf("Error = %q", e.Error)
	}
	if e.RetryCount != 2 || e.RetryBudget != 2 {
		t.Fatalf("retry counters %d/%d, want 2/2", e.RetryCount, e.RetryBudget)
	}
}

func TestServiceReplay(t *testing.T) {
	t.Parallel()
	st := memory.New()
	svc := newService(st)
	ctx := context.Background()

	tk := deadTask(t, st)
	if err := svc.Push(ctx, tk); err != nil {
		t.Fatalf("Push: %v", err)
	}
	entries, err := st.ListArchive(ctx, archive.ListOpts{})
	if err != nil {
		t.Fatalf("ListArchive: %v", err)
	}

	replayed, err := svc.Replay(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.ID != tk.ID {
		t.Fatalf("replay changed task ID: %v != %v", replayed.ID, tk.ID)
	}
	if replayed.State != task.StatePending {
		t.Fatalf("State = %q, want pending", replayed.State)
	}
	if replayed.RetryCount != 0 {
		t.Fatalf("RetryCount = %d, want 0", replayed.RetryCount)
	}
	if !replayed.AssignedNode.IsNil() || replayed.Token != 0 {
		t.Fatal("worker ownership not cleared")
	}

	stored, err := st.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if stored.State != task.StatePending {
		t.Fatalf("stored state = %q, want pending", stored.State)
	}

	entry, err := st.GetArchive(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("GetArchive: %v", err)
	}
	if entry.ReplayedAt == nil {
		t.Fatal("ReplayedAt not stamped")
	}
}

func TestServiceReplayUnknownEntry(t *testing.T) {
	t.Parallel()
	st := memory.New()
	svc := newService(st)

	if _, err := svc.Replay(context.Background(), id.NewArchiveID()); err == nil {
		t.Fatal("expected error for unknown archive entry")
	}
}

func TestServiceReplayWithoutRestorer(t *testing.T) {
	t.Parallel()
	st := memory.New()
	svc := archive.NewService(st)

	tk := deadTask(t, st)
	if err := svc.Push(context.Background(), tk); err != nil {
		t.Fatalf("Push: %v", err)
	}
	entries, err := st.ListArchive(context.Background(), archive.ListOpts{})
	if err != nil {
		t.Fatalf("ListArchive: %v", err)
	}
	if _, err := svc.Replay(context.Background(), entries[0].ID); err == nil {
		t.Fatal("expected error when no restorer is wired")
	}
}
