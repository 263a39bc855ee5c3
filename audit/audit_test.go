package audit_test

import (
	"context"
	"testing"

	"github.com/hugoboss23-5/swarm/audit"
	"github.com/hugoboss23-5/swarm/consensus"
	"github.com/hugoboss23-5/swarm/hook"
)

func commit(version uint64, unconfirmed bool) *consensus.Transition {
	t := consensus.NewTransition("coordinator")
	t.Version = version
	t.Unconfirmed = unconfirmed
	return t
}

func TestRecordsCommitsInOrder(t *testing.T) {
	t.Parallel()
	e := audit.New()
	ctx := context.Background()

	for v := uint64(1); v <= 3; v++ {
		if err := e.OnStateCommitted(ctx, commit(v, false)); err != nil {
			t.Fatalf("OnStateCommitted: %v", err)
		}
	}

	entries := e.Entries()
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	for i, rec := range entries {
		if rec.Version != uint64(i+1) {
			t.Fatalf("entry %d version = %d", i, rec.Version)
		}
	}
}

func TestUnconfirmedFilter(t *testing.T) {
	t.Parallel()
	e := audit.New()
	ctx := context.Background()

	_ = e.OnStateCommitted(ctx, commit(1, false))
	_ = e.OnStateCommitted(ctx, commit(2, true))
	_ = e.OnStateCommitted(ctx, commit(3, false))
	_ = e.OnStateCommitted(ctx, commit(4, true))

	unconfirmed := e.Unconfirmed()
	if len(unconfirmed) != 2 {
		t.Fatalf("unconfirmed = %d, want 2", len(unconfirmed))
	}
	if unconfirmed[0].Version != 2 || unconfirmed[1].Version != 4 {
		t.Fatalf("unconfirmed versions = %d, %d", unconfirmed[0].Version, unconfirmed[1].Version)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	t.Parallel()
	e := audit.New(audit.WithCapacity(3))
	ctx := context.Background()

	for v := uint64(1); v <= 5; v++ {
		_ = e.OnStateCommitted(ctx, commit(v, false))
	}

	entries := e.Entries()
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Version != 3 || entries[2].Version != 5 {
		t.Fatalf("retained versions %d..%d, want 3..5", entries[0].Version, entries[2].Version)
	}
}

func TestViaRegistry(t *testing.T) {
	t.Parallel()
	e := audit.New()
	reg := hook.NewRegistry(nil)
	reg.Register(e)

	reg.EmitStateCommitted(context.Background(), commit(1, true))

	if e.Len() != 1 {
		t.Fatalf("len = %d, want 1", e.Len())
	}
	if got := e.Entries()[0]; !got.Unconfirmed {
		t.Fatal("unconfirmed flag lost")
	}
}
