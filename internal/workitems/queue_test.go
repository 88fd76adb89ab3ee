package workitems

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/marcus-qen/actionserver/internal/store"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st)
}

func TestSeedReserveReleaseRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Seed(ctx, "emails", json.RawMessage(`{"to":"a@example.com"}`))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	item, err := q.Reserve(ctx, "emails", "")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if item.ID != id {
		t.Fatalf("expected to reserve %s, got %s", id, item.ID)
	}
	if !item.LeaseOwner.Valid || item.LeaseOwner.String == "" {
		t.Fatalf("expected a generated lease owner, got %+v", item.LeaseOwner)
	}

	if _, err := q.Reserve(ctx, "emails", "other"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound on empty queue, got %v", err)
	}

	if err := q.Release(ctx, item.ID, store.WorkItemDone, nil); err != nil {
		t.Fatalf("release: %v", err)
	}

	stats, err := q.Stats(ctx, "emails")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Done != 1 || stats.Pending != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestReleaseRejectsNonTerminalState(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Seed(ctx, "emails", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := q.Reserve(ctx, "emails", "w1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := q.Release(ctx, id, store.WorkItemPending, nil); err == nil {
		t.Fatalf("expected rejection releasing into a non-terminal state")
	}
}

func TestRequeueFailedItem(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Seed(ctx, "emails", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := q.Reserve(ctx, "emails", "w1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := q.Release(ctx, id, store.WorkItemFailed, &Exception{Type: "ValueError", Message: "boom"}); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := q.Requeue(ctx, id); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	items, err := q.List(ctx, "emails", store.WorkItemPending, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ID != id {
		t.Fatalf("expected requeued item pending, got %+v", items)
	}
}
