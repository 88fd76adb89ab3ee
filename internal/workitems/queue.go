// Package workitems exposes the work-item queue (C9) as a small API
// surface over the store's persistence layer, adding queue-level
// concerns (lease-owner generation, state filtering) the store itself
// stays agnostic to.
package workitems

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/marcus-qen/actionserver/internal/store"
)

// Exception describes why a work item failed, mirroring the fields the
// store persists alongside a FAILED item.
type Exception struct {
	Type    string
	Code    string
	Message string
}

// Queue is the work-items queue singleton, constructed once in main and
// passed by reference.
type Queue struct {
	store *store.Store
}

// New constructs a Queue over the given store.
func New(st *store.Store) *Queue {
	return &Queue{store: st}
}

// Seed enqueues a new PENDING item onto queueName and returns its id.
func (q *Queue) Seed(ctx context.Context, queueName string, payload json.RawMessage) (string, error) {
	return q.store.SeedWorkItem(ctx, queueName, string(payload))
}

// Reserve atomically claims the oldest PENDING item on queueName, tagging
// it with a generated lease owner if one is not supplied. Returns
// store.ErrNotFound if the queue is empty.
func (q *Queue) Reserve(ctx context.Context, queueName, leaseOwner string) (*store.WorkItem, error) {
	if leaseOwner == "" {
		leaseOwner = "consumer-" + uuid.NewString()
	}
	return q.store.ReserveWorkItem(ctx, queueName, leaseOwner)
}

// Release moves an IN_PROGRESS item to DONE or FAILED, recording exc for a
// FAILED transition. exc may be nil for a DONE transition.
func (q *Queue) Release(ctx context.Context, itemID, state string, exc *Exception) error {
	if state != store.WorkItemDone && state != store.WorkItemFailed {
		return fmt.Errorf("workitems: invalid terminal state %q", state)
	}
	if exc == nil {
		exc = &Exception{}
	}
	return q.store.ReleaseWorkItem(ctx, itemID, state, exc.Type, exc.Code, exc.Message)
}

// Requeue is the admin-only re-queue path for a FAILED item back to
// PENDING; nothing does this automatically.
func (q *Queue) Requeue(ctx context.Context, itemID string) error {
	return q.store.RequeueWorkItem(ctx, itemID)
}

// Stats returns the per-state item counts for queueName.
func (q *Queue) Stats(ctx context.Context, queueName string) (*store.QueueStats, error) {
	return q.store.GetQueueStats(ctx, queueName)
}

// List returns items on queueName, optionally filtered by state.
func (q *Queue) List(ctx context.Context, queueName, state string, limit int) ([]*store.WorkItem, error) {
	return q.store.ListWorkItems(ctx, queueName, state, limit)
}
