package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instituteops/approvalflow/internal/domain/request"
)

func pendingRequest(id, createdBy string, createdAt time.Time) *request.Request {
	return &request.Request{
		ID:                  id,
		Kind:                "stock",
		Payload:             map[string]interface{}{"item": "Gloves", "quantity": 10},
		Status:              request.StatusPending,
		CurrentApproverRole: "asst_store",
		ApprovalFlow:        []string{"asst_store", "principal"},
		History: []request.HistoryEntry{
			{Action: request.ActionCreated, ByIdentity: createdBy, Timestamp: createdAt},
		},
		CreatedBy: createdBy,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	req := pendingRequest("r1", "u1", now)
	require.NoError(t, store.Create(ctx, req))

	err := store.Create(ctx, pendingRequest("r1", "u1", now))
	assert.Error(t, err, "duplicate id must be rejected")

	got, err := store.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, req, got)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, request.ErrNotFound)
}

func TestMemoryStore_CloneIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	req := pendingRequest("r1", "u1", time.Now().UTC())
	require.NoError(t, store.Create(ctx, req))

	// Mutating the caller's copy must not leak into the store
	req.Status = request.StatusRejected
	req.Payload["item"] = "tampered"
	req.History[0].ByIdentity = "tampered"

	got, err := store.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, request.StatusPending, got.Status)
	assert.Equal(t, "Gloves", got.Payload["item"])
	assert.Equal(t, "u1", got.History[0].ByIdentity)

	// Nor must mutating a returned copy
	got.FlowPosition = 5
	again, err := store.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.FlowPosition)
}

func TestMemoryStore_UpdateConditional(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Create(ctx, pendingRequest("r1", "u1", now)))

	advanced := pendingRequest("r1", "u1", now)
	advanced.FlowPosition = 1
	advanced.CurrentApproverRole = "principal"
	advanced.History = append(advanced.History, request.HistoryEntry{
		Action: request.ActionForwarded, ByRole: "asst_store", ByIdentity: "u2", Timestamp: now.Add(time.Minute),
	})

	require.NoError(t, store.UpdateConditional(ctx, advanced, request.StatusPending, 0))

	got, err := store.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.FlowPosition)
	assert.Len(t, got.History, 2)

	// Stale preconditions lose
	err = store.UpdateConditional(ctx, advanced, request.StatusPending, 0)
	assert.ErrorIs(t, err, request.ErrConcurrentModification)

	err = store.UpdateConditional(ctx, pendingRequest("missing", "u1", now), request.StatusPending, 0)
	assert.ErrorIs(t, err, request.ErrNotFound)
}

func TestMemoryStore_Queries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, pendingRequest("r2", "u1", base.Add(time.Hour))))
	require.NoError(t, store.Create(ctx, pendingRequest("r1", "u1", base)))
	require.NoError(t, store.Create(ctx, pendingRequest("r3", "u2", base.Add(2*time.Hour))))

	terminal := pendingRequest("r4", "u1", base.Add(3*time.Hour))
	terminal.Status = request.StatusRejected
	terminal.CurrentApproverRole = ""
	require.NoError(t, store.Create(ctx, terminal))

	pending, err := store.QueryByApprover(ctx, "asst_store")
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "r1", pending[0].ID, "oldest first")
	assert.Equal(t, "r2", pending[1].ID)
	assert.Equal(t, "r3", pending[2].ID)

	mine, err := store.QueryByCreator(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, "r4", mine[0].ID, "newest first")
	assert.Equal(t, "r2", mine[1].ID)
	assert.Equal(t, "r1", mine[2].ID)

	all, err := store.List(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r3", all[0].ID)
	assert.Equal(t, "r2", all[1].ID)
}
