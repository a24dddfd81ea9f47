package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/instituteops/approvalflow/internal/application/port"
	"github.com/instituteops/approvalflow/internal/domain/flow"
	"github.com/instituteops/approvalflow/internal/domain/request"
	"github.com/instituteops/approvalflow/internal/infrastructure/persistence"
)

// captureSink records every emitted transition event
type captureSink struct {
	mu     sync.Mutex
	events []port.TransitionEvent
	err    error
}

func (c *captureSink) Notify(ctx context.Context, event port.TransitionEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func (c *captureSink) actions() []request.Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	actions := make([]request.Action, len(c.events))
	for i, e := range c.events {
		actions[i] = e.Action
	}
	return actions
}

func newTestEngine(t *testing.T) (*Engine, *persistence.MemoryStore, *captureSink) {
	t.Helper()

	registry, err := flow.NewRegistry(flow.Defaults())
	require.NoError(t, err)

	store := persistence.NewMemoryStore()
	sink := &captureSink{}
	engine := NewEngine(registry, store, sink, zap.NewNop())

	return engine, store, sink
}

func TestEngine_Create(t *testing.T) {
	engine, _, sink := newTestEngine(t)
	ctx := context.Background()

	req, err := engine.Create(ctx, "stock",
		map[string]interface{}{"item": "Gloves", "quantity": 10},
		request.Actor{Identity: "u1", Role: "store_keeper"})
	require.NoError(t, err)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, request.StatusPending, req.Status)
	assert.Equal(t, "asst_store", req.CurrentApproverRole)
	assert.Equal(t, 0, req.FlowPosition)
	assert.Equal(t, []string{"asst_store", "principal"}, req.ApprovalFlow)
	assert.Equal(t, "u1", req.CreatedBy)
	assert.Nil(t, req.TerminalAt)

	require.Len(t, req.History, 1)
	assert.Equal(t, request.ActionCreated, req.History[0].Action)
	assert.Equal(t, "u1", req.History[0].ByIdentity)

	require.Len(t, sink.events, 1)
	assert.Equal(t, "asst_store", sink.events[0].ToRole)
}

func TestEngine_Create_Failures(t *testing.T) {
	engine, _, sink := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, "furniture", map[string]interface{}{"item": "desk"},
		request.Actor{Identity: "u1"})
	assert.ErrorIs(t, err, request.ErrUnknownKind)

	_, err = engine.Create(ctx, "stock", map[string]interface{}{"item": "Gloves"},
		request.Actor{Identity: "u1"})
	assert.ErrorIs(t, err, request.ErrInvalidPayload)

	_, err = engine.Create(ctx, "stock", map[string]interface{}{"item": "Gloves", "quantity": 10},
		request.Actor{})
	assert.ErrorIs(t, err, request.ErrInvalidPayload)

	assert.Empty(t, sink.events, "failed creates must not emit events")
}

func TestEngine_IntermediateApproval(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, "stock",
		map[string]interface{}{"item": "Gloves", "quantity": 10},
		request.Actor{Identity: "u1"})
	require.NoError(t, err)

	// Scenario B: approval before the last position forwards the request
	req, err := engine.Approve(ctx, created.ID, request.Actor{Identity: "u2", Role: "asst_store"}, "")
	require.NoError(t, err)

	assert.Equal(t, request.StatusPending, req.Status)
	assert.Equal(t, "principal", req.CurrentApproverRole)
	assert.Equal(t, 1, req.FlowPosition)
	assert.Nil(t, req.TerminalAt)

	require.Len(t, req.History, 2)
	assert.Equal(t, request.ActionForwarded, req.History[1].Action)
	assert.Equal(t, "asst_store", req.History[1].ByRole)
}

func TestEngine_FinalApproval(t *testing.T) {
	engine, _, sink := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, "stock",
		map[string]interface{}{"item": "Gloves", "quantity": 10},
		request.Actor{Identity: "u1"})
	require.NoError(t, err)

	_, err = engine.Approve(ctx, created.ID, request.Actor{Identity: "u2", Role: "asst_store"}, "")
	require.NoError(t, err)

	// Scenario C: approval at the last position is terminal
	req, err := engine.Approve(ctx, created.ID, request.Actor{Identity: "u3", Role: "principal"}, "")
	require.NoError(t, err)

	assert.Equal(t, request.StatusApproved, req.Status)
	assert.Empty(t, req.CurrentApproverRole)
	require.NotNil(t, req.TerminalAt)
	require.Len(t, req.History, 3)
	assert.Equal(t, request.ActionApproved, req.History[2].Action)

	assert.Equal(t,
		[]request.Action{request.ActionCreated, request.ActionForwarded, request.ActionApproved},
		sink.actions())
}

func TestEngine_Reject(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, "stock",
		map[string]interface{}{"item": "Gloves", "quantity": 10},
		request.Actor{Identity: "u1"})
	require.NoError(t, err)

	// Scenario D: rejection at the first position is terminal
	req, err := engine.Reject(ctx, created.ID,
		request.Actor{Identity: "u2", Role: "asst_store"}, "insufficient budget")
	require.NoError(t, err)

	assert.Equal(t, request.StatusRejected, req.Status)
	assert.Empty(t, req.CurrentApproverRole)
	require.NotNil(t, req.TerminalAt)
	assert.Equal(t, 0, req.FlowPosition, "rejection must not advance the flow")

	require.Len(t, req.History, 2)
	last := req.History[1]
	assert.Equal(t, request.ActionRejected, last.Action)
	assert.Equal(t, "insufficient budget", last.Comment)
}

func TestEngine_WrongRole(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, "stock",
		map[string]interface{}{"item": "Gloves", "quantity": 10},
		request.Actor{Identity: "u1"})
	require.NoError(t, err)

	// Scenario E: principal cannot act before asst_store
	_, err = engine.Approve(ctx, created.ID, request.Actor{Identity: "u3", Role: "principal"}, "")
	assert.ErrorIs(t, err, request.ErrNotAuthorizedApprover)

	_, err = engine.Reject(ctx, created.ID, request.Actor{Identity: "u3", Role: "principal"}, "")
	assert.ErrorIs(t, err, request.ErrNotAuthorizedApprover)

	// The request must be untouched
	stored, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusPending, stored.Status)
	assert.Equal(t, "asst_store", stored.CurrentApproverRole)
	assert.Equal(t, 0, stored.FlowPosition)
	assert.Len(t, stored.History, 1)
}

func TestEngine_TerminalIsAbsorbing(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, "library_resource",
		map[string]interface{}{"title": "Go in Practice"},
		request.Actor{Identity: "u1"})
	require.NoError(t, err)

	_, err = engine.Reject(ctx, created.ID, request.Actor{Identity: "u2", Role: "librarian"}, "")
	require.NoError(t, err)

	_, err = engine.Approve(ctx, created.ID, request.Actor{Identity: "u2", Role: "librarian"}, "")
	assert.ErrorIs(t, err, request.ErrAlreadyTerminal)

	_, err = engine.Reject(ctx, created.ID, request.Actor{Identity: "u2", Role: "librarian"}, "")
	assert.ErrorIs(t, err, request.ErrAlreadyTerminal)
}

func TestEngine_FullFlowInvariants(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, "teacher_application",
		map[string]interface{}{"applicant_name": "A. Teacher", "subject": "Physics"},
		request.Actor{Identity: "u1"})
	require.NoError(t, err)

	approvers := []request.Actor{
		{Identity: "u-hod", Role: "hod"},
		{Identity: "u-registrar", Role: "registrar"},
		{Identity: "u-principal", Role: "principal"},
	}

	req := created
	for i, approver := range approvers {
		req, err = engine.Approve(ctx, created.ID, approver, "")
		require.NoError(t, err)

		// One history entry per transition so far, plus creation
		assert.Len(t, req.History, i+2)

		if req.Status == request.StatusPending {
			assert.Equal(t, req.ApprovalFlow[req.FlowPosition], req.CurrentApproverRole)
			assert.Equal(t, i+1, req.FlowPosition)
		}

		// A request is either terminal or has a named next actor
		assert.Equal(t, req.IsTerminal(), req.CurrentApproverRole == "")
	}

	assert.Equal(t, request.StatusApproved, req.Status)
}

func TestEngine_Complete(t *testing.T) {
	engine, _, sink := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, "library_resource",
		map[string]interface{}{"title": "Go in Practice"},
		request.Actor{Identity: "u1", Role: "librarian"})
	require.NoError(t, err)

	// Not approved yet
	_, err = engine.Complete(ctx, created.ID, request.Actor{Identity: "u1"}, "")
	assert.ErrorIs(t, err, request.ErrNotApproved)

	_, err = engine.Approve(ctx, created.ID, request.Actor{Identity: "u2", Role: "librarian"}, "")
	require.NoError(t, err)
	_, err = engine.Approve(ctx, created.ID, request.Actor{Identity: "u3", Role: "principal"}, "")
	require.NoError(t, err)

	// Only the creator may confirm receipt
	_, err = engine.Complete(ctx, created.ID, request.Actor{Identity: "u9"}, "")
	assert.ErrorIs(t, err, request.ErrNotAuthorizedApprover)

	req, err := engine.Complete(ctx, created.ID, request.Actor{Identity: "u1", Role: "librarian"}, "received")
	require.NoError(t, err)
	assert.Equal(t, request.StatusCompleted, req.Status)
	assert.Equal(t, request.ActionCompleted, req.History[len(req.History)-1].Action)

	// Completed is absorbing
	_, err = engine.Complete(ctx, created.ID, request.Actor{Identity: "u1"}, "")
	assert.ErrorIs(t, err, request.ErrAlreadyTerminal)

	assert.Equal(t,
		[]request.Action{request.ActionCreated, request.ActionForwarded, request.ActionApproved, request.ActionCompleted},
		sink.actions())
}

func TestEngine_NotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Approve(ctx, "missing", request.Actor{Identity: "u1", Role: "hod"}, "")
	assert.ErrorIs(t, err, request.ErrNotFound)
}

func TestEngine_ConcurrentApprovals(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, "library_resource",
		map[string]interface{}{"title": "Go in Practice"},
		request.Actor{Identity: "u1"})
	require.NoError(t, err)

	// Two librarians race on the same step; exactly one transition may win
	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := request.Actor{Identity: fmt.Sprintf("lib-%d", i), Role: "librarian"}
			_, errs[i] = engine.Approve(ctx, created.ID, actor, "")
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, request.ErrNotAuthorizedApprover)
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent approval may succeed")

	req, err := engine.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, req.FlowPosition)
	assert.Len(t, req.History, 2)
}

func TestEngine_StoreConflictSurfaced(t *testing.T) {
	registry, err := flow.NewRegistry(flow.Defaults())
	require.NoError(t, err)

	store := &conflictingStore{MemoryStore: persistence.NewMemoryStore()}
	engine := NewEngine(registry, store, nil, zap.NewNop())
	ctx := context.Background()

	created, err := engine.Create(ctx, "library_resource",
		map[string]interface{}{"title": "Go in Practice"},
		request.Actor{Identity: "u1"})
	require.NoError(t, err)

	_, err = engine.Approve(ctx, created.ID, request.Actor{Identity: "u2", Role: "librarian"}, "")
	assert.ErrorIs(t, err, request.ErrConcurrentModification)
}

// conflictingStore simulates a store whose conditional write always loses
type conflictingStore struct {
	*persistence.MemoryStore
}

func (s *conflictingStore) UpdateConditional(ctx context.Context, req *request.Request, prevStatus request.Status, prevPosition int) error {
	return fmt.Errorf("%w: %s", request.ErrConcurrentModification, req.ID)
}

func TestEngine_FailingSinkDoesNotFailTransition(t *testing.T) {
	registry, err := flow.NewRegistry(flow.Defaults())
	require.NoError(t, err)

	sink := &captureSink{err: fmt.Errorf("sink down")}
	engine := NewEngine(registry, persistence.NewMemoryStore(), sink, zap.NewNop())

	req, err := engine.Create(context.Background(), "stock",
		map[string]interface{}{"item": "Gloves", "quantity": 10},
		request.Actor{Identity: "u1"})
	require.NoError(t, err)
	assert.Equal(t, request.StatusPending, req.Status)
}
