package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/instituteops/approvalflow/internal/application/port"
	"github.com/instituteops/approvalflow/internal/domain/flow"
	"github.com/instituteops/approvalflow/internal/domain/request"
)

// Engine owns the state machine for approval requests: it validates
// transitions, advances the current approver, appends audit entries and
// determines terminal outcomes. All operations are precondition-checked
// before any store write and never partially mutate a request.
type Engine struct {
	registry *flow.Registry
	store    port.RequestStore
	notifier port.Notifier
	locks    *requestLocks
	logger   *zap.Logger
}

// NewEngine creates a new lifecycle engine. The notifier may be nil when
// no sink is configured.
func NewEngine(registry *flow.Registry, store port.RequestStore, notifier port.Notifier, logger *zap.Logger) *Engine {
	return &Engine{
		registry: registry,
		store:    store,
		notifier: notifier,
		locks:    newRequestLocks(),
		logger:   logger,
	}
}

// Create resolves the flow for the kind, validates the payload and
// persists a new pending request awaiting the first role in the flow
func (e *Engine) Create(ctx context.Context, kind string, payload map[string]interface{}, creator request.Actor) (*request.Request, error) {
	roles, err := e.registry.Resolve(kind)
	if err != nil {
		return nil, err
	}

	if err := e.registry.ValidatePayload(kind, payload); err != nil {
		return nil, err
	}

	if creator.Identity == "" {
		return nil, fmt.Errorf("%w: creator identity is required", request.ErrInvalidPayload)
	}

	now := time.Now().UTC()
	req := &request.Request{
		ID:                  uuid.NewString(),
		Kind:                kind,
		Payload:             payload,
		Status:              request.StatusPending,
		CurrentApproverRole: roles[0],
		ApprovalFlow:        roles,
		FlowPosition:        0,
		History: []request.HistoryEntry{{
			Action:     request.ActionCreated,
			ByRole:     creator.Role,
			ByIdentity: creator.Identity,
			Timestamp:  now,
		}},
		CreatedBy: creator.Identity,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.store.Create(ctx, req); err != nil {
		e.logger.Error("Failed to create request",
			zap.String("kind", kind),
			zap.String("created_by", creator.Identity),
			zap.Error(err))
		return nil, fmt.Errorf("create request: %w", err)
	}

	e.logger.Info("Request created",
		zap.String("id", req.ID),
		zap.String("kind", kind),
		zap.String("created_by", creator.Identity),
		zap.String("current_approver_role", roles[0]))

	e.emit(ctx, req, request.ActionCreated, "", roles[0], creator.Identity)

	return req, nil
}

// Approve records the current approver's decision. At the last flow
// position the request becomes terminal with status approved; at any
// earlier position this is an intermediate approval that advances the
// flow position and records a forwarded history entry.
func (e *Engine) Approve(ctx context.Context, id string, actor request.Actor, comment string) (*request.Request, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	req, err := e.loadActionable(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	prevStatus, prevPosition := req.Status, req.FlowPosition
	fromRole := req.CurrentApproverRole
	now := time.Now().UTC()

	next := req.Clone()
	next.UpdatedAt = now

	var action request.Action
	var toRole string

	if req.AtLastStep() {
		action = request.ActionApproved
		next.Status = request.StatusApproved
		next.CurrentApproverRole = ""
		next.TerminalAt = &now
	} else {
		action = request.ActionForwarded
		next.FlowPosition++
		next.CurrentApproverRole = next.ApprovalFlow[next.FlowPosition]
		toRole = next.CurrentApproverRole
	}

	next.History = append(next.History, request.HistoryEntry{
		Action:     action,
		ByRole:     actor.Role,
		ByIdentity: actor.Identity,
		Comment:    comment,
		Timestamp:  now,
	})

	if err := e.store.UpdateConditional(ctx, next, prevStatus, prevPosition); err != nil {
		e.logger.Error("Failed to persist approval",
			zap.String("id", id),
			zap.String("acting_role", actor.Role),
			zap.Error(err))
		return nil, err
	}

	e.logger.Info("Request approved",
		zap.String("id", id),
		zap.String("action", action.String()),
		zap.String("acting_role", actor.Role),
		zap.Int("flow_position", next.FlowPosition))

	e.emit(ctx, next, action, fromRole, toRole, actor.Identity)

	return next, nil
}

// Reject ends the workflow at any stage: the request becomes terminal
// with status rejected regardless of flow position
func (e *Engine) Reject(ctx context.Context, id string, actor request.Actor, comment string) (*request.Request, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	req, err := e.loadActionable(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	prevStatus, prevPosition := req.Status, req.FlowPosition
	fromRole := req.CurrentApproverRole
	now := time.Now().UTC()

	next := req.Clone()
	next.Status = request.StatusRejected
	next.CurrentApproverRole = ""
	next.TerminalAt = &now
	next.UpdatedAt = now
	next.History = append(next.History, request.HistoryEntry{
		Action:     request.ActionRejected,
		ByRole:     actor.Role,
		ByIdentity: actor.Identity,
		Comment:    comment,
		Timestamp:  now,
	})

	if err := e.store.UpdateConditional(ctx, next, prevStatus, prevPosition); err != nil {
		e.logger.Error("Failed to persist rejection",
			zap.String("id", id),
			zap.String("acting_role", actor.Role),
			zap.Error(err))
		return nil, err
	}

	e.logger.Info("Request rejected",
		zap.String("id", id),
		zap.String("acting_role", actor.Role),
		zap.String("comment", comment))

	e.emit(ctx, next, request.ActionRejected, fromRole, "", actor.Identity)

	return next, nil
}

// Complete marks an approved request as completed, confirming the
// physical outcome (e.g. receipt of a purchase). Only the creator may
// confirm, and only from status approved.
func (e *Engine) Complete(ctx context.Context, id string, actor request.Actor, comment string) (*request.Request, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	req, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Status != request.StatusApproved {
		if req.IsTerminal() {
			return nil, fmt.Errorf("%w: request %s is %s", request.ErrAlreadyTerminal, id, req.Status)
		}
		return nil, fmt.Errorf("%w: request %s is %s", request.ErrNotApproved, id, req.Status)
	}

	if actor.Identity != req.CreatedBy {
		return nil, fmt.Errorf("%w: only the creator may confirm completion of request %s",
			request.ErrNotAuthorizedApprover, id)
	}

	prevStatus, prevPosition := req.Status, req.FlowPosition
	now := time.Now().UTC()

	next := req.Clone()
	next.Status = request.StatusCompleted
	next.TerminalAt = &now
	next.UpdatedAt = now
	next.History = append(next.History, request.HistoryEntry{
		Action:     request.ActionCompleted,
		ByRole:     actor.Role,
		ByIdentity: actor.Identity,
		Comment:    comment,
		Timestamp:  now,
	})

	if err := e.store.UpdateConditional(ctx, next, prevStatus, prevPosition); err != nil {
		e.logger.Error("Failed to persist completion",
			zap.String("id", id),
			zap.Error(err))
		return nil, err
	}

	e.logger.Info("Request completed",
		zap.String("id", id),
		zap.String("completed_by", actor.Identity))

	e.emit(ctx, next, request.ActionCompleted, "", "", actor.Identity)

	return next, nil
}

// Get retrieves a single request with its history
func (e *Engine) Get(ctx context.Context, id string) (*request.Request, error) {
	return e.store.GetByID(ctx, id)
}

// loadActionable fetches the request and checks the shared approve/reject
// preconditions: it exists, is not terminal, and the actor holds the
// awaited role
func (e *Engine) loadActionable(ctx context.Context, id string, actor request.Actor) (*request.Request, error) {
	req, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.IsTerminal() {
		return nil, fmt.Errorf("%w: request %s is %s", request.ErrAlreadyTerminal, id, req.Status)
	}

	if actor.Role != req.CurrentApproverRole {
		return nil, fmt.Errorf("%w: request %s awaits %s, got %s",
			request.ErrNotAuthorizedApprover, id, req.CurrentApproverRole, actor.Role)
	}

	return req, nil
}

// emit forwards a transition event to the notifier. Sink failures are
// logged and never surfaced to the caller.
func (e *Engine) emit(ctx context.Context, req *request.Request, action request.Action, fromRole, toRole, actor string) {
	if e.notifier == nil {
		return
	}

	event := port.TransitionEvent{
		RequestID: req.ID,
		Kind:      req.Kind,
		Action:    action,
		Status:    req.Status,
		FromRole:  fromRole,
		ToRole:    toRole,
		Actor:     actor,
		Timestamp: req.UpdatedAt,
	}

	if err := e.notifier.Notify(ctx, event); err != nil {
		e.logger.Warn("Notification sink failed",
			zap.String("request_id", req.ID),
			zap.String("action", action.String()),
			zap.Error(err))
	}
}
