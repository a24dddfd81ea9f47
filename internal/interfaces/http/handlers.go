package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/instituteops/approvalflow/internal/application/port"
	"github.com/instituteops/approvalflow/internal/application/query"
	"github.com/instituteops/approvalflow/internal/application/workflow"
	"github.com/instituteops/approvalflow/internal/domain/request"
)

// actorHeader carries the already-authenticated principal; session
// management lives upstream of this service
const actorHeader = "X-Actor-Id"

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine  *workflow.Engine
	queries *query.Service
	roles   port.RoleProvider
	logger  *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(engine *workflow.Engine, queries *query.Service, roles port.RoleProvider, logger *zap.Logger) *Handlers {
	return &Handlers{
		engine:  engine,
		queries: queries,
		roles:   roles,
		logger:  logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// CreateRequestBody is the payload for POST /requests
type CreateRequestBody struct {
	Kind    string                 `json:"kind" binding:"required"`
	Payload map[string]interface{} `json:"payload"`
}

// DecisionBody is the payload for approve/reject/complete
type DecisionBody struct {
	Comment string `json:"comment"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "approvalflow",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// CreateRequest handles POST /api/v1/requests
func (h *Handlers) CreateRequest(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var body CreateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	req, err := h.engine.Create(c.Request.Context(), body.Kind, body.Payload, actor)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: req})
}

// Approve handles POST /api/v1/requests/:id/approve
func (h *Handlers) Approve(c *gin.Context) {
	h.decide(c, h.engine.Approve)
}

// Reject handles POST /api/v1/requests/:id/reject
func (h *Handlers) Reject(c *gin.Context) {
	h.decide(c, h.engine.Reject)
}

// Complete handles POST /api/v1/requests/:id/complete
func (h *Handlers) Complete(c *gin.Context) {
	h.decide(c, h.engine.Complete)
}

type decisionFunc func(ctx context.Context, id string, actor request.Actor, comment string) (*request.Request, error)

func (h *Handlers) decide(c *gin.Context, op decisionFunc) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var body DecisionBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			h.fail(c, http.StatusBadRequest, "invalid_body", "invalid request body")
			return
		}
	}

	req, err := op(c.Request.Context(), c.Param("id"), actor, body.Comment)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// GetRequest handles GET /api/v1/requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	req, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// GetHistory handles GET /api/v1/requests/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	history, err := h.queries.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: history})
}

// ListRequests handles GET /api/v1/requests
func (h *Handlers) ListRequests(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	requests, err := h.queries.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: requests})
}

// PendingRequests handles GET /api/v1/requests/pending. The role comes
// from the query string when given, otherwise from the caller's own role.
func (h *Handlers) PendingRequests(c *gin.Context) {
	role := c.Query("role")
	if role == "" {
		actor, ok := h.actor(c)
		if !ok {
			return
		}
		role = actor.Role
	}

	filter, ok := h.filter(c)
	if !ok {
		return
	}

	requests, err := h.queries.PendingFor(c.Request.Context(), role, filter)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: requests})
}

// MyRequests handles GET /api/v1/requests/mine
func (h *Handlers) MyRequests(c *gin.Context) {
	identity := c.GetHeader(actorHeader)
	if identity == "" {
		h.fail(c, http.StatusBadRequest, "missing_actor", "missing "+actorHeader+" header")
		return
	}

	filter, ok := h.filter(c)
	if !ok {
		return
	}

	requests, err := h.queries.CreatedBy(c.Request.Context(), identity, filter)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: requests})
}

// actor resolves the acting principal and its role from the request
func (h *Handlers) actor(c *gin.Context) (request.Actor, bool) {
	identity := c.GetHeader(actorHeader)
	if identity == "" {
		h.fail(c, http.StatusBadRequest, "missing_actor", "missing "+actorHeader+" header")
		return request.Actor{}, false
	}

	role, err := h.roles.RoleOf(c.Request.Context(), identity)
	if err != nil {
		h.logger.Warn("Failed to resolve role", zap.String("identity", identity), zap.Error(err))
		h.fail(c, http.StatusForbidden, "unknown_identity", "no role registered for identity")
		return request.Actor{}, false
	}

	return request.Actor{Identity: identity, Role: role}, true
}

// filter parses the shared dashboard predicates from the query string
func (h *Handlers) filter(c *gin.Context) (query.Filter, bool) {
	filter := query.Filter{
		Kind: c.Query("kind"),
		Text: c.Query("q"),
	}

	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			h.fail(c, http.StatusBadRequest, "invalid_filter", "from must be RFC3339")
			return query.Filter{}, false
		}
		filter.From = t
	}

	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			h.fail(c, http.StatusBadRequest, "invalid_filter", "to must be RFC3339")
			return query.Filter{}, false
		}
		filter.To = t
	}

	return filter, true
}

func (h *Handlers) fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{Success: false, Error: message, Code: code})
}

// writeError maps workflow errors onto HTTP statuses. Concurrent
// modification gets its own code so clients know to re-query and retry.
func (h *Handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, request.ErrNotFound):
		h.fail(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, request.ErrUnknownKind):
		h.fail(c, http.StatusBadRequest, "unknown_kind", err.Error())
	case errors.Is(err, request.ErrInvalidPayload):
		h.fail(c, http.StatusBadRequest, "invalid_payload", err.Error())
	case errors.Is(err, request.ErrNotAuthorizedApprover):
		h.fail(c, http.StatusForbidden, "not_authorized", err.Error())
	case errors.Is(err, request.ErrAlreadyTerminal):
		h.fail(c, http.StatusConflict, "already_terminal", err.Error())
	case errors.Is(err, request.ErrNotApproved):
		h.fail(c, http.StatusConflict, "not_approved", err.Error())
	case errors.Is(err, request.ErrConcurrentModification):
		h.fail(c, http.StatusConflict, "concurrent_modification", err.Error())
	default:
		h.logger.Error("Unhandled error", zap.Error(err))
		h.fail(c, http.StatusInternalServerError, "internal", "internal server error")
	}
}
