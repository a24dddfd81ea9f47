package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/instituteops/approvalflow/internal/application/port"
	"github.com/instituteops/approvalflow/internal/domain/request"
)

// Filter holds the client-side predicates every dashboard used to
// reimplement on its own: kind, date range and free-text match on
// payload fields. The zero value matches everything.
type Filter struct {
	Kind string
	From time.Time
	To   time.Time
	Text string
}

// Match reports whether the request satisfies all set predicates
func (f Filter) Match(req *request.Request) bool {
	if f.Kind != "" && req.Kind != f.Kind {
		return false
	}
	if !f.From.IsZero() && req.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && req.CreatedAt.After(f.To) {
		return false
	}
	if f.Text != "" && !matchText(req, f.Text) {
		return false
	}
	return true
}

// matchText does a case-insensitive substring search over the string
// fields of the payload
func matchText(req *request.Request, text string) bool {
	needle := strings.ToLower(text)
	for _, val := range req.Payload {
		if s, ok := val.(string); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

// Service is the shared, stateless projection layer over the request
// store. It never writes and never caches: every call is a fresh read.
type Service struct {
	store  port.RequestStore
	logger *zap.Logger
}

// NewService creates a new query service
func NewService(store port.RequestStore, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// PendingFor returns all requests awaiting the given role, oldest first,
// filtered by the given predicates
func (s *Service) PendingFor(ctx context.Context, role string, filter Filter) ([]*request.Request, error) {
	if strings.TrimSpace(role) == "" {
		return nil, fmt.Errorf("role is required")
	}

	requests, err := s.store.QueryByApprover(ctx, role)
	if err != nil {
		s.logger.Error("Failed to query pending requests", zap.String("role", role), zap.Error(err))
		return nil, fmt.Errorf("query pending for %s: %w", role, err)
	}

	return apply(requests, filter), nil
}

// CreatedBy returns all requests created by the given identity, newest
// first, filtered by the given predicates
func (s *Service) CreatedBy(ctx context.Context, identity string, filter Filter) ([]*request.Request, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, fmt.Errorf("identity is required")
	}

	requests, err := s.store.QueryByCreator(ctx, identity)
	if err != nil {
		s.logger.Error("Failed to query created requests", zap.String("identity", identity), zap.Error(err))
		return nil, fmt.Errorf("query created by %s: %w", identity, err)
	}

	return apply(requests, filter), nil
}

// List retrieves a paginated admin view of all requests, newest first
func (s *Service) List(ctx context.Context, limit, offset int) ([]*request.Request, error) {
	requests, err := s.store.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("Failed to list requests", zap.Int("limit", limit), zap.Int("offset", offset), zap.Error(err))
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return requests, nil
}

// History returns the audit trail for a single request
func (s *Service) History(ctx context.Context, id string) ([]request.HistoryEntry, error) {
	req, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return req.History, nil
}

func apply(requests []*request.Request, filter Filter) []*request.Request {
	filtered := make([]*request.Request, 0, len(requests))
	for _, req := range requests {
		if filter.Match(req) {
			filtered = append(filtered, req)
		}
	}
	return filtered
}
