package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/instituteops/approvalflow/internal/domain/request"
)

// MemoryStore is an in-memory request store with the same conditional
// write semantics as the sqlite store. It backs tests and dependency-free
// demo deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*request.Request
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*request.Request),
	}
}

// Create persists a new request
func (s *MemoryStore) Create(ctx context.Context, req *request.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("request %s already exists", req.ID)
	}

	s.requests[req.ID] = req.Clone()
	return nil
}

// GetByID retrieves a copy of the request
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", request.ErrNotFound, id)
	}

	return req.Clone(), nil
}

// UpdateConditional replaces the stored request only if it still carries
// prevStatus and prevPosition
func (s *MemoryStore) UpdateConditional(ctx context.Context, req *request.Request, prevStatus request.Status, prevPosition int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requests[req.ID]
	if !ok {
		return fmt.Errorf("%w: %s", request.ErrNotFound, req.ID)
	}

	if current.Status != prevStatus || current.FlowPosition != prevPosition {
		return fmt.Errorf("%w: %s", request.ErrConcurrentModification, req.ID)
	}

	s.requests[req.ID] = req.Clone()
	return nil
}

// QueryByApprover returns requests awaiting the given role, oldest first
func (s *MemoryStore) QueryByApprover(ctx context.Context, role string) ([]*request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*request.Request
	for _, req := range s.requests {
		if req.CurrentApproverRole == role {
			matches = append(matches, req.Clone())
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.Before(matches[j].CreatedAt)
		}
		return matches[i].ID < matches[j].ID
	})

	return matches, nil
}

// QueryByCreator returns requests created by the given identity, newest first
func (s *MemoryStore) QueryByCreator(ctx context.Context, identity string) ([]*request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*request.Request
	for _, req := range s.requests {
		if req.CreatedBy == identity {
			matches = append(matches, req.Clone())
		}
	}

	sortNewestFirst(matches)
	return matches, nil
}

// List retrieves requests with pagination, newest first
func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]*request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*request.Request, 0, len(s.requests))
	for _, req := range s.requests {
		all = append(all, req.Clone())
	}
	sortNewestFirst(all)

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	return all, nil
}

func sortNewestFirst(requests []*request.Request) {
	sort.Slice(requests, func(i, j int) bool {
		if !requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].CreatedAt.After(requests[j].CreatedAt)
		}
		return requests[i].ID > requests[j].ID
	})
}
