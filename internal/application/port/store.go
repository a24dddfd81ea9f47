package port

import (
	"context"

	"github.com/instituteops/approvalflow/internal/domain/request"
)

// RequestStore defines persistence operations for approval requests.
// History entries travel with the request: Create persists the creation
// entry and UpdateConditional appends any entries added since the read.
type RequestStore interface {
	// Create persists a new request together with its creation history entry
	Create(ctx context.Context, req *request.Request) error

	// GetByID retrieves a request with its full history
	GetByID(ctx context.Context, id string) (*request.Request, error)

	// UpdateConditional persists the request only if the stored row still
	// carries prevStatus and prevPosition. Returns ErrConcurrentModification
	// when another writer got there first.
	UpdateConditional(ctx context.Context, req *request.Request, prevStatus request.Status, prevPosition int) error

	// QueryByApprover returns requests currently awaiting the given role,
	// ordered by creation time ascending (oldest first)
	QueryByApprover(ctx context.Context, role string) ([]*request.Request, error)

	// QueryByCreator returns requests created by the given identity,
	// any status, ordered by creation time descending (newest first)
	QueryByCreator(ctx context.Context, identity string) ([]*request.Request, error)

	// List retrieves requests with pagination, newest first
	List(ctx context.Context, limit, offset int) ([]*request.Request, error)
}
