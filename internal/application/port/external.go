package port

import (
	"context"
	"time"

	"github.com/instituteops/approvalflow/internal/domain/request"
)

// RoleProvider maps an already-authenticated identity to its institute role
type RoleProvider interface {
	RoleOf(ctx context.Context, identity string) (string, error)
}

// TransitionEvent is the logical event emitted after every successful
// workflow transition
type TransitionEvent struct {
	RequestID string         `json:"request_id"`
	Kind      string         `json:"kind"`
	Action    request.Action `json:"action"`
	Status    request.Status `json:"status"`
	FromRole  string         `json:"from_role,omitempty"`
	ToRole    string         `json:"to_role,omitempty"`
	Actor     string         `json:"actor"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier receives transition events. Implementations must not affect
// the engine's correctness; failures are logged and dropped upstream.
type Notifier interface {
	Notify(ctx context.Context, event TransitionEvent) error
}
