package request

import "time"

// Actor identifies the principal performing a workflow operation.
// Role is resolved by the identity provider before the engine is called.
type Actor struct {
	Identity string `json:"identity"`
	Role     string `json:"role"`
}

// HistoryEntry is an immutable audit record of a single transition
type HistoryEntry struct {
	Action     Action    `json:"action"`
	ByRole     string    `json:"by_role,omitempty"`
	ByIdentity string    `json:"by_identity"`
	Comment    string    `json:"comment,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Request is the unit of work moving through an approval flow.
// It is mutated exclusively through the lifecycle engine; the history
// is append-only and never reordered.
type Request struct {
	ID                  string                 `json:"id"`
	Kind                string                 `json:"kind"`
	Payload             map[string]interface{} `json:"payload"`
	Status              Status                 `json:"status"`
	CurrentApproverRole string                 `json:"current_approver_role,omitempty"`
	ApprovalFlow        []string               `json:"approval_flow"`
	FlowPosition        int                    `json:"flow_position"`
	History             []HistoryEntry         `json:"history"`
	CreatedBy           string                 `json:"created_by"`
	CreatedAt           time.Time              `json:"created_at"`
	TerminalAt          *time.Time             `json:"terminal_at,omitempty"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// IsTerminal returns true once the request reached approved, rejected or completed
func (r *Request) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// AtLastStep returns true when the current approver is the last role in the flow
func (r *Request) AtLastStep() bool {
	return r.FlowPosition == len(r.ApprovalFlow)-1
}

// Clone returns a deep copy of the request so callers can mutate it
// without affecting the original
func (r *Request) Clone() *Request {
	c := *r

	c.ApprovalFlow = append([]string(nil), r.ApprovalFlow...)
	c.History = append([]HistoryEntry(nil), r.History...)

	if r.Payload != nil {
		c.Payload = make(map[string]interface{}, len(r.Payload))
		for k, v := range r.Payload {
			c.Payload[k] = v
		}
	}

	if r.TerminalAt != nil {
		t := *r.TerminalAt
		c.TerminalAt = &t
	}

	return &c
}
