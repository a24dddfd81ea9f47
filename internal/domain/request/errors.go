package request

import "errors"

var (
	// ErrUnknownKind is returned when no flow definition exists for a request kind
	ErrUnknownKind = errors.New("unknown request kind")

	// ErrInvalidPayload is returned when required payload fields are missing or malformed
	ErrInvalidPayload = errors.New("invalid request payload")

	// ErrNotFound is returned when a request id does not exist
	ErrNotFound = errors.New("request not found")

	// ErrNotAuthorizedApprover is returned when the acting role does not match the current approver
	ErrNotAuthorizedApprover = errors.New("acting role is not the current approver")

	// ErrAlreadyTerminal is returned when a mutation is attempted on a finished request
	ErrAlreadyTerminal = errors.New("request is already in a terminal state")

	// ErrNotApproved is returned when completion is attempted on a request that was never approved
	ErrNotApproved = errors.New("request is not approved")

	// ErrConcurrentModification is returned when a conditional write lost against a concurrent transition
	ErrConcurrentModification = errors.New("request was modified concurrently")
)
