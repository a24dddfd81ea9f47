package identity

import (
	"context"
	"fmt"

	"github.com/instituteops/approvalflow/internal/domain/request"
)

// StaticRoleProvider resolves roles from a fixed identity-to-role table
// loaded from configuration. Authentication happens upstream; this only
// answers "which role does this principal act as".
type StaticRoleProvider struct {
	roles map[string]string
}

// NewStaticRoleProvider creates a provider over the given table
func NewStaticRoleProvider(roles map[string]string) *StaticRoleProvider {
	table := make(map[string]string, len(roles))
	for identity, role := range roles {
		table[identity] = role
	}
	return &StaticRoleProvider{roles: table}
}

// RoleOf returns the role registered for the identity
func (p *StaticRoleProvider) RoleOf(ctx context.Context, identity string) (string, error) {
	role, ok := p.roles[identity]
	if !ok {
		return "", fmt.Errorf("%w: no role registered for identity %s",
			request.ErrNotAuthorizedApprover, identity)
	}
	return role, nil
}
