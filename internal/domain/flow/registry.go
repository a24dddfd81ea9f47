package flow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/instituteops/approvalflow/internal/domain/request"
)

// Definition describes the approval chain for one request kind.
// Flows are configuration, not code: adding a kind means adding a
// definition, never touching the lifecycle engine.
type Definition struct {
	Kind           string
	Roles          []string
	RequiredFields []string
}

// Registry maps a request kind to its ordered approval flow
type Registry struct {
	definitions map[string]Definition
}

// NewRegistry builds a registry from the given definitions
func NewRegistry(defs []Definition) (*Registry, error) {
	definitions := make(map[string]Definition, len(defs))

	for _, def := range defs {
		if def.Kind == "" {
			return nil, fmt.Errorf("flow definition with empty kind")
		}
		if len(def.Roles) == 0 {
			return nil, fmt.Errorf("flow definition %q has no roles", def.Kind)
		}
		for _, role := range def.Roles {
			if strings.TrimSpace(role) == "" {
				return nil, fmt.Errorf("flow definition %q has a blank role", def.Kind)
			}
		}
		if _, exists := definitions[def.Kind]; exists {
			return nil, fmt.Errorf("duplicate flow definition for kind %q", def.Kind)
		}
		definitions[def.Kind] = def
	}

	return &Registry{definitions: definitions}, nil
}

// Resolve returns the ordered role sequence a request of the given kind
// must traverse
func (r *Registry) Resolve(kind string) ([]string, error) {
	def, ok := r.definitions[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", request.ErrUnknownKind, kind)
	}

	// Copy so callers cannot mutate the registered flow
	return append([]string(nil), def.Roles...), nil
}

// ValidatePayload checks that all required payload fields for the kind
// are present and non-blank
func (r *Registry) ValidatePayload(kind string, payload map[string]interface{}) error {
	def, ok := r.definitions[kind]
	if !ok {
		return fmt.Errorf("%w: %s", request.ErrUnknownKind, kind)
	}

	var missing []string
	for _, field := range def.RequiredFields {
		val, present := payload[field]
		if !present || val == nil {
			missing = append(missing, field)
			continue
		}
		if s, isString := val.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, field)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields for kind %s: %s",
			request.ErrInvalidPayload, kind, strings.Join(missing, ", "))
	}

	return nil
}

// Kinds returns all registered request kinds in sorted order
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.definitions))
	for kind := range r.definitions {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Defaults returns the built-in flow definitions for the institute's
// request kinds. Deployments override these via configuration.
func Defaults() []Definition {
	return []Definition{
		{
			Kind:           "stock",
			Roles:          []string{"asst_store", "principal"},
			RequiredFields: []string{"item", "quantity"},
		},
		{
			Kind:           "tool",
			Roles:          []string{"workshop_instructor", "asst_store", "principal"},
			RequiredFields: []string{"item", "quantity", "reason"},
		},
		{
			Kind:           "equipment",
			Roles:          []string{"lab_assistant", "hod", "principal"},
			RequiredFields: []string{"item", "cost_estimate"},
		},
		{
			Kind:           "library_resource",
			Roles:          []string{"librarian", "principal"},
			RequiredFields: []string{"title"},
		},
		{
			Kind:           "teacher_application",
			Roles:          []string{"hod", "registrar", "principal"},
			RequiredFields: []string{"applicant_name", "subject"},
		},
		{
			Kind:           "timing_change",
			Roles:          []string{"hod", "principal"},
			RequiredFields: []string{"reason"},
		},
	}
}
