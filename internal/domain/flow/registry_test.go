package flow

import (
	"errors"
	"testing"

	"github.com/instituteops/approvalflow/internal/domain/request"
)

func TestNewRegistry_RejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name string
		defs []Definition
	}{
		{"empty kind", []Definition{{Kind: "", Roles: []string{"hod"}}}},
		{"no roles", []Definition{{Kind: "stock", Roles: nil}}},
		{"blank role", []Definition{{Kind: "stock", Roles: []string{"asst_store", " "}}}},
		{"duplicate kind", []Definition{
			{Kind: "stock", Roles: []string{"asst_store"}},
			{Kind: "stock", Roles: []string{"principal"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.defs); err == nil {
				t.Error("NewRegistry() should fail")
			}
		})
	}
}

func TestRegistry_Resolve(t *testing.T) {
	registry, err := NewRegistry([]Definition{
		{Kind: "stock", Roles: []string{"asst_store", "principal"}},
	})
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}

	roles, err := registry.Resolve("stock")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if len(roles) != 2 || roles[0] != "asst_store" || roles[1] != "principal" {
		t.Errorf("Resolve() = %v, want [asst_store principal]", roles)
	}

	// Mutating the returned slice must not affect the registry
	roles[0] = "hod"
	again, _ := registry.Resolve("stock")
	if again[0] != "asst_store" {
		t.Errorf("registry flow mutated to %v", again)
	}
}

func TestRegistry_Resolve_UnknownKind(t *testing.T) {
	registry, _ := NewRegistry(Defaults())

	_, err := registry.Resolve("furniture")
	if err == nil {
		t.Fatal("Resolve() should fail for unregistered kind")
	}
	if !errors.Is(err, request.ErrUnknownKind) {
		t.Errorf("Resolve() error = %v, want ErrUnknownKind", err)
	}
}

func TestRegistry_ValidatePayload(t *testing.T) {
	registry, _ := NewRegistry([]Definition{
		{Kind: "stock", Roles: []string{"asst_store"}, RequiredFields: []string{"item", "quantity"}},
	})

	tests := []struct {
		name    string
		payload map[string]interface{}
		wantErr error
	}{
		{"all fields", map[string]interface{}{"item": "Gloves", "quantity": 10}, nil},
		{"missing quantity", map[string]interface{}{"item": "Gloves"}, request.ErrInvalidPayload},
		{"nil value", map[string]interface{}{"item": nil, "quantity": 10}, request.ErrInvalidPayload},
		{"blank string", map[string]interface{}{"item": "  ", "quantity": 10}, request.ErrInvalidPayload},
		{"nil payload", nil, request.ErrInvalidPayload},
		{"extra fields allowed", map[string]interface{}{"item": "Gloves", "quantity": 10, "priority": "high"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.ValidatePayload("stock", tt.payload)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidatePayload() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidatePayload() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry_ValidatePayload_UnknownKind(t *testing.T) {
	registry, _ := NewRegistry(Defaults())

	err := registry.ValidatePayload("furniture", map[string]interface{}{"item": "desk"})
	if !errors.Is(err, request.ErrUnknownKind) {
		t.Errorf("ValidatePayload() error = %v, want ErrUnknownKind", err)
	}
}

func TestDefaults(t *testing.T) {
	registry, err := NewRegistry(Defaults())
	if err != nil {
		t.Fatalf("NewRegistry(Defaults()) failed: %v", err)
	}

	roles, err := registry.Resolve("stock")
	if err != nil {
		t.Fatalf("Resolve(stock) failed: %v", err)
	}
	if roles[len(roles)-1] != "principal" {
		t.Errorf("stock flow should end at principal, got %v", roles)
	}

	kinds := registry.Kinds()
	if len(kinds) != 6 {
		t.Errorf("Kinds() returned %d kinds, want 6", len(kinds))
	}
}
