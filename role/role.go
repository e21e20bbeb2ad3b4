// Package role holds the static role registry: persona configuration
// loaded once at startup and read-only thereafter.
package role

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/nimlabs/memoria/core"
)

// Registry is a read-only-after-load lookup table of roles keyed by
// RoleID.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]core.Role
}

// NewRegistry builds a registry from roles, keyed by their RoleID.
func NewRegistry(roles ...core.Role) *Registry {
	r := &Registry{roles: make(map[string]core.Role, len(roles))}
	for _, role := range roles {
		r.roles[role.RoleID] = role
	}
	return r
}

// LoadFile reads a JSON array of core.Role from path and builds a
// registry from it, for roles configured on disk rather than compiled
// in. cmd/memoriad does not call it; it starts with DefaultRegistry.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("role registry: read %s: %w", path, err)
	}
	var roles []core.Role
	if err := json.Unmarshal(data, &roles); err != nil {
		return nil, fmt.Errorf("role registry: parse %s: %w", path, err)
	}
	return NewRegistry(roles...), nil
}

// Get looks up a role by id. The bool is false when roleID is unknown,
// which the orchestrator turns into an invalid_role error.
func (r *Registry) Get(roleID string) (core.Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[roleID]
	return role, ok
}

// Default is the role used when a caller supplies no role_id.
const Default = "default"

// DefaultRegistry returns a registry seeded with a single generic
// assistant persona, used when no role configuration file is
// supplied.
func DefaultRegistry() *Registry {
	return NewRegistry(core.Role{
		RoleID:       Default,
		Name:         "Assistant",
		SystemPrompt: "You are a helpful, attentive conversational assistant. Use anything you remember about this user to make your replies more specific and useful, but never invent memories you were not given.",
	})
}
