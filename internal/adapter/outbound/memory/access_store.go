package memory

import (
	"context"
	"sync"

	"github.com/bastion-gate/bastion/internal/domain/access"
)

// IdentityStore implements access.IdentityStore with an in-memory map,
// typically seeded from configuration. Thread-safe.
type IdentityStore struct {
	mu    sync.RWMutex
	roles map[string]access.Role
}

// NewIdentityStore creates an identity store seeded with the given
// principal-to-role assignments.
func NewIdentityStore(roles map[string]access.Role) *IdentityStore {
	seeded := make(map[string]access.Role, len(roles))
	for principal, role := range roles {
		seeded[principal] = role
	}
	return &IdentityStore{roles: seeded}
}

// Role returns the principal's role.
// Returns access.ErrPrincipalNotFound for unknown principals.
func (s *IdentityStore) Role(ctx context.Context, principal string) (access.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[principal]
	if !ok {
		return "", access.ErrPrincipalNotFound
	}
	return role, nil
}

// SetRole assigns a role to a principal.
func (s *IdentityStore) SetRole(principal string, role access.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[principal] = role
}

// GrantStore implements access.GrantStore with in-memory maps.
// Thread-safe. For development/testing only.
type GrantStore struct {
	mu     sync.Mutex
	grants map[string]map[access.Permission]struct{}
}

// NewGrantStore creates an empty in-memory grant store.
func NewGrantStore() *GrantStore {
	return &GrantStore{grants: make(map[string]map[access.Permission]struct{})}
}

// Grants lists the principal's ad-hoc permissions.
func (s *GrantStore) Grants(ctx context.Context, principal string) ([]access.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.grants[principal]
	if !ok {
		return nil, nil
	}
	out := make([]access.Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out, nil
}

// Add records an ad-hoc grant.
func (s *GrantStore) Add(ctx context.Context, principal string, perm access.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.grants[principal] == nil {
		s.grants[principal] = make(map[access.Permission]struct{})
	}
	s.grants[principal][perm] = struct{}{}
	return nil
}

// Remove deletes an ad-hoc grant.
func (s *GrantStore) Remove(ctx context.Context, principal string, perm access.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.grants[principal]; ok {
		delete(set, perm)
	}
	return nil
}
