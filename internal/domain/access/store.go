package access

import (
	"context"
	"errors"
)

// ErrPrincipalNotFound is returned by IdentityStore implementations
// when the principal has no recorded role.
var ErrPrincipalNotFound = errors.New("principal not found")

// IdentityStore resolves a principal to its role. Backed by the
// external identity/session provider; the registry treats it as the
// source of truth and its own cache as a convenience only.
//
// Interface owned by the domain per hexagonal architecture.
type IdentityStore interface {
	// Role returns the principal's role. Implementations return
	// ErrPrincipalNotFound for unknown principals.
	Role(ctx context.Context, principal string) (Role, error)
}

// GrantStore persists ad-hoc permission grants durably. Persistence is
// best effort: the registry's cache is authoritative within the
// process, and a failed write is logged, not surfaced.
type GrantStore interface {
	// Grants lists the principal's ad-hoc permissions.
	Grants(ctx context.Context, principal string) ([]Permission, error)

	// Add records an ad-hoc grant.
	Add(ctx context.Context, principal string, perm Permission) error

	// Remove deletes an ad-hoc grant.
	Remove(ctx context.Context, principal string, perm Permission) error
}
