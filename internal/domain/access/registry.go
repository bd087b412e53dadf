package access

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Registry resolves principals to permission sets with a process-local
// read-through cache.
//
// Failure policy: when the identity store is unreachable the registry
// fails CLOSED — the principal resolves to the lowest-privilege role.
// The risk of an unknown principal gaining elevated access outweighs
// availability here, the opposite trade from the rate limiter's
// fail-open contract.
//
// The cache is mutated only by its owning process; grants and revokes
// are read-your-writes within the process, and cross-process
// propagation waits for the other process's cache to be cleared.
type Registry struct {
	identities IdentityStore
	grants     GrantStore
	logger     *slog.Logger

	mu    sync.RWMutex
	cache map[string]Set
}

// NewRegistry creates a registry over the given stores. grants may be
// nil when ad-hoc grants have no durable backing.
func NewRegistry(identities IdentityStore, grants GrantStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		identities: identities,
		grants:     grants,
		logger:     logger,
		cache:      make(map[string]Set),
	}
}

// role looks up the principal's role, defaulting to RoleUser when the
// principal is unknown or the lookup fails.
func (r *Registry) role(ctx context.Context, principal string) Role {
	role, err := r.identities.Role(ctx, principal)
	if err != nil {
		if !errors.Is(err, ErrPrincipalNotFound) {
			r.logger.Error("role lookup failed, failing closed",
				"principal", principal, "error", err)
		}
		return RoleUser
	}
	if !role.IsValid() {
		r.logger.Warn("principal has unknown role, failing closed",
			"principal", principal, "role", role)
		return RoleUser
	}
	return role
}

// resolve returns the principal's permission set, consulting the cache
// first and populating it on miss: role-derived permissions merged with
// durable ad-hoc grants.
func (r *Registry) resolve(ctx context.Context, principal string) Set {
	r.mu.RLock()
	cached, ok := r.cache[principal]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	perms := PermissionsForRole(r.role(ctx, principal))

	if r.grants != nil {
		extra, err := r.grants.Grants(ctx, principal)
		if err != nil {
			r.logger.Error("grant lookup failed",
				"principal", principal, "error", err)
		}
		for _, p := range extra {
			perms[p] = struct{}{}
		}
	}

	r.mu.Lock()
	r.cache[principal] = perms
	r.mu.Unlock()
	return perms
}

// HasPermission reports whether the principal holds the permission.
func (r *Registry) HasPermission(ctx context.Context, principal string, perm Permission) bool {
	has := r.resolve(ctx, principal).Has(perm)
	r.logger.Debug("permission check",
		"principal", principal, "permission", perm, "granted", has)
	return has
}

// HasRole reports whether the principal holds exactly the given role.
func (r *Registry) HasRole(ctx context.Context, principal string, role Role) bool {
	return r.role(ctx, principal) == role
}

// HasAnyRole reports whether the principal holds any of the roles.
func (r *Registry) HasAnyRole(ctx context.Context, principal string, roles ...Role) bool {
	current := r.role(ctx, principal)
	for _, role := range roles {
		if current == role {
			return true
		}
	}
	return false
}

// Grant adds an ad-hoc permission. The cache reflects the change
// immediately; durable persistence is best effort and a failed write
// is logged, not surfaced.
func (r *Registry) Grant(ctx context.Context, principal string, perm Permission) {
	perms := r.resolve(ctx, principal).Clone()
	perms[perm] = struct{}{}

	r.mu.Lock()
	r.cache[principal] = perms
	r.mu.Unlock()

	if r.grants != nil {
		if err := r.grants.Add(ctx, principal, perm); err != nil {
			r.logger.Error("failed to persist grant",
				"principal", principal, "permission", perm, "error", err)
		}
	}
	r.logger.Info("permission granted", "principal", principal, "permission", perm)
}

// Revoke removes a permission from the principal's resolved set and
// deletes any matching durable grant.
func (r *Registry) Revoke(ctx context.Context, principal string, perm Permission) {
	perms := r.resolve(ctx, principal).Clone()
	delete(perms, perm)

	r.mu.Lock()
	r.cache[principal] = perms
	r.mu.Unlock()

	if r.grants != nil {
		if err := r.grants.Remove(ctx, principal, perm); err != nil {
			r.logger.Error("failed to remove durable grant",
				"principal", principal, "permission", perm, "error", err)
		}
	}
	r.logger.Info("permission revoked", "principal", principal, "permission", perm)
}

// Permissions returns a copy of the principal's resolved set.
func (r *Registry) Permissions(ctx context.Context, principal string) Set {
	return r.resolve(ctx, principal).Clone()
}

// ClearCache invalidates one principal's cached set.
func (r *Registry) ClearCache(principal string) {
	r.mu.Lock()
	delete(r.cache, principal)
	r.mu.Unlock()
	r.logger.Debug("permission cache cleared", "principal", principal)
}

// ClearAll invalidates every cached set.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	r.cache = make(map[string]Set)
	r.mu.Unlock()
	r.logger.Debug("permission cache cleared for all principals")
}
