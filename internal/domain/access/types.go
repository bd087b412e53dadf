// Package access contains the role and permission model and the cached
// registry that resolves principals to permission sets.
package access

// Role is a principal's privilege tier.
type Role string

const (
	// RoleUser is the lowest-privilege role and the fallback when a
	// principal's role cannot be determined.
	RoleUser Role = "user"
	// RoleModerator can inspect user data, payments and statistics.
	RoleModerator Role = "moderator"
	// RoleAdmin can manage users, subscriptions, payments and promos.
	RoleAdmin Role = "admin"
	// RoleSuperAdmin holds the full permission universe.
	RoleSuperAdmin Role = "super_admin"
)

// IsValid returns true if the role is a known valid role.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// Permission is an enumerated capability tag. The set of values is
// fixed at build time.
type Permission string

const (
	PermRead   Permission = "read"
	PermWrite  Permission = "write"
	PermDelete Permission = "delete"

	PermManageUsers  Permission = "manage_users"
	PermBanUsers     Permission = "ban_users"
	PermViewUserData Permission = "view_user_data"

	PermManageSubscriptions Permission = "manage_subscriptions"
	PermGrantSubscription   Permission = "grant_subscription"

	PermViewPayments   Permission = "view_payments"
	PermManagePayments Permission = "manage_payments"
	PermRefundPayments Permission = "refund_payments"

	PermCreatePromo Permission = "create_promo"
	PermManagePromo Permission = "manage_promo"

	PermManageAds Permission = "manage_ads"

	PermViewLogs         Permission = "view_logs"
	PermManageSettings   Permission = "manage_settings"
	PermAccessAdminPanel Permission = "access_admin_panel"

	PermSendBroadcast Permission = "send_broadcast"

	PermViewStatistics Permission = "view_statistics"
	PermExportData     Permission = "export_data"
)

// allPermissions is the complete permission universe. New permissions
// must be added here; the super-admin role picks them up automatically.
var allPermissions = []Permission{
	PermRead, PermWrite, PermDelete,
	PermManageUsers, PermBanUsers, PermViewUserData,
	PermManageSubscriptions, PermGrantSubscription,
	PermViewPayments, PermManagePayments, PermRefundPayments,
	PermCreatePromo, PermManagePromo,
	PermManageAds,
	PermViewLogs, PermManageSettings, PermAccessAdminPanel,
	PermSendBroadcast,
	PermViewStatistics, PermExportData,
}

// AllPermissions returns a copy of the full permission universe.
func AllPermissions() []Permission {
	out := make([]Permission, len(allPermissions))
	copy(out, allPermissions)
	return out
}

// IsValid reports whether p names a known permission.
func (p Permission) IsValid() bool {
	for _, known := range allPermissions {
		if p == known {
			return true
		}
	}
	return false
}

// Set is an unordered collection of permissions.
type Set map[Permission]struct{}

// NewSet builds a Set from its members.
func NewSet(perms ...Permission) Set {
	s := make(Set, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s Set) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

// rolePermissions maps each role to its fixed permission set. Built
// once at init and never mutated afterwards; the super-admin entry is
// the whole universe by construction, not by enumeration, so it cannot
// drift when new permissions are added.
var rolePermissions map[Role]Set

func init() {
	rolePermissions = map[Role]Set{
		RoleUser: NewSet(
			PermRead,
		),
		RoleModerator: NewSet(
			PermRead, PermWrite,
			PermViewUserData, PermViewPayments, PermViewStatistics,
			PermManageAds,
		),
		RoleAdmin: NewSet(
			PermRead, PermWrite, PermDelete,
			PermManageUsers, PermBanUsers, PermViewUserData,
			PermManageSubscriptions, PermGrantSubscription,
			PermViewPayments, PermManagePayments,
			PermCreatePromo, PermManagePromo,
			PermManageAds,
			PermViewLogs, PermAccessAdminPanel,
			PermSendBroadcast,
			PermViewStatistics,
		),
		RoleSuperAdmin: NewSet(allPermissions...),
	}
}

// PermissionsForRole returns a copy of the role's base permission set.
// Unknown roles resolve to an empty set.
func PermissionsForRole(role Role) Set {
	base, ok := rolePermissions[role]
	if !ok {
		return Set{}
	}
	return base.Clone()
}
