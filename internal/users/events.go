package users

import (
	"context"

	"github.com/odyssey-erp/roleterms/internal/taxonomy"
)

// RoleReplaced is dispatched after a user's roles were replaced by Role.
// An empty Role means the user was left without a role.
type RoleReplaced struct {
	TenantID int64
	UserID   int64
	Role     string
	OldRoles []string
	Counting *taxonomy.DeferredCounts
}

// RoleAdded is dispatched after Role was appended to a user's roles.
type RoleAdded struct {
	TenantID int64
	UserID   int64
	Role     string
	Counting *taxonomy.DeferredCounts
}

// RoleRemoved is dispatched after Role was removed from a user's roles.
type RoleRemoved struct {
	TenantID int64
	UserID   int64
	Role     string
	Counting *taxonomy.DeferredCounts
}

// UserRemovedFromTenant is dispatched after a user lost membership of a tenant.
type UserRemovedFromTenant struct {
	TenantID int64
	UserID   int64
	Counting *taxonomy.DeferredCounts
}

// Listener observes role changes. Calls are synchronous and a listener
// error aborts the dispatching write.
type Listener interface {
	RoleReplaced(ctx context.Context, ev RoleReplaced) error
	RoleAdded(ctx context.Context, ev RoleAdded) error
	RoleRemoved(ctx context.Context, ev RoleRemoved) error
	UserRemovedFromTenant(ctx context.Context, ev UserRemovedFromTenant) error
}
