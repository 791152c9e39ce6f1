package roleterms

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/roleterms/internal/legacy"
	"github.com/odyssey-erp/roleterms/internal/taxonomy"
	"github.com/odyssey-erp/roleterms/internal/users"
)

// UserReader loads a user as seen from one tenant.
type UserReader interface {
	GetUser(ctx context.Context, tenantID, id int64) (users.User, error)
}

// Hooks mirrors role changes into the roles and levels taxonomies.
type Hooks struct {
	store taxonomy.Store
	users UserReader
}

// NewHooks builds Hooks.
func NewHooks(store taxonomy.Store, users UserReader) *Hooks {
	return &Hooks{store: store, users: users}
}

var _ users.Listener = (*Hooks)(nil)

// RoleReplaced sets the roles assignment to exactly the new role.
func (h *Hooks) RoleReplaced(ctx context.Context, ev users.RoleReplaced) error {
	var labels []string
	if ev.Role != "" {
		labels = []string{ev.Role}
	}
	opts := taxonomy.WriteOptions{Counting: ev.Counting}
	if err := h.store.SetAssignments(ctx, ev.TenantID, ev.UserID, labels, taxonomy.NamespaceRoles, false, opts); err != nil {
		return fmt.Errorf("roleterms: replace role of %d: %w", ev.UserID, err)
	}
	return h.syncLevel(ctx, ev.TenantID, ev.UserID, opts)
}

// RoleAdded appends the role to the roles assignment.
func (h *Hooks) RoleAdded(ctx context.Context, ev users.RoleAdded) error {
	opts := taxonomy.WriteOptions{Counting: ev.Counting}
	if ev.Role != "" {
		if err := h.store.SetAssignments(ctx, ev.TenantID, ev.UserID, []string{ev.Role}, taxonomy.NamespaceRoles, true, opts); err != nil {
			return fmt.Errorf("roleterms: add role of %d: %w", ev.UserID, err)
		}
	}
	return h.syncLevel(ctx, ev.TenantID, ev.UserID, opts)
}

// RoleRemoved drops the role from the roles assignment.
func (h *Hooks) RoleRemoved(ctx context.Context, ev users.RoleRemoved) error {
	opts := taxonomy.WriteOptions{Counting: ev.Counting}
	if err := h.store.RemoveAssignments(ctx, ev.TenantID, ev.UserID, []string{ev.Role}, taxonomy.NamespaceRoles, opts); err != nil {
		return fmt.Errorf("roleterms: remove role of %d: %w", ev.UserID, err)
	}
	return h.syncLevel(ctx, ev.TenantID, ev.UserID, opts)
}

// UserRemovedFromTenant clears both namespaces for the user in ev.TenantID
// only.
func (h *Hooks) UserRemovedFromTenant(ctx context.Context, ev users.UserRemovedFromTenant) error {
	opts := taxonomy.WriteOptions{Counting: ev.Counting}
	for _, ns := range []string{taxonomy.NamespaceRoles, taxonomy.NamespaceLevels} {
		if err := h.store.SetAssignments(ctx, ev.TenantID, ev.UserID, nil, ns, false, opts); err != nil {
			return fmt.Errorf("roleterms: clear %s of %d: %w", ns, ev.UserID, err)
		}
	}
	return nil
}

// syncLevel replaces the levels assignment with the user's current level.
func (h *Hooks) syncLevel(ctx context.Context, tenantID, userID int64, opts taxonomy.WriteOptions) error {
	u, err := h.users.GetUser(ctx, tenantID, userID)
	if err != nil {
		return fmt.Errorf("roleterms: load user %d: %w", userID, err)
	}
	var labels []string
	if u.Level != nil {
		labels = []string{legacy.LevelLabel(*u.Level)}
	}
	if err := h.store.SetAssignments(ctx, tenantID, userID, labels, taxonomy.NamespaceLevels, false, opts); err != nil {
		return fmt.Errorf("roleterms: set level of %d: %w", userID, err)
	}
	return nil
}
