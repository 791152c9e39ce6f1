// Package roleterms keeps the roles and levels taxonomies consistent with
// legacy role attributes and serves role filtered user listings from them.
package roleterms

import (
	"context"

	"github.com/odyssey-erp/roleterms/internal/taxonomy"
)

// Namespaces are the taxonomies this package maintains.
var Namespaces = []taxonomy.Namespace{
	{Name: taxonomy.NamespaceRoles, ObjectType: taxonomy.ObjectTypeUser},
	{Name: taxonomy.NamespaceLevels, ObjectType: taxonomy.ObjectTypeUser},
}

// NamespaceRegistrar registers namespaces.
type NamespaceRegistrar interface {
	EnsureNamespace(ctx context.Context, tenantID int64, ns taxonomy.Namespace) error
}

// EnsureNamespaces registers both namespaces for tenantID. It is idempotent.
func EnsureNamespaces(ctx context.Context, store NamespaceRegistrar, tenantID int64) error {
	for _, ns := range Namespaces {
		if err := store.EnsureNamespace(ctx, tenantID, ns); err != nil {
			return err
		}
	}
	return nil
}
