package roleterms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/roleterms/internal/platform/cache"
	"github.com/odyssey-erp/roleterms/internal/roles"
	"github.com/odyssey-erp/roleterms/internal/testing/memstore"
	"github.com/odyssey-erp/roleterms/internal/users"
)

const (
	tenantA int64 = 1
	tenantB int64 = 2
)

type fixture struct {
	terms    *memstore.Taxonomy
	store    *memstore.Users
	service  *users.Service
	rewriter *Rewriter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	terms := memstore.NewTaxonomy()
	store := memstore.NewUsers(terms)
	objects, err := cache.NewObjects(nil, cache.Options{LocalSize: 64})
	require.NoError(t, err)

	svc := users.NewService(store, objects, roles.DefaultRegistry(), nil)
	svc.Subscribe(NewHooks(terms, svc))
	rw := NewRewriter(terms, tenantA, nil)
	svc.UseQueryHooks(rw)

	for _, tenantID := range []int64{tenantA, tenantB} {
		require.NoError(t, EnsureNamespaces(context.Background(), terms, tenantID))
	}
	return &fixture{terms: terms, store: store, service: svc, rewriter: rw}
}

// member creates a user and gives it role in tenantID.
func (f *fixture) member(t *testing.T, tenantID, id int64, login, role string) {
	t.Helper()
	f.store.AddUser(users.User{ID: id, Login: login, DisplayName: login})
	require.NoError(t, f.service.SetRole(context.Background(), tenantID, id, role))
}

func userIDs(list []users.User) []int64 {
	ids := make([]int64, len(list))
	for i, u := range list {
		ids[i] = u.ID
	}
	return ids
}
