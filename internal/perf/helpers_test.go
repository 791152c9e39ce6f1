package perf

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/roleterms/internal/legacy"
	"github.com/odyssey-erp/roleterms/internal/platform/cache"
	"github.com/odyssey-erp/roleterms/internal/roles"
	"github.com/odyssey-erp/roleterms/internal/roleterms"
	"github.com/odyssey-erp/roleterms/internal/rolesync"
	"github.com/odyssey-erp/roleterms/internal/testing/memstore"
	"github.com/odyssey-erp/roleterms/internal/users"
)

const tenantID int64 = 1

var roleMix = []string{"subscriber", "subscriber", "subscriber", "contributor", "author", "editor", "administrator"}

type env struct {
	terms   *memstore.Taxonomy
	store   *memstore.Users
	service *users.Service
	syncer  *rolesync.Syncer
}

func newEnv(tb testing.TB) *env {
	tb.Helper()
	terms := memstore.NewTaxonomy()
	store := memstore.NewUsers(terms)
	objects, err := cache.NewObjects(nil, cache.Options{LocalSize: 256})
	require.NoError(tb, err)
	svc := users.NewService(store, objects, roles.DefaultRegistry(), nil)
	hooks := roleterms.NewHooks(terms, svc)
	require.NoError(tb, roleterms.EnsureNamespaces(context.Background(), terms, tenantID))
	return &env{
		terms:   terms,
		store:   store,
		service: svc,
		syncer: rolesync.NewSyncer(rolesync.Deps{
			Users: svc,
			Terms: terms,
			Hooks: hooks,
			Cache: objects,
		}),
	}
}

// seedLegacy writes n users carrying only legacy attributes.
func (e *env) seedLegacy(n int) {
	for i := 1; i <= n; i++ {
		id := int64(i)
		role := roleMix[i%len(roleMix)]
		def, _ := roles.DefaultRegistry().Lookup(role)
		e.store.AddUser(users.User{ID: id, Login: "user" + strconv.Itoa(i)})
		e.store.SetMeta(tenantID, id, legacy.KeyCapabilities, legacy.NewCapabilities(role).Encode())
		e.store.SetMeta(tenantID, id, legacy.KeyUserLevel, strconv.Itoa(def.Level))
	}
}
