package users

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildQuerySQLLegacyRoleMatching(t *testing.T) {
	q := &Query{TenantID: 4, Role: "editor", RoleNotIn: []string{"shop_manager"}}
	qs := BuildQuerySQL(q)

	require.Len(t, qs.Where, 1)
	require.Contains(t, qs.Where[0], "m.tenant_id = $2")
	require.Contains(t, qs.Where[0], "m.meta_value LIKE $3")
	require.Contains(t, qs.Where[0], "m.meta_value NOT LIKE $4")
	require.Equal(t, []any{"capabilities", int64(4), `%"editor"%`, `%"shop\_manager"%`}, qs.Args())
}

func TestBuildQuerySQLWithoutTenantHasNoMembershipClause(t *testing.T) {
	qs := BuildQuerySQL(&Query{Include: []int64{1, 2}})
	require.Equal(t, []string{"u.id = ANY($1)"}, qs.Where)
}

func TestSelectSQLOrderingAndPaging(t *testing.T) {
	q := &Query{Login: "ana", OrderBy: "login", Order: "desc", Number: 10, Offset: 20}
	qs := BuildQuerySQL(q)

	sql, args := qs.SelectSQL(q)
	require.True(t, strings.HasPrefix(sql, "SELECT DISTINCT u.id, u.login FROM users u WHERE u.login = $1"))
	require.True(t, strings.HasSuffix(sql, "ORDER BY u.login DESC, u.id DESC LIMIT $2 OFFSET $3"))
	require.Equal(t, []any{"ana", 10, 20}, args)

	count, countArgs := qs.CountSQL()
	require.Equal(t, "SELECT COUNT(DISTINCT u.id) FROM users u WHERE u.login = $1", count)
	require.Equal(t, []any{"ana"}, countArgs)
}

func TestSearchPattern(t *testing.T) {
	require.Equal(t, "ana", searchPattern("ana"))
	require.Equal(t, "%ana", searchPattern("*ana"))
	require.Equal(t, "ana%", searchPattern("ana*"))
	require.Equal(t, `%50\%%`, searchPattern("*50%*"))
}

func TestSearchByEmailOnlyMatchesEmail(t *testing.T) {
	qs := BuildQuerySQL(&Query{Search: "ana@example.com"})
	require.Equal(t, []string{"(u.email ILIKE $1)"}, qs.Where)
}

func TestAddPublishedPostsClause(t *testing.T) {
	qs := &QuerySQL{}
	AddPublishedPostsClause(qs, 0)
	AddPublishedPostsClause(qs, 3)
	require.Equal(t, "EXISTS (SELECT 1 FROM posts p WHERE p.author_id = u.id AND p.status = 'publish')", qs.Where[0])
	require.Equal(t, "EXISTS (SELECT 1 FROM posts p WHERE p.author_id = u.id AND p.status = 'publish' AND p.tenant_id = $1)", qs.Where[1])
}

func TestPrimaryRoleIsLast(t *testing.T) {
	role, ok := User{Roles: []string{"author", "editor"}}.PrimaryRole()
	require.True(t, ok)
	require.Equal(t, "editor", role)

	_, ok = User{}.PrimaryRole()
	require.False(t, ok)
}
