package roleterms

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/roleterms/internal/taxonomy"
	"github.com/odyssey-erp/roleterms/internal/tenant"
	"github.com/odyssey-erp/roleterms/internal/users"
)

func seedListing(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.member(t, tenantA, 1, "ana", "administrator")
	f.member(t, tenantA, 2, "bo", "editor")
	f.member(t, tenantA, 3, "cy", "author")
	f.member(t, tenantA, 4, "di", "subscriber")
	f.member(t, tenantA, 5, "ed", "editor")
	f.member(t, tenantB, 6, "fa", "editor")
	return f
}

func TestRoleInUsesTermCountsAndJoin(t *testing.T) {
	f := seedListing(t)

	res, err := f.service.ListUsers(context.Background(), users.Query{TenantID: tenantA, RoleIn: []string{"administrator", "editor"}})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 5}, userIDs(res.Users))
	require.Equal(t, int64(3), res.Total)
	require.Zero(t, f.store.CountCalls)
}

func TestSingleRoleTotalFromTerm(t *testing.T) {
	f := seedListing(t)

	res, err := f.service.ListUsers(context.Background(), users.Query{TenantID: tenantA, Role: "editor"})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 5}, userIDs(res.Users))
	require.Equal(t, int64(2), res.Total)
	require.Zero(t, f.store.CountCalls)
}

func TestUnknownRoleMatchesNothing(t *testing.T) {
	f := seedListing(t)

	res, err := f.service.ListUsers(context.Background(), users.Query{TenantID: tenantA, Role: "ghost"})
	require.NoError(t, err)
	require.Empty(t, res.Users)
	require.Zero(t, res.Total)
}

func TestExtraSearchFallsBackToCounting(t *testing.T) {
	f := seedListing(t)

	res, err := f.service.ListUsers(context.Background(), users.Query{TenantID: tenantA, Role: "editor", Search: "bo"})
	require.NoError(t, err)
	require.Equal(t, []int64{2}, userIDs(res.Users))
	require.Equal(t, int64(1), res.Total)
	require.Equal(t, 1, f.store.CountCalls)
}

func TestNoRoleFilterRequiresAssignment(t *testing.T) {
	f := seedListing(t)
	ctx := context.Background()
	f.member(t, tenantA, 7, "gu", "")

	res, err := f.service.ListUsers(ctx, users.Query{TenantID: tenantA})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3, 4, 5}, userIDs(res.Users))
	require.Equal(t, int64(5), res.Total)
}

func TestRoleNotInExcludesAndCounts(t *testing.T) {
	f := seedListing(t)

	// An exclusion is a role filter, so no assignment-exists clause is
	// added and members of other tenants are not filtered out.
	res, err := f.service.ListUsers(context.Background(), users.Query{TenantID: tenantA, RoleNotIn: []string{"editor", "ghost"}})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3, 4, 6}, userIDs(res.Users))
	require.Equal(t, int64(4), res.Total)
	require.Equal(t, 1, f.store.CountCalls)
}

func TestAuthorsExcludesLevelZero(t *testing.T) {
	f := seedListing(t)

	res, err := f.service.ListUsers(context.Background(), users.Query{TenantID: tenantA, Who: users.WhoAuthors})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3, 5}, userIDs(res.Users))
	require.Equal(t, int64(4), res.Total)
}

func TestAuthorsWithRoleFilterCountsRows(t *testing.T) {
	f := seedListing(t)

	res, err := f.service.ListUsers(context.Background(), users.Query{TenantID: tenantA, RoleIn: []string{"subscriber", "editor"}, Who: users.WhoAuthors})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 5}, userIDs(res.Users))
	// The term counts would give 3: the subscriber is level zero.
	require.Equal(t, int64(2), res.Total)
	require.Equal(t, 1, f.store.CountCalls)
}

func TestOtherTenantScopeIsRestored(t *testing.T) {
	f := seedListing(t)
	tr := tenant.NewTracker(tenantA)
	ctx := tenant.WithTracker(context.Background(), tr)

	res, err := f.service.ListUsers(ctx, users.Query{TenantID: tenantB, Role: "editor"})
	require.NoError(t, err)
	require.Equal(t, []int64{6}, userIDs(res.Users))
	require.Equal(t, int64(1), res.Total)
	require.Equal(t, tenantA, tr.Current())
	require.False(t, tr.Switched())
}

func TestScopeRestoredOnResolveError(t *testing.T) {
	tr := tenant.NewTracker(tenantA)
	ctx := tenant.WithTracker(context.Background(), tr)
	rw := NewRewriter(failingTerms{}, tenantA, nil)

	q := users.Query{TenantID: tenantB, Role: "editor"}
	require.NoError(t, rw.PrepareQuery(ctx, &q))
	err := rw.BuildClauses(ctx, &q, &users.QuerySQL{})
	require.Error(t, err)
	require.Equal(t, tenantA, tr.Current())
}

type failingTerms struct{}

func (failingTerms) GetTerms(context.Context, int64, string, taxonomy.TermQuery) ([]taxonomy.Term, error) {
	return nil, context.DeadlineExceeded
}

func TestPrepareQueryStashesAndClears(t *testing.T) {
	rw := NewRewriter(failingTerms{}, tenantA, nil)
	q := users.Query{TenantID: tenantA, Role: "editor", RoleIn: []string{"author"}, Who: users.WhoAuthors}

	require.NoError(t, rw.PrepareQuery(context.Background(), &q))
	require.NotNil(t, q.Shadow)
	require.Equal(t, "editor", q.Shadow.Role)
	require.Equal(t, tenantA, q.Shadow.TenantID)
	require.Empty(t, q.Role)
	require.Empty(t, q.RoleIn)
	require.Empty(t, q.Who)
	require.Zero(t, q.TenantID)
	require.False(t, q.SkipCount)

	ops := make([]string, len(q.TermClauses))
	for i, c := range q.TermClauses {
		ops[i] = c.Namespace + " " + c.Operator
	}
	require.Equal(t, []string{"roles IN", "roles IN", "levels NOT IN", "levels EXISTS"}, ops)
}

func TestPrepareQueryIgnoresUnscopedQueries(t *testing.T) {
	rw := NewRewriter(failingTerms{}, tenantA, nil)
	q := users.Query{Role: "editor"}
	require.NoError(t, rw.PrepareQuery(context.Background(), &q))
	require.Nil(t, q.Shadow)
	require.Equal(t, "editor", q.Role)
}

func TestClauseSQL(t *testing.T) {
	qs := &users.QuerySQL{}
	in := clauseSQL(qs, taxonomy.Clause{Operator: taxonomy.OpIn, TermIDs: []int64{4, 5}})
	require.Equal(t, "u.id IN (SELECT ta.object_id FROM term_assignments ta WHERE ta.term_id = ANY($1))", in)

	require.Equal(t, "0 = 1", clauseSQL(qs, taxonomy.Clause{Operator: taxonomy.OpIn}))
	require.Empty(t, clauseSQL(qs, taxonomy.Clause{Operator: taxonomy.OpNotIn}))

	exists := clauseSQL(qs, taxonomy.Clause{Operator: taxonomy.OpExists, Namespace: taxonomy.NamespaceRoles, TenantID: 3})
	require.True(t, strings.HasPrefix(exists, "EXISTS (SELECT 1 FROM term_assignments"))
	require.Contains(t, exists, "t.tenant_id = $2 AND t.namespace = $3")
	require.Equal(t, []any{[]int64{4, 5}, int64(3), taxonomy.NamespaceRoles}, qs.Args())
}

func TestBuildClausesReaddsPublishedPostsForStashedTenant(t *testing.T) {
	f := seedListing(t)
	f.store.AddPost(tenantA, 2, "publish")
	f.store.AddPost(tenantB, 5, "publish")

	q := users.Query{TenantID: tenantA, Role: "editor", HasPublishedPosts: true}
	require.NoError(t, f.rewriter.PrepareQuery(context.Background(), &q))
	qs := users.BuildQuerySQL(&q)
	require.NoError(t, f.rewriter.BuildClauses(context.Background(), &q, qs))
	require.Contains(t, qs.Where[len(qs.Where)-1], "p.tenant_id = ")

	res, err := f.service.ListUsers(context.Background(), users.Query{TenantID: tenantA, Role: "editor", HasPublishedPosts: true})
	require.NoError(t, err)
	require.Equal(t, []int64{2}, userIDs(res.Users))
}

func TestCountUsers(t *testing.T) {
	f := seedListing(t)

	counts, err := f.rewriter.CountUsers(context.Background(), tenantA)
	require.NoError(t, err)
	require.Equal(t, int64(5), counts.TotalUsers)
	require.Equal(t, []RoleCount{
		{Role: "administrator", Users: 1},
		{Role: "author", Users: 1},
		{Role: "editor", Users: 2},
		{Role: "subscriber", Users: 1},
	}, counts.AvailRoles)
}

// cancelAware fails reads made with a cancelled context.
type cancelAware struct {
	TermReader
}

func (c cancelAware) GetTerms(ctx context.Context, tenantID int64, namespace string, q taxonomy.TermQuery) ([]taxonomy.Term, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.TermReader.GetTerms(ctx, tenantID, namespace, q)
}

func TestSharedCountLookupsIgnoreCallerCancellation(t *testing.T) {
	f := seedListing(t)
	rw := NewRewriter(cancelAware{f.terms}, tenantA, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	counts, err := rw.CountUsers(ctx, tenantA)
	require.NoError(t, err)
	require.Equal(t, int64(5), counts.TotalUsers)

	q := users.Query{TenantID: tenantA, Role: "editor"}
	require.NoError(t, rw.PrepareQuery(ctx, &q))
	require.True(t, q.SkipCount)
	total, ok, err := rw.CountTotal(ctx, &q)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), total)
}
