package perf

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/roleterms/internal/roleterms"
	"github.com/odyssey-erp/roleterms/internal/rolesync"
	"github.com/odyssey-erp/roleterms/internal/users"
)

func listingEnv(tb testing.TB, n int) *env {
	tb.Helper()
	e := newEnv(tb)
	e.seedLegacy(n)
	_, err := e.syncer.Run(context.Background(), rolesync.Options{TenantID: tenantID, BatchSize: 100}, nil, nil)
	require.NoError(tb, err)
	e.service.UseQueryHooks(roleterms.NewRewriter(e.terms, tenantID, nil))
	return e
}

func TestRoleListingLatencyTargets(t *testing.T) {
	e := listingEnv(t, 700)
	ctx := context.Background()

	queries := []users.Query{
		{TenantID: tenantID, Role: "editor", Number: 20},
		{TenantID: tenantID, RoleIn: []string{"author", "editor"}, Number: 20},
		{TenantID: tenantID, RoleNotIn: []string{"subscriber"}, Number: 20},
	}
	var samples []time.Duration
	for i := 0; i < 10; i++ {
		for _, q := range queries {
			start := time.Now()
			_, err := e.service.ListUsers(ctx, q)
			require.NoError(t, err)
			samples = append(samples, time.Since(start))
		}
	}

	if p95 := percentile95(samples); p95 > 500*time.Millisecond {
		t.Fatalf("role listing latency regression: p95=%s", p95)
	}
}

func TestRoleTotalsSkipStoreCount(t *testing.T) {
	e := listingEnv(t, 70)
	calls := e.store.CountCalls

	res, err := e.service.ListUsers(context.Background(), users.Query{TenantID: tenantID, Role: "subscriber", Number: 5})
	require.NoError(t, err)
	require.Len(t, res.Users, 5)
	require.Equal(t, int64(30), res.Total)
	require.Equal(t, calls, e.store.CountCalls)
}

func BenchmarkListUsersByRole(b *testing.B) {
	e := listingEnv(b, 1000)
	ctx := context.Background()
	q := users.Query{TenantID: tenantID, Role: "editor", Number: 20}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.service.ListUsers(ctx, q); err != nil {
			b.Fatal(err)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	return sorted[index]
}
