package perf

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/roleterms/internal/jobs"
	"github.com/odyssey-erp/roleterms/internal/rolesync"
	"github.com/odyssey-erp/roleterms/internal/taxonomy"
)

func TestSyncJobThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	ctx := context.Background()

	for _, fast := range []bool{true, false} {
		e := newEnv(t)
		e.seedLegacy(500)
		opts := rolesync.Options{TenantID: tenantID, BatchSize: 50, FastPopulate: fast}

		tracker := metrics.Track("roles.sync." + opts.StrategyName())
		res, err := e.syncer.Run(ctx, opts, nil, nil)
		require.NoError(t, tracker.End(err))
		metrics.AddSynced(res.Strategy, res.TenantID, res.Synced)

		require.Equal(t, 500, res.Synced)
		require.Equal(t, 11, res.Pages, "a full last page is followed by one empty fetch")
		require.Zero(t, res.InsertFailures)

		var total int64
		for _, role := range []string{"subscriber", "contributor", "author", "editor", "administrator"} {
			total += e.terms.Count(tenantID, taxonomy.NamespaceRoles, role)
		}
		require.Equal(t, int64(500), total, "every user lands in exactly one role term")
	}

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, strategy := range []string{rolesync.StrategyFastBulk, rolesync.StrategyIncremental} {
		runs := metricValue(t, families, "roleterms_jobs_total", map[string]string{"job": "roles.sync." + strategy, "status": "success"})
		require.Equal(t, 1.0, runs)
		synced := metricValue(t, families, "roleterms_sync_users_total", map[string]string{"strategy": strategy, "tenant": "1"})
		require.Equal(t, 500.0, synced)

		mean := histogramMean(t, families, "roleterms_job_duration_seconds", map[string]string{"job": "roles.sync." + strategy})
		if mean > 5.0 {
			t.Fatalf("%s sync of 500 users above budget: %fs", strategy, mean)
		}
	}
}

func BenchmarkFastBulkSync(b *testing.B) {
	ctx := context.Background()
	opts := rolesync.Options{TenantID: tenantID, BatchSize: 100, FastPopulate: true}
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		e := newEnv(b)
		e.seedLegacy(1000)
		b.StartTimer()
		if _, err := e.syncer.Run(ctx, opts, nil, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkIncrementalSync(b *testing.B) {
	ctx := context.Background()
	opts := rolesync.Options{TenantID: tenantID, BatchSize: 100}
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		e := newEnv(b)
		e.seedLegacy(1000)
		b.StartTimer()
		if _, err := e.syncer.Run(ctx, opts, nil, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range metric.GetLabel() {
		val, ok := labels[lp.GetName()]
		if !ok {
			continue
		}
		if lp.GetValue() != val {
			return false
		}
		matched++
	}
	return matched == len(labels)
}
