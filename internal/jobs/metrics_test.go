package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsStatus(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("roles:sync").End(nil))
	err := errors.New("boom")
	require.ErrorIs(t, m.Track("roles:sync").End(err), err)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("roles:sync", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("roles:sync", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("roles:sync")))
}

func TestSyncCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.AddSynced("fast-bulk", 3, 250)
	m.AddSynced("fast-bulk", 3, 0)
	m.AddInsertFailures(3, 2)

	require.Equal(t, 250.0, testutil.ToFloat64(m.syncedUsers.WithLabelValues("fast-bulk", "3")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.insertFailures.WithLabelValues("3")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddSynced("incremental", 1, 5)
	m.AddInsertFailures(1, 1)
	require.NoError(t, m.Track("roles:sync").End(nil))
}
