package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/mytsdb/internal/metrics"
)

func TestTimerRecordsPhaseAndHistogram(t *testing.T) {
	m := metrics.New()

	timer := m.NewTimer(metrics.PhaseTotal)
	timer.ObserveScan(10, 2, 128)
	timer.Stop()

	snap := m.Snapshot()
	require.Equal(t, int64(10), snap.SamplesScanned)
	require.Equal(t, int64(2), snap.SeriesScanned)
	require.Equal(t, int64(128), snap.BytesScanned)
	require.Equal(t, int64(1), snap.HistogramCount)
	require.Len(t, snap.Histogram, len(metrics.Buckets))
	require.Equal(t, metrics.Buckets[len(metrics.Buckets)-1], snap.Histogram[len(snap.Histogram)-1].UpperBound)
	require.GreaterOrEqual(t, snap.Histogram[len(snap.Histogram)-1].Count, int64(1))
}

func TestQueryCounters(t *testing.T) {
	m := metrics.New()
	m.IncQueryCount()
	m.IncQueryCount()
	m.IncQueryErrors()

	snap := m.Snapshot()
	require.Equal(t, int64(2), snap.QueryCount)
	require.Equal(t, int64(1), snap.QueryErrors)
}

func TestRegisterExposesMytsdbPrefixedMetrics(t *testing.T) {
	m := metrics.New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	mf, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mf)
	for _, f := range mf {
		require.Contains(t, f.GetName(), "mytsdb_")
	}
}
