package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/tinyclue/duocapture/internal/corefabric"
)

func findMetric(t *testing.T, families map[string]*dto.MetricFamily, name string) []*dto.Metric {
	t.Helper()
	fam, ok := families[name]
	require.True(t, ok, "metric family %q not found", name)
	return fam.Metric
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.Label {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestCollector_ExposesPoolAndQueueMetrics(t *testing.T) {
	pool := corefabric.NewPool(4, 2, 1, 50*time.Millisecond)
	bufferMgr := corefabric.NewBufferManager(10, 10, 10)
	sm := corefabric.NewStateMachine(16)
	coordinator := corefabric.NewCoordinator(pool, sm, time.Second)
	monitor := corefabric.NewMonitor(pool, bufferMgr, coordinator, sm, 16)

	buf, err := pool.Allocate(corefabric.SmallBufferSize)
	require.NoError(t, err)
	require.NoError(t, bufferMgr.Queue(corefabric.StageCapture, corefabric.ChannelLeft).Put(buf, time.Second))

	registry := prometheus.NewRegistry()
	registry.MustRegister(NewCollector(pool, bufferMgr, monitor, nil))

	gathered, err := registry.Gather()
	require.NoError(t, err)

	families := make(map[string]*dto.MetricFamily, len(gathered))
	for _, fam := range gathered {
		families[fam.GetName()] = fam
	}

	var sawSmallInUse bool
	for _, m := range findMetric(t, families, "duocapture_pool_tier_in_use") {
		if labelValue(m, "tier") == "small" {
			require.Equal(t, float64(1), m.GetGauge().GetValue())
			sawSmallInUse = true
		}
	}
	require.True(t, sawSmallInUse, "expected a small-tier in-use sample")

	var sawCaptureLeftDepth bool
	for _, m := range findMetric(t, families, "duocapture_queue_depth") {
		if labelValue(m, "stage") == "capture" && labelValue(m, "channel") == "left" {
			require.Equal(t, float64(1), m.GetGauge().GetValue())
			sawCaptureLeftDepth = true
		}
	}
	require.True(t, sawCaptureLeftDepth, "expected a capture/left depth sample")

	leaked := findMetric(t, families, "duocapture_pool_leaked")
	require.Len(t, leaked, 1)
	require.Equal(t, float64(0), leaked[0].GetGauge().GetValue())
}

func TestCollector_OmitsStorageWhenManagerNil(t *testing.T) {
	pool := corefabric.NewPool(4, 2, 1, 50*time.Millisecond)
	bufferMgr := corefabric.NewBufferManager(4, 4, 4)
	sm := corefabric.NewStateMachine(16)
	coordinator := corefabric.NewCoordinator(pool, sm, time.Second)
	monitor := corefabric.NewMonitor(pool, bufferMgr, coordinator, sm, 16)

	registry := prometheus.NewRegistry()
	registry.MustRegister(NewCollector(pool, bufferMgr, monitor, nil))

	gathered, err := registry.Gather()
	require.NoError(t, err)
	for _, fam := range gathered {
		require.NotEqual(t, "duocapture_storage_flushes_total", fam.GetName())
	}
}
