package corefabric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestMonitor() *Monitor {
	pool := NewPool(4, 4, 4, 50*time.Millisecond)
	sm := NewStateMachine(8)
	bm := NewBufferManager(10, 10, 10)
	c := NewCoordinator(pool, sm, time.Second)
	return NewMonitor(pool, bm, c, sm, 4)
}

func TestMonitor_MetricsRingDropsOldestWhenFull(t *testing.T) {
	m := newTestMonitor()
	for i := 0; i < 6; i++ {
		m.UpdateMetrics(MetricUpdate{Name: "x", Value: float64(i)})
	}
	snap, drops := m.MetricsSnapshot()
	require.Len(t, snap, 4)
	require.Equal(t, uint64(2), drops)
	require.Equal(t, 2.0, snap[0].Value) // oldest two (0,1) were dropped
}

func TestMonitor_CriticalErrorTriggersCallback(t *testing.T) {
	m := newTestMonitor()
	var triggered ErrorReport
	m.OnCritical(func(report ErrorReport) { triggered = report })

	m.ReportError(ErrorReport{Component: "storage-manager", Severity: SeverityWarning, Kind: "warn"})
	require.Empty(t, triggered.Kind)

	m.ReportError(ErrorReport{Component: "storage-manager", Severity: SeverityCritical, Kind: "flush_failed"})
	require.Equal(t, "flush_failed", triggered.Kind)

	counters := m.ErrorCounters()
	require.Equal(t, uint64(1), counters["warn"])
	require.Equal(t, uint64(1), counters["flush_failed"])
}

func TestMonitor_LockHierarchyNoViolationInNormalUse(t *testing.T) {
	m := newTestMonitor()
	// Exercising every lock in isolation should never panic even with the
	// debug rank checker compiled in (duocapture_debuglocks build tag).
	m.UpdateMetrics(MetricUpdate{Name: "x"})
	m.ReportError(ErrorReport{Component: "x", Severity: SeverityInfo, Kind: "k"})
	_ = m.Health()
}
