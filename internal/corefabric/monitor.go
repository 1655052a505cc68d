package corefabric

import (
	"sync/atomic"
	"time"
)

// Severity classifies an error reported through the monitor.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// ErrorReport is the structured payload every component passes to
// Monitor.ReportError.
type ErrorReport struct {
	Component      string
	Severity       Severity
	Kind           string
	Cause          error
	ResourceState  string
	Timestamp      time.Time
}

// MetricUpdate is one posting to the monitor's non-blocking metrics ring.
type MetricUpdate struct {
	Name      string
	Value     float64
	Tags      map[string]string
	Timestamp time.Time
}

// Monitor is the C5 monitoring coordinator: the single external surface
// workers address for update_metrics/report_error/start_monitoring and the
// root of the system-wide lock hierarchy (state < metrics < performance <
// component < update). It owns handles to the pool (C1), buffer manager
// (C3), and coordinator (C4) per §2's ownership diagram.
type Monitor struct {
	stateLock       *rankedMutex
	metricsLock     *rankedMutex
	performanceLock *rankedMutex
	componentLock   *rankedMutex
	updateLock      *rankedMutex

	pool        *Pool
	bufferMgr   *BufferManager
	coordinator *Coordinator
	sm          *StateMachine

	ring      []MetricUpdate
	ringHead  int
	ringSize  int
	ringCap   int
	metricsDrops uint64

	errorCounters map[string]uint64

	shutdownFlag atomic.Bool
	onCritical   func(report ErrorReport)

	monitoring atomic.Bool
}

// NewMonitor builds the C5 surface over an already-constructed pool,
// buffer manager, coordinator, and state machine.
func NewMonitor(pool *Pool, bufferMgr *BufferManager, coordinator *Coordinator, sm *StateMachine, ringCap int) *Monitor {
	if ringCap <= 0 {
		ringCap = 1024
	}
	m := &Monitor{
		stateLock:       newRankedMutex(RankState),
		metricsLock:     newRankedMutex(RankMetrics),
		performanceLock: newRankedMutex(RankPerformance),
		componentLock:   newRankedMutex(RankComponent),
		updateLock:      newRankedMutex(RankUpdate),
		pool:            pool,
		bufferMgr:       bufferMgr,
		coordinator:     coordinator,
		sm:              sm,
		ring:            make([]MetricUpdate, ringCap),
		ringCap:         ringCap,
		errorCounters:   make(map[string]uint64),
	}
	return m
}

// OnCritical registers the handler invoked when a "critical" severity
// error is reported; the pipeline wiring layer uses this to trigger C6.
func (m *Monitor) OnCritical(fn func(report ErrorReport)) {
	m.updateLock.Lock()
	m.onCritical = fn
	m.updateLock.Unlock()
}

// StartMonitoring flips the monitor into an active state. It is idempotent.
func (m *Monitor) StartMonitoring() {
	m.monitoring.Store(true)
}

// StopMonitoring raises the system-wide shutdown flag reported by
// ShuttingDown. The pool, the queues and the storage writers do not read
// this flag; queues are stopped through BufferManager.Shutdown.
func (m *Monitor) StopMonitoring() {
	m.monitoring.Store(false)
	m.shutdownFlag.Store(true)
}

// ShuttingDown reports the shared shutdown flag.
func (m *Monitor) ShuttingDown() bool {
	return m.shutdownFlag.Load()
}

// UpdateMetrics posts a non-blocking metric update. When the ring is full
// the oldest entry is dropped and metrics_drops increments, per §4.5's
// back-pressure policy.
func (m *Monitor) UpdateMetrics(update MetricUpdate) {
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now()
	}
	m.metricsLock.Lock()
	defer m.metricsLock.Unlock()

	if m.ringSize == m.ringCap {
		m.metricsDrops++
		m.ringHead = (m.ringHead + 1) % m.ringCap
		m.ringSize--
	}
	idx := (m.ringHead + m.ringSize) % m.ringCap
	m.ring[idx] = update
	m.ringSize++
}

// MetricsSnapshot returns a copy of the current ring contents in insertion
// order, and the number of drops observed so far.
func (m *Monitor) MetricsSnapshot() ([]MetricUpdate, uint64) {
	m.metricsLock.Lock()
	defer m.metricsLock.Unlock()

	out := make([]MetricUpdate, m.ringSize)
	for i := 0; i < m.ringSize; i++ {
		out[i] = m.ring[(m.ringHead+i)%m.ringCap]
	}
	return out, m.metricsDrops
}

// ReportError routes an error report: it always increments a kinded error
// counter, and for "critical" severity invokes the registered handler,
// which triggers C6.
func (m *Monitor) ReportError(report ErrorReport) {
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now()
	}

	m.updateLock.Lock()
	m.errorCounters[report.Kind]++
	cb := m.onCritical
	m.updateLock.Unlock()

	if report.Severity == SeverityCritical && cb != nil {
		cb(report)
	}
}

// ErrorCounters returns a snapshot of per-kind error counts.
func (m *Monitor) ErrorCounters() map[string]uint64 {
	m.updateLock.Lock()
	defer m.updateLock.Unlock()
	out := make(map[string]uint64, len(m.errorCounters))
	for k, v := range m.errorCounters {
		out[k] = v
	}
	return out
}

// Health delegates to the coordinator for the system health snapshot.
func (m *Monitor) Health() map[string]HealthReport {
	m.componentLock.Lock()
	defer m.componentLock.Unlock()
	return m.coordinator.Health()
}

// RegisterThread delegates thread registration to the coordinator, taking
// the component lock to respect the hierarchy when combined with other
// monitor calls.
func (m *Monitor) RegisterThread(handle ComponentHandle) (ThreadID, error) {
	m.componentLock.Lock()
	defer m.componentLock.Unlock()
	return m.coordinator.RegisterThread(handle)
}

