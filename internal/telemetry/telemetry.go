// Package telemetry bridges the C5 monitoring coordinator's error counters
// and metrics-ring drop count and the C1/C3/C7 stats surfaces to a
// Prometheus registry, served over the CLI's --telemetry-listen HTTP
// endpoint. NewCollector takes the live fabric handles rather than a
// *prometheus.Registry (the caller registers the Collector); its series
// are labelled by tier/stage/channel. It implements prometheus.Collector directly instead of
// pushing updates from call sites, since every value it exports already
// lives behind an existing snapshot method (Pool.Stats, ChannelQueue.
// Metrics, Manager.Stats, Monitor.ErrorCounters) and re-deriving it at
// scrape time avoids a second, possibly-stale copy of the same counters.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinyclue/duocapture/internal/corefabric"
	"github.com/tinyclue/duocapture/internal/storage"
)

// Collector implements prometheus.Collector over the live fabric and
// storage handles. It holds no state of its own: every Collect call reads
// fresh snapshots, so scrape results are always consistent with the
// moment of the scrape.
type Collector struct {
	pool      *corefabric.Pool
	bufferMgr *corefabric.BufferManager
	monitor   *corefabric.Monitor
	storageM  *storage.Manager

	poolCapacity    *prometheus.Desc
	poolInUse       *prometheus.Desc
	poolFree        *prometheus.Desc
	poolHighWater   *prometheus.Desc
	poolAllocations *prometheus.Desc
	poolReleases    *prometheus.Desc
	poolLeaked      *prometheus.Desc

	queueDepth     *prometheus.Desc
	queueOverruns  *prometheus.Desc
	queueUnderruns *prometheus.Desc
	queueLatencyP50 *prometheus.Desc
	queueLatencyP95 *prometheus.Desc

	storageFlushes   *prometheus.Desc
	storageNoops     *prometheus.Desc
	storageEmergency *prometheus.Desc
	storageFailures  *prometheus.Desc
	storageSequence  *prometheus.Desc

	metricsDrops  *prometheus.Desc
	errorCounters *prometheus.Desc
}

// NewCollector builds a Collector over the pool, buffer manager, monitor,
// and storage manager constructed for this run. storageM may be nil
// before the storage stage is wired (e.g. during early init), in which
// case storage metrics are simply omitted from each scrape.
func NewCollector(pool *corefabric.Pool, bufferMgr *corefabric.BufferManager, monitor *corefabric.Monitor, storageM *storage.Manager) *Collector {
	return &Collector{
		pool:      pool,
		bufferMgr: bufferMgr,
		monitor:   monitor,
		storageM:  storageM,

		poolCapacity:    prometheus.NewDesc("duocapture_pool_tier_capacity", "Configured capacity of a pool tier.", []string{"tier"}, nil),
		poolInUse:       prometheus.NewDesc("duocapture_pool_tier_in_use", "Buffers currently checked out of a tier.", []string{"tier"}, nil),
		poolFree:        prometheus.NewDesc("duocapture_pool_tier_free", "Buffers currently on a tier's free LIFO stack.", []string{"tier"}, nil),
		poolHighWater:   prometheus.NewDesc("duocapture_pool_tier_high_water", "Highest observed in-use count for a tier.", []string{"tier"}, nil),
		poolAllocations: prometheus.NewDesc("duocapture_pool_allocations_total", "Total successful allocations from a tier.", []string{"tier"}, nil),
		poolReleases:    prometheus.NewDesc("duocapture_pool_releases_total", "Total successful releases to a tier.", []string{"tier"}, nil),
		poolLeaked:      prometheus.NewDesc("duocapture_pool_leaked", "Buffers finalized by the GC without an explicit release (P1/P2).", nil, nil),

		queueDepth:      prometheus.NewDesc("duocapture_queue_depth", "Current depth of a (stage, channel) queue.", []string{"stage", "channel"}, nil),
		queueOverruns:   prometheus.NewDesc("duocapture_queue_overruns_total", "Drop-oldest overflow events for a (stage, channel) queue.", []string{"stage", "channel"}, nil),
		queueUnderruns:  prometheus.NewDesc("duocapture_queue_underruns_total", "Get() timeouts against an empty (stage, channel) queue.", []string{"stage", "channel"}, nil),
		queueLatencyP50: prometheus.NewDesc("duocapture_queue_latency_p50_seconds", "p50 put-to-get latency for a (stage, channel) queue.", []string{"stage", "channel"}, nil),
		queueLatencyP95: prometheus.NewDesc("duocapture_queue_latency_p95_seconds", "p95 put-to-get latency for a (stage, channel) queue.", []string{"stage", "channel"}, nil),

		storageFlushes:   prometheus.NewDesc("duocapture_storage_flushes_total", "Completed flushes to the primary recordings directory.", []string{"channel"}, nil),
		storageNoops:     prometheus.NewDesc("duocapture_storage_flush_noop_total", "Flush calls that were a no-op because a flush was already in progress (B4).", []string{"channel"}, nil),
		storageEmergency: prometheus.NewDesc("duocapture_storage_emergency_backup_total", "Batches routed to emergency backup after persistent flush failure.", []string{"channel"}, nil),
		storageFailures:  prometheus.NewDesc("duocapture_storage_failures_total", "Batches that failed both the primary and emergency backup writes.", []string{"channel"}, nil),
		storageSequence:  prometheus.NewDesc("duocapture_storage_sequence", "Last sequence number successfully flushed for a channel (P7).", []string{"channel"}, nil),

		metricsDrops:  prometheus.NewDesc("duocapture_monitor_metrics_drops_total", "Metric updates dropped because the monitor's ring was full.", nil, nil),
		errorCounters: prometheus.NewDesc("duocapture_errors_total", "Errors reported to the monitor, by kind.", []string{"kind"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.poolCapacity
	ch <- c.poolInUse
	ch <- c.poolFree
	ch <- c.poolHighWater
	ch <- c.poolAllocations
	ch <- c.poolReleases
	ch <- c.poolLeaked
	ch <- c.queueDepth
	ch <- c.queueOverruns
	ch <- c.queueUnderruns
	ch <- c.queueLatencyP50
	ch <- c.queueLatencyP95
	ch <- c.storageFlushes
	ch <- c.storageNoops
	ch <- c.storageEmergency
	ch <- c.storageFailures
	ch <- c.storageSequence
	ch <- c.metricsDrops
	ch <- c.errorCounters
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.pool != nil {
		stats := c.pool.Stats()
		for tier, ts := range stats.PerTier {
			name := corefabric.BufferTier(tier).String()
			ch <- prometheus.MustNewConstMetric(c.poolCapacity, prometheus.GaugeValue, float64(ts.Capacity), name)
			ch <- prometheus.MustNewConstMetric(c.poolInUse, prometheus.GaugeValue, float64(ts.InUse), name)
			ch <- prometheus.MustNewConstMetric(c.poolFree, prometheus.GaugeValue, float64(ts.Free), name)
			ch <- prometheus.MustNewConstMetric(c.poolHighWater, prometheus.GaugeValue, float64(ts.HighWater), name)
			ch <- prometheus.MustNewConstMetric(c.poolAllocations, prometheus.CounterValue, float64(ts.Allocations), name)
			ch <- prometheus.MustNewConstMetric(c.poolReleases, prometheus.CounterValue, float64(ts.Releases), name)
		}
		ch <- prometheus.MustNewConstMetric(c.poolLeaked, prometheus.GaugeValue, float64(stats.Leaked))
	}

	if c.bufferMgr != nil {
		for _, stage := range corefabric.Stages() {
			for _, channel := range corefabric.Channels() {
				qm := c.bufferMgr.Queue(stage, channel).Metrics()
				stageName, channelName := stage.String(), channel.String()
				ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(qm.Depth), stageName, channelName)
				ch <- prometheus.MustNewConstMetric(c.queueOverruns, prometheus.CounterValue, float64(qm.Overruns), stageName, channelName)
				ch <- prometheus.MustNewConstMetric(c.queueUnderruns, prometheus.CounterValue, float64(qm.Underruns), stageName, channelName)
				ch <- prometheus.MustNewConstMetric(c.queueLatencyP50, prometheus.GaugeValue, qm.LatencyP50.Seconds(), stageName, channelName)
				ch <- prometheus.MustNewConstMetric(c.queueLatencyP95, prometheus.GaugeValue, qm.LatencyP95.Seconds(), stageName, channelName)
			}
		}
	}

	if c.storageM != nil {
		for channel, st := range c.storageM.Stats() {
			ch <- prometheus.MustNewConstMetric(c.storageFlushes, prometheus.CounterValue, float64(st.Flushes), channel)
			ch <- prometheus.MustNewConstMetric(c.storageNoops, prometheus.CounterValue, float64(st.Noops), channel)
			ch <- prometheus.MustNewConstMetric(c.storageEmergency, prometheus.CounterValue, float64(st.EmergencyRoutes), channel)
			ch <- prometheus.MustNewConstMetric(c.storageFailures, prometheus.CounterValue, float64(st.Failures), channel)
			ch <- prometheus.MustNewConstMetric(c.storageSequence, prometheus.GaugeValue, float64(st.Sequence), channel)
		}
	}

	if c.monitor != nil {
		_, drops := c.monitor.MetricsSnapshot()
		ch <- prometheus.MustNewConstMetric(c.metricsDrops, prometheus.CounterValue, float64(drops))
		for kind, count := range c.monitor.ErrorCounters() {
			ch <- prometheus.MustNewConstMetric(c.errorCounters, prometheus.CounterValue, float64(count), kind)
		}
	}
}
