package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arloliu/rshuffle/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are registered lazily on first use.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	blockBytes        prometheus.Histogram
	bytesWritten      prometheus.Counter
	sendFailures      *prometheus.CounterVec
	stateTransitions  *prometheus.CounterVec
	reassignments     *prometheus.CounterVec
	capacityExhausted prometheus.Counter
	kvLatency         *prometheus.HistogramVec
	heartbeats        *prometheus.CounterVec
	blocksStored      *prometheus.CounterVec
	storedBytes       *prometheus.CounterVec
}

var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer (uses prometheus.DefaultRegisterer if nil)
//   - namespace: metrics namespace (defaults to "rshuffle" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "rshuffle"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		factory := promauto.With(p.reg)

		p.blockBytes = factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "writer",
			Name:      "block_bytes",
			Help:      "Framed size of shipped blocks in bytes.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB .. 256MiB
		})
		p.bytesWritten = factory.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "writer",
			Name:      "bytes_written_total",
			Help:      "Total framed bytes shipped, including framing and sentinels.",
		})
		p.sendFailures = factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "writer",
			Name:      "send_failures_total",
			Help:      "Block send failures by target server.",
		}, []string{"server"})
		p.stateTransitions = factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "writer",
			Name:      "partition_state_transitions_total",
			Help:      "Partition state transitions of the reassignment protocol.",
		}, []string{"from", "to"})

		p.reassignments = factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "authority",
			Name:      "reassignments_total",
			Help:      "Per-partition reassignment outcomes (Accepted, Stale, Unchanged).",
		}, []string{"status", "split"})
		p.capacityExhausted = factory.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "authority",
			Name:      "capacity_exhausted_total",
			Help:      "Reassignments rejected because no replacement server was available.",
		})
		p.kvLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "authority",
			Name:      "kv_operation_seconds",
			Help:      "Latency of assignment store operations in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"op"})

		p.heartbeats = factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "server",
			Name:      "heartbeats_total",
			Help:      "Heartbeat publications by result.",
		}, []string{"server", "result"})
		p.blocksStored = factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "server",
			Name:      "blocks_stored_total",
			Help:      "Blocks committed to a storage tier.",
		}, []string{"storage"})
		p.storedBytes = factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "server",
			Name:      "stored_bytes_total",
			Help:      "Bytes committed to a storage tier.",
		}, []string{"storage"})
	})
}

// RecordBytesWritten observes the framed size of a shipped block.
func (p *PrometheusCollector) RecordBytesWritten(bytes int64) {
	p.ensureRegistered()
	p.blockBytes.Observe(float64(bytes))
	p.bytesWritten.Add(float64(bytes))
}

// RecordSendFailure increments send failures for server.
func (p *PrometheusCollector) RecordSendFailure(server types.ServerID) {
	p.ensureRegistered()
	p.sendFailures.WithLabelValues(string(server)).Inc()
}

// RecordStateTransition counts a partition state transition.
func (p *PrometheusCollector) RecordStateTransition(from, to types.PartitionState) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// RecordReassignment counts a per-partition reassignment outcome.
func (p *PrometheusCollector) RecordReassignment(status types.ReassignStatus, split bool) {
	p.ensureRegistered()
	p.reassignments.WithLabelValues(status.String(), strconv.FormatBool(split)).Inc()
}

// RecordCapacityExhausted counts a reassignment rejected for lack of capacity.
func (p *PrometheusCollector) RecordCapacityExhausted() {
	p.ensureRegistered()
	p.capacityExhausted.Inc()
}

// RecordKVOperationDuration observes the latency of an assignment store operation.
func (p *PrometheusCollector) RecordKVOperationDuration(operation string, duration float64) {
	p.ensureRegistered()
	p.kvLatency.WithLabelValues(operation).Observe(duration)
}

// RecordHeartbeat counts a heartbeat publication.
func (p *PrometheusCollector) RecordHeartbeat(server types.ServerID, success bool) {
	p.ensureRegistered()
	result := "success"
	if !success {
		result = "failure"
	}
	p.heartbeats.WithLabelValues(string(server), result).Inc()
}

// RecordBlockStored counts a block committed to a storage tier.
func (p *PrometheusCollector) RecordBlockStored(storage types.StorageID, bytes int64) {
	p.ensureRegistered()
	label := strconv.Itoa(int(storage))
	p.blocksStored.WithLabelValues(label).Inc()
	p.storedBytes.WithLabelValues(label).Add(float64(bytes))
}
