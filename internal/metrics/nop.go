// Package metrics provides types.MetricsCollector implementations.
package metrics

import "github.com/arloliu/rshuffle/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// WriterMetrics implementation

// RecordBytesWritten discards the block size metric.
func (n *NopMetrics) RecordBytesWritten(_ /* bytes */ int64) {}

// RecordSendFailure discards the send failure metric.
func (n *NopMetrics) RecordSendFailure(_ /* server */ types.ServerID) {}

// RecordStateTransition discards the partition state transition metric.
func (n *NopMetrics) RecordStateTransition(_ /* from */, _ /* to */ types.PartitionState) {}

// AuthorityMetrics implementation

// RecordReassignment discards the reassignment outcome metric.
func (n *NopMetrics) RecordReassignment(_ /* status */ types.ReassignStatus, _ /* split */ bool) {}

// RecordCapacityExhausted discards the capacity exhaustion metric.
func (n *NopMetrics) RecordCapacityExhausted() {}

// RecordKVOperationDuration discards the KV operation duration metric.
func (n *NopMetrics) RecordKVOperationDuration(_ /* operation */ string, _ /* duration */ float64) {}

// ServerMetrics implementation

// RecordHeartbeat discards the heartbeat metric.
func (n *NopMetrics) RecordHeartbeat(_ /* server */ types.ServerID, _ /* success */ bool) {}

// RecordBlockStored discards the stored block metric.
func (n *NopMetrics) RecordBlockStored(_ /* storage */ types.StorageID, _ /* bytes */ int64) {}
