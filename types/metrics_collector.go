package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods may be called concurrently.
type MetricsCollector interface {
	WriterMetrics
	AuthorityMetrics
	ServerMetrics
}

// WriterMetrics covers the producer side.
type WriterMetrics interface {
	// RecordBytesWritten records the framed size of a shipped block.
	RecordBytesWritten(bytes int64)

	// RecordSendFailure records a failed block send to a server.
	RecordSendFailure(server ServerID)

	// RecordStateTransition records a partition state transition.
	RecordStateTransition(from, to PartitionState)
}

// AuthorityMetrics covers the accepting authority.
type AuthorityMetrics interface {
	// RecordReassignment records the outcome of one partition reassignment.
	RecordReassignment(status ReassignStatus, split bool)

	// RecordCapacityExhausted records a reassignment rejected for lack of servers.
	RecordCapacityExhausted()

	// RecordKVOperationDuration records the latency of an assignment store operation.
	RecordKVOperationDuration(operation string, duration float64)
}

// ServerMetrics covers shuffle servers.
type ServerMetrics interface {
	// RecordHeartbeat records a heartbeat publication.
	RecordHeartbeat(server ServerID, success bool)

	// RecordBlockStored records a block committed to a storage tier.
	RecordBlockStored(storage StorageID, bytes int64)
}
