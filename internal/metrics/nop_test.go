package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/rshuffle/types"
)

func TestNopMetrics(t *testing.T) {
	var m types.MetricsCollector = NewNop()

	require.NotPanics(t, func() {
		m.RecordBytesWritten(7)
		m.RecordSendFailure("s1")
		m.RecordStateTransition(types.StateAssigned, types.StateFailureDetected)
		m.RecordReassignment(types.ReassignAccepted, true)
		m.RecordCapacityExhausted()
		m.RecordKVOperationDuration("apply", 0.01)
		m.RecordHeartbeat("s1", false)
		m.RecordBlockStored(types.StorageID(0), 100)
	})
}
