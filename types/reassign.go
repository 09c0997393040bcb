package types

import (
	"fmt"
)

// ReceivingFailureServer records one server that failed to receive a block,
// scoped to one partition and one failure episode.
type ReceivingFailureServer struct {
	ServerID ServerID `json:"serverId"`
	Cause    string   `json:"cause"`
}

// ReassignRequest asks the accepting authority to move the listed partitions
// away from the servers that failed to receive their blocks.
type ReassignRequest struct {
	ShuffleID                 int32                              `json:"shuffleId"`
	FailurePartitionToServers map[int32][]ReceivingFailureServer `json:"failurePartitionToServerIds"`
	ExecutorID                string                             `json:"executorId"`
	TaskAttemptID             int64                              `json:"taskAttemptId"`
	StageID                   int32                              `json:"stageId"`
	StageAttemptNumber        int32                              `json:"stageAttemptNumber"`
	PartitionSplit            bool                               `json:"partitionSplit"`
}

// Token returns the freshness token of the requesting attempt.
func (r *ReassignRequest) Token() Token {
	return Token{StageAttempt: r.StageAttemptNumber, TaskAttempt: r.TaskAttemptID}
}

// PartitionIDs returns the failing partition IDs in ascending order.
func (r *ReassignRequest) PartitionIDs() []int32 {
	return sortedPartitionIDs(r.FailurePartitionToServers)
}

// Validate checks the structural constraints of the request.
func (r *ReassignRequest) Validate() error {
	if r.ShuffleID < 0 {
		return fmt.Errorf("%w: negative shuffle id %d", ErrInvalidRequest, r.ShuffleID)
	}
	if r.TaskAttemptID < 0 || r.StageAttemptNumber < 0 {
		return fmt.Errorf("%w: negative attempt (%s)", ErrInvalidRequest, r.Token())
	}
	if len(r.FailurePartitionToServers) == 0 {
		return fmt.Errorf("%w: no failed partitions", ErrInvalidRequest)
	}
	for pid, servers := range r.FailurePartitionToServers {
		if pid < 0 {
			return fmt.Errorf("%w: negative partition id %d", ErrInvalidRequest, pid)
		}
		if len(servers) == 0 {
			return fmt.Errorf("%w: partition %d has no failed servers", ErrInvalidRequest, pid)
		}
	}

	return nil
}

// ReassignStatus is the outcome of a reassignment for one partition.
type ReassignStatus int

const (
	// ReassignAccepted means a new assignment version was created.
	ReassignAccepted ReassignStatus = iota

	// ReassignStale means the request token is older than the stored one.
	// Nothing changed; the caller must refetch the assignment.
	ReassignStale

	// ReassignUnchanged means the request's token already owns the assignment
	// and the failed servers are already absent from it, e.g. a retried
	// request that was applied before.
	ReassignUnchanged
)

func (s ReassignStatus) String() string {
	switch s {
	case ReassignAccepted:
		return "Accepted"
	case ReassignStale:
		return "Stale"
	case ReassignUnchanged:
		return "Unchanged"
	default:
		return "Unknown"
	}
}

// PartitionResult is the authority's answer for one failing partition.
type PartitionResult struct {
	Status     ReassignStatus `json:"status"`
	Assignment Assignment     `json:"assignment"`
}

// ReassignResponse carries one result per partition of the request.
type ReassignResponse struct {
	Results map[int32]PartitionResult `json:"results"`
}
