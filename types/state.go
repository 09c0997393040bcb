package types

// PartitionState is the writer-side state of one partition in the reassignment protocol.
//
//	Assigned -> FailureDetected -> ReassignRequested -> Reassigned | Split -> Assigned
type PartitionState int

const (
	// StateAssigned is the normal state; writers target the current server set.
	StateAssigned PartitionState = iota

	// StateFailureDetected means a send to one or more servers of the set failed.
	StateFailureDetected

	// StateReassignRequested means a ReassignRequest is in flight.
	StateReassignRequested

	// StateReassigned means the authority returned a single replacement server.
	StateReassigned

	// StateSplit means the authority fanned the partition out to several servers.
	StateSplit
)

func (s PartitionState) String() string {
	switch s {
	case StateAssigned:
		return "Assigned"
	case StateFailureDetected:
		return "FailureDetected"
	case StateReassignRequested:
		return "ReassignRequested"
	case StateReassigned:
		return "Reassigned"
	case StateSplit:
		return "Split"
	default:
		return "Unknown"
	}
}

// CanTransition reports whether the writer may move from s to next.
func (s PartitionState) CanTransition(next PartitionState) bool {
	switch s {
	case StateAssigned:
		return next == StateFailureDetected
	case StateFailureDetected:
		return next == StateReassignRequested || next == StateAssigned
	case StateReassignRequested:
		return next == StateReassigned || next == StateSplit || next == StateAssigned
	case StateReassigned, StateSplit:
		return next == StateAssigned
	default:
		return false
	}
}
