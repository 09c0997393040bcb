package rshuffle

import (
	"github.com/arloliu/rshuffle/framing"
	"github.com/arloliu/rshuffle/types"
)

// Re-export types from the types package.
//
// Internal packages depend on types rather than on the root package, which
// avoids import cycles while still offering rshuffle.Assignment,
// rshuffle.ReadLocator and friends to users.
type (
	ServerID               = types.ServerID
	PartitionKey           = types.PartitionKey
	Token                  = types.Token
	Assignment             = types.Assignment
	PartitionState         = types.PartitionState
	ReceivingFailureServer = types.ReceivingFailureServer
	ReassignRequest        = types.ReassignRequest
	ReassignResponse       = types.ReassignResponse
	ReassignStatus         = types.ReassignStatus
	PartitionResult        = types.PartitionResult
	StorageID              = types.StorageID
	ReadLocator            = types.ReadLocator
	BlockID                = types.BlockID
	BlockHeader            = types.BlockHeader
	BlockReceipt           = types.BlockReceipt
	Record                 = framing.Record
)

// Re-export interfaces from the types package for convenience.
type (
	Transport         = types.Transport
	Authority         = types.Authority
	AssignmentHistory = types.AssignmentHistory
	ServerSource      = types.ServerSource
	BlockRouter       = types.BlockRouter
	Partitioner       = types.Partitioner
	MetricsCollector  = types.MetricsCollector
	Logger            = types.Logger
	Hooks             = types.Hooks
)

// Re-export PartitionState constants.
const (
	StateAssigned          = types.StateAssigned
	StateFailureDetected   = types.StateFailureDetected
	StateReassignRequested = types.StateReassignRequested
	StateReassigned        = types.StateReassigned
	StateSplit             = types.StateSplit
)

// Re-export ReassignStatus constants.
const (
	ReassignAccepted  = types.ReassignAccepted
	ReassignStale     = types.ReassignStale
	ReassignUnchanged = types.ReassignUnchanged
)

// StorageAny leaves the storage tier of a locator unset.
const StorageAny = types.StorageAny

// NewReadLocator creates a locator that searches all tiers in the default order.
func NewReadLocator(appID string, shuffleID, partitionID, startPartition int32) ReadLocator {
	return types.NewReadLocator(appID, shuffleID, partitionID, startPartition)
}
