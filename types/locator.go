package types

import "fmt"

// StorageID selects a storage tier backend.
type StorageID int32

// StorageAny means the tier is unset and tiers are searched in the default order.
const StorageAny StorageID = -1

// ReadLocator identifies one logical block for retrieval.
//
// PartitionID is the caller's logical partition. StartPartition is the anchor of
// the physical range the partition was stored under and is the key used for
// storage addressing. A ReadLocator is a value; it carries no resolution logic.
type ReadLocator struct {
	AppID          string    `json:"appId"`
	ShuffleID      int32     `json:"shuffleId"`
	PartitionID    int32     `json:"partitionId"`
	StartPartition int32     `json:"startPartition"`
	StorageID      StorageID `json:"storageId"`
}

// NewReadLocator creates a locator that searches all tiers in default order.
func NewReadLocator(appID string, shuffleID, partitionID, startPartition int32) ReadLocator {
	return ReadLocator{
		AppID:          appID,
		ShuffleID:      shuffleID,
		PartitionID:    partitionID,
		StartPartition: startPartition,
		StorageID:      StorageAny,
	}
}

// WithStorage returns a copy of l pinned to the given tier.
func (l ReadLocator) WithStorage(id StorageID) ReadLocator {
	l.StorageID = id
	return l
}

// HasStorage reports whether the locator selects a specific tier.
func (l ReadLocator) HasStorage() bool {
	return l.StorageID != StorageAny
}

// Key returns the assignment key of the logical partition.
func (l ReadLocator) Key() PartitionKey {
	return PartitionKey{ShuffleID: l.ShuffleID, PartitionID: l.PartitionID}
}

func (l ReadLocator) String() string {
	return fmt.Sprintf("%s/%d/%d@%d(storage=%d)", l.AppID, l.ShuffleID, l.PartitionID, l.StartPartition, l.StorageID)
}

// BlockID uniquely names a block written by one task attempt.
type BlockID struct {
	Key           PartitionKey `json:"key"`
	TaskAttemptID int64        `json:"taskAttemptId"`
	Sequence      int32        `json:"sequence"`
}

func (b BlockID) String() string {
	return fmt.Sprintf("%d-%d-%d-%d", b.Key.ShuffleID, b.Key.PartitionID, b.TaskAttemptID, b.Sequence)
}

// BlockReceipt describes a block that has been shipped.
//
// AssignmentVersion is the assignment version that was active when the block
// was written; readers resolve the block against that version.
type BlockReceipt struct {
	Block             BlockID    `json:"block"`
	AssignmentVersion int64      `json:"assignmentVersion"`
	Servers           []ServerID `json:"servers"`
	Bytes             int64      `json:"bytes"`
	Records           int64      `json:"records"`
}
