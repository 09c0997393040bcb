package types

import (
	"fmt"
	"slices"
)

// ServerID identifies a shuffle server (typically "host:port").
type ServerID string

// PartitionKey identifies one partition of one shuffle.
type PartitionKey struct {
	ShuffleID   int32 `json:"shuffleId"`
	PartitionID int32 `json:"partitionId"`
}

// String returns the key as "shuffle/partition".
func (k PartitionKey) String() string {
	return fmt.Sprintf("%d/%d", k.ShuffleID, k.PartitionID)
}

// Token is the freshness token of the task attempt that last advanced an assignment.
//
// Tokens are ordered by stage attempt number first, then by task attempt ID.
type Token struct {
	StageAttempt int32 `json:"stageAttempt"`
	TaskAttempt  int64 `json:"taskAttempt"`
}

// Compare returns -1, 0 or +1 depending on whether t is older than, equal to,
// or newer than o.
func (t Token) Compare(o Token) int {
	switch {
	case t.StageAttempt < o.StageAttempt:
		return -1
	case t.StageAttempt > o.StageAttempt:
		return 1
	case t.TaskAttempt < o.TaskAttempt:
		return -1
	case t.TaskAttempt > o.TaskAttempt:
		return 1
	}

	return 0
}

// OlderThan reports whether t is strictly older than o.
func (t Token) OlderThan(o Token) bool {
	return t.Compare(o) < 0
}

func (t Token) String() string {
	return fmt.Sprintf("stage_attempt=%d task_attempt=%d", t.StageAttempt, t.TaskAttempt)
}

// Assignment is one version of the server set of a partition.
//
// Version starts at 1 and increases by one per accepted reassignment. When
// Split is true the partition is fanned out and each block goes to exactly one
// server of Servers; otherwise every server of Servers is a replica.
type Assignment struct {
	Key     PartitionKey `json:"key"`
	Servers []ServerID   `json:"servers"`
	Token   Token        `json:"token"`
	Version int64        `json:"version"`
	Split   bool         `json:"split"`
}

// Contains reports whether server belongs to the assignment.
func (a Assignment) Contains(server ServerID) bool {
	return slices.Contains(a.Servers, server)
}

// Clone returns a deep copy of the assignment.
func (a Assignment) Clone() Assignment {
	a.Servers = slices.Clone(a.Servers)
	return a
}

func sortedPartitionIDs[V any](m map[int32]V) []int32 {
	ids := make([]int32, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}
