package tier

import (
	"context"
	"fmt"
	"io"

	"github.com/arloliu/rshuffle/types"
)

// Built-in storage tiers.
const (
	// StorageMemory keeps blocks in process memory.
	StorageMemory types.StorageID = 0
	// StorageLocal keeps blocks on local disk.
	StorageLocal types.StorageID = 1
	// StorageRemote keeps blocks on remote persistent storage such as S3.
	StorageRemote types.StorageID = 2
)

// DefaultSearchOrder is the tier order used when a locator has no storage ID.
var DefaultSearchOrder = []types.StorageID{StorageMemory, StorageLocal, StorageRemote}

// Segment identifies the physical range a block is stored under.
type Segment struct {
	AppID          string
	ShuffleID      int32
	StartPartition int32
}

func (s Segment) String() string {
	return fmt.Sprintf("%s/%d/%d", s.AppID, s.ShuffleID, s.StartPartition)
}

// Backend is one storage tier.
//
// Blocks are immutable once Put returns. Putting the same block again
// replaces it, which makes resends after an ambiguous failure harmless.
type Backend interface {
	// ID returns the tier selector of the backend.
	ID() types.StorageID

	// Put stores the framed block of partition under seg.
	Put(ctx context.Context, seg Segment, partition int32, block types.BlockID, data []byte) error

	// Open returns the framed bytes of block, or types.ErrBlockNotFound.
	Open(ctx context.Context, seg Segment, partition int32, block types.BlockID) (io.ReadCloser, error)

	// List returns the blocks of partition under seg in ascending order.
	List(ctx context.Context, seg Segment, partition int32) ([]types.BlockID, error)
}

func blockNotFound(seg Segment, partition int32, block types.BlockID) error {
	return fmt.Errorf("%w: %s partition %d block %s", types.ErrBlockNotFound, seg, partition, block)
}

func compareBlocks(a, b types.BlockID) int {
	switch {
	case a.TaskAttemptID != b.TaskAttemptID:
		if a.TaskAttemptID < b.TaskAttemptID {
			return -1
		}
		return 1
	case a.Sequence != b.Sequence:
		if a.Sequence < b.Sequence {
			return -1
		}
		return 1
	}

	return 0
}
