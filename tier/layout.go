package tier

import (
	"fmt"

	"github.com/arloliu/rshuffle/types"
)

// Layout is the merging policy of physical ranges.
type Layout struct {
	// PartitionsPerRange is the width of one physical range. Values below 1
	// are treated as 1.
	PartitionsPerRange int32
}

// DefaultLayout stores every partition in its own range.
var DefaultLayout = Layout{PartitionsPerRange: 1}

func (l Layout) width() int32 {
	if l.PartitionsPerRange < 1 {
		return 1
	}

	return l.PartitionsPerRange
}

// RangeStart returns the anchor of the range holding partition.
func (l Layout) RangeStart(partition int32) int32 {
	return partition - partition%l.width()
}

// Contains reports whether partition belongs to the range anchored at start.
func (l Layout) Contains(start, partition int32) bool {
	return start == l.RangeStart(partition)
}

// Segment returns the write segment of key for app.
func (l Layout) Segment(appID string, key types.PartitionKey) Segment {
	return Segment{AppID: appID, ShuffleID: key.ShuffleID, StartPartition: l.RangeStart(key.PartitionID)}
}

// Locator returns the locator reading partition back, searching all tiers.
func (l Layout) Locator(appID string, shuffleID, partition int32) types.ReadLocator {
	return types.NewReadLocator(appID, shuffleID, partition, l.RangeStart(partition))
}

// Validate checks that loc's range anchor is consistent with this layout.
func (l Layout) Validate(loc types.ReadLocator) error {
	if loc.PartitionID < 0 || loc.StartPartition < 0 {
		return fmt.Errorf("%w: negative partition in %s", types.ErrInvalidRequest, loc)
	}
	if !l.Contains(loc.StartPartition, loc.PartitionID) {
		return fmt.Errorf("%w: partition %d is not in range %d (width %d)",
			types.ErrInvalidRequest, loc.PartitionID, loc.StartPartition, l.width())
	}

	return nil
}

// SegmentOf returns the segment loc addresses.
func SegmentOf(loc types.ReadLocator) Segment {
	return Segment{AppID: loc.AppID, ShuffleID: loc.ShuffleID, StartPartition: loc.StartPartition}
}
