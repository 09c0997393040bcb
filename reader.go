package rshuffle

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/arloliu/rshuffle/framing"
	"github.com/arloliu/rshuffle/tier"
)

// ShuffleReader reads blocks back by locator.
//
// Each block is resolved against the assignment version recorded in its
// receipt, so blocks written before a reassignment are read from the
// servers that received them.
type ShuffleReader struct {
	appID    string
	layout   tier.Layout
	codec    framing.Codec
	resolver *tier.Resolver
	logger   Logger
}

// NewShuffleReader creates a reader.
//
// Parameters:
//   - cfg: Configuration; defaults are applied to a copy
//   - history: Source of past assignment versions (authority or NATS client)
//   - dir: Tier registries of the shuffle servers
//   - opts: Optional Logger
//
// Returns:
//   - *ShuffleReader: Reader
//   - error: ErrInvalidConfig for invalid configuration or missing collaborators
func NewShuffleReader(cfg *Config, history AssignmentHistory, dir tier.Directory, opts ...Option) (*ShuffleReader, error) {
	if history == nil || dir == nil {
		return nil, fmt.Errorf("%w: assignment history and directory are required", ErrInvalidConfig)
	}

	c, err := prepare(cfg)
	if err != nil {
		return nil, err
	}

	codec, err := framing.Lookup(c.Client.Codec)
	if err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	layout := c.Layout()

	return &ShuffleReader{
		appID:    c.AppID,
		layout:   layout,
		codec:    codec,
		resolver: tier.NewResolver(history, dir, layout),
		logger:   o.logger,
	}, nil
}

// Locator returns the locator of the partition a block belongs to, searching
// every tier in the default order.
func (r *ShuffleReader) Locator(block BlockID) ReadLocator {
	return r.layout.Locator(r.appID, block.Key.ShuffleID, block.Key.PartitionID)
}

// Locations returns the candidate locations of the block described by receipt.
func (r *ShuffleReader) Locations(ctx context.Context, receipt BlockReceipt) ([]tier.Location, error) {
	return r.resolver.Resolve(ctx, r.Locator(receipt.Block), receipt.AssignmentVersion)
}

// ReadBlock reads the records of the block described by receipt.
func (r *ShuffleReader) ReadBlock(ctx context.Context, receipt BlockReceipt) ([]Record, error) {
	records, err := r.Read(ctx, r.Locator(receipt.Block), receipt.AssignmentVersion, receipt.Block)
	if err != nil {
		return nil, err
	}
	if receipt.Records > 0 && int64(len(records)) != receipt.Records {
		return nil, fmt.Errorf("%w: block %s has %d records, receipt says %d",
			ErrCorruptStream, receipt.Block, len(records), receipt.Records)
	}

	return records, nil
}

// Read resolves loc at the given assignment version and parses block.
//
// A locator that pins a storage tier is only looked up in that tier.
func (r *ShuffleReader) Read(ctx context.Context, loc ReadLocator, version int64, block BlockID) ([]Record, error) {
	rc, where, err := r.resolver.OpenBlock(ctx, loc, version, block)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	records, err := r.codec.NewReader(rc).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s from %s: %w", block, where, err)
	}

	r.logger.Debug("block read",
		"block", block.String(),
		"location", where.String(),
		"records", len(records),
	)

	return records, nil
}

// ReadPartition reads every block of partition listed in receipts, in task
// attempt then sequence order.
func (r *ShuffleReader) ReadPartition(ctx context.Context, key PartitionKey, receipts []BlockReceipt) ([]Record, error) {
	var mine []BlockReceipt
	for _, rc := range receipts {
		if rc.Block.Key == key {
			mine = append(mine, rc)
		}
	}
	slices.SortFunc(mine, func(a, b BlockReceipt) int {
		if c := cmp.Compare(a.Block.TaskAttemptID, b.Block.TaskAttemptID); c != 0 {
			return c
		}
		return cmp.Compare(a.Block.Sequence, b.Block.Sequence)
	})

	var out []Record
	for _, rc := range mine {
		records, err := r.ReadBlock(ctx, rc)
		if err != nil {
			return out, err
		}
		out = append(out, records...)
	}

	return out, nil
}
