package tier

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/arloliu/rshuffle/types"
)

// Directory returns the tier registry of a shuffle server.
type Directory interface {
	Registry(server types.ServerID) (*Registry, error)
}

// Location is one physical place a block may be read from.
type Location struct {
	Server    types.ServerID
	Backend   Backend
	Segment   Segment
	Partition int32
}

// Open opens block at this location.
func (l Location) Open(ctx context.Context, block types.BlockID) (io.ReadCloser, error) {
	return l.Backend.Open(ctx, l.Segment, l.Partition, block)
}

// List lists the blocks stored at this location.
func (l Location) List(ctx context.Context) ([]types.BlockID, error) {
	return l.Backend.List(ctx, l.Segment, l.Partition)
}

func (l Location) String() string {
	return fmt.Sprintf("%s@%s[storage=%d]/p%d", l.Segment, l.Server, l.Backend.ID(), l.Partition)
}

// Resolver maps read locators to locations.
type Resolver struct {
	history types.AssignmentHistory
	dir     Directory
	layout  Layout
}

// NewResolver creates a Resolver.
func NewResolver(history types.AssignmentHistory, dir Directory, layout Layout) *Resolver {
	return &Resolver{history: history, dir: dir, layout: layout}
}

// Resolve returns the candidate locations of loc under the given assignment
// version, in server order then tier search order.
//
// version is the version that was active when the block was written; the
// servers of newer versions are not consulted. Servers that are no longer
// reachable through the directory, or that lack a pinned tier, are skipped.
func (r *Resolver) Resolve(ctx context.Context, loc types.ReadLocator, version int64) ([]Location, error) {
	if err := r.layout.Validate(loc); err != nil {
		return nil, err
	}

	a, err := r.history.At(ctx, loc.Key(), version)
	if err != nil {
		return nil, err
	}

	seg := SegmentOf(loc)
	var out []Location
	var lastErr error
	for _, server := range a.Servers {
		reg, err := r.dir.Registry(server)
		if err != nil {
			lastErr = err
			continue
		}

		backends, err := reg.Candidates(loc)
		if err != nil {
			lastErr = fmt.Errorf("server %s: %w", server, err)
			continue
		}
		for _, b := range backends {
			out = append(out, Location{Server: server, Backend: b, Segment: seg, Partition: loc.PartitionID})
		}
	}
	if len(out) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: no usable server for %s at version %d: %w", types.ErrBlockNotFound, loc, version, lastErr)
		}

		return nil, fmt.Errorf("%w: no tier for %s at version %d", types.ErrBlockNotFound, loc, version)
	}

	return out, nil
}

// OpenBlock resolves loc at version and opens block at the first location
// that holds it.
func (r *Resolver) OpenBlock(ctx context.Context, loc types.ReadLocator, version int64, block types.BlockID) (io.ReadCloser, Location, error) {
	locations, err := r.Resolve(ctx, loc, version)
	if err != nil {
		return nil, Location{}, err
	}

	for _, l := range locations {
		rc, err := l.Open(ctx, block)
		if err == nil {
			return rc, l, nil
		}
		if !errors.Is(err, types.ErrBlockNotFound) {
			return nil, Location{}, fmt.Errorf("open %s at %s: %w", block, l, err)
		}
	}

	return nil, Location{}, fmt.Errorf("%w: %s in %s at version %d", types.ErrBlockNotFound, block, loc, version)
}
