package assignment

import (
	"context"
	"fmt"
	"slices"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/rshuffle/types"
)

// MemoryStore is an in-process Store.
//
// Histories are copy-on-write: a stored *history is never mutated, so Load
// needs no lock and readers never see a partially applied update.
type MemoryStore struct {
	entries *xsync.Map[types.PartitionKey, *history]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: xsync.NewMap[types.PartitionKey, *history]()}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key types.PartitionKey) (types.Assignment, error) {
	h, ok := s.entries.Load(key)
	if !ok {
		return types.Assignment{}, fmt.Errorf("%w: %s", types.ErrAssignmentNotFound, key)
	}

	return h.latest().Clone(), nil
}

// GetOrCreate implements Store.
func (s *MemoryStore) GetOrCreate(_ context.Context, key types.PartitionKey, init InitFunc) (types.Assignment, bool, error) {
	var (
		created bool
		initErr error
	)

	h, _ := s.entries.Compute(key, func(old *history, loaded bool) (*history, xsync.ComputeOp) {
		if loaded {
			return old, xsync.CancelOp
		}

		first, err := initial(key, init)
		if err != nil {
			initErr = err
			return nil, xsync.CancelOp
		}
		created = true

		return &history{Versions: []types.Assignment{first}}, xsync.UpdateOp
	})
	if initErr != nil {
		return types.Assignment{}, false, initErr
	}

	return h.latest().Clone(), created, nil
}

// Apply implements Store.
func (s *MemoryStore) Apply(_ context.Context, key types.PartitionKey, token types.Token, replace ReplaceFunc) (Result, error) {
	var (
		res      Result
		applyErr error
	)

	s.entries.Compute(key, func(old *history, loaded bool) (*history, xsync.ComputeOp) {
		if !loaded {
			applyErr = fmt.Errorf("%w: %s", types.ErrAssignmentNotFound, key)
			return old, xsync.CancelOp
		}

		status, a, err := advance(old.latest(), token, replace)
		if err != nil {
			applyErr = err
			return old, xsync.CancelOp
		}

		res = Result{Status: status, Assignment: a.Clone()}
		if status != types.ReassignAccepted {
			return old, xsync.CancelOp
		}

		return &history{Versions: append(slices.Clip(old.Versions), a)}, xsync.UpdateOp
	})
	if applyErr != nil {
		return Result{}, applyErr
	}

	return res, nil
}

// At implements Store.
func (s *MemoryStore) At(_ context.Context, key types.PartitionKey, version int64) (types.Assignment, error) {
	h, ok := s.entries.Load(key)
	if !ok {
		return types.Assignment{}, fmt.Errorf("%w: %s", types.ErrAssignmentNotFound, key)
	}

	return h.at(key, version)
}

// History implements Store.
func (s *MemoryStore) History(_ context.Context, key types.PartitionKey) ([]types.Assignment, error) {
	h, ok := s.entries.Load(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrAssignmentNotFound, key)
	}

	return h.clone(), nil
}

// Len returns the number of partitions with an assignment.
func (s *MemoryStore) Len() int {
	return s.entries.Size()
}
