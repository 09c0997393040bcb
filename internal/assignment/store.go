package assignment

import (
	"context"
	"errors"
	"fmt"

	"github.com/arloliu/rshuffle/types"
)

// ErrNoChange may be returned by a ReplaceFunc when the current assignment
// already satisfies the request. Apply then reports ReassignUnchanged for the
// token that owns the assignment, and records a new version with the same
// servers for a newer token.
var ErrNoChange = errors.New("assignment already up to date")

// InitFunc builds the first version of an absent assignment.
type InitFunc func() (types.Assignment, error)

// ReplaceFunc computes the next server set from the current assignment.
//
// It runs inside the per-key ordering point and must not call back into the
// store for the same key. Optimistic stores may call it more than once per
// Apply, so it must not have side effects.
type ReplaceFunc func(current types.Assignment) (servers []types.ServerID, split bool, err error)

// Result is the outcome of Apply.
type Result struct {
	Status     types.ReassignStatus
	Assignment types.Assignment
}

// Store is a versioned assignment map keyed by partition.
type Store interface {
	// Get returns the latest version of key, or types.ErrAssignmentNotFound.
	Get(ctx context.Context, key types.PartitionKey) (types.Assignment, error)

	// GetOrCreate returns the latest version of key, creating version 1 with
	// init when the key is absent. created reports whether init's result was stored.
	GetOrCreate(ctx context.Context, key types.PartitionKey, init InitFunc) (a types.Assignment, created bool, err error)

	// Apply advances key to a new version when token is not older than the
	// stored token. The stored token never moves backwards.
	Apply(ctx context.Context, key types.PartitionKey, token types.Token, replace ReplaceFunc) (Result, error)

	// At returns the given version of key.
	At(ctx context.Context, key types.PartitionKey, version int64) (types.Assignment, error)

	// History returns every version of key, oldest first.
	History(ctx context.Context, key types.PartitionKey) ([]types.Assignment, error)
}

// history is the stored form of one key: all versions in order, version i+1 at index i.
type history struct {
	Versions []types.Assignment `json:"versions"`
}

func (h *history) latest() types.Assignment {
	return h.Versions[len(h.Versions)-1]
}

func (h *history) at(key types.PartitionKey, version int64) (types.Assignment, error) {
	if version < 1 || version > int64(len(h.Versions)) {
		return types.Assignment{}, fmt.Errorf("%w: %s version %d", types.ErrAssignmentNotFound, key, version)
	}

	return h.Versions[version-1].Clone(), nil
}

func (h *history) clone() []types.Assignment {
	out := make([]types.Assignment, len(h.Versions))
	for i, a := range h.Versions {
		out[i] = a.Clone()
	}

	return out
}

// initial validates and normalizes the first version produced by init.
func initial(key types.PartitionKey, init InitFunc) (types.Assignment, error) {
	a, err := init()
	if err != nil {
		return types.Assignment{}, err
	}
	if len(a.Servers) == 0 {
		return types.Assignment{}, fmt.Errorf("%w: initial assignment for %s has no servers", types.ErrCapacityExhausted, key)
	}

	a = a.Clone()
	a.Key = key
	a.Version = 1

	return a, nil
}

// advance applies the freshness rule and replace to current.
//
// It returns the status and the assignment to report; next is only meaningful
// when status is ReassignAccepted.
func advance(current types.Assignment, token types.Token, replace ReplaceFunc) (types.ReassignStatus, types.Assignment, error) {
	if token.OlderThan(current.Token) {
		return types.ReassignStale, current, nil
	}

	servers, split, err := replace(current.Clone())
	switch {
	case errors.Is(err, ErrNoChange):
		if token.Compare(current.Token) == 0 {
			return types.ReassignUnchanged, current, nil
		}
		// A newer attempt takes over the assignment even when an older one
		// already removed the servers it reports.
		servers, split = current.Servers, current.Split
	case err != nil:
		return 0, types.Assignment{}, err
	}
	if len(servers) == 0 {
		return 0, types.Assignment{}, fmt.Errorf("%w: no servers for %s", types.ErrCapacityExhausted, current.Key)
	}

	next := types.Assignment{
		Key:     current.Key,
		Servers: append([]types.ServerID(nil), servers...),
		Token:   token,
		Version: current.Version + 1,
		Split:   split,
	}

	return types.ReassignAccepted, next, nil
}
