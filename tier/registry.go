package tier

import (
	"fmt"
	"slices"
	"sync"

	"github.com/arloliu/rshuffle/types"
)

// Registry holds the tier backends of one shuffle server, keyed by storage ID.
type Registry struct {
	mu          sync.RWMutex
	backends    map[types.StorageID]Backend
	searchOrder []types.StorageID
	writeTier   types.StorageID
	hasWrite    bool
}

// NewRegistry creates an empty registry searching tiers in order.
// A nil order selects DefaultSearchOrder.
func NewRegistry(order []types.StorageID) *Registry {
	if order == nil {
		order = DefaultSearchOrder
	}

	return &Registry{
		backends:    make(map[types.StorageID]Backend),
		searchOrder: slices.Clone(order),
	}
}

// Register adds b. The first registered backend becomes the write tier
// unless SetWriteTier is called. A tier missing from the search order is
// searched last.
func (r *Registry) Register(b Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.backends[b.ID()]; ok {
		return fmt.Errorf("storage tier %d already registered", b.ID())
	}
	r.backends[b.ID()] = b
	if !slices.Contains(r.searchOrder, b.ID()) {
		r.searchOrder = append(r.searchOrder, b.ID())
	}
	if !r.hasWrite {
		r.writeTier, r.hasWrite = b.ID(), true
	}

	return nil
}

// SetWriteTier selects the backend that receives new blocks.
func (r *Registry) SetWriteTier(id types.StorageID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.backends[id]; !ok {
		return fmt.Errorf("%w: %d", types.ErrUnknownStorage, id)
	}
	r.writeTier, r.hasWrite = id, true

	return nil
}

// Get returns the backend registered under id.
func (r *Registry) Get(id types.StorageID) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", types.ErrUnknownStorage, id)
	}

	return b, nil
}

// WriteBackend returns the backend that receives new blocks.
func (r *Registry) WriteBackend() (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.hasWrite {
		return nil, fmt.Errorf("%w: no storage tier registered", types.ErrUnknownStorage)
	}

	return r.backends[r.writeTier], nil
}

// Candidates returns the backends to consult for loc: the selected tier when
// loc names one, otherwise every registered tier in search order.
func (r *Registry) Candidates(loc types.ReadLocator) ([]Backend, error) {
	if loc.HasStorage() {
		b, err := r.Get(loc.StorageID)
		if err != nil {
			return nil, err
		}

		return []Backend{b}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Backend, 0, len(r.backends))
	for _, id := range r.searchOrder {
		if b, ok := r.backends[id]; ok {
			out = append(out, b)
		}
	}

	return out, nil
}
