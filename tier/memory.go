package tier

import (
	"bytes"
	"context"
	"io"
	"slices"
	"sync"

	"github.com/arloliu/rshuffle/types"
)

type partitionRef struct {
	seg       Segment
	partition int32
}

// MemoryBackend keeps blocks in memory.
type MemoryBackend struct {
	id types.StorageID

	mu     sync.Mutex
	blocks map[partitionRef]map[types.BlockID][]byte
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates a memory tier with the given storage ID.
func NewMemoryBackend(id types.StorageID) *MemoryBackend {
	return &MemoryBackend{
		id:     id,
		blocks: make(map[partitionRef]map[types.BlockID][]byte),
	}
}

// ID implements Backend.
func (m *MemoryBackend) ID() types.StorageID { return m.id }

// Put implements Backend.
func (m *MemoryBackend) Put(_ context.Context, seg Segment, partition int32, block types.BlockID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := partitionRef{seg: seg, partition: partition}
	if m.blocks[ref] == nil {
		m.blocks[ref] = make(map[types.BlockID][]byte)
	}
	m.blocks[ref][block] = bytes.Clone(data)

	return nil
}

// Open implements Backend.
func (m *MemoryBackend) Open(_ context.Context, seg Segment, partition int32, block types.BlockID) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blocks[partitionRef{seg: seg, partition: partition}][block]
	if !ok {
		return nil, blockNotFound(seg, partition, block)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// List implements Backend.
func (m *MemoryBackend) List(_ context.Context, seg Segment, partition int32) ([]types.BlockID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blocks := m.blocks[partitionRef{seg: seg, partition: partition}]
	out := make([]types.BlockID, 0, len(blocks))
	for id := range blocks {
		out = append(out, id)
	}
	slices.SortFunc(out, compareBlocks)

	return out, nil
}
