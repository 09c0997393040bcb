package strategy

import (
	"github.com/spaolacci/murmur3"

	"github.com/arloliu/rshuffle/types"
)

// Murmur3Partitioner maps keys to partitions by murmur3 hash modulo the
// partition count.
type Murmur3Partitioner struct {
	partitions int32
	seed       uint32
}

var _ types.Partitioner = (*Murmur3Partitioner)(nil)

// NewMurmur3Partitioner creates a partitioner over n partitions.
// n must be positive.
func NewMurmur3Partitioner(n int32, seed uint32) *Murmur3Partitioner {
	if n <= 0 {
		panic("strategy: partition count must be positive")
	}

	return &Murmur3Partitioner{partitions: n, seed: seed}
}

// Partition implements types.Partitioner.
func (p *Murmur3Partitioner) Partition(key []byte) int32 {
	return int32(murmur3.Sum32WithSeed(key, p.seed) % uint32(p.partitions)) //nolint:gosec
}

// NumPartitions implements types.Partitioner.
func (p *Murmur3Partitioner) NumPartitions() int32 {
	return p.partitions
}
