package strategy

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"

	"github.com/arloliu/rshuffle/types"
)

// HashRouter routes a block by the xxh3 hash of its ID.
type HashRouter struct {
	seed uint64
}

var _ types.BlockRouter = (*HashRouter)(nil)

// NewHashRouter creates a hash router.
//
// Parameters:
//   - seed: hash seed (0 for the unseeded hash)
//
// Example:
//
//	router := strategy.NewHashRouter(0)
//	target := router.Route(block, assignment.Servers)
func NewHashRouter(seed uint64) *HashRouter {
	return &HashRouter{seed: seed}
}

// Route implements types.BlockRouter.
func (r *HashRouter) Route(block types.BlockID, servers []types.ServerID) types.ServerID {
	var buf [20]byte
	binary.BigEndian.PutUint32(buf[0:], uint32(block.Key.ShuffleID))   //nolint:gosec
	binary.BigEndian.PutUint32(buf[4:], uint32(block.Key.PartitionID)) //nolint:gosec
	binary.BigEndian.PutUint64(buf[8:], uint64(block.TaskAttemptID))   //nolint:gosec
	binary.BigEndian.PutUint32(buf[16:], uint32(block.Sequence))       //nolint:gosec

	var h uint64
	if r.seed != 0 {
		h = xxh3.HashSeed(buf[:], r.seed)
	} else {
		h = xxh3.Hash(buf[:])
	}

	return servers[h%uint64(len(servers))]
}
