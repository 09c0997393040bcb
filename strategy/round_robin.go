package strategy

import (
	"sync/atomic"

	"github.com/arloliu/rshuffle/types"
)

// RoundRobinRouter routes consecutive blocks to consecutive servers.
type RoundRobinRouter struct {
	next atomic.Uint64
}

var _ types.BlockRouter = (*RoundRobinRouter)(nil)

// NewRoundRobinRouter creates a new round-robin router.
//
// The counter is shared by every partition the router serves, so the
// rotation is even across the whole writer rather than per partition.
func NewRoundRobinRouter() *RoundRobinRouter {
	return &RoundRobinRouter{}
}

// Route implements types.BlockRouter.
func (r *RoundRobinRouter) Route(_ types.BlockID, servers []types.ServerID) types.ServerID {
	n := r.next.Add(1) - 1
	return servers[n%uint64(len(servers))]
}
