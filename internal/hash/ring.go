// Package hash implements the consistent hash ring used to place partitions on
// shuffle servers.
package hash

import (
	"encoding/binary"
	"slices"

	"github.com/zeebo/xxh3"

	"github.com/arloliu/rshuffle/types"
)

// Ring implements a consistent hash ring with virtual nodes.
//
// Placing partitions by consistent hashing keeps replacement choices stable
// when servers join or leave: only partitions owned by the changed server move.
type Ring struct {
	// nodes contains all virtual nodes on the ring, sorted by hash
	nodes []virtualNode

	// servers holds the unique list of servers present on the ring
	servers []types.ServerID

	// seed for hash function (0 means no seed)
	seed uint64
}

type virtualNode struct {
	hash      uint64
	serverIdx int
}

// NewRing creates a new consistent hash ring.
//
// Parameters:
//   - servers: server IDs to place on the ring (duplicates are ignored)
//   - virtualNodesPerServer: virtual nodes per server (higher = better distribution)
//   - seed: hash seed (0 for the unseeded hash)
//
// Example:
//
//	ring := hash.NewRing([]types.ServerID{"s1:19999", "s2:19999"}, 150, 0)
//	targets := ring.GetNodes("5/3", 1, nil)
func NewRing(servers []types.ServerID, virtualNodesPerServer int, seed uint64) *Ring {
	uniq := make([]types.ServerID, 0, len(servers))
	seen := make(map[types.ServerID]struct{}, len(servers))
	for _, s := range servers {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		uniq = append(uniq, s)
	}

	ring := &Ring{
		nodes:   make([]virtualNode, 0, len(uniq)*virtualNodesPerServer),
		servers: uniq,
		seed:    seed,
	}
	for i, s := range ring.servers {
		ring.addServer(s, i, virtualNodesPerServer)
	}

	slices.SortFunc(ring.nodes, func(a, b virtualNode) int {
		switch {
		case a.hash < b.hash:
			return -1
		case a.hash > b.hash:
			return 1
		}

		return 0
	})

	return ring
}

// GetNode returns the server responsible for key, or "" for an empty ring.
func (r *Ring) GetNode(key string) types.ServerID {
	nodes := r.GetNodes(key, 1, nil)
	if len(nodes) == 0 {
		return ""
	}

	return nodes[0]
}

// GetNodes walks the ring clockwise from key and returns up to n distinct
// servers, skipping any server for which exclude returns true.
//
// Fewer than n servers are returned when the ring does not hold enough
// eligible servers.
func (r *Ring) GetNodes(key string, n int, exclude func(types.ServerID) bool) []types.ServerID {
	if n <= 0 || len(r.nodes) == 0 {
		return nil
	}

	start := r.search(r.hash(key))
	picked := make([]types.ServerID, 0, n)
	used := make([]bool, len(r.servers))

	for i := 0; i < len(r.nodes) && len(picked) < n; i++ {
		node := r.nodes[(start+i)%len(r.nodes)]
		if used[node.serverIdx] {
			continue
		}
		used[node.serverIdx] = true

		server := r.servers[node.serverIdx]
		if exclude != nil && exclude(server) {
			continue
		}
		picked = append(picked, server)
	}

	return picked
}

// Servers returns a copy of the unique servers on the ring.
func (r *Ring) Servers() []types.ServerID {
	return slices.Clone(r.servers)
}

// Size returns the total number of virtual nodes on the ring.
func (r *Ring) Size() int {
	return len(r.nodes)
}

func (r *Ring) addServer(server types.ServerID, idx int, virtualNodes int) {
	base := r.hash(string(server))
	for i := range virtualNodes {
		// Fold the vnode index into the server hash instead of hashing a
		// concatenated string.
		var ib [8]byte
		binary.LittleEndian.PutUint64(ib[:], uint64(i)) //nolint:gosec
		r.nodes = append(r.nodes, virtualNode{
			hash:      xxh3.HashSeed(ib[:], base),
			serverIdx: idx,
		})
	}
}

func (r *Ring) hash(key string) uint64 {
	if r.seed != 0 {
		return xxh3.HashStringSeed(key, r.seed)
	}

	return xxh3.HashString(key)
}

// search returns the index of the first virtual node whose hash is >= target,
// wrapping to 0.
func (r *Ring) search(target uint64) int {
	idx, _ := slices.BinarySearchFunc(r.nodes, target, func(node virtualNode, t uint64) int {
		switch {
		case node.hash < t:
			return -1
		case node.hash > t:
			return 1
		}

		return 0
	})
	if idx >= len(r.nodes) {
		idx = 0
	}

	return idx
}
