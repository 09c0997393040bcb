// Package strategy provides the write-path routing policies.
//
// When a partition is split across several servers, each block goes to
// exactly one of them. The package includes two block routers:
//
//   - HashRouter: hashes the block ID with xxh3, so the same block always
//     lands on the same server of a given set (retries stay sticky)
//   - RoundRobinRouter: rotates through the set with an atomic counter,
//     which spreads load evenly when block sizes are similar
//
// It also provides Murmur3Partitioner, which maps record keys to partitions
// before framing.
//
// Custom policies can be implemented by satisfying types.BlockRouter or
// types.Partitioner.
package strategy
