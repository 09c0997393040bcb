package types

// BlockRouter picks the target server of a block written to a split partition.
//
// Implementations must be safe for concurrent use and must return one of
// servers. servers is never empty.
type BlockRouter interface {
	Route(block BlockID, servers []ServerID) ServerID
}

// Partitioner maps a record key to its partition.
type Partitioner interface {
	Partition(key []byte) int32
	NumPartitions() int32
}
