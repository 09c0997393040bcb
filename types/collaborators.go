package types

import (
	"context"
	"io"
)

// BlockHeader is sent ahead of a framed block.
type BlockHeader struct {
	AppID string  `json:"appId"`
	Block BlockID `json:"block"`
}

// Transport is the reliable byte-stream collaborator used to ship framed blocks.
//
// Open returns a stream for one block. The stream is committed on Close; a
// Close error means the server did not accept the block.
type Transport interface {
	Open(ctx context.Context, server ServerID, header BlockHeader) (io.WriteCloser, error)
}

// Authority is the accepting authority of the reassignment protocol.
type Authority interface {
	// Assignment returns the current assignment of key, creating it on first use.
	Assignment(ctx context.Context, key PartitionKey) (Assignment, error)

	// Reassign applies a failure report and returns the per-partition outcome.
	//
	// Returns ErrCapacityExhausted when no replacement server exists and
	// ErrInvalidRequest for malformed requests. A stale request is not an
	// error; its result carries ReassignStale.
	Reassign(ctx context.Context, req *ReassignRequest) (*ReassignResponse, error)
}

// AssignmentHistory gives read access to past assignment versions.
type AssignmentHistory interface {
	// At returns the assignment of key as of the given version.
	At(ctx context.Context, key PartitionKey, version int64) (Assignment, error)
}

// ServerSource lists the shuffle servers currently able to receive blocks.
type ServerSource interface {
	LiveServers(ctx context.Context) ([]ServerID, error)
}
