// Package server implements an in-process shuffle server and a transport
// that reaches it.
//
// A ShuffleServer accepts framed blocks, validates them by parsing them back,
// and commits them to the write tier of its registry. A Cluster groups
// servers, implements types.Transport, tier.Directory and
// types.ServerSource over them, and injects crashes and send failures for
// tests and demos.
package server

import (
	"bytes"
	"context"
	"fmt"

	"github.com/arloliu/rshuffle/framing"
	"github.com/arloliu/rshuffle/internal/logging"
	"github.com/arloliu/rshuffle/internal/metrics"
	"github.com/arloliu/rshuffle/tier"
	"github.com/arloliu/rshuffle/types"
)

// ShuffleServer stores blocks for the partitions assigned to it.
type ShuffleServer struct {
	id       types.ServerID
	registry *tier.Registry
	layout   tier.Layout
	codec    framing.Codec
	logger   types.Logger
	metrics  types.MetricsCollector
}

// Option configures a ShuffleServer.
type Option func(*ShuffleServer)

// WithLayout sets the range layout. Default: tier.DefaultLayout.
func WithLayout(l tier.Layout) Option {
	return func(s *ShuffleServer) { s.layout = l }
}

// WithCodec sets the framing codec blocks are validated with. Default: framing.VInt.
func WithCodec(c framing.Codec) Option {
	return func(s *ShuffleServer) { s.codec = c }
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(s *ShuffleServer) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) Option {
	return func(s *ShuffleServer) { s.metrics = m }
}

// New creates a shuffle server storing into registry.
func New(id types.ServerID, registry *tier.Registry, opts ...Option) *ShuffleServer {
	s := &ShuffleServer{
		id:       id,
		registry: registry,
		layout:   tier.DefaultLayout,
		codec:    framing.VInt,
		logger:   logging.NewNop(),
		metrics:  metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// NewMemory creates a shuffle server with a single memory tier.
func NewMemory(id types.ServerID, opts ...Option) *ShuffleServer {
	reg := tier.NewRegistry(nil)
	_ = reg.Register(tier.NewMemoryBackend(tier.StorageMemory))

	return New(id, reg, opts...)
}

// ID returns the server ID.
func (s *ShuffleServer) ID() types.ServerID { return s.id }

// Registry returns the server's tier registry.
func (s *ShuffleServer) Registry() *tier.Registry { return s.registry }

// Accept validates a complete block and commits it.
//
// A block that does not parse, including one missing its sentinel pair, is
// rejected with types.ErrCorruptStream and never stored.
func (s *ShuffleServer) Accept(ctx context.Context, header types.BlockHeader, data []byte) error {
	records, err := s.codec.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		s.logger.Warn("rejecting block",
			"server_id", s.id,
			"block", header.Block.String(),
			"error", err,
		)

		return fmt.Errorf("block %s: %w", header.Block, err)
	}

	backend, err := s.registry.WriteBackend()
	if err != nil {
		return err
	}

	key := header.Block.Key
	if err := backend.Put(ctx, s.layout.Segment(header.AppID, key), key.PartitionID, header.Block, data); err != nil {
		return fmt.Errorf("store block %s: %w", header.Block, err)
	}

	s.metrics.RecordBlockStored(backend.ID(), int64(len(data)))
	s.logger.Debug("block stored",
		"server_id", s.id,
		"block", header.Block.String(),
		"storage_id", backend.ID(),
		"records", len(records),
		"bytes", len(data),
	)

	return nil
}
