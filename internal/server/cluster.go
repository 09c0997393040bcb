package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/arloliu/rshuffle/tier"
	"github.com/arloliu/rshuffle/types"
)

// Cluster is a set of in-process shuffle servers.
//
// It implements types.Transport, types.ServerSource and tier.Directory.
type Cluster struct {
	mu       sync.Mutex
	servers  map[types.ServerID]*ShuffleServer
	down     map[types.ServerID]bool
	failNext map[types.ServerID]int
	sends    map[types.ServerID]int
}

var (
	_ types.Transport    = (*Cluster)(nil)
	_ types.ServerSource = (*Cluster)(nil)
	_ tier.Directory     = (*Cluster)(nil)
)

// NewCluster creates a cluster of servers.
func NewCluster(servers ...*ShuffleServer) *Cluster {
	c := &Cluster{
		servers:  make(map[types.ServerID]*ShuffleServer),
		down:     make(map[types.ServerID]bool),
		failNext: make(map[types.ServerID]int),
		sends:    make(map[types.ServerID]int),
	}
	for _, s := range servers {
		c.servers[s.ID()] = s
	}

	return c
}

// Add adds a server to the cluster.
func (c *Cluster) Add(s *ShuffleServer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.servers[s.ID()] = s
}

// Server returns the server with the given ID.
func (c *Cluster) Server(id types.ServerID) (*ShuffleServer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.servers[id]

	return s, ok
}

// Fail crashes server: sends fail and it leaves the live set.
func (c *Cluster) Fail(server types.ServerID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.down[server] = true
}

// Recover brings a crashed server back.
func (c *Cluster) Recover(server types.ServerID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.down, server)
}

// FailNext makes the next n sends to server fail while it stays live.
func (c *Cluster) FailNext(server types.ServerID, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failNext[server] = n
}

// Sends returns the number of blocks server accepted.
func (c *Cluster) Sends(server types.ServerID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sends[server]
}

// LiveServers implements types.ServerSource.
func (c *Cluster) LiveServers(context.Context) ([]types.ServerID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.ServerID, 0, len(c.servers))
	for id := range c.servers {
		if !c.down[id] {
			out = append(out, id)
		}
	}
	slices.Sort(out)

	return out, nil
}

// Registry implements tier.Directory. Crashed servers are unreachable.
func (c *Cluster) Registry(server types.ServerID) (*tier.Registry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.servers[server]
	if !ok || c.down[server] {
		return nil, fmt.Errorf("%w: server %s unreachable", types.ErrTransportFailure, server)
	}

	return s.Registry(), nil
}

// Open implements types.Transport.
func (c *Cluster) Open(ctx context.Context, server types.ServerID, header types.BlockHeader) (io.WriteCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.servers[server]; !ok || c.down[server] {
		return nil, fmt.Errorf("%w: connect to %s refused", types.ErrTransportFailure, server)
	}

	return &stream{ctx: ctx, cluster: c, server: server, header: header}, nil
}

// deliver hands a finished stream to its server.
func (c *Cluster) deliver(ctx context.Context, server types.ServerID, header types.BlockHeader, data []byte) error {
	c.mu.Lock()
	s, ok := c.servers[server]
	switch {
	case !ok || c.down[server]:
		c.mu.Unlock()
		return fmt.Errorf("%w: connection to %s lost", types.ErrTransportFailure, server)
	case c.failNext[server] > 0:
		c.failNext[server]--
		c.mu.Unlock()
		return fmt.Errorf("%w: connection to %s reset", types.ErrTransportFailure, server)
	}
	c.mu.Unlock()

	if err := s.Accept(ctx, header, data); err != nil {
		return err
	}

	c.mu.Lock()
	c.sends[server]++
	c.mu.Unlock()

	return nil
}

// stream buffers one block and delivers it on Close.
type stream struct {
	ctx     context.Context
	cluster *Cluster
	server  types.ServerID
	header  types.BlockHeader
	buf     bytes.Buffer
	closed  bool
}

func (s *stream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, types.ErrStreamClosed
	}

	return s.buf.Write(p)
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	return s.cluster.deliver(s.ctx, s.server, s.header, s.buf.Bytes())
}
