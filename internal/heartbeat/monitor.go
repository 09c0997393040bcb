package heartbeat

import (
	"context"
	"fmt"
	"slices"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/rshuffle/internal/natsutil"
	"github.com/arloliu/rshuffle/types"
)

// Monitor reports the shuffle servers with a live heartbeat.
//
// It implements types.ServerSource.
type Monitor struct {
	kv     jetstream.KeyValue
	prefix string
	logger types.Logger
}

var _ types.ServerSource = (*Monitor)(nil)

// NewMonitor creates a Monitor over the heartbeat bucket kv.
func NewMonitor(kv jetstream.KeyValue, prefix string, opts ...Option) *Monitor {
	o := buildOptions(opts)

	return &Monitor{kv: kv, prefix: prefix, logger: o.logger}
}

// LiveServers returns the sorted IDs of servers whose heartbeat has not expired.
//
// An empty bucket yields an empty list. KV failures are classified as
// transport failures.
func (m *Monitor) LiveServers(ctx context.Context) ([]types.ServerID, error) {
	keys, err := m.kv.Keys(ctx)
	if err != nil {
		if types.IsNoKeysFoundError(err) {
			return []types.ServerID{}, nil
		}

		return nil, fmt.Errorf("failed to list heartbeat keys: %w", natsutil.ClassifyTransport(err))
	}

	servers := make([]types.ServerID, 0, len(keys))
	for _, key := range keys {
		id, ok := serverFromKey(m.prefix, key)
		if !ok {
			m.logger.Debug("skipping non-heartbeat key", "key", key, "prefix", m.prefix)
			continue
		}
		servers = append(servers, id)
	}
	slices.Sort(servers)

	return servers, nil
}

// StaticServers is a fixed ServerSource, for deployments without heartbeats
// and for tests.
type StaticServers []types.ServerID

var _ types.ServerSource = StaticServers(nil)

// LiveServers returns a sorted copy of the list.
func (s StaticServers) LiveServers(context.Context) ([]types.ServerID, error) {
	out := slices.Clone([]types.ServerID(s))
	slices.Sort(out)

	return out, nil
}
