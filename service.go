package rshuffle

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/rshuffle/internal/assignment"
	"github.com/arloliu/rshuffle/internal/authority"
	"github.com/arloliu/rshuffle/internal/heartbeat"
	"github.com/arloliu/rshuffle/internal/kvutil"
)

// heartbeatPrefix is the key prefix of shuffle server heartbeats.
const heartbeatPrefix = "server-hb"

// AuthorityService is an accepting authority that also serves past
// assignment versions to readers.
type AuthorityService interface {
	Authority
	AssignmentHistory
}

// Service is a background component that can be stopped.
type Service interface {
	Stop() error
}

// StaticServers returns a ServerSource over a fixed list of shuffle servers.
func StaticServers(ids ...ServerID) ServerSource {
	return heartbeat.StaticServers(ids)
}

// NewMemoryAuthority creates an in-process authority whose assignments live
// in memory for the lifetime of the process.
//
// Parameters:
//   - cfg: Configuration; the Authority section is used
//   - servers: Source of live shuffle servers
//   - opts: Optional Logger and MetricsCollector
func NewMemoryAuthority(cfg *Config, servers ServerSource, opts ...Option) (AuthorityService, error) {
	c, err := prepare(cfg)
	if err != nil {
		return nil, err
	}

	return newAuthority(&c, assignment.NewMemoryStore(), servers, buildOptions(opts)), nil
}

// NewKVAuthority creates an authority whose assignment history is persisted
// in the JetStream KV bucket named by Config.KVBuckets.AssignmentBucket.
//
// Several KV authorities may share the bucket; per-key updates are
// serialized by revision compare-and-swap.
//
// Parameters:
//   - ctx: Context for bucket creation
//   - cfg: Configuration
//   - js: JetStream context
//   - servers: Source of live shuffle servers
//   - opts: Optional Logger and MetricsCollector
func NewKVAuthority(ctx context.Context, cfg *Config, js jetstream.JetStream, servers ServerSource, opts ...Option) (AuthorityService, error) {
	c, err := prepare(cfg)
	if err != nil {
		return nil, err
	}
	if js == nil {
		return nil, ErrNATSConnectionRequired
	}

	o := buildOptions(opts)

	ctx, cancel := context.WithTimeout(ctx, c.OperationTimeout)
	defer cancel()

	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:      c.KVBuckets.AssignmentBucket,
		Description: "rshuffle versioned partition assignments",
		History:     1,
	}, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to open assignment bucket: %w", err)
	}

	store := assignment.NewKVStore(kv,
		assignment.WithLogger(o.logger),
		assignment.WithMetrics(o.metrics),
	)

	return newAuthority(&c, store, servers, o), nil
}

func newAuthority(cfg *Config, store assignment.Store, servers ServerSource, o options) *authority.Authority {
	return authority.New(store, servers,
		authority.WithReplicas(cfg.Authority.Replicas),
		authority.WithSplitFanout(cfg.Authority.SplitFanout),
		authority.WithVirtualNodes(cfg.Authority.VirtualNodes),
		authority.WithLogger(o.logger),
		authority.WithMetrics(o.metrics),
	)
}

// ServeAuthority exposes svc on the NATS subject of Config.Authority and
// returns once the subscription is active.
func ServeAuthority(cfg *Config, nc *nats.Conn, svc AuthorityService, opts ...Option) (Service, error) {
	c, err := prepare(cfg)
	if err != nil {
		return nil, err
	}
	if nc == nil {
		return nil, ErrNATSConnectionRequired
	}

	srv := authority.NewServer(nc, svc, transportOptions(&c, buildOptions(opts))...)
	if err := srv.Start(); err != nil {
		return nil, err
	}

	return srv, nil
}

// DialAuthority returns an AuthorityService that forwards every call to an
// authority served with ServeAuthority.
func DialAuthority(cfg *Config, nc *nats.Conn, opts ...Option) (AuthorityService, error) {
	c, err := prepare(cfg)
	if err != nil {
		return nil, err
	}
	if nc == nil {
		return nil, ErrNATSConnectionRequired
	}

	return authority.NewClient(nc, transportOptions(&c, buildOptions(opts))...), nil
}

func transportOptions(cfg *Config, o options) []authority.TransportOption {
	return []authority.TransportOption{
		authority.WithSubject(cfg.Authority.Subject),
		authority.WithQueueGroup(cfg.Authority.QueueGroup),
		authority.WithRequestTimeout(cfg.Authority.RequestTimeout),
		authority.WithTransportLogger(o.logger),
	}
}

// StartHeartbeat publishes the liveness of serverID into the heartbeat
// bucket until the returned Service is stopped.
//
// Heartbeats are published every HeartbeatTTL/3; a server whose heartbeat
// expires drops out of the set returned by NewServerMonitor.
func StartHeartbeat(ctx context.Context, cfg *Config, js jetstream.JetStream, serverID ServerID, opts ...Option) (Service, error) {
	c, err := prepare(cfg)
	if err != nil {
		return nil, err
	}

	kv, err := heartbeatBucket(ctx, &c, js)
	if err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	p := heartbeat.New(kv, heartbeatPrefix, serverID, c.KVBuckets.HeartbeatTTL/3,
		heartbeat.WithLogger(o.logger),
		heartbeat.WithMetrics(o.metrics),
	)
	if err := p.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start heartbeat for %s: %w", serverID, err)
	}

	return p, nil
}

// NewServerMonitor returns a ServerSource listing the shuffle servers with a
// live heartbeat.
func NewServerMonitor(ctx context.Context, cfg *Config, js jetstream.JetStream, opts ...Option) (ServerSource, error) {
	c, err := prepare(cfg)
	if err != nil {
		return nil, err
	}

	kv, err := heartbeatBucket(ctx, &c, js)
	if err != nil {
		return nil, err
	}

	o := buildOptions(opts)

	return heartbeat.NewMonitor(kv, heartbeatPrefix, heartbeat.WithLogger(o.logger)), nil
}

func heartbeatBucket(ctx context.Context, cfg *Config, js jetstream.JetStream) (jetstream.KeyValue, error) {
	if js == nil {
		return nil, ErrNATSConnectionRequired
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.OperationTimeout)
	defer cancel()

	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.KVBuckets.HeartbeatBucket,
		Description: "rshuffle shuffle server heartbeats",
		TTL:         cfg.KVBuckets.HeartbeatTTL,
	}, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to open heartbeat bucket: %w", err)
	}

	return kv, nil
}

// prepare returns a validated copy of cfg with defaults applied.
func prepare(cfg *Config) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}

	c := *cfg
	SetDefaults(&c)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}
