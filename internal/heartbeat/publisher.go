package heartbeat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/rshuffle/internal/logging"
	"github.com/arloliu/rshuffle/internal/metrics"
	"github.com/arloliu/rshuffle/types"
)

// Common errors for heartbeat operations.
var (
	ErrNotStarted     = errors.New("publisher not started")
	ErrAlreadyStarted = errors.New("publisher already started")
	ErrNoServerID     = errors.New("server ID not set")
)

// Publisher publishes periodic heartbeats for one shuffle server.
type Publisher struct {
	kv       jetstream.KeyValue
	prefix   string
	serverID types.ServerID
	interval time.Duration
	logger   types.Logger
	metrics  types.MetricsCollector

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Publisher or Monitor.
type Option func(*options)

type options struct {
	logger  types.Logger
	metrics types.MetricsCollector
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger types.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the metrics collector. Defaults to no-op metrics.
func WithMetrics(m types.MetricsCollector) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{logger: logging.NewNop(), metrics: metrics.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// New creates a heartbeat publisher for serverID.
//
// The KV bucket should be configured with a TTL of ~3x the interval.
//
// Parameters:
//   - kv: JetStream KV bucket for heartbeat storage
//   - prefix: Key prefix for heartbeat keys (e.g., "server-hb")
//   - serverID: ID of the shuffle server that is alive
//   - interval: Heartbeat interval
func New(kv jetstream.KeyValue, prefix string, serverID types.ServerID, interval time.Duration, opts ...Option) *Publisher {
	o := buildOptions(opts)

	return &Publisher{
		kv:       kv,
		prefix:   prefix,
		serverID: serverID,
		interval: interval,
		logger:   o.logger,
		metrics:  o.metrics,
	}
}

// Start publishes the first heartbeat synchronously and then keeps publishing
// in the background until Stop is called.
//
// Returns:
//   - error: ErrAlreadyStarted if already running, ErrNoServerID if the ID is empty
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if p.serverID == "" {
		return ErrNoServerID
	}

	if err := p.publish(ctx); err != nil {
		return fmt.Errorf("failed to publish initial heartbeat: %w", err)
	}

	p.started = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.publishLoop(p.stopCh, p.doneCh)

	return nil
}

// Stop stops publishing and deletes the heartbeat entry, so the server leaves
// the live set immediately instead of at TTL expiry.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	close(p.stopCh)
	doneCh := p.doneCh
	p.started = false
	p.mu.Unlock()

	<-doneCh

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.kv.Delete(ctx, KeyFor(p.prefix, p.serverID)); err != nil {
		return fmt.Errorf("stopped but failed to delete heartbeat: %w", err)
	}

	return nil
}

// IsStarted returns whether the publisher is currently running.
func (p *Publisher) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.started
}

// ServerID returns the ID the publisher announces.
func (p *Publisher) ServerID() types.ServerID {
	return p.serverID
}

func (p *Publisher) publishLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := p.publish(ctx)
			cancel()

			p.metrics.RecordHeartbeat(p.serverID, err == nil)
			if err != nil {
				p.logger.Warn("heartbeat publish failed", "server", p.serverID, "error", err)
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context) error {
	value := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	if _, err := p.kv.Put(ctx, KeyFor(p.prefix, p.serverID), value); err != nil {
		return fmt.Errorf("failed to publish heartbeat for %s: %w", p.serverID, err)
	}

	return nil
}

// KeyFor returns the KV key of serverID under prefix.
func KeyFor(prefix string, serverID types.ServerID) string {
	return prefix + "." + base64.RawURLEncoding.EncodeToString([]byte(serverID))
}

// serverFromKey is the inverse of KeyFor. ok is false for foreign keys.
func serverFromKey(prefix, key string) (types.ServerID, bool) {
	encoded, found := strings.CutPrefix(key, prefix+".")
	if !found || encoded == "" {
		return "", false
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}

	return types.ServerID(raw), true
}
