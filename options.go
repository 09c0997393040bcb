package rshuffle

import (
	"github.com/arloliu/rshuffle/internal/hooks"
	"github.com/arloliu/rshuffle/internal/logging"
	"github.com/arloliu/rshuffle/internal/metrics"
)

// Option configures writers, readers and services with optional dependencies.
type Option func(*options)

// options holds optional configuration shared by the root constructors.
type options struct {
	logger      Logger
	metrics     MetricsCollector
	hooks       *Hooks
	router      BlockRouter
	partitioner Partitioner
}

func buildOptions(opts []Option) options {
	o := options{
		logger:  logging.NewNop(),
		metrics: metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// resolvedHooks returns the configured hooks with every missing callback
// replaced by a no-op.
func (o options) resolvedHooks() Hooks {
	if o.hooks == nil {
		return hooks.NewNop()
	}

	return hooks.Fill(*o.hooks)
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option
//
// Example:
//
//	logger := logging.NewSlogDefault()
//	w, err := rshuffle.NewShuffleWriter(&cfg, 7, task, auth, transport, rshuffle.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithHooks sets writer event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option
//
// Example:
//
//	hooks := &rshuffle.Hooks{
//	    OnReassigned: func(ctx context.Context, prev, cur rshuffle.Assignment) error {
//	        log.Printf("partition %s moved to %v", cur.Key, cur.Servers)
//	        return nil
//	    },
//	}
//	w, err := rshuffle.NewShuffleWriter(&cfg, 7, task, auth, transport, rshuffle.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *options) {
		o.hooks = hooks
	}
}

// WithRouter overrides the routing policy named by Config.Client.Routing.
//
// The router picks the single server of a split assignment that receives a block.
func WithRouter(router BlockRouter) Option {
	return func(o *options) {
		o.router = router
	}
}

// WithPartitioner sets the key to partition mapping used by WriteKey.
func WithPartitioner(p Partitioner) Option {
	return func(o *options) {
		o.partitioner = p
	}
}
