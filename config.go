package rshuffle

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/rshuffle/framing"
	"github.com/arloliu/rshuffle/strategy"
	"github.com/arloliu/rshuffle/tier"
	"github.com/arloliu/rshuffle/types"
)

// ClientConfig controls the producer side: block sizing, send retries and
// the reassignment budget of a task attempt.
type ClientConfig struct {
	// SendTimeout bounds one block send to one server, including the commit.
	SendTimeout time.Duration `yaml:"sendTimeout"`

	// SendRetries is the number of attempts per server before the server is
	// reported as failed. The same bound applies to the fallback retries
	// against the original server set when no replacement capacity exists.
	SendRetries int `yaml:"sendRetries"`

	// RetryInitialBackoff, RetryMaxBackoff and RetryBackoffFactor shape the
	// exponential backoff between send attempts and reassignment round trips.
	RetryInitialBackoff time.Duration `yaml:"retryInitialBackoff"`
	RetryMaxBackoff     time.Duration `yaml:"retryMaxBackoff"`
	RetryBackoffFactor  float64       `yaml:"retryBackoffFactor"`

	// ReassignRetries is the number of attempts of one reassignment round trip
	// that fails with a transport error.
	ReassignRetries int `yaml:"reassignRetries"`

	// MaxReassignments is the hard budget of accepted, stale or unchanged
	// reassignment answers a single task attempt may consume before it fails.
	MaxReassignments int `yaml:"maxReassignments"`

	// MaxBlockSize is the framed size at which a partition buffer is shipped
	// as a block before Commit. Zero ships exactly one block per partition.
	MaxBlockSize int64 `yaml:"maxBlockSize"`

	// Codec names the varint scheme of block streams ("vint" or "zigzag").
	Codec string `yaml:"codec"`

	// Routing names the policy that picks one server of a split set per
	// block ("hash" or "round_robin").
	Routing string `yaml:"routing"`

	// PartitionSplit asks the authority to fan a failing partition out to
	// several servers instead of a single replacement.
	PartitionSplit bool `yaml:"partitionSplit"`
}

// AuthorityConfig controls the accepting authority and its NATS endpoint.
type AuthorityConfig struct {
	// Replicas is the number of servers of a fresh assignment.
	Replicas int `yaml:"replicas"`

	// SplitFanout is the number of servers a split partition is spread over.
	SplitFanout int `yaml:"splitFanout"`

	// VirtualNodes is the number of ring points per shuffle server.
	VirtualNodes int `yaml:"virtualNodes"`

	// Subject is the NATS request subject of the authority.
	Subject string `yaml:"subject"`

	// QueueGroup load-balances requests across authority replicas.
	QueueGroup string `yaml:"queueGroup"`

	// RequestTimeout bounds one request/reply round trip.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// KVBucketConfig configures NATS JetStream KV bucket names and TTLs.
type KVBucketConfig struct {
	// AssignmentBucket is the bucket name for versioned partition assignments.
	// Assignments carry no TTL; their history must outlive every reader.
	AssignmentBucket string `yaml:"assignmentBucket"`

	// HeartbeatBucket is the bucket name for shuffle server heartbeats.
	HeartbeatBucket string `yaml:"heartbeatBucket"`

	// HeartbeatTTL is how long a heartbeat stays valid before the server is
	// considered down. Heartbeats are published every HeartbeatTTL/3.
	HeartbeatTTL time.Duration `yaml:"heartbeatTtl"`
}

// StorageConfig configures block addressing across storage tiers.
type StorageConfig struct {
	// PartitionsPerRange is the number of consecutive partitions merged into
	// one physical range. 1 disables merging.
	PartitionsPerRange int32 `yaml:"partitionsPerRange"`

	// SearchOrder lists storage IDs in the order readers probe them when a
	// locator does not pin a tier.
	SearchOrder []int32 `yaml:"searchOrder"`
}

// Config is the configuration of writers, readers and the authority.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h".
type Config struct {
	// AppID names the application whose shuffles are written and read.
	AppID string `yaml:"appId"`

	// OperationTimeout is the timeout for KV operations (get, put, create).
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	Client    ClientConfig    `yaml:"client"`
	Authority AuthorityConfig `yaml:"authority"`
	KVBuckets KVBucketConfig  `yaml:"kvBuckets"`
	Storage   StorageConfig   `yaml:"storage"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		AppID:            "rshuffle",
		OperationTimeout: 10 * time.Second,
		Client: ClientConfig{
			SendTimeout:         30 * time.Second,
			SendRetries:         3,
			RetryInitialBackoff: 100 * time.Millisecond,
			RetryMaxBackoff:     5 * time.Second,
			RetryBackoffFactor:  2,
			ReassignRetries:     3,
			MaxReassignments:    8,
			MaxBlockSize:        0,
			Codec:               framing.VInt.Name(),
			Routing:             strategy.RoutingHash,
		},
		Authority: AuthorityConfig{
			Replicas:       1,
			SplitFanout:    2,
			VirtualNodes:   150,
			Subject:        "rshuffle.authority",
			QueueGroup:     "rshuffle-authority",
			RequestTimeout: 5 * time.Second,
		},
		KVBuckets: KVBucketConfig{
			AssignmentBucket: "rshuffle-assignment",
			HeartbeatBucket:  "rshuffle-heartbeat",
			HeartbeatTTL:     6 * time.Second,
		},
		Storage: StorageConfig{
			PartitionsPerRange: 1,
			SearchOrder:        storageIDs(tier.DefaultSearchOrder),
		},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.AppID == "" {
		cfg.AppID = defaults.AppID
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}

	c := &cfg.Client
	if c.SendTimeout == 0 {
		c.SendTimeout = defaults.Client.SendTimeout
	}
	if c.SendRetries == 0 {
		c.SendRetries = defaults.Client.SendRetries
	}
	if c.RetryInitialBackoff == 0 {
		c.RetryInitialBackoff = defaults.Client.RetryInitialBackoff
	}
	if c.RetryMaxBackoff == 0 {
		c.RetryMaxBackoff = defaults.Client.RetryMaxBackoff
	}
	if c.RetryBackoffFactor == 0 {
		c.RetryBackoffFactor = defaults.Client.RetryBackoffFactor
	}
	if c.ReassignRetries == 0 {
		c.ReassignRetries = defaults.Client.ReassignRetries
	}
	if c.MaxReassignments == 0 {
		c.MaxReassignments = defaults.Client.MaxReassignments
	}
	if c.Codec == "" {
		c.Codec = defaults.Client.Codec
	}
	if c.Routing == "" {
		c.Routing = defaults.Client.Routing
	}
	// Note: MaxBlockSize of 0 is valid (one block per partition), so we don't apply default

	a := &cfg.Authority
	if a.Replicas == 0 {
		a.Replicas = defaults.Authority.Replicas
	}
	if a.SplitFanout == 0 {
		a.SplitFanout = defaults.Authority.SplitFanout
	}
	if a.VirtualNodes == 0 {
		a.VirtualNodes = defaults.Authority.VirtualNodes
	}
	if a.Subject == "" {
		a.Subject = defaults.Authority.Subject
	}
	if a.QueueGroup == "" {
		a.QueueGroup = defaults.Authority.QueueGroup
	}
	if a.RequestTimeout == 0 {
		a.RequestTimeout = defaults.Authority.RequestTimeout
	}

	if cfg.KVBuckets.AssignmentBucket == "" {
		cfg.KVBuckets.AssignmentBucket = defaults.KVBuckets.AssignmentBucket
	}
	if cfg.KVBuckets.HeartbeatBucket == "" {
		cfg.KVBuckets.HeartbeatBucket = defaults.KVBuckets.HeartbeatBucket
	}
	if cfg.KVBuckets.HeartbeatTTL == 0 {
		cfg.KVBuckets.HeartbeatTTL = defaults.KVBuckets.HeartbeatTTL
	}

	if cfg.Storage.PartitionsPerRange == 0 {
		cfg.Storage.PartitionsPerRange = defaults.Storage.PartitionsPerRange
	}
	if len(cfg.Storage.SearchOrder) == 0 {
		cfg.Storage.SearchOrder = defaults.Storage.SearchOrder
	}
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - SendRetries, ReassignRetries, MaxReassignments >= 1
//   - SendTimeout, RequestTimeout, OperationTimeout > 0
//   - RetryInitialBackoff <= RetryMaxBackoff, RetryBackoffFactor >= 1
//   - Replicas >= 1, SplitFanout >= 2
//   - PartitionsPerRange >= 1, SearchOrder without duplicates
//   - Codec and Routing name a known implementation
//
// Returns:
//   - error: Validation error wrapping ErrInvalidConfig, nil if valid
func (cfg *Config) Validate() error {
	c := cfg.Client

	switch {
	case cfg.AppID == "":
		return invalidConfig("AppID must not be empty")
	case cfg.OperationTimeout <= 0:
		return invalidConfig("OperationTimeout must be > 0, got %v", cfg.OperationTimeout)
	case c.SendTimeout <= 0:
		return invalidConfig("SendTimeout must be > 0, got %v", c.SendTimeout)
	case c.SendRetries < 1:
		return invalidConfig("SendRetries must be >= 1, got %d", c.SendRetries)
	case c.ReassignRetries < 1:
		return invalidConfig("ReassignRetries must be >= 1, got %d", c.ReassignRetries)
	case c.MaxReassignments < 1:
		return invalidConfig("MaxReassignments must be >= 1, got %d", c.MaxReassignments)
	case c.RetryInitialBackoff <= 0 || c.RetryInitialBackoff > c.RetryMaxBackoff:
		return invalidConfig("RetryInitialBackoff (%v) must be > 0 and <= RetryMaxBackoff (%v)",
			c.RetryInitialBackoff, c.RetryMaxBackoff)
	case c.RetryBackoffFactor < 1:
		return invalidConfig("RetryBackoffFactor must be >= 1, got %v", c.RetryBackoffFactor)
	case c.MaxBlockSize < 0:
		return invalidConfig("MaxBlockSize must be >= 0, got %d", c.MaxBlockSize)
	}

	if _, err := framing.Lookup(c.Codec); err != nil {
		return err
	}
	if _, err := strategy.NewRouter(c.Routing); err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}

	a := cfg.Authority
	switch {
	case a.Replicas < 1:
		return invalidConfig("Replicas must be >= 1, got %d", a.Replicas)
	case a.SplitFanout < 2:
		return invalidConfig("SplitFanout must be >= 2, got %d", a.SplitFanout)
	case a.VirtualNodes < 1:
		return invalidConfig("VirtualNodes must be >= 1, got %d", a.VirtualNodes)
	case a.Subject == "":
		return invalidConfig("authority Subject must not be empty")
	case a.RequestTimeout <= 0:
		return invalidConfig("RequestTimeout must be > 0, got %v", a.RequestTimeout)
	}

	if cfg.KVBuckets.HeartbeatTTL <= 0 {
		return invalidConfig("HeartbeatTTL must be > 0, got %v", cfg.KVBuckets.HeartbeatTTL)
	}

	if cfg.Storage.PartitionsPerRange < 1 {
		return invalidConfig("PartitionsPerRange must be >= 1, got %d", cfg.Storage.PartitionsPerRange)
	}
	seen := make(map[int32]struct{}, len(cfg.Storage.SearchOrder))
	for _, id := range cfg.Storage.SearchOrder {
		if _, dup := seen[id]; dup {
			return invalidConfig("SearchOrder lists storage %d twice", id)
		}
		seen[id] = struct{}{}
	}

	return nil
}

// ValidateWithWarnings logs warnings for valid but non-recommended values.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.Client.SendTimeout > cfg.Client.RetryMaxBackoff*time.Duration(cfg.Client.SendRetries)*10 {
		logger.Warn(
			"SendTimeout dominates the retry schedule, failed servers will be detected slowly",
			"send_timeout", cfg.Client.SendTimeout,
			"retry_max_backoff", cfg.Client.RetryMaxBackoff,
		)
	}

	if cfg.Authority.Replicas > 1 && cfg.Client.PartitionSplit {
		logger.Warn(
			"partition split with replicated assignments sends each block to a single server",
			"replicas", cfg.Authority.Replicas,
		)
	}
}

// Layout returns the storage range layout described by the configuration.
func (cfg *Config) Layout() tier.Layout {
	return tier.Layout{PartitionsPerRange: cfg.Storage.PartitionsPerRange}
}

// StorageOrder returns the configured tier search order.
func (cfg *Config) StorageOrder() []types.StorageID {
	order := make([]types.StorageID, len(cfg.Storage.SearchOrder))
	for i, id := range cfg.Storage.SearchOrder {
		order[i] = types.StorageID(id)
	}

	return order
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Backoffs and timeouts are 10-100x shorter than production defaults. Use
// DefaultConfig() for production deployments.
//
// Returns:
//   - Config: Configuration with fast timings for tests
//
// Example:
//
//	cfg := rshuffle.TestConfig()
//	cfg.Client.MaxReassignments = 2
//	w, err := rshuffle.NewShuffleWriter(&cfg, task, auth, transport)
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.OperationTimeout = time.Second
	cfg.Client.SendTimeout = time.Second
	cfg.Client.RetryInitialBackoff = time.Millisecond
	cfg.Client.RetryMaxBackoff = 10 * time.Millisecond
	cfg.Authority.RequestTimeout = time.Second
	cfg.KVBuckets.HeartbeatTTL = 1500 * time.Millisecond

	return cfg
}

// LoadConfig reads a YAML configuration file, applies defaults and validates it.
//
// Parameters:
//   - path: Path of the YAML file
//
// Returns:
//   - Config: Loaded configuration
//   - error: Read, parse or validation error
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	return ParseConfig(data)
}

// ParseConfig parses YAML configuration, applies defaults and validates it.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}

	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func storageIDs(order []types.StorageID) []int32 {
	out := make([]int32, 0, len(order))
	for _, id := range order {
		out = append(out, int32(id))
	}

	return out
}
