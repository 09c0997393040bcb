package assignment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/rshuffle/internal/kvutil"
	"github.com/arloliu/rshuffle/internal/logging"
	"github.com/arloliu/rshuffle/internal/metrics"
	"github.com/arloliu/rshuffle/internal/natsutil"
	"github.com/arloliu/rshuffle/types"
)

// DefaultKeyPrefix is the KV key prefix of assignment histories.
const DefaultKeyPrefix = "assignment"

// KVStore is a Store backed by a JetStream KV bucket.
//
// Each key's full history is one JSON value at "{prefix}.{shuffle}.{partition}".
// The bucket must not have a TTL.
type KVStore struct {
	kv          jetstream.KeyValue
	prefix      string
	maxAttempts int
	logger      types.Logger
	metrics     types.MetricsCollector
}

var _ Store = (*KVStore)(nil)

// KVOption configures a KVStore.
type KVOption func(*KVStore)

// WithKeyPrefix sets the key prefix. Default: DefaultKeyPrefix.
func WithKeyPrefix(prefix string) KVOption {
	return func(s *KVStore) { s.prefix = prefix }
}

// WithMaxAttempts bounds the optimistic retries of one update. Default: 32.
func WithMaxAttempts(n int) KVOption {
	return func(s *KVStore) { s.maxAttempts = n }
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) KVOption {
	return func(s *KVStore) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) KVOption {
	return func(s *KVStore) { s.metrics = m }
}

// NewKVStore creates a KVStore over kv.
//
// Example:
//
//	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
//	    Bucket:  "rshuffle-assignments",
//	    History: 1,
//	}, 3)
//	store := assignment.NewKVStore(kv, assignment.WithLogger(logger))
func NewKVStore(kv jetstream.KeyValue, opts ...KVOption) *KVStore {
	s := &KVStore{
		kv:          kv,
		prefix:      DefaultKeyPrefix,
		maxAttempts: 32,
		logger:      logging.NewNop(),
		metrics:     metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Get implements Store.
func (s *KVStore) Get(ctx context.Context, key types.PartitionKey) (types.Assignment, error) {
	h, err := s.load(ctx, key)
	if err != nil {
		return types.Assignment{}, err
	}

	return h.latest().Clone(), nil
}

// GetOrCreate implements Store.
func (s *KVStore) GetOrCreate(ctx context.Context, key types.PartitionKey, init InitFunc) (types.Assignment, bool, error) {
	if a, err := s.Get(ctx, key); err == nil {
		return a, false, nil
	} else if !errors.Is(err, types.ErrAssignmentNotFound) {
		return types.Assignment{}, false, err
	}

	start := time.Now()
	raw, wrote, err := kvutil.Modify(ctx, s.kv, s.keyFor(key), s.maxAttempts, func(current []byte, exists bool) ([]byte, error) {
		if exists {
			return nil, kvutil.ErrSkip
		}

		first, err := initial(key, init)
		if err != nil {
			return nil, err
		}

		return json.Marshal(history{Versions: []types.Assignment{first}})
	})
	s.metrics.RecordKVOperationDuration("create", time.Since(start).Seconds())
	if err != nil {
		return types.Assignment{}, false, natsutil.ClassifyTransport(err)
	}

	h, err := decode(raw)
	if err != nil {
		return types.Assignment{}, false, err
	}
	if wrote {
		s.logger.Debug("assignment created", "key", key.String(), "servers", h.latest().Servers)
	}

	return h.latest().Clone(), wrote, nil
}

// Apply implements Store.
func (s *KVStore) Apply(ctx context.Context, key types.PartitionKey, token types.Token, replace ReplaceFunc) (Result, error) {
	var res Result

	start := time.Now()
	_, _, err := kvutil.Modify(ctx, s.kv, s.keyFor(key), s.maxAttempts, func(current []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, fmt.Errorf("%w: %s", types.ErrAssignmentNotFound, key)
		}

		h, err := decode(current)
		if err != nil {
			return nil, err
		}

		status, a, err := advance(h.latest(), token, replace)
		if err != nil {
			return nil, err
		}

		res = Result{Status: status, Assignment: a.Clone()}
		if status != types.ReassignAccepted {
			return nil, kvutil.ErrSkip
		}

		h.Versions = append(h.Versions, a)

		return json.Marshal(h)
	})
	s.metrics.RecordKVOperationDuration("apply", time.Since(start).Seconds())
	if err != nil {
		return Result{}, natsutil.ClassifyTransport(err)
	}

	return res, nil
}

// At implements Store.
func (s *KVStore) At(ctx context.Context, key types.PartitionKey, version int64) (types.Assignment, error) {
	h, err := s.load(ctx, key)
	if err != nil {
		return types.Assignment{}, err
	}

	return h.at(key, version)
}

// History implements Store.
func (s *KVStore) History(ctx context.Context, key types.PartitionKey) ([]types.Assignment, error) {
	h, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}

	return h.clone(), nil
}

func (s *KVStore) load(ctx context.Context, key types.PartitionKey) (*history, error) {
	start := time.Now()
	entry, err := s.kv.Get(ctx, s.keyFor(key))
	s.metrics.RecordKVOperationDuration("get", time.Since(start).Seconds())
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrAssignmentNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read assignment %s: %w", key, natsutil.ClassifyTransport(err))
	}

	return decode(entry.Value())
}

func (s *KVStore) keyFor(key types.PartitionKey) string {
	return fmt.Sprintf("%s.%d.%d", s.prefix, key.ShuffleID, key.PartitionID)
}

func decode(raw []byte) (*history, error) {
	var h history
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("failed to decode assignment history: %w", err)
	}
	if len(h.Versions) == 0 {
		return nil, errors.New("assignment history is empty")
	}

	return &h, nil
}
