package authority

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/arloliu/rshuffle/internal/assignment"
	"github.com/arloliu/rshuffle/internal/hash"
	"github.com/arloliu/rshuffle/internal/logging"
	"github.com/arloliu/rshuffle/internal/metrics"
	"github.com/arloliu/rshuffle/types"
)

// Default placement parameters.
const (
	DefaultReplicas     = 1
	DefaultSplitFanout  = 2
	DefaultVirtualNodes = 150
)

// Authority accepts reassignment requests and serves assignments.
type Authority struct {
	store        assignment.Store
	servers      types.ServerSource
	replicas     int
	splitFanout  int
	virtualNodes int
	logger       types.Logger
	metrics      types.MetricsCollector
}

var (
	_ types.Authority         = (*Authority)(nil)
	_ types.AssignmentHistory = (*Authority)(nil)
)

// Option configures an Authority.
type Option func(*Authority)

// WithReplicas sets the number of servers of a new assignment.
func WithReplicas(n int) Option {
	return func(a *Authority) { a.replicas = n }
}

// WithSplitFanout sets the number of replacement servers of a split request.
func WithSplitFanout(n int) Option {
	return func(a *Authority) { a.splitFanout = n }
}

// WithVirtualNodes sets the virtual nodes per server on the placement ring.
func WithVirtualNodes(n int) Option {
	return func(a *Authority) { a.virtualNodes = n }
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(a *Authority) { a.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) Option {
	return func(a *Authority) { a.metrics = m }
}

// New creates an Authority over store, placing partitions on servers.
//
// Example:
//
//	auth := authority.New(assignment.NewMemoryStore(), heartbeat.NewMonitor(kv, "server-hb"),
//	    authority.WithSplitFanout(3),
//	    authority.WithLogger(logger),
//	)
func New(store assignment.Store, servers types.ServerSource, opts ...Option) *Authority {
	a := &Authority{
		store:        store,
		servers:      servers,
		replicas:     DefaultReplicas,
		splitFanout:  DefaultSplitFanout,
		virtualNodes: DefaultVirtualNodes,
		logger:       logging.NewNop(),
		metrics:      metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Assignment implements types.Authority.
//
// The first call for a key places it on Replicas live servers with the zero
// token at version 1.
func (a *Authority) Assignment(ctx context.Context, key types.PartitionKey) (types.Assignment, error) {
	if current, err := a.store.Get(ctx, key); err == nil {
		return current, nil
	} else if !errors.Is(err, types.ErrAssignmentNotFound) {
		return types.Assignment{}, err
	}

	ring, err := a.ring(ctx)
	if err != nil {
		return types.Assignment{}, err
	}

	current, created, err := a.store.GetOrCreate(ctx, key, func() (types.Assignment, error) {
		return types.Assignment{Servers: ring.GetNodes(key.String(), a.replicas, nil)}, nil
	})
	if err != nil {
		if errors.Is(err, types.ErrCapacityExhausted) {
			a.metrics.RecordCapacityExhausted()
		}

		return types.Assignment{}, err
	}
	if created {
		a.logger.Debug("assignment created",
			"shuffle_id", key.ShuffleID,
			"partition_id", key.PartitionID,
			"servers", current.Servers,
		)
	}

	return current, nil
}

// At implements types.AssignmentHistory.
func (a *Authority) At(ctx context.Context, key types.PartitionKey, version int64) (types.Assignment, error) {
	return a.store.At(ctx, key, version)
}

// Reassign implements types.Authority.
//
// Partitions are applied independently in ascending order. When one of them
// fails, the error is returned together with the results of the partitions
// already applied; a retry of the same request reports those as unchanged.
func (a *Authority) Reassign(ctx context.Context, req *types.ReassignRequest) (*types.ReassignResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", types.ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ring, err := a.ring(ctx)
	if err != nil {
		return nil, err
	}

	resp := &types.ReassignResponse{Results: make(map[int32]types.PartitionResult, len(req.FailurePartitionToServers))}
	token := req.Token()

	for _, pid := range req.PartitionIDs() {
		key := types.PartitionKey{ShuffleID: req.ShuffleID, PartitionID: pid}

		if _, err := a.Assignment(ctx, key); err != nil {
			return resp, err
		}

		failed := make(map[types.ServerID]struct{})
		for _, f := range req.FailurePartitionToServers[pid] {
			failed[f.ServerID] = struct{}{}
		}

		res, err := a.store.Apply(ctx, key, token, a.replacer(ring, key, failed, req.PartitionSplit))
		if err != nil {
			if errors.Is(err, types.ErrCapacityExhausted) {
				a.metrics.RecordCapacityExhausted()
				a.logger.Warn("no replacement capacity",
					"shuffle_id", key.ShuffleID,
					"partition_id", key.PartitionID,
					"executor_id", req.ExecutorID,
				)
			}

			return resp, fmt.Errorf("reassign partition %s: %w", key, err)
		}

		a.metrics.RecordReassignment(res.Status, res.Assignment.Split)
		a.logger.Info("reassignment applied",
			"shuffle_id", key.ShuffleID,
			"partition_id", key.PartitionID,
			"status", res.Status.String(),
			"version", res.Assignment.Version,
			"servers", res.Assignment.Servers,
			"stage_attempt", token.StageAttempt,
			"task_attempt_id", token.TaskAttempt,
		)

		resp.Results[pid] = types.PartitionResult{Status: res.Status, Assignment: res.Assignment}
	}

	return resp, nil
}

// replacer builds the replacement function for one partition.
func (a *Authority) replacer(ring *hash.Ring, key types.PartitionKey, failed map[types.ServerID]struct{}, split bool) assignment.ReplaceFunc {
	return func(current types.Assignment) ([]types.ServerID, bool, error) {
		survivors := slices.DeleteFunc(slices.Clone(current.Servers), func(s types.ServerID) bool {
			_, bad := failed[s]
			return bad
		})
		if len(survivors) == len(current.Servers) {
			return nil, false, assignment.ErrNoChange
		}

		want := 1
		if split {
			want = a.splitFanout
		}

		replacements := ring.GetNodes(key.String(), want, func(s types.ServerID) bool {
			_, bad := failed[s]
			return bad || current.Contains(s)
		})
		if len(replacements) == 0 {
			return nil, false, fmt.Errorf("%w: partition %s, %d live servers", types.ErrCapacityExhausted, key, len(ring.Servers()))
		}

		return append(survivors, replacements...), split || current.Split, nil
	}
}

func (a *Authority) ring(ctx context.Context) (*hash.Ring, error) {
	live, err := a.servers.LiveServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list live servers: %w", err)
	}

	return hash.NewRing(live, a.virtualNodes, 0), nil
}
