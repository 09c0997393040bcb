package authority

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/rshuffle/internal/assignment"
	"github.com/arloliu/rshuffle/internal/heartbeat"
	"github.com/arloliu/rshuffle/internal/metrics"
	shuffletest "github.com/arloliu/rshuffle/testing"
	"github.com/arloliu/rshuffle/types"
)

type recordingMetrics struct {
	*metrics.NopMetrics

	mu       sync.Mutex
	statuses []types.ReassignStatus
	capacity int
}

func (m *recordingMetrics) RecordReassignment(status types.ReassignStatus, _ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
}

func (m *recordingMetrics) RecordCapacityExhausted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacity++
}

// seed stores version 1 of key on servers, bypassing placement.
func seed(t *testing.T, store assignment.Store, key types.PartitionKey, servers ...types.ServerID) {
	t.Helper()

	_, _, err := store.GetOrCreate(context.Background(), key, func() (types.Assignment, error) {
		return types.Assignment{Servers: servers}, nil
	})
	require.NoError(t, err)
}

func request(shuffle int32, failures map[int32][]types.ServerID, stageAttempt int32, taskAttempt int64, split bool) *types.ReassignRequest {
	req := &types.ReassignRequest{
		ShuffleID:                 shuffle,
		FailurePartitionToServers: map[int32][]types.ReceivingFailureServer{},
		ExecutorID:                "exec-1",
		TaskAttemptID:             taskAttempt,
		StageID:                   2,
		StageAttemptNumber:        stageAttempt,
		PartitionSplit:            split,
	}
	for pid, servers := range failures {
		for _, s := range servers {
			req.FailurePartitionToServers[pid] = append(req.FailurePartitionToServers[pid],
				types.ReceivingFailureServer{ServerID: s, Cause: "connection reset"})
		}
	}

	return req
}

func TestAuthority_Assignment(t *testing.T) {
	ctx := context.Background()
	servers := shuffletest.Servers(5)

	t.Run("creates lazily on the ring", func(t *testing.T) {
		auth := New(assignment.NewMemoryStore(), heartbeat.StaticServers(servers), WithReplicas(2))
		key := types.PartitionKey{ShuffleID: 1, PartitionID: 4}

		a, err := auth.Assignment(ctx, key)
		require.NoError(t, err)
		require.Equal(t, int64(1), a.Version)
		require.Equal(t, types.Token{}, a.Token)
		require.Len(t, a.Servers, 2)
		require.NotEqual(t, a.Servers[0], a.Servers[1])
		require.False(t, a.Split)

		again, err := auth.Assignment(ctx, key)
		require.NoError(t, err)
		require.Equal(t, a, again)
	})

	t.Run("caps replicas at live servers", func(t *testing.T) {
		auth := New(assignment.NewMemoryStore(), heartbeat.StaticServers(servers[:1]), WithReplicas(3))
		a, err := auth.Assignment(ctx, types.PartitionKey{ShuffleID: 1, PartitionID: 1})
		require.NoError(t, err)
		require.Equal(t, servers[:1], a.Servers)
	})

	t.Run("no live servers", func(t *testing.T) {
		m := &recordingMetrics{NopMetrics: metrics.NewNop()}
		auth := New(assignment.NewMemoryStore(), heartbeat.StaticServers(nil), WithMetrics(m))
		_, err := auth.Assignment(ctx, types.PartitionKey{ShuffleID: 1, PartitionID: 1})
		require.ErrorIs(t, err, types.ErrCapacityExhausted)
		require.Equal(t, 1, m.capacity)
	})
}

func TestAuthority_ReassignSingleReplacement(t *testing.T) {
	ctx := context.Background()
	store := assignment.NewMemoryStore()
	auth := New(store, heartbeat.StaticServers{"serverX", "serverY", "serverZ"},
		WithLogger(shuffletest.NewTestLogger(t)))

	key := types.PartitionKey{ShuffleID: 5, PartitionID: 3}
	seed(t, store, key, "serverX")

	resp, err := auth.Reassign(ctx, request(5, map[int32][]types.ServerID{3: {"serverX"}}, 0, 42, false))
	require.NoError(t, err)

	res := resp.Results[3]
	require.Equal(t, types.ReassignAccepted, res.Status)
	require.Len(t, res.Assignment.Servers, 1)
	require.NotContains(t, res.Assignment.Servers, types.ServerID("serverX"))
	require.Equal(t, int64(2), res.Assignment.Version)
	require.Equal(t, types.Token{StageAttempt: 0, TaskAttempt: 42}, res.Assignment.Token)
	require.False(t, res.Assignment.Split)

	v1, err := auth.At(ctx, key, 1)
	require.NoError(t, err)
	require.Equal(t, []types.ServerID{"serverX"}, v1.Servers)
}

func TestAuthority_ReassignKeepsSurvivors(t *testing.T) {
	ctx := context.Background()
	store := assignment.NewMemoryStore()
	live := shuffletest.Servers(6)
	auth := New(store, heartbeat.StaticServers(live))

	key := types.PartitionKey{ShuffleID: 1, PartitionID: 0}
	seed(t, store, key, live[0], live[1])

	resp, err := auth.Reassign(ctx, request(1, map[int32][]types.ServerID{0: {live[0]}}, 0, 1, false))
	require.NoError(t, err)

	servers := resp.Results[0].Assignment.Servers
	require.Len(t, servers, 2)
	require.Equal(t, live[1], servers[0])
	require.NotContains(t, servers, live[0])
}

func TestAuthority_SplitCardinality(t *testing.T) {
	ctx := context.Background()
	live := shuffletest.Servers(6)

	for _, fanout := range []int{2, 3} {
		store := assignment.NewMemoryStore()
		auth := New(store, heartbeat.StaticServers(live), WithSplitFanout(fanout))
		key := types.PartitionKey{ShuffleID: 7, PartitionID: 1}
		seed(t, store, key, live[0])

		resp, err := auth.Reassign(ctx, request(7, map[int32][]types.ServerID{1: {live[0]}}, 0, 1, true))
		require.NoError(t, err)

		a := resp.Results[1].Assignment
		require.True(t, a.Split)
		require.Len(t, a.Servers, fanout)
		require.NotContains(t, a.Servers, live[0])

		// A later non-split failure keeps the split flag and replaces one-for-one.
		resp, err = auth.Reassign(ctx, request(7, map[int32][]types.ServerID{1: {a.Servers[0]}}, 0, 2, false))
		require.NoError(t, err)
		b := resp.Results[1].Assignment
		require.True(t, b.Split)
		require.Len(t, b.Servers, fanout)
		require.NotContains(t, b.Servers, a.Servers[0])
	}
}

func TestAuthority_Freshness(t *testing.T) {
	ctx := context.Background()
	live := shuffletest.Servers(6)
	m := &recordingMetrics{NopMetrics: metrics.NewNop()}
	store := assignment.NewMemoryStore()
	auth := New(store, heartbeat.StaticServers(live), WithMetrics(m))

	key := types.PartitionKey{ShuffleID: 3, PartitionID: 3}
	seed(t, store, key, live[0])

	newer := request(3, map[int32][]types.ServerID{3: {live[0]}}, 1, 1, false)
	resp, err := auth.Reassign(ctx, newer)
	require.NoError(t, err)
	require.Equal(t, types.ReassignAccepted, resp.Results[3].Status)
	current := resp.Results[3].Assignment

	t.Run("older attempt is stale", func(t *testing.T) {
		older := request(3, map[int32][]types.ServerID{3: {current.Servers[0]}}, 1, 0, false)
		resp, err := auth.Reassign(ctx, older)
		require.NoError(t, err)
		require.Equal(t, types.ReassignStale, resp.Results[3].Status)
		require.Equal(t, current, resp.Results[3].Assignment)
	})

	t.Run("retry of applied request is unchanged", func(t *testing.T) {
		resp, err := auth.Reassign(ctx, newer)
		require.NoError(t, err)
		require.Equal(t, types.ReassignUnchanged, resp.Results[3].Status)
		require.Equal(t, current, resp.Results[3].Assignment)
	})

	require.Equal(t, []types.ReassignStatus{
		types.ReassignAccepted, types.ReassignStale, types.ReassignUnchanged,
	}, m.statuses)
}

func TestAuthority_FreshnessSameFailure(t *testing.T) {
	live := shuffletest.Servers(6)
	a := func(failed types.ServerID) *types.ReassignRequest {
		return request(5, map[int32][]types.ServerID{3: {failed}}, 1, 0, false)
	}
	b := func(failed types.ServerID) *types.ReassignRequest {
		return request(5, map[int32][]types.ServerID{3: {failed}}, 1, 1, false)
	}
	newest := types.Token{StageAttempt: 1, TaskAttempt: 1}

	orders := map[string][]func(types.ServerID) *types.ReassignRequest{
		"A then B": {a, b},
		"B then A": {b, a},
	}

	for order, steps := range orders {
		t.Run(order, func(t *testing.T) {
			ctx := context.Background()
			store := assignment.NewMemoryStore()
			auth := New(store, heartbeat.StaticServers(live))
			key := types.PartitionKey{ShuffleID: 5, PartitionID: 3}
			seed(t, store, key, live[0])

			// Both attempts saw the same server fail.
			for _, step := range steps {
				_, err := auth.Reassign(ctx, step(live[0]))
				require.NoError(t, err)
			}

			final, err := store.Get(ctx, key)
			require.NoError(t, err)
			require.Equal(t, newest, final.Token)
			require.NotContains(t, final.Servers, live[0])

			// The older attempt can no longer move the partition.
			resp, err := auth.Reassign(ctx, a(final.Servers[0]))
			require.NoError(t, err)
			require.Equal(t, types.ReassignStale, resp.Results[3].Status)

			got, err := store.Get(ctx, key)
			require.NoError(t, err)
			require.Equal(t, final, got)
		})
	}
}

func TestAuthority_CapacityExhausted(t *testing.T) {
	ctx := context.Background()
	m := &recordingMetrics{NopMetrics: metrics.NewNop()}
	store := assignment.NewMemoryStore()
	auth := New(store, heartbeat.StaticServers{"only"}, WithMetrics(m))

	key := types.PartitionKey{ShuffleID: 2, PartitionID: 2}
	seed(t, store, key, "only")

	_, err := auth.Reassign(ctx, request(2, map[int32][]types.ServerID{2: {"only"}}, 0, 1, false))
	require.ErrorIs(t, err, types.ErrCapacityExhausted)
	require.Equal(t, 1, m.capacity)

	a, err := auth.Assignment(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(1), a.Version)
}

func TestAuthority_PartialFailure(t *testing.T) {
	ctx := context.Background()
	store := assignment.NewMemoryStore()
	auth := New(store, heartbeat.StaticServers{"a", "b"})

	seed(t, store, types.PartitionKey{ShuffleID: 1, PartitionID: 1}, "a")
	seed(t, store, types.PartitionKey{ShuffleID: 1, PartitionID: 2}, "a", "b")

	req := request(1, map[int32][]types.ServerID{1: {"a"}, 2: {"a"}}, 0, 1, false)
	resp, err := auth.Reassign(ctx, req)
	require.ErrorIs(t, err, types.ErrCapacityExhausted)
	require.Equal(t, types.ReassignAccepted, resp.Results[1].Status)
	require.Equal(t, []types.ServerID{"b"}, resp.Results[1].Assignment.Servers)
	require.NotContains(t, resp.Results, int32(2))
}

func TestAuthority_InvalidRequest(t *testing.T) {
	auth := New(assignment.NewMemoryStore(), heartbeat.StaticServers{"a"})

	_, err := auth.Reassign(context.Background(), nil)
	require.ErrorIs(t, err, types.ErrInvalidRequest)

	_, err = auth.Reassign(context.Background(), &types.ReassignRequest{ShuffleID: 1})
	require.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestAuthority_CreatesOnFirstFailureReport(t *testing.T) {
	ctx := context.Background()
	live := shuffletest.Servers(4)
	auth := New(assignment.NewMemoryStore(), heartbeat.StaticServers(live))
	key := types.PartitionKey{ShuffleID: 8, PartitionID: 0}

	placed, err := New(assignment.NewMemoryStore(), heartbeat.StaticServers(live)).Assignment(ctx, key)
	require.NoError(t, err)

	resp, err := auth.Reassign(ctx, request(8, map[int32][]types.ServerID{0: placed.Servers}, 0, 1, false))
	require.NoError(t, err)
	require.Equal(t, types.ReassignAccepted, resp.Results[0].Status)
	require.Equal(t, int64(2), resp.Results[0].Assignment.Version)
}

func TestAuthority_KVStore(t *testing.T) {
	ctx := context.Background()
	_, nc := shuffletest.StartEmbeddedNATS(t)
	kv := shuffletest.CreateJetStreamKV(t, nc, "authority-assignments")
	store := assignment.NewKVStore(kv)
	auth := New(store, heartbeat.StaticServers{"serverX", "serverY"})

	seed(t, store, types.PartitionKey{ShuffleID: 5, PartitionID: 3}, "serverX")

	resp, err := auth.Reassign(ctx, request(5, map[int32][]types.ServerID{3: {"serverX"}}, 0, 42, false))
	require.NoError(t, err)
	require.Equal(t, []types.ServerID{"serverY"}, resp.Results[3].Assignment.Servers)
}
