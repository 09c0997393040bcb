package rshuffle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/rshuffle/framing"
	"github.com/arloliu/rshuffle/internal/metrics"
	"github.com/arloliu/rshuffle/internal/server"
	"github.com/arloliu/rshuffle/strategy"
	shuffletest "github.com/arloliu/rshuffle/testing"
)

type fixture struct {
	cfg     Config
	servers []ServerID
	cluster *server.Cluster
	auth    AuthorityService
}

func newFixture(t *testing.T, n int, mutate ...func(*Config)) *fixture {
	t.Helper()

	cfg := TestConfig()
	cfg.AppID = "app1"
	for _, m := range mutate {
		m(&cfg)
	}

	servers := shuffletest.Servers(n)
	cluster := server.NewCluster()
	for _, id := range servers {
		cluster.Add(server.NewMemory(id, server.WithLayout(cfg.Layout())))
	}

	auth, err := NewMemoryAuthority(&cfg, cluster, WithLogger(shuffletest.NewTestLogger(t)))
	require.NoError(t, err)

	return &fixture{cfg: cfg, servers: servers, cluster: cluster, auth: auth}
}

func (f *fixture) writer(t *testing.T, shuffleID int32, attempt int64, opts ...Option) *ShuffleWriter {
	t.Helper()

	task := TaskAttempt{ExecutorID: "exec-1", StageID: 2, TaskAttemptID: attempt}
	opts = append([]Option{WithLogger(shuffletest.NewTestLogger(t))}, opts...)
	w, err := NewShuffleWriter(&f.cfg, shuffleID, task, f.auth, f.cluster, opts...)
	require.NoError(t, err)

	return w
}

func (f *fixture) reader(t *testing.T) *ShuffleReader {
	t.Helper()

	r, err := NewShuffleReader(&f.cfg, f.auth, f.cluster, WithLogger(shuffletest.NewTestLogger(t)))
	require.NoError(t, err)

	return r
}

// initial creates the assignment of key and returns its only server.
func (f *fixture) initial(t *testing.T, key PartitionKey) ServerID {
	t.Helper()

	a, err := f.auth.Assignment(context.Background(), key)
	require.NoError(t, err)
	require.Len(t, a.Servers, 1)

	return a.Servers[0]
}

type transition struct {
	from, to PartitionState
}

type hookRecorder struct {
	mu          sync.Mutex
	transitions []transition
	reassigned  []Assignment
	errs        []error
}

func (r *hookRecorder) hooks() *Hooks {
	return &Hooks{
		OnReassigned: func(_ context.Context, _, current Assignment) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.reassigned = append(r.reassigned, current)

			return nil
		},
		OnStateChanged: func(_ context.Context, _ PartitionKey, from, to PartitionState) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.transitions = append(r.transitions, transition{from, to})

			return nil
		},
		OnError: func(_ context.Context, err error) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)

			return nil
		},
	}
}

type writerMetrics struct {
	*metrics.NopMetrics

	mu           sync.Mutex
	bytes        int64
	sendFailures map[ServerID]int
}

func newWriterMetrics() *writerMetrics {
	return &writerMetrics{NopMetrics: metrics.NewNop(), sendFailures: make(map[ServerID]int)}
}

func (m *writerMetrics) RecordBytesWritten(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes += n
}

func (m *writerMetrics) RecordSendFailure(server ServerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendFailures[server]++
}

func writeAll(t *testing.T, w *ShuffleWriter, partition int32, records []shuffletest.KV) {
	t.Helper()

	for _, kv := range records {
		require.NoError(t, w.Write(context.Background(), partition, kv.Key, kv.Value))
	}
}

func requireRecords(t *testing.T, want []shuffletest.KV, got []Record) {
	t.Helper()

	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].Key, got[i].Key, "key of record %d", i)
		require.Equal(t, want[i].Value, got[i].Value, "value of record %d", i)
	}
}

func TestShuffleWriter_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	m := newWriterMetrics()
	w := f.writer(t, 1, 10, WithMetrics(m))

	records := map[int32][]shuffletest.KV{}
	for pid := range int32(4) {
		records[pid] = shuffletest.RandomRecords(int64(pid), 20, 16)
		writeAll(t, w, pid, records[pid])
	}

	receipts, err := w.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, receipts, 4)
	require.Zero(t, w.Reassignments())

	var total int64
	r := f.reader(t)
	for _, rc := range receipts {
		require.Equal(t, int64(1), rc.AssignmentVersion)
		require.Equal(t, int64(20), rc.Records)
		require.Len(t, rc.Servers, 1)
		total += rc.Bytes

		got, err := r.ReadBlock(ctx, rc)
		require.NoError(t, err)
		requireRecords(t, records[rc.Block.Key.PartitionID], got)
	}
	require.Equal(t, total, m.bytes)
}

func TestShuffleWriter_CommitClosesWriter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	w := f.writer(t, 1, 1)

	require.NoError(t, w.Write(ctx, 0, []byte("k"), []byte("v")))
	first, err := w.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := w.Commit(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)

	require.ErrorIs(t, w.Write(ctx, 0, []byte("k"), []byte("v")), ErrStreamClosed)
}

func TestShuffleWriter_EmptyPartitionsShipNothing(t *testing.T) {
	f := newFixture(t, 1)
	w := f.writer(t, 1, 1)

	receipts, err := w.Commit(context.Background())
	require.NoError(t, err)
	require.Empty(t, receipts)
	require.Zero(t, f.cluster.Sends(f.servers[0]))
}

func TestShuffleWriter_InvalidInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	w := f.writer(t, 1, 1)

	require.ErrorIs(t, w.Write(ctx, -1, nil, nil), ErrPartitionOutOfRange)
	require.ErrorIs(t, w.WriteKey(ctx, []byte("k"), nil), ErrPartitionerRequired)

	_, err := NewShuffleWriter(&f.cfg, -1, TaskAttempt{}, f.auth, f.cluster)
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewShuffleWriter(&f.cfg, 1, TaskAttempt{}, nil, f.cluster)
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewShuffleWriter(nil, 1, TaskAttempt{}, f.auth, f.cluster)
	require.ErrorIs(t, err, ErrInvalidConfig)

	bad := f.cfg
	bad.Client.Codec = "lz4"
	_, err = NewShuffleWriter(&bad, 1, TaskAttempt{}, f.auth, f.cluster)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestShuffleWriter_WriteKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	p := strategy.NewMurmur3Partitioner(8, 0)
	w := f.writer(t, 1, 1, WithPartitioner(p))

	keys := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	for _, k := range keys {
		require.NoError(t, w.WriteKey(ctx, []byte(k), []byte("v-"+k)))
	}

	receipts, err := w.Commit(ctx)
	require.NoError(t, err)

	r := f.reader(t)
	seen := 0
	for _, rc := range receipts {
		got, err := r.ReadBlock(ctx, rc)
		require.NoError(t, err)
		for _, rec := range got {
			require.Equal(t, p.Partition(rec.Key), rc.Block.Key.PartitionID)
			require.Equal(t, "v-"+string(rec.Key), string(rec.Value))
			seen++
		}
	}
	require.Equal(t, len(keys), seen)
}

func TestShuffleWriter_MaxBlockSize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, func(c *Config) { c.Client.MaxBlockSize = 64 })
	w := f.writer(t, 1, 7)

	records := shuffletest.RandomRecords(3, 50, 12)
	writeAll(t, w, 0, records)

	receipts, err := w.Commit(ctx)
	require.NoError(t, err)
	require.Greater(t, len(receipts), 1)
	for i, rc := range receipts {
		require.Equal(t, int32(i), rc.Block.Sequence)
	}

	got, err := f.reader(t).ReadPartition(ctx, PartitionKey{ShuffleID: 1, PartitionID: 0}, receipts)
	require.NoError(t, err)
	requireRecords(t, records, got)
}

func TestShuffleWriter_TransientFailureRetriedLocally(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	key := PartitionKey{ShuffleID: 1, PartitionID: 0}
	target := f.initial(t, key)
	f.cluster.FailNext(target, f.cfg.Client.SendRetries-1)

	rec := &hookRecorder{}
	w := f.writer(t, 1, 1, WithHooks(rec.hooks()))
	require.NoError(t, w.Write(ctx, 0, []byte("k"), []byte("v")))
	receipts, err := w.Commit(ctx)
	require.NoError(t, err)

	require.Equal(t, []ServerID{target}, receipts[0].Servers)
	require.Equal(t, int64(1), receipts[0].AssignmentVersion)
	require.Zero(t, w.Reassignments())
	require.Empty(t, rec.transitions)
}

func TestShuffleWriter_ReassignsFailedServer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4)
	key := PartitionKey{ShuffleID: 5, PartitionID: 3}
	failed := f.initial(t, key)
	f.cluster.Fail(failed)

	rec := &hookRecorder{}
	m := newWriterMetrics()
	w := f.writer(t, 5, 1, WithHooks(rec.hooks()), WithMetrics(m))

	records := shuffletest.RandomRecords(11, 10, 8)
	writeAll(t, w, 3, records)
	receipts, err := w.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, receipts, 1)

	rc := receipts[0]
	require.Equal(t, int64(2), rc.AssignmentVersion)
	require.Len(t, rc.Servers, 1)
	require.NotEqual(t, failed, rc.Servers[0])

	view, ok := w.View(3)
	require.True(t, ok)
	require.Equal(t, rc.Servers, view.Servers)
	require.Equal(t, Token{StageAttempt: 0, TaskAttempt: 1}, view.Token)
	require.Equal(t, StateAssigned, w.State(3))
	require.Equal(t, 1, w.Reassignments())
	require.Equal(t, 1, m.sendFailures[failed])

	require.Equal(t, []transition{
		{StateAssigned, StateFailureDetected},
		{StateFailureDetected, StateReassignRequested},
		{StateReassignRequested, StateReassigned},
		{StateReassigned, StateAssigned},
	}, rec.transitions)
	require.Len(t, rec.reassigned, 1)
	require.False(t, rec.reassigned[0].Contains(failed))

	got, err := f.reader(t).ReadBlock(ctx, rc)
	require.NoError(t, err)
	requireRecords(t, records, got)
}

func TestShuffleWriter_SplitFanout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5, func(c *Config) {
		c.Client.PartitionSplit = true
		c.Authority.SplitFanout = 3
	})
	key := PartitionKey{ShuffleID: 1, PartitionID: 2}
	failed := f.initial(t, key)
	f.cluster.Fail(failed)

	rec := &hookRecorder{}
	w := f.writer(t, 1, 1, WithHooks(rec.hooks()), WithRouter(strategy.NewRoundRobinRouter()))
	require.NoError(t, w.Write(ctx, 2, []byte("a"), []byte("1")))
	first, err := w.Commit(ctx)
	require.NoError(t, err)

	view, ok := w.View(2)
	require.True(t, ok)
	require.True(t, view.Split)
	require.Len(t, view.Servers, 3)
	require.NotContains(t, view.Servers, failed)
	require.Contains(t, rec.transitions, transition{StateReassignRequested, StateSplit})

	require.Len(t, first[0].Servers, 1)
	require.Contains(t, view.Servers, first[0].Servers[0])

	// A second attempt lands on the split set directly.
	w2 := f.writer(t, 1, 2, WithRouter(strategy.NewRoundRobinRouter()))
	for i := range 3 {
		require.NoError(t, w2.Write(ctx, 2, []byte(fmt.Sprintf("k%d", i)), nil))
	}
	second, err := w2.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, second[0].Servers, 1)
	require.Contains(t, view.Servers, second[0].Servers[0])
	require.Zero(t, w2.Reassignments())
}

func TestShuffleWriter_ReplicatedAssignment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4, func(c *Config) { c.Authority.Replicas = 2 })
	key := PartitionKey{ShuffleID: 1, PartitionID: 0}

	a, err := f.auth.Assignment(ctx, key)
	require.NoError(t, err)
	require.Len(t, a.Servers, 2)
	failed, survivor := a.Servers[0], a.Servers[1]
	f.cluster.Fail(failed)

	w := f.writer(t, 1, 1)
	require.NoError(t, w.Write(ctx, 0, []byte("k"), []byte("v")))
	receipts, err := w.Commit(ctx)
	require.NoError(t, err)

	rc := receipts[0]
	require.Len(t, rc.Servers, 2)
	require.Contains(t, rc.Servers, survivor)
	require.NotContains(t, rc.Servers, failed)
	for _, s := range rc.Servers {
		require.Equal(t, 1, f.cluster.Sends(s))
	}
}

func TestShuffleWriter_StaleReassignmentRefetches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	key := PartitionKey{ShuffleID: 1, PartitionID: 0}
	failed := f.initial(t, key)
	f.cluster.Fail(failed)

	// A newer attempt reassigns the partition while the older attempt is
	// between failure detection and its own reassignment request.
	var newer []BlockReceipt
	var newerErr error
	var once sync.Once
	hooks := &Hooks{
		OnStateChanged: func(ctx context.Context, _ PartitionKey, _, to PartitionState) error {
			if to != StateFailureDetected {
				return nil
			}
			once.Do(func() {
				w2 := f.writer(t, 1, 2)
				if newerErr = w2.Write(ctx, 0, []byte("new"), nil); newerErr == nil {
					newer, newerErr = w2.Commit(ctx)
				}
			})

			return nil
		},
	}

	w := f.writer(t, 1, 1, WithHooks(hooks))
	require.NoError(t, w.Write(ctx, 0, []byte("old"), nil))
	receipts, err := w.Commit(ctx)
	require.NoError(t, err)
	require.NoError(t, newerErr)
	require.Len(t, newer, 1)

	// The stored token is the newer attempt's; the older attempt followed it.
	view, ok := w.View(0)
	require.True(t, ok)
	require.Equal(t, int64(2), view.Version)
	require.Equal(t, int64(2), view.Token.TaskAttempt)
	require.Equal(t, newer[0].Servers, receipts[0].Servers)
	require.Equal(t, int64(2), receipts[0].AssignmentVersion)
	require.Equal(t, 1, w.Reassignments())

	// The stale request did not create a version.
	_, err = f.auth.At(ctx, key, 3)
	require.ErrorIs(t, err, ErrAssignmentNotFound)
}

func TestShuffleWriter_UnchangedReassignmentRefetches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	key := PartitionKey{ShuffleID: 1, PartitionID: 0}
	failed := f.initial(t, key)
	f.cluster.Fail(failed)

	var once sync.Once
	var twinErr error
	reassigned := 0
	hooks := &Hooks{
		OnReassigned: func(context.Context, Assignment, Assignment) error {
			reassigned++
			return nil
		},
		OnStateChanged: func(ctx context.Context, _ PartitionKey, _, to PartitionState) error {
			if to == StateFailureDetected {
				// A second writer of the same attempt reports the failure first.
				once.Do(func() {
					twin := f.writer(t, 1, 1)
					if twinErr = twin.Write(ctx, 0, []byte("k"), nil); twinErr == nil {
						_, twinErr = twin.Commit(ctx)
					}
				})
			}

			return nil
		},
	}

	w := f.writer(t, 1, 1, WithHooks(hooks))
	require.NoError(t, w.Write(ctx, 0, []byte("k"), nil))
	receipts, err := w.Commit(ctx)
	require.NoError(t, err)
	require.NoError(t, twinErr)
	require.Zero(t, reassigned)
	require.Equal(t, 1, w.Reassignments())

	require.Equal(t, int64(2), receipts[0].AssignmentVersion)
	require.NotContains(t, receipts[0].Servers, failed)
	require.Equal(t, StateAssigned, w.State(0))
}

func TestShuffleWriter_NewerAttemptTakesOverHandledFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	key := PartitionKey{ShuffleID: 1, PartitionID: 0}
	failed := f.initial(t, key)
	f.cluster.Fail(failed)

	var once sync.Once
	var olderErr error
	hooks := &Hooks{
		OnStateChanged: func(ctx context.Context, _ PartitionKey, _, to PartitionState) error {
			if to == StateFailureDetected {
				// An older attempt moves the partition off the failed server first.
				once.Do(func() {
					older := f.writer(t, 1, 0)
					if olderErr = older.Write(ctx, 0, []byte("speculative"), nil); olderErr == nil {
						_, olderErr = older.Commit(ctx)
					}
				})
			}

			return nil
		},
	}

	rec := &hookRecorder{}
	merged := rec.hooks()
	merged.OnStateChanged = hooks.OnStateChanged
	w := f.writer(t, 1, 1, WithHooks(merged))
	require.NoError(t, w.Write(ctx, 0, []byte("k"), nil))
	receipts, err := w.Commit(ctx)
	require.NoError(t, err)
	require.NoError(t, olderErr)

	moved, err := f.auth.At(ctx, key, 2)
	require.NoError(t, err)
	require.Equal(t, Token{}, moved.Token)

	// The newer attempt owns version 3 on the same servers.
	require.Equal(t, int64(3), receipts[0].AssignmentVersion)
	require.Equal(t, moved.Servers, receipts[0].Servers)
	owned, err := f.auth.Assignment(ctx, key)
	require.NoError(t, err)
	require.Equal(t, Token{TaskAttempt: 1}, owned.Token)
	require.Len(t, rec.reassigned, 1)
	require.Equal(t, StateAssigned, w.State(0))
}

func TestShuffleWriter_CapacityExhaustedFallsBackToOriginalSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	only := f.servers[0]
	f.cluster.FailNext(only, f.cfg.Client.SendRetries)

	rec := &hookRecorder{}
	w := f.writer(t, 1, 1, WithHooks(rec.hooks()))
	require.NoError(t, w.Write(ctx, 0, []byte("k"), []byte("v")))
	receipts, err := w.Commit(ctx)
	require.NoError(t, err)

	require.Equal(t, []ServerID{only}, receipts[0].Servers)
	require.Equal(t, int64(1), receipts[0].AssignmentVersion)
	require.Equal(t, 1, w.Reassignments())
	require.Equal(t, StateAssigned, w.State(0))
	require.Equal(t, transition{StateReassignRequested, StateAssigned}, rec.transitions[len(rec.transitions)-1])
}

func TestShuffleWriter_CapacityExhaustedFailsAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	only := f.servers[0]
	f.cluster.FailNext(only, 1000)

	rec := &hookRecorder{}
	w := f.writer(t, 1, 9, WithHooks(rec.hooks()))
	require.NoError(t, w.Write(ctx, 4, []byte("k"), []byte("v")))
	_, err := w.Commit(ctx)
	require.ErrorIs(t, err, ErrCapacityExhausted)

	var attemptErr *TaskAttemptError
	require.True(t, errors.As(err, &attemptErr))
	require.Equal(t, int64(9), attemptErr.TaskAttemptID)
	require.Equal(t, int32(2), attemptErr.StageID)
	require.Equal(t, only, attemptErr.Failures[4][0].ServerID)
	require.Contains(t, err.Error(), string(only))

	require.Len(t, rec.errs, 1)
	require.ErrorIs(t, w.Write(ctx, 4, nil, nil), ErrCapacityExhausted)
	_, err = w.Commit(ctx)
	require.ErrorIs(t, err, ErrCapacityExhausted)
}

func TestShuffleWriter_ReassignmentBudget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, func(c *Config) { c.Client.MaxReassignments = 1 })

	// Every server resets connections but keeps its heartbeat, so the
	// authority keeps offering replacements.
	for _, s := range f.servers {
		f.cluster.FailNext(s, 1000)
	}

	w := f.writer(t, 1, 1)
	require.NoError(t, w.Write(ctx, 0, []byte("k"), []byte("v")))
	_, err := w.Commit(ctx)
	require.ErrorIs(t, err, ErrRetryBudgetExhausted)

	var attemptErr *TaskAttemptError
	require.True(t, errors.As(err, &attemptErr))
	require.Equal(t, 1, w.Reassignments())
	require.Equal(t, StateFailureDetected, w.State(0))
}

func TestShuffleWriter_ZigZagCodec(t *testing.T) {
	ctx := context.Background()
	cfg := TestConfig()
	cfg.Client.Codec = "zigzag"

	servers := shuffletest.Servers(2)
	cluster := server.NewCluster()
	for _, id := range servers {
		cluster.Add(server.NewMemory(id, server.WithCodec(framing.ZigZag)))
	}
	auth, err := NewMemoryAuthority(&cfg, cluster)
	require.NoError(t, err)

	w, err := NewShuffleWriter(&cfg, 1, TaskAttempt{TaskAttemptID: 1}, auth, cluster)
	require.NoError(t, err)
	records := shuffletest.RandomRecords(5, 30, 200)
	writeAll(t, w, 0, records)
	receipts, err := w.Commit(ctx)
	require.NoError(t, err)

	r, err := NewShuffleReader(&cfg, auth, cluster)
	require.NoError(t, err)
	got, err := r.ReadBlock(ctx, receipts[0])
	require.NoError(t, err)
	requireRecords(t, records, got)
}
