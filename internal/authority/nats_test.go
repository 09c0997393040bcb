package authority

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/rshuffle/internal/assignment"
	"github.com/arloliu/rshuffle/internal/heartbeat"
	shuffletest "github.com/arloliu/rshuffle/testing"
	"github.com/arloliu/rshuffle/types"
)

func startRemote(t *testing.T, live heartbeat.StaticServers) (assignment.Store, *Client) {
	t.Helper()

	_, nc := shuffletest.StartEmbeddedNATS(t)
	store := assignment.NewMemoryStore()
	srv := NewServer(nc, New(store, live), WithSubject("test.authority"),
		WithTransportLogger(shuffletest.NewTestLogger(t)))
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })

	return store, NewClient(nc, WithSubject("test.authority"), WithRequestTimeout(2*time.Second))
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, client := startRemote(t, heartbeat.StaticServers{"serverX", "serverY"})
	key := types.PartitionKey{ShuffleID: 5, PartitionID: 3}
	seed(t, store, key, "serverX")

	a, err := client.Assignment(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []types.ServerID{"serverX"}, a.Servers)

	req := request(5, map[int32][]types.ServerID{3: {"serverX"}}, 0, 42, false)
	resp, err := client.Reassign(ctx, req)
	require.NoError(t, err)
	require.Equal(t, types.ReassignAccepted, resp.Results[3].Status)
	require.Equal(t, []types.ServerID{"serverY"}, resp.Results[3].Assignment.Servers)

	v1, err := client.At(ctx, key, 1)
	require.NoError(t, err)
	require.Equal(t, []types.ServerID{"serverX"}, v1.Servers)
}

func TestClient_ErrorMapping(t *testing.T) {
	ctx := context.Background()
	store, client := startRemote(t, heartbeat.StaticServers{"only"})
	key := types.PartitionKey{ShuffleID: 1, PartitionID: 1}
	seed(t, store, key, "only")

	_, err := client.Reassign(ctx, request(1, map[int32][]types.ServerID{1: {"only"}}, 0, 1, false))
	require.ErrorIs(t, err, types.ErrCapacityExhausted)

	_, err = client.Reassign(ctx, &types.ReassignRequest{ShuffleID: 1})
	require.ErrorIs(t, err, types.ErrInvalidRequest)

	_, err = client.At(ctx, key, 9)
	require.ErrorIs(t, err, types.ErrAssignmentNotFound)
}

func TestClient_NoResponders(t *testing.T) {
	_, nc := shuffletest.StartEmbeddedNATS(t)
	client := NewClient(nc, WithSubject("nobody.home"), WithRequestTimeout(500*time.Millisecond))

	_, err := client.Assignment(context.Background(), types.PartitionKey{ShuffleID: 1})
	require.ErrorIs(t, err, types.ErrTransportFailure)
	require.True(t, types.IsRetryable(err))
}

func TestServer_StartTwice(t *testing.T) {
	_, nc := shuffletest.StartEmbeddedNATS(t)
	srv := NewServer(nc, New(assignment.NewMemoryStore(), heartbeat.StaticServers{"a"}))
	require.NoError(t, srv.Start())
	require.Error(t, srv.Start())
	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())
}

func TestWireErrors(t *testing.T) {
	for _, sentinel := range []error{
		types.ErrCapacityExhausted,
		types.ErrInvalidRequest,
		types.ErrAssignmentNotFound,
		types.ErrStaleAttempt,
		types.ErrTransportFailure,
	} {
		err := decodeError(encodeError(errors.Join(errors.New("ctx"), sentinel)))
		require.ErrorIs(t, err, sentinel)
	}

	require.NoError(t, decodeError(encodeError(nil)))

	err := decodeError(encodeError(errors.New("boom")))
	require.EqualError(t, err, "authority: boom")
	require.False(t, types.IsRetryable(err))
}
