package kvutil

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	shuffletest "github.com/arloliu/rshuffle/testing"
)

func increment(current []byte, exists bool) ([]byte, error) {
	n := 0
	if exists {
		var err error
		if n, err = strconv.Atoi(string(current)); err != nil {
			return nil, err
		}
	}

	return []byte(strconv.Itoa(n + 1)), nil
}

func TestModify(t *testing.T) {
	_, nc := shuffletest.StartEmbeddedNATS(t)
	kv := shuffletest.CreateJetStreamKV(t, nc, "modify")
	ctx := context.Background()

	t.Run("creates then updates", func(t *testing.T) {
		v, wrote, err := Modify(ctx, kv, "a", 0, increment)
		require.NoError(t, err)
		require.True(t, wrote)
		require.Equal(t, "1", string(v))

		v, wrote, err = Modify(ctx, kv, "a", 0, increment)
		require.NoError(t, err)
		require.True(t, wrote)
		require.Equal(t, "2", string(v))
	})

	t.Run("skip leaves value", func(t *testing.T) {
		_, err := kv.Put(ctx, "b", []byte("keep"))
		require.NoError(t, err)

		v, wrote, err := Modify(ctx, kv, "b", 0, func([]byte, bool) ([]byte, error) {
			return nil, ErrSkip
		})
		require.NoError(t, err)
		require.False(t, wrote)
		require.Equal(t, "keep", string(v))
	})

	t.Run("propagates fn error", func(t *testing.T) {
		boom := errors.New("boom")
		_, _, err := Modify(ctx, kv, "c", 0, func([]byte, bool) ([]byte, error) {
			return nil, boom
		})
		require.ErrorIs(t, err, boom)
	})

	t.Run("concurrent writers never lose updates", func(t *testing.T) {
		const writers = 8

		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := Modify(ctx, kv, "counter", 100, increment)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		entry, err := kv.Get(ctx, "counter")
		require.NoError(t, err)
		require.Equal(t, strconv.Itoa(writers), string(entry.Value()))
	})
}
