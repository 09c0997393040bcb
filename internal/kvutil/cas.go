package kvutil

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// ErrCASConflict is returned when Modify keeps losing the revision race.
var ErrCASConflict = errors.New("kv compare-and-swap conflict")

// ErrSkip may be returned by a Modify function to leave the key untouched.
var ErrSkip = errors.New("kv modify skipped")

// ModifyFunc computes the next value of a key from its current value.
//
// current is nil and exists is false when the key is absent. Returning ErrSkip
// aborts the write without error; any other error aborts Modify with that error.
type ModifyFunc func(current []byte, exists bool) ([]byte, error)

// Modify applies fn to key as an optimistic read-modify-write.
//
// It reads the key and its revision, computes the new value, then writes with
// Create (absent key) or Update (present key, expected revision). A concurrent
// writer makes the write fail with a revision mismatch, in which case Modify
// re-reads and calls fn again, up to maxAttempts times.
//
// Returns the value that is stored after the call, and whether Modify wrote it.
func Modify(ctx context.Context, kv jetstream.KeyValue, key string, maxAttempts int, fn ModifyFunc) ([]byte, bool, error) {
	if maxAttempts <= 0 {
		maxAttempts = 16
	}

	for range maxAttempts {
		var (
			current []byte
			rev     uint64
			exists  bool
		)

		entry, err := kv.Get(ctx, key)
		switch {
		case err == nil:
			current, rev, exists = entry.Value(), entry.Revision(), true
		case errors.Is(err, jetstream.ErrKeyNotFound):
		default:
			return nil, false, fmt.Errorf("kv get %s: %w", key, err)
		}

		next, err := fn(current, exists)
		if errors.Is(err, ErrSkip) {
			return current, false, nil
		}
		if err != nil {
			return nil, false, err
		}

		if exists {
			_, err = kv.Update(ctx, key, next, rev)
		} else {
			_, err = kv.Create(ctx, key, next)
		}
		if err == nil {
			return next, true, nil
		}
		if !isRevisionConflict(err) {
			return nil, false, fmt.Errorf("kv write %s: %w", key, err)
		}
	}

	return nil, false, fmt.Errorf("%w: key %s after %d attempts", ErrCASConflict, key, maxAttempts)
}

// isRevisionConflict reports whether err is a lost optimistic-concurrency race.
//
// JetStream reports a wrong expected revision with the same code as a Create
// on an existing key.
func isRevisionConflict(err error) bool {
	return errors.Is(err, jetstream.ErrKeyExists)
}
