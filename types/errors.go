package types

import (
	"errors"
	"fmt"
	"strings"
)

// Failure taxonomy of the shuffle core.
var (
	// ErrTransportFailure is returned when sending bytes to a shuffle server fails at the network level.
	ErrTransportFailure = errors.New("transport failure")

	// ErrCapacityExhausted is returned when no replacement server is available cluster-wide.
	ErrCapacityExhausted = errors.New("no replacement capacity available")

	// ErrStaleAttempt indicates a reassignment was superseded by a newer task attempt.
	ErrStaleAttempt = errors.New("stale task attempt")

	// ErrStreamClosed is returned when writing or flushing a block stream after close.
	ErrStreamClosed = errors.New("stream closed")

	// ErrEncodingOverflow is returned when a record length exceeds the representable varint range.
	ErrEncodingOverflow = errors.New("record length exceeds encodable range")
)

// Supporting errors.
var (
	// ErrCorruptStream is returned when a block stream cannot be parsed.
	ErrCorruptStream = errors.New("corrupt block stream")

	// ErrUnknownStorage is returned when a locator names a storage tier that is not registered.
	ErrUnknownStorage = errors.New("unknown storage tier")

	// ErrBlockNotFound is returned when no tier holds the requested block.
	ErrBlockNotFound = errors.New("block not found")

	// ErrAssignmentNotFound is returned when an assignment (or assignment version) does not exist.
	ErrAssignmentNotFound = errors.New("assignment not found")

	// ErrInvalidRequest is returned for malformed reassignment requests.
	ErrInvalidRequest = errors.New("invalid reassignment request")

	// ErrRetryBudgetExhausted is returned when the reassignment budget of a task attempt is spent.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoKeysFound mirrors the KV "no keys found" condition.
	ErrNoKeysFound = errors.New("no keys found")
)

// IsNoKeysFoundError reports whether err means an empty KV bucket.
//
// NATS returns a plain error for an empty key listing, so the message is
// matched as well as the sentinel.
func IsNoKeysFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoKeysFound) {
		return true
	}

	return strings.Contains(err.Error(), "no keys found")
}

// IsRetryable reports whether err belongs to the retryable part of the taxonomy
// (TransportFailure or CapacityExhausted).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransportFailure) || errors.Is(err, ErrCapacityExhausted)
}

// TaskAttemptError is the fatal error surfaced when a task attempt gives up on a block.
//
// It names the failed servers and the stage/attempt context so that the outer
// scheduler can decide whether to re-execute the attempt.
type TaskAttemptError struct {
	ShuffleID     int32
	StageID       int32
	StageAttempt  int32
	TaskAttemptID int64
	Failures      map[int32][]ReceivingFailureServer
	Err           error
}

func (e *TaskAttemptError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "task attempt %d (stage %d attempt %d) failed on shuffle %d",
		e.TaskAttemptID, e.StageID, e.StageAttempt, e.ShuffleID)

	for _, pid := range sortedPartitionIDs(e.Failures) {
		fmt.Fprintf(&b, "; partition %d:", pid)
		for _, f := range e.Failures[pid] {
			fmt.Fprintf(&b, " %s (%s)", f.ServerID, f.Cause)
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}

	return b.String()
}

func (e *TaskAttemptError) Unwrap() error {
	return e.Err
}
