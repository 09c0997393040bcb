package rshuffle

import (
	"errors"

	"github.com/arloliu/rshuffle/types"
)

// Sentinel errors re-exported from the types package.
//
// Errors returned by writers, readers and the authority wrap one of these and
// are meant to be tested with errors.Is.
var (
	// ErrTransportFailure is returned when sending bytes to a shuffle server fails.
	ErrTransportFailure = types.ErrTransportFailure

	// ErrCapacityExhausted is returned when no replacement server exists cluster-wide.
	ErrCapacityExhausted = types.ErrCapacityExhausted

	// ErrStaleAttempt indicates a reassignment was superseded by a newer task attempt.
	ErrStaleAttempt = types.ErrStaleAttempt

	// ErrStreamClosed is returned when writing after Commit or Close.
	ErrStreamClosed = types.ErrStreamClosed

	// ErrEncodingOverflow is returned when a key or value is too large to frame.
	ErrEncodingOverflow = types.ErrEncodingOverflow

	ErrCorruptStream        = types.ErrCorruptStream
	ErrUnknownStorage       = types.ErrUnknownStorage
	ErrBlockNotFound        = types.ErrBlockNotFound
	ErrAssignmentNotFound   = types.ErrAssignmentNotFound
	ErrInvalidRequest       = types.ErrInvalidRequest
	ErrRetryBudgetExhausted = types.ErrRetryBudgetExhausted
	ErrInvalidConfig        = types.ErrInvalidConfig
)

// Errors specific to the root package.
var (
	// ErrNATSConnectionRequired is returned when a NATS connection is nil.
	ErrNATSConnectionRequired = errors.New("NATS connection is required")

	// ErrPartitionerRequired is returned by WriteKey when no Partitioner was configured.
	ErrPartitionerRequired = errors.New("partitioner is required")

	// ErrPartitionOutOfRange is returned when a partition ID is negative.
	ErrPartitionOutOfRange = errors.New("partition out of range")
)

// TaskAttemptError is the fatal error of a task attempt; see types.TaskAttemptError.
type TaskAttemptError = types.TaskAttemptError

// IsRetryable reports whether err is a transport failure or a capacity shortage.
func IsRetryable(err error) bool {
	return types.IsRetryable(err)
}
