package types

import "context"

// Hooks defines optional callbacks for writer-side events.
//
// All hooks are optional. Errors returned by hooks are logged and otherwise ignored.
type Hooks struct {
	// OnReassigned is called after the writer adopts a new assignment for a partition.
	OnReassigned func(ctx context.Context, previous, current Assignment) error

	// OnStateChanged is called on every partition state transition.
	OnStateChanged func(ctx context.Context, key PartitionKey, from, to PartitionState) error

	// OnError is called when a task attempt fails fatally.
	OnError func(ctx context.Context, err error) error
}
