// Package hooks provides defaults for the optional writer callbacks.
package hooks

import (
	"context"

	"github.com/arloliu/rshuffle/types"
)

// NopHooks implements every hook as a no-op.
type NopHooks struct{}

// Compile-time assertions that NopHooks implements hook callbacks.
var (
	_ func(context.Context, types.Assignment, types.Assignment) error                             = (*NopHooks)(nil).OnReassigned
	_ func(context.Context, types.PartitionKey, types.PartitionState, types.PartitionState) error = (*NopHooks)(nil).OnStateChanged
	_ func(context.Context, error) error                                                          = (*NopHooks)(nil).OnError
)

// NewNop creates hooks with no-op implementations.
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnReassigned:   h.OnReassigned,
		OnStateChanged: h.OnStateChanged,
		OnError:        h.OnError,
	}
}

// Fill returns h with every nil callback replaced by a no-op, so callers can
// invoke hooks without nil checks.
func Fill(h types.Hooks) types.Hooks {
	nop := NewNop()
	if h.OnReassigned == nil {
		h.OnReassigned = nop.OnReassigned
	}
	if h.OnStateChanged == nil {
		h.OnStateChanged = nop.OnStateChanged
	}
	if h.OnError == nil {
		h.OnError = nop.OnError
	}

	return h
}

// OnReassigned is a no-op implementation.
func (h *NopHooks) OnReassigned(context.Context, types.Assignment, types.Assignment) error {
	return nil
}

// OnStateChanged is a no-op implementation.
func (h *NopHooks) OnStateChanged(context.Context, types.PartitionKey, types.PartitionState, types.PartitionState) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(context.Context, error) error {
	return nil
}
