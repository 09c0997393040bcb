package authority

import (
	"errors"

	"github.com/arloliu/rshuffle/types"
)

// Wire operations.
const (
	opAssignment = "assignment"
	opReassign   = "reassign"
	opAt         = "at"
)

// Wire error codes.
const (
	codeCapacityExhausted = "capacity_exhausted"
	codeInvalidRequest    = "invalid_request"
	codeNotFound          = "not_found"
	codeStaleAttempt      = "stale_attempt"
	codeTransportFailure  = "transport_failure"
	codeInternal          = "internal"
)

// wireRequest is the JSON envelope sent to the authority subject.
type wireRequest struct {
	ID      string                 `json:"id"`
	Op      string                 `json:"op"`
	Key     types.PartitionKey     `json:"key,omitzero"`
	Version int64                  `json:"version,omitempty"`
	Request *types.ReassignRequest `json:"request,omitempty"`
}

// wireReply is the JSON envelope returned by the authority.
type wireReply struct {
	ID         string                  `json:"id"`
	Assignment *types.Assignment       `json:"assignment,omitempty"`
	Response   *types.ReassignResponse `json:"response,omitempty"`
	Error      *wireError              `json:"error,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorCodes maps sentinels to wire codes, in match order.
var errorCodes = []struct {
	err  error
	code string
}{
	{types.ErrCapacityExhausted, codeCapacityExhausted},
	{types.ErrInvalidRequest, codeInvalidRequest},
	{types.ErrAssignmentNotFound, codeNotFound},
	{types.ErrStaleAttempt, codeStaleAttempt},
	{types.ErrTransportFailure, codeTransportFailure},
}

func encodeError(err error) *wireError {
	if err == nil {
		return nil
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return &wireError{Code: ec.code, Message: err.Error()}
		}
	}

	return &wireError{Code: codeInternal, Message: err.Error()}
}

// remoteError is an error reported by a remote authority.
type remoteError struct {
	sentinel error
	message  string
}

func (e *remoteError) Error() string {
	return "authority: " + e.message
}

func (e *remoteError) Unwrap() error {
	return e.sentinel
}

func decodeError(we *wireError) error {
	if we == nil {
		return nil
	}
	for _, ec := range errorCodes {
		if ec.code == we.Code {
			return &remoteError{sentinel: ec.err, message: we.Message}
		}
	}

	return &remoteError{message: we.Message}
}
