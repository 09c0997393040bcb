// Package natsutil classifies NATS client errors into the shuffle failure taxonomy.
package natsutil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/rshuffle/types"
)

// IsConnectivityError checks if an error is caused by connectivity issues.
//
// This includes NATS timeouts, missing responders, disconnections and raw
// socket failures.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if error indicates connectivity issue
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, types.ErrTransportFailure) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "i/o timeout")
}

// ClassifyTransport wraps connectivity errors with types.ErrTransportFailure.
//
// Other errors, and errors that already carry the sentinel, are returned unchanged.
func ClassifyTransport(err error) error {
	if err == nil || errors.Is(err, types.ErrTransportFailure) {
		return err
	}
	if IsConnectivityError(err) {
		return fmt.Errorf("%w: %w", types.ErrTransportFailure, err)
	}

	return err
}
