// Package testing provides test utilities for rshuffle.
//
// It follows the convention of net/http/httptest: helpers that start an
// in-process NATS server with JetStream, create throwaway KV buckets, route
// library logs to the test log, and generate deterministic record fixtures.
//
// Example usage:
//
//	import (
//	    "testing"
//	    shuffletest "github.com/arloliu/rshuffle/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := shuffletest.StartEmbeddedNATS(t)
//	    kv := shuffletest.CreateJetStreamKV(t, nc, "assignments")
//	    // ...
//	}
package testing
