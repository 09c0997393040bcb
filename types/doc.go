// Package types provides core type definitions and interfaces for the rshuffle library.
//
// This package contains shared types that are used across multiple packages in the
// library. By keeping these types in a separate package, we avoid import cycles
// between the root rshuffle package and its internal implementations.
//
// Key types:
//   - PartitionKey: (shuffle, partition) identity of an assignment
//   - Token: freshness token of the task attempt that advanced an assignment
//   - Assignment: versioned server set for one partition
//   - ReassignRequest: failure report sent to the accepting authority
//   - ReadLocator: immutable descriptor of one logical block to read
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
package types
