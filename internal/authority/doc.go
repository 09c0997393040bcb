// Package authority implements the accepting authority of the reassignment
// protocol.
//
// The Authority owns the assignment store. It creates assignments lazily on
// first use, placing them on the consistent hash ring of live shuffle
// servers, and applies failure reports from writers:
//
//   - the request token must not be older than the stored token, otherwise
//     the partition result is ReassignStale and nothing changes
//   - failed servers are dropped and replacements are walked from the ring,
//     skipping failed and current servers
//   - a non-split request adds exactly one replacement; a split request adds
//     up to SplitFanout replacements and marks the assignment as split
//   - no eligible replacement means ErrCapacityExhausted
//
// Server and Client carry the same contract over NATS request/reply, so
// writers on other hosts reach a single authority through a queue group.
package authority
