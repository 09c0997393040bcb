// Package assignment stores versioned partition assignments.
//
// An assignment maps a (shuffle, partition) key to the servers that receive
// its blocks. Every accepted reassignment appends a new version to the key's
// history; versions are never deleted while the shuffle exists, so readers
// can resolve a block against the version that was active when it was
// written.
//
// # Ordering
//
// Apply is the per-key ordering point. Each Store serializes Apply calls on
// the same key and lets different keys proceed independently:
//
//   - MemoryStore runs the update inside xsync.Map.Compute, which locks only
//     the bucket holding the key.
//   - KVStore performs an optimistic read-modify-write on the key's JetStream
//     KV revision and retries when another writer wins.
//
// # Freshness
//
// Apply takes the freshness token of the requesting task attempt. A token
// older than the stored one is rejected as stale without calling the
// replacement function, so an old attempt can never overwrite a newer view.
package assignment
