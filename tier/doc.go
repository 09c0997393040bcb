// Package tier stores shuffle blocks on storage tiers and resolves read
// locators to the tier backends that hold them.
//
// # Merging Policy
//
// A Layout groups PartitionsPerRange consecutive partitions into one physical
// range anchored at
//
//	startPartition = partition - partition % PartitionsPerRange
//
// Blocks are stored per range (a Segment) and tagged with their logical
// partition, so a read of partition p in range s only sees p's blocks. With
// the default width of 1 every partition is its own range and startPartition
// equals the partition ID.
//
// # Resolution
//
// A ReadLocator names what to read. A Resolver turns it into Locations by
// looking up the assignment version that was active when the block was
// written, asking a Directory for each server's Registry, and picking the
// backend named by the locator's storage ID or, when unset, every backend in
// the registry's search order.
package tier
