// Package cmap provides a concurrent-safe sharded map with string keys.
//
// It uses sharding to reduce lock contention, which matters for the
// client registry and the in-memory transport where lookups happen on
// every pushed frame:
//
//   - Sharding: power-of-two shard count, maphash distribution
//   - Fine-grained locking: per-shard RWMutex
//   - Iteration: Range walks shards under read locks
//
// All operations are safe for concurrent use.
package cmap
