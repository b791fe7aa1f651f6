// Package storage holds the per-worker record store.
//
// Each worker process owns exactly one Store. Clients mutate it through the
// worker's HTTP handlers; the coordinator overwrites it wholesale with
// ReplaceAll whenever a snapshot of the canonical collection arrives.
//
// # Records
//
// A Record is identified by a UUID minted in Create. The id is never
// rewritten by Update, so replicas and the canonical collection can always
// match records by id.
//
// # Concurrency
//
// MemoryStore guards its slice with a sync.RWMutex:
//   - Get, GetAll and Stats take the read lock
//   - Create, Update, Delete and ReplaceAll take the write lock
//   - Records are copied on the way in and out, callers never share
//     the hobbies slice with the store
//
// # Ordering
//
// Records are kept in insertion order. Delete preserves the relative order
// of the remaining entries, and ReplaceAll adopts the order of the snapshot.
package storage
