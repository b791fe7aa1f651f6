// Package cluster defines what the coordinator and its workers say to each
// other and how they say it.
//
// # Overview
//
// The coordinator forks a fixed pool of worker processes on the same host.
// Each worker gets a Channel back to the coordinator made of two inherited
// pipes. Nothing else is shared between the processes.
//
//	               ┌──────────────┐
//	               │ Coordinator  │
//	               │              │
//	               │ - Canonical  │
//	               │ - Router     │
//	               └──────┬───────┘
//	        SYNC_DATA ▼   │   ▲ DATA_CREATED / DATA_UPDATED / DATA_DELETED
//	      ┌───────────────┼───────────────┐
//	      │               │               │
//	┌─────▼─────┐   ┌─────▼─────┐   ┌─────▼─────┐
//	│ Worker 1  │   │ Worker 2  │   │ Worker 3  │
//	│  replica  │   │  replica  │   │  replica  │
//	└───────────┘   └───────────┘   └───────────┘
//
// # Messages
//
// Every Message is a type tag plus a msgpack payload:
//   - WORKER_READY (worker→coordinator): WorkerInfo, sent once the worker listens
//   - DATA_CREATED, DATA_UPDATED, DATA_DELETED (worker→coordinator): the affected storage.Record
//   - SYNC_DATA (coordinator→worker): the complete canonical []storage.Record
//
// Delivery is at-most-once. Messages from one sender arrive in the order
// they were sent; there is no ordering across senders.
//
// # Channels
//
// StreamChannel frames messages back to back on a byte stream. Workers open
// theirs with InheritedChannel (fds 3 and 4); tests use Pipe to connect an
// in-process worker to a coordinator.
//
// A Send that fails part way poisons the channel: every later Send returns
// ErrChannelClosed, since the peer can no longer find frame boundaries.
package cluster
