// Package coordinator implements the primary process of usersvc: it forks
// the worker pool, owns the canonical record collection, and load balances
// client traffic across the workers.
//
// # Overview
//
// The coordinator is the only process that sees every mutation. Workers
// serve requests from their own replica and report each mutation they make;
// the coordinator folds reports into the canonical collection and pushes the
// complete result back to every worker as a SYNC_DATA snapshot.
//
//	┌─────────────────────────────────────┐
//	│            COORDINATOR              │
//	├─────────────────────────────────────┤
//	│  ┌───────────────────────────────┐  │
//	│  │   Router                      │  │
//	│  │   - Round-robin selection     │  │
//	│  │   - Verbatim HTTP proxy       │  │
//	│  └───────────────────────────────┘  │
//	│  ┌───────────────────────────────┐  │
//	│  │   Event loop                  │  │
//	│  │   - Canonical collection      │  │
//	│  │   - Replication lock + queue  │  │
//	│  │   - Snapshot broadcast        │  │
//	│  └───────────────────────────────┘  │
//	│  ┌───────────────────────────────┐  │
//	│  │   Worker registry             │  │
//	│  │   - starting / ready / dead   │  │
//	│  │   - Health monitoring         │  │
//	│  └───────────────────────────────┘  │
//	└─────────────────────────────────────┘
//
// # Replication Cycle
//
// A mutation report moves the coordinator from Open to Locked:
//
//  1. The report is applied to the canonical collection
//  2. The whole collection is sent to every ready worker, concurrently,
//     each send bounded by Config.SendTimeout
//  3. Once every send has completed or failed the state returns to Open
//  4. Requests that arrived while Locked are dispatched in arrival order
//  5. The next buffered report, if any, starts a new cycle
//
// Reports that arrive while Locked wait in their own FIFO buffer, so
// concurrent mutations are never lost; each one gets its own cycle.
//
// # Concurrency Model
//
// Everything above happens on a single goroutine. Readers of worker
// channels, the router, the health monitor and broadcast completions talk
// to it through a mailbox; none of them touch the collection, the queue or
// the round-robin cursor directly.
//
// # Failure Handling
//
// A worker is marked dead when its process exits, when its channel closes,
// when a snapshot send to it fails, or after three consecutive failed
// health checks. Dead workers are skipped by
// round-robin and by broadcasts and are never restarted. With no ready
// workers left, the router answers 503. A worker that dies before the pool
// is ready aborts Start.
//
// # Usage
//
//	c := coordinator.New(cfg, &coordinator.ProcessSpawner{})
//	if err := c.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Stop()
//	http.ListenAndServe(cfg.PublicAddr(), coordinator.NewRouter(c))
package coordinator
