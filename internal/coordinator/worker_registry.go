// Package coordinator implements the primary process of usersvc.
// See doc.go for complete package documentation.
package coordinator

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/usersvc/internal/cluster"
)

// ErrWorkerDead is returned when a dead worker tries to come back.
var ErrWorkerDead = errors.New("worker is dead")

// WorkerRegistry tracks the forked worker pool and each worker's liveness,
// serving as the authoritative source for routing and broadcast targets.
//
// Liveness moves in one direction only:
//
//	starting ──▶ ready ──▶ dead
//	    │                   ▲
//	    └───────────────────┘
//
// A dead worker is never revived; the coordinator does not restart
// workers, so its slot stays in the registry and is skipped forever.
//
// Ordering:
//   - Workers are kept in registration order
//   - All() and Ready() return that order, which is what makes
//     round-robin selection periodic
//
// Concurrency Model:
//   - Read operations use RLock for parallel access
//   - Write operations use Lock for exclusive access
//   - All returned data is copied to prevent races
type WorkerRegistry struct {
	// workers maps worker IDs to their current info.
	workers map[string]*cluster.WorkerInfo

	// order holds worker IDs in registration order.
	order []string

	// mu protects workers and order.
	mu sync.RWMutex
}

// NewWorkerRegistry creates an empty registry.
func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{
		workers: make(map[string]*cluster.WorkerInfo),
	}
}

// Register adds a worker in the starting state. Registering an existing
// ID updates its address but keeps its position.
//
// Parameters:
//   - id: Worker ID (must be non-empty)
//   - addr: host:port the worker is expected to listen on
func (r *WorkerRegistry) Register(id, addr string) error {
	if id == "" {
		return errors.New("worker ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.workers[id]; ok {
		w.Addr = addr
		return nil
	}
	r.workers[id] = &cluster.WorkerInfo{ID: id, Addr: addr, State: cluster.WorkerStarting}
	r.order = append(r.order, id)
	return nil
}

// MarkReady records that a worker is listening on addr and may take traffic.
// An empty addr keeps the registered one.
//
// Returns:
//   - nil on success
//   - Error if the worker is unknown
//   - ErrWorkerDead if the worker was already declared dead
func (r *WorkerRegistry) MarkReady(id, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return fmt.Errorf("worker %s not registered", id)
	}
	if w.State == cluster.WorkerDead {
		return fmt.Errorf("worker %s: %w", id, ErrWorkerDead)
	}
	if addr != "" {
		w.Addr = addr
	}
	w.State = cluster.WorkerReady
	return nil
}

// MarkDead takes a worker out of rotation for good.
// Returns true if this call changed the state.
func (r *WorkerRegistry) MarkDead(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok || w.State == cluster.WorkerDead {
		return false
	}
	w.State = cluster.WorkerDead
	return true
}

// Get returns a copy of one worker's info.
func (r *WorkerRegistry) Get(id string) (cluster.WorkerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[id]
	if !ok {
		return cluster.WorkerInfo{}, false
	}
	return *w, true
}

// All returns every worker in registration order, dead ones included.
func (r *WorkerRegistry) All() []cluster.WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]cluster.WorkerInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.workers[id])
	}
	return out
}

// Ready returns the workers currently able to take traffic.
func (r *WorkerRegistry) Ready() []cluster.WorkerInfo {
	all := r.All()
	return slices.DeleteFunc(all, func(w cluster.WorkerInfo) bool {
		return w.State != cluster.WorkerReady
	})
}

// CountState returns how many workers are in state.
func (r *WorkerRegistry) CountState(state cluster.WorkerState) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, w := range r.workers {
		if w.State == state {
			n++
		}
	}
	return n
}

// Len returns the number of registered workers.
func (r *WorkerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
