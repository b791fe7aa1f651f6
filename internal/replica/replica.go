// Package replica keeps a worker's local copy of the record collection and
// reports every local mutation to the coordinator.
package replica

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/usersvc/internal/cluster"
	"github.com/dreamware/usersvc/internal/storage"
)

// Reporter delivers mutation reports to the coordinator.
// cluster.Channel satisfies it.
type Reporter interface {
	Send(ctx context.Context, msg cluster.Message) error
}

// ReplicaState reflects whether the replica has seen a snapshot yet
type ReplicaState string

const (
	// ReplicaStateEmpty means no snapshot has been applied since start
	ReplicaStateEmpty ReplicaState = "empty"
	// ReplicaStateSynced means at least one snapshot has been applied
	ReplicaStateSynced ReplicaState = "synced"
)

// Replica is one worker's view of the collection.
// The store is mutated locally by CRUD requests and replaced wholesale by
// snapshots from the coordinator.
type Replica struct {
	WorkerID string        // Owning worker
	Store    storage.Store // Local record store
	Stats    *ReplicaStats // Operation statistics
	reporter Reporter      // Link to the coordinator, may be nil
	state    ReplicaState  // Current replica state
	lastSync time.Time     // When the last snapshot was applied
	mu       sync.RWMutex  // Protects state and lastSync
}

// ReplicaStats tracks operational statistics for a replica
type ReplicaStats struct {
	Ops     OperationStats     // Operation counts
	Storage storage.StoreStats // Storage statistics
}

// OperationStats tracks operation counts
type OperationStats struct {
	Gets          uint64 `json:"gets"`
	Creates       uint64 `json:"creates"`
	Updates       uint64 `json:"updates"`
	Deletes       uint64 `json:"deletes"`
	Syncs         uint64 `json:"syncs"`
	ReportsFailed uint64 `json:"reports_failed"`
}

// ReplicaInfo contains metadata about a replica
type ReplicaInfo struct {
	WorkerID string         `json:"worker_id"`
	State    ReplicaState   `json:"state"`
	Records  int            `json:"records"`
	LastSync time.Time      `json:"last_sync"`
	Ops      OperationStats `json:"operations"`
}

// New creates a replica over an empty in-memory store.
// reporter may be nil, in which case mutations stay local.
func New(workerID string, reporter Reporter) *Replica {
	return &Replica{
		WorkerID: workerID,
		Store:    storage.NewMemoryStore(),
		Stats:    &ReplicaStats{},
		reporter: reporter,
		state:    ReplicaStateEmpty,
	}
}

// Get retrieves one record
func (r *Replica) Get(id string) (storage.Record, error) {
	atomic.AddUint64(&r.Stats.Ops.Gets, 1)
	return r.Store.Get(id)
}

// GetAll returns every record in the replica
func (r *Replica) GetAll() []storage.Record {
	atomic.AddUint64(&r.Stats.Ops.Gets, 1)
	return r.Store.GetAll()
}

// Create inserts locally and reports DATA_CREATED
func (r *Replica) Create(ctx context.Context, data storage.RecordData) storage.Record {
	atomic.AddUint64(&r.Stats.Ops.Creates, 1)
	rec := r.Store.Create(data)
	r.report(ctx, cluster.MessageDataCreated, rec)
	return rec
}

// Update rewrites locally and reports DATA_UPDATED
func (r *Replica) Update(ctx context.Context, id string, data storage.RecordData) (storage.Record, error) {
	atomic.AddUint64(&r.Stats.Ops.Updates, 1)
	rec, err := r.Store.Update(id, data)
	if err != nil {
		return storage.Record{}, err
	}
	r.report(ctx, cluster.MessageDataUpdated, rec)
	return rec, nil
}

// Delete removes locally and reports DATA_DELETED
func (r *Replica) Delete(ctx context.Context, id string) error {
	atomic.AddUint64(&r.Stats.Ops.Deletes, 1)
	rec, err := r.Store.Get(id)
	if err != nil {
		return err
	}
	if err := r.Store.Delete(id); err != nil {
		return err
	}
	r.report(ctx, cluster.MessageDataDeleted, rec)
	return nil
}

// Sync replaces the replica contents with a coordinator snapshot
func (r *Replica) Sync(records []storage.Record) {
	atomic.AddUint64(&r.Stats.Ops.Syncs, 1)
	r.Store.ReplaceAll(records)

	r.mu.Lock()
	r.state = ReplicaStateSynced
	r.lastSync = time.Now()
	r.mu.Unlock()
}

// report sends a mutation to the coordinator without waiting for any
// acknowledgement. A lost report leaves the canonical collection unaware
// of the mutation; it is logged, never surfaced to the client.
//
// The local write has already happened, so the report must go out even if
// ctx (usually the client's request) is canceled by now.
func (r *Replica) report(ctx context.Context, t cluster.MessageType, rec storage.Record) {
	if r.reporter == nil {
		return
	}
	msg, err := cluster.ReportMessage(t, rec)
	if err == nil {
		err = r.reporter.Send(context.WithoutCancel(ctx), msg)
	}
	if err != nil {
		atomic.AddUint64(&r.Stats.Ops.ReportsFailed, 1)
		log.Printf("worker[%s] failed to report %s for %s: %v", r.WorkerID, t, rec.ID, err)
	}
}

// GetStats returns current replica statistics
func (r *Replica) GetStats() ReplicaStats {
	return ReplicaStats{
		Ops: OperationStats{
			Gets:          atomic.LoadUint64(&r.Stats.Ops.Gets),
			Creates:       atomic.LoadUint64(&r.Stats.Ops.Creates),
			Updates:       atomic.LoadUint64(&r.Stats.Ops.Updates),
			Deletes:       atomic.LoadUint64(&r.Stats.Ops.Deletes),
			Syncs:         atomic.LoadUint64(&r.Stats.Ops.Syncs),
			ReportsFailed: atomic.LoadUint64(&r.Stats.Ops.ReportsFailed),
		},
		Storage: r.Store.Stats(),
	}
}

// Info returns metadata about the replica
func (r *Replica) Info() ReplicaInfo {
	r.mu.RLock()
	state, lastSync := r.state, r.lastSync
	r.mu.RUnlock()

	stats := r.GetStats()
	return ReplicaInfo{
		WorkerID: r.WorkerID,
		State:    state,
		Records:  stats.Storage.Records,
		LastSync: lastSync,
		Ops:      stats.Ops,
	}
}
