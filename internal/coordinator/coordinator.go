package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dreamware/usersvc/internal/cluster"
	"github.com/dreamware/usersvc/internal/config"
	"github.com/dreamware/usersvc/internal/storage"
)

var (
	// ErrNoWorkers is returned when every worker is dead.
	ErrNoWorkers = errors.New("no ready workers")
	// ErrReadyTimeout is returned by Start when the pool doesn't come up in time.
	ErrReadyTimeout = errors.New("timed out waiting for workers to become ready")
	// ErrStopped is returned once the coordinator has shut down.
	ErrStopped = errors.New("coordinator stopped")
)

// ReplicationState is the coordinator's position in a replication cycle.
type ReplicationState string

const (
	// StateOpen means requests are dispatched immediately
	StateOpen ReplicationState = "open"
	// StateLocked means a snapshot is in flight and requests are queued
	StateLocked ReplicationState = "locked"
)

// Status is a point-in-time view of the event loop's state.
type Status struct {
	State          ReplicationState `json:"state"`
	Records        []storage.Record `json:"records"`
	Queued         int              `json:"queued"`
	PendingReports int              `json:"pending_reports"`
	Cycles         uint64           `json:"cycles"`
	Workers        []WorkerStatus   `json:"workers"`
}

// WorkerStatus combines a worker's liveness with its latest health probes.
type WorkerStatus struct {
	cluster.WorkerInfo
	Healthy          bool `json:"healthy"`
	ConsecutiveFails int  `json:"consecutive_fails"`
}

// Coordinator owns the worker pool and the canonical collection.
//
// All replication state lives in a single event loop goroutine (run).
// Mutation reports, dispatch requests, snapshot completions and worker
// deaths are events in its mailbox and are handled one at a time, to
// completion. That is what keeps a dispatch decision from interleaving
// with a half-applied mutation; there is no mutex around the canonical
// collection.
type Coordinator struct {
	cfg      *config.Config
	spawner  Spawner
	registry *WorkerRegistry
	health   *HealthMonitor

	// links and exits are filled by Start before any goroutine reads them.
	links map[string]cluster.Channel
	exits map[string]<-chan error

	mailbox  chan event
	ready    chan struct{}
	startErr chan error

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Owned by the event loop.
	canonical *Collection
	state     ReplicationState
	queue     []*dispatchRequest
	pending   []reportEvent
	cursor    int
	admitted  bool
	cycles    uint64
}

// New creates a coordinator that will fork cfg.Workers workers through spawner.
func New(cfg *config.Config, spawner Spawner) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		spawner:   spawner,
		registry:  NewWorkerRegistry(),
		health:    NewHealthMonitor(cfg.HealthInterval),
		links:     make(map[string]cluster.Channel),
		exits:     make(map[string]<-chan error),
		mailbox:   make(chan event, 1024),
		ready:     make(chan struct{}),
		startErr:  make(chan error, 1),
		canonical: NewCollection(),
		state:     StateOpen,
	}
}

// Registry exposes the worker registry.
func (c *Coordinator) Registry() *WorkerRegistry {
	return c.registry
}

// Start forks the pool and blocks until every worker has reported ready.
// Only then should the router be exposed to clients.
func (c *Coordinator) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	log.Printf("coordinator: waiting for %d workers to start", c.cfg.Workers)
	for i := 1; i <= c.cfg.Workers; i++ {
		id := fmt.Sprintf("w-%d", i)
		if err := c.registry.Register(id, c.cfg.WorkerAddr(i)); err != nil {
			c.Stop()
			return err
		}
		link, exited, err := c.spawner.Spawn(c.ctx, id, c.cfg.Port+i)
		if err != nil {
			c.Stop()
			return fmt.Errorf("spawn worker %s: %w", id, err)
		}
		c.links[id] = link
		c.exits[id] = exited
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()

	for id, link := range c.links {
		id, link := id, link
		c.wg.Add(2)
		go func() {
			defer c.wg.Done()
			c.readLoop(id, link)
		}()
		go func() {
			defer c.wg.Done()
			c.watchExit(id, c.exits[id])
		}()
	}

	timer := time.NewTimer(c.cfg.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-c.ready:
	case err := <-c.startErr:
		c.Stop()
		return err
	case <-timer.C:
		c.Stop()
		return ErrReadyTimeout
	case <-ctx.Done():
		c.Stop()
		return ctx.Err()
	}

	c.health.SetOnUnhealthy(func(id string) {
		c.MarkDead(id, "failed health checks")
	})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.health.Start(c.ctx, c.registry.Ready)
	}()

	log.Printf("coordinator: all %d workers ready", c.cfg.Workers)
	return nil
}

// Stop cancels the event loop and closes every worker channel. Forked
// workers exit once their channel closes.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		for id, link := range c.links {
			if err := link.Close(); err != nil {
				log.Printf("coordinator: closing channel to %s: %v", id, err)
			}
		}
		c.wg.Wait()
		c.health.Stop()
		log.Println("coordinator stopped")
	})
}

// Acquire picks the worker that should serve the next request. While a
// replication cycle is in flight the request waits in a FIFO queue.
func (c *Coordinator) Acquire(ctx context.Context) (cluster.WorkerInfo, error) {
	req := &dispatchRequest{reply: make(chan dispatchResult, 1)}
	if err := c.post(ctx, dispatchEvent{req: req}); err != nil {
		return cluster.WorkerInfo{}, err
	}

	select {
	case res := <-req.reply:
		return res.worker, res.err
	case <-ctx.Done():
		// The loop still dispatches it later, advancing round-robin.
		return cluster.WorkerInfo{}, ctx.Err()
	case <-c.ctx.Done():
		return cluster.WorkerInfo{}, ErrStopped
	}
}

// Status returns a snapshot of the event loop's state.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := c.post(ctx, statusEvent{reply: reply}); err != nil {
		return Status{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-c.ctx.Done():
		return Status{}, ErrStopped
	}
}

// MarkDead takes a worker out of rotation. It is never restarted.
func (c *Coordinator) MarkDead(id, reason string) {
	_ = c.post(c.ctx, workerDownEvent{id: id, reason: reason})
}

func (c *Coordinator) post(ctx context.Context, ev event) error {
	select {
	case c.mailbox <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrStopped
	}
}

// readLoop forwards one worker's messages to the event loop in the order
// they were sent.
func (c *Coordinator) readLoop(id string, link cluster.Channel) {
	for {
		msg, err := link.Recv()
		if err != nil {
			if !errors.Is(err, cluster.ErrChannelClosed) {
				log.Printf("coordinator: channel to %s failed: %v", id, err)
			}
			_ = c.post(c.ctx, workerDownEvent{id: id, reason: "channel closed"})
			return
		}

		switch {
		case msg.Type == cluster.MessageWorkerReady:
			var info cluster.WorkerInfo
			if err := msg.Decode(&info); err != nil {
				log.Printf("coordinator: bad ready message from %s: %v", id, err)
				continue
			}
			_ = c.post(c.ctx, readyEvent{id: id, addr: info.Addr})
		case msg.Type.IsMutation():
			_ = c.post(c.ctx, reportEvent{from: id, msg: msg})
		default:
			log.Printf("coordinator: ignoring unexpected %s message from %s", msg.Type, id)
		}
	}
}

func (c *Coordinator) watchExit(id string, exited <-chan error) {
	select {
	case err := <-exited:
		reason := "exited"
		if err != nil {
			reason = fmt.Sprintf("exited: %v", err)
		}
		_ = c.post(c.ctx, workerDownEvent{id: id, reason: reason})
	case <-c.ctx.Done():
	}
}
