package coordinator

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/usersvc/internal/cluster"
)

// event is anything the event loop reacts to.
type event interface{}

type readyEvent struct {
	id   string
	addr string
}

type reportEvent struct {
	from string
	msg  cluster.Message
}

type dispatchEvent struct {
	req *dispatchRequest
}

type broadcastDoneEvent struct {
	cycle uint64
}

type workerDownEvent struct {
	id     string
	reason string
}

type statusEvent struct {
	reply chan Status
}

type dispatchRequest struct {
	reply chan dispatchResult // buffered, the loop never blocks on it
}

type dispatchResult struct {
	worker cluster.WorkerInfo
	err    error
}

func (c *Coordinator) run() {
	for {
		select {
		case <-c.ctx.Done():
			for _, req := range c.queue {
				req.reply <- dispatchResult{err: ErrStopped}
			}
			c.queue = nil
			return
		case ev := <-c.mailbox:
			c.handle(ev)
		}
	}
}

func (c *Coordinator) handle(ev event) {
	switch ev := ev.(type) {
	case readyEvent:
		if err := c.registry.MarkReady(ev.id, ev.addr); err != nil {
			log.Printf("coordinator: %v", err)
			return
		}
		log.Printf("coordinator: worker %s ready on %s", ev.id, ev.addr)
		if !c.admitted && c.registry.CountState(cluster.WorkerReady) == c.registry.Len() {
			c.admitted = true
			close(c.ready)
		}

	case reportEvent:
		if c.state == StateLocked {
			c.pending = append(c.pending, ev)
			return
		}
		c.startCycle(ev)

	case dispatchEvent:
		if c.state == StateLocked {
			c.queue = append(c.queue, ev.req)
			return
		}
		c.dispatch(ev.req)

	case broadcastDoneEvent:
		if ev.cycle != c.cycles {
			log.Printf("coordinator: cycle %d finished while %d is current", ev.cycle, c.cycles)
		}
		c.unlock()

	case workerDownEvent:
		if !c.registry.MarkDead(ev.id) {
			return
		}
		log.Printf("Worker %s is dead (%s), removed from rotation", ev.id, ev.reason)
		if !c.admitted {
			select {
			case c.startErr <- &workerDownError{id: ev.id, reason: ev.reason}:
			default:
			}
		}

	case statusEvent:
		ev.reply <- Status{
			State:          c.state,
			Records:        c.canonical.Snapshot(),
			Queued:         len(c.queue),
			PendingReports: len(c.pending),
			Cycles:         c.cycles,
			Workers:        c.workerStatuses(),
		}

	default:
		log.Printf("coordinator: unknown event %T", ev)
	}
}

// startCycle applies one mutation report to the canonical collection and
// begins broadcasting the result. The state stays locked until every
// ready worker has been sent the snapshot.
func (c *Coordinator) startCycle(ev reportEvent) {
	rec, err := ev.msg.Record()
	if err != nil {
		log.Printf("coordinator: dropping %s from %s: %v", ev.msg.Type, ev.from, err)
		return
	}

	if !c.canonical.Apply(ev.msg.Type, rec) {
		// Still broadcast: the reporting replica may hold a record the
		// canonical collection doesn't, and the snapshot corrects it.
		log.Printf("coordinator: %s from %s for unknown record %s ignored", ev.msg.Type, ev.from, rec.ID)
	}

	snapshot, err := cluster.SnapshotMessage(c.canonical.Snapshot())
	if err != nil {
		log.Printf("coordinator: encoding snapshot: %v", err)
		return
	}

	c.state = StateLocked
	c.cycles++
	cycle := c.cycles
	targets := c.broadcastTargets()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.broadcast(targets, snapshot)
		_ = c.post(c.ctx, broadcastDoneEvent{cycle: cycle})
	}()
}

// unlock ends a replication cycle: queued requests are dispatched in
// arrival order, then the next buffered report (if any) starts a new cycle.
func (c *Coordinator) unlock() {
	c.state = StateOpen

	queued := c.queue
	c.queue = nil
	for _, req := range queued {
		c.dispatch(req)
	}

	for c.state == StateOpen && len(c.pending) > 0 {
		next := c.pending[0]
		c.pending = c.pending[1:]
		c.startCycle(next)
	}
}

// dispatch answers one request with the next ready worker in round-robin
// order. The cursor moves past the chosen worker whether or not the
// proxied request later succeeds.
func (c *Coordinator) dispatch(req *dispatchRequest) {
	workers := c.registry.All()
	n := len(workers)
	for i := 0; i < n; i++ {
		idx := (c.cursor + i) % n
		if workers[idx].State == cluster.WorkerReady {
			c.cursor = (idx + 1) % n
			req.reply <- dispatchResult{worker: workers[idx]}
			return
		}
	}
	req.reply <- dispatchResult{err: ErrNoWorkers}
}

func (c *Coordinator) workerStatuses() []WorkerStatus {
	workers := c.registry.All()
	out := make([]WorkerStatus, 0, len(workers))
	for _, w := range workers {
		ws := WorkerStatus{WorkerInfo: w, Healthy: c.health.IsHealthy(w.ID)}
		if h := c.health.GetWorkerHealth(w.ID); h != nil {
			ws.ConsecutiveFails = h.ConsecutiveFails
		}
		out = append(out, ws)
	}
	return out
}

type broadcastTarget struct {
	id   string
	link cluster.Channel
}

func (c *Coordinator) broadcastTargets() []broadcastTarget {
	workers := c.registry.All()
	targets := make([]broadcastTarget, 0, len(workers))
	for _, w := range workers {
		if w.State != cluster.WorkerReady {
			log.Printf("coordinator: snapshot to %s worker %s dropped", w.State, w.ID)
			continue
		}
		if link, ok := c.links[w.ID]; ok {
			targets = append(targets, broadcastTarget{id: w.ID, link: link})
		}
	}
	return targets
}

// broadcast sends the snapshot to every target concurrently and returns
// once every send has finished or timed out. There are no acks or retries.
// A worker whose send fails is taken out of rotation: the write may have
// stopped mid-frame, so nothing more can be sent on that channel.
func (c *Coordinator) broadcast(targets []broadcastTarget, msg cluster.Message) {
	var g errgroup.Group
	for _, t := range targets {
		t := t
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(c.ctx, c.cfg.SendTimeout)
			defer cancel()
			err := t.link.Send(ctx, msg)
			if err == nil || c.ctx.Err() != nil {
				return nil
			}
			log.Printf("coordinator: snapshot to worker %s failed: %v", t.id, err)
			_ = t.link.Close()
			_ = c.post(c.ctx, workerDownEvent{id: t.id, reason: "snapshot send failed"})
			return err
		})
	}
	_ = g.Wait()
}

type workerDownError struct {
	id     string
	reason string
}

func (e *workerDownError) Error() string {
	return "worker " + e.id + " died before becoming ready: " + e.reason
}
