// Package worker implements one process of the worker pool: it serves
// CRUD requests from its own replica, reports mutations to the
// coordinator and applies the snapshots the coordinator sends back.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/dreamware/usersvc/internal/cluster"
	"github.com/dreamware/usersvc/internal/replica"
)

// Worker owns one replica and one listener.
type Worker struct {
	ID      string
	Replica *replica.Replica

	channel cluster.Channel
}

// New creates a worker whose replica reports over ch.
// The worker takes ownership of ch and closes it when Run returns.
func New(id string, ch cluster.Channel) *Worker {
	return &Worker{
		ID:      id,
		Replica: replica.New(id, ch),
		channel: ch,
	}
}

// Run serves HTTP on ln, announces WORKER_READY and applies snapshots until
// ctx is canceled or the coordinator hangs up.
func (w *Worker) Run(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	addr := ln.Addr().String()
	srv := &http.Server{
		Handler:           NewRouter(w.Replica, addr),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		w.syncLoop()
		// Without a coordinator there is nobody to route to us.
		cancel()
	}()

	if err := w.announce(ctx, addr); err != nil {
		_ = srv.Close()
		_ = w.channel.Close()
		<-syncDone
		return err
	}
	log.Printf("Worker listening on http://%s/", addr)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("worker[%s] shutdown error: %v", w.ID, err)
	}

	_ = w.channel.Close()
	<-syncDone
	log.Printf("worker[%s] stopped", w.ID)
	return runErr
}

func (w *Worker) announce(ctx context.Context, addr string) error {
	msg, err := cluster.NewMessage(cluster.MessageWorkerReady, cluster.WorkerInfo{
		ID:    w.ID,
		Addr:  addr,
		State: cluster.WorkerReady,
	})
	if err != nil {
		return err
	}
	if err := w.channel.Send(ctx, msg); err != nil {
		return fmt.Errorf("announce ready: %w", err)
	}
	return nil
}

func (w *Worker) syncLoop() {
	for {
		msg, err := w.channel.Recv()
		if err != nil {
			if !errors.Is(err, cluster.ErrChannelClosed) {
				log.Printf("worker[%s] coordinator channel error: %v", w.ID, err)
			}
			return
		}
		w.handle(msg)
	}
}

func (w *Worker) handle(msg cluster.Message) {
	switch msg.Type {
	case cluster.MessageSyncData:
		records, err := msg.Records()
		if err != nil {
			log.Printf("worker[%s] dropping snapshot: %v", w.ID, err)
			return
		}
		w.Replica.Sync(records)
	default:
		log.Printf("worker[%s] ignoring unexpected %s message", w.ID, msg.Type)
	}
}
