// Command usersvc serves the users API from a pool of worker processes
// behind a round-robin load balancer.
//
// The same binary plays both roles. Started normally it is the
// coordinator: it forks one worker per configured slot, waits for all of
// them to report ready, then listens on PORT and proxies each request to
// the next worker. Started with USERSVC_WORKER_ID set (the coordinator
// does this) it is a worker: it serves the API from its own replica on
// PORT+i and talks to the coordinator over inherited pipes.
//
// Environment Variables:
//   - PORT: load balancer port (default 3000)
//   - HOST: interface the workers bind to (default 127.0.0.1)
//   - USERSVC_WORKERS: worker count (default available CPUs minus one)
//   - USERSVC_HEALTH_INTERVAL, USERSVC_SEND_TIMEOUT, USERSVC_READY_TIMEOUT
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dreamware/usersvc/internal/cluster"
	"github.com/dreamware/usersvc/internal/config"
	"github.com/dreamware/usersvc/internal/coordinator"
	"github.com/dreamware/usersvc/internal/worker"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	cfg, err := config.Load()
	if err != nil {
		logFatal("config: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	if cfg.IsWorker() {
		ch, err := cluster.InheritedChannel()
		if err != nil {
			logFatal("worker %s: %v", cfg.WorkerID, err)
			return
		}
		if err := runWorker(ctx, cfg, ch); err != nil {
			logFatal("worker %s: %v", cfg.WorkerID, err)
		}
		return
	}

	ln, err := net.Listen("tcp", cfg.PublicAddr())
	if err != nil {
		logFatal("listen: %v", err)
		return
	}
	if err := runCoordinator(ctx, cfg, &coordinator.ProcessSpawner{}, ln); err != nil {
		logFatal("coordinator: %v", err)
	}
}

// runWorker listens on the worker's port and serves until ctx is canceled
// or the coordinator goes away.
func runWorker(ctx context.Context, cfg *config.Config, ch cluster.Channel) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.WorkerPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return worker.New(cfg.WorkerID, ch).Run(ctx, ln)
}

// runCoordinator brings up the worker pool and then exposes the load
// balancer on ln. Clients are only accepted once every worker is ready.
func runCoordinator(ctx context.Context, cfg *config.Config, spawner coordinator.Spawner, ln net.Listener) error {
	c := coordinator.New(cfg, spawner)
	if err := c.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("start workers: %w", err)
	}
	defer c.Stop()

	srv := &http.Server{
		Handler:           coordinator.NewRouter(c),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	log.Printf("Load balancer listening on http://localhost:%d/", cfg.Port)
	log.Println("Application is ready to use")

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
		log.Printf("Server shutdown error: %v", err)
	}
	return runErr
}
