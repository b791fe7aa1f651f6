package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/dreamware/usersvc/internal/cluster"
)

// Dispatcher hands out the worker that should serve the next request.
// *Coordinator implements it.
type Dispatcher interface {
	Acquire(ctx context.Context) (cluster.WorkerInfo, error)
}

// Router is the public load balancer. Each request is assigned a worker
// by the dispatcher (round-robin, queued while a replication cycle is in
// flight) and then proxied to it unchanged.
type Router struct {
	dispatcher Dispatcher
	client     *http.Client
}

// NewRouter creates a router in front of d.
func NewRouter(d Dispatcher) *Router {
	return &Router{
		dispatcher: d,
		client: &http.Client{
			// No timeout: a slow worker holds its request as long as it takes.
			Transport: &http.Transport{
				DisableCompression:  true,
				MaxIdleConnsPerHost: 64,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, err := rt.dispatcher.Acquire(r.Context())
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// client went away while queued
		return
	case errors.Is(err, ErrNoWorkers), errors.Is(err, ErrStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rt.forward(target, w, r)
}

// forward relays method, path, headers and body to the worker and the
// worker's status, headers and body back. There is no retry: if the worker
// can't be reached the client gets 502.
func (rt *Router) forward(target cluster.WorkerInfo, w http.ResponseWriter, r *http.Request) {
	targetURL := fmt.Sprintf("http://%s%s", target.Addr, r.URL.RequestURI())

	req, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, r.Body)
	if err != nil {
		http.Error(w, "failed to create request", http.StatusInternalServerError)
		return
	}
	req.Header = r.Header.Clone()
	if _, ok := req.Header["User-Agent"]; !ok {
		// keep the transport from adding its own
		req.Header.Set("User-Agent", "")
	}
	req.Host = r.Host
	req.ContentLength = r.ContentLength
	if r.ContentLength == 0 {
		req.Body = http.NoBody
	}

	resp, err := rt.client.Do(req)
	if err != nil {
		log.Printf("forward %s %s to worker %s: %v", r.Method, r.URL.Path, target.ID, err)
		http.Error(w, fmt.Sprintf("failed to forward request: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	// Copy response back to client
	header := w.Header()
	for k, vv := range resp.Header {
		header[k] = append([]string(nil), vv...)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Printf("relay response from worker %s: %v", target.ID, err)
	}
}
