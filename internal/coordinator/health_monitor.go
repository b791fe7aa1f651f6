package coordinator

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/usersvc/internal/cluster"
)

// Health check outcomes.
const (
	healthUnknown   = "unknown"
	healthHealthy   = "healthy"
	healthUnhealthy = "unhealthy"
)

// WorkerHealth tracks the probe results for a single worker.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type WorkerHealth struct {
	LastCheck        time.Time // Timestamp of the last probe
	LastHealthy      time.Time // Timestamp of the last successful probe
	WorkerID         string    // Worker being probed
	Status           string    // "healthy", "unhealthy" or "unknown"
	ConsecutiveFails int       // Number of consecutive failed probes
}

// HealthMonitor probes every ready worker's /health endpoint on an interval.
// A worker whose process is alive but has stopped answering (hung, wedged
// listener) never produces an exit event, so this is the only way it gets
// taken out of rotation.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	workers     map[string]*WorkerHealth // Current health per worker
	httpClient  *http.Client             // HTTP client for probes
	checkFunc   func(addr string) error  // Function to perform one probe
	onUnhealthy func(workerID string)    // Callback when a worker becomes unhealthy
	ctx         context.Context          // Context for cancellation
	cancel      context.CancelFunc       // Cancel function for shutdown
	interval    time.Duration            // How often to probe
	timeout     time.Duration            // HTTP timeout per probe
	mu          sync.RWMutex             // Protects workers map
	wg          sync.WaitGroup           // Wait group for graceful shutdown
	maxFailures int                      // Failures before marking unhealthy
}

// NewHealthMonitor creates a monitor that probes every interval.
// Workers are marked unhealthy after 3 consecutive failed probes.
//
// Example:
//
//	monitor := NewHealthMonitor(5 * time.Second)
//	monitor.SetOnUnhealthy(func(id string) { coord.MarkDead(id, "failed health checks") })
//	go monitor.Start(ctx, registry.Ready)
func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		workers:     make(map[string]*WorkerHealth),
		httpClient: &http.Client{
			Timeout: 2 * time.Second,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetOnUnhealthy sets the callback invoked once when a worker crosses the
// failure threshold. It runs on its own goroutine.
func (h *HealthMonitor) SetOnUnhealthy(callback func(workerID string)) {
	h.onUnhealthy = callback
}

// SetCheckFunction overrides the probe, mainly for tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.checkFunc = checkFunc
}

// Start probes the workers returned by provider until ctx or the
// monitor itself is canceled. It blocks; run it on its own goroutine.
func (h *HealthMonitor) Start(ctx context.Context, provider func() []cluster.WorkerInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	log.Printf("Health monitor started with interval %v", h.interval)

	h.checkAll(provider())

	for {
		select {
		case <-ticker.C:
			h.checkAll(provider())
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop cancels the monitor and waits for Start to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	log.Println("Health monitor stopped")
}

// checkAll probes each worker and forgets workers no longer provided,
// e.g. ones already marked dead.
func (h *HealthMonitor) checkAll(workers []cluster.WorkerInfo) {
	current := make(map[string]bool, len(workers))
	for _, w := range workers {
		current[w.ID] = true
		h.check(w)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.workers {
		if !current[id] {
			delete(h.workers, id)
		}
	}
}

func (h *HealthMonitor) check(w cluster.WorkerInfo) {
	h.mu.Lock()
	health, exists := h.workers[w.ID]
	if !exists {
		health = &WorkerHealth{
			WorkerID:    w.ID,
			Status:      healthUnknown,
			LastHealthy: time.Now(),
		}
		h.workers[w.ID] = health
	}
	h.mu.Unlock()

	// Probe without holding the lock.
	err := h.checkFunc(w.Addr)

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err == nil {
		if health.Status == healthUnhealthy {
			log.Printf("Worker %s answers health checks again", w.ID)
		}
		health.Status = healthHealthy
		health.ConsecutiveFails = 0
		health.LastHealthy = health.LastCheck
		return
	}

	health.ConsecutiveFails++
	log.Printf("Health check failed for worker %s (attempt %d/%d): %v",
		w.ID, health.ConsecutiveFails, h.maxFailures, err)

	if health.ConsecutiveFails < h.maxFailures || health.Status == healthUnhealthy {
		return
	}
	health.Status = healthUnhealthy
	if h.onUnhealthy != nil {
		go h.onUnhealthy(w.ID)
	}
}

// defaultHealthCheck GETs http://addr/health and expects 200.
func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = fmt.Sprintf("http://%s", addr)
	}
	url = strings.TrimRight(url, "/") + "/health"

	resp, err := h.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetWorkerHealth returns a copy of one worker's health, or nil if the
// worker isn't being monitored.
func (h *HealthMonitor) GetWorkerHealth(workerID string) *WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, ok := h.workers[workerID]
	if !ok {
		return nil
	}
	cp := *health
	return &cp
}

// IsHealthy reports whether the worker's last probes succeeded.
func (h *HealthMonitor) IsHealthy(workerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, ok := h.workers[workerID]
	return ok && health.Status == healthHealthy
}
