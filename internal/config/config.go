// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Environment variables understood by usersvc.
const (
	EnvPort           = "PORT"
	EnvHost           = "HOST"
	EnvWorkers        = "USERSVC_WORKERS"
	EnvHealthInterval = "USERSVC_HEALTH_INTERVAL"
	EnvSendTimeout    = "USERSVC_SEND_TIMEOUT"
	EnvReadyTimeout   = "USERSVC_READY_TIMEOUT"
	EnvWorkerID       = "USERSVC_WORKER_ID"
	EnvWorkerPort     = "USERSVC_WORKER_PORT"
)

// Config holds the settings for both the coordinator and forked workers.
type Config struct {
	Host string // interface workers bind to and the router proxies to
	Port int    // public router port; worker i listens on Port+i

	Workers        int           // size of the worker pool
	HealthInterval time.Duration // how often workers' /health is probed
	SendTimeout    time.Duration // write deadline for one snapshot to one worker
	ReadyTimeout   time.Duration // how long startup waits for WORKER_READY

	// Set only in forked workers.
	WorkerID   string
	WorkerPort int
}

// NewConfig creates a Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Host:           "127.0.0.1",
		Port:           3000,
		Workers:        DefaultWorkers(),
		HealthInterval: 5 * time.Second,
		SendTimeout:    2 * time.Second,
		ReadyTimeout:   10 * time.Second,
	}
}

// DefaultWorkers is available parallelism minus one core kept for the
// coordinator, but never less than one worker.
func DefaultWorkers() int {
	if n := runtime.NumCPU() - 1; n > 0 {
		return n
	}
	return 1
}

// Load builds a Config from defaults overridden by the environment.
func Load() (*Config, error) {
	c := NewConfig()
	c.Host = getenv(EnvHost, c.Host)

	var err error
	if c.Port, err = intEnv(EnvPort, c.Port); err != nil {
		return nil, err
	}
	if c.Workers, err = intEnv(EnvWorkers, c.Workers); err != nil {
		return nil, err
	}
	if c.HealthInterval, err = durationEnv(EnvHealthInterval, c.HealthInterval); err != nil {
		return nil, err
	}
	if c.SendTimeout, err = durationEnv(EnvSendTimeout, c.SendTimeout); err != nil {
		return nil, err
	}
	if c.ReadyTimeout, err = durationEnv(EnvReadyTimeout, c.ReadyTimeout); err != nil {
		return nil, err
	}

	c.WorkerID = os.Getenv(EnvWorkerID)
	if c.WorkerPort, err = intEnv(EnvWorkerPort, 0); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%s out of range: %d", EnvPort, c.Port)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", EnvWorkers, c.Workers)
	}
	if c.Port+c.Workers > 65535 {
		return fmt.Errorf("worker ports %d..%d exceed 65535", c.Port+1, c.Port+c.Workers)
	}
	if c.HealthInterval <= 0 || c.SendTimeout <= 0 || c.ReadyTimeout <= 0 {
		return fmt.Errorf("timeouts and intervals must be positive")
	}
	if c.IsWorker() && (c.WorkerPort <= 0 || c.WorkerPort > 65535) {
		return fmt.Errorf("%s out of range: %d", EnvWorkerPort, c.WorkerPort)
	}
	return nil
}

// IsWorker reports whether this process was forked by a coordinator.
func (c *Config) IsWorker() bool {
	return c.WorkerID != ""
}

// WorkerAddr is the host:port of the i-th worker (1-based).
func (c *Config) WorkerAddr(i int) string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port+i)
}

// PublicAddr is the router's listen address.
func (c *Config) PublicAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", k, v, err)
	}
	return n, nil
}

func durationEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", k, v, err)
	}
	return d, nil
}
