package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/usersvc/internal/cluster"
	"github.com/dreamware/usersvc/internal/config"
)

// goroutineSpawner runs workers in-process through runWorker.
type goroutineSpawner struct {
	err error
}

func (s goroutineSpawner) Spawn(ctx context.Context, id string, _ int) (cluster.Channel, <-chan error, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	coordSide, workerSide := cluster.Pipe()
	cfg := workerConfig(id)

	exited := make(chan error, 1)
	go func() {
		exited <- runWorker(ctx, cfg, workerSide)
	}()
	return coordSide, exited, nil
}

func workerConfig(id string) *config.Config {
	cfg := config.NewConfig()
	cfg.Host = "127.0.0.1"
	cfg.WorkerID = id
	cfg.WorkerPort = 0
	return cfg
}

func TestRunWorker(t *testing.T) {
	coordSide, workerSide := cluster.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runWorker(ctx, workerConfig("w-1"), workerSide) }()

	msg, err := coordSide.Recv()
	require.NoError(t, err)
	require.Equal(t, cluster.MessageWorkerReady, msg.Type)

	var info cluster.WorkerInfo
	require.NoError(t, msg.Decode(&info))
	assert.Equal(t, "w-1", info.ID)
	assert.True(t, strings.HasPrefix(info.Addr, "127.0.0.1:"))

	resp, err := http.Get("http://" + info.Addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRunWorkerListenError(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := workerConfig("w-1")
	cfg.WorkerPort = taken.Addr().(*net.TCPAddr).Port

	coordSide, workerSide := cluster.Pipe()
	err = runWorker(context.Background(), cfg, workerSide)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")

	// The coordinator sees the channel go away.
	_, err = coordSide.Recv()
	assert.ErrorIs(t, err, cluster.ErrChannelClosed)
}

func TestRunCoordinator(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	cfg := config.NewConfig()
	cfg.Workers = 2
	cfg.HealthInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runCoordinator(ctx, cfg, goroutineSpawner{}, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/users")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Post(base+"/api/users", "application/json",
		strings.NewReader(`{"username":"Roby","age":25,"hobbies":[]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("coordinator did not stop")
	}
}

func TestRunCoordinatorStartFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := config.NewConfig()
	cfg.Workers = 1

	err = runCoordinator(context.Background(), cfg, goroutineSpawner{err: errors.New("fork failed")}, ln)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fork failed")

	// The listener is released on failure.
	_, err = net.Dial("tcp", ln.Addr().String())
	assert.Error(t, err, fmt.Sprintf("%s should be closed", ln.Addr()))
}
