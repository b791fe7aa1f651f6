package coordinator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/dreamware/usersvc/internal/cluster"
	"github.com/dreamware/usersvc/internal/config"
)

// Spawner starts one worker and returns the coordinator's end of its
// channel plus a channel that yields once the worker has exited.
type Spawner interface {
	Spawn(ctx context.Context, id string, port int) (cluster.Channel, <-chan error, error)
}

// ProcessSpawner forks workers by re-executing the current binary with
// the worker environment variables set.
type ProcessSpawner struct {
	// Path of the binary to run; defaults to os.Executable().
	Path string
	// Args passed to the worker, excluding the program name.
	Args []string
	// Grace period between SIGTERM and SIGKILL on shutdown.
	WaitDelay time.Duration
}

// Spawn starts a worker process. fd 3 carries reports to the coordinator
// and fd 4 carries snapshots to the worker; stdout and stderr are shared
// so every process logs to the same stream.
func (p *ProcessSpawner) Spawn(ctx context.Context, id string, port int) (cluster.Channel, <-chan error, error) {
	path := p.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, nil, fmt.Errorf("locate executable: %w", err)
		}
		path = exe
	}

	reportR, reportW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("report pipe: %w", err)
	}
	snapR, snapW, err := os.Pipe()
	if err != nil {
		reportR.Close()
		reportW.Close()
		return nil, nil, fmt.Errorf("snapshot pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, p.Args...)
	cmd.Env = append(os.Environ(),
		config.EnvWorkerID+"="+id,
		config.EnvWorkerPort+"="+strconv.Itoa(port),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{reportW, snapR} // fds 3 and 4
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = p.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{reportR, reportW, snapR, snapW} {
			f.Close()
		}
		return nil, nil, fmt.Errorf("start worker %s: %w", id, err)
	}

	// The child holds its own copies now.
	reportW.Close()
	snapR.Close()

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(exited)
	}()

	return cluster.NewStreamChannel(reportR, snapW), exited, nil
}
