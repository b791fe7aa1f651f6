package cluster

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrChannelClosed is returned once the other side has hung up.
var ErrChannelClosed = errors.New("channel closed")

// File descriptors a forked worker finds its channel on.
// The coordinator passes them through exec.Cmd.ExtraFiles, which start at 3.
const (
	ReportFD   = 3 // worker writes mutation reports and WORKER_READY
	SnapshotFD = 4 // worker reads SYNC_DATA
)

// Channel is a bidirectional message link between the coordinator and
// one worker. Send may be called from many goroutines; Recv from one.
type Channel interface {
	Send(ctx context.Context, msg Message) error
	Recv() (Message, error)
	Close() error
}

type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// StreamChannel frames msgpack-encoded messages over a reader/writer pair,
// typically the two ends of inherited OS pipes.
type StreamChannel struct {
	r   io.Reader
	w   io.Writer
	dec *msgpack.Decoder

	sendMu sync.Mutex
	broken bool // a failed write may have left a partial frame behind
	closed sync.Once
}

// NewStreamChannel reads messages from r and writes them to w.
func NewStreamChannel(r io.Reader, w io.Writer) *StreamChannel {
	return &StreamChannel{
		r:   r,
		w:   w,
		dec: msgpack.NewDecoder(bufio.NewReader(r)),
	}
}

// Send writes one message. If ctx carries a deadline and the writer
// supports write deadlines (os.File pipes do), a stalled peer makes Send
// fail instead of blocking forever.
func (c *StreamChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := msgpack.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.broken {
		return ErrChannelClosed
	}

	if dw, ok := c.w.(deadlineWriter); ok {
		if deadline, ok := ctx.Deadline(); ok {
			_ = dw.SetWriteDeadline(deadline)
			defer dw.SetWriteDeadline(time.Time{})
		}
	}

	if _, err := c.w.Write(frame); err != nil {
		c.broken = true
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
			return ErrChannelClosed
		}
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Recv blocks until the next message arrives.
func (c *StreamChannel) Recv() (Message, error) {
	var msg Message
	if err := c.dec.Decode(&msg); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
			errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
			return Message{}, ErrChannelClosed
		}
		return Message{}, fmt.Errorf("read message: %w", err)
	}
	return msg, nil
}

// Close closes both underlying streams when they are closable.
func (c *StreamChannel) Close() error {
	var errs []error
	c.closed.Do(func() {
		if wc, ok := c.w.(io.Closer); ok {
			errs = append(errs, wc.Close())
		}
		if rc, ok := c.r.(io.Closer); ok {
			errs = append(errs, rc.Close())
		}
	})
	return errors.Join(errs...)
}

// Pipe returns two connected in-memory channels. Whatever one side sends
// the other receives, in order.
func Pipe() (Channel, Channel) {
	aR, bW := io.Pipe()
	bR, aW := io.Pipe()
	return NewStreamChannel(aR, aW), NewStreamChannel(bR, bW)
}

// InheritedChannel opens the channel a forked worker was started with.
func InheritedChannel() (*StreamChannel, error) {
	reports := os.NewFile(ReportFD, "reports")
	snapshots := os.NewFile(SnapshotFD, "snapshots")
	if reports == nil || snapshots == nil {
		return nil, fmt.Errorf("worker channel fds %d/%d not inherited", ReportFD, SnapshotFD)
	}
	return NewStreamChannel(snapshots, reports), nil
}
