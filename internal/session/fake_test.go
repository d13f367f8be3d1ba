package session

import (
	"context"
	"errors"
	"sync"

	"github.com/devshojol/HC-06-Controller/internal/bt"
)

// fakeBinding records every transport operation, in order, across all
// connections it hands out.
type fakeBinding struct {
	mu       sync.Mutex
	devices  []bt.Device
	listErr  error
	openErr  error
	openGate chan struct{} // When set, Open waits for it (or ctx)
	ops      []string
	conns    []*fakeConn

	writeErr  error
	closeErr  error
	closeGate chan struct{} // When set, Conn.Close waits for it
}

func (b *fakeBinding) record(op string) {
	b.mu.Lock()
	b.ops = append(b.ops, op)
	b.mu.Unlock()
}

func (b *fakeBinding) Ops() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.ops...)
}

func (b *fakeBinding) lastConn() *fakeConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.conns) == 0 {
		return nil
	}
	return b.conns[len(b.conns)-1]
}

func (b *fakeBinding) Name() string { return "fake" }

func (b *fakeBinding) ListBonded(ctx context.Context) ([]bt.Device, error) {
	b.record("list")
	if b.listErr != nil {
		return nil, b.listErr
	}
	return b.devices, nil
}

func (b *fakeBinding) Open(ctx context.Context, dev bt.Device, opts bt.Options) (bt.Conn, error) {
	b.record("open:" + dev.Address)
	if b.openGate != nil {
		select {
		case <-b.openGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.openErr != nil {
		return nil, b.openErr
	}
	c := &fakeConn{
		b:         b,
		writeErr:  b.writeErr,
		closeErr:  b.closeErr,
		closeGate: b.closeGate,
		done:      make(chan struct{}),
	}
	b.mu.Lock()
	b.conns = append(b.conns, c)
	b.mu.Unlock()
	return c, nil
}

type fakeConn struct {
	b *fakeBinding

	mu          sync.Mutex
	onChunk     func([]byte)
	lastOnChunk func([]byte) // Survives Remove, to simulate a late event
	writes      []string
	closed      bool
	writeErr    error
	closeErr    error
	closeGate   chan struct{}
	done        chan struct{}
	err         error
}

var errWriteAfterClose = errors.New("write after close")

func (c *fakeConn) Write(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.b.record("write-after-close")
		return errWriteAfterClose
	}
	c.b.record("write:" + text)
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, text)
	return nil
}

func (c *fakeConn) Subscribe(onChunk func([]byte)) (bt.Subscription, error) {
	c.b.record("subscribe")
	c.mu.Lock()
	c.onChunk = onChunk
	c.lastOnChunk = onChunk
	c.mu.Unlock()
	return &fakeSub{c: c}, nil
}

func (c *fakeConn) Close() error {
	c.b.record("close")
	if c.closeGate != nil {
		<-c.closeGate
	}
	c.end(bt.ErrClosed)
	return c.closeErr
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// drop ends the link from the device side.
func (c *fakeConn) drop(err error) {
	c.b.record("drop")
	c.end(err)
}

func (c *fakeConn) end(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.err == nil {
		c.err = err
		close(c.done)
	}
}

func (c *fakeConn) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onChunk != nil
}

func (c *fakeConn) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

// push delivers chunk the way a transport reader goroutine would.
func (c *fakeConn) push(chunk string) {
	c.mu.Lock()
	fn := c.onChunk
	c.mu.Unlock()
	if fn != nil {
		fn([]byte(chunk))
	}
}

type fakeSub struct {
	c *fakeConn
}

func (s *fakeSub) Remove() {
	s.c.b.record("unsubscribe")
	s.c.mu.Lock()
	s.c.onChunk = nil
	s.c.mu.Unlock()
}
