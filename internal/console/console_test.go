package console

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devshojol/HC-06-Controller/internal/bt"
	"github.com/devshojol/HC-06-Controller/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is written by dispatch and by manager event goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestConsole(t *testing.T) (*Console, *session.Manager, *syncBuffer) {
	t.Helper()
	binding := bt.NewDemo(bt.DemoConfig{})
	manager := session.NewManager(binding, session.DefaultConfig())
	registry := session.NewRegistry(binding)
	require.NoError(t, registry.Authorize(context.Background(), session.AllowAll))

	out := &syncBuffer{}
	c := newConsole(manager, registry, out)
	t.Cleanup(func() {
		c.unwatch()
		manager.Close()
	})
	return c, manager, out
}

func TestConsoleSession(t *testing.T) {
	c, manager, out := newTestConsole(t)
	ctx := context.Background()

	assert.False(t, c.dispatch(ctx, "scan"))
	assert.Contains(t, out.String(), "1. HC-06")
	assert.Contains(t, out.String(), "2. 00:21:13:00:4B:7C")

	c.dispatch(ctx, "connect 1")
	require.Equal(t, session.Connected, manager.Status().State)
	assert.Equal(t, "98:D3:31:F5:2A:11", manager.Status().Device.Address)

	c.dispatch(ctx, "f")
	c.dispatch(ctx, "speed 70")
	c.dispatch(ctx, "+")
	assert.Equal(t, 80, manager.Status().Speed)
	c.dispatch(ctx, "say  hello there ")

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "< OK:hello there")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "< OK:FORWARD")
	assert.Contains(t, out.String(), "< OK:SPEED:80")

	c.dispatch(ctx, "status")
	assert.Contains(t, out.String(), "State:   connected")

	c.dispatch(ctx, "disconnect")
	assert.Equal(t, session.Disconnected, manager.Status().State)
	assert.Contains(t, out.String(), "[disconnected]")
}

func TestConsoleErrors(t *testing.T) {
	c, _, out := newTestConsole(t)
	ctx := context.Background()

	c.dispatch(ctx, "stop")
	assert.Contains(t, out.String(), "Not connected: Please connect to a device first.")

	c.dispatch(ctx, "connect 3")
	assert.Contains(t, out.String(), `Unknown device "3"`)

	c.dispatch(ctx, "say   ")
	assert.Contains(t, out.String(), "Usage: say <text>")

	c.dispatch(ctx, "jump")
	assert.Contains(t, out.String(), "Unknown command: jump")
}

func TestConsoleConnectByAddress(t *testing.T) {
	c, manager, _ := newTestConsole(t)
	ctx := context.Background()

	c.dispatch(ctx, "scan")
	c.dispatch(ctx, "connect 00:21:13:00:4b:7c")
	assert.Equal(t, "00:21:13:00:4B:7C", manager.Status().Device.Address)
}

func TestConsoleQuit(t *testing.T) {
	c, _, _ := newTestConsole(t)
	assert.True(t, c.dispatch(context.Background(), "quit"))
	assert.True(t, c.dispatch(context.Background(), "Q"))
	assert.False(t, c.dispatch(context.Background(), "   "))
}
