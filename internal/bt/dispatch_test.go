package bt

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherDeliversCopy(t *testing.T) {
	var d dispatcher
	var got [][]byte
	d.subscribe(func(b []byte) { got = append(got, b) })

	chunk := []byte("OK")
	d.deliver(chunk)
	d.deliver(nil)
	chunk[0] = 'X'

	assert.Equal(t, [][]byte{[]byte("OK")}, got)
}

func TestDispatcherRemove(t *testing.T) {
	var d dispatcher
	calls := 0
	sub := d.subscribe(func([]byte) { calls++ })

	d.deliver([]byte("a"))
	sub.Remove()
	sub.Remove()
	d.deliver([]byte("b"))
	assert.Equal(t, 1, calls)
}

func TestDispatcherStaleRemove(t *testing.T) {
	var d dispatcher
	var first, second int
	old := d.subscribe(func([]byte) { first++ })
	d.subscribe(func([]byte) { second++ })

	old.Remove()
	d.deliver([]byte("x"))
	assert.Zero(t, first)
	assert.Equal(t, 1, second)
}

func TestDispatcherRemoveWaitsForDelivery(t *testing.T) {
	var d dispatcher
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	finished := false

	sub := d.subscribe(func([]byte) {
		close(entered)
		<-release
		mu.Lock()
		finished = true
		mu.Unlock()
	})
	go d.deliver([]byte("slow"))
	<-entered

	removed := make(chan struct{})
	go func() {
		sub.Remove()
		close(removed)
	}()

	select {
	case <-removed:
		t.Fatal("Remove returned during delivery")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-removed

	mu.Lock()
	assert.True(t, finished)
	mu.Unlock()
}
