package linebuf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAppendAndSince(t *testing.T) {
	l := NewLog(10)
	a := l.Append("OK:FORWARD")
	b := l.Append("DIST:40")

	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(2), b.Seq)
	assert.Equal(t, []string{"OK:FORWARD", "DIST:40"}, l.Texts())

	since := l.Since(2)
	require.Len(t, since, 1)
	assert.Equal(t, "DIST:40", since[0].Text)

	assert.Len(t, l.Since(0), 2)
	assert.Empty(t, l.Since(3))
	assert.Equal(t, uint64(3), l.Next())
}

func TestLogCapacityDropsOldest(t *testing.T) {
	l := NewLog(3)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		l.Append(s)
	}
	assert.Equal(t, []string{"c", "d", "e"}, l.Texts())
	assert.Equal(t, 3, l.Len())

	// A cursor older than the retained window gets what is left.
	got := l.Since(1)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[0].Seq)
}

func TestLogResetKeepsSequence(t *testing.T) {
	l := NewLog(0)
	l.Append("a")
	l.Append("b")
	l.Reset()
	assert.Zero(t, l.Len())

	line := l.Append("c")
	assert.Equal(t, uint64(3), line.Seq)
	assert.Equal(t, []string{"c"}, l.Texts())
}

func TestLogChangedWakesWaiters(t *testing.T) {
	l := NewLog(4)
	ch := l.Changed()

	select {
	case <-ch:
		t.Fatal("changed closed before append")
	default:
	}

	l.Append("x")
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("changed not closed after append")
	}

	assert.NotEqual(t, ch, l.Changed())
}

func TestLogSinceNextCursorSeesEveryLine(t *testing.T) {
	const total = 2000
	l := NewLog(total)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			l.Append("DIST:40")
		}
	}()

	var seen []uint64
	cursor := uint64(1)
	for len(seen) < total {
		lines, next := l.SinceNext(cursor)
		for _, line := range lines {
			seen = append(seen, line.Seq)
		}
		if len(lines) > 0 {
			assert.Equal(t, lines[len(lines)-1].Seq+1, next)
		}
		cursor = next
	}
	<-done

	for i, seq := range seen {
		require.Equal(t, uint64(i+1), seq)
	}
}
