package linebuf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect(opts ...Option) (*Buffer, *[]string) {
	var got []string
	b := New("\n", func(line string) { got = append(got, line) }, opts...)
	return b, &got
}

func TestBufferJoinsChunks(t *testing.T) {
	b, got := collect()
	for _, c := range []string{"FORW", "ARD\n", "STOP\n"} {
		b.Feed([]byte(c))
	}
	assert.Equal(t, []string{"FORWARD", "STOP"}, *got)
	assert.Empty(t, b.Pending())
}

func TestBufferCarriesRemainder(t *testing.T) {
	b, got := collect()
	b.Feed([]byte("DIST:12\nBAT:7"))
	assert.Equal(t, []string{"DIST:12"}, *got)
	assert.Equal(t, "BAT:7", b.Pending())

	b.Feed([]byte(".9\n"))
	assert.Equal(t, []string{"DIST:12", "BAT:7.9"}, *got)
}

func TestBufferEmptyLines(t *testing.T) {
	b, got := collect()
	b.Feed([]byte("A\n\nB\n"))
	assert.Equal(t, []string{"A", "", "B"}, *got)
}

func TestBufferTrimCR(t *testing.T) {
	b, got := collect(WithTrimCR())
	b.Feed([]byte("OK:STOP\r"))
	b.Feed([]byte("\nraw\r\r\n"))
	assert.Equal(t, []string{"OK:STOP", "raw\r"}, *got)

	plain, plainGot := collect()
	plain.Feed([]byte("OK\r\n"))
	assert.Equal(t, []string{"OK\r"}, *plainGot)
}

func TestBufferMultiByteDelimiter(t *testing.T) {
	var got []string
	b := New("\r\n", func(l string) { got = append(got, l) })
	b.Feed([]byte("one\r"))
	b.Feed([]byte("\ntwo\r\nthr"))
	assert.Equal(t, []string{"one", "two"}, got)
	assert.Equal(t, "thr", b.Pending())
}

func TestBufferDropsOversizedFragment(t *testing.T) {
	b, got := collect(WithMaxPending(8))
	b.Feed([]byte(strings.Repeat("x", 9)))
	assert.Empty(t, b.Pending())
	assert.Equal(t, 1, b.Dropped())

	b.Feed([]byte("\nok\n"))
	assert.Equal(t, []string{"ok"}, *got)
}

func TestBufferDropsTailOfOversizedLine(t *testing.T) {
	b, got := collect(WithMaxPending(8))
	b.Feed([]byte("AAAAAAAAAA"))
	b.Feed([]byte("AAAA"))
	b.Feed([]byte("BBB\nSTOP\n"))
	assert.Equal(t, []string{"STOP"}, *got)
	assert.Equal(t, 1, b.Dropped())
	assert.Empty(t, b.Pending())

	// A later oversized line is counted again.
	b.Feed([]byte(strings.Repeat("y", 9)))
	b.Feed([]byte("\nLEFT\n"))
	assert.Equal(t, []string{"STOP", "LEFT"}, *got)
	assert.Equal(t, 2, b.Dropped())
}

func TestBufferDropsOversizedLineWithSplitDelimiter(t *testing.T) {
	var got []string
	b := New("\r\n", func(l string) { got = append(got, l) }, WithMaxPending(4))
	b.Feed([]byte("XXXXXX\r"))
	b.Feed([]byte("\nOK\r\n"))
	assert.Equal(t, []string{"OK"}, got)
	assert.Equal(t, 1, b.Dropped())
}

func TestBufferCloseDiscardsAndIgnores(t *testing.T) {
	b, got := collect()
	b.Feed([]byte("partial"))
	b.Close()
	assert.Empty(t, b.Pending())

	b.Feed([]byte(" line\n"))
	assert.Empty(t, *got)
}

func TestBufferByteAtATime(t *testing.T) {
	b, got := collect()
	for _, c := range []byte("LEFT\nRIGHT\n") {
		b.Feed([]byte{c})
	}
	assert.Equal(t, []string{"LEFT", "RIGHT"}, *got)
}
