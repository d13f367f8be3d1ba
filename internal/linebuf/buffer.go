// Package linebuf frames the inbound byte stream of a serial link into
// delimiter-terminated lines and keeps the received-line log.
package linebuf

import (
	"bytes"
	"sync"
)

// DefaultMaxPending bounds an unterminated fragment. HC-06 firmware lines
// are a few dozen bytes; anything this long is noise on the link.
const DefaultMaxPending = 4096

// Buffer accumulates chunks until the delimiter is seen and hands each
// complete line to emit, in arrival order. The remainder after the last
// delimiter waits for the next chunk. After Close every Feed is a no-op.
type Buffer struct {
	mu         sync.Mutex
	delim      []byte
	trimCR     bool
	maxPending int
	emit       func(line string)

	pending    []byte
	discarding bool // Skipping the rest of an oversized line
	closed     bool
	dropped    int
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithTrimCR strips one trailing '\r' from each line, for CRLF senders.
func WithTrimCR() Option {
	return func(b *Buffer) { b.trimCR = true }
}

// WithMaxPending sets the unterminated fragment limit. n <= 0 disables it.
func WithMaxPending(n int) Option {
	return func(b *Buffer) { b.maxPending = n }
}

// New creates a Buffer splitting on delim ("\n" when empty).
func New(delim string, emit func(line string), opts ...Option) *Buffer {
	if delim == "" {
		delim = "\n"
	}
	b := &Buffer{
		delim:      []byte(delim),
		maxPending: DefaultMaxPending,
		emit:       emit,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Feed appends one chunk and emits every line it completes.
// emit runs with the buffer locked so lines from consecutive chunks
// can never be reordered. A fragment that outgrows the limit is dropped
// together with everything up to its delimiter, so no part of it is
// ever emitted.
func (b *Buffer) Feed(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || len(chunk) == 0 {
		return
	}
	b.pending = append(b.pending, chunk...)

	for {
		i := bytes.Index(b.pending, b.delim)
		if i < 0 {
			break
		}
		line := b.pending[:i]
		b.pending = b.pending[i+len(b.delim):]
		if b.discarding {
			// End of an oversized line
			b.discarding = false
			continue
		}
		if b.trimCR && len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if b.emit != nil {
			b.emit(string(line))
		}
	}

	if !b.discarding && b.maxPending > 0 && len(b.pending) > b.maxPending {
		b.dropped++
		b.discarding = true
	}
	if b.discarding {
		// Keep only what could be the head of a delimiter split across chunks.
		if keep := len(b.delim) - 1; len(b.pending) > keep {
			b.pending = append([]byte(nil), b.pending[len(b.pending)-keep:]...)
		}
		return
	}
	// Compact so a long session does not pin the backing array.
	if len(b.pending) == 0 {
		b.pending = nil
	} else if cap(b.pending) > 4*len(b.pending)+64 {
		b.pending = append([]byte(nil), b.pending...)
	}
}

// Pending returns the unterminated fragment waiting for its delimiter.
func (b *Buffer) Pending() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.discarding {
		return ""
	}
	return string(b.pending)
}

// Dropped returns how many oversized fragments were discarded.
func (b *Buffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close discards the pending fragment and stops all further delivery.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.discarding = false
	b.pending = nil
}
