package linebuf

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of received lines kept for readers.
const DefaultCapacity = 500

// Line is one received line. Seq increases by one per line for the life of
// the Log, Reset included, so a reader's cursor stays meaningful.
type Line struct {
	Seq  uint64    `json:"seq"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Log is the append-only, bounded received-line history. When full the
// oldest lines fall off the front.
type Log struct {
	mu       sync.Mutex
	capacity int
	lines    []Line
	next     uint64
	changed  chan struct{}
	now      func() time.Time
}

// NewLog creates a Log holding up to capacity lines.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity: capacity,
		next:     1,
		changed:  make(chan struct{}),
		now:      time.Now,
	}
}

// Append records text and wakes every waiter on Changed.
func (l *Log) Append(text string) Line {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := Line{Seq: l.next, Text: text, At: l.now()}
	l.next++
	l.lines = append(l.lines, line)
	if over := len(l.lines) - l.capacity; over > 0 {
		l.lines = append(l.lines[:0:0], l.lines[over:]...)
	}

	close(l.changed)
	l.changed = make(chan struct{})
	return line
}

// Since returns the retained lines with Seq >= seq, oldest first.
// Since(0) returns everything retained.
func (l *Log) Since(seq uint64) []Line {
	lines, _ := l.SinceNext(seq)
	return lines
}

// SinceNext is Since plus the cursor for the following read, taken under
// the same lock so no line falls between the two.
func (l *Log) SinceNext(seq uint64) (lines []Line, next uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, line := range l.lines {
		if line.Seq >= seq {
			out := make([]Line, len(l.lines)-i)
			copy(out, l.lines[i:])
			return out, l.next
		}
	}
	return nil, l.next
}

// Texts returns the retained line texts, oldest first.
func (l *Log) Texts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	for i, line := range l.lines {
		out[i] = line.Text
	}
	return out
}

// Next returns the Seq the next appended line will get.
func (l *Log) Next() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next
}

// Len returns the number of retained lines.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines)
}

// Changed returns a channel closed by the next Append.
func (l *Log) Changed() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.changed
}

// Reset drops every retained line. Sequence numbers are not reused.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = nil
}
