package bt

import "sync"

// dispatcher delivers inbound chunks to at most one subscriber.
// deliver holds mu for the whole callback so Remove cannot return while
// a delivery is in flight.
type dispatcher struct {
	mu      sync.Mutex
	onChunk func([]byte)
	gen     uint64
}

type subscription struct {
	d    *dispatcher
	gen  uint64
	once sync.Once
}

func (s *subscription) Remove() {
	s.once.Do(func() {
		s.d.mu.Lock()
		defer s.d.mu.Unlock()
		// A newer Subscribe already replaced us; leave it alone.
		if s.d.gen == s.gen {
			s.d.onChunk = nil
		}
	})
}

func (d *dispatcher) subscribe(onChunk func([]byte)) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.onChunk = onChunk
	return &subscription{d: d, gen: d.gen}
}

// deliver hands a copy of chunk to the subscriber, if any.
func (d *dispatcher) deliver(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.onChunk == nil {
		return
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	d.onChunk(buf)
}

func (d *dispatcher) clear() {
	d.mu.Lock()
	d.onChunk = nil
	d.mu.Unlock()
}
