package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/devshojol/HC-06-Controller/internal/bt"
	"github.com/devshojol/HC-06-Controller/internal/command"
	"github.com/devshojol/HC-06-Controller/internal/linebuf"
	"github.com/google/uuid"
)

// Config holds the per-session settings of a Manager.
type Config struct {
	Options    bt.Options `yaml:"options" json:"options"`        // Passed to Binding.Open
	TrimCR     bool       `yaml:"trim_cr" json:"trimCR"`         // Strip '\r' before the delimiter
	MaxPending int        `yaml:"max_pending" json:"maxPending"` // Unterminated fragment limit (bytes)
	MaxLines   int        `yaml:"max_lines" json:"maxLines"`     // Received lines retained
}

// DefaultConfig returns the settings for an HC-06 running a println sketch.
func DefaultConfig() Config {
	return Config{
		Options:    bt.DefaultOptions(),
		TrimCR:     true,
		MaxPending: linebuf.DefaultMaxPending,
		MaxLines:   linebuf.DefaultCapacity,
	}
}

// session is the single live connection. Only the Manager touches it.
type session struct {
	id          string
	device      bt.Device
	conn        bt.Conn
	sub         bt.Subscription
	buf         *linebuf.Buffer
	connectedAt time.Time
}

// Manager owns the one active connection and its lifecycle.
//
// Structural operations (Connect, Disconnect) run the transport call outside
// the lock and use the Connecting/Disconnecting states to reject overlap
// with a BusyError. Send holds the lock across its state check and the
// write, so a Disconnect that has left Connected is always observed.
type Manager struct {
	binding bt.Binding
	cfg     Config
	lines   *linebuf.Log

	mu            sync.Mutex
	state         State
	sess          *session
	pending       *bt.Device // Target of the in-flight connect
	speed         int
	attempt       uint64 // Bumped to invalidate an in-flight connect
	cancelConnect context.CancelFunc
	settled       chan struct{} // Closed when the current Disconnecting ends
	closed        bool

	obsMu     sync.Mutex
	observers map[int]func(Event)
	nextObs   int
}

// NewManager creates a Disconnected manager over binding.
func NewManager(binding bt.Binding, cfg Config) *Manager {
	if cfg.Options.Delimiter == "" {
		cfg.Options.Delimiter = bt.DefaultDelimiter
	}
	if cfg.Options.ConnectorType == "" {
		cfg.Options.ConnectorType = bt.ConnectorRFCOMM
	}
	return &Manager{
		binding:   binding,
		cfg:       cfg,
		lines:     linebuf.NewLog(cfg.MaxLines),
		speed:     command.DefaultSpeed,
		observers: make(map[int]func(Event)),
	}
}

// Connect opens a session to dev. A Connected manager first tears down the
// current session. While another connect or disconnect is in flight the
// call fails with a BusyError and leaves that operation alone.
func (m *Manager) Connect(ctx context.Context, dev bt.Device) (Status, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Status{}, &ConnectionError{Device: dev, Err: ErrManagerClosed}
	}
	if m.state == Connected {
		m.mu.Unlock()
		if err := m.Disconnect(); err != nil && !errors.Is(err, ErrDisconnect) {
			return Status{}, err
		}
		m.mu.Lock()
	}
	if m.state != Disconnected {
		st := m.state
		m.mu.Unlock()
		return Status{}, &BusyError{Op: "connect", State: st}
	}

	m.state = Connecting
	m.attempt++
	attempt := m.attempt
	openCtx, cancel := context.WithCancel(ctx)
	m.cancelConnect = cancel
	m.pending = &dev
	connecting := m.statusLocked()
	m.mu.Unlock()

	log.Printf("[session] connecting to %s (%s)", dev.DisplayName(), dev.Address)
	m.emitState(connecting)

	conn, err := m.binding.Open(openCtx, dev, m.cfg.Options)

	m.mu.Lock()
	cancel()
	if m.attempt != attempt {
		// Disconnect preempted us and already reported Disconnected.
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		log.Printf("[session] connect to %s canceled", dev.Address)
		return Status{}, &ConnectionError{Device: dev, Err: ErrConnectCanceled}
	}
	m.cancelConnect = nil
	m.pending = nil

	if err != nil {
		m.state = Disconnected
		st := m.statusLocked()
		m.mu.Unlock()
		log.Printf("[session] connect to %s failed: %v", dev.Address, err)
		m.emitState(st)
		return Status{}, &ConnectionError{Device: dev, Err: err}
	}

	s := &session{
		id:          uuid.New().String(),
		device:      dev,
		conn:        conn,
		connectedAt: time.Now(),
	}
	s.buf = linebuf.New(m.cfg.Options.Delimiter, func(text string) { m.receive(s, text) }, m.bufferOptions()...)

	// The log belongs to the new session from its first line.
	m.lines.Reset()
	sub, err := conn.Subscribe(s.buf.Feed)
	if err != nil {
		m.state = Disconnected
		st := m.statusLocked()
		m.mu.Unlock()
		conn.Close()
		log.Printf("[session] subscribe on %s failed: %v", dev.Address, err)
		m.emitState(st)
		return Status{}, &ConnectionError{Device: dev, Err: fmt.Errorf("subscribe: %w", err)}
	}
	s.sub = sub
	m.sess = s
	m.state = Connected
	m.speed = command.DefaultSpeed
	st := m.statusLocked()
	m.mu.Unlock()

	go m.watch(s)

	log.Printf("[session] connected to %s (session %s)", dev.DisplayName(), s.id)
	m.emitState(st)
	return st, nil
}

func (m *Manager) bufferOptions() []linebuf.Option {
	opts := []linebuf.Option{linebuf.WithMaxPending(m.cfg.MaxPending)}
	if m.cfg.TrimCR {
		opts = append(opts, linebuf.WithTrimCR())
	}
	return opts
}

// Disconnect ends the session. It is a no-op when Disconnected and
// preempts a pending connect. The inbound subscription is removed before
// the transport is closed, and the manager always ends Disconnected; a
// failed close is returned as a DisconnectError.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	switch m.state {
	case Disconnected:
		m.mu.Unlock()
		return nil
	case Disconnecting:
		m.mu.Unlock()
		return &BusyError{Op: "disconnect", State: Disconnecting}
	case Connecting:
		m.attempt++
		cancel := m.cancelConnect
		m.cancelConnect = nil
		target := m.pending
		m.pending = nil
		m.state = Disconnected
		st := m.statusLocked()
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if target != nil {
			log.Printf("[session] pending connect to %s preempted", target.Address)
		}
		m.emitState(st)
		return nil
	}

	s := m.sess
	st := m.beginTeardownLocked()
	m.mu.Unlock()
	m.emitState(st)

	if err := m.teardown(s); err != nil {
		log.Printf("[session] disconnect from %s: close failed: %v", s.device.Address, err)
		return &DisconnectError{Device: s.device, Err: err}
	}
	log.Printf("[session] disconnected from %s (session %s)", s.device.DisplayName(), s.id)
	return nil
}

// beginTeardownLocked moves a Connected manager to Disconnecting.
func (m *Manager) beginTeardownLocked() Status {
	m.state = Disconnecting
	m.settled = make(chan struct{})
	return m.statusLocked()
}

// teardown removes the subscription, then closes the transport, and leaves
// the manager Disconnected whatever Close returns.
func (m *Manager) teardown(s *session) error {
	s.sub.Remove()
	s.buf.Close()
	closeErr := s.conn.Close()

	m.mu.Lock()
	m.sess = nil
	m.state = Disconnected
	m.speed = command.DefaultSpeed
	m.lines.Reset()
	close(m.settled)
	m.settled = nil
	st := m.statusLocked()
	m.mu.Unlock()
	m.emitState(st)
	return closeErr
}

// watch tears s down when its link ends while s is still the live session.
// A link closed by Disconnect is left alone.
func (m *Manager) watch(s *session) {
	<-s.conn.Done()

	m.mu.Lock()
	if m.sess != s || m.state != Connected {
		m.mu.Unlock()
		return
	}
	st := m.beginTeardownLocked()
	m.mu.Unlock()

	cause := s.conn.Err()
	if cause == nil {
		cause = bt.ErrLinkLost
	}
	log.Printf("[session] link to %s lost: %v", s.device.Address, cause)
	m.emitState(st)
	m.emit(Event{
		Type:      EventLost,
		Cause:     cause.Error(),
		SessionID: s.id,
		Device:    s.device.Address,
		At:        time.Now(),
	})

	if err := m.teardown(s); err != nil && !errors.Is(err, bt.ErrClosed) {
		log.Printf("[session] close after link loss on %s: %v", s.device.Address, err)
	}
}

// Close is the guaranteed teardown run by the manager's owner. It performs
// the same ordered teardown as Disconnect, waits out a teardown already in
// flight, and refuses every later Connect.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	for {
		m.mu.Lock()
		settled := m.settled
		m.mu.Unlock()
		if settled != nil {
			<-settled
			continue
		}
		err := m.Disconnect()
		if !errors.Is(err, ErrBusy) {
			return err
		}
	}
}

// Send writes cmd, terminated with the session delimiter. It fails with a
// NotConnectedError unless Connected; nothing is queued. A failed write
// returns a WriteError and leaves the session Connected.
func (m *Manager) Send(ctx context.Context, cmd command.Command) error {
	return m.send(ctx, cmd, nil)
}

// SetSpeed clamps level, sends SPEED:<level> and records it as the current
// speed once the write succeeded.
func (m *Manager) SetSpeed(ctx context.Context, level int) error {
	level = command.ClampSpeed(level)
	var st Status
	err := m.send(ctx, command.EncodeSpeed(level), func() {
		m.speed = level
		st = m.statusLocked()
	})
	if err != nil {
		return err
	}
	m.emit(Event{Type: EventSpeed, Status: &st, SessionID: st.SessionID, At: time.Now()})
	return nil
}

// send checks state and writes under mu. onSuccess runs under mu too.
func (m *Manager) send(ctx context.Context, cmd command.Command, onSuccess func()) error {
	if cmd.IsZero() {
		return command.ErrEmpty
	}
	if strings.Contains(cmd.Payload(), m.cfg.Options.Delimiter) {
		return fmt.Errorf("session: %q: %w", cmd.Payload(), command.ErrLineBreak)
	}

	m.mu.Lock()
	if m.state != Connected {
		st := m.state
		m.mu.Unlock()
		return &NotConnectedError{State: st}
	}
	s := m.sess
	err := s.conn.Write(ctx, cmd.Wire(m.cfg.Options.Delimiter))
	if err == nil && onSuccess != nil {
		onSuccess()
	}
	m.mu.Unlock()

	if err != nil {
		log.Printf("[session] send %q failed: %v", cmd.Payload(), err)
		return &WriteError{Command: cmd.Payload(), Err: err}
	}
	m.emit(Event{
		Type:      EventSent,
		Payload:   cmd.Payload(),
		SessionID: s.id,
		Device:    s.device.Address,
		At:        time.Now(),
	})
	return nil
}

// receive runs on the transport's delivery goroutine.
func (m *Manager) receive(s *session, text string) {
	line := m.lines.Append(text)
	m.emit(Event{
		Type:      EventLine,
		Line:      &line,
		SessionID: s.id,
		Device:    s.device.Address,
		At:        line.At,
	})
}

// Status returns a snapshot of the manager.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	st := Status{State: m.state, Speed: m.speed}
	switch {
	case m.sess != nil:
		dev := m.sess.device
		at := m.sess.connectedAt
		st.Device = &dev
		st.SessionID = m.sess.id
		st.ConnectedAt = &at
	case m.pending != nil:
		dev := *m.pending
		st.Device = &dev
	}
	return st
}

// Lines returns the received-line log of the current session.
func (m *Manager) Lines() *linebuf.Log { return m.lines }

// Delimiter returns the line delimiter used on the wire.
func (m *Manager) Delimiter() string { return m.cfg.Options.Delimiter }

// OnEvent registers fn for every manager event and returns its cancel func.
// Line events are delivered on the transport goroutine: fn must not block
// and must not call Connect, Disconnect or Close.
func (m *Manager) OnEvent(fn func(Event)) (cancel func()) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	return func() {
		m.obsMu.Lock()
		delete(m.observers, id)
		m.obsMu.Unlock()
	}
}

func (m *Manager) emitState(st Status) {
	m.emit(Event{Type: EventState, Status: &st, SessionID: st.SessionID, At: time.Now()})
}

func (m *Manager) emit(ev Event) {
	m.obsMu.Lock()
	fns := make([]func(Event), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.obsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
