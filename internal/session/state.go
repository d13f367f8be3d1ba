package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/devshojol/HC-06-Controller/internal/bt"
	"github.com/devshojol/HC-06-Controller/internal/linebuf"
)

// State is the connection lifecycle state. The cycle is
// Disconnected → Connecting → Connected → Disconnecting → Disconnected,
// with Connecting → Disconnected on failure or preemption.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

var stateNames = [...]string{"disconnected", "connecting", "connected", "disconnecting"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if strings.EqualFold(n, string(b)) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", string(b))
}

// Status is a read-only snapshot of the manager for presentation layers.
type Status struct {
	State       State      `json:"state"`
	Device      *bt.Device `json:"device,omitempty"`    // Set while Connecting, Connected or Disconnecting
	SessionID   string     `json:"sessionId,omitempty"` // Set while Connected or Disconnecting
	Speed       int        `json:"speed"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
}

// EventType classifies manager events.
type EventType string

const (
	EventState EventType = "state" // Lifecycle transition
	EventSpeed EventType = "speed" // Current speed changed
	EventSent  EventType = "sent"  // Command written to the transport
	EventLine  EventType = "line"  // Line received from the device
	EventLost  EventType = "lost"  // Link ended without a Disconnect
)

// Event is delivered to observers registered with Manager.OnEvent.
type Event struct {
	Type      EventType     `json:"type"`
	Status    *Status       `json:"status,omitempty"`  // state, speed
	Payload   string        `json:"payload,omitempty"` // sent
	Line      *linebuf.Line `json:"line,omitempty"`    // line
	Cause     string        `json:"cause,omitempty"`   // lost
	SessionID string        `json:"sessionId,omitempty"`
	Device    string        `json:"device,omitempty"`
	At        time.Time     `json:"at"`
}
