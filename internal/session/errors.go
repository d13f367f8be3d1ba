package session

import (
	"errors"
	"fmt"

	"github.com/devshojol/HC-06-Controller/internal/bt"
)

// Error classes. Every typed error below matches exactly one of these
// through errors.Is, and unwraps to its underlying cause.
var (
	ErrEnumeration  = errors.New("device enumeration failed")
	ErrConnection   = errors.New("connection failed")
	ErrBusy         = errors.New("operation already in progress")
	ErrNotConnected = errors.New("not connected")
	ErrWrite        = errors.New("write failed")
	ErrDisconnect   = errors.New("disconnect failed")
)

// Causes raised by the session layer itself.
var (
	// ErrNotAuthorized means ListPaired ran before a successful permission check.
	ErrNotAuthorized = errors.New("bluetooth permission not granted")

	// ErrConnectCanceled means Disconnect preempted a pending connect.
	ErrConnectCanceled = errors.New("connect canceled")

	// ErrManagerClosed means the manager was closed and accepts no new sessions.
	ErrManagerClosed = errors.New("session manager closed")
)

// EnumerationError reports a failed paired-device listing.
type EnumerationError struct {
	Err error
}

func (e *EnumerationError) Error() string { return fmt.Sprintf("session: list paired devices: %v", e.Err) }
func (e *EnumerationError) Unwrap() error { return e.Err }
func (e *EnumerationError) Is(target error) bool { return target == ErrEnumeration }

// ConnectionError reports a failed connect attempt and the transport's reason.
type ConnectionError struct {
	Device bt.Device
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session: connect %s: %v", e.Device.Address, e.Err)
}
func (e *ConnectionError) Unwrap() error { return e.Err }
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// BusyError reports a structural operation attempted while another is in flight.
type BusyError struct {
	Op    string // "connect" or "disconnect"
	State State  // State observed when the call was rejected
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("session: %s rejected while %s", e.Op, e.State)
}
func (e *BusyError) Is(target error) bool { return target == ErrBusy }

// NotConnectedError reports an action that needs a Connected session.
type NotConnectedError struct {
	State State
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("session: not connected (state %s)", e.State)
}
func (e *NotConnectedError) Is(target error) bool { return target == ErrNotConnected }

// WriteError reports a failed transport write. The session stays Connected.
type WriteError struct {
	Command string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("session: write %q: %v", e.Command, e.Err)
}
func (e *WriteError) Unwrap() error { return e.Err }
func (e *WriteError) Is(target error) bool { return target == ErrWrite }

// DisconnectError reports a failed transport close. The session is
// Disconnected regardless.
type DisconnectError struct {
	Device bt.Device
	Err    error
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("session: disconnect %s: %v", e.Device.Address, e.Err)
}
func (e *DisconnectError) Unwrap() error { return e.Err }
func (e *DisconnectError) Is(target error) bool { return target == ErrDisconnect }

// Notice is the single user-facing notification for an error.
type Notice struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Describe maps err to the notification a presentation layer shows.
func Describe(err error) Notice {
	switch {
	case err == nil:
		return Notice{}
	case errors.Is(err, ErrNotAuthorized):
		return Notice{"Bluetooth unavailable", "Bluetooth permission was not granted. Enable Bluetooth and restart."}
	case errors.Is(err, ErrEnumeration):
		return Notice{"Can't find paired devices", causeOf(err)}
	case errors.Is(err, ErrBusy):
		return Notice{"Please wait", "Another connect or disconnect is still in progress."}
	case errors.Is(err, ErrNotConnected):
		return Notice{"Not connected", "Please connect to a device first."}
	case errors.Is(err, ErrConnection):
		return Notice{"Connection failed", causeOf(err)}
	case errors.Is(err, ErrWrite):
		return Notice{"Send failed", causeOf(err)}
	case errors.Is(err, ErrDisconnect):
		return Notice{"Disconnect failed", causeOf(err)}
	}
	return Notice{"Error", err.Error()}
}

func causeOf(err error) string {
	if inner := errors.Unwrap(err); inner != nil {
		return inner.Error()
	}
	return err.Error()
}
