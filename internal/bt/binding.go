package bt

import (
	"context"
	"errors"
)

// Binding is the interface that all transport backends must implement.
// It wraps one platform's paired-device source and serial endpoint.
// RFCOMM (BlueZ + /dev/rfcommN) is the main implementation; the plain
// serial and demo bindings implement the same interface.
type Binding interface {
	// Name returns the human-readable name of this binding.
	Name() string
	// ListBonded returns the devices the platform reports as paired.
	ListBonded(ctx context.Context) ([]Device, error)
	// Open connects to the device. It blocks until the link is up, the
	// attempt fails, or ctx is cancelled.
	Open(ctx context.Context, dev Device, opts Options) (Conn, error)
}

// Conn is one open serial link to a device.
type Conn interface {
	// Write sends text as-is. Framing is the caller's job.
	Write(ctx context.Context, text string) error
	// Subscribe installs onChunk as the receiver of inbound data. Only one
	// subscription is active at a time; a second Subscribe replaces the first.
	Subscribe(onChunk func(chunk []byte)) (Subscription, error)
	// Close tears down the link. Reads stop before Close returns.
	Close() error
	// Done is closed once the link has ended, by Close or because the
	// device went away.
	Done() <-chan struct{}
	// Err is nil while the link is up. After Done it reports why the link
	// ended: ErrClosed after Close, otherwise the transport failure.
	Err() error
}

// Subscription is the cancellation handle returned by Conn.Subscribe.
type Subscription interface {
	// Remove stops delivery. Once Remove returns no callback is running
	// and none will run again. Calling Remove twice is a no-op.
	Remove()
}

// Device identifies one pairable endpoint.
type Device struct {
	Address string `json:"address"`        // Stable, unique (MAC or port path)
	Name    string `json:"name,omitempty"` // May be empty
}

// DisplayName returns the name, or the address when the device has none.
func (d Device) DisplayName() string {
	if d.Name == "" {
		return d.Address
	}
	return d.Name
}

// Options are the per-connection settings passed to Open.
type Options struct {
	ConnectorType string `yaml:"connector" json:"connector"` // "rfcomm"
	Delimiter     string `yaml:"delimiter" json:"delimiter"` // Line delimiter, usually "\n"
}

const (
	ConnectorRFCOMM  = "rfcomm"
	DefaultDelimiter = "\n"
)

// DefaultOptions returns the settings the HC-06 firmware expects.
func DefaultOptions() Options {
	return Options{ConnectorType: ConnectorRFCOMM, Delimiter: DefaultDelimiter}
}

var (
	// ErrUnsupportedConnector means the binding cannot open the requested connector type.
	ErrUnsupportedConnector = errors.New("unsupported connector type")

	// ErrClosed is returned by operations on a closed Conn.
	ErrClosed = errors.New("connection closed")

	// ErrUnknownDevice means the binding has no endpoint for the address.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrLinkLost means the device dropped the link on its own.
	ErrLinkLost = errors.New("link lost")
)

func checkConnector(opts Options) error {
	if opts.ConnectorType != "" && opts.ConnectorType != ConnectorRFCOMM {
		return ErrUnsupportedConnector
	}
	return nil
}
