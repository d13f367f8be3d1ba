package bt

import (
	"context"
	"errors"
	"fmt"
	"log"

	sdbus "github.com/coreos/go-systemd/v22/dbus"
)

var (
	// ErrServiceInactive means bluetoothd is not running.
	ErrServiceInactive = errors.New("bluetooth service not active")

	// ErrAdapterOff means the adapter exists but is powered down.
	ErrAdapterOff = errors.New("bluetooth adapter powered off")
)

// Preflight verifies the host is ready for Bluetooth before any device
// operation: the systemd unit is active and the BlueZ adapter is powered.
type Preflight struct {
	Unit  string // e.g. "bluetooth.service"
	BlueZ BlueZ
}

// Check runs the preflight once. Failures are returned, never retried.
func (p Preflight) Check(ctx context.Context) error {
	unit := p.Unit
	if unit == "" {
		unit = "bluetooth.service"
	}

	conn, err := sdbus.NewWithContext(ctx)
	if err != nil {
		return fmt.Errorf("preflight: systemd connection: %w", err)
	}
	defer conn.Close()

	prop, err := conn.GetUnitPropertyContext(ctx, unit, "ActiveState")
	if err != nil {
		return fmt.Errorf("preflight: %s: %w", unit, err)
	}
	if state, _ := prop.Value.Value().(string); state != "active" {
		return fmt.Errorf("preflight: %s is %q: %w", unit, state, ErrServiceInactive)
	}

	powered, err := p.BlueZ.AdapterPowered(ctx)
	if err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	if !powered {
		return fmt.Errorf("preflight: %w", ErrAdapterOff)
	}

	log.Printf("[bt] preflight ok (%s active, adapter powered)", unit)
	return nil
}
