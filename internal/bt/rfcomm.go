package bt

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"go.bug.st/serial"
)

// RFCOMM pairs BlueZ device enumeration with RFCOMM TTYs.
//
// The HC-06 speaks SPP on RFCOMM channel 1. The kernel exposes that link as
// /dev/rfcommN once it is bound (`rfcomm bind 0 <addr> 1`); opening the TTY
// pages the device and closing it drops the link. Which TTY belongs to which
// address comes from the Ports map, falling back to DefaultPort.
type RFCOMM struct {
	bluez       BlueZ
	baudRate    int
	ports       map[string]string
	defaultPort string
}

// RFCOMMConfig holds configuration for the RFCOMM binding.
type RFCOMMConfig struct {
	Adapter     string            `yaml:"adapter" json:"adapter"`
	BaudRate    int               `yaml:"baud_rate" json:"baudRate"`
	Ports       map[string]string `yaml:"ports" json:"ports"` // address -> /dev/rfcommN
	DefaultPort string            `yaml:"default_port" json:"defaultPort"`
}

// NewRFCOMM creates a new RFCOMM binding.
func NewRFCOMM(cfg RFCOMMConfig) *RFCOMM {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600 // HC-06 factory default
	}
	ports := make(map[string]string, len(cfg.Ports))
	for addr, path := range cfg.Ports {
		ports[normalizeAddress(addr)] = path
	}
	return &RFCOMM{
		bluez:       BlueZ{Adapter: cfg.Adapter},
		baudRate:    cfg.BaudRate,
		ports:       ports,
		defaultPort: cfg.DefaultPort,
	}
}

func (r *RFCOMM) Name() string { return "RFCOMM (BlueZ)" }

func (r *RFCOMM) ListBonded(ctx context.Context) ([]Device, error) {
	return r.bluez.PairedDevices(ctx)
}

func (r *RFCOMM) Open(ctx context.Context, dev Device, opts Options) (Conn, error) {
	if err := checkConnector(opts); err != nil {
		return nil, fmt.Errorf("rfcomm: %q: %w", opts.ConnectorType, err)
	}
	path, err := r.portFor(dev.Address)
	if err != nil {
		return nil, err
	}
	log.Printf("[rfcomm] opening %s for %s at %d baud", path, dev.Address, r.baudRate)
	c, err := openSerial(ctx, path, r.baudRate)
	if err != nil {
		return nil, fmt.Errorf("rfcomm: %w", err)
	}
	log.Printf("[rfcomm] connected to %s via %s", dev.DisplayName(), path)
	return c, nil
}

func (r *RFCOMM) portFor(addr string) (string, error) {
	if p, ok := r.ports[normalizeAddress(addr)]; ok {
		return p, nil
	}
	if r.defaultPort != "" {
		return r.defaultPort, nil
	}
	return "", fmt.Errorf("rfcomm: no TTY bound for %s: %w", addr, ErrUnknownDevice)
}

func normalizeAddress(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}

// SerialPorts treats every matching local serial port as a paired device.
// This covers hosts where the OS already exposes a paired HC-06 as an SPP
// port (macOS /dev/tty.HC-06-*, Windows COMn). Addresses are port paths.
type SerialPorts struct {
	baudRate int
	filters  []string
	listFn   func() ([]string, error)
}

// SerialPortsConfig holds configuration for the serial port binding.
type SerialPortsConfig struct {
	BaudRate int      `yaml:"baud_rate" json:"baudRate"`
	Filters  []string `yaml:"port_filter" json:"portFilter"` // Substrings; empty keeps all ports
}

// NewSerialPorts creates a new serial port binding.
func NewSerialPorts(cfg SerialPortsConfig) *SerialPorts {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	return &SerialPorts{
		baudRate: cfg.BaudRate,
		filters:  cfg.Filters,
		listFn:   serial.GetPortsList,
	}
}

func (s *SerialPorts) Name() string { return "Serial ports" }

func (s *SerialPorts) ListBonded(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	paths, err := s.listFn()
	if err != nil {
		return nil, fmt.Errorf("serial: list ports: %w", err)
	}
	devices := make([]Device, 0, len(paths))
	for _, p := range paths {
		if !s.matches(p) {
			continue
		}
		devices = append(devices, Device{Address: p, Name: filepath.Base(p)})
	}
	return devices, nil
}

func (s *SerialPorts) matches(path string) bool {
	if len(s.filters) == 0 {
		return true
	}
	lower := strings.ToLower(path)
	for _, f := range s.filters {
		if strings.Contains(lower, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

func (s *SerialPorts) Open(ctx context.Context, dev Device, opts Options) (Conn, error) {
	if err := checkConnector(opts); err != nil {
		return nil, fmt.Errorf("serial: %q: %w", opts.ConnectorType, err)
	}
	c, err := openSerial(ctx, dev.Address, s.baudRate)
	if err != nil {
		return nil, fmt.Errorf("serial: %w", err)
	}
	log.Printf("[bt] connected to %s at %d baud", dev.Address, s.baudRate)
	return c, nil
}
