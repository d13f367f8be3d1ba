package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/devshojol/HC-06-Controller/internal/bt"
)

// PermissionFunc is the permission collaborator: it reports whether the
// host granted what device operations need (Bluetooth on, service up).
type PermissionFunc func(ctx context.Context) error

// AllowAll is a PermissionFunc for bindings that need no grant.
func AllowAll(context.Context) error { return nil }

// Registry holds the most recently enumerated paired devices.
type Registry struct {
	binding bt.Binding

	mu         sync.Mutex
	devices    []bt.Device
	authorized bool
	authErr    error
}

// NewRegistry creates an empty Registry. ListPaired fails until Authorize
// has succeeded.
func NewRegistry(binding bt.Binding) *Registry {
	return &Registry{
		binding: binding,
		authErr: ErrNotAuthorized,
	}
}

// Authorize runs check once and records the outcome. A failure is kept and
// surfaced by every ListPaired; it is not re-checked automatically.
func (r *Registry) Authorize(ctx context.Context, check PermissionFunc) error {
	err := check(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.authorized = false
		r.authErr = fmt.Errorf("%w: %v", ErrNotAuthorized, err)
		log.Printf("[session] permission check failed: %v", err)
		return r.authErr
	}
	r.authorized = true
	r.authErr = nil
	return nil
}

// ListPaired queries the binding's bonded devices and replaces the cached
// set wholesale. Errors come back as an EnumerationError and leave the
// previous set in place.
func (r *Registry) ListPaired(ctx context.Context) ([]bt.Device, error) {
	r.mu.Lock()
	authErr := r.authErr
	r.mu.Unlock()
	if authErr != nil {
		return nil, &EnumerationError{Err: authErr}
	}

	devices, err := r.binding.ListBonded(ctx)
	if err != nil {
		log.Printf("[session] list paired via %s failed: %v", r.binding.Name(), err)
		return nil, &EnumerationError{Err: err}
	}

	fresh := make([]bt.Device, len(devices))
	copy(fresh, devices)

	r.mu.Lock()
	r.devices = fresh
	r.mu.Unlock()

	log.Printf("[session] %d paired device(s) via %s", len(fresh), r.binding.Name())
	return r.Devices(), nil
}

// Devices returns the cached set from the last successful ListPaired.
func (r *Registry) Devices() []bt.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bt.Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Lookup finds address in the cached set, ignoring case.
func (r *Registry) Lookup(address string) (bt.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if strings.EqualFold(d.Address, address) {
			return d, true
		}
	}
	return bt.Device{}, false
}

// Authorized reports whether the permission check has succeeded.
func (r *Registry) Authorized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authorized
}
