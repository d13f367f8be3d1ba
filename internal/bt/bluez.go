package bt

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBusName          = "org.bluez"
	bluezDeviceInterface  = "org.bluez.Device1"
	bluezAdapterInterface = "org.bluez.Adapter1"
	bluezRootPath         = "/org/bluez/"

	getManagedObjects = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
)

// managedObjects is the reply shape of ObjectManager.GetManagedObjects.
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BlueZ reads bonded-device information from bluetoothd over the system bus.
type BlueZ struct {
	Adapter string // e.g. "hci0"; empty means every adapter
}

// PairedDevices returns every Device1 object BlueZ reports as Paired.
func (b BlueZ) PairedDevices(ctx context.Context) ([]Device, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: system bus: %w", err)
	}

	var objs managedObjects
	call := conn.Object(bluezBusName, "/").CallWithContext(ctx, getManagedObjects, 0)
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("bluez: list objects: %w", err)
	}
	return pairedDevices(objs, b.Adapter), nil
}

// AdapterPowered reports the Powered property of the configured adapter.
func (b BlueZ) AdapterPowered(ctx context.Context) (bool, error) {
	adapter := b.Adapter
	if adapter == "" {
		adapter = "hci0"
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return false, fmt.Errorf("bluez: system bus: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	obj := conn.Object(bluezBusName, dbus.ObjectPath(bluezRootPath+adapter))
	v, err := obj.GetProperty(bluezAdapterInterface + ".Powered")
	if err != nil {
		return false, fmt.Errorf("bluez: adapter %s: %w", adapter, err)
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("bluez: adapter %s: unexpected Powered value %v", adapter, v)
	}
	return powered, nil
}

func pairedDevices(objs managedObjects, adapter string) []Device {
	prefix := bluezRootPath
	if adapter != "" {
		prefix = bluezRootPath + adapter + "/"
	}

	paths := make([]string, 0, len(objs))
	for p := range objs {
		paths = append(paths, string(p))
	}
	sort.Strings(paths)

	devices := make([]Device, 0, len(paths))
	for _, p := range paths {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		props, ok := objs[dbus.ObjectPath(p)][bluezDeviceInterface]
		if !ok {
			continue
		}
		if paired, _ := props["Paired"].Value().(bool); !paired {
			continue
		}
		addr, _ := props["Address"].Value().(string)
		if addr == "" {
			continue
		}
		name, _ := props["Name"].Value().(string)
		devices = append(devices, Device{Address: addr, Name: name})
	}
	return devices
}
