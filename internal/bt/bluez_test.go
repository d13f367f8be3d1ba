package bt

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
)

func device1(addr, name string, paired bool) map[string]map[string]dbus.Variant {
	props := map[string]dbus.Variant{
		"Address": dbus.MakeVariant(addr),
		"Paired":  dbus.MakeVariant(paired),
	}
	if name != "" {
		props["Name"] = dbus.MakeVariant(name)
	}
	return map[string]map[string]dbus.Variant{bluezDeviceInterface: props}
}

func TestPairedDevices(t *testing.T) {
	objs := managedObjects{
		"/org/bluez/hci0": {
			bluezAdapterInterface: {"Powered": dbus.MakeVariant(true)},
		},
		"/org/bluez/hci0/dev_98_D3_31_F5_2A_11": device1("98:D3:31:F5:2A:11", "HC-06", true),
		"/org/bluez/hci0/dev_00_21_13_00_4B_7C": device1("00:21:13:00:4B:7C", "", true),
		"/org/bluez/hci0/dev_11_22_33_44_55_66": device1("11:22:33:44:55:66", "Phone", false),
		"/org/bluez/hci1/dev_AA_BB_CC_DD_EE_FF": device1("AA:BB:CC:DD:EE:FF", "Other", true),
	}

	assert.Equal(t, []Device{
		{Address: "00:21:13:00:4B:7C"},
		{Address: "98:D3:31:F5:2A:11", Name: "HC-06"},
	}, pairedDevices(objs, "hci0"))

	all := pairedDevices(objs, "")
	assert.Len(t, all, 3)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", all[2].Address)
}

func TestPairedDevicesEmpty(t *testing.T) {
	assert.Empty(t, pairedDevices(managedObjects{}, ""))
	assert.Empty(t, pairedDevices(managedObjects{
		"/org/bluez/hci0/dev_X": device1("", "NoAddr", true),
	}, "hci0"))
}
