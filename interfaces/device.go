package interfaces

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// DeviceProfile holds the device-specific constants needed to provision one
// SoC family.
type DeviceProfile struct {
	// Kind is the lookup key used in requests (e.g. "xg25").
	Kind string

	// Device is the J-Link device name passed to the probe software.
	Device string

	// RAMAddress is where the provisioning image is loaded and started.
	RAMAddress uint32

	// NVMStart and NVMSize describe the NVM3 instance initialized on-device.
	NVMStart uint32
	NVMSize  uint32

	// SerialAddress points at the factory EUI-64 in the device information page.
	SerialAddress uint32

	Description string
}

// ProbeTarget identifies the debug probe to connect through. Serial selects a
// USB-attached J-Link by serial number, Host a networked one.
type ProbeTarget struct {
	Serial string
	Host   string
}

// IsZero reports whether neither identifier is set.
func (t ProbeTarget) IsZero() bool {
	return strings.TrimSpace(t.Serial) == "" && strings.TrimSpace(t.Host) == ""
}

func (t ProbeTarget) String() string {
	switch {
	case t.Serial != "" && t.Host != "":
		return fmt.Sprintf("%s@%s", t.Serial, t.Host)
	case t.Host != "":
		return t.Host
	default:
		return t.Serial
	}
}

// DeviceSerial is the upper-case hex rendering of the device EUI-64.
type DeviceSerial string

// NewDeviceSerial formats raw serial bytes as read from the device.
func NewDeviceSerial(raw []byte) DeviceSerial {
	return DeviceSerial(strings.ToUpper(hex.EncodeToString(raw)))
}

func (s DeviceSerial) String() string {
	return string(s)
}
