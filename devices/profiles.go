// Package devices holds the fixed table of supported SoC profiles.
package devices

import (
	"sort"
	"strings"

	"github.com/ruteri/device-provisioning-backend/interfaces"
)

// Series 1 parts expose the EUI-64 at DEVINFO+0x40, series 2 parts at
// DEVINFO+0x48.
const (
	series1EUI64 uint32 = 0x0FE081F0
	series2EUI64 uint32 = 0x0FE08048
	sramBase     uint32 = 0x20000000
)

var profiles = map[string]interfaces.DeviceProfile{
	"xg12": {
		Kind:          "xg12",
		Device:        "EFR32FG12PXXXF1024",
		RAMAddress:    sramBase,
		NVMStart:      0x000F4000,
		NVMSize:       0x0000A000,
		SerialAddress: series1EUI64,
		Description:   "EFR32xG12 (Series 1, 1024 kB flash)",
	},
	"xg25": {
		Kind:          "xg25",
		Device:        "EFR32FG25BXXXF1920",
		RAMAddress:    sramBase,
		NVMStart:      0x081D2000,
		NVMSize:       0x0000A000,
		SerialAddress: series2EUI64,
		Description:   "EFR32xG25 (Series 2, 1920 kB flash)",
	},
	"xg28": {
		Kind:          "xg28",
		Device:        "EFR32FG28BXXXF1024",
		RAMAddress:    sramBase,
		NVMStart:      0x080F4000,
		NVMSize:       0x0000A000,
		SerialAddress: series2EUI64,
		Description:   "EFR32xG28 (Series 2, 1024 kB flash)",
	},
}

// Lookup returns the profile for kind. Kinds are matched case-insensitively.
func Lookup(kind string) (interfaces.DeviceProfile, bool) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(kind))]
	return p, ok
}

// Supported returns the known device kinds in sorted order.
func Supported() []string {
	kinds := make([]string, 0, len(profiles))
	for k := range profiles {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Profiles returns every known profile sorted by kind.
func Profiles() []interfaces.DeviceProfile {
	out := make([]interfaces.DeviceProfile, 0, len(profiles))
	for _, k := range Supported() {
		out = append(out, profiles[k])
	}
	return out
}
