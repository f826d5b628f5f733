package device

import (
	"github.com/batteryhealth/bhc/pkg/config"
	"github.com/batteryhealth/bhc/pkg/types"
)

// Vendor module and platform paths used for availability checks.
const (
	VendorAsus     = "/sys/module/asus_wmi"
	VendorThinkPad = "/sys/devices/platform/thinkpad_acpi"
	VendorToshiba  = "/sys/module/toshiba_acpi"
	VendorMsi      = "/sys/devices/platform/msi-ec"
	RazerCLIPath   = "/usr/bin/razer-cli"
)

// Type ids. Never renumber: they are persisted.
const (
	TypeAsusBAT0 = 1
	TypeAsusBAT1 = 2
	TypeThinkPad = 3
	// single-battery ThinkPads, scanned after the dual variant
	TypeThinkPadBAT0 = 4
	TypeThinkPadBAT1 = 5
	TypeToshibaBAT0  = 9
	TypeToshibaBAT1  = 10
	TypeMsiBAT0      = 18
	TypeMsiBAT1      = 26
	TypeRazer        = 30
)

func variableEndRanges() map[types.ChargingMode]Range {
	return map[types.ChargingMode]Range{
		types.ModeFullCapacity: {Min: 80, Max: 100},
		types.ModeBalanced:     {Min: 65, Max: 85},
		types.ModeMaxLifespan:  {Min: 50, Max: 85},
	}
}

func asusInfo(name string, typ int) *Info {
	return &Info{
		Name:                  name,
		Type:                  typ,
		NeedRootPermission:    true,
		HaveVariableThreshold: true,
		HaveBalancedMode:      true,
		IconForFullCapMode:    "100",
		IconForBalanceMode:    "080",
		IconForMaxLifeMode:    "060",
		EndRanges:             variableEndRanges(),
	}
}

// NewAsusBAT0 returns the Asus variant for BAT0.
func NewAsusBAT0(env Env) Device {
	return &sysfsSingle{
		base:       newBase(asusInfo("Asus BAT0", TypeAsusBAT0), env),
		vendorPath: VendorAsus,
		bat:        sysfsBattery{name: "BAT0", index: config.Battery1},
	}
}

// NewAsusBAT1 returns the Asus variant for BAT1.
func NewAsusBAT1(env Env) Device {
	return &sysfsSingle{
		base:       newBase(asusInfo("Asus BAT1", TypeAsusBAT1), env),
		vendorPath: VendorAsus,
		bat:        sysfsBattery{name: "BAT1", index: config.Battery1},
	}
}

func msiInfo(name string, typ int) *Info {
	return &Info{
		Name:                  name,
		Type:                  typ,
		NeedRootPermission:    true,
		HaveVariableThreshold: true,
		HaveBalancedMode:      true,
		IconForFullCapMode:    "100",
		IconForBalanceMode:    "080",
		IconForMaxLifeMode:    "060",
		EndRanges:             variableEndRanges(),
	}
}

// NewMsiBAT0 returns the msi-ec variant for BAT0.
func NewMsiBAT0(env Env) Device {
	return &sysfsSingle{
		base:       newBase(msiInfo("Msi BAT0", TypeMsiBAT0), env),
		vendorPath: VendorMsi,
		bat:        sysfsBattery{name: "BAT0", index: config.Battery1},
	}
}

// NewMsiBAT1 returns the msi-ec variant for BAT1.
func NewMsiBAT1(env Env) Device {
	return &sysfsSingle{
		base:       newBase(msiInfo("Msi BAT1", TypeMsiBAT1), env),
		vendorPath: VendorMsi,
		bat:        sysfsBattery{name: "BAT1", index: config.Battery1},
	}
}
