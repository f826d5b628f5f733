package powerinfo

import (
	"fmt"
	"math"

	"github.com/distatus/battery"
)

// BatteryState represents the charging state of the battery.
type BatteryState int

const (
	// Unknown means the kernel did not report a usable state.
	Unknown BatteryState = iota
	// Discharging indicates the battery is discharging.
	Discharging
	// Charging indicates the battery is charging.
	Charging
	// Full indicates the battery is full.
	Full
	// NotCharging means the charger is connected but held off, usually by a threshold.
	NotCharging
)

var stateNames = []string{"unknown", "discharging", "charging", "full", "not-charging"}

func (s BatteryState) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return stateNames[Unknown]
	}
	return stateNames[s]
}

func (s BatteryState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *BatteryState) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = BatteryState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown battery state %q", string(b))
}

// Battery is a snapshot of one battery.
// Units:
// - Current, Full, Design: mWh
// - ChargeRate: mW (negative when discharging)
// - Voltage, DesignVoltage: Volts
type Battery struct {
	Index         int          `json:"index"`
	State         BatteryState `json:"state"`
	Current       float64      `json:"current"`
	Full          float64      `json:"full"`
	Design        float64      `json:"design"`
	ChargeRate    float64      `json:"chargeRate"`
	Voltage       float64      `json:"voltage"`
	DesignVoltage float64      `json:"designVoltage"`
	// Level is Current as a percentage of Full.
	Level int `json:"level"`
	// Health is Full as a percentage of Design.
	Health int `json:"health"`
}

func percent(a, b float64) int {
	if b <= 0 {
		return 0
	}
	return int(math.Round(a / b * 100))
}

// FromBattery converts a battery reported by the OS.
func FromBattery(index int, b *battery.Battery) Battery {
	out := Battery{
		Index:         index,
		Current:       b.Current,
		Full:          b.Full,
		Design:        b.Design,
		ChargeRate:    b.ChargeRate,
		Voltage:       b.Voltage,
		DesignVoltage: b.DesignVoltage,
		Level:         percent(b.Current, b.Full),
		Health:        percent(b.Full, b.Design),
	}

	switch b.State {
	case battery.Discharging:
		out.State = Discharging
		out.ChargeRate = -b.ChargeRate
	case battery.Charging:
		out.State = Charging
	case battery.Full:
		out.State = Full
	case battery.Empty:
		out.State = Discharging
	default:
		if b.ChargeRate == 0 && b.Current < b.Full {
			out.State = NotCharging
		}
	}

	return out
}
