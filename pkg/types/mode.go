package types

import (
	"fmt"
	"strings"
)

// ChargingMode is a named preset that maps to an end threshold.
type ChargingMode string

const (
	ModeFullCapacity ChargingMode = "ful"
	ModeBalanced     ChargingMode = "bal"
	ModeMaxLifespan  ChargingMode = "max"
	// Reserved for devices that expose firmware-managed modes.
	ModeAdaptive ChargingMode = "adv"
	ModeExpress  ChargingMode = "exp"
)

// ChargingModes lists the modes in the order they are shown to users.
var ChargingModes = []ChargingMode{
	ModeFullCapacity,
	ModeBalanced,
	ModeMaxLifespan,
	ModeAdaptive,
	ModeExpress,
}

// ParseChargingMode accepts both the persisted short form and a long form.
func ParseChargingMode(s string) (ChargingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ful", "full", "full-capacity":
		return ModeFullCapacity, nil
	case "bal", "balanced":
		return ModeBalanced, nil
	case "max", "max-lifespan":
		return ModeMaxLifespan, nil
	case "adv", "adaptive":
		return ModeAdaptive, nil
	case "exp", "express":
		return ModeExpress, nil
	}
	return "", fmt.Errorf("unknown charging mode %q", s)
}

// LongName returns the human readable name of the mode.
func (m ChargingMode) LongName() string {
	switch m {
	case ModeFullCapacity:
		return "full-capacity"
	case ModeBalanced:
		return "balanced"
	case ModeMaxLifespan:
		return "max-lifespan"
	case ModeAdaptive:
		return "adaptive"
	case ModeExpress:
		return "express"
	}
	return string(m)
}
