package device

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"

	"github.com/batteryhealth/bhc/pkg/config"
	"github.com/batteryhealth/bhc/pkg/types"
)

// thinkpad is the thinkpad_acpi variant. Each battery has an end and a
// start threshold.
type thinkpad struct {
	base
	batteries []sysfsBattery
}

var (
	_ Device      = &thinkpad{}
	_ DualBattery = &thinkpad{}
)

func thinkpadInfo(name string, typ int, dual bool) *Info {
	return &Info{
		Name:                  name,
		Type:                  typ,
		NeedRootPermission:    true,
		HaveDualBattery:       dual,
		HaveStartThreshold:    true,
		HaveVariableThreshold: true,
		HaveBalancedMode:      true,
		IconForFullCapMode:    "100",
		IconForBalanceMode:    "080",
		IconForMaxLifeMode:    "060",
		EndRanges:             variableEndRanges(),
		StartRanges: map[types.ChargingMode]Range{
			types.ModeFullCapacity: {Min: 75, Max: 98},
			types.ModeBalanced:     {Min: 60, Max: 83},
			types.ModeMaxLifespan:  {Min: 40, Max: 83},
		},
		IncrementsStep: 1,
		IncrementsPage: 5,
		MinDiffLimit:   2,
	}
}

// NewThinkPad returns the ThinkPad dual-battery variant.
func NewThinkPad(env Env) Device {
	return &thinkpad{
		base: newBase(thinkpadInfo("ThinkPad BAT0/BAT1", TypeThinkPad, true), env),
		batteries: []sysfsBattery{
			{name: "BAT0", index: config.Battery1},
			{name: "BAT1", index: config.Battery2},
		},
	}
}

// NewThinkPadBAT0 returns the single-battery ThinkPad variant on BAT0.
func NewThinkPadBAT0(env Env) Device {
	return &thinkpad{
		base:      newBase(thinkpadInfo("ThinkPad BAT0", TypeThinkPadBAT0, false), env),
		batteries: []sysfsBattery{{name: "BAT0", index: config.Battery1}},
	}
}

// NewThinkPadBAT1 returns the single-battery ThinkPad variant on BAT1.
func NewThinkPadBAT1(env Env) Device {
	return &thinkpad{
		base:      newBase(thinkpadInfo("ThinkPad BAT1", TypeThinkPadBAT1, false), env),
		batteries: []sysfsBattery{{name: "BAT1", index: config.Battery1}},
	}
}

func (d *thinkpad) IsAvailable() bool {
	if !d.env.FS.Exists(VendorThinkPad) {
		return false
	}
	for _, bat := range d.batteries {
		if !d.env.FS.Exists(bat.endPath()) || !d.env.FS.Exists(bat.startPath()) {
			return false
		}
	}
	return true
}

func (d *thinkpad) targetFor(mode types.ChargingMode, battery int) (target, error) {
	end, err := d.endTarget(mode, battery)
	if err != nil {
		return target{end: end}, err
	}
	start, err := d.startTarget(mode, battery)
	if err != nil {
		return target{end: end}, err
	}
	if end-start < d.info.MinDiffLimit {
		return target{end: end}, pkgerrors.Wrapf(ErrThresholdOutOfRange,
			"start threshold %d must be at least %d below end threshold %d", start, d.info.MinDiffLimit, end)
	}
	return target{end: end, start: start, withStart: true}, nil
}

func (d *thinkpad) apply(ctx context.Context, mode types.ChargingMode, bat sysfsBattery) error {
	t, err := d.targetFor(mode, bat.index)
	if err != nil {
		return d.fail(bat.index, t.end, err)
	}
	return d.applySysfs(ctx, bat, t)
}

// SetThresholdLimit applies the primary thresholds to the first battery only.
func (d *thinkpad) SetThresholdLimit(ctx context.Context, mode types.ChargingMode) error {
	return d.apply(ctx, mode, d.batteries[0])
}

// SetThresholdLimitDual applies every battery and publishes one event per battery.
// The second battery is attempted even if the first one fails.
func (d *thinkpad) SetThresholdLimitDual(ctx context.Context, mode types.ChargingMode) error {
	var errs []error
	for _, bat := range d.batteries {
		if err := d.apply(ctx, mode, bat); err != nil {
			errs = append(errs, pkgerrors.Wrapf(err, "%s", bat.name))
		}
	}
	return errors.Join(errs...)
}
