package device

import (
	"context"
	"fmt"
	"strconv"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/batteryhealth/bhc/pkg/privileged"
	"github.com/batteryhealth/bhc/pkg/sysfs"
	"github.com/batteryhealth/bhc/pkg/types"
)

const (
	attrEndThreshold   = "charge_control_end_threshold"
	attrStartThreshold = "charge_control_start_threshold"
)

// sysfsBattery is one battery controlled through charge_control_*_threshold.
type sysfsBattery struct {
	// name is the power_supply name, e.g. BAT0.
	name string
	// index is the threshold slot, config.Battery1 or config.Battery2.
	index int
}

func (s sysfsBattery) endPath() string {
	return sysfs.BatteryPath(s.name, attrEndThreshold)
}

func (s sysfsBattery) startPath() string {
	return sysfs.BatteryPath(s.name, attrStartThreshold)
}

// target is a requested end threshold and, when withStart, a start threshold.
type target struct {
	end       int
	start     int
	withStart bool
}

func (t target) command(battery string) privileged.Command {
	if t.withStart {
		return privileged.Command{
			Name: fmt.Sprintf("%s_END_START", battery),
			Arg1: strconv.Itoa(t.end),
			Arg2: strconv.Itoa(t.start),
		}
	}
	return privileged.Command{
		Name: fmt.Sprintf("%s_END", battery),
		Arg1: strconv.Itoa(t.end),
	}
}

// reached reports whether the kernel already reports t.
func (b *base) reached(bat sysfsBattery, t target) bool {
	end, err := b.env.FS.ReadInt(bat.endPath())
	if err != nil || end != t.end {
		return false
	}
	if !t.withStart {
		return true
	}
	start, err := b.env.FS.ReadInt(bat.startPath())
	return err == nil && start == t.start
}

// applySysfs reads the current threshold, writes through the helper if it
// differs, then re-reads to confirm the kernel took the value.
func (b *base) applySysfs(ctx context.Context, bat sysfsBattery, t target) error {
	log := b.log().WithFields(logrus.Fields{
		"battery": bat.name,
		"end":     t.end,
	})
	if t.withStart {
		log = log.WithField("start", t.start)
	}

	if b.reached(bat, t) {
		log.Debug("threshold already set, skipping privileged write")
		return b.succeed(bat.index, t.end)
	}

	res, err := b.env.Runner.Run(ctx, t.command(bat.name))
	if err != nil {
		return b.fail(bat.index, t.end, pkgerrors.Wrapf(ErrApplyFailed, "run helper for %s: %v", bat.name, err))
	}
	if res.ExitStatus != 0 {
		return b.fail(bat.index, t.end, pkgerrors.Wrapf(ErrApplyFailed, "helper exited with status %d for %s", res.ExitStatus, bat.name))
	}

	if !b.reached(bat, t) {
		return b.fail(bat.index, t.end, pkgerrors.Wrapf(ErrApplyFailed, "%s does not report the written threshold", bat.name))
	}

	return b.succeed(bat.index, t.end)
}

// sysfsSingle is a single-battery variant speaking the sysfs integer protocol.
type sysfsSingle struct {
	base
	vendorPath string
	bat        sysfsBattery
}

func (d *sysfsSingle) IsAvailable() bool {
	return d.env.FS.Exists(d.vendorPath) && d.env.FS.Exists(d.bat.endPath())
}

func (d *sysfsSingle) SetThresholdLimit(ctx context.Context, mode types.ChargingMode) error {
	end, err := d.endTarget(mode, d.bat.index)
	if err != nil {
		return d.fail(d.bat.index, end, err)
	}
	return d.applySysfs(ctx, d.bat, target{end: end})
}
