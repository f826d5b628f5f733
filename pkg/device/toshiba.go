package device

import (
	"context"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/batteryhealth/bhc/pkg/config"
	"github.com/batteryhealth/bhc/pkg/events"
	"github.com/batteryhealth/bhc/pkg/types"
)

// toshibaLevels are the only two end thresholds toshiba_acpi accepts.
var toshibaLevels = map[types.ChargingMode]int{
	types.ModeFullCapacity: 100,
	types.ModeMaxLifespan:  80,
}

type toshiba struct {
	base
	bat sysfsBattery

	monMu       *sync.Mutex
	level       int
	unsubscribe func()
	destroyed   bool
	destroyOnce *sync.Once
}

var (
	_ Device         = &toshiba{}
	_ BatteryMonitor = &toshiba{}
)

func newToshiba(env Env, name string, typ int, battery string) *toshiba {
	info := &Info{
		Name:               name,
		Type:               typ,
		NeedRootPermission: true,
		IconForFullCapMode: "100",
		IconForMaxLifeMode: "080",
		EndRanges: map[types.ChargingMode]Range{
			types.ModeFullCapacity: {Min: 100, Max: 100},
			types.ModeMaxLifespan:  {Min: 80, Max: 80},
		},
		DischargeBeforeSet: 80,
	}
	return &toshiba{
		base:        newBase(info, env),
		bat:         sysfsBattery{name: battery, index: config.Battery1},
		monMu:       &sync.Mutex{},
		level:       -1,
		destroyOnce: &sync.Once{},
	}
}

// NewToshibaBAT0 returns the toshiba_acpi variant for BAT0.
func NewToshibaBAT0(env Env) Device {
	return newToshiba(env, "Toshiba BAT0", TypeToshibaBAT0, "BAT0")
}

// NewToshibaBAT1 returns the toshiba_acpi variant for BAT1.
func NewToshibaBAT1(env Env) Device {
	return newToshiba(env, "Toshiba BAT1", TypeToshibaBAT1, "BAT1")
}

func (d *toshiba) IsAvailable() bool {
	return d.env.FS.Exists(VendorToshiba) && d.env.FS.Exists(d.bat.endPath())
}

// SetThresholdLimit ignores configured values: full is 100 and max-lifespan is 80.
// Other modes are rejected before any IO.
func (d *toshiba) SetThresholdLimit(ctx context.Context, mode types.ChargingMode) error {
	end, ok := toshibaLevels[mode]
	if !ok {
		return d.fail(d.bat.index, 0, pkgerrors.Wrapf(ErrUnsupportedMode, "%s only supports full-capacity and max-lifespan, got %s", d.info.Name, mode.LongName()))
	}
	return d.applySysfs(ctx, d.bat, target{end: end})
}

// InitializeBatteryMonitoring reads the current level and subscribes to
// level changes. Calling it again after a successful call is a no-op.
func (d *toshiba) InitializeBatteryMonitoring(_ context.Context) error {
	d.monMu.Lock()
	if d.destroyed || d.unsubscribe != nil {
		d.monMu.Unlock()
		return nil
	}
	d.monMu.Unlock()

	level, err := d.env.FS.BatteryCapacity(d.bat.name)
	if err != nil {
		err = pkgerrors.Wrapf(err, "failed to read initial level of %s", d.bat.name)
	} else {
		d.updateLevel(level)
	}

	if d.env.Levels == nil {
		return err
	}

	ch, unsubscribe := d.env.Levels.Subscribe(d.bat.name)

	d.monMu.Lock()
	if d.destroyed || d.unsubscribe != nil {
		d.monMu.Unlock()
		unsubscribe()
		return err
	}
	d.unsubscribe = unsubscribe
	d.monMu.Unlock()

	go func() {
		for v := range ch {
			d.updateLevel(v)
		}
	}()

	return err
}

// updateLevel publishes battery.level only when the value actually changed.
func (d *toshiba) updateLevel(level int) {
	d.monMu.Lock()
	if d.destroyed || d.level == level {
		d.monMu.Unlock()
		return
	}
	d.level = level
	d.monMu.Unlock()

	d.log().WithField("level", level).Debug("battery level changed")
	if d.env.Events != nil {
		d.env.Events.Publish(events.BatteryLevel, events.BatteryLevelEvent{
			Device: d.info.Name,
			Level:  level,
			Ts:     time.Now().Unix(),
		})
	}
}

// BatteryLevel returns the last observed level, or -1 if none yet.
func (d *toshiba) BatteryLevel() int {
	d.monMu.Lock()
	defer d.monMu.Unlock()
	return d.level
}

func (d *toshiba) Destroy() {
	d.destroyOnce.Do(func() {
		d.monMu.Lock()
		d.destroyed = true
		unsubscribe := d.unsubscribe
		d.unsubscribe = nil
		d.monMu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
	})
}
