// Package device implements the closed set of supported charge-control
// variants and the registry used to detect which one is present.
package device

import (
	"context"
	"errors"

	"github.com/batteryhealth/bhc/pkg/config"
	"github.com/batteryhealth/bhc/pkg/events"
	"github.com/batteryhealth/bhc/pkg/monitor"
	"github.com/batteryhealth/bhc/pkg/privileged"
	"github.com/batteryhealth/bhc/pkg/sysfs"
	"github.com/batteryhealth/bhc/pkg/types"
)

var (
	// ErrNoDevice is returned by detection when no variant is available.
	ErrNoDevice = errors.New("no supported device found")
	// ErrApplyFailed means the device did not reach the requested threshold.
	ErrApplyFailed = errors.New("failed to apply threshold")
	// ErrProtocol means vendor output did not have the expected shape.
	// It is always reported wrapped together with ErrApplyFailed.
	ErrProtocol = errors.New("unexpected vendor output")
	// ErrUnsupportedMode means the device has no such charging mode.
	ErrUnsupportedMode = errors.New("charging mode not supported by device")
	// ErrThresholdOutOfRange means the configured value is outside the mode's range.
	ErrThresholdOutOfRange = errors.New("threshold out of range")
)

// Range is an inclusive threshold range.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether v is within the range.
func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// Info describes a variant's identity and capabilities.
type Info struct {
	Name string `json:"name"`
	// Type is persisted as the user's device selection and never reused.
	Type int `json:"type"`

	NeedRootPermission    bool `json:"needRootPermission"`
	HaveDualBattery       bool `json:"haveDualBattery"`
	HaveStartThreshold    bool `json:"haveStartThreshold"`
	HaveVariableThreshold bool `json:"haveVariableThreshold"`
	HaveBalancedMode      bool `json:"haveBalancedMode"`
	HaveAdaptiveMode      bool `json:"haveAdaptiveMode"`
	HaveExpressMode       bool `json:"haveExpressMode"`
	UsesModeNotValue      bool `json:"usesModeNotValue"`

	IconForFullCapMode string `json:"iconForFullCapMode,omitempty"`
	IconForBalanceMode string `json:"iconForBalanceMode,omitempty"`
	IconForMaxLifeMode string `json:"iconForMaxLifeMode,omitempty"`

	EndRanges   map[types.ChargingMode]Range `json:"endRanges"`
	StartRanges map[types.ChargingMode]Range `json:"startRanges,omitempty"`

	IncrementsStep int `json:"incrementsStep,omitempty"`
	IncrementsPage int `json:"incrementsPage,omitempty"`
	MinDiffLimit   int `json:"minDiffLimit,omitempty"`

	// DischargeBeforeSet is the level the battery must drop below before a
	// lower threshold takes effect. Zero if not applicable.
	DischargeBeforeSet int `json:"dischargeBeforeSet,omitempty"`
}

// SupportsMode reports whether mode has an end range on this device.
func (i *Info) SupportsMode(mode types.ChargingMode) bool {
	_, ok := i.EndRanges[mode]
	return ok
}

// Device is one vendor/battery combination.
type Device interface {
	Info() *Info
	// IsAvailable reports whether the device is present, without privilege.
	IsAvailable() bool
	// SetThresholdLimit applies the threshold configured for mode.
	// It publishes exactly one threshold.applied event per call.
	SetThresholdLimit(ctx context.Context, mode types.ChargingMode) error
	// LastApplied returns the last value confirmed on battery, or -1.
	LastApplied(battery int) int
	// Destroy releases held resources. Safe to call more than once.
	Destroy()
}

// DualBattery is implemented by devices with two independently limited batteries.
type DualBattery interface {
	// SetThresholdLimitDual applies the primary thresholds to the first
	// battery and the secondary ones to the second. Both must succeed.
	SetThresholdLimitDual(ctx context.Context, mode types.ChargingMode) error
}

// BatteryMonitor is implemented by devices that report battery level changes.
type BatteryMonitor interface {
	InitializeBatteryMonitoring(ctx context.Context) error
	BatteryLevel() int
}

// ExitStatus maps an apply result to the 0 / 1 status used by the helper protocol.
func ExitStatus(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// Env carries everything a variant needs. Variants hold no global state.
type Env struct {
	FS     *sysfs.FS
	Runner privileged.Runner
	Config config.Config
	Events events.Publisher
	// Levels may be nil; monitoring then only reports the initial level.
	Levels monitor.Source
}

// Constructor builds a variant. It must be cheap and side-effect free.
type Constructor func(env Env) Device
