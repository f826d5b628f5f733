package device

import (
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/batteryhealth/bhc/pkg/events"
	"github.com/batteryhealth/bhc/pkg/types"
)

// base holds the state shared by all variants.
type base struct {
	info *Info
	env  Env

	mu          *sync.Mutex
	lastApplied [2]int
}

func newBase(info *Info, env Env) base {
	return base{info: info, env: env, mu: &sync.Mutex{}, lastApplied: [2]int{-1, -1}}
}

func (b *base) Info() *Info {
	return b.info
}

func (b *base) LastApplied(battery int) int {
	if battery < 0 || battery >= len(b.lastApplied) {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastApplied[battery]
}

func (b *base) setLastApplied(battery, v int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastApplied[battery] = v
}

func (b *base) Destroy() {}

func (b *base) log() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"device": b.info.Name,
		"type":   b.info.Type,
	})
}

func (b *base) publishApplied(battery int, applied bool, value int) {
	if b.env.Events == nil {
		return
	}
	b.env.Events.Publish(events.ThresholdApplied, events.ThresholdAppliedEvent{
		Device:  b.info.Name,
		Battery: battery,
		Applied: applied,
		Value:   value,
		Ts:      time.Now().Unix(),
	})
}

// fail publishes applied=false and returns err.
func (b *base) fail(battery, value int, err error) error {
	b.publishApplied(battery, false, value)
	b.log().WithError(err).WithField("battery", battery).Warn("threshold not applied")
	return err
}

// succeed records value and publishes applied=true.
func (b *base) succeed(battery, value int) error {
	b.setLastApplied(battery, value)
	b.publishApplied(battery, true, value)
	b.log().WithFields(logrus.Fields{
		"battery": battery,
		"value":   value,
	}).Info("threshold applied")
	return nil
}

// endTarget resolves mode to the configured end threshold and checks it
// against the device's range.
func (b *base) endTarget(mode types.ChargingMode, battery int) (int, error) {
	r, ok := b.info.EndRanges[mode]
	if !ok {
		return 0, pkgerrors.Wrapf(ErrUnsupportedMode, "%s has no %s mode", b.info.Name, mode.LongName())
	}
	v := b.env.Config.EndThreshold(mode, battery)
	if !r.Contains(v) {
		return v, pkgerrors.Wrapf(ErrThresholdOutOfRange, "end threshold %d not in [%d, %d]", v, r.Min, r.Max)
	}
	return v, nil
}

func (b *base) startTarget(mode types.ChargingMode, battery int) (int, error) {
	r, ok := b.info.StartRanges[mode]
	if !ok {
		return 0, pkgerrors.Wrapf(ErrUnsupportedMode, "%s has no start threshold for %s mode", b.info.Name, mode.LongName())
	}
	v := b.env.Config.StartThreshold(mode, battery)
	if !r.Contains(v) {
		return v, pkgerrors.Wrapf(ErrThresholdOutOfRange, "start threshold %d not in [%d, %d]", v, r.Min, r.Max)
	}
	return v, nil
}

// protocolError wraps a protocol failure so it matches both ErrProtocol and ErrApplyFailed.
func protocolError(format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrApplyFailed, ErrProtocol, fmt.Sprintf(format, args...))
}
