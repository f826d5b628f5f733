package device

import (
	"github.com/sirupsen/logrus"

	"github.com/batteryhealth/bhc/pkg/types"
)

// Registry is the ordered, closed list of known variants.
type Registry struct {
	constructors []Constructor
}

// NewRegistry returns a registry scanning constructors in order.
func NewRegistry(constructors ...Constructor) *Registry {
	return &Registry{constructors: constructors}
}

// DefaultRegistry lists every supported variant in type id order.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewAsusBAT0,
		NewAsusBAT1,
		NewThinkPad,
		NewThinkPadBAT0,
		NewThinkPadBAT1,
		NewToshibaBAT0,
		NewToshibaBAT1,
		NewMsiBAT0,
		NewMsiBAT1,
		NewRazer,
	)
}

// Variants constructs every variant for listing. Callers must not keep them.
func (r *Registry) Variants(env Env) []Device {
	devices := make([]Device, 0, len(r.constructors))
	for _, c := range r.constructors {
		devices = append(devices, c(env))
	}
	return devices
}

// Detect returns the persisted variant if it is still available, otherwise
// the first available variant in order. On fallback the selection and the
// charging mode are reset before scanning. The chosen type id is stored in
// env.Config; persisting it is up to the caller.
func (r *Registry) Detect(env Env) (Device, error) {
	selected := env.Config.DeviceType()

	if selected != 0 {
		for _, c := range r.constructors {
			d := c(env)
			if d.Info().Type != selected {
				continue
			}
			if d.IsAvailable() {
				logrus.WithField("device", d.Info().Name).Debug("persisted device is available")
				return d, nil
			}
			break
		}

		logrus.WithField("type", selected).Info("persisted device is no longer available, detecting again")
		env.Config.SetDeviceType(0)
		env.Config.SetChargingMode(types.ModeFullCapacity)
	}

	for _, c := range r.constructors {
		d := c(env)
		if !d.IsAvailable() {
			continue
		}
		env.Config.SetDeviceType(d.Info().Type)
		logrus.WithFields(logrus.Fields{
			"device": d.Info().Name,
			"type":   d.Info().Type,
		}).Info("supported device found")
		return d, nil
	}

	return nil, ErrNoDevice
}
