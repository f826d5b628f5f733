package config

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/batteryhealth/bhc/pkg/types"
)

// Battery indexes used by threshold accessors.
const (
	Battery1 = 0
	Battery2 = 1
)

type Config interface {
	DeviceType() int
	ChargingMode() types.ChargingMode
	EndThreshold(mode types.ChargingMode, battery int) int
	StartThreshold(mode types.ChargingMode, battery int) int
	PolkitStatus() types.InstallStatus
	CtlPath() string
	ShowNotifications() bool
	ResourceDir() string
	ServiceName() string
	CommandTimeout() time.Duration
	ReapplySchedule() string

	SetDeviceType(int)
	SetChargingMode(types.ChargingMode)
	SetEndThreshold(mode types.ChargingMode, battery int, value int)
	SetStartThreshold(mode types.ChargingMode, battery int, value int)
	SetPolkitStatus(types.InstallStatus)
	SetCtlPath(string)
	SetShowNotifications(bool)
	SetReapplySchedule(string)

	LogrusFields() logrus.Fields

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
