package driver

import "fmt"

// State is a step of the detect, check installation, apply lifecycle.
type State int

const (
	Uninitialized State = iota
	Detecting
	NoDeviceFound
	DeviceFound
	RootCheckSkipped
	CheckingInstallation
	NeedsInstall
	NeedsUpdate
	Installed
	ApplyingThreshold
	Applied
	ApplyFailed
	Destroyed
)

var stateNames = map[State]string{
	Uninitialized:        "uninitialized",
	Detecting:            "detecting",
	NoDeviceFound:        "no-device-found",
	DeviceFound:          "device-found",
	RootCheckSkipped:     "root-check-skipped",
	CheckingInstallation: "checking-installation",
	NeedsInstall:         "needs-install",
	NeedsUpdate:          "needs-update",
	Installed:            "installed",
	ApplyingThreshold:    "applying-threshold",
	Applied:              "applied",
	ApplyFailed:          "apply-failed",
	Destroyed:            "destroyed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for k, v := range stateNames {
		if v == string(b) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown driver state %q", b)
}
