package types

import "fmt"

// InstallStatus is the state of the privileged helper installation.
// The integer values are the codes reported by the installation check.
type InstallStatus int

const (
	Installed    InstallStatus = 0
	NeedUpdate   InstallStatus = 1
	NotInstalled InstallStatus = 2
)

func (s InstallStatus) String() string {
	switch s {
	case Installed:
		return "installed"
	case NeedUpdate:
		return "need-update"
	case NotInstalled:
		return "not-installed"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// ParseInstallStatus parses the persisted string form.
func ParseInstallStatus(s string) (InstallStatus, error) {
	switch s {
	case "installed":
		return Installed, nil
	case "need-update":
		return NeedUpdate, nil
	case "not-installed", "":
		return NotInstalled, nil
	}
	return NotInstalled, fmt.Errorf("unknown installation status %q", s)
}

func (s InstallStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *InstallStatus) UnmarshalText(b []byte) error {
	v, err := ParseInstallStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
