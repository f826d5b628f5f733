package daemon

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Uninstall stops and disables the unit, then removes the unit file.
func (s *Service) Uninstall() error {
	unitPath, err := s.UnitPath()
	if err != nil {
		return fmt.Errorf("failed to locate systemd user unit directory: %w", err)
	}

	// if the file doesn't exist, there is nothing to stop
	if _, err := os.Stat(unitPath); err != nil {
		if os.IsNotExist(err) {
			logrus.Infof("%s does not exist, nothing to uninstall", unitPath)
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", unitPath, err)
	}

	logrus.Infof("stopping bhc")
	if err := s.run("disable", "--now", UnitName); err != nil {
		return err
	}

	logrus.Infof("removing systemd user unit")
	if err := os.Remove(unitPath); err != nil {
		return fmt.Errorf("failed to remove %s: %w", unitPath, err)
	}

	return s.run("daemon-reload")
}
