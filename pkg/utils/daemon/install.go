package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/batteryhealth/bhc/hack"
)

// UnitName is the systemd user unit the daemon is installed as.
const UnitName = "bhc.service"

// Service installs the daemon as a systemd user unit.
type Service struct {
	// UnitDir is where the unit file is written. Empty uses
	// $XDG_CONFIG_HOME/systemd/user.
	UnitDir string
	// Executable is the binary the unit runs. Empty uses os.Executable.
	Executable string
	// Systemctl runs `systemctl --user` with args. Nil runs the real one.
	Systemctl func(args ...string) error
}

func systemctl(args ...string) error {
	out, err := exec.Command("systemctl", append([]string{"--user"}, args...)...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl --user %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (s *Service) unitDir() (string, error) {
	if s.UnitDir != "" {
		return s.UnitDir, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "systemd", "user"), nil
}

// UnitPath returns the path of the unit file.
func (s *Service) UnitPath() (string, error) {
	dir, err := s.unitDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, UnitName), nil
}

func (s *Service) run(args ...string) error {
	if s.Systemctl != nil {
		return s.Systemctl(args...)
	}
	return systemctl(args...)
}

func (s *Service) executable() (string, error) {
	exePath := s.Executable
	if exePath == "" {
		var err error
		exePath, err = os.Executable()
		if err != nil {
			return "", fmt.Errorf("failed to get the path to the current executable: %w", err)
		}
	}
	exePath, err := filepath.Abs(exePath)
	if err != nil {
		return "", fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}
	return exePath, nil
}

// Install writes the unit and enables it with --now.
func (s *Service) Install() error {
	exePath, err := s.executable()
	if err != nil {
		return err
	}
	logrus.Infof("current executable path: %s", exePath)

	unitPath, err := s.UnitPath()
	if err != nil {
		return fmt.Errorf("failed to locate systemd user unit directory: %w", err)
	}

	unit := strings.ReplaceAll(hack.SystemdUnitTemplate, "/path/to/bhc", exePath)

	// mkdir -p
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(unitPath), err)
	}

	// warn if the file already exists
	if _, err := os.Stat(unitPath); err == nil {
		logrus.Warnf("%s already exists, overwriting", unitPath)
	}

	logrus.Infof("writing systemd user unit to %s", unitPath)
	if err := os.WriteFile(unitPath, []byte(unit), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", unitPath, err)
	}

	if err := s.run("daemon-reload"); err != nil {
		return err
	}

	logrus.Infof("starting bhc")
	return s.run("enable", "--now", UnitName)
}
