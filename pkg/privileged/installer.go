package privileged

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/batteryhealth/bhc/pkg/types"
)

// Action is an installer script action.
type Action string

const (
	ActionInstall   Action = "install"
	ActionUpdate    Action = "update"
	ActionUninstall Action = "uninstall"
)

// CheckInstallationCommand is the helper token for the version check.
const CheckInstallationCommand = "CHECKINSTALLATION"

// ErrCheckInterrupted is returned when the installation check timed out or
// was cancelled before the helper reported a status.
var ErrCheckInterrupted = errors.New("installation check did not complete")

// Installer installs, updates and removes the trusted helper and its polkit rules.
type Installer interface {
	Run(ctx context.Context, action Action) (Result, error)
}

// ScriptInstaller runs <resourceDir>/tool/installer.sh under the elevation front-end.
type ScriptInstaller struct {
	Elevator    string
	ResourceDir func() string
	User        string
}

var _ Installer = &ScriptInstaller{}

// ScriptPath returns the installer script location.
func (s *ScriptInstaller) ScriptPath() string {
	return filepath.Join(s.ResourceDir(), "tool", "installer.sh")
}

func (s *ScriptInstaller) Run(ctx context.Context, action Action) (Result, error) {
	switch action {
	case ActionInstall, ActionUpdate, ActionUninstall:
	default:
		return Result{}, fmt.Errorf("unknown installer action %q", action)
	}

	args := []string{s.ScriptPath(), "--tool-user", s.User, string(action)}
	res, err := execArgv(ctx, s.Elevator, 0, args, false)
	if err != nil {
		return res, err
	}

	logrus.WithFields(logrus.Fields{
		"action":     action,
		"exitStatus": res.ExitStatus,
	}).Infof("installer: %s", res.Output)

	return res, nil
}

// HelperName returns the per-user helper binary name, <service>-<user>.
func HelperName(service, user string) string {
	return fmt.Sprintf("%s-%s", service, user)
}

// LookPathFunc resolves a program name on PATH.
type LookPathFunc func(file string) (string, error)

// FindHelper locates the trusted helper for user on PATH.
func FindHelper(lookPath LookPathFunc, service, user string) (string, bool) {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	p, err := lookPath(HelperName(service, user))
	if err != nil || p == "" {
		return "", false
	}
	return p, true
}

// CheckInstallation reports whether the helper is installed and current.
// An absent helper is NotInstalled; exit status 1 of CHECKINSTALLATION is
// NeedUpdate; any other completed status is Installed. A check that timed
// out or was cancelled returns ErrCheckInterrupted.
func CheckInstallation(ctx context.Context, runner Runner, ctlPath, resourceDir, user string) (types.InstallStatus, error) {
	if ctlPath == "" {
		return types.NotInstalled, nil
	}

	res, err := runner.Run(ctx, Command{
		Name:    CheckInstallationCommand,
		Arg1:    resourceDir,
		Arg2:    user,
		CtlPath: ctlPath,
	})
	if err != nil {
		return types.NotInstalled, pkgerrors.Wrap(err, "failed to run installation check")
	}
	if res.ExitStatus < 0 || ctx.Err() != nil {
		return types.NotInstalled, pkgerrors.Wrapf(ErrCheckInterrupted, "exit status %d", res.ExitStatus)
	}

	if res.ExitStatus == 1 {
		return types.NeedUpdate, nil
	}
	return types.Installed, nil
}
