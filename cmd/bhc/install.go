package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	daemonutils "github.com/batteryhealth/bhc/pkg/utils/daemon"
)

// NewHelperCommand manages the privileged helper through the daemon.
func NewHelperCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "helper",
		Short:   "Install, update or remove the privileged helper",
		GroupID: gInstallation,
		Long: `Install, update or remove the privileged helper.

Most vendor interfaces are root-owned sysfs files. bhc writes them through a small helper,
<service>-<user>, started by pkexec and allowed by a polkit rule. The installer script under
the resource directory puts both in place, and you will be asked to authenticate.`,
	}

	newAction := func(action, short string) *cobra.Command {
		return &cobra.Command{
			Use:   action,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				status, err := apiClient.Installation(action)
				if err != nil {
					return err
				}
				if action == "check" {
					cmd.Println(status)
					return nil
				}
				logrus.Infof("helper %s succeeded, status is now %s", action, status)
				return nil
			},
		}
	}

	cmd.AddCommand(
		newAction("install", "Install the privileged helper"),
		newAction("update", "Update the privileged helper"),
		newAction("uninstall", "Remove the privileged helper"),
		newAction("toggle", "Install, update or remove depending on the current status"),
		newAction("check", "Check whether the helper is installed and current"),
	)

	return cmd
}

// NewServiceCommand installs the daemon as a systemd user service.
func NewServiceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "service",
		Short:   "Install or uninstall the bhc systemd user service",
		GroupID: gInstallation,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:         "install",
			Short:       "Install bhc daemon as a systemd user service",
			Annotations: map[string]string{offline: "true"},
			Long: `Install bhc daemon as a systemd user service.

This makes bhc run in the background and start when you log in. Do not run this command as root.`,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if os.Geteuid() == 0 {
					logrus.Warn("installing a user service as root, the daemon will run in root's session")
				}

				if err := (&daemonutils.Service{}).Install(); err != nil {
					return fmt.Errorf("failed to install daemon: %w", err)
				}

				logrus.Infof("installation succeeded")

				exePath, _ := os.Executable()
				cmd.Printf("`systemd' will use current binary (%s) at startup so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run ``bhc service install'' again.\n", exePath)
				return nil
			},
		},
		&cobra.Command{
			Use:         "uninstall",
			Short:       "Uninstall bhc systemd user service",
			Annotations: map[string]string{offline: "true"},
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := (&daemonutils.Service{}).Uninstall(); err != nil {
					return fmt.Errorf("failed to uninstall daemon: %w", err)
				}

				fmt.Println("successfully uninstalled")

				cmd.Printf("Your config is kept in %s, in case you want to use `bhc' again. The privileged helper is not removed, run ``bhc helper uninstall'' before this command for a complete uninstall.\n", configPath)
				return nil
			},
		},
	)

	return cmd
}

