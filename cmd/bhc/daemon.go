package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/batteryhealth/bhc/pkg/daemon"
	"github.com/batteryhealth/bhc/pkg/monitor"
	"github.com/batteryhealth/bhc/pkg/privileged"
	"github.com/batteryhealth/bhc/pkg/version"
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	opts := daemon.Options{}

	cmd := &cobra.Command{
		Use:         "daemon",
		Hidden:      true,
		Short:       "Run bhc daemon in the foreground",
		GroupID:     gAdvanced,
		Annotations: map[string]string{offline: "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("bhc daemon starting")

			opts.ConfigPath = configPath
			opts.SocketPath = unixSocketPath
			return daemon.Run(opts)
		},
	}

	f := cmd.Flags()

	f.StringVar(&opts.Root, "sysfs-root", "", "Prefix for every sysfs path. Used for testing against a fake tree.")
	f.StringVar(&opts.Elevator, "elevator", privileged.DefaultElevator, "Program used to run the privileged helper and installer.")
	f.StringVar(&opts.User, "user", "", "User the privileged helper is installed for. Defaults to the current user.")
	f.DurationVar(&opts.PollInterval, "poll-interval", monitor.DefaultInterval, "Battery level poll interval.")

	return cmd
}
