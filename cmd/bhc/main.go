package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/batteryhealth/bhc/pkg/client"
	"github.com/batteryhealth/bhc/pkg/config"
)

var (
	logLevel       = "info"
	unixSocketPath = config.DefaultSocketPath()
	configPath     = config.DefaultPath()
)

var (
	gBasic        = "Basic:"
	gAdvanced     = "Advanced:"
	gInstallation = "Installation:"
	commandGroups = []string{
		gBasic,
		gAdvanced,
		gInstallation,
	}
)

var apiClient *client.Client

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	var se *client.StatusError
	switch {
	case errors.Is(err, client.ErrDaemonNotRunning):
		fmt.Fprintln(os.Stderr, "\nError: bhc daemon is not running")
		fmt.Fprintln(os.Stderr, "Is the daemon running? Have you installed it with 'bhc service install'?")
	case errors.Is(err, client.ErrPermissionDenied):
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintf(os.Stderr, "  - The daemon socket %s belongs to another user\n", unixSocketPath)
	case errors.As(err, &se) && se.Code == 409:
		fmt.Fprintln(os.Stderr, "\nThe privileged helper is missing or outdated. Run 'bhc helper install' or 'bhc helper update'.")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bhc",
		Short: "bhc manages laptop battery charge thresholds",
		Long: `bhc manages laptop battery charge thresholds on Linux.

It detects the vendor interface of your laptop (ASUS, Lenovo ThinkPad, MSI, Toshiba, Razer),
and applies the charge thresholds of the selected charging mode through a privileged helper.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			err := setupLogger()
			if err != nil {
				return err
			}

			apiClient = client.NewClient(unixSocketPath)

			// the daemon itself and offline commands do not talk to a daemon
			if cmd.Annotations[offline] != "" {
				return nil
			}

			if clientVersion, daemonVersion, err := getVersion(); err == nil {
				if daemonVersion != clientVersion {
					logrus.WithFields(logrus.Fields{
						"clientVersion": clientVersion,
						"daemonVersion": daemonVersion,
					}).Warn("Version mismatch between client and daemon. Restart the daemon after upgrading bhc.")
				}
			}

			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "bhc daemon unix socket path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewStatusCommand(),
		NewModeCommand(),
		NewThresholdCommand(),
		NewApplyCommand(),
		NewDetectCommand(),
		NewDevicesCommand(),
		NewScheduleCommand(),
		NewEventsCommand(),
		NewMetricsCommand(),
		NewHelperCommand(),
		NewServiceCommand(),
	)

	return cmd
}
