package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/batteryhealth/bhc/pkg/daemon"
	"github.com/batteryhealth/bhc/pkg/types"
	"github.com/batteryhealth/bhc/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version",
		Annotations: map[string]string{offline: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func modeList() string {
	var lines []string
	for _, m := range types.ChargingModes {
		lines = append(lines, fmt.Sprintf("  %s  %s", m, m.LongName()))
	}
	return strings.Join(lines, "\n")
}

func NewModeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "mode [mode]",
		Short:   "Select the charging mode",
		GroupID: gBasic,
		Long: `Select the charging mode and apply its thresholds.

Available modes (not every device supports all of them):
` + modeList(),
		Example: `  bhc mode bal`,
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			mode, err := types.ParseChargingMode(args[0])
			if err != nil {
				return err
			}

			ret, err := apiClient.SetChargingMode(mode)
			if err != nil {
				return fmt.Errorf("failed to set charging mode: %w", err)
			}
			logResponse(ret)

			logrus.Infof("successfully set charging mode to %s", mode.LongName())

			return nil
		},
	}
}

func NewThresholdCommand() *cobra.Command {
	body := daemon.ThresholdBody{}

	cmd := &cobra.Command{
		Use:     "threshold [end]",
		Short:   "Set the end (and start) threshold of a charging mode",
		GroupID: gBasic,
		Long: `Set the end threshold of a charging mode, and the start threshold on devices that have one.

Thresholds are validated against the ranges of the detected device. If the mode is the active one,
the new thresholds are applied right away.`,
		Example: `  bhc threshold 80
  bhc threshold 75 --mode bal --start 70
  bhc threshold 60 --mode max --battery 2`,
		RunE: func(_ *cobra.Command, args []string) error {
			end, err := parseIntArg(args, "end threshold")
			if err != nil {
				return err
			}
			body.End = end

			if body.Mode == "" {
				st, err := apiClient.GetStatus()
				if err != nil {
					return fmt.Errorf("failed to get current charging mode: %w", err)
				}
				body.Mode = string(st.ChargingMode)
			}

			ret, err := apiClient.SetThreshold(body)
			if err != nil {
				return fmt.Errorf("failed to set threshold: %w", err)
			}
			logResponse(ret)

			logrus.Infof("successfully set %s end threshold to %d%%", body.Mode, end)

			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&body.Mode, "mode", "", "Charging mode to change. Defaults to the active mode.")
	f.IntVar(&body.Battery, "battery", 1, "Battery to change (1 or 2).")
	f.IntVar(&body.Start, "start", 0, "Start threshold, for devices that have one.")

	return cmd
}

func NewApplyCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "apply",
		Short:   "Apply the thresholds of the active charging mode again",
		GroupID: gBasic,
		Long: `Apply the thresholds of the active charging mode again.

Some firmware resets thresholds after suspend or when the charger is plugged in. See also "bhc schedule".`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.Apply()
			if err != nil {
				return fmt.Errorf("failed to apply threshold: %w", err)
			}
			logResponse(ret)
			return nil
		},
	}
}

func NewDetectCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "detect",
		Short:   "Detect the device again",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.Detect()
			if err != nil {
				return err
			}
			cmd.Printf("%s\n", st)
			return nil
		},
	}
}

func NewDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "devices",
		Short:   "List supported devices and whether they are present",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := apiClient.GetDevices()
			if err != nil {
				return fmt.Errorf("failed to get devices: %w", err)
			}

			for _, d := range devices {
				marker := " "
				if d.Selected {
					marker = "*"
				}
				cmd.Printf("%s %3d  %-24s %s\n", marker, d.Type, d.Name, bool2Text(d.Available))
			}
			return nil
		},
	}
}

func NewMetricsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "metrics",
		Short:   "Print the daemon's Prometheus metrics",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ret, err := apiClient.GetMetrics()
			if err != nil {
				return fmt.Errorf("failed to get metrics: %w", err)
			}
			cmd.Print(ret)
			return nil
		},
	}
}
