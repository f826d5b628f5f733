package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/batteryhealth/bhc/pkg/config"
	"github.com/batteryhealth/bhc/pkg/daemon"
	"github.com/batteryhealth/bhc/pkg/driver"
	"github.com/batteryhealth/bhc/pkg/powerinfo"
	"github.com/batteryhealth/bhc/pkg/types"
)

type statusData struct {
	status    *daemon.StatusResponse
	batteries []powerinfo.Battery
	config    *config.RawFileConfig
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	st, err := apiClient.GetStatus()
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	// not every machine exposes batteries through the power supply class
	bats, err := apiClient.GetBatteryInfo()
	if err != nil {
		logrus.Debugf("failed to get battery info: %v", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return &statusData{
		status:    st,
		batteries: bats,
		config:    conf,
	}, nil
}

type statusJSON struct {
	Status    *daemon.StatusResponse `json:"status"`
	Batteries []powerinfo.Battery    `json:"batteries,omitempty"`
}

func stateText(s driver.State) string {
	switch s {
	case driver.Applied, driver.Installed, driver.RootCheckSkipped:
		return color.GreenString(s.String())
	case driver.ApplyFailed, driver.NoDeviceFound, driver.NeedsInstall, driver.NeedsUpdate:
		return color.RedString(s.String())
	}
	return s.String()
}

func NewStatusCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of bhc",
		Long:    `Get the driver state, detected device, battery info, and configured thresholds.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			if asJSON {
				b, err := json.MarshalIndent(statusJSON{Status: data.status, Batteries: data.batteries}, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(b))
				return nil
			}

			st := data.status
			conf := config.NewFileFromConfig(data.config, "")

			cmd.Println(bold("Driver:"))
			cmd.Printf("  State: %s\n", bold("%s", stateText(st.State)))
			if st.Device == nil {
				cmd.Printf("  Device: %s\n", color.RedString("none detected"))
			} else {
				cmd.Printf("  Device: %s\n", bold("%s", st.Device.Name))
				if st.Device.NeedRootPermission {
					cmd.Printf("  Privileged helper: %s\n", bold("%s", st.PolkitStatus))
				}
			}
			cmd.Printf("  Charging mode: %s\n", bold("%s", st.ChargingMode.LongName()))
			for i, v := range st.LastApplied {
				if v < 0 {
					continue
				}
				cmd.Printf("  Applied threshold (battery %d): %s\n", i+1, bold("%d%%", v))
			}
			if st.LastExitStatus != nil && *st.LastExitStatus != 0 {
				cmd.Printf("  Last apply: %s\n", color.RedString("failed (exit status %d)", *st.LastExitStatus))
			}
			if st.BatteryLevel != nil && *st.BatteryLevel >= 0 {
				cmd.Printf("  Battery level: %s\n", bold("%d%%", *st.BatteryLevel))
			}
			if st.NextReapply != "" {
				cmd.Printf("  Next reapply: %s (%s)\n", bold("%s", st.NextReapply), st.ReapplySchedule)
			}

			if len(data.batteries) > 0 {
				cmd.Println()
				cmd.Println(bold("Battery status:"))
			}
			for _, b := range data.batteries {
				state := "not charging"
				switch b.State {
				case powerinfo.Charging:
					state = color.GreenString("charging")
				case powerinfo.Discharging:
					state = color.RedString("discharging")
				case powerinfo.Full:
					state = "full"
				}
				cmd.Printf("  Battery %d: %s, %s\n", b.Index+1, bold("%d%%", b.Level), bold("%s", state))
				cmd.Printf("    Health: %s\n", bold("%d%%", b.Health))
				watts := b.ChargeRate / 1e3
				var rateStr string
				switch {
				case watts > 0:
					rateStr = color.New(color.Bold, color.FgGreen).Sprintf("%+.1f W", watts)
				case watts < 0:
					rateStr = color.New(color.Bold, color.FgRed).Sprintf("%+.1f W", watts)
				default:
					rateStr = bold("%+.1f W", watts)
				}
				cmd.Printf("    Charge rate: %s\n", rateStr)
			}

			if st.Device == nil {
				return nil
			}

			cmd.Println()
			cmd.Println(bold("Thresholds:"))
			for _, m := range types.ChargingModes {
				if !st.Device.SupportsMode(m) {
					continue
				}
				marker := " "
				if m == st.ChargingMode {
					marker = "*"
				}
				line := fmt.Sprintf("%s %-14s end %3d%%", marker, m.LongName(), conf.EndThreshold(m, config.Battery1))
				if st.Device.HaveStartThreshold {
					line += fmt.Sprintf("  start %3d%%", conf.StartThreshold(m, config.Battery1))
				}
				if st.Device.HaveDualBattery {
					line += fmt.Sprintf("  | battery 2 end %3d%%", conf.EndThreshold(m, config.Battery2))
				}
				cmd.Println("  " + line)
			}
			if st.Device.DischargeBeforeSet > 0 {
				cmd.Printf("  Lower thresholds take effect once the battery is below %d%%.\n", st.Device.DischargeBeforeSet)
			}
			cmd.Printf("  Notifications: %s\n", bool2Text(conf.ShowNotifications()))

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON.")

	return cmd
}
