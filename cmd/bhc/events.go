package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/batteryhealth/bhc/pkg/events"
)

func formatEvent(ev events.Event) string {
	ts := time.Now().Format(time.Kitchen)
	switch ev.Name {
	case events.ThresholdApplied:
		p, err := events.DecodeAs[events.ThresholdAppliedEvent](ev)
		if err != nil {
			break
		}
		if !p.Applied {
			return fmt.Sprintf("%s %s %s battery %d: %s", ts, color.RedString("apply failed"), p.Device, p.Battery+1, bold("%d%%", p.Value))
		}
		return fmt.Sprintf("%s %s %s battery %d: %s", ts, color.GreenString("applied"), p.Device, p.Battery+1, bold("%d%%", p.Value))
	case events.BatteryLevel:
		p, err := events.DecodeAs[events.BatteryLevelEvent](ev)
		if err != nil {
			break
		}
		return fmt.Sprintf("%s battery level %s", ts, bold("%d%%", p.Level))
	case events.DriverState:
		p, err := events.DecodeAs[events.DriverStateEvent](ev)
		if err != nil {
			break
		}
		s := fmt.Sprintf("%s state %s -> %s", ts, p.From, bold("%s", p.To))
		if p.Message != "" {
			s += " (" + p.Message + ")"
		}
		return s
	case events.Notification:
		p, err := events.DecodeAs[events.NotificationEvent](ev)
		if err != nil {
			break
		}
		return fmt.Sprintf("%s %s %s", ts, color.YellowString(p.Title), p.Message)
	}
	return fmt.Sprintf("%s %s %s", ts, ev.Name, string(ev.Data))
}

func NewEventsCommand() *cobra.Command {
	raw := false

	cmd := &cobra.Command{
		Use:     "events",
		Short:   "Stream daemon events",
		GroupID: gAdvanced,
		Long: `Stream daemon events until interrupted.

Events are threshold applications, battery level changes, driver state changes and notifications.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			ch, err := apiClient.Events(ctx)
			if err != nil {
				return err
			}

			for ev := range ch {
				if raw {
					cmd.Printf("%s %s\n", ev.Name, string(ev.Data))
					continue
				}
				cmd.Println(formatEvent(ev))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print event names and JSON payloads.")

	return cmd
}
