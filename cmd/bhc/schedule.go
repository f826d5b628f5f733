package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sch", "sched"},
		Short:   "Manage the threshold reapply schedule",
		Long: `Manage the threshold reapply schedule.

Some firmware forgets charge thresholds after suspend or a firmware update. The daemon can
re-apply the thresholds of the active mode on a cron schedule.

  bhc schedule 'minute hour day month weekday' Set schedule with cron expression
  bhc schedule disable                         Disable the schedule
  bhc schedule skip                            Skip next run
  bhc schedule show                            Show current schedule`,
		Example: `  bhc schedule '*/30 * * * *' (every 30 minutes)
  bhc schedule '@hourly'
  bhc schedule '@every 2h'`,
		GroupID: gAdvanced,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}
			return runScheduleSet(args[0])
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "disable",
			Short: "Disable the reapply schedule",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return runScheduleSet("")
			},
		},
		&cobra.Command{
			Use:   "skip",
			Short: "Skip the next scheduled reapply",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				ret, err := apiClient.SkipReapply()
				if err != nil {
					return fmt.Errorf("failed to skip next reapply: %w", err)
				}
				logResponse(ret)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the reapply schedule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScheduleShow(cmd)
			},
		},
	)

	return cmd
}

func runScheduleSet(expr string) error {
	ret, err := apiClient.SetReapplySchedule(expr)
	if err != nil {
		return fmt.Errorf("failed to set reapply schedule: %w", err)
	}
	logResponse(ret)
	return nil
}

func runScheduleShow(cmd *cobra.Command) error {
	st, err := apiClient.GetStatus()
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if st.ReapplySchedule == "" {
		cmd.Println("Reapply schedule is disabled.")
		return nil
	}

	cmd.Printf("Schedule: %s\n", bold("%s", st.ReapplySchedule))
	cmd.Printf("Next run: %s\n", bold("%s", st.NextReapply))
	if len(st.RecentApplies) > 0 {
		last := st.RecentApplies[0]
		cmd.Printf("Last apply: %s %s\n", last.Time.Local().Format("2006-01-02 15:04:05"), bool2Text(last.Applied))
	}
	return nil
}
