package main

import (
	"fmt"
	"time"

	"duneweaver/internal/clock"
	"duneweaver/internal/schedule"

	"github.com/spf13/cobra"
)

func newScheduleCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect the playlist schedule",
	}

	cmd.AddCommand(newScheduleActiveCmd(e), newScheduleListCmd(e))
	return cmd
}

func newScheduleActiveCmd(e *env) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "active",
		Short: "Print the playlist active on a date (default today)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loc := e.settings.Timezone
			day := clock.Today(time.Now(), loc)
			if date != "" {
				parsed, err := time.ParseInLocation("2006-01-02", date, loc)
				if err != nil {
					return fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", date)
				}
				day = parsed
			}

			entries, err := schedule.NewLoader(e.settings.ScheduleFile, e.logger).Load()
			if err != nil {
				return err
			}

			name, ok := schedule.NewResolver(e.logger).ActivePlaylist(entries, day)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no special playlist (Neutral)\n", day.Format("2006-01-02"))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", day.Format("2006-01-02"), name)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Date as YYYY-MM-DD")
	return cmd
}

func newScheduleListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print schedule entries in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := schedule.NewLoader(e.settings.ScheduleFile, e.logger).Load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, entry := range entries {
				fmt.Fprintf(out, "%-20s %-8s %s\n", entry.Playlist, entry.Kind, describe(entry))
			}
			return nil
		},
	}
}

func describe(e schedule.Entry) string {
	switch e.Kind {
	case schedule.KindRange:
		return fmt.Sprintf("%s - %s", e.Start, e.End)
	case schedule.KindDates:
		return fmt.Sprintf("%v", e.Dates)
	case schedule.KindDynamic:
		return e.Holiday
	}
	return ""
}
