package main

import (
	"fmt"
	"time"

	"duneweaver/internal/holiday"

	"github.com/spf13/cobra"
)

func newHolidaysCmd() *cobra.Command {
	var year int

	cmd := &cobra.Command{
		Use:   "holidays",
		Short: "Print the dates of the computed holidays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if year == 0 {
				year = time.Now().Year()
			}

			for _, name := range holiday.Names() {
				date, _ := holiday.DateOf(name, year)
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", name, date.Format("Mon 2006-01-02"))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&year, "year", 0, "Year (default current year)")
	return cmd
}
