package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/devblac/launch-watch/internal/storage"
)

var flagAlertLimit int

func init() {
	alertsCmd.Flags().IntVar(&flagAlertLimit, "limit", 20, "Number of alerts to show")
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show recent alerts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *storage.Store) error {
			alerts, err := st.GetRecentAlerts(cmd.Context(), flagAlertLimit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tHANDLE\tTOKEN\tCONTRACT\tFAMILY\tPLATFORM")
			for _, a := range alerts {
				fmt.Fprintf(tw, "%s\t@%s\t%s (%s)\t%s\t%s\t%s\n",
					a.CreatedAt.UTC().Format("2006-01-02 15:04:05"), a.Handle, a.Name, a.Symbol, a.Contract, a.Family, a.Platform)
			}
			return tw.Flush()
		})
	},
}
