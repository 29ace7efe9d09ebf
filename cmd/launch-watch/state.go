package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/devblac/launch-watch/internal/storage"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show block cursors and watchlist counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *storage.Store) error {
			ctx := cmd.Context()
			cursors, err := st.ListCursors(ctx)
			if err != nil {
				return err
			}
			count, err := st.GetWatchedCount(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "watched handles: %d\n", count)
			if len(cursors) == 0 {
				fmt.Fprintln(out, "no cursors recorded yet")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WATCH\tBLOCK\tHASH\tUPDATED")
			for _, c := range cursors {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", c.SourceID, c.Height, c.Hash, c.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		})
	},
}
