package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/devblac/launch-watch/internal/storage"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage the watchlist",
}

var watchAddCmd = &cobra.Command{
	Use:   "add <handle>...",
	Short: "Add handles to the watchlist",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *storage.Store) error {
			for _, h := range args {
				added, err := st.AddWatchedAccount(cmd.Context(), h)
				if err != nil {
					return err
				}
				state := "added"
				if !added {
					state = "already watched"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", h, state)
			}
			return nil
		})
	},
}

var watchRemoveCmd = &cobra.Command{
	Use:   "remove <handle>...",
	Short: "Remove handles and their wallet mappings",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *storage.Store) error {
			for _, h := range args {
				removed, err := st.RemoveWatchedAccount(cmd.Context(), h)
				if err != nil {
					return err
				}
				state := "removed"
				if !removed {
					state = "not watched"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", h, state)
			}
			return nil
		})
	},
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched handles and their known wallets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *storage.Store) error {
			entries, err := st.GetWatchedAccounts(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HANDLE\tADDED\tWALLETS")
			for _, e := range entries {
				wallets, err := st.GetWalletsByHandle(cmd.Context(), e.Handle)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "@%s\t%s\t%d\n", e.Handle, e.AddedAt.UTC().Format("2006-01-02"), len(wallets))
			}
			return tw.Flush()
		})
	},
}

func init() {
	watchCmd.AddCommand(watchAddCmd, watchRemoveCmd, watchListCmd)
}
