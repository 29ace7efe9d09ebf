package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devblac/launch-watch/internal/discovery"
)

var discoverCmd = &cobra.Command{
	Use:   "discover [handle...]",
	Short: "Search indexers for wallets that launched under watched handles",
	Long:  "Without arguments every watched handle is searched.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		d := discovery.New(store, buildResolvers(cfg, log, nil).finders(), log)
		if d.Finders() == 0 {
			return fmt.Errorf("no resolvers configured")
		}
		reports, err := d.Run(cmd.Context(), args)
		out := cmd.OutOrStdout()
		for _, r := range reports {
			fmt.Fprintln(out, r)
		}
		return err
	},
}
