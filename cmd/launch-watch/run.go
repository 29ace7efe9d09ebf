package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/devblac/launch-watch/internal/api"
	"github.com/devblac/launch-watch/internal/chain"
	"github.com/devblac/launch-watch/internal/command"
	"github.com/devblac/launch-watch/internal/config"
	"github.com/devblac/launch-watch/internal/discovery"
	"github.com/devblac/launch-watch/internal/metrics"
	"github.com/devblac/launch-watch/internal/notify"
	"github.com/devblac/launch-watch/internal/pipeline"
	"github.com/devblac/launch-watch/internal/supervisor"
)

var (
	flagDryRun  bool
	flagHealth  string
	flagMetrics string
)

func init() {
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Resolve and log matches without notifying or writing state")
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Admin/health HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream factory events and alert on watched deployers",
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

		var mtr *metrics.Metrics
		if flagMetrics != "" {
			mtr = metrics.Init()
		}

		res := buildResolvers(cfg, log, mtr)
		notifiers, pollers, err := notify.Build(cfg.Notifiers)
		if err != nil {
			return err
		}
		if len(notifiers) == 0 {
			log.Warn("no notifiers configured, matches will only be logged")
		}

		events, err := chain.LoadFactoryEvents(cfg.Chain.ABIDirs)
		if err != nil {
			return err
		}
		watches, err := chain.NewWatches(cfg.Contracts, events)
		if err != nil {
			return err
		}

		pipe := pipeline.New(store, res.tokens(), res.social(), notifiers, pipeline.Options{
			Learn:           cfg.Global.Learn(),
			DryRun:          flagDryRun,
			DedupeTTL:       cfg.Global.DedupeTTL.Std(),
			FastPathTimeout: cfg.Global.FastPathTimeout.Std(),
			Logger:          log,
			Metrics:         mtr,
		})

		opts := supervisorOptions(cfg, store, notifiers, flagDryRun)
		opts.Logger = log
		opts.Metrics = mtr
		sup := supervisor.New(chain.Dialer(cfg.Chain.WSURL), watches, pipe, opts)

		if flagHealth != "" {
			router := api.NewRouter(store, api.Checker{
				DBPing:    store.Ping,
				ChainPing: sup.Ping,
			}, nil, log)
			srv := api.Serve(flagHealth, router, log)
			log.Info("admin api enabled", "addr", flagHealth)
			defer shutdownServer(srv)
		}
		if flagMetrics != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := api.Serve(flagMetrics, mux, log)
			log.Info("metrics enabled", "addr", flagMetrics)
			defer shutdownServer(srv)
		}

		disc := discovery.New(store, res.finders(), log)
		commands := command.New(store, disc, sup, log)

		log.Info("starting",
			"watches", len(watches),
			"notifiers", len(notifiers),
			"learn_wallets", cfg.Global.Learn(),
			"dry_run", flagDryRun,
		)

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			if err := sup.Run(ctx); err != nil {
				return fmt.Errorf("supervisor: %w", err)
			}
			return nil
		})
		for _, p := range pollers {
			p := p
			g.Go(func() error {
				p.Poll(ctx, commands, log)
				return nil
			})
		}
		err = g.Wait()
		log.Info("stopped")
		return err
	},
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = api.Shutdown(ctx, srv)
}

// supervisorOptions leaves out cursors and status messages on a dry run, so
// nothing is persisted and a later real run backfills what was only logged.
func supervisorOptions(cfg *config.Config, cursors supervisor.CursorStore, status supervisor.StatusNotifier, dryRun bool) supervisor.Options {
	opts := supervisor.OptionsFrom(cfg)
	if !dryRun {
		opts.Cursors = cursors
		opts.Status = status
	}
	return opts
}
