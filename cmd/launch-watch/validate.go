package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/devblac/launch-watch/internal/chain"
	"github.com/devblac/launch-watch/internal/config"
	"github.com/devblac/launch-watch/internal/notify"
)

const defaultHTTPTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config and check chain and resolver connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d)\n", cfg.Version)

		events, err := chain.LoadFactoryEvents(cfg.Chain.ABIDirs)
		if err != nil {
			return err
		}
		watches, err := chain.NewWatches(cfg.Contracts, events)
		if err != nil {
			return err
		}
		for _, w := range watches {
			fmt.Fprintf(out, "- watch %s (%s) topic %s\n", w.ID(), w.Label, w.Topic0.Hex())
		}
		if _, _, err := notify.Build(cfg.Notifiers); err != nil {
			return err
		}

		failures := 0
		chainID, head, err := pingChain(ctx, cfg.Chain.WSURL, cfg.Chain.HandshakeTimeout.Std())
		if err != nil {
			failures++
			fmt.Fprintf(out, "- chain: ERROR %v\n", err)
		} else {
			fmt.Fprintf(out, "- chain: chainId %s head %d OK\n", chainID, head)
		}

		client := &http.Client{Timeout: defaultHTTPTimeout}
		for _, rc := range []config.Resolver{cfg.Resolvers.Primary, cfg.Resolvers.Secondary, cfg.Resolvers.Overlay} {
			if !rc.Enabled() {
				continue
			}
			if err := pingResolver(ctx, client, rc.BaseURL); err != nil {
				failures++
				fmt.Fprintf(out, "- resolver %s: ERROR %v\n", rc.Name, err)
				continue
			}
			fmt.Fprintf(out, "- resolver %s: OK\n", rc.Name)
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d endpoint(s) failed connectivity", failures)
		}
		fmt.Fprintln(out, "validate: success")
		return nil
	},
}

func pingChain(ctx context.Context, url string, timeout time.Duration) (string, uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cli, err := chain.Dial(ctx, url)
	if err != nil {
		return "", 0, err
	}
	defer cli.Close()

	id, err := cli.ChainID(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("chain id: %w", err)
	}
	head, err := cli.BlockNumber(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("block number: %w", err)
	}
	return id.String(), head, nil
}

// pingResolver treats any response below 500 as reachable.
func pingResolver(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call resolver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
