// Package discovery back-fills wallet mappings for watched handles by
// searching every launch-platform indexer for their past launches.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/devblac/launch-watch/internal/handle"
	"github.com/devblac/launch-watch/internal/logging"
	"github.com/devblac/launch-watch/internal/model"
)

// Finder searches one indexer for wallets that launched under a handle.
type Finder interface {
	Name() string
	DiscoverWallets(ctx context.Context, h string) ([]string, error)
}

// Store is the persistence the discoverer needs.
type Store interface {
	GetWatchedAccounts(ctx context.Context) ([]model.WatchlistEntry, error)
	IsHandleWatched(ctx context.Context, h string) (bool, error)
	SaveWalletMapping(ctx context.Context, h, wallet, source string) (bool, error)
}

// Report summarizes one handle's pass.
type Report struct {
	Handle     string
	Found      int
	Saved      int
	Failed     []string
	NotWatched bool
}

func (r Report) String() string {
	if r.NotWatched {
		return fmt.Sprintf("@%s: not on the watchlist", r.Handle)
	}
	s := fmt.Sprintf("@%s: %d wallets, %d new", r.Handle, r.Found, r.Saved)
	if len(r.Failed) > 0 {
		s += fmt.Sprintf(" (failed: %s)", strings.Join(r.Failed, ", "))
	}
	return s
}

// Discoverer runs discovery passes.
type Discoverer struct {
	store   Store
	finders []Finder
	logger  *slog.Logger
	limit   int
}

// New builds a Discoverer. Nil finders are skipped.
func New(store Store, finders []Finder, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = logging.Discard()
	}
	var live []Finder
	for _, f := range finders {
		if f != nil {
			live = append(live, f)
		}
	}
	return &Discoverer{store: store, finders: live, logger: logger, limit: 4}
}

// Finders reports how many indexers are configured.
func (d *Discoverer) Finders() int { return len(d.finders) }

// Run discovers wallets for handles, or for the whole watchlist when handles
// is empty. Handles not on the watchlist are reported and never searched, so
// no mapping can outlive an unwatch. One indexer failing never aborts the
// others.
func (d *Discoverer) Run(ctx context.Context, handles []string) ([]Report, error) {
	targets, err := d.targets(ctx, handles)
	if err != nil {
		return nil, err
	}
	reports := make([]Report, 0, len(targets))
	for _, h := range targets {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		watched, err := d.store.IsHandleWatched(ctx, h)
		if err != nil {
			return reports, fmt.Errorf("check watchlist for %s: %w", h, err)
		}
		if !watched {
			d.logger.Info("handle not watched, skipping discovery", "handle", h)
			reports = append(reports, Report{Handle: h, NotWatched: true})
			continue
		}
		rep, err := d.one(ctx, h)
		if err != nil {
			return reports, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func (d *Discoverer) targets(ctx context.Context, handles []string) ([]string, error) {
	if len(handles) == 0 {
		entries, err := d.store.GetWatchedAccounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("load watchlist: %w", err)
		}
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Handle)
		}
		return out, nil
	}
	seen := make(map[string]struct{}, len(handles))
	var out []string
	for _, raw := range handles {
		h, ok := handle.Normalize(raw)
		if !ok {
			return nil, fmt.Errorf("invalid handle %q", raw)
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out, nil
}

func (d *Discoverer) one(ctx context.Context, h string) (Report, error) {
	rep := Report{Handle: h}
	type hit struct {
		wallet string
		source string
	}
	var (
		mu   sync.Mutex
		hits []hit
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.limit)
	for _, f := range d.finders {
		f := f
		g.Go(func() error {
			wallets, err := f.DiscoverWallets(gctx, h)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				d.logger.Warn("wallet discovery failed", "resolver", f.Name(), "handle", h, "err", err)
				rep.Failed = append(rep.Failed, f.Name())
				return nil
			}
			for _, w := range wallets {
				hits = append(hits, hit{wallet: w, source: model.MappingDiscoveredPrefix + f.Name()})
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	sort.Strings(rep.Failed)
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].source < hits[j].source })

	seen := make(map[string]struct{}, len(hits))
	for _, hh := range hits {
		key := normalizeWallet(hh.wallet)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		rep.Found++
		created, err := d.store.SaveWalletMapping(ctx, h, hh.wallet, hh.source)
		if err != nil {
			return rep, fmt.Errorf("save mapping for %s: %w", h, err)
		}
		if created {
			rep.Saved++
		}
	}
	d.logger.Info("wallet discovery complete", "handle", h, "found", rep.Found, "saved", rep.Saved)
	return rep, nil
}

func normalizeWallet(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
