// Package command implements the operator text commands accepted over chat.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/devblac/launch-watch/internal/discovery"
	"github.com/devblac/launch-watch/internal/handle"
	"github.com/devblac/launch-watch/internal/logging"
	"github.com/devblac/launch-watch/internal/model"
	"github.com/devblac/launch-watch/internal/supervisor"
)

const (
	defaultRecent = 5
	maxRecent     = 50
	failureReply  = "Something went wrong, check the logs."
)

const helpText = `Commands:
/watch <handle...>    add handles to the watchlist
/unwatch <handle...>  remove handles and their wallets
/list                 show the watchlist
/count                number of watched handles
/recent [n]           last n alerts (default 5)
/discover [handle|all] search indexers for past launch wallets
/wallets <handle>     wallets mapped to a handle
/status               stream and watchlist status
/help                 this message`

// Store is the persistence the commands read and write.
type Store interface {
	AddWatchedAccount(ctx context.Context, raw string) (bool, error)
	RemoveWatchedAccount(ctx context.Context, raw string) (bool, error)
	GetWatchedAccounts(ctx context.Context) ([]model.WatchlistEntry, error)
	GetWatchedCount(ctx context.Context) (int, error)
	GetRecentAlerts(ctx context.Context, limit int) ([]model.AlertEntry, error)
	GetWalletsByHandle(ctx context.Context, h string) ([]model.WalletMapping, error)
}

// Discoverer runs a wallet discovery pass.
type Discoverer interface {
	Run(ctx context.Context, handles []string) ([]discovery.Report, error)
}

// StatusSource reports stream state.
type StatusSource interface {
	Snapshot() supervisor.Snapshot
}

// Handler dispatches commands. Discoverer and StatusSource are optional.
type Handler struct {
	store    Store
	discover Discoverer
	status   StatusSource
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a Handler.
func New(store Store, discover Discoverer, status StatusSource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{store: store, discover: discover, status: status, logger: logger, now: time.Now}
}

// Execute runs one command line and returns the reply text.
func (h *Handler) Execute(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	name := strings.ToLower(fields[0])
	// "/watch@my_bot alice" in group chats
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}
	args := fields[1:]

	var (
		reply string
		err   error
	)
	switch name {
	case "/watch":
		reply, err = h.watch(ctx, args)
	case "/unwatch":
		reply, err = h.unwatch(ctx, args)
	case "/list":
		reply, err = h.list(ctx)
	case "/count":
		reply, err = h.count(ctx)
	case "/recent":
		reply, err = h.recent(ctx, args)
	case "/discover":
		reply, err = h.runDiscovery(ctx, args)
	case "/wallets":
		reply, err = h.wallets(ctx, args)
	case "/status":
		reply, err = h.statusReply(ctx)
	case "/help", "/start":
		reply = helpText
	default:
		reply = "Unknown command. Try /help."
	}
	if err != nil {
		h.logger.Error("command failed", "command", name, "err", err)
		return failureReply
	}
	return reply
}

func (h *Handler) watch(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /watch <handle...>", nil
	}
	var added, existing, invalid []string
	for _, raw := range args {
		norm, ok := handle.Normalize(raw)
		if !ok {
			invalid = append(invalid, raw)
			continue
		}
		created, err := h.store.AddWatchedAccount(ctx, norm)
		if err != nil {
			return "", err
		}
		if created {
			added = append(added, "@"+norm)
		} else {
			existing = append(existing, "@"+norm)
		}
	}
	return summarize(map[string][]string{
		"Watching":         added,
		"Already watching": existing,
		"Invalid":          invalid,
	}, "Watching", "Already watching", "Invalid"), nil
}

func (h *Handler) unwatch(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /unwatch <handle...>", nil
	}
	var removed, missing, invalid []string
	for _, raw := range args {
		norm, ok := handle.Normalize(raw)
		if !ok {
			invalid = append(invalid, raw)
			continue
		}
		gone, err := h.store.RemoveWatchedAccount(ctx, norm)
		if err != nil {
			return "", err
		}
		if gone {
			removed = append(removed, "@"+norm)
		} else {
			missing = append(missing, "@"+norm)
		}
	}
	return summarize(map[string][]string{
		"Removed":     removed,
		"Not watched": missing,
		"Invalid":     invalid,
	}, "Removed", "Not watched", "Invalid"), nil
}

func (h *Handler) list(ctx context.Context) (string, error) {
	entries, err := h.store.GetWatchedAccounts(ctx)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "Watchlist is empty.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Watching %d:\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "@%s\n", e.Handle)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (h *Handler) count(ctx context.Context) (string, error) {
	n, err := h.store.GetWatchedCount(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Watching %d handles.", n), nil
}

func (h *Handler) recent(ctx context.Context, args []string) (string, error) {
	limit := defaultRecent
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return "Usage: /recent [n]", nil
		}
		limit = min(n, maxRecent)
	}
	alerts, err := h.store.GetRecentAlerts(ctx, limit)
	if err != nil {
		return "", err
	}
	if len(alerts) == 0 {
		return "No alerts yet.", nil
	}
	var b strings.Builder
	for _, a := range alerts {
		fmt.Fprintf(&b, "%s @%s %s (%s) %s %s\n",
			a.CreatedAt.UTC().Format("2006-01-02 15:04"), a.Handle, a.Name, a.Symbol, a.Contract, a.Platform)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (h *Handler) runDiscovery(ctx context.Context, args []string) (string, error) {
	if h.discover == nil {
		return "Discovery is not configured.", nil
	}
	var targets []string
	if len(args) > 0 && !strings.EqualFold(args[0], "all") {
		norm, ok := handle.Normalize(args[0])
		if !ok {
			return fmt.Sprintf("Invalid handle %q.", args[0]), nil
		}
		targets = []string{norm}
	}
	reports, err := h.discover.Run(ctx, targets)
	if err != nil && !errors.Is(err, context.Canceled) {
		return "", err
	}
	if len(reports) == 0 {
		return "Nothing to discover.", nil
	}
	var b strings.Builder
	for _, r := range reports {
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (h *Handler) wallets(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /wallets <handle>", nil
	}
	norm, ok := handle.Normalize(args[0])
	if !ok {
		return fmt.Sprintf("Invalid handle %q.", args[0]), nil
	}
	mappings, err := h.store.GetWalletsByHandle(ctx, norm)
	if err != nil {
		return "", err
	}
	if len(mappings) == 0 {
		return fmt.Sprintf("No wallets known for @%s.", norm), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "@%s wallets:\n", norm)
	for _, m := range mappings {
		fmt.Fprintf(&b, "%s (%s)\n", m.Wallet, m.Source)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (h *Handler) statusReply(ctx context.Context) (string, error) {
	n, err := h.store.GetWatchedCount(ctx)
	if err != nil {
		return "", err
	}
	if h.status == nil {
		return fmt.Sprintf("Watching %d handles. Stream not running.", n), nil
	}
	snap := h.status.Snapshot()
	since := h.now().Sub(snap.Since).Truncate(time.Second)
	return fmt.Sprintf("Stream: %s for %s\nSubscriptions: %d/%d\nReconnects: %d\nHead: %d\nWatching %d handles.",
		snap.State, since, snap.Subscriptions, snap.Watches, snap.Reconnects, snap.LastHead, n), nil
}

func summarize(groups map[string][]string, order ...string) string {
	var lines []string
	for _, label := range order {
		if items := groups[label]; len(items) > 0 {
			lines = append(lines, label+": "+strings.Join(items, ", "))
		}
	}
	return strings.Join(lines, "\n")
}
