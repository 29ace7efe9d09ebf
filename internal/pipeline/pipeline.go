// Package pipeline turns one decoded deployment event into an alert or a
// silent suppression.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/devblac/launch-watch/internal/config"
	"github.com/devblac/launch-watch/internal/handle"
	"github.com/devblac/launch-watch/internal/logging"
	"github.com/devblac/launch-watch/internal/metrics"
	"github.com/devblac/launch-watch/internal/model"
	"github.com/devblac/launch-watch/internal/resolver"
	"golang.org/x/sync/errgroup"
)

// Store is the persistence the pipeline reads and writes.
type Store interface {
	IsHandleWatched(ctx context.Context, h string) (bool, error)
	GetHandleByWallet(ctx context.Context, wallet string) (string, bool, error)
	SaveWalletMapping(ctx context.Context, h, wallet, source string) (bool, error)
	SaveAlertHistory(ctx context.Context, a model.AlertEntry) error
	IsDuplicate(ctx context.Context, key string, now time.Time) (bool, error)
	MarkDedupe(ctx context.Context, key string, expiresAt time.Time) error
}

// TokenResolver is a protocol family's native indexer.
type TokenResolver interface {
	Fetch(ctx context.Context, contract string) (*resolver.Result, error)
	FetchOnce(ctx context.Context, contract string) (*resolver.Result, error)
}

// SocialResolver supplies handle attribution that outranks the native indexer.
type SocialResolver interface {
	Social(ctx context.Context, contract string) (*resolver.Result, error)
}

// Notifier delivers matches.
type Notifier interface {
	SendAlert(ctx context.Context, rd model.ResolvedDeployment) error
}

// Outcome is the terminal state of one resolution.
type Outcome int

const (
	OutcomeAlerted Outcome = iota + 1
	OutcomeDryRun
	OutcomeNoHandle
	OutcomeNotWatched
	OutcomeDuplicate
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAlerted:
		return "alerted"
	case OutcomeDryRun:
		return "dry_run"
	case OutcomeNoHandle:
		return "no_handle"
	case OutcomeNotWatched:
		return "not_watched"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options tune a Pipeline.
type Options struct {
	// Learn enables writing a learned wallet mapping after an indexer match.
	Learn           bool
	DryRun          bool
	DedupeTTL       time.Duration
	FastPathTimeout time.Duration
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// Pipeline resolves deployment events against the watchlist.
type Pipeline struct {
	store           Store
	tokens          map[model.Family]TokenResolver
	overlay         SocialResolver
	notifier        Notifier
	learn           bool
	dryRun          bool
	dedupeTTL       time.Duration
	fastPathTimeout time.Duration
	logger          *slog.Logger
	metrics         *metrics.Metrics
	nowFunc         func() time.Time
}

// New builds a pipeline. tokens maps each family to its native resolver;
// overlay is consulted for the secondary family only and may be nil.
func New(store Store, tokens map[model.Family]TokenResolver, overlay SocialResolver, notifier Notifier, opts Options) *Pipeline {
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = config.DefaultDedupeTTL
	}
	if opts.FastPathTimeout <= 0 {
		opts.FastPathTimeout = config.DefaultFastPathTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Pipeline{
		store:           store,
		tokens:          tokens,
		overlay:         overlay,
		notifier:        notifier,
		learn:           opts.Learn,
		dryRun:          opts.DryRun,
		dedupeTTL:       opts.DedupeTTL,
		fastPathTimeout: opts.FastPathTimeout,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		nowFunc:         time.Now,
	}
}

// Process resolves one event. Every branch is terminal; errors and panics
// from collaborators end in OutcomeFailed and never in an alert.
func (p *Pipeline) Process(ctx context.Context, ev model.DeploymentEvent) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = OutcomeFailed, fmt.Errorf("panic resolving %s: %v", ev.Contract, r)
		}
	}()

	if ev.Contract == "" {
		return OutcomeFailed, errors.New("event has no contract")
	}

	key := dedupeKey(ev)
	dup, err := p.store.IsDuplicate(ctx, key, p.nowFunc())
	if err != nil {
		return OutcomeFailed, err
	}
	if dup {
		return OutcomeDuplicate, nil
	}

	rd, ok := p.fastPath(ctx, ev)
	if !ok {
		var outcome Outcome
		rd, outcome, err = p.indexerPath(ctx, ev)
		if err != nil {
			return OutcomeFailed, err
		}
		if rd == nil {
			return outcome, nil
		}
	}
	return p.deliver(ctx, ev, *rd, key)
}

// fastPath matches on a known wallet mapping without waiting on indexers.
func (p *Pipeline) fastPath(ctx context.Context, ev model.DeploymentEvent) (*model.ResolvedDeployment, bool) {
	if !ev.HasDeployer() {
		return nil, false
	}
	h, found, err := p.store.GetHandleByWallet(ctx, ev.Deployer)
	if err != nil {
		p.logger.Warn("wallet lookup failed, using indexers", "deployer", ev.Deployer, "err", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	watched, err := p.store.IsHandleWatched(ctx, h)
	if err != nil {
		p.logger.Warn("watchlist check failed, using indexers", "handle", h, "err", err)
		return nil, false
	}
	if !watched {
		p.logger.Debug("mapped handle no longer watched", "handle", h, "deployer", ev.Deployer)
		return nil, false
	}
	return &model.ResolvedDeployment{
		Token:    p.bestEffortToken(ctx, ev),
		Handle:   h,
		Platform: model.PlatformLabel(model.SourceWalletCache),
		Source:   model.SourceWalletCache,
		TxHash:   ev.TxHash,
		Deployer: ev.Deployer,
		Family:   ev.Family,
	}, true
}

// bestEffortToken fills name and symbol from the log or from one bounded
// indexer attempt. It never fails.
func (p *Pipeline) bestEffortToken(ctx context.Context, ev model.DeploymentEvent) model.TokenRecord {
	fallback := model.NewTokenRecord(ev.Name, ev.Symbol, ev.Contract, nil)
	if ev.Name != "" && ev.Symbol != "" {
		return fallback
	}
	tr := p.tokens[ev.Family]
	if tr == nil {
		return fallback
	}
	fctx, cancel := context.WithTimeout(ctx, p.fastPathTimeout)
	defer cancel()
	res, err := tr.FetchOnce(fctx, ev.Contract)
	if err != nil || res == nil {
		return fallback
	}
	return mergeToken(res.Token, ev)
}

// indexerPath asks the family resolver and, for the secondary family, the
// overlay. A nil deployment with a nil error is a suppression.
func (p *Pipeline) indexerPath(ctx context.Context, ev model.DeploymentEvent) (*model.ResolvedDeployment, Outcome, error) {
	var native, social *resolver.Result

	g, gctx := errgroup.WithContext(ctx)
	if tr := p.tokens[ev.Family]; tr != nil {
		g.Go(func() error {
			res, err := guard("family resolver", func() (*resolver.Result, error) { return tr.Fetch(gctx, ev.Contract) })
			if err != nil {
				return err
			}
			native = res
			return nil
		})
	}
	if ev.Family == model.FamilySecondary && p.overlay != nil {
		g.Go(func() error {
			res, err := guard("overlay resolver", func() (*resolver.Result, error) { return p.overlay.Social(gctx, ev.Contract) })
			if err != nil {
				return err
			}
			social = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, OutcomeFailed, err
	}

	token := model.NewTokenRecord(ev.Name, ev.Symbol, ev.Contract, nil)
	switch {
	case native != nil:
		token = mergeToken(native.Token, ev)
	case social != nil:
		token = mergeToken(social.Token, ev)
	}

	h, source := pickHandle(native, social)
	if h == "" {
		return nil, OutcomeNoHandle, nil
	}

	watched, err := p.store.IsHandleWatched(ctx, h)
	if err != nil {
		return nil, OutcomeFailed, err
	}
	if !watched {
		p.logger.Debug("handle not watched", "handle", h, "contract", ev.Contract)
		return nil, OutcomeNotWatched, nil
	}

	return &model.ResolvedDeployment{
		Token:    token,
		Handle:   h,
		Platform: model.PlatformLabel(source),
		Source:   model.SourceIndexer,
		TxHash:   ev.TxHash,
		Deployer: ev.Deployer,
		Family:   ev.Family,
	}, OutcomeAlerted, nil
}

// guard converts a resolver panic into an error; resolver calls run on
// errgroup goroutines where Process's recover cannot see them.
func guard(name string, fn func() (*resolver.Result, error)) (res *resolver.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	return fn()
}

// pickHandle applies precedence: overlay, then the native resolver's own
// field, then extraction over the native raw record.
func pickHandle(native, social *resolver.Result) (string, string) {
	if social != nil && social.Handle != "" {
		return social.Handle, social.Source
	}
	if native == nil {
		return "", ""
	}
	if native.Handle != "" {
		return native.Handle, native.Source
	}
	if h := handle.Extract(native.Token.Raw); h != "" {
		return h, native.Source
	}
	return "", ""
}

// deliver learns the wallet, sends the alert, records history and marks the dedupe key.
func (p *Pipeline) deliver(ctx context.Context, ev model.DeploymentEvent, rd model.ResolvedDeployment, key string) (Outcome, error) {
	if p.dryRun {
		p.logger.Info("dry-run match", "handle", rd.Handle, "contract", ev.Contract, "platform", rd.Platform)
		return OutcomeDryRun, nil
	}

	if p.learn && rd.Source == model.SourceIndexer && ev.HasDeployer() {
		inserted, err := p.store.SaveWalletMapping(ctx, rd.Handle, ev.Deployer, model.MappingLearned)
		switch {
		case err != nil:
			p.logger.Warn("learn wallet failed", "handle", rd.Handle, "deployer", ev.Deployer, "err", err)
		case inserted:
			p.metrics.WalletLearned()
			p.logger.Info("learned wallet", "handle", rd.Handle, "deployer", ev.Deployer)
		}
	}

	if p.notifier != nil {
		if err := p.notifier.SendAlert(ctx, rd); err != nil {
			return OutcomeFailed, fmt.Errorf("send alert: %w", err)
		}
	}

	now := p.nowFunc()
	entry := model.AlertEntry{
		Contract:  rd.Token.Contract,
		TxHash:    rd.TxHash,
		Name:      rd.Token.Name,
		Symbol:    rd.Token.Symbol,
		Handle:    rd.Handle,
		Platform:  rd.Platform,
		Source:    rd.Source,
		Deployer:  rd.Deployer,
		Family:    rd.Family,
		CreatedAt: now,
	}
	if err := p.store.SaveAlertHistory(ctx, entry); err != nil {
		p.logger.Warn("alert history write failed", "handle", rd.Handle, "contract", ev.Contract, "err", err)
	}
	if err := p.store.MarkDedupe(ctx, key, now.Add(p.dedupeTTL)); err != nil {
		p.logger.Warn("dedupe mark failed", "contract", ev.Contract, "err", err)
	}
	return OutcomeAlerted, nil
}

// Handle runs Process and reports the outcome through logs and metrics.
func (p *Pipeline) Handle(ctx context.Context, ev model.DeploymentEvent) {
	start := p.nowFunc()
	out, err := p.Process(ctx, ev)
	p.metrics.ObserveResolution(p.nowFunc().Sub(start).Seconds())

	attrs := []any{"contract", ev.Contract, "tx", ev.TxHash, "family", string(ev.Family), "outcome", out.String()}
	switch out {
	case OutcomeAlerted:
		p.metrics.AlertSent()
		p.logger.Info("alert sent", attrs...)
	case OutcomeFailed:
		p.metrics.Suppressed(out.String())
		p.logger.Error("resolution failed", append(attrs, "err", err)...)
	default:
		p.metrics.Suppressed(out.String())
		p.logger.Debug("resolution suppressed", attrs...)
	}
}

// mergeToken prefers indexer fields and falls back to names decoded from the log.
func mergeToken(t model.TokenRecord, ev model.DeploymentEvent) model.TokenRecord {
	if t.Name == model.UnknownName && ev.Name != "" {
		t.Name = ev.Name
	}
	if t.Symbol == model.UnknownSymbol && ev.Symbol != "" {
		t.Symbol = ev.Symbol
	}
	if t.Contract == "" {
		t.Contract = ev.Contract
	}
	return t
}

func dedupeKey(ev model.DeploymentEvent) string {
	return "alert:" + strings.ToLower(ev.TxHash) + ":" + strings.ToLower(ev.Contract)
}
