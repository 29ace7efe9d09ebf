package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/devblac/launch-watch/internal/config"
	"github.com/devblac/launch-watch/internal/discovery"
	"github.com/devblac/launch-watch/internal/logging"
	"github.com/devblac/launch-watch/internal/metrics"
	"github.com/devblac/launch-watch/internal/model"
	"github.com/devblac/launch-watch/internal/pipeline"
	"github.com/devblac/launch-watch/internal/resolver"
	"github.com/devblac/launch-watch/internal/storage"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger prefers LOG_LEVEL over the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = cfg.Global.LogLevel
	}
	if level == "" {
		level = "info"
	}
	return logging.NewWithLevel(level)
}

func openStore(cfg *config.Config) (*storage.Store, error) {
	store, err := storage.Open(cfg.Global.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return store, nil
}

// withStore opens the configured database for one command.
func withStore(fn func(st *storage.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

// resolvers holds the configured indexers; unconfigured ones stay nil.
type resolvers struct {
	primary   *resolver.Primary
	secondary *resolver.Secondary
	overlay   *resolver.Overlay
}

func buildResolvers(cfg *config.Config, log *slog.Logger, mtr *metrics.Metrics) resolvers {
	opts := resolver.Options{
		Policy:  resolver.PolicyFrom(cfg.Resolvers.Retry),
		Logger:  log,
		Metrics: mtr,
	}
	var r resolvers
	if cfg.Resolvers.Primary.Enabled() {
		r.primary = resolver.NewPrimary(cfg.Resolvers.Primary, opts)
	}
	if cfg.Resolvers.Secondary.Enabled() {
		r.secondary = resolver.NewSecondary(cfg.Resolvers.Secondary, opts)
	}
	if cfg.Resolvers.Overlay.Enabled() {
		r.overlay = resolver.NewOverlay(cfg.Resolvers.Overlay, opts)
	}
	return r
}

func (r resolvers) tokens() map[model.Family]pipeline.TokenResolver {
	out := map[model.Family]pipeline.TokenResolver{}
	if r.primary != nil {
		out[model.FamilyPrimary] = r.primary
	}
	if r.secondary != nil {
		out[model.FamilySecondary] = r.secondary
	}
	return out
}

func (r resolvers) social() pipeline.SocialResolver {
	if r.overlay == nil {
		return nil
	}
	return r.overlay
}

func (r resolvers) finders() []discovery.Finder {
	var out []discovery.Finder
	if r.primary != nil {
		out = append(out, r.primary)
	}
	if r.secondary != nil {
		out = append(out, r.secondary)
	}
	if r.overlay != nil {
		out = append(out, r.overlay)
	}
	return out
}
