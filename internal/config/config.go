package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultProbeInterval    = 30 * time.Second
	DefaultReconnectBackoff = 5 * time.Second
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultRequestTimeout   = 10 * time.Second
	DefaultRetryAttempts    = 3
	DefaultRetryDelay       = 2 * time.Second
	DefaultWorkers          = 8
	DefaultDedupeTTL        = 24 * time.Hour
	DefaultFastPathTimeout  = 3 * time.Second
	DefaultBackfillBlocks   = 500
)

// Config holds the YAML configuration.
type Config struct {
	Version   int          `yaml:"version"`
	Global    GlobalConfig `yaml:"global"`
	Chain     ChainConfig  `yaml:"chain"`
	Contracts []Contract   `yaml:"contracts"`
	Resolvers Resolvers    `yaml:"resolvers"`
	Notifiers []Notifier   `yaml:"notifiers"`
}

type GlobalConfig struct {
	DBPath          string   `yaml:"db_path"`
	LogLevel        string   `yaml:"log_level"`
	LearnWallets    *bool    `yaml:"learn_wallets"`
	Workers         int      `yaml:"workers"`
	DedupeTTL       Duration `yaml:"dedupe_ttl"`
	FastPathTimeout Duration `yaml:"fast_path_timeout"`
}

// Learn reports whether the wallet-learning fast path is enabled (default true).
func (g GlobalConfig) Learn() bool {
	return g.LearnWallets == nil || *g.LearnWallets
}

type ChainConfig struct {
	WSURL            string   `yaml:"ws_url"`
	ProbeInterval    Duration `yaml:"probe_interval"`
	ReconnectBackoff Duration `yaml:"reconnect_backoff"`
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
	BackfillBlocks   uint64   `yaml:"backfill_blocks"`
	ABIDirs          []string `yaml:"abi_dirs"`
}

// Contract is one factory address watched for a token-creation event.
type Contract struct {
	Family       string `yaml:"family"`
	Address      string `yaml:"address"`
	Event        string `yaml:"event"`
	Label        string `yaml:"label"`
	CreatorTopic bool   `yaml:"creator_topic"`
}

type Resolvers struct {
	Primary   Resolver    `yaml:"primary"`
	Secondary Resolver    `yaml:"secondary"`
	Overlay   Resolver    `yaml:"overlay"`
	Retry     RetryPolicy `yaml:"retry"`
}

type Resolver struct {
	Name    string   `yaml:"name"`
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Timeout Duration `yaml:"timeout"`
	Strict  *bool    `yaml:"strict"`
}

// Enabled reports whether the resolver is configured.
func (r Resolver) Enabled() bool {
	return r.BaseURL != ""
}

// StrictOr returns the strict flag, or def when unset.
func (r Resolver) StrictOr(def bool) bool {
	if r.Strict == nil {
		return def
	}
	return *r.Strict
}

type RetryPolicy struct {
	Attempts int      `yaml:"attempts"`
	Delay    Duration `yaml:"delay"`
}

type Notifier struct {
	ID       string `yaml:"id"`
	Type     string `yaml:"type"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	APIURL   string `yaml:"api_url"`
	Commands bool   `yaml:"commands"`
	URL      string `yaml:"url"`
	Method   string `yaml:"method"`
	Template string `yaml:"template"`
}

// Duration is a time.Duration that unmarshals from Go duration strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, applies defaults, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// ApplyDefaults fills unset tunables.
func (c *Config) ApplyDefaults() {
	if c.Global.DBPath == "" {
		c.Global.DBPath = "launch-watch.db"
	}
	if c.Global.Workers <= 0 {
		c.Global.Workers = DefaultWorkers
	}
	if c.Global.DedupeTTL <= 0 {
		c.Global.DedupeTTL = Duration(DefaultDedupeTTL)
	}
	if c.Global.FastPathTimeout <= 0 {
		c.Global.FastPathTimeout = Duration(DefaultFastPathTimeout)
	}
	if c.Chain.ProbeInterval <= 0 {
		c.Chain.ProbeInterval = Duration(DefaultProbeInterval)
	}
	if c.Chain.ReconnectBackoff <= 0 {
		c.Chain.ReconnectBackoff = Duration(DefaultReconnectBackoff)
	}
	if c.Chain.HandshakeTimeout <= 0 {
		c.Chain.HandshakeTimeout = Duration(DefaultHandshakeTimeout)
	}
	if c.Chain.BackfillBlocks == 0 {
		c.Chain.BackfillBlocks = DefaultBackfillBlocks
	}
	if c.Resolvers.Retry.Attempts <= 0 {
		c.Resolvers.Retry.Attempts = DefaultRetryAttempts
	}
	if c.Resolvers.Retry.Delay <= 0 {
		c.Resolvers.Retry.Delay = Duration(DefaultRetryDelay)
	}
	for _, r := range []*Resolver{&c.Resolvers.Primary, &c.Resolvers.Secondary, &c.Resolvers.Overlay} {
		if r.Timeout <= 0 {
			r.Timeout = Duration(DefaultRequestTimeout)
		}
	}
	if c.Resolvers.Primary.Name == "" {
		c.Resolvers.Primary.Name = "primary"
	}
	if c.Resolvers.Secondary.Name == "" {
		c.Resolvers.Secondary.Name = "secondary"
	}
	if c.Resolvers.Overlay.Name == "" {
		c.Resolvers.Overlay.Name = "overlay"
	}
	for i := range c.Notifiers {
		n := &c.Notifiers[i]
		if strings.EqualFold(n.Type, "webhook") && n.Method == "" {
			n.Method = "POST"
		}
	}
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if c.Chain.WSURL == "" {
		return errors.New("chain.ws_url is required")
	}
	if len(c.Contracts) == 0 {
		return errors.New("at least one contract is required")
	}

	families := map[string]bool{}
	seen := map[string]struct{}{}
	for i := range c.Contracts {
		ct := &c.Contracts[i]
		if err := ct.Validate(); err != nil {
			return fmt.Errorf("contract %d (%s): %w", i, ct.Address, err)
		}
		key := strings.ToLower(ct.Address) + "|" + ct.Event
		if _, exists := seen[key]; exists {
			return fmt.Errorf("duplicate contract watch: %s %s", ct.Address, ct.Event)
		}
		seen[key] = struct{}{}
		families[strings.ToLower(ct.Family)] = true
	}

	if families["primary"] && !c.Resolvers.Primary.Enabled() {
		return errors.New("resolvers.primary.base_url is required for primary contracts")
	}
	if families["secondary"] {
		if !c.Resolvers.Secondary.Enabled() {
			return errors.New("resolvers.secondary.base_url is required for secondary contracts")
		}
		if !c.Resolvers.Overlay.Enabled() {
			return errors.New("resolvers.overlay.base_url is required for secondary contracts")
		}
	}

	notifierIDs := map[string]struct{}{}
	for i := range c.Notifiers {
		n := &c.Notifiers[i]
		if _, exists := notifierIDs[n.ID]; exists {
			return fmt.Errorf("duplicate notifier id: %s", n.ID)
		}
		notifierIDs[n.ID] = struct{}{}
		if err := n.Validate(); err != nil {
			return fmt.Errorf("notifier %s: %w", n.ID, err)
		}
	}

	return nil
}

func (ct *Contract) Validate() error {
	switch strings.ToLower(ct.Family) {
	case "primary", "secondary":
	case "":
		return errors.New("family is required")
	default:
		return fmt.Errorf("unsupported family: %s", ct.Family)
	}
	if !common.IsHexAddress(ct.Address) {
		return fmt.Errorf("invalid address: %q", ct.Address)
	}
	l := strings.Index(ct.Event, "(")
	if l <= 0 || !strings.HasSuffix(ct.Event, ")") {
		return fmt.Errorf("event must be a signature like Name(type,...): %q", ct.Event)
	}
	return nil
}

func (n *Notifier) Validate() error {
	if n.ID == "" {
		return errors.New("id is required")
	}
	switch strings.ToLower(n.Type) {
	case "telegram":
		if n.BotToken == "" || n.ChatID == "" {
			return errors.New("bot_token and chat_id are required for telegram notifiers")
		}
	case "webhook":
		if n.URL == "" {
			return errors.New("url is required for webhook notifier")
		}
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unsupported notifier type: %s", n.Type)
	}
	return nil
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
