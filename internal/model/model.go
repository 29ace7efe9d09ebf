// Package model holds the types that flow between the chain watcher, the
// resolution pipeline and the notifiers.
package model

import (
	"strings"
	"time"
)

// Family identifies one of the two monitored token-launch ecosystems.
type Family string

const (
	// FamilyPrimary is resolved by the primary launch-platform indexer only.
	FamilyPrimary Family = "primary"
	// FamilySecondary is resolved by the secondary launch-platform indexer and the social overlay.
	FamilySecondary Family = "secondary"
)

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	return f == FamilyPrimary || f == FamilySecondary
}

// Resolution sources recorded on a ResolvedDeployment.
const (
	SourceWalletCache = "wallet-cache"
	SourceIndexer     = "indexer"
)

// Mapping source tags.
const (
	MappingLearned          = "learned"
	MappingDiscoveredPrefix = "discovered:"
	MappingManual           = "manual"
)

// Sentinels used when an indexer does not report a name or symbol.
const (
	UnknownName   = "Unknown"
	UnknownSymbol = "UNKNOWN"
)

// DeploymentEvent is a decoded factory log. Deployer is empty when the event
// schema carries no creator.
type DeploymentEvent struct {
	Contract    string
	Deployer    string
	TxHash      string
	Family      Family
	BlockNumber uint64
	Label       string

	// Name and Symbol are filled only when the factory ABI exposes them in log data.
	Name   string
	Symbol string
}

// HasDeployer reports whether a creator address was decoded.
func (e DeploymentEvent) HasDeployer() bool {
	return e.Deployer != ""
}

// TokenRecord is the normalized output of a metadata resolver.
type TokenRecord struct {
	Name     string
	Symbol   string
	Contract string
	Raw      map[string]any
}

// NewTokenRecord applies the Unknown/UNKNOWN sentinels to blank fields.
func NewTokenRecord(name, symbol, contract string, raw map[string]any) TokenRecord {
	name = strings.TrimSpace(name)
	symbol = strings.TrimSpace(symbol)
	if name == "" {
		name = UnknownName
	}
	if symbol == "" {
		symbol = UnknownSymbol
	}
	return TokenRecord{Name: name, Symbol: symbol, Contract: contract, Raw: raw}
}

// ResolvedDeployment is the terminal artifact of a successful resolution.
type ResolvedDeployment struct {
	Token    TokenRecord
	Handle   string
	Platform string
	Source   string
	TxHash   string
	Deployer string
	Family   Family
}

// WalletMapping links a deployer address to a watched handle.
type WalletMapping struct {
	Handle       string
	Wallet       string
	Source       string
	DiscoveredAt time.Time
}

// WatchlistEntry is one watched handle.
type WatchlistEntry struct {
	Handle  string
	AddedAt time.Time
}

// AlertEntry is a persisted alert history row.
type AlertEntry struct {
	ID        string
	Contract  string
	TxHash    string
	Name      string
	Symbol    string
	Handle    string
	Platform  string
	Source    string
	Deployer  string
	Family    Family
	CreatedAt time.Time
}

// PlatformLabel formats the "via <source>" label.
func PlatformLabel(source string) string {
	return "via " + source
}
