package resolver

import (
	"context"
	"fmt"
	"net/url"

	"github.com/devblac/launch-watch/internal/config"
	"github.com/devblac/launch-watch/internal/handle"
	"github.com/devblac/launch-watch/internal/model"
)

// primaryCoin is the primary launch platform's coin payload.
type primaryCoin struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Creator     string `json:"creator"`
	Twitter     string `json:"twitter"`
	Website     string `json:"website"`
	Description string `json:"description"`
}

// Primary resolves tokens launched through the primary platform's factories.
type Primary struct {
	name   string
	http   httpClient
	retry  retrier
	strict bool
}

// NewPrimary builds the primary resolver. Wallet discovery is strict unless
// the config sets strict: false.
func NewPrimary(rc config.Resolver, opts Options) *Primary {
	name := rc.Name
	if name == "" {
		name = "primary"
	}
	return &Primary{
		name:   name,
		http:   newHTTPClient(rc, opts.Client),
		retry:  newRetrier(name, opts),
		strict: rc.StrictOr(true),
	}
}

// Name returns the resolver name used in platform labels.
func (p *Primary) Name() string { return p.name }

// Fetch returns the coin record with the full retry budget. A nil result means not found.
func (p *Primary) Fetch(ctx context.Context, contract string) (*Result, error) {
	return p.fetch(ctx, p.retry, contract)
}

// FetchOnce makes a single attempt; used where latency matters more than completeness.
func (p *Primary) FetchOnce(ctx context.Context, contract string) (*Result, error) {
	return p.fetch(ctx, p.retry.once(), contract)
}

func (p *Primary) fetch(ctx context.Context, r retrier, contract string) (*Result, error) {
	res, ok, err := run(ctx, r, "fetch", contract, func(ctx context.Context) (*Result, error) {
		body, err := p.http.getJSON(ctx, "/coins/"+url.PathEscape(contract), nil)
		if err != nil {
			return nil, err
		}
		var coin primaryCoin
		raw, err := decodeObject(body, &coin)
		if err != nil {
			return nil, err
		}
		if coin.Address != "" && !sameAddress(coin.Address, contract) {
			return nil, fmt.Errorf("payload for %s, asked %s", coin.Address, contract)
		}
		return p.normalize(coin, raw, contract), nil
	})
	if err != nil || !ok {
		return nil, err
	}
	return res, nil
}

func (p *Primary) normalize(coin primaryCoin, raw map[string]any, contract string) *Result {
	h, _ := handle.Normalize(coin.Twitter)
	return &Result{
		Token:  model.NewTokenRecord(coin.Name, coin.Symbol, contract, raw),
		Handle: h,
		Source: p.name,
	}
}

// DiscoverWallets searches the platform's launches for a handle and returns
// the creators. With strict verification a creator counts only when the
// launch's own twitter field normalizes to exactly the queried handle.
func (p *Primary) DiscoverWallets(ctx context.Context, raw string) ([]string, error) {
	h, ok := handle.Normalize(raw)
	if !ok {
		return nil, fmt.Errorf("invalid handle %q", raw)
	}
	coins, found, err := run(ctx, p.retry, "discover", h, func(ctx context.Context) ([]primaryCoin, error) {
		body, err := p.http.getJSON(ctx, "/coins/search", url.Values{"q": {h}, "limit": {"100"}})
		if err != nil {
			return nil, err
		}
		coins, _, err := decodeArray[primaryCoin](body)
		return coins, err
	})
	if err != nil || !found {
		return nil, err
	}

	var set addressSet
	for _, c := range coins {
		if p.strict {
			if got, ok := handle.Normalize(c.Twitter); !ok || got != h {
				continue
			}
		}
		set.add(c.Creator)
	}
	return set.out, nil
}
