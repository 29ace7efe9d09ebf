package resolver

import (
	"context"
	"fmt"
	"net/url"

	"github.com/devblac/launch-watch/internal/config"
	"github.com/devblac/launch-watch/internal/handle"
	"github.com/devblac/launch-watch/internal/model"
)

// secondaryToken is one element of the secondary platform's token list.
type secondaryToken struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Deployer string `json:"deployer"`
	Socials  struct {
		X       string `json:"x"`
		Twitter string `json:"twitter"`
	} `json:"socials"`
}

func (t secondaryToken) social() string {
	if t.Socials.X != "" {
		return t.Socials.X
	}
	return t.Socials.Twitter
}

// Secondary resolves tokens launched through the secondary platform. Its
// lookup endpoint answers with an array, so a non-array body is a failed attempt.
type Secondary struct {
	name   string
	http   httpClient
	retry  retrier
	strict bool
}

// NewSecondary builds the secondary resolver. Its search is keyword based;
// wallet discovery verifies handles only when strict is set.
func NewSecondary(rc config.Resolver, opts Options) *Secondary {
	name := rc.Name
	if name == "" {
		name = "secondary"
	}
	return &Secondary{
		name:   name,
		http:   newHTTPClient(rc, opts.Client),
		retry:  newRetrier(name, opts),
		strict: rc.StrictOr(false),
	}
}

// Name returns the resolver name used in platform labels.
func (s *Secondary) Name() string { return s.name }

// Fetch returns the token record with the full retry budget. A nil result means not found.
func (s *Secondary) Fetch(ctx context.Context, contract string) (*Result, error) {
	return s.fetch(ctx, s.retry, contract)
}

// FetchOnce makes a single attempt.
func (s *Secondary) FetchOnce(ctx context.Context, contract string) (*Result, error) {
	return s.fetch(ctx, s.retry.once(), contract)
}

func (s *Secondary) fetch(ctx context.Context, r retrier, contract string) (*Result, error) {
	res, ok, err := run(ctx, r, "fetch", contract, func(ctx context.Context) (*Result, error) {
		body, err := s.http.getJSON(ctx, "/tokens", url.Values{"address": {contract}})
		if err != nil {
			return nil, err
		}
		items, raws, err := decodeArray[secondaryToken](body)
		if err != nil {
			return nil, err
		}
		for i, it := range items {
			if it.Address == "" || sameAddress(it.Address, contract) {
				return s.normalize(it, raws[i], contract), nil
			}
		}
		return nil, fmt.Errorf("%w: no entry for %s", ErrEmpty, contract)
	})
	if err != nil || !ok {
		return nil, err
	}
	return res, nil
}

func (s *Secondary) normalize(t secondaryToken, raw map[string]any, contract string) *Result {
	h, _ := handle.Normalize(t.social())
	return &Result{
		Token:  model.NewTokenRecord(t.Name, t.Symbol, contract, raw),
		Handle: h,
		Source: s.name,
	}
}

// DiscoverWallets keyword-searches the platform for a handle and returns deployers.
func (s *Secondary) DiscoverWallets(ctx context.Context, raw string) ([]string, error) {
	h, ok := handle.Normalize(raw)
	if !ok {
		return nil, fmt.Errorf("invalid handle %q", raw)
	}
	items, found, err := run(ctx, s.retry, "discover", h, func(ctx context.Context) ([]secondaryToken, error) {
		body, err := s.http.getJSON(ctx, "/tokens", url.Values{"q": {h}})
		if err != nil {
			return nil, err
		}
		items, _, err := decodeArray[secondaryToken](body)
		return items, err
	})
	if err != nil || !found {
		return nil, err
	}

	var set addressSet
	for _, it := range items {
		if s.strict {
			if got, ok := handle.Normalize(it.social()); !ok || got != h {
				continue
			}
		}
		set.add(it.Deployer)
	}
	return set.out, nil
}
