package resolver

import (
	"context"
	"fmt"
	"net/url"

	"github.com/devblac/launch-watch/internal/config"
	"github.com/devblac/launch-watch/internal/handle"
	"github.com/devblac/launch-watch/internal/model"
)

// overlaySocial is the overlay's per-token social attribution.
type overlaySocial struct {
	Contract   string `json:"contract"`
	Name       string `json:"name"`
	Symbol     string `json:"symbol"`
	Handle     string `json:"handle"`
	ProfileURL string `json:"profile_url"`
	Requestor  struct {
		Username string `json:"twitter_username"`
	} `json:"requestor"`
}

// overlayLaunch is one entry of the overlay's per-user launch list.
type overlayLaunch struct {
	Contract string `json:"contract"`
	Deployer string `json:"deployer"`
}

// Overlay is the social overlay that sits on top of the secondary family.
// Its handle attribution outranks the secondary platform's own.
type Overlay struct {
	name  string
	http  httpClient
	retry retrier
}

// NewOverlay builds the overlay resolver.
func NewOverlay(rc config.Resolver, opts Options) *Overlay {
	name := rc.Name
	if name == "" {
		name = "overlay"
	}
	return &Overlay{
		name:  name,
		http:  newHTTPClient(rc, opts.Client),
		retry: newRetrier(name, opts),
	}
}

// Name returns the resolver name used in platform labels.
func (o *Overlay) Name() string { return o.name }

// Social returns the overlay's handle for a contract. A response without any
// usable handle counts as a failed attempt; exhaustion yields (nil, nil).
func (o *Overlay) Social(ctx context.Context, contract string) (*Result, error) {
	res, ok, err := run(ctx, o.retry, "social", contract, func(ctx context.Context) (*Result, error) {
		body, err := o.http.getJSON(ctx, "/tokens/"+url.PathEscape(contract)+"/social", nil)
		if err != nil {
			return nil, err
		}
		var s overlaySocial
		raw, err := decodeObject(body, &s)
		if err != nil {
			return nil, err
		}
		h, ok := o.normalize(s)
		if !ok {
			return nil, fmt.Errorf("%w: no handle for %s", ErrEmpty, contract)
		}
		return &Result{
			Token:  model.NewTokenRecord(s.Name, s.Symbol, contract, raw),
			Handle: h,
			Source: o.name,
		}, nil
	})
	if err != nil || !ok {
		return nil, err
	}
	return res, nil
}

// normalize prefers the explicit handle, then the profile URL, then the requestor.
func (o *Overlay) normalize(s overlaySocial) (string, bool) {
	for _, candidate := range []string{s.Handle, s.ProfileURL, s.Requestor.Username} {
		if h, ok := handle.Normalize(candidate); ok {
			return h, true
		}
	}
	return "", false
}

// DiscoverWallets returns deployers from the overlay's launch list for a
// handle. The list is keyed by the user, so no extra verification applies.
func (o *Overlay) DiscoverWallets(ctx context.Context, raw string) ([]string, error) {
	h, ok := handle.Normalize(raw)
	if !ok {
		return nil, fmt.Errorf("invalid handle %q", raw)
	}
	launches, found, err := run(ctx, o.retry, "discover", h, func(ctx context.Context) ([]overlayLaunch, error) {
		body, err := o.http.getJSON(ctx, "/users/"+url.PathEscape(h)+"/tokens", nil)
		if err != nil {
			return nil, err
		}
		items, _, err := decodeArray[overlayLaunch](body)
		return items, err
	})
	if err != nil || !found {
		return nil, err
	}

	var set addressSet
	for _, l := range launches {
		set.add(l.Deployer)
	}
	return set.out, nil
}
