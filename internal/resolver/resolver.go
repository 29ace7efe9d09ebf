// Package resolver wraps the upstream metadata indexers. Every fetch runs
// inside a bounded retry loop because indexers lag the chain head; when the
// budget is exhausted the resolver reports "not found" as (nil, nil).
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/devblac/launch-watch/internal/config"
	"github.com/devblac/launch-watch/internal/logging"
	"github.com/devblac/launch-watch/internal/metrics"
	"github.com/devblac/launch-watch/internal/model"
)

// ErrEmpty marks an attempt whose payload was empty or structurally absent.
var ErrEmpty = errors.New("empty response")

// maxBody caps how much of an upstream response is read.
const maxBody = 4 << 20

// Result is one resolver's normalized answer for a contract.
type Result struct {
	Token model.TokenRecord
	// Handle is the source's own social field, normalized. Empty when the
	// source exposes none.
	Handle string
	// Source is the resolver name used for the platform label.
	Source string
}

// Platform returns the "via <source>" label.
func (r *Result) Platform() string {
	return model.PlatformLabel(r.Source)
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d from %s", e.Code, e.URL)
}

// Policy is the retry budget shared by all resolvers.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// PolicyFrom converts the config retry section.
func PolicyFrom(rp config.RetryPolicy) Policy {
	return Policy{Attempts: rp.Attempts, Delay: rp.Delay.Std()}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Options are the collaborators shared by the HTTP resolvers.
type Options struct {
	Policy  Policy
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Client  *http.Client
	Sleep   SleepFunc
}

// retrier runs an operation up to Policy.Attempts times with Policy.Delay between attempts.
type retrier struct {
	name    string
	policy  Policy
	sleep   SleepFunc
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func newRetrier(name string, opts Options) retrier {
	r := retrier{
		name:    name,
		policy:  opts.Policy,
		sleep:   opts.Sleep,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if r.policy.Attempts <= 0 {
		r.policy.Attempts = config.DefaultRetryAttempts
	}
	if r.policy.Delay < 0 {
		r.policy.Delay = 0
	}
	if r.sleep == nil {
		r.sleep = sleepCtx
	}
	if r.logger == nil {
		r.logger = logging.Discard()
	}
	return r
}

// once returns a copy limited to a single attempt.
func (r retrier) once() retrier {
	r.policy.Attempts = 1
	return r
}

// run calls fn until it succeeds or the budget is spent. ok is false on
// exhaustion; err is non-nil only when ctx ends.
func run[T any](ctx context.Context, r retrier, op, target string, fn func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, true, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, false, ctxErr
		}

		r.metrics.ResolverFailure(r.name)
		attrs := []any{"resolver", r.name, "op", op, "target", target, "attempt", attempt, "of", r.policy.Attempts, "err", err}
		if errors.Is(err, ErrEmpty) {
			r.logger.Debug("resolver attempt empty", attrs...)
		} else {
			r.logger.Warn("resolver attempt failed", attrs...)
		}

		if attempt < r.policy.Attempts {
			if err := r.sleep(ctx, r.policy.Delay); err != nil {
				return zero, false, err
			}
		}
	}
	return zero, false, nil
}

// httpClient issues GETs against one indexer base URL.
type httpClient struct {
	base   string
	apiKey string
	client *http.Client
}

func newHTTPClient(rc config.Resolver, client *http.Client) httpClient {
	if client == nil {
		timeout := rc.Timeout.Std()
		if timeout <= 0 {
			timeout = config.DefaultRequestTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return httpClient{
		base:   strings.TrimRight(rc.BaseURL, "/"),
		apiKey: rc.APIKey,
		client: client,
	}
}

// getJSON fetches base+path and returns the body, or ErrEmpty when there is nothing in it.
func (c httpClient) getJSON(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, ErrEmpty
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, URL: path}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	switch string(bytes.TrimSpace(body)) {
	case "", "null", "{}", "[]":
		return nil, ErrEmpty
	}
	return body, nil
}

// decodeObject unmarshals a JSON object into both a typed payload and a raw map.
func decodeObject(body []byte, typed any) (map[string]any, error) {
	if err := json.Unmarshal(body, typed); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: expected object", ErrEmpty)
	}
	if len(raw) == 0 {
		return nil, ErrEmpty
	}
	return raw, nil
}

// decodeArray unmarshals a JSON array of objects, keeping each raw element.
func decodeArray[T any](body []byte) ([]T, []map[string]any, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, nil, fmt.Errorf("%w: expected array", ErrEmpty)
	}
	if len(raws) == 0 {
		return nil, nil, ErrEmpty
	}
	items := make([]T, 0, len(raws))
	maps := make([]map[string]any, 0, len(raws))
	for _, r := range raws {
		var item T
		if err := json.Unmarshal(r, &item); err != nil {
			return nil, nil, fmt.Errorf("decode item: %w", err)
		}
		var m map[string]any
		if err := json.Unmarshal(r, &m); err != nil {
			return nil, nil, fmt.Errorf("decode item: %w", err)
		}
		items = append(items, item)
		maps = append(maps, m)
	}
	return items, maps, nil
}

// sameAddress compares hex addresses case-insensitively.
func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// addressSet collects distinct lowercased addresses in first-seen order.
type addressSet struct {
	seen map[string]struct{}
	out  []string
}

func (s *addressSet) add(addr string) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return
	}
	if s.seen == nil {
		s.seen = map[string]struct{}{}
	}
	if _, ok := s.seen[addr]; ok {
		return
	}
	s.seen[addr] = struct{}{}
	s.out = append(s.out, addr)
}
