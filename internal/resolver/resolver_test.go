package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devblac/launch-watch/internal/config"
	"github.com/devblac/launch-watch/internal/model"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	calls  int
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.calls++
	s.delays = append(s.delays, d)
	return nil
}

func testOptions(rec *sleepRecorder) Options {
	return Options{
		Policy: Policy{Attempts: 3, Delay: 2 * time.Second},
		Sleep:  rec.sleep,
	}
}

func TestRunSucceedsOnThirdAttemptAfterTwoDelays(t *testing.T) {
	rec := &sleepRecorder{}
	r := newRetrier("test", testOptions(rec))

	attempts := 0
	got, ok, err := run(context.Background(), r, "fetch", "0x1", func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("boom")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ok", got)
	require.Equal(t, 3, attempts)
	require.Equal(t, 2, rec.calls)
	require.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, rec.delays)
}

func TestRunExhaustionIsNotFound(t *testing.T) {
	rec := &sleepRecorder{}
	r := newRetrier("test", testOptions(rec))

	attempts := 0
	_, ok, err := run(context.Background(), r, "fetch", "0x1", func(context.Context) (int, error) {
		attempts++
		return 0, ErrEmpty
	})

	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 3, attempts)
	require.Equal(t, 2, rec.calls, "no delay after the last attempt")
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &sleepRecorder{}
	r := newRetrier("test", testOptions(rec))

	_, ok, err := run(ctx, r, "fetch", "0x1", func(context.Context) (int, error) {
		cancel()
		return 0, errors.New("boom")
	})

	require.ErrorIs(t, err, context.Canceled)
	require.False(t, ok)
	require.Zero(t, rec.calls)
}

func TestOnceMakesSingleAttempt(t *testing.T) {
	rec := &sleepRecorder{}
	r := newRetrier("test", testOptions(rec)).once()

	attempts := 0
	_, ok, err := run(context.Background(), r, "fetch", "0x1", func(context.Context) (int, error) {
		attempts++
		return 0, ErrEmpty
	})

	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, attempts)
	require.Zero(t, rec.calls)
}

func TestPrimaryFetchRetriesTransportErrors(t *testing.T) {
	const contract = "0x00000000000000000000000000000000000000aa"
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/coins/"+contract, r.URL.Path)
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, `{"address":%q,"name":"Moon","symbol":"","twitter":"https://x.com/Alice"}`, contract)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	p := NewPrimary(config.Resolver{BaseURL: srv.URL}, testOptions(rec))

	res, err := p.Fetch(context.Background(), contract)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, "Moon", res.Token.Name)
	require.Equal(t, model.UnknownSymbol, res.Token.Symbol)
	require.Equal(t, "alice", res.Handle)
	require.Equal(t, "via primary", res.Platform())
	require.EqualValues(t, 3, atomic.LoadInt32(&hits))
	require.Equal(t, 2, rec.calls)
}

func TestPrimaryFetchNotFoundAfterEmptyResponses(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	p := NewPrimary(config.Resolver{BaseURL: srv.URL}, testOptions(rec))

	res, err := p.Fetch(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Nil(t, res)
	require.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestPrimaryDiscoverWalletsIsStrict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/coins/search", r.URL.Path)
		require.Equal(t, "alice", r.URL.Query().Get("q"))
		w.Write([]byte(`[
			{"address":"0xc1","creator":"0xAAA","twitter":"@Alice"},
			{"address":"0xc2","creator":"0xbbb","twitter":"https://twitter.com/alice_fan"},
			{"address":"0xc3","creator":"0xaaa","twitter":"alice"},
			{"address":"0xc4","creator":"0xccc","twitter":"x.com/ALICE"}
		]`))
	}))
	defer srv.Close()

	p := NewPrimary(config.Resolver{BaseURL: srv.URL}, testOptions(&sleepRecorder{}))
	wallets, err := p.DiscoverWallets(context.Background(), "@alice")
	require.NoError(t, err)
	require.Equal(t, []string{"0xaaa", "0xccc"}, wallets)
}

func TestSecondaryFetchRequiresArray(t *testing.T) {
	const contract = "0x00000000000000000000000000000000000000bb"
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, contract, r.URL.Query().Get("address"))
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Write([]byte(`{"address":"not an array"}`))
			return
		}
		fmt.Fprintf(w, `[{"address":%q,"name":"Frog","symbol":"FRG","socials":{"x":"@FrogDev"}}]`, contract)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	s := NewSecondary(config.Resolver{BaseURL: srv.URL}, testOptions(rec))

	res, err := s.Fetch(context.Background(), contract)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, "frogdev", res.Handle)
	require.Equal(t, "FRG", res.Token.Symbol)
	require.Equal(t, 1, rec.calls)
}

func TestSecondaryDiscoverWalletsKeywordSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"address":"0xc1","deployer":"0x111","socials":{"x":"bob"}},
			{"address":"0xc2","deployer":"0x222","socials":{"twitter":"bobby"}},
			{"address":"0xc3","deployer":"0x111"}
		]`))
	}))
	defer srv.Close()

	loose := NewSecondary(config.Resolver{BaseURL: srv.URL}, testOptions(&sleepRecorder{}))
	wallets, err := loose.DiscoverWallets(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, []string{"0x111", "0x222"}, wallets)

	strict := true
	verified := NewSecondary(config.Resolver{BaseURL: srv.URL, Strict: &strict}, testOptions(&sleepRecorder{}))
	wallets, err = verified.DiscoverWallets(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, []string{"0x111"}, wallets)
}

func TestOverlaySocialPrefersExplicitHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tokens/0xdd/social", r.URL.Path)
		w.Write([]byte(`{"contract":"0xdd","handle":"@Carol","profile_url":"https://x.com/someoneelse"}`))
	}))
	defer srv.Close()

	o := NewOverlay(config.Resolver{Name: "overlay", BaseURL: srv.URL}, testOptions(&sleepRecorder{}))
	res, err := o.Social(context.Background(), "0xdd")
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, "carol", res.Handle)
	require.Equal(t, "via overlay", res.Platform())
}

func TestOverlaySocialWithoutHandleIsNotFound(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"contract":"0xdd","profile_url":"https://x.com/i/status/1"}`))
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	o := NewOverlay(config.Resolver{BaseURL: srv.URL}, testOptions(rec))
	res, err := o.Social(context.Background(), "0xdd")
	require.NoError(t, err)
	require.Nil(t, res)
	require.EqualValues(t, 3, atomic.LoadInt32(&hits))
	require.Equal(t, 2, rec.calls)
}

func TestOverlayDiscoverWallets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/dave/tokens", r.URL.Path)
		w.Write([]byte(`[{"contract":"0x1","deployer":"0xD1"},{"contract":"0x2","deployer":"0xd1"},{"contract":"0x3","deployer":"0xd2"}]`))
	}))
	defer srv.Close()

	o := NewOverlay(config.Resolver{BaseURL: srv.URL}, testOptions(&sleepRecorder{}))
	wallets, err := o.DiscoverWallets(context.Background(), "Dave")
	require.NoError(t, err)
	require.Equal(t, []string{"0xd1", "0xd2"}, wallets)
}

func TestDiscoverRejectsInvalidHandle(t *testing.T) {
	o := NewOverlay(config.Resolver{BaseURL: "http://127.0.0.1:1"}, testOptions(&sleepRecorder{}))
	_, err := o.DiscoverWallets(context.Background(), "not a handle!")
	require.Error(t, err)
}
