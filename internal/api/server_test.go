package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/devblac/launch-watch/internal/model"
	"github.com/devblac/launch-watch/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "http://localhost"+target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	fail := func(ctx context.Context) error { return context.DeadlineExceeded }
	ok := func(ctx context.Context) error { return nil }
	tests := []struct {
		name       string
		checker    Checker
		wantCode   int
		wantStatus string
		wantDB     string
		wantChain string
	}{
		{name: "all_ok", checker: Checker{DBPing: ok, ChainPing: ok}, wantCode: http.StatusOK, wantStatus: "ok", wantDB: "ok", wantChain: "ok"},
		{name: "db_fail", checker: Checker{DBPing: fail, ChainPing: ok}, wantCode: http.StatusServiceUnavailable, wantStatus: "degraded", wantDB: "fail", wantChain: "ok"},
		{name: "chain_fail", checker: Checker{DBPing: ok, ChainPing: fail}, wantCode: http.StatusServiceUnavailable, wantStatus: "degraded", wantDB: "ok", wantChain: "fail"},
		{name: "no_checkers", wantCode: http.StatusOK, wantStatus: "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, NewRouter(nil, tt.checker, nil, nil), http.MethodGet, "/healthz")
			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			var resp map[string]string
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp["status"] != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp["status"], tt.wantStatus)
			}
			if tt.wantDB != "" && resp["db"] != tt.wantDB {
				t.Errorf("db = %q, want %q", resp["db"], tt.wantDB)
			}
			if tt.wantChain != "" && resp["chain"] != tt.wantChain {
				t.Errorf("chain = %q, want %q", resp["chain"], tt.wantChain)
			}
		})
	}
}

func TestWatchlistRoutes(t *testing.T) {
	st := newTestStore(t)
	r := NewRouter(st, Checker{}, nil, nil)

	if w := do(t, r, http.MethodPut, "/watchlist/@Alice"); w.Code != http.StatusCreated {
		t.Fatalf("put = %d, want 201", w.Code)
	}
	if w := do(t, r, http.MethodPut, "/watchlist/alice"); w.Code != http.StatusOK {
		t.Fatalf("repeat put = %d, want 200", w.Code)
	}
	if w := do(t, r, http.MethodPut, "/watchlist/bad!name"); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid put = %d, want 400", w.Code)
	}

	w := do(t, r, http.MethodGet, "/watchlist")
	var list []watchEntry
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].Handle != "alice" {
		t.Fatalf("unexpected watchlist: %+v", list)
	}

	if w := do(t, r, http.MethodDelete, "/watchlist/alice"); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d, want 204", w.Code)
	}
	if w := do(t, r, http.MethodDelete, "/watchlist/alice"); w.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d, want 404", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/watchlist"); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("post = %d, want 405", w.Code)
	}
}

func TestAlertsRoute(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range []string{"0x01", "0x02", "0x03"} {
		err := st.SaveAlertHistory(ctx, model.AlertEntry{
			Contract: c, TxHash: "0xtx" + c, Name: "T", Symbol: "T", Handle: "alice",
			Platform: "via indexer", Source: model.SourceIndexer, Family: model.FamilyPrimary,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("save alert: %v", err)
		}
	}
	r := NewRouter(st, Checker{}, nil, nil)

	w := do(t, r, http.MethodGet, "/alerts?limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("alerts = %d", w.Code)
	}
	var got []alertView
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Contract != "0x03" || got[1].Contract != "0x02" {
		t.Fatalf("unexpected alerts: %+v", got)
	}

	if w := do(t, r, http.MethodGet, "/alerts?limit=zero"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d, want 400", w.Code)
	}
}

func TestStoreFailureIs500(t *testing.T) {
	st := newTestStore(t)
	r := NewRouter(st, Checker{}, nil, nil)
	_ = st.Close()
	if w := do(t, r, http.MethodGet, "/watchlist"); w.Code != http.StatusInternalServerError {
		t.Fatalf("closed store = %d, want 500", w.Code)
	}
}

func TestMetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	if w := do(t, NewRouter(nil, Checker{}, metrics, nil), http.MethodGet, "/metrics"); w.Code != http.StatusTeapot {
		t.Fatalf("metrics = %d", w.Code)
	}
}
