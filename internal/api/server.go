// Package api serves the admin HTTP surface: health, watchlist and alert history.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/devblac/launch-watch/internal/handle"
	"github.com/devblac/launch-watch/internal/logging"
	"github.com/devblac/launch-watch/internal/model"
	"github.com/devblac/launch-watch/internal/storage"
)

const maxAlerts = 500

// Checker holds the probes behind /healthz. Nil probes are skipped.
type Checker struct {
	DBPing    func(ctx context.Context) error
	ChainPing func(ctx context.Context) error
}

// Store is the persistence the API reads and writes.
type Store interface {
	GetWatchedAccounts(ctx context.Context) ([]model.WatchlistEntry, error)
	AddWatchedAccount(ctx context.Context, raw string) (bool, error)
	RemoveWatchedAccount(ctx context.Context, raw string) (bool, error)
	GetRecentAlerts(ctx context.Context, limit int) ([]model.AlertEntry, error)
}

type server struct {
	store   Store
	checker Checker
	logger  *slog.Logger
}

// NewRouter builds the admin routes. metricsHandler is mounted at /metrics when non-nil.
func NewRouter(store Store, checker Checker, metricsHandler http.Handler, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &server{store: store, checker: checker, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/watchlist", s.listWatchlist).Methods(http.MethodGet)
	r.HandleFunc("/watchlist/{handle}", s.addWatch).Methods(http.MethodPut)
	r.HandleFunc("/watchlist/{handle}", s.removeWatch).Methods(http.MethodDelete)
	r.HandleFunc("/alerts", s.alerts).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}
	return r
}

// Serve starts handler on addr in the background.
func Serve(addr string, handler http.Handler, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = logging.Discard()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "addr", addr, "err", err)
		}
	}()
	return srv
}

// Shutdown gracefully stops srv.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	check := func(name string, ping func(context.Context) error) {
		if ping == nil {
			return
		}
		if err := ping(ctx); err != nil {
			status[name] = "fail"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			return
		}
		status[name] = "ok"
	}
	check("db", s.checker.DBPing)
	check("chain", s.checker.ChainPing)
	writeJSON(w, code, status)
}

type watchEntry struct {
	Handle  string    `json:"handle"`
	AddedAt time.Time `json:"added_at"`
}

func (s *server) listWatchlist(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.GetWatchedAccounts(r.Context())
	if err != nil {
		s.fail(w, "list watchlist", err)
		return
	}
	out := make([]watchEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, watchEntry{Handle: e.Handle, AddedAt: e.AddedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) addWatch(w http.ResponseWriter, r *http.Request) {
	h, ok := handle.Normalize(mux.Vars(r)["handle"])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid handle")
		return
	}
	created, err := s.store.AddWatchedAccount(r.Context(), h)
	if err != nil {
		s.fail(w, "add watch", err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, map[string]any{"handle": h, "created": created})
}

func (s *server) removeWatch(w http.ResponseWriter, r *http.Request) {
	h, ok := handle.Normalize(mux.Vars(r)["handle"])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid handle")
		return
	}
	removed, err := s.store.RemoveWatchedAccount(r.Context(), h)
	if err != nil {
		s.fail(w, "remove watch", err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "handle not watched")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type alertView struct {
	ID        string    `json:"id"`
	Contract  string    `json:"contract"`
	TxHash    string    `json:"tx_hash"`
	Name      string    `json:"name"`
	Symbol    string    `json:"symbol"`
	Handle    string    `json:"handle"`
	Platform  string    `json:"platform"`
	Source    string    `json:"source"`
	Deployer  string    `json:"deployer,omitempty"`
	Family    string    `json:"family"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *server) alerts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAlerts)
	}
	entries, err := s.store.GetRecentAlerts(r.Context(), limit)
	if err != nil {
		s.fail(w, "recent alerts", err)
		return
	}
	out := make([]alertView, 0, len(entries))
	for _, a := range entries {
		out = append(out, alertView{
			ID: a.ID, Contract: a.Contract, TxHash: a.TxHash, Name: a.Name, Symbol: a.Symbol,
			Handle: a.Handle, Platform: a.Platform, Source: a.Source, Deployer: a.Deployer,
			Family: string(a.Family), CreatedAt: a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, storage.ErrInvalidHandle) {
		writeError(w, http.StatusBadRequest, "invalid handle")
		return
	}
	s.logger.Error("api request failed", "op", op, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
