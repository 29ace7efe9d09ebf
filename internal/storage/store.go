package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devblac/launch-watch/internal/handle"
	"github.com/devblac/launch-watch/internal/model"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrInvalidHandle is returned when a watchlist mutation receives something that is not a handle.
var ErrInvalidHandle = errors.New("invalid handle")

// Store wraps SQLite-backed persistence for the watchlist, wallet mappings,
// alert history, block cursors, and dedupe keys.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS watched_accounts (
  handle      TEXT PRIMARY KEY,
  added_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS wallet_mappings (
  handle         TEXT NOT NULL,
  wallet         TEXT NOT NULL,
  source         TEXT NOT NULL,
  discovered_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(handle, wallet)
);
CREATE INDEX IF NOT EXISTS idx_wallet_mappings_wallet ON wallet_mappings(wallet);

CREATE TABLE IF NOT EXISTS alert_history (
  id          TEXT PRIMARY KEY,
  contract    TEXT NOT NULL,
  txhash      TEXT,
  name        TEXT,
  symbol      TEXT,
  handle      TEXT NOT NULL,
  platform    TEXT,
  source      TEXT,
  deployer    TEXT,
  family      TEXT,
  created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_alert_history_created ON alert_history(created_at);

CREATE TABLE IF NOT EXISTS cursors (
  source_id   TEXT PRIMARY KEY,
  height      INTEGER NOT NULL,
  hash        TEXT NOT NULL,
  updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS dedupe (
  key         TEXT PRIMARY KEY,
  expires_at  TIMESTAMP NOT NULL
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// IsHandleWatched reports whether the normalized handle is on the watchlist.
func (s *Store) IsHandleWatched(ctx context.Context, h string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM watched_accounts WHERE handle = ?;`, h).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("check watched: %w", err)
	}
}

// AddWatchedAccount inserts a handle; returns false when it was already watched.
func (s *Store) AddWatchedAccount(ctx context.Context, raw string) (bool, error) {
	h, ok := handle.Normalize(raw)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrInvalidHandle, raw)
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO watched_accounts (handle, added_at)
VALUES (?, CURRENT_TIMESTAMP)
ON CONFLICT(handle) DO NOTHING;
`, h)
	if err != nil {
		return false, fmt.Errorf("add watched: %w", err)
	}
	return affected(res)
}

// RemoveWatchedAccount deletes a handle and every wallet mapping learned for it.
func (s *Store) RemoveWatchedAccount(ctx context.Context, raw string) (bool, error) {
	h, ok := handle.Normalize(raw)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrInvalidHandle, raw)
	}
	var removed bool
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM watched_accounts WHERE handle = ?;`, h)
		if err != nil {
			return fmt.Errorf("remove watched: %w", err)
		}
		if removed, err = affected(res); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM wallet_mappings WHERE handle = ?;`, h); err != nil {
			return fmt.Errorf("remove mappings: %w", err)
		}
		return nil
	})
	return removed, err
}

// GetWatchedAccounts lists the watchlist ordered by handle.
func (s *Store) GetWatchedAccounts(ctx context.Context) ([]model.WatchlistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT handle, added_at FROM watched_accounts ORDER BY handle;`)
	if err != nil {
		return nil, fmt.Errorf("list watched: %w", err)
	}
	defer rows.Close()

	var out []model.WatchlistEntry
	for rows.Next() {
		var e model.WatchlistEntry
		if err := rows.Scan(&e.Handle, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("scan watched: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetWatchedCount returns the number of watched handles.
func (s *Store) GetWatchedCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM watched_accounts;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count watched: %w", err)
	}
	return n, nil
}

// GetHandleByWallet returns the handle mapped to a wallet, oldest mapping first.
func (s *Store) GetHandleByWallet(ctx context.Context, wallet string) (string, bool, error) {
	var h string
	err := s.db.QueryRowContext(ctx, `
SELECT handle FROM wallet_mappings
WHERE wallet = ?
ORDER BY discovered_at ASC, handle ASC
LIMIT 1;
`, normalizeWallet(wallet)).Scan(&h)
	switch {
	case err == nil:
		return h, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("get handle by wallet: %w", err)
	}
}

// SaveWalletMapping upserts a mapping for a watched handle; returns true only
// when a new row was written. Mappings for handles off the watchlist are
// dropped in the same statement, so a save racing an unwatch cannot leave a
// stale row behind.
func (s *Store) SaveWalletMapping(ctx context.Context, h, wallet, source string) (bool, error) {
	if h == "" || wallet == "" {
		return false, errors.New("handle and wallet are required")
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO wallet_mappings (handle, wallet, source, discovered_at)
SELECT ?, ?, ?, CURRENT_TIMESTAMP
WHERE EXISTS (SELECT 1 FROM watched_accounts WHERE handle = ?)
ON CONFLICT(handle, wallet) DO NOTHING;
`, h, normalizeWallet(wallet), source, h)
	if err != nil {
		return false, fmt.Errorf("save wallet mapping: %w", err)
	}
	return affected(res)
}

// GetWalletsByHandle lists mappings for a handle.
func (s *Store) GetWalletsByHandle(ctx context.Context, h string) ([]model.WalletMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT handle, wallet, source, discovered_at FROM wallet_mappings
WHERE handle = ?
ORDER BY discovered_at ASC, wallet ASC;
`, h)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var out []model.WalletMapping
	for rows.Next() {
		var m model.WalletMapping
		if err := rows.Scan(&m.Handle, &m.Wallet, &m.Source, &m.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveAlertHistory appends an alert. An empty ID is replaced by a fresh UUID.
func (s *Store) SaveAlertHistory(ctx context.Context, a model.AlertEntry) error {
	if a.Contract == "" || a.Handle == "" {
		return errors.New("alert contract and handle required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO alert_history (id, contract, txhash, name, symbol, handle, platform, source, deployer, family, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP));
`, a.ID, a.Contract, a.TxHash, a.Name, a.Symbol, a.Handle, a.Platform, a.Source, a.Deployer, string(a.Family), nullTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// GetRecentAlerts returns up to limit alerts, newest first.
func (s *Store) GetRecentAlerts(ctx context.Context, limit int) ([]model.AlertEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, contract, txhash, name, symbol, handle, platform, source, deployer, family, created_at
FROM alert_history
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent alerts: %w", err)
	}
	defer rows.Close()

	var out []model.AlertEntry
	for rows.Next() {
		var (
			a      model.AlertEntry
			family string
		)
		if err := rows.Scan(&a.ID, &a.Contract, &a.TxHash, &a.Name, &a.Symbol, &a.Handle, &a.Platform, &a.Source, &a.Deployer, &family, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Family = model.Family(family)
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertCursor records the latest processed height/hash for a source.
func (s *Store) UpsertCursor(ctx context.Context, sourceID string, height uint64, hash string) error {
	if sourceID == "" {
		return errors.New("sourceID required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cursors (source_id, height, hash, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(source_id) DO UPDATE SET
  height=MAX(cursors.height, excluded.height),
  hash=CASE WHEN excluded.height >= cursors.height THEN excluded.hash ELSE cursors.hash END,
  updated_at=CURRENT_TIMESTAMP;
`, sourceID, height, hash)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// GetCursor retrieves the cursor for a source.
func (s *Store) GetCursor(ctx context.Context, sourceID string) (height uint64, hash string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
SELECT height, hash FROM cursors WHERE source_id = ?;
`, sourceID)
	switch err = row.Scan(&height, &hash); err {
	case nil:
		return height, hash, true, nil
	case sql.ErrNoRows:
		return 0, "", false, nil
	default:
		return 0, "", false, fmt.Errorf("get cursor: %w", err)
	}
}

// Cursor is one row of the cursors table.
type Cursor struct {
	SourceID  string
	Height    uint64
	Hash      string
	UpdatedAt time.Time
}

// ListCursors returns all cursors ordered by source.
func (s *Store) ListCursors(ctx context.Context) ([]Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, height, hash, updated_at FROM cursors ORDER BY source_id;`)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	var out []Cursor
	for rows.Next() {
		var c Cursor
		if err := rows.Scan(&c.SourceID, &c.Height, &c.Hash, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkDedupe sets or refreshes a dedupe key until expiresAt.
func (s *Store) MarkDedupe(ctx context.Context, key string, expiresAt time.Time) error {
	if key == "" {
		return errors.New("key required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dedupe (key, expires_at)
VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET expires_at=excluded.expires_at;
`, key, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("mark dedupe: %w", err)
	}
	return nil
}

// IsDuplicate returns true if the key exists and is not expired; expired entries are pruned.
func (s *Store) IsDuplicate(ctx context.Context, key string, now time.Time) (bool, error) {
	if key == "" {
		return false, errors.New("key required")
	}

	var expires time.Time
	err := s.db.QueryRowContext(ctx, `
SELECT expires_at FROM dedupe WHERE key = ?;
`, key).Scan(&expires)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check dedupe: %w", err)
	}

	if expires.After(now.UTC()) {
		return true, nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedupe WHERE key = ?;`, key); err != nil {
		return false, fmt.Errorf("prune dedupe: %w", err)
	}
	return false, nil
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func normalizeWallet(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
