package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/devblac/launch-watch/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestWatchlistLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.AddWatchedAccount(ctx, "@Alice ")
	if err != nil || !added {
		t.Fatalf("add watched: added=%v err=%v", added, err)
	}
	added, err = store.AddWatchedAccount(ctx, "alice")
	if err != nil || added {
		t.Fatalf("re-adding should be a no-op: added=%v err=%v", added, err)
	}
	if _, err := store.AddWatchedAccount(ctx, "not valid!"); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}
	if _, err := store.AddWatchedAccount(ctx, "bob"); err != nil {
		t.Fatalf("add bob: %v", err)
	}

	watched, err := store.IsHandleWatched(ctx, "alice")
	if err != nil || !watched {
		t.Fatalf("alice should be watched: %v %v", watched, err)
	}
	n, err := store.GetWatchedCount(ctx)
	if err != nil || n != 2 {
		t.Fatalf("count = %d err=%v", n, err)
	}
	list, err := store.GetWatchedAccounts(ctx)
	if err != nil || len(list) != 2 || list[0].Handle != "alice" || list[1].Handle != "bob" {
		t.Fatalf("unexpected list: %+v err=%v", list, err)
	}

	removed, err := store.RemoveWatchedAccount(ctx, "ALICE")
	if err != nil || !removed {
		t.Fatalf("remove: %v %v", removed, err)
	}
	removed, err = store.RemoveWatchedAccount(ctx, "alice")
	if err != nil || removed {
		t.Fatalf("second remove should report false: %v %v", removed, err)
	}
	watched, _ = store.IsHandleWatched(ctx, "alice")
	if watched {
		t.Fatalf("alice should no longer be watched")
	}
}

func TestWalletMappingUpsertIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.AddWatchedAccount(ctx, "alice"); err != nil {
		t.Fatalf("add: %v", err)
	}
	wallet := "0xAbC0000000000000000000000000000000000001"
	inserted, err := store.SaveWalletMapping(ctx, "alice", wallet, model.MappingLearned)
	if err != nil || !inserted {
		t.Fatalf("save mapping: %v %v", inserted, err)
	}
	inserted, err = store.SaveWalletMapping(ctx, "alice", wallet, model.MappingLearned)
	if err != nil || inserted {
		t.Fatalf("duplicate save should not insert: %v %v", inserted, err)
	}

	h, ok, err := store.GetHandleByWallet(ctx, "0xabc0000000000000000000000000000000000001")
	if err != nil || !ok || h != "alice" {
		t.Fatalf("lookup: %q %v %v", h, ok, err)
	}
	_, ok, err = store.GetHandleByWallet(ctx, "0x0000000000000000000000000000000000000002")
	if err != nil || ok {
		t.Fatalf("unknown wallet should miss: %v %v", ok, err)
	}

	wallets, err := store.GetWalletsByHandle(ctx, "alice")
	if err != nil || len(wallets) != 1 || wallets[0].Source != model.MappingLearned {
		t.Fatalf("wallets: %+v %v", wallets, err)
	}
}

func TestMappingForUnwatchedHandleNotSaved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inserted, err := store.SaveWalletMapping(ctx, "dave", "0x0d", model.MappingLearned)
	if err != nil || inserted {
		t.Fatalf("unwatched save: %v %v", inserted, err)
	}
	if _, ok, _ := store.GetHandleByWallet(ctx, "0x0d"); ok {
		t.Fatalf("mapping for unwatched handle must not exist")
	}

	if _, err := store.AddWatchedAccount(ctx, "dave"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := store.RemoveWatchedAccount(ctx, "dave"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	// A learn that lands after the unwatch.
	if inserted, err := store.SaveWalletMapping(ctx, "dave", "0x0d", model.MappingLearned); err != nil || inserted {
		t.Fatalf("late save: %v %v", inserted, err)
	}
	if _, ok, _ := store.GetHandleByWallet(ctx, "0x0d"); ok {
		t.Fatalf("late mapping must not survive the unwatch")
	}
}

func TestRemoveWatchedDropsMappings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.AddWatchedAccount(ctx, "carol"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := store.SaveWalletMapping(ctx, "carol", "0x01", model.MappingLearned); err != nil {
		t.Fatalf("map: %v", err)
	}
	if _, err := store.RemoveWatchedAccount(ctx, "carol"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := store.GetHandleByWallet(ctx, "0x01"); ok {
		t.Fatalf("mapping should be removed with the handle")
	}
}

func TestAlertHistoryNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i, sym := range []string{"AAA", "BBB", "CCC"} {
		err := store.SaveAlertHistory(ctx, model.AlertEntry{
			Contract:  "0xc",
			TxHash:    "0xt",
			Name:      sym,
			Symbol:    sym,
			Handle:    "alice",
			Platform:  "via overlay",
			Source:    model.SourceIndexer,
			Family:    model.FamilySecondary,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("save alert: %v", err)
		}
	}

	alerts, err := store.GetRecentAlerts(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(alerts) != 2 || alerts[0].Symbol != "CCC" || alerts[1].Symbol != "BBB" {
		t.Fatalf("unexpected order: %+v", alerts)
	}
	if alerts[0].ID == "" || alerts[0].Family != model.FamilySecondary {
		t.Fatalf("id/family not round-tripped: %+v", alerts[0])
	}

	if err := store.SaveAlertHistory(ctx, model.AlertEntry{Contract: "0xc"}); err == nil {
		t.Fatalf("expected missing handle to fail")
	}
}

func TestCursorNeverMovesBackwards(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertCursor(ctx, "src1", 10, "hashA"); err != nil {
		t.Fatalf("upsert cursor: %v", err)
	}
	h, hash, ok, err := store.GetCursor(ctx, "src1")
	if err != nil || !ok || h != 10 || hash != "hashA" {
		t.Fatalf("unexpected cursor: %d %s err=%v ok=%v", h, hash, err, ok)
	}

	if err := store.UpsertCursor(ctx, "src1", 20, "hashB"); err != nil {
		t.Fatalf("upsert cursor update: %v", err)
	}
	if err := store.UpsertCursor(ctx, "src1", 15, "hashOld"); err != nil {
		t.Fatalf("upsert stale cursor: %v", err)
	}
	h, hash, ok, err = store.GetCursor(ctx, "src1")
	if err != nil || !ok || h != 20 || hash != "hashB" {
		t.Fatalf("cursor regressed: %d %s err=%v ok=%v", h, hash, err, ok)
	}

	cursors, err := store.ListCursors(ctx)
	if err != nil || len(cursors) != 1 {
		t.Fatalf("list cursors: %+v %v", cursors, err)
	}
}

func TestDedupeTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.MarkDedupe(ctx, "k1", now.Add(1*time.Second)); err != nil {
		t.Fatalf("mark dedupe: %v", err)
	}
	dup, err := store.IsDuplicate(ctx, "k1", now)
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if !dup {
		t.Fatalf("expected duplicate before expiry")
	}

	later := now.Add(2 * time.Second)
	dup, err = store.IsDuplicate(ctx, "k1", later)
	if err != nil {
		t.Fatalf("is duplicate later: %v", err)
	}
	if dup {
		t.Fatalf("expected non-duplicate after expiry")
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	store.Close()
	if err := store.Ping(ctx); err == nil {
		t.Fatalf("expected ping to fail after close")
	}
}
