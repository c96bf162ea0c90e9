package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"dircheck/internal/audit"
)

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// newTestStore creates a migrated store backed by a temporary file.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})

	if err := store.MigrateUp(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return store
}

func mustCreateRoot(t *testing.T, s *SQLiteStore, path string) *audit.RootPath {
	t.Helper()
	root, err := s.CreateRootPath(context.Background(), path)
	if err != nil {
		t.Fatalf("CreateRootPath() error = %v", err)
	}
	return root
}

func mustBeginScan(t *testing.T, s *SQLiteStore, rootID int64) *audit.Scan {
	t.Helper()
	scan, err := s.BeginScan(context.Background(), rootID, false, testTime, "owner", time.Hour)
	if err != nil {
		t.Fatalf("BeginScan() error = %v", err)
	}
	return scan
}

func fileMutation(rootID, scanID int64, path string, kind audit.ChangeKind) *audit.Mutation {
	return &audit.Mutation{
		Item: audit.Item{
			RootPathID:     rootID,
			Path:           path,
			Kind:           audit.ItemFile,
			LastModified:   testTime,
			FileSize:       sql.NullInt64{Int64: 1, Valid: true},
			LastSeenScanID: scanID,
		},
		Change: audit.Change{ScanID: scanID, Kind: kind},
	}
}

func TestSQLiteStore_RootPaths(t *testing.T) {
	ctx := context.Background()

	t.Run("find returns nil when missing", func(t *testing.T) {
		s := newTestStore(t)
		root, err := s.FindRootPathByPath(ctx, "/nonexistent")
		if err != nil {
			t.Fatalf("FindRootPathByPath() error = %v", err)
		}
		if root != nil {
			t.Errorf("FindRootPathByPath() = %+v, want nil", root)
		}
	})

	t.Run("get returns not found", func(t *testing.T) {
		s := newTestStore(t)
		if _, err := s.GetRootPath(ctx, 42); !audit.IsNotFound(err) {
			t.Errorf("GetRootPath() error = %v, want not found", err)
		}
	})

	t.Run("create and list", func(t *testing.T) {
		s := newTestStore(t)
		a := mustCreateRoot(t, s, "/a")
		b := mustCreateRoot(t, s, "/b")

		roots, err := s.ListRootPaths(ctx)
		if err != nil {
			t.Fatalf("ListRootPaths() error = %v", err)
		}
		if len(roots) != 2 || roots[0].ID != a.ID || roots[1].ID != b.ID {
			t.Errorf("ListRootPaths() = %+v", roots)
		}

		found, err := s.FindRootPathByPath(ctx, "/b")
		if err != nil {
			t.Fatalf("FindRootPathByPath() error = %v", err)
		}
		if found == nil || found.ID != b.ID {
			t.Errorf("FindRootPathByPath() = %+v, want id %d", found, b.ID)
		}
	})

	t.Run("duplicate path is a store error", func(t *testing.T) {
		s := newTestStore(t)
		mustCreateRoot(t, s, "/a")
		_, err := s.CreateRootPath(ctx, "/a")
		if audit.KindOf(err) != audit.KindStore {
			t.Errorf("CreateRootPath() error = %v, want store error", err)
		}
	})
}

func TestSQLiteStore_BeginScan(t *testing.T) {
	ctx := context.Background()

	t.Run("creates leased incomplete scan", func(t *testing.T) {
		s := newTestStore(t)
		root := mustCreateRoot(t, s, "/data")
		scan := mustBeginScan(t, s, root.ID)

		got, err := s.GetScan(ctx, scan.ID)
		if err != nil {
			t.Fatalf("GetScan() error = %v", err)
		}
		if got.IsComplete || !got.Leased || got.Status() != audit.ScanStatusInProgress {
			t.Errorf("GetScan() = %+v, want leased incomplete scan", got)
		}
		if !got.TimeOfScan.Equal(testTime) {
			t.Errorf("TimeOfScan = %v, want %v", got.TimeOfScan, testTime)
		}
	})

	t.Run("live lease conflicts", func(t *testing.T) {
		s := newTestStore(t)
		root := mustCreateRoot(t, s, "/data")
		first := mustBeginScan(t, s, root.ID)

		_, err := s.BeginScan(ctx, root.ID, true, testTime.Add(time.Minute), "other", time.Hour)
		var conflict *audit.ConcurrencyConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("BeginScan() error = %v, want conflict", err)
		}
		if conflict.ScanID != first.ID || conflict.RootPathID != root.ID {
			t.Errorf("conflict = %+v", conflict)
		}
	})

	t.Run("stale lease is replaced", func(t *testing.T) {
		s := newTestStore(t)
		root := mustCreateRoot(t, s, "/data")
		first := mustBeginScan(t, s, root.ID)

		second, err := s.BeginScan(ctx, root.ID, false, testTime.Add(2*time.Hour), "other", time.Hour)
		if err != nil {
			t.Fatalf("BeginScan() error = %v", err)
		}
		old, err := s.GetScan(ctx, first.ID)
		if err != nil {
			t.Fatalf("GetScan() error = %v", err)
		}
		if old.Status() != audit.ScanStatusFailed {
			t.Errorf("replaced scan Status() = %s, want failed", old.Status())
		}

		// The old scan can no longer write.
		err = s.ApplyBatch(ctx, first.ID, testTime, nil)
		if audit.KindOf(err) != audit.KindConcurrencyConflict {
			t.Errorf("ApplyBatch() on replaced scan error = %v, want conflict", err)
		}
		if err := s.ApplyBatch(ctx, second.ID, testTime, nil); err != nil {
			t.Errorf("ApplyBatch() error = %v", err)
		}
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		s := newTestStore(t)
		root := mustCreateRoot(t, s, "/data")
		mustBeginScan(t, s, root.ID)

		_, err := s.BeginScan(ctx, root.ID, false, testTime.Add(1000*time.Hour), "other", 0)
		if audit.KindOf(err) != audit.KindConcurrencyConflict {
			t.Errorf("BeginScan() error = %v, want conflict", err)
		}
	})

	t.Run("different roots do not conflict", func(t *testing.T) {
		s := newTestStore(t)
		a := mustCreateRoot(t, s, "/a")
		b := mustCreateRoot(t, s, "/b")
		mustBeginScan(t, s, a.ID)
		mustBeginScan(t, s, b.ID)
	})
}

func TestSQLiteStore_ApplyBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts items and changes", func(t *testing.T) {
		s := newTestStore(t)
		root := mustCreateRoot(t, s, "/data")
		scan := mustBeginScan(t, s, root.ID)

		muts := []*audit.Mutation{
			fileMutation(root.ID, scan.ID, "a", audit.ChangeAdd),
			fileMutation(root.ID, scan.ID, "b", audit.ChangeAdd),
		}
		if err := s.ApplyBatch(ctx, scan.ID, testTime, muts); err != nil {
			t.Fatalf("ApplyBatch() error = %v", err)
		}
		for _, m := range muts {
			if m.Item.ID == 0 || m.Change.ItemID != m.Item.ID {
				t.Errorf("mutation %q ids = item %d, change %d", m.Item.Path, m.Item.ID, m.Change.ItemID)
			}
		}

		counts, err := s.AggregateChangeCounts(ctx, scan.ID)
		if err != nil {
			t.Fatalf("AggregateChangeCounts() error = %v", err)
		}
		if counts.Adds != 2 {
			t.Errorf("Adds = %d, want 2", counts.Adds)
		}

		item, err := s.GetItem(ctx, muts[0].Item.ID)
		if err != nil {
			t.Fatalf("GetItem() error = %v", err)
		}
		if !item.LastModified.Equal(testTime) || item.FileSize.Int64 != 1 || item.Kind != audit.ItemFile {
			t.Errorf("GetItem() = %+v", item)
		}
	})

	t.Run("no change writes no row", func(t *testing.T) {
		s := newTestStore(t)
		root := mustCreateRoot(t, s, "/data")
		scan := mustBeginScan(t, s, root.ID)

		m := fileMutation(root.ID, scan.ID, "a", audit.ChangeNone)
		if err := s.ApplyBatch(ctx, scan.ID, testTime, []*audit.Mutation{m}); err != nil {
			t.Fatalf("ApplyBatch() error = %v", err)
		}
		counts, err := s.AggregateChangeCounts(ctx, scan.ID)
		if err != nil {
			t.Fatalf("AggregateChangeCounts() error = %v", err)
		}
		if counts.Total() != 0 {
			t.Errorf("counts = %+v, want none", counts)
		}
	})

	t.Run("second live item at a path is rejected", func(t *testing.T) {
		s := newTestStore(t)
		root := mustCreateRoot(t, s, "/data")
		scan := mustBeginScan(t, s, root.ID)

		if err := s.ApplyBatch(ctx, scan.ID, testTime, []*audit.Mutation{fileMutation(root.ID, scan.ID, "a", audit.ChangeAdd)}); err != nil {
			t.Fatalf("ApplyBatch() error = %v", err)
		}
		dup := fileMutation(root.ID, scan.ID, "a", audit.ChangeAdd)
		err := s.ApplyBatch(ctx, scan.ID, testTime, []*audit.Mutation{
			fileMutation(root.ID, scan.ID, "b", audit.ChangeAdd),
			dup,
		})
		if audit.KindOf(err) != audit.KindStore {
			t.Fatalf("ApplyBatch() error = %v, want store error", err)
		}

		// The whole batch rolled back.
		var n int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM items WHERE path = 'b'").Scan(&n); err != nil {
			t.Fatalf("count query error = %v", err)
		}
		if n != 0 {
			t.Errorf("items at b = %d, want 0", n)
		}
	})

	t.Run("tombstone is revived with the same id", func(t *testing.T) {
		s := newTestStore(t)
		root := mustCreateRoot(t, s, "/data")
		scan := mustBeginScan(t, s, root.ID)

		add := fileMutation(root.ID, scan.ID, "a", audit.ChangeAdd)
		if err := s.ApplyBatch(ctx, scan.ID, testTime, []*audit.Mutation{add}); err != nil {
			t.Fatalf("ApplyBatch() error = %v", err)
		}
		if _, err := s.CompleteScan(ctx, scan.ID); err != nil {
			t.Fatalf("CompleteScan() error = %v", err)
		}

		scan2 := mustBeginScan(t, s, root.ID)
		del := &audit.Mutation{Item: add.Item, Change: audit.Change{ScanID: scan2.ID, Kind: audit.ChangeDelete}}
		del.Item.IsTombstone = true
		if err := s.ApplyBatch(ctx, scan2.ID, testTime, []*audit.Mutation{del}); err != nil {
			t.Fatalf("ApplyBatch() error = %v", err)
		}
		done, err := s.CompleteScan(ctx, scan2.ID)
		if err != nil {
			t.Fatalf("CompleteScan() error = %v", err)
		}
		if done.FileCount.Int64 != 0 {
			t.Errorf("FileCount = %d, want 0", done.FileCount.Int64)
		}

		scan3 := mustBeginScan(t, s, root.ID)
		readd := fileMutation(root.ID, scan3.ID, "a", audit.ChangeAdd)
		if err := s.ApplyBatch(ctx, scan3.ID, testTime, []*audit.Mutation{readd}); err != nil {
			t.Fatalf("ApplyBatch() error = %v", err)
		}
		if readd.Item.ID != add.Item.ID {
			t.Errorf("revived item ID = %d, want %d", readd.Item.ID, add.Item.ID)
		}
	})
}

func TestSQLiteStore_CompleteScan(t *testing.T) {
	ctx := context.Background()

	t.Run("stores counts and releases lease", func(t *testing.T) {
		s := newTestStore(t)
		root := mustCreateRoot(t, s, "/data")
		scan := mustBeginScan(t, s, root.ID)

		dir := fileMutation(root.ID, scan.ID, "d", audit.ChangeAdd)
		dir.Item.Kind = audit.ItemDirectory
		dir.Item.FileSize = sql.NullInt64{}
		muts := []*audit.Mutation{dir, fileMutation(root.ID, scan.ID, "d/a", audit.ChangeAdd), fileMutation(root.ID, scan.ID, "d/b", audit.ChangeAdd)}
		if err := s.ApplyBatch(ctx, scan.ID, testTime, muts); err != nil {
			t.Fatalf("ApplyBatch() error = %v", err)
		}

		done, err := s.CompleteScan(ctx, scan.ID)
		if err != nil {
			t.Fatalf("CompleteScan() error = %v", err)
		}
		if !done.IsComplete || done.Leased || done.FileCount.Int64 != 2 || done.FolderCount.Int64 != 1 {
			t.Errorf("CompleteScan() = %+v", done)
		}

		latest, err := s.LatestCompleteScan(ctx, root.ID)
		if err != nil {
			t.Fatalf("LatestCompleteScan() error = %v", err)
		}
		if latest == nil || latest.ID != scan.ID {
			t.Errorf("LatestCompleteScan() = %+v, want scan %d", latest, scan.ID)
		}
	})

	t.Run("complete scans are immutable", func(t *testing.T) {
		s := newTestStore(t)
		root := mustCreateRoot(t, s, "/data")
		scan := mustBeginScan(t, s, root.ID)
		if _, err := s.CompleteScan(ctx, scan.ID); err != nil {
			t.Fatalf("CompleteScan() error = %v", err)
		}

		if _, err := s.CompleteScan(ctx, scan.ID); audit.KindOf(err) != audit.KindConcurrencyConflict {
			t.Errorf("second CompleteScan() error = %v, want conflict", err)
		}
		if _, err := s.db.Exec("UPDATE scans SET file_count = 99 WHERE id = ?", scan.ID); err == nil {
			t.Error("UPDATE of a complete scan succeeded")
		}
	})

	t.Run("abandoned scan cannot complete", func(t *testing.T) {
		s := newTestStore(t)
		root := mustCreateRoot(t, s, "/data")
		scan := mustBeginScan(t, s, root.ID)
		if err := s.AbandonScan(ctx, scan.ID); err != nil {
			t.Fatalf("AbandonScan() error = %v", err)
		}

		if _, err := s.CompleteScan(ctx, scan.ID); audit.KindOf(err) != audit.KindConcurrencyConflict {
			t.Errorf("CompleteScan() error = %v, want conflict", err)
		}
		latest, err := s.LatestCompleteScan(ctx, root.ID)
		if err != nil {
			t.Fatalf("LatestCompleteScan() error = %v", err)
		}
		if latest != nil {
			t.Errorf("LatestCompleteScan() = %+v, want nil", latest)
		}
	})

	t.Run("unknown scan", func(t *testing.T) {
		s := newTestStore(t)
		if _, err := s.CompleteScan(ctx, 99); !audit.IsNotFound(err) {
			t.Errorf("CompleteScan() error = %v, want not found", err)
		}
	})
}

func TestSQLiteStore_BreakLease(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root := mustCreateRoot(t, s, "/data")
	mustBeginScan(t, s, root.ID)

	removed, err := s.BreakLease(ctx, root.ID)
	if err != nil {
		t.Fatalf("BreakLease() error = %v", err)
	}
	if !removed {
		t.Error("BreakLease() = false, want true")
	}
	removed, err = s.BreakLease(ctx, root.ID)
	if err != nil {
		t.Fatalf("BreakLease() error = %v", err)
	}
	if removed {
		t.Error("second BreakLease() = true, want false")
	}
	mustBeginScan(t, s, root.ID)
}

func TestSQLiteStore_ListScans(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := mustCreateRoot(t, s, "/a")
	b := mustCreateRoot(t, s, "/b")

	var ids []int64
	for _, root := range []*audit.RootPath{a, b, a} {
		scan := mustBeginScan(t, s, root.ID)
		if _, err := s.CompleteScan(ctx, scan.ID); err != nil {
			t.Fatalf("CompleteScan() error = %v", err)
		}
		ids = append(ids, scan.ID)
	}

	tests := []struct {
		name  string
		root  int64
		limit int
		want  []int64
	}{
		{"all roots", 0, 0, []int64{ids[2], ids[1], ids[0]}},
		{"one root", a.ID, 0, []int64{ids[2], ids[0]}},
		{"limited", 0, 1, []int64{ids[2]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scans, err := s.ListScans(ctx, tt.root, tt.limit)
			if err != nil {
				t.Fatalf("ListScans() error = %v", err)
			}
			var got []int64
			for _, scan := range scans {
				got = append(got, scan.ID)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("ListScans() ids = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSQLiteStore_OpenLiveItems(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root := mustCreateRoot(t, s, "/data")
	other := mustCreateRoot(t, s, "/other")
	scan := mustBeginScan(t, s, root.ID)

	// More than two pages, inserted out of order.
	const n = pageSize*2 + 7
	var muts []*audit.Mutation
	for i := n - 1; i >= 0; i-- {
		muts = append(muts, fileMutation(root.ID, scan.ID, fmt.Sprintf("f%05d", i), audit.ChangeAdd))
	}
	tomb := fileMutation(root.ID, scan.ID, "f00003", audit.ChangeNone)
	if err := s.ApplyBatch(ctx, scan.ID, testTime, muts); err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}
	tomb.Item.ID = muts[n-1-3].Item.ID
	tomb.Item.IsTombstone = true
	if err := s.ApplyBatch(ctx, scan.ID, testTime, []*audit.Mutation{tomb}); err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}
	otherScan := mustBeginScan(t, s, other.ID)
	if err := s.ApplyBatch(ctx, otherScan.ID, testTime, []*audit.Mutation{fileMutation(other.ID, otherScan.ID, "f00001x", audit.ChangeAdd)}); err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}

	cursor := s.OpenLiveItems(ctx, root.ID)
	defer cursor.Close()

	var count int
	prev := ""
	for {
		item, err := cursor.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if item == nil {
			break
		}
		if item.Path <= prev {
			t.Fatalf("cursor returned %q after %q", item.Path, prev)
		}
		if item.Path == "f00003" || item.RootPathID != root.ID {
			t.Errorf("cursor returned %+v", item)
		}
		prev = item.Path
		count++
	}
	if count != n-1 {
		t.Errorf("cursor returned %d items, want %d", count, n-1)
	}
}

func TestSQLiteStore_ChangesAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root := mustCreateRoot(t, s, "/data")
	scan := mustBeginScan(t, s, root.ID)
	if err := s.ApplyBatch(ctx, scan.ID, testTime, []*audit.Mutation{fileMutation(root.ID, scan.ID, "a", audit.ChangeAdd)}); err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}

	if _, err := s.db.Exec("UPDATE changes SET change_type = 'M'"); err == nil {
		t.Error("UPDATE changes succeeded")
	}
	if _, err := s.db.Exec("DELETE FROM changes"); err == nil {
		t.Error("DELETE FROM changes succeeded")
	}
}

func TestSQLiteStore_BackupTo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreateRoot(t, s, "/data")

	dest := filepath.Join(t.TempDir(), "copy.db")
	if err := s.BackupTo(ctx, dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	copied, err := NewSQLiteStore(dest)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer copied.Close()

	if err := copied.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() on copy error = %v", err)
	}
	roots, err := copied.ListRootPaths(ctx)
	if err != nil {
		t.Fatalf("ListRootPaths() error = %v", err)
	}
	if len(roots) != 1 || roots[0].Path != "/data" {
		t.Errorf("ListRootPaths() on copy = %+v", roots)
	}

	if err := s.BackupTo(ctx, dest); err == nil {
		t.Error("BackupTo() over an existing file succeeded")
	}
}
