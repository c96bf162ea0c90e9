package migrations

import (
	"database/sql"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := Up(db); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	tables := []string{"root_paths", "scans", "items", "changes", "scan_leases", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s was not created: %v", table, err)
		}
	}
}

func TestUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := Up(db); err != nil {
		t.Fatalf("first Up() error = %v", err)
	}
	if err := Up(db); err != nil {
		t.Fatalf("second Up() error = %v", err)
	}
	if err := CheckStatus(db); err != nil {
		t.Errorf("CheckStatus() after double migration error = %v", err)
	}
}

func TestCheckStatus(t *testing.T) {
	t.Run("fresh database needs migration", func(t *testing.T) {
		db := openTestDB(t)

		err := CheckStatus(db)
		if err == nil {
			t.Fatal("CheckStatus() error = nil, want error for fresh database")
		}
		if err.Error() != "database has no schema version (needs migration)" {
			t.Errorf("CheckStatus() error = %q, want error about needing migration", err.Error())
		}
	})

	t.Run("current after migration", func(t *testing.T) {
		db := openTestDB(t)
		if err := Up(db); err != nil {
			t.Fatalf("Up() error = %v", err)
		}

		if err := CheckStatus(db); err != nil {
			t.Errorf("CheckStatus() error = %v", err)
		}

		status, err := ReadStatus(db)
		if err != nil {
			t.Fatalf("ReadStatus() error = %v", err)
		}
		if !status.Current() {
			t.Errorf("ReadStatus() = %+v, want current", status)
		}
		if status.Latest != 1 {
			t.Errorf("Latest = %d, want 1", status.Latest)
		}
	})
}

func TestSchema_Constraints(t *testing.T) {
	db := openTestDB(t)
	if err := Up(db); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	mustExec := func(query string, args ...any) {
		t.Helper()
		if _, err := db.Exec(query, args...); err != nil {
			t.Fatalf("Exec(%q) error = %v", query, err)
		}
	}

	mustExec("INSERT INTO root_paths (id, path) VALUES (1, '/data')")
	mustExec("INSERT INTO scans (id, root_path_id, time_of_scan) VALUES (1, 1, 0)")
	mustExec(`INSERT INTO items (id, root_path_id, path, item_type, last_seen_scan_id, last_modified)
		VALUES (1, 1, 'a.txt', 'F', 1, 0)`)
	mustExec("INSERT INTO changes (scan_id, item_id, change_type) VALUES (1, 1, 'A')")

	t.Run("root path is unique", func(t *testing.T) {
		if _, err := db.Exec("INSERT INTO root_paths (path) VALUES ('/data')"); err == nil {
			t.Error("duplicate root path insert succeeded, want constraint violation")
		}
	})

	t.Run("item path is unique per root", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO items (root_path_id, path, item_type, last_seen_scan_id, last_modified)
			VALUES (1, 'a.txt', 'D', 1, 0)`)
		if err == nil {
			t.Error("duplicate item insert succeeded, want constraint violation")
		}
	})

	t.Run("item type is checked", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO items (root_path_id, path, item_type, last_seen_scan_id, last_modified)
			VALUES (1, 'link', 'L', 1, 0)`)
		if err == nil {
			t.Error("item with type L inserted, want check violation")
		}
	})

	t.Run("incomplete scan has no counts", func(t *testing.T) {
		if _, err := db.Exec("UPDATE scans SET file_count = 1 WHERE id = 1"); err == nil {
			t.Error("count set on incomplete scan, want check violation")
		}
	})

	t.Run("changes are append-only", func(t *testing.T) {
		if _, err := db.Exec("UPDATE changes SET change_type = 'M'"); err == nil {
			t.Error("change updated, want trigger abort")
		}
		if _, err := db.Exec("DELETE FROM changes"); err == nil {
			t.Error("change deleted, want trigger abort")
		}
	})

	t.Run("complete scan is immutable", func(t *testing.T) {
		mustExec("UPDATE scans SET is_complete = 1, file_count = 1, folder_count = 0 WHERE id = 1")
		if _, err := db.Exec("UPDATE scans SET file_count = 5 WHERE id = 1"); err == nil {
			t.Error("complete scan updated, want trigger abort")
		}
	})

	t.Run("foreign keys are enforced", func(t *testing.T) {
		if _, err := db.Exec("INSERT INTO scans (root_path_id, time_of_scan) VALUES (99, 0)"); err == nil {
			t.Error("scan for unknown root inserted, want foreign key violation")
		}
	})
}

func TestSchema(t *testing.T) {
	db := openTestDB(t)
	if err := Up(db); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	schema, err := Schema(db)
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}

	for _, want := range []string{"CREATE TABLE items", "CREATE TABLE scan_leases", "CREATE TRIGGER changes_no_update"} {
		if !strings.Contains(schema, want) {
			t.Errorf("Schema() missing %q", want)
		}
	}
	if strings.Contains(schema, "schema_migrations") {
		t.Error("Schema() includes schema_migrations")
	}
}

// openTestDB opens a single-connection in-memory database with foreign keys on.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
