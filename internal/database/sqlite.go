package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dircheck/internal/audit"
	"dircheck/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	busyTimeout  = 5 * time.Second
	maxOpenConns = 5
	maxIdleConns = 2
	// pageSize is the number of rows fetched per live item cursor query.
	pageSize = 500
)

// SQLiteStore implements audit.Store on SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ audit.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at path. path can be a file path or
// ":memory:" for an in-memory database. The schema is not migrated.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing connection pool.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenConnection opens a SQLite pool with foreign keys, WAL journaling and a
// busy timeout set on every connection. Transactions start with BEGIN
// IMMEDIATE so concurrent writers queue on the busy timeout instead of
// failing on lock upgrade.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_txlock=immediate",
		path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxIdleConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Root path operations

func (s *SQLiteStore) CreateRootPath(ctx context.Context, path string) (*audit.RootPath, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO root_paths (path) VALUES (?)", path)
	if err != nil {
		return nil, storeErr("create root path", 0, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storeErr("create root path", 0, err)
	}
	return &audit.RootPath{ID: id, Path: path}, nil
}

func (s *SQLiteStore) FindRootPathByPath(ctx context.Context, path string) (*audit.RootPath, error) {
	var root audit.RootPath
	err := s.db.QueryRowContext(ctx, "SELECT id, path FROM root_paths WHERE path = ?", path).
		Scan(&root.ID, &root.Path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("find root path", 0, err)
	}
	return &root, nil
}

func (s *SQLiteStore) GetRootPath(ctx context.Context, id int64) (*audit.RootPath, error) {
	var root audit.RootPath
	err := s.db.QueryRowContext(ctx, "SELECT id, path FROM root_paths WHERE id = ?", id).
		Scan(&root.ID, &root.Path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &audit.NotFoundError{Entity: "root path", ID: id}
		}
		return nil, storeErr("get root path", 0, err)
	}
	return &root, nil
}

func (s *SQLiteStore) ListRootPaths(ctx context.Context) ([]*audit.RootPath, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, path FROM root_paths ORDER BY id")
	if err != nil {
		return nil, storeErr("list root paths", 0, err)
	}
	defer rows.Close()

	var roots []*audit.RootPath
	for rows.Next() {
		var root audit.RootPath
		if err := rows.Scan(&root.ID, &root.Path); err != nil {
			return nil, storeErr("list root paths", 0, err)
		}
		roots = append(roots, &root)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list root paths", 0, err)
	}
	return roots, nil
}

// Maintenance

// Path returns the database file path this store was opened with.
func (s *SQLiteStore) Path() string {
	return s.path
}

// MigrateUp applies pending schema migrations.
func (s *SQLiteStore) MigrateUp() error {
	return migrations.Up(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// Schema returns the CREATE statements of the current schema.
func (s *SQLiteStore) Schema() (string, error) {
	return migrations.Schema(s.db)
}

// BackupTo writes a consistent copy of the database to destPath using
// VACUUM INTO. destPath must not exist.
func (s *SQLiteStore) BackupTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database to %s: %w", destPath, err)
	}
	return nil
}

// Close closes the database connection pool.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func storeErr(op string, scanID int64, err error) error {
	return &audit.StoreError{Op: op, ScanID: scanID, Err: err}
}
