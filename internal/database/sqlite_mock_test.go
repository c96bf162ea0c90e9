package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dircheck/internal/audit"
)

func setupMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to open mock sql db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStoreFromDB(db), mock
}

const selectLeaseSQL = "SELECT scan_id, acquired_at FROM scan_leases WHERE root_path_id = ?"

func TestBeginScan_LiveLeaseRejectsWithoutWriting(t *testing.T) {
	store, mock := setupMockStore(t)
	at := time.Unix(1_700_000_000, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectLeaseSQL)).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"scan_id", "acquired_at"}).AddRow(7, at.Unix()-60))
	mock.ExpectRollback()

	_, err := store.BeginScan(context.Background(), 1, false, at, "owner", time.Hour)

	var conflict *audit.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(7), conflict.ScanID)
	assert.Equal(t, int64(1), conflict.RootPathID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginScan_InsertFailureIsStoreError(t *testing.T) {
	store, mock := setupMockStore(t)
	at := time.Unix(1_700_000_000, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectLeaseSQL)).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"scan_id", "acquired_at"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scans (root_path_id, time_of_scan, is_deep, is_complete) VALUES (?, ?, ?, 0)")).
		WithArgs(1, at.Unix(), true).
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	scan, err := store.BeginScan(context.Background(), 1, true, at, "owner", time.Hour)

	assert.Nil(t, scan)
	var storeErr *audit.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "begin scan", storeErr.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyBatch_LostLease(t *testing.T) {
	store, mock := setupMockStore(t)
	heartbeat := time.Unix(1_700_000_000, 0)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE scan_leases SET acquired_at = ? WHERE scan_id = ?")).
		WithArgs(heartbeat.Unix(), 5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.ApplyBatch(context.Background(), 5, heartbeat, []*audit.Mutation{
		{Item: audit.Item{RootPathID: 2, Path: "a", Kind: audit.ItemFile}},
	})

	var conflict *audit.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(5), conflict.ScanID)
	assert.Equal(t, int64(2), conflict.RootPathID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyBatch_CommitFailureIsStoreError(t *testing.T) {
	store, mock := setupMockStore(t)
	heartbeat := time.Unix(1_700_000_000, 0)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE scan_leases SET acquired_at = ? WHERE scan_id = ?")).
		WithArgs(heartbeat.Unix(), 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectPrepare("INSERT INTO items")
	mock.ExpectPrepare("UPDATE items SET")
	mock.ExpectPrepare("INSERT INTO changes")
	mock.ExpectCommit().WillReturnError(errors.New("disk I/O error"))

	err := store.ApplyBatch(context.Background(), 5, heartbeat, nil)

	assert.Equal(t, audit.KindStore, audit.KindOf(err))
	assert.ErrorContains(t, err, "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRootPaths_QueryFailure(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, path FROM root_paths ORDER BY id")).
		WillReturnError(errors.New("no such table: root_paths"))

	roots, err := store.ListRootPaths(context.Background())

	assert.Nil(t, roots)
	var storeErr *audit.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "list root paths", storeErr.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}
