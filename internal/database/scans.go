package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dircheck/internal/audit"
)

const upsertItemSQL = `
INSERT INTO items (root_path_id, path, item_type, last_seen_scan_id, is_tombstone, last_modified, file_size, file_hash)
VALUES (?, ?, ?, ?, 0, ?, ?, ?)
ON CONFLICT (root_path_id, path) DO UPDATE SET
    item_type = excluded.item_type,
    last_seen_scan_id = excluded.last_seen_scan_id,
    is_tombstone = 0,
    last_modified = excluded.last_modified,
    file_size = excluded.file_size,
    file_hash = excluded.file_hash
WHERE items.is_tombstone = 1
RETURNING id`

const updateItemSQL = `
UPDATE items SET
    item_type = ?,
    last_seen_scan_id = ?,
    is_tombstone = ?,
    last_modified = ?,
    file_size = ?,
    file_hash = ?
WHERE id = ?`

const insertChangeSQL = `
INSERT INTO changes (scan_id, item_id, change_type, metadata_changed, hash_changed)
VALUES (?, ?, ?, ?, ?)`

func (s *SQLiteStore) BeginScan(ctx context.Context, rootPathID int64, deep bool, at time.Time, owner string, staleAfter time.Duration) (*audit.Scan, error) {
	const op = "begin scan"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr(op, 0, err)
	}
	defer tx.Rollback()

	var heldBy, acquiredAt int64
	err = tx.QueryRowContext(ctx, "SELECT scan_id, acquired_at FROM scan_leases WHERE root_path_id = ?", rootPathID).
		Scan(&heldBy, &acquiredAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, storeErr(op, 0, err)
	case staleAfter > 0 && at.Sub(time.Unix(acquiredAt, 0)) > staleAfter:
		if _, err := tx.ExecContext(ctx, "DELETE FROM scan_leases WHERE root_path_id = ?", rootPathID); err != nil {
			return nil, storeErr(op, 0, fmt.Errorf("expiring lease of scan %d: %w", heldBy, err))
		}
	default:
		return nil, &audit.ConcurrencyConflictError{RootPathID: rootPathID, ScanID: heldBy}
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO scans (root_path_id, time_of_scan, is_deep, is_complete) VALUES (?, ?, ?, 0)",
		rootPathID, at.Unix(), deep)
	if err != nil {
		return nil, storeErr(op, 0, err)
	}
	scanID, err := res.LastInsertId()
	if err != nil {
		return nil, storeErr(op, 0, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO scan_leases (root_path_id, scan_id, owner, acquired_at) VALUES (?, ?, ?, ?)",
		rootPathID, scanID, owner, at.Unix()); err != nil {
		return nil, storeErr(op, scanID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr(op, scanID, err)
	}

	return &audit.Scan{
		ID:         scanID,
		RootPathID: rootPathID,
		TimeOfScan: time.Unix(at.Unix(), 0),
		IsDeep:     deep,
		Leased:     true,
	}, nil
}

func (s *SQLiteStore) ApplyBatch(ctx context.Context, scanID int64, heartbeat time.Time, muts []*audit.Mutation) error {
	const op = "apply batch"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(op, scanID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE scan_leases SET acquired_at = ? WHERE scan_id = ?", heartbeat.Unix(), scanID)
	if err != nil {
		return storeErr(op, scanID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return storeErr(op, scanID, err)
	} else if n == 0 {
		conflict := &audit.ConcurrencyConflictError{ScanID: scanID}
		if len(muts) > 0 {
			conflict.RootPathID = muts[0].Item.RootPathID
		}
		return conflict
	}

	upsert, err := tx.PrepareContext(ctx, upsertItemSQL)
	if err != nil {
		return storeErr(op, scanID, err)
	}
	defer upsert.Close()

	update, err := tx.PrepareContext(ctx, updateItemSQL)
	if err != nil {
		return storeErr(op, scanID, err)
	}
	defer update.Close()

	insertChange, err := tx.PrepareContext(ctx, insertChangeSQL)
	if err != nil {
		return storeErr(op, scanID, err)
	}
	defer insertChange.Close()

	for _, m := range muts {
		item := &m.Item
		if item.ID == 0 {
			err := upsert.QueryRowContext(ctx,
				item.RootPathID, item.Path, string(item.Kind), item.LastSeenScanID,
				item.LastModified.UnixNano(), item.FileSize, item.FileHash,
			).Scan(&item.ID)
			if errors.Is(err, sql.ErrNoRows) {
				return storeErr(op, scanID, fmt.Errorf("live item already exists at %q", item.Path))
			}
			if err != nil {
				return storeErr(op, scanID, fmt.Errorf("inserting item %q: %w", item.Path, err))
			}
		} else {
			_, err := update.ExecContext(ctx,
				string(item.Kind), item.LastSeenScanID, item.IsTombstone,
				item.LastModified.UnixNano(), item.FileSize, item.FileHash, item.ID,
			)
			if err != nil {
				return storeErr(op, scanID, fmt.Errorf("updating item %q: %w", item.Path, err))
			}
		}

		m.Change.ItemID = item.ID
		if m.Change.Kind == audit.ChangeNone {
			continue
		}
		if _, err := insertChange.ExecContext(ctx,
			scanID, item.ID, string(m.Change.Kind), m.Change.MetadataChanged, m.Change.HashChanged,
		); err != nil {
			return storeErr(op, scanID, fmt.Errorf("recording change for %q: %w", item.Path, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr(op, scanID, err)
	}
	return nil
}

func (s *SQLiteStore) CompleteScan(ctx context.Context, scanID int64) (*audit.Scan, error) {
	const op = "complete scan"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr(op, scanID, err)
	}
	defer tx.Rollback()

	var (
		rootPathID int64
		leased     bool
	)
	err = tx.QueryRowContext(ctx, `
		SELECT s.root_path_id, l.scan_id IS NOT NULL
		FROM scans s
		LEFT JOIN scan_leases l ON l.scan_id = s.id
		WHERE s.id = ?`, scanID).Scan(&rootPathID, &leased)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &audit.NotFoundError{Entity: "scan", ID: scanID}
	}
	if err != nil {
		return nil, storeErr(op, scanID, err)
	}
	if !leased {
		return nil, &audit.ConcurrencyConflictError{RootPathID: rootPathID, ScanID: scanID}
	}

	var files, folders int64
	err = tx.QueryRowContext(ctx, `
		SELECT
		    COALESCE(SUM(item_type = 'F'), 0),
		    COALESCE(SUM(item_type = 'D'), 0)
		FROM items
		WHERE root_path_id = ? AND is_tombstone = 0`, rootPathID).Scan(&files, &folders)
	if err != nil {
		return nil, storeErr(op, scanID, fmt.Errorf("counting live items: %w", err))
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE scans SET is_complete = 1, file_count = ?, folder_count = ? WHERE id = ?",
		files, folders, scanID); err != nil {
		return nil, storeErr(op, scanID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM scan_leases WHERE scan_id = ?", scanID); err != nil {
		return nil, storeErr(op, scanID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr(op, scanID, err)
	}
	return s.GetScan(ctx, scanID)
}

func (s *SQLiteStore) AbandonScan(ctx context.Context, scanID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM scan_leases WHERE scan_id = ?", scanID); err != nil {
		return storeErr("abandon scan", scanID, err)
	}
	return nil
}

func (s *SQLiteStore) BreakLease(ctx context.Context, rootPathID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM scan_leases WHERE root_path_id = ?", rootPathID)
	if err != nil {
		return false, storeErr("break lease", 0, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("break lease", 0, err)
	}
	return n > 0, nil
}
