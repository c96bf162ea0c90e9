package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dircheck/internal/audit"
)

const scanColumns = `
SELECT s.id, s.root_path_id, s.time_of_scan, s.is_deep, s.is_complete,
       s.file_count, s.folder_count, l.scan_id IS NOT NULL
FROM scans s
LEFT JOIN scan_leases l ON l.scan_id = s.id`

const itemColumns = `
SELECT id, root_path_id, path, item_type, last_seen_scan_id, is_tombstone,
       last_modified, file_size, file_hash
FROM items`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanScan(row rowScanner) (*audit.Scan, error) {
	var (
		scan       audit.Scan
		timeOfScan int64
	)
	err := row.Scan(&scan.ID, &scan.RootPathID, &timeOfScan, &scan.IsDeep, &scan.IsComplete,
		&scan.FileCount, &scan.FolderCount, &scan.Leased)
	if err != nil {
		return nil, err
	}
	scan.TimeOfScan = time.Unix(timeOfScan, 0)
	return &scan, nil
}

func scanItem(row rowScanner) (*audit.Item, error) {
	var (
		item         audit.Item
		kind         string
		lastModified int64
	)
	err := row.Scan(&item.ID, &item.RootPathID, &item.Path, &kind, &item.LastSeenScanID, &item.IsTombstone,
		&lastModified, &item.FileSize, &item.FileHash)
	if err != nil {
		return nil, err
	}
	item.Kind = audit.ItemKind(kind)
	item.LastModified = time.Unix(0, lastModified)
	return &item, nil
}

func (s *SQLiteStore) GetScan(ctx context.Context, id int64) (*audit.Scan, error) {
	scan, err := scanScan(s.db.QueryRowContext(ctx, scanColumns+" WHERE s.id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &audit.NotFoundError{Entity: "scan", ID: id}
		}
		return nil, storeErr("get scan", id, err)
	}
	return scan, nil
}

func (s *SQLiteStore) ListScans(ctx context.Context, rootPathID int64, limit int) ([]*audit.Scan, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		scanColumns+" WHERE (? = 0 OR s.root_path_id = ?) ORDER BY s.id DESC LIMIT ?",
		rootPathID, rootPathID, limit)
	if err != nil {
		return nil, storeErr("list scans", 0, err)
	}
	defer rows.Close()

	var scans []*audit.Scan
	for rows.Next() {
		scan, err := scanScan(rows)
		if err != nil {
			return nil, storeErr("list scans", 0, err)
		}
		scans = append(scans, scan)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list scans", 0, err)
	}
	return scans, nil
}

func (s *SQLiteStore) LatestCompleteScan(ctx context.Context, rootPathID int64) (*audit.Scan, error) {
	scan, err := scanScan(s.db.QueryRowContext(ctx,
		scanColumns+" WHERE s.root_path_id = ? AND s.is_complete = 1 ORDER BY s.id DESC LIMIT 1",
		rootPathID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("latest complete scan", 0, err)
	}
	return scan, nil
}

func (s *SQLiteStore) GetItem(ctx context.Context, id int64) (*audit.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, itemColumns+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &audit.NotFoundError{Entity: "item", ID: id}
		}
		return nil, storeErr("get item", 0, err)
	}
	return item, nil
}

func (s *SQLiteStore) ItemHistory(ctx context.Context, itemID int64) ([]*audit.ItemChange, error) {
	const op = "item history"

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.scan_id, c.item_id, c.change_type, c.metadata_changed, c.hash_changed,
		       s.time_of_scan, s.is_deep
		FROM changes c
		JOIN scans s ON s.id = c.scan_id
		WHERE c.item_id = ?
		ORDER BY c.scan_id`, itemID)
	if err != nil {
		return nil, storeErr(op, 0, err)
	}
	defer rows.Close()

	var history []*audit.ItemChange
	for rows.Next() {
		var (
			entry      audit.ItemChange
			kind       string
			timeOfScan int64
		)
		if err := rows.Scan(&entry.ScanID, &entry.ItemID, &kind, &entry.MetadataChanged, &entry.HashChanged,
			&timeOfScan, &entry.IsDeep); err != nil {
			return nil, storeErr(op, 0, err)
		}
		entry.Kind = audit.ChangeKind(kind)
		entry.TimeOfScan = time.Unix(timeOfScan, 0)
		history = append(history, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, 0, err)
	}
	return history, nil
}

func (s *SQLiteStore) AggregateChangeCounts(ctx context.Context, scanID int64) (audit.ChangeCounts, error) {
	const op = "aggregate change counts"

	var counts audit.ChangeCounts
	rows, err := s.db.QueryContext(ctx,
		"SELECT change_type, COUNT(*) FROM changes WHERE scan_id = ? GROUP BY change_type", scanID)
	if err != nil {
		return counts, storeErr(op, scanID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind string
			n    int64
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return counts, storeErr(op, scanID, err)
		}
		switch audit.ChangeKind(kind) {
		case audit.ChangeAdd:
			counts.Adds = n
		case audit.ChangeModify:
			counts.Modifies = n
		case audit.ChangeDelete:
			counts.Deletes = n
		case audit.ChangeTypeChange:
			counts.TypeChanges = n
		}
	}
	if err := rows.Err(); err != nil {
		return counts, storeErr(op, scanID, err)
	}
	return counts, nil
}

// ForEachChange holds a connection while fn runs; fn must not use a store
// opened on :memory:, which has only one.
func (s *SQLiteStore) ForEachChange(ctx context.Context, scanID int64, fn func(*audit.ChangeRecord) error) error {
	const op = "for each change"

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.scan_id, c.item_id, c.change_type, c.metadata_changed, c.hash_changed,
		       i.item_type, i.path
		FROM changes c
		JOIN items i ON i.id = c.item_id
		WHERE c.scan_id = ?
		ORDER BY i.path`, scanID)
	if err != nil {
		return storeErr(op, scanID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec        audit.ChangeRecord
			changeKind string
			itemKind   string
		)
		if err := rows.Scan(&rec.ScanID, &rec.ItemID, &changeKind, &rec.MetadataChanged, &rec.HashChanged,
			&itemKind, &rec.Path); err != nil {
			return storeErr(op, scanID, err)
		}
		rec.Kind = audit.ChangeKind(changeKind)
		rec.ItemKind = audit.ItemKind(itemKind)
		if err := fn(&rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return storeErr(op, scanID, err)
	}
	return nil
}

func (s *SQLiteStore) ForEachLiveItem(ctx context.Context, scanID int64, fn func(*audit.Item) error) error {
	const op = "for each live item"

	rows, err := s.db.QueryContext(ctx,
		itemColumns+" WHERE last_seen_scan_id = ? AND is_tombstone = 0 ORDER BY path", scanID)
	if err != nil {
		return storeErr(op, scanID, err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return storeErr(op, scanID, err)
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return storeErr(op, scanID, err)
	}
	return nil
}
