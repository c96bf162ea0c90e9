package database

import (
	"context"
	"database/sql"

	"dircheck/internal/audit"
)

// liveItemCursor pages through a root's live items by path. Each page is a
// fresh query keyed on the last path returned, so batches committed between
// pages never shift or repeat rows.
type liveItemCursor struct {
	db         *sql.DB
	rootPathID int64
	after      string
	buf        []*audit.Item
	done       bool
}

func (s *SQLiteStore) OpenLiveItems(ctx context.Context, rootPathID int64) audit.ItemCursor {
	return &liveItemCursor{db: s.db, rootPathID: rootPathID}
}

func (c *liveItemCursor) Next(ctx context.Context) (*audit.Item, error) {
	if len(c.buf) == 0 && !c.done {
		if err := c.fill(ctx); err != nil {
			return nil, err
		}
	}
	if len(c.buf) == 0 {
		return nil, nil
	}
	item := c.buf[0]
	c.buf = c.buf[1:]
	return item, nil
}

func (c *liveItemCursor) fill(ctx context.Context) error {
	const op = "read live items"

	rows, err := c.db.QueryContext(ctx,
		itemColumns+" WHERE root_path_id = ? AND is_tombstone = 0 AND path > ? ORDER BY path LIMIT ?",
		c.rootPathID, c.after, pageSize)
	if err != nil {
		return storeErr(op, 0, err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return storeErr(op, 0, err)
		}
		c.buf = append(c.buf, item)
	}
	if err := rows.Err(); err != nil {
		return storeErr(op, 0, err)
	}

	if len(c.buf) < pageSize {
		c.done = true
	}
	if len(c.buf) > 0 {
		c.after = c.buf[len(c.buf)-1].Path
	}
	return nil
}

func (c *liveItemCursor) Close() error {
	c.buf = nil
	c.done = true
	return nil
}
