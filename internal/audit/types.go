package audit

import (
	"database/sql"
	"time"
)

// ItemKind is the persisted kind of a filesystem entry.
type ItemKind string

const (
	ItemFile      ItemKind = "F"
	ItemDirectory ItemKind = "D"
)

func (k ItemKind) IsDir() bool { return k == ItemDirectory }

// ChangeKind is the persisted kind of a Change row. ChangeNone is the
// in-memory NoChange outcome and is never written.
type ChangeKind string

const (
	ChangeNone       ChangeKind = "N"
	ChangeAdd        ChangeKind = "A"
	ChangeModify     ChangeKind = "M"
	ChangeDelete     ChangeKind = "D"
	ChangeTypeChange ChangeKind = "T"
)

// RootPath is a registered top-level directory under audit.
type RootPath struct {
	ID   int64
	Path string
}

// ScanStatus is derived from a scan's completion flag and lease.
type ScanStatus string

const (
	ScanStatusComplete   ScanStatus = "complete"
	ScanStatusInProgress ScanStatus = "in progress"
	ScanStatusFailed     ScanStatus = "failed"
)

// Scan is one reconciliation run against a RootPath.
type Scan struct {
	ID          int64
	RootPathID  int64
	TimeOfScan  time.Time
	IsDeep      bool
	IsComplete  bool
	FileCount   sql.NullInt64
	FolderCount sql.NullInt64

	// Leased is true while a scan_leases row names this scan.
	Leased bool
}

// Status reports whether the scan finished, is still running or was abandoned.
// An incomplete scan with no lease can never complete.
func (s *Scan) Status() ScanStatus {
	switch {
	case s.IsComplete:
		return ScanStatusComplete
	case s.Leased:
		return ScanStatusInProgress
	default:
		return ScanStatusFailed
	}
}

// Item is the durable record of one filesystem entry's last-known state.
type Item struct {
	ID             int64
	RootPathID     int64
	Path           string
	Kind           ItemKind
	LastModified   time.Time
	FileSize       sql.NullInt64
	FileHash       sql.NullString
	IsTombstone    bool
	LastSeenScanID int64
}

// Change is one classified delta produced by a scan for an item.
type Change struct {
	ScanID          int64
	ItemID          int64
	Kind            ChangeKind
	MetadataChanged sql.NullBool
	HashChanged     sql.NullBool
}

// ChangeRecord is a Change joined with the item it refers to.
type ChangeRecord struct {
	Change
	Path     string
	ItemKind ItemKind
}

// ItemChange is one entry of an item's history, newest scan last.
type ItemChange struct {
	Change
	TimeOfScan time.Time
	IsDeep     bool
}

// ChangeCounts aggregates change kinds for one scan. Unchanged is derived
// during reconciliation and is zero when counts are read back from the store.
type ChangeCounts struct {
	Adds        int64
	Modifies    int64
	Deletes     int64
	TypeChanges int64
	Unchanged   int64
}

// Total is the number of persisted changes.
func (c ChangeCounts) Total() int64 {
	return c.Adds + c.Modifies + c.Deletes + c.TypeChanges
}

func (c *ChangeCounts) add(kind ChangeKind) {
	switch kind {
	case ChangeAdd:
		c.Adds++
	case ChangeModify:
		c.Modifies++
	case ChangeDelete:
		c.Deletes++
	case ChangeTypeChange:
		c.TypeChanges++
	case ChangeNone:
		c.Unchanged++
	}
}

// Entry is one observation produced by a Walker. Path is slash separated and
// relative to the root. Size is only meaningful for files.
type Entry struct {
	Path    string
	Kind    ItemKind
	ModTime time.Time
	Size    int64
}
