package audit

import (
	"context"
	"time"
)

// Mutation is one reconciled path ready to be written by ApplyBatch.
// An Item with ID zero is inserted, or revives the tombstoned row with the
// same root and path. Change.Kind ChangeNone writes no change row; the store
// fills Change.ItemID.
type Mutation struct {
	Item   Item
	Change Change
}

// ItemCursor iterates live items of a root in ascending path order.
// Next returns nil, nil once the cursor is exhausted.
type ItemCursor interface {
	Next(ctx context.Context) (*Item, error)
	Close() error
}

// Store is the persisted snapshot model: roots, scans, items and changes.
// Lookups named Find* return nil, nil when nothing matches; Get* return a
// *NotFoundError. Every other failure is a *StoreError.
type Store interface {
	// Root paths

	CreateRootPath(ctx context.Context, path string) (*RootPath, error)
	FindRootPathByPath(ctx context.Context, path string) (*RootPath, error)
	GetRootPath(ctx context.Context, id int64) (*RootPath, error)
	ListRootPaths(ctx context.Context) ([]*RootPath, error)

	// Scan lifecycle

	// BeginScan takes the root's lease and inserts an incomplete scan row in
	// one transaction. A lease older than staleAfter is replaced; staleAfter
	// of zero never expires a lease. Returns *ConcurrencyConflictError when a
	// live lease exists.
	BeginScan(ctx context.Context, rootPathID int64, deep bool, at time.Time, owner string, staleAfter time.Duration) (*Scan, error)

	// OpenLiveItems returns a cursor over the root's non-tombstone items.
	OpenLiveItems(ctx context.Context, rootPathID int64) ItemCursor

	// ApplyBatch writes mutations and their change rows in one transaction
	// and refreshes the lease heartbeat. Returns *ConcurrencyConflictError
	// if the scan no longer holds the lease.
	ApplyBatch(ctx context.Context, scanID int64, heartbeat time.Time, muts []*Mutation) error

	// CompleteScan stores file/folder counts, marks the scan complete and
	// releases the lease.
	CompleteScan(ctx context.Context, scanID int64) (*Scan, error)

	// AbandonScan releases the lease, leaving the scan incomplete.
	AbandonScan(ctx context.Context, scanID int64) error

	// BreakLease removes a root's lease regardless of owner. Reports whether
	// a lease existed.
	BreakLease(ctx context.Context, rootPathID int64) (bool, error)

	// Queries

	GetScan(ctx context.Context, id int64) (*Scan, error)
	// ListScans returns the newest scans first. rootPathID zero lists all roots.
	ListScans(ctx context.Context, rootPathID int64, limit int) ([]*Scan, error)
	// LatestCompleteScan returns nil, nil when the root has no complete scan.
	LatestCompleteScan(ctx context.Context, rootPathID int64) (*Scan, error)
	GetItem(ctx context.Context, id int64) (*Item, error)
	ItemHistory(ctx context.Context, itemID int64) ([]*ItemChange, error)
	AggregateChangeCounts(ctx context.Context, scanID int64) (ChangeCounts, error)
	ForEachChange(ctx context.Context, scanID int64, fn func(*ChangeRecord) error) error
	ForEachLiveItem(ctx context.Context, scanID int64, fn func(*Item) error) error
}
