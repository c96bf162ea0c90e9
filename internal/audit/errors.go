package audit

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates the failure classes the engine distinguishes.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindWalkEntry
	KindHash
	KindStore
	KindConcurrencyConflict
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindWalkEntry:
		return "walk entry"
	case KindHash:
		return "hash"
	case KindStore:
		return "store"
	case KindConcurrencyConflict:
		return "concurrency conflict"
	case KindNotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// WalkEntryError reports a single entry the walker had to skip.
// It is recoverable: the walk continues with the next entry.
type WalkEntryError struct {
	Path string
	Err  error
}

func (e *WalkEntryError) Error() string {
	return fmt.Sprintf("walking %q: %v", e.Path, e.Err)
}

func (e *WalkEntryError) Unwrap() error { return e.Err }

// HashError reports a file whose digest could not be trusted.
type HashError struct {
	Path string
	Err  error
}

func (e *HashError) Error() string {
	return fmt.Sprintf("hashing %q: %v", e.Path, e.Err)
}

func (e *HashError) Unwrap() error { return e.Err }

// StoreError wraps a failed snapshot store operation. ScanID is zero when
// the operation was not tied to a scan.
type StoreError struct {
	Op     string
	ScanID int64
	Err    error
}

func (e *StoreError) Error() string {
	if e.ScanID != 0 {
		return fmt.Sprintf("store: %s (scan %d): %v", e.Op, e.ScanID, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ConcurrencyConflictError is returned when another scan holds the root's lease.
type ConcurrencyConflictError struct {
	RootPathID int64
	ScanID     int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("root path %d is already being scanned (scan %d)", e.RootPathID, e.ScanID)
}

// NotFoundError is returned when a root, scan or item does not exist.
// Either ID or Path identifies the missing entity.
type NotFoundError struct {
	Entity string
	ID     int64
	Path   string
}

func (e *NotFoundError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s not found: %s", e.Entity, e.Path)
	}
	return fmt.Sprintf("%s not found: %d", e.Entity, e.ID)
}

// KindOf classifies err by the first taxonomy error found in its chain.
func KindOf(err error) ErrorKind {
	var (
		walkErr     *WalkEntryError
		hashErr     *HashError
		storeErr    *StoreError
		conflictErr *ConcurrencyConflictError
		notFoundErr *NotFoundError
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &conflictErr):
		return KindConcurrencyConflict
	case errors.As(err, &notFoundErr):
		return KindNotFound
	case errors.As(err, &storeErr):
		return KindStore
	case errors.As(err, &hashErr):
		return KindHash
	case errors.As(err, &walkErr):
		return KindWalkEntry
	default:
		return KindUnknown
	}
}

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
