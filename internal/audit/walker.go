package audit

import "context"

// Walker produces an ordered stream of entries below a root directory.
type Walker interface {
	// Walk starts a fresh walk of root. Returns *NotFoundError when root is
	// missing or not a directory.
	Walk(ctx context.Context, root string) (EntryIterator, error)
}

// EntryIterator yields entries in ascending byte order of their relative path.
// Next returns nil, nil when the walk is done. A *WalkEntryError means one
// entry was skipped and iteration may continue; any other error is fatal.
type EntryIterator interface {
	Next() (*Entry, error)
	Close() error
}

// Hasher computes content digests. Implementations must be safe for
// concurrent use. A *HashError means the digest could not be trusted.
type Hasher interface {
	Hash(ctx context.Context, root string, e *Entry) (string, error)
}
