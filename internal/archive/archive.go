// Package archive stores exported audit databases off-host.
//
// Objects are addressed by slash-separated keys of the form
// "<host_id>/<timestamp>.db[.ext]". Backends stream data through
// io.Reader/io.Writer so databases are never held in memory by callers.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("archive object not found")

// Archive is an off-host destination for database snapshots.
type Archive interface {
	Name() string

	// Put stores size bytes read from r under key, replacing any existing
	// object. A partially written object is never visible.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get writes the object stored under key to w.
	Get(ctx context.Context, key string, w io.Writer) error

	// List returns objects whose keys start with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Object, error)

	// ValidateSetup verifies that the archive is reachable and writable.
	ValidateSetup(ctx context.Context) error
}

// Object describes one stored snapshot.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// SnapshotKey builds the key for a database exported at t.
func SnapshotKey(hostID string, t time.Time, ext string) string {
	return hostID + "/" + t.UTC().Format("20060102T150405Z") + ".db" + ext
}

// ValidateKey rejects keys that could escape the archive root.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty archive key")
	}
	if strings.HasPrefix(key, "/") || path.Clean(key) != key {
		return fmt.Errorf("invalid archive key: %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("invalid archive key: %q", key)
		}
	}
	return nil
}

func sortObjects(objs []Object) {
	sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })
}
