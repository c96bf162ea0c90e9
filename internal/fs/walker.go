package fs

import (
	"container/heap"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"dircheck/internal/audit"
)

// OSWalker walks real directory trees. Symlinks, devices, pipes and sockets
// are skipped: they are neither followed nor recorded.
type OSWalker struct {
	ignore []string
	logger audit.Logger
}

var _ audit.Walker = (*OSWalker)(nil)

// NewOSWalker creates a walker applying the given ignore patterns in
// addition to each root's ignore file.
func NewOSWalker(ignorePatterns []string, logger audit.Logger) *OSWalker {
	return &OSWalker{ignore: ignorePatterns, logger: logger}
}

func (w *OSWalker) Walk(ctx context.Context, root string) (audit.EntryIterator, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, &audit.NotFoundError{Entity: "root directory", Path: root}
	}

	fileLines, err := LoadIgnoreFile(root)
	if err != nil {
		return nil, err
	}
	lines := append(append([]string{}, w.ignore...), fileLines...)

	it := &osIterator{
		ctx:    ctx,
		root:   root,
		ignore: NewIgnoreMatcher(lines),
		logger: w.logger,
	}
	if err := it.expand(""); err != nil {
		return nil, fmt.Errorf("reading root directory %s: %w", root, err)
	}
	return it, nil
}

// osIterator yields entries in global byte order of their relative path.
// The frontier is a min-heap of discovered but unvisited paths: every path
// pushed after x is popped is a descendant of something not yet popped, so
// it sorts after x, and a single heap yields the whole tree in order.
type osIterator struct {
	ctx      context.Context
	root     string
	ignore   *IgnoreMatcher
	logger   audit.Logger
	frontier pathHeap
	// deferred is a directory read error, reported right after the directory.
	deferred error
}

func (it *osIterator) Next() (*audit.Entry, error) {
	if it.deferred != nil {
		err := it.deferred
		it.deferred = nil
		return nil, err
	}

	for it.frontier.Len() > 0 {
		if err := it.ctx.Err(); err != nil {
			return nil, err
		}

		rel := heap.Pop(&it.frontier).(string)
		info, err := os.Lstat(it.abs(rel))
		if err != nil {
			if !it.rootExists() {
				return nil, &audit.NotFoundError{Entity: "root directory", Path: it.root}
			}
			return nil, &audit.WalkEntryError{Path: rel, Err: err}
		}

		mode := info.Mode()
		switch {
		case mode.IsRegular():
			return &audit.Entry{
				Path:    rel,
				Kind:    audit.ItemFile,
				ModTime: info.ModTime(),
				Size:    info.Size(),
			}, nil
		case mode.IsDir():
			if err := it.expand(rel); err != nil {
				it.deferred = &audit.WalkEntryError{Path: rel, Err: err}
			}
			return &audit.Entry{
				Path:    rel,
				Kind:    audit.ItemDirectory,
				ModTime: info.ModTime(),
			}, nil
		default:
			it.logger.Debug("skipping special file", "root", it.root, "path", rel, "mode", mode.String())
		}
	}
	return nil, nil
}

// expand pushes the non-ignored children of rel onto the frontier. Entries
// read before a failure are still pushed.
func (it *osIterator) expand(rel string) error {
	entries, err := os.ReadDir(it.abs(rel))
	for _, e := range entries {
		child := e.Name()
		if rel != "" {
			child = rel + "/" + child
		}
		if it.ignore.Match(child, e.IsDir()) {
			it.logger.Debug("ignoring", "root", it.root, "path", child)
			continue
		}
		heap.Push(&it.frontier, child)
	}
	return err
}

func (it *osIterator) abs(rel string) string {
	if rel == "" {
		return it.root
	}
	return filepath.Join(it.root, filepath.FromSlash(rel))
}

func (it *osIterator) rootExists() bool {
	info, err := os.Stat(it.root)
	return err == nil && info.IsDir()
}

func (it *osIterator) Close() error {
	it.frontier = nil
	it.deferred = nil
	return nil
}

// pathHeap is a min-heap of relative paths.
type pathHeap []string

func (h pathHeap) Len() int           { return len(h) }
func (h pathHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h pathHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *pathHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *pathHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
