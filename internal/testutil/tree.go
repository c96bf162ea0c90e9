package testutil

import (
	"context"
	"errors"
	"path"
	"sort"
	"sync"
	"time"

	"dircheck/internal/audit"
)

// MockNode is a file or directory in a MockTree.
type MockNode struct {
	Dir     bool
	Content []byte
	ModTime time.Time
}

// MockTree is an in-memory directory tree. It implements audit.Walker and
// audit.Hasher for every root path, so engine tests run without touching
// disk. Safe for concurrent use.
type MockTree struct {
	mu         sync.Mutex
	nodes      map[string]*MockNode
	walkErrs   map[string]error
	hashErrs   map[string]error
	hashed     []string
	missing    bool
	disorderly bool
}

var (
	_ audit.Walker = (*MockTree)(nil)
	_ audit.Hasher = (*MockTree)(nil)
)

// DefaultModTime is the modification time AddFile and AddDir assign.
var DefaultModTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func NewMockTree() *MockTree {
	return &MockTree{
		nodes:    make(map[string]*MockNode),
		walkErrs: make(map[string]error),
		hashErrs: make(map[string]error),
	}
}

// AddFile creates or replaces a file, creating missing parent directories.
func (m *MockTree) AddFile(rel string, content string) {
	m.AddFileAt(rel, content, DefaultModTime)
}

// AddFileAt is AddFile with an explicit modification time.
func (m *MockTree) AddFileAt(rel string, content string, mtime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addParents(rel)
	m.nodes[rel] = &MockNode{Content: []byte(content), ModTime: mtime}
}

// AddDir creates or replaces a directory, creating missing parents.
func (m *MockTree) AddDir(rel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addParents(rel)
	m.nodes[rel] = &MockNode{Dir: true, ModTime: DefaultModTime}
}

func (m *MockTree) addParents(rel string) {
	for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
		if n, ok := m.nodes[dir]; !ok || !n.Dir {
			m.nodes[dir] = &MockNode{Dir: true, ModTime: DefaultModTime}
		}
	}
}

// Touch changes a node's modification time without changing its content.
func (m *MockTree) Touch(rel string, mtime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[rel]; ok {
		n.ModTime = mtime
	}
}

// Remove deletes a node and everything below it.
func (m *MockTree) Remove(rel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := range m.nodes {
		if p == rel || (len(p) > len(rel) && p[:len(rel)+1] == rel+"/") {
			delete(m.nodes, p)
		}
	}
}

// FailWalk makes the walker report rel as a skipped entry instead of
// yielding it. Nil clears the failure.
func (m *MockTree) FailWalk(rel string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.walkErrs, rel)
		return
	}
	m.walkErrs[rel] = err
}

// FailHash makes hashing rel return a *audit.HashError. Nil clears it.
func (m *MockTree) FailHash(rel string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.hashErrs, rel)
		return
	}
	m.hashErrs[rel] = err
}

// SetMissing makes Walk report the root as not found.
func (m *MockTree) SetMissing(missing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missing = missing
}

// SetDisorderly makes Walk yield entries in descending order.
func (m *MockTree) SetDisorderly(disorderly bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disorderly = disorderly
}

// Hashed returns the paths hashed since the last call, sorted.
func (m *MockTree) Hashed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.hashed
	m.hashed = nil
	sort.Strings(out)
	return out
}

// Walk snapshots the tree and iterates it in path order.
func (m *MockTree) Walk(ctx context.Context, root string) (audit.EntryIterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.missing {
		return nil, &audit.NotFoundError{Entity: "root directory", Path: root}
	}

	paths := make([]string, 0, len(m.nodes))
	for p := range m.nodes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if m.disorderly {
		sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	}

	it := &mockIterator{ctx: ctx}
	for _, p := range paths {
		if err, ok := m.walkErrs[p]; ok {
			it.steps = append(it.steps, mockStep{err: &audit.WalkEntryError{Path: p, Err: err}})
			continue
		}
		n := m.nodes[p]
		e := &audit.Entry{Path: p, Kind: audit.ItemFile, ModTime: n.ModTime, Size: int64(len(n.Content))}
		if n.Dir {
			e.Kind = audit.ItemDirectory
			e.Size = 0
		}
		it.steps = append(it.steps, mockStep{entry: e})
	}
	return it, nil
}

// Hash returns the SHA-256 of the node's current content.
func (m *MockTree) Hash(ctx context.Context, root string, e *audit.Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashed = append(m.hashed, e.Path)

	if err, ok := m.hashErrs[e.Path]; ok {
		return "", &audit.HashError{Path: e.Path, Err: err}
	}
	n, ok := m.nodes[e.Path]
	if !ok || n.Dir {
		return "", &audit.HashError{Path: e.Path, Err: errors.New("no such file")}
	}
	return SHA256Hex(n.Content), nil
}

type mockStep struct {
	entry *audit.Entry
	err   error
}

type mockIterator struct {
	ctx   context.Context
	steps []mockStep
}

func (it *mockIterator) Next() (*audit.Entry, error) {
	if err := it.ctx.Err(); err != nil {
		return nil, err
	}
	if len(it.steps) == 0 {
		return nil, nil
	}
	step := it.steps[0]
	it.steps = it.steps[1:]
	return step.entry, step.err
}

func (it *mockIterator) Close() error {
	it.steps = nil
	return nil
}
