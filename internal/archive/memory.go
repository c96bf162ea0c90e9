package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// MemoryArchive keeps objects in memory. It is safe for concurrent use.
type MemoryArchive struct {
	name    string
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

type memoryObject struct {
	data    []byte
	modTime time.Time
}

var _ Archive = (*MemoryArchive)(nil)

func NewMemoryArchive(name string) *MemoryArchive {
	return &MemoryArchive{
		name:    name,
		objects: make(map[string]memoryObject),
		now:     time.Now,
	}
}

func (m *MemoryArchive) Name() string { return m.name }

func (m *MemoryArchive) Put(_ context.Context, key string, r io.Reader, size int64) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: data, modTime: m.now()}
	return nil
}

func (m *MemoryArchive) Get(_ context.Context, key string, w io.Writer) error {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if _, err := io.Copy(w, bytes.NewReader(obj.data)); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

func (m *MemoryArchive) List(_ context.Context, prefix string) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var objs []Object
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			objs = append(objs, Object{Key: key, Size: int64(len(obj.data)), ModTime: obj.modTime})
		}
	}
	sortObjects(objs)
	return objs, nil
}

func (m *MemoryArchive) ValidateSetup(context.Context) error {
	return nil
}
