// Package digest computes content digests of audited files.
package digest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"dircheck/internal/audit"
)

// SHA256Hasher hashes files with SHA-256. It is safe for concurrent use.
type SHA256Hasher struct {
	buffers sync.Pool
}

var _ audit.Hasher = (*SHA256Hasher)(nil)

// NewSHA256Hasher creates a hasher reading files in chunks of bufferSize bytes.
func NewSHA256Hasher(bufferSize int) *SHA256Hasher {
	if bufferSize < 4096 {
		bufferSize = 4096
	}
	return &SHA256Hasher{
		buffers: sync.Pool{New: func() any {
			buf := make([]byte, bufferSize)
			return &buf
		}},
	}
}

// Hash returns the lowercase hex SHA-256 of the file at e.Path below root.
//
// The file is stat'ed before and after reading; if it no longer matches the
// walked entry, or changes while being read, a *audit.HashError is returned
// so the caller never stores a digest for content it did not observe.
// Context cancellation is returned as is.
func (h *SHA256Hasher) Hash(ctx context.Context, root string, e *audit.Entry) (string, error) {
	fail := func(err error) (string, error) {
		return "", &audit.HashError{Path: e.Path, Err: err}
	}

	f, err := os.Open(filepath.Join(root, filepath.FromSlash(e.Path)))
	if err != nil {
		return fail(err)
	}
	defer f.Close()

	info1, err := f.Stat()
	if err != nil {
		return fail(err)
	}
	if !info1.Mode().IsRegular() {
		return fail(fmt.Errorf("not a regular file: %v", info1.Mode()))
	}
	if info1.Size() != e.Size || !info1.ModTime().Equal(e.ModTime) {
		return fail(errors.New("file changed since it was walked"))
	}

	bufp := h.buffers.Get().(*[]byte)
	defer h.buffers.Put(bufp)

	sum := sha256.New()
	n, err := io.CopyBuffer(sum, &contextReader{ctx: ctx, r: f}, *bufp)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return fail(fmt.Errorf("reading: %w", err))
	}
	if n != e.Size {
		return fail(fmt.Errorf("read %d bytes, expected %d", n, e.Size))
	}

	info2, err := os.Stat(f.Name())
	if err != nil {
		return fail(fmt.Errorf("re-stat: %w", err))
	}
	if err := validateUnchanged(info1, info2); err != nil {
		return fail(fmt.Errorf("file changed while hashing: %w", err))
	}

	return hex.EncodeToString(sum.Sum(nil)), nil
}

func validateUnchanged(info1, info2 fs.FileInfo) error {
	if info1.Size() != info2.Size() {
		return fmt.Errorf("size changed: %d -> %d", info1.Size(), info2.Size())
	}
	if !info1.ModTime().Equal(info2.ModTime()) {
		return fmt.Errorf("mtime changed: %v -> %v", info1.ModTime(), info2.ModTime())
	}
	ctime1, ok1 := changeTime(info1)
	ctime2, ok2 := changeTime(info2)
	if ok1 && ok2 && !ctime1.Equal(ctime2) {
		return fmt.Errorf("ctime changed: %v -> %v", ctime1, ctime2)
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
