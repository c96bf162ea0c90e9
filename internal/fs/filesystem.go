// Package fs walks audited directory trees on the local filesystem.
package fs

import (
	"fmt"
	"os"
	"path/filepath"
)

// Resolve turns a user-supplied path into the canonical absolute path of an
// existing directory: relative segments and symlinks are resolved so the same
// directory always registers under one root path.
func Resolve(rawPath string) (string, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}

	canonical, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return "", fmt.Errorf("resolving symlinks: %w", err)
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return "", fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", canonical)
	}
	return canonical, nil
}
