package archive

import (
	"context"
	"fmt"

	"dircheck/internal/config"
)

// NewArchiveFromConfig creates an Archive based on the archive config type.
func NewArchiveFromConfig(ctx context.Context, cfg config.ArchiveConfig) (Archive, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("archive of type %q has no name", cfg.Type)
	}
	switch cfg.Type {
	case "memory":
		return NewMemoryArchive(cfg.Name), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 archive requires s3_bucket to be set")
		}
		return NewS3Archive(ctx, cfg)
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem archive requires fs_root to be set")
		}
		return NewFileSystemArchive(cfg.Name, cfg.FSRoot)
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}

// NewArchivesFromConfig builds every configured archive. Names must be unique.
func NewArchivesFromConfig(ctx context.Context, cfgs []config.ArchiveConfig) ([]Archive, error) {
	seen := make(map[string]bool, len(cfgs))
	archives := make([]Archive, 0, len(cfgs))
	for _, cfg := range cfgs {
		if seen[cfg.Name] {
			return nil, fmt.Errorf("duplicate archive name: %s", cfg.Name)
		}
		seen[cfg.Name] = true

		a, err := NewArchiveFromConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("creating archive %s: %w", cfg.Name, err)
		}
		archives = append(archives, a)
	}
	return archives, nil
}

// Select returns the archive named name, or the only archive when name is
// empty.
func Select(archives []Archive, name string) (Archive, error) {
	if len(archives) == 0 {
		return nil, fmt.Errorf("no archives configured")
	}
	if name == "" {
		if len(archives) > 1 {
			return nil, fmt.Errorf("%d archives configured, choose one with --archive", len(archives))
		}
		return archives[0], nil
	}
	for _, a := range archives {
		if a.Name() == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("archive not found: %s", name)
}
