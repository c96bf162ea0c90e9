package audit

import (
	"context"
	"fmt"
	"strconv"
)

// Service is the entry point used by the application layer. It owns root
// registration, runs scans through the Engine and exposes the read-only
// queries consumed by reports.
type Service struct {
	store  Store
	engine *Engine
	logger Logger
}

// NewService creates a Service with the provided dependencies.
func NewService(store Store, walker Walker, hasher Hasher, logger Logger, clock Clock, idgen IDGenerator, opts EngineOptions) *Service {
	return &Service{
		store:  store,
		engine: NewEngine(store, walker, hasher, logger, clock, idgen, opts),
		logger: logger,
	}
}

// AddRootPath registers an absolute directory path for auditing. If the
// path is already registered the existing root is returned and created is false.
func (s *Service) AddRootPath(ctx context.Context, path string) (root *RootPath, created bool, err error) {
	existing, err := s.store.FindRootPathByPath(ctx, path)
	if err != nil {
		return nil, false, fmt.Errorf("checking for existing root path: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	root, err = s.store.CreateRootPath(ctx, path)
	if err != nil {
		return nil, false, fmt.Errorf("creating root path: %w", err)
	}
	s.logger.Info("root path registered", "root_path_id", root.ID, "path", root.Path)
	return root, true, nil
}

// RootPaths lists every registered root.
func (s *Service) RootPaths(ctx context.Context) ([]*RootPath, error) {
	return s.store.ListRootPaths(ctx)
}

// RootPathByID returns the root with the given id.
func (s *Service) RootPathByID(ctx context.Context, id int64) (*RootPath, error) {
	return s.store.GetRootPath(ctx, id)
}

// RootPathByPath returns the root registered at path.
func (s *Service) RootPathByPath(ctx context.Context, path string) (*RootPath, error) {
	root, err := s.store.FindRootPathByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, &NotFoundError{Entity: "root path", Path: path}
	}
	return root, nil
}

// ResolveRootPath accepts either a numeric root id or a registered path.
func (s *Service) ResolveRootPath(ctx context.Context, idOrPath string) (*RootPath, error) {
	if id, err := strconv.ParseInt(idOrPath, 10, 64); err == nil {
		return s.store.GetRootPath(ctx, id)
	}
	return s.RootPathByPath(ctx, idOrPath)
}

// Scan reconciles a root against the filesystem.
func (s *Service) Scan(ctx context.Context, rootPathID int64, deep bool) (*ScanResult, error) {
	return s.engine.Scan(ctx, rootPathID, deep)
}

// UnlockRoot removes a lease left behind by a scan that died without
// releasing it. Reports whether a lease was removed.
func (s *Service) UnlockRoot(ctx context.Context, rootPathID int64) (bool, error) {
	if _, err := s.store.GetRootPath(ctx, rootPathID); err != nil {
		return false, err
	}
	removed, err := s.store.BreakLease(ctx, rootPathID)
	if err != nil {
		return false, err
	}
	if removed {
		s.logger.Warn("scan lease broken", "root_path_id", rootPathID)
	}
	return removed, nil
}

// Scans lists the most recent scans, newest first. rootPathID zero lists
// scans of all roots.
func (s *Service) Scans(ctx context.Context, rootPathID int64, limit int) ([]*Scan, error) {
	if rootPathID != 0 {
		if _, err := s.store.GetRootPath(ctx, rootPathID); err != nil {
			return nil, err
		}
	}
	return s.store.ListScans(ctx, rootPathID, limit)
}

// ScanByID returns one scan.
func (s *Service) ScanByID(ctx context.Context, id int64) (*Scan, error) {
	return s.store.GetScan(ctx, id)
}

// LatestScan returns the most recently started scan of any state.
func (s *Service) LatestScan(ctx context.Context, rootPathID int64) (*Scan, error) {
	scans, err := s.Scans(ctx, rootPathID, 1)
	if err != nil {
		return nil, err
	}
	if len(scans) == 0 {
		return nil, &NotFoundError{Entity: "scan"}
	}
	return scans[0], nil
}

// LatestCompleteScan returns the newest complete scan of a root, or nil if
// the root has never been scanned successfully.
func (s *Service) LatestCompleteScan(ctx context.Context, rootPathID int64) (*Scan, error) {
	if _, err := s.store.GetRootPath(ctx, rootPathID); err != nil {
		return nil, err
	}
	return s.store.LatestCompleteScan(ctx, rootPathID)
}

// AggregateChangeCounts counts the changes recorded by a scan per kind.
func (s *Service) AggregateChangeCounts(ctx context.Context, scanID int64) (ChangeCounts, error) {
	if _, err := s.store.GetScan(ctx, scanID); err != nil {
		return ChangeCounts{}, err
	}
	return s.store.AggregateChangeCounts(ctx, scanID)
}

// ForEachChange calls fn for every change of a scan in item path order.
func (s *Service) ForEachChange(ctx context.Context, scanID int64, fn func(*ChangeRecord) error) error {
	if _, err := s.store.GetScan(ctx, scanID); err != nil {
		return err
	}
	return s.store.ForEachChange(ctx, scanID, fn)
}

// ForEachLiveItem calls fn for every live item last confirmed by the scan,
// in path order.
func (s *Service) ForEachLiveItem(ctx context.Context, scanID int64, fn func(*Item) error) error {
	if _, err := s.store.GetScan(ctx, scanID); err != nil {
		return err
	}
	return s.store.ForEachLiveItem(ctx, scanID, fn)
}

// Item returns one item, tombstoned or not.
func (s *Service) Item(ctx context.Context, id int64) (*Item, error) {
	return s.store.GetItem(ctx, id)
}

// ItemHistory returns every change recorded for an item, oldest first.
func (s *Service) ItemHistory(ctx context.Context, itemID int64) ([]*ItemChange, error) {
	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.store.ItemHistory(ctx, itemID)
}
