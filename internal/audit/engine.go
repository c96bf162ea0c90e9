package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// ScanState is the lifecycle state of one reconciliation run.
type ScanState string

const (
	StateStarted    ScanState = "started"
	StateWalking    ScanState = "walking"
	StateFinalizing ScanState = "finalizing"
	StateComplete   ScanState = "complete"
	StateFailed     ScanState = "failed"
)

// ScanResult is returned by Engine.Scan. Warnings counts entries that were
// skipped by the walker and files whose digest could not be computed.
type ScanResult struct {
	Scan     *Scan
	State    ScanState
	Counts   ChangeCounts
	Warnings int
}

// EngineOptions tunes a reconciliation run.
type EngineOptions struct {
	// HashWorkers bounds the number of files hashed concurrently.
	HashWorkers int
	// BatchSize is the number of merged paths committed per transaction.
	BatchSize int
	// LeaseTTL is how long an unrefreshed lease blocks other scans of the
	// same root. Zero keeps leases until they are released or broken.
	LeaseTTL time.Duration
}

// DefaultEngineOptions returns the options used when none are configured.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		HashWorkers: 4,
		BatchSize:   256,
		LeaseTTL:    time.Hour,
	}
}

// Engine merges a walker stream against the stored live items of a root,
// classifies every path and commits the new snapshot.
type Engine struct {
	store  Store
	walker Walker
	hasher Hasher
	logger Logger
	clock  Clock
	idgen  IDGenerator
	opts   EngineOptions
}

// NewEngine creates an Engine. Non-positive worker and batch sizes are
// raised to one.
func NewEngine(store Store, walker Walker, hasher Hasher, logger Logger, clock Clock, idgen IDGenerator, opts EngineOptions) *Engine {
	if opts.HashWorkers < 1 {
		opts.HashWorkers = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	return &Engine{
		store:  store,
		walker: walker,
		hasher: hasher,
		logger: logger,
		clock:  clock,
		idgen:  idgen,
		opts:   opts,
	}
}

// Scan runs one reconciliation of the root against the filesystem.
//
// When the scan row has been created and the run later fails, the returned
// result carries that scan in state StateFailed along with the error. The
// scan stays incomplete and is never used as a baseline.
func (e *Engine) Scan(ctx context.Context, rootPathID int64, deep bool) (*ScanResult, error) {
	root, err := e.store.GetRootPath(ctx, rootPathID)
	if err != nil {
		return nil, err
	}

	scan, err := e.store.BeginScan(ctx, root.ID, deep, e.clock.Now(), e.idgen.New(), e.opts.LeaseTTL)
	if err != nil {
		return nil, err
	}
	e.logger.Info("scan started", "root", root.Path, "scan_id", scan.ID, "deep", deep)

	run := &scanRun{
		engine: e,
		root:   root,
		scan:   scan,
		deep:   deep,
		state:  StateStarted,
	}

	if err := run.reconcile(ctx); err != nil {
		run.state = StateFailed
		if abandonErr := e.store.AbandonScan(context.WithoutCancel(ctx), scan.ID); abandonErr != nil {
			e.logger.Error("releasing scan lease", "scan_id", scan.ID, "error", abandonErr)
		}
		e.logger.Error("scan failed", "root", root.Path, "scan_id", scan.ID, "error", err)
		return run.result(), err
	}

	e.logger.Info("scan complete",
		"root", root.Path,
		"scan_id", scan.ID,
		"adds", run.counts.Adds,
		"modifies", run.counts.Modifies,
		"deletes", run.counts.Deletes,
		"type_changes", run.counts.TypeChanges,
		"warnings", run.warnings,
	)
	return run.result(), nil
}

// pending is one merged path waiting for classification. old is nil for a
// path seen only by the walker, entry is nil for one seen only in the store.
type pending struct {
	old   *Item
	entry *Entry
}

func (p pending) path() string {
	if p.entry != nil {
		return p.entry.Path
	}
	return p.old.Path
}

// scanRun holds the state of one Engine.Scan call. Only the driver goroutine
// touches it; hash workers write to their own Observation.
type scanRun struct {
	engine   *Engine
	root     *RootPath
	scan     *Scan
	deep     bool
	state    ScanState
	batch    []pending
	lastPath string
	counts   ChangeCounts
	warnings int
}

func (r *scanRun) result() *ScanResult {
	return &ScanResult{
		Scan:     r.scan,
		State:    r.state,
		Counts:   r.counts,
		Warnings: r.warnings,
	}
}

func (r *scanRun) reconcile(ctx context.Context) error {
	r.state = StateWalking

	it, err := r.engine.walker.Walk(ctx, r.root.Path)
	if err != nil {
		return err
	}
	defer it.Close()

	cursor := r.engine.store.OpenLiveItems(ctx, r.root.ID)
	defer cursor.Close()

	entry, err := r.nextEntry(it)
	if err != nil {
		return err
	}
	item, err := cursor.Next(ctx)
	if err != nil {
		return err
	}

	for entry != nil || item != nil {
		switch {
		case item == nil || (entry != nil && entry.Path < item.Path):
			r.batch = append(r.batch, pending{entry: entry})
			entry, err = r.nextEntry(it)
		case entry == nil || item.Path < entry.Path:
			r.batch = append(r.batch, pending{old: item})
			item, err = cursor.Next(ctx)
		default:
			r.batch = append(r.batch, pending{old: item, entry: entry})
			if entry, err = r.nextEntry(it); err == nil {
				item, err = cursor.Next(ctx)
			}
		}
		if err != nil {
			return err
		}

		if len(r.batch) >= r.engine.opts.BatchSize {
			if err := r.flush(ctx); err != nil {
				return err
			}
		}
	}

	if err := r.flush(ctx); err != nil {
		return err
	}

	r.state = StateFinalizing
	scan, err := r.engine.store.CompleteScan(ctx, r.scan.ID)
	if err != nil {
		return err
	}
	r.scan = scan
	r.state = StateComplete
	return nil
}

// nextEntry returns the next walker entry, counting and logging skipped ones.
func (r *scanRun) nextEntry(it EntryIterator) (*Entry, error) {
	for {
		entry, err := it.Next()
		var walkErr *WalkEntryError
		if errors.As(err, &walkErr) {
			r.warnings++
			r.engine.logger.Warn("skipping entry", "root", r.root.Path, "path", walkErr.Path, "error", walkErr.Err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, nil
		}
		if entry.Path <= r.lastPath {
			return nil, fmt.Errorf("walker returned %q after %q: entries out of order", entry.Path, r.lastPath)
		}
		r.lastPath = entry.Path
		return entry, nil
	}
}

// flush hashes, classifies and commits the current batch.
func (r *scanRun) flush(ctx context.Context) error {
	if len(r.batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scan interrupted: %w", err)
	}

	observations, err := r.observe(ctx)
	if err != nil {
		return err
	}

	var counts ChangeCounts
	muts := make([]*Mutation, 0, len(r.batch))
	for i, p := range r.batch {
		out := Classify(p.old, observations[i], r.deep)
		counts.add(out.Kind)
		if out.Kind != ChangeNone {
			r.engine.logger.Debug("change", "scan_id", r.scan.ID, "kind", string(out.Kind), "path", p.path())
		}
		muts = append(muts, r.mutation(p.old, observations[i], out))
	}

	if err := r.engine.store.ApplyBatch(ctx, r.scan.ID, r.engine.clock.Now(), muts); err != nil {
		return err
	}

	r.counts.Adds += counts.Adds
	r.counts.Modifies += counts.Modifies
	r.counts.Deletes += counts.Deletes
	r.counts.TypeChanges += counts.TypeChanges
	r.counts.Unchanged += counts.Unchanged
	r.batch = r.batch[:0]
	return nil
}

// observe builds the observation for each batch entry, hashing the files that
// need it on a bounded pool. Results stay at their batch index, so they are
// applied in path order regardless of completion order.
func (r *scanRun) observe(ctx context.Context) ([]*Observation, error) {
	observations := make([]*Observation, len(r.batch))
	for i, p := range r.batch {
		if p.entry != nil {
			observations[i] = &Observation{Entry: *p.entry}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.engine.opts.HashWorkers)
	for i, p := range r.batch {
		if !NeedsHash(p.old, p.entry, r.deep) {
			continue
		}
		obs := observations[i]
		g.Go(func() error {
			digest, err := r.engine.hasher.Hash(gctx, r.root.Path, &obs.Entry)
			var hashErr *HashError
			switch {
			case errors.As(err, &hashErr):
				obs.HashFailed = true
				r.engine.logger.Warn("hash failed", "root", r.root.Path, "path", obs.Path, "error", hashErr.Err)
			case err != nil:
				return err
			default:
				obs.Hash = digest
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, obs := range observations {
		if obs != nil && obs.HashFailed {
			r.warnings++
		}
	}
	return observations, nil
}

// mutation derives the item row to write for a classified path.
func (r *scanRun) mutation(old *Item, obs *Observation, out Outcome) *Mutation {
	var item Item

	switch out.Kind {
	case ChangeDelete:
		item = *old
		item.IsTombstone = true
	case ChangeAdd, ChangeTypeChange:
		// Nothing carries over from a previous kind.
		item = Item{RootPathID: r.root.ID, Path: obs.Path}
		if old != nil {
			item.ID = old.ID
		}
		item.Kind = obs.Kind
		item.LastModified = obs.ModTime
		item.LastSeenScanID = r.scan.ID
		if obs.Kind == ItemFile {
			item.FileSize = sql.NullInt64{Int64: obs.Size, Valid: true}
			if obs.Hash != "" {
				item.FileHash = sql.NullString{String: obs.Hash, Valid: true}
			}
		}
	default:
		item = *old
		item.LastModified = obs.ModTime
		item.LastSeenScanID = r.scan.ID
		if obs.Kind == ItemFile {
			item.FileSize = sql.NullInt64{Int64: obs.Size, Valid: true}
			switch {
			case obs.HashFailed:
				item.FileHash = sql.NullString{}
			case obs.Hash != "":
				item.FileHash = sql.NullString{String: obs.Hash, Valid: true}
			case out.Kind == ChangeModify:
				item.FileHash = sql.NullString{}
			}
		}
	}

	return &Mutation{
		Item: item,
		Change: Change{
			ScanID:          r.scan.ID,
			ItemID:          item.ID,
			Kind:            out.Kind,
			MetadataChanged: out.MetadataChanged,
			HashChanged:     out.HashChanged,
		},
	}
}
