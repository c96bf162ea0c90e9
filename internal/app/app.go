package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"dircheck/internal/archive"
	"dircheck/internal/audit"
	"dircheck/internal/config"
	"dircheck/internal/database"
	"dircheck/internal/digest"
	"dircheck/internal/encryption"
	"dircheck/internal/fs"
)

// App is the application layer between the CLI and audit.Service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw CLI arguments, and manages the store lifecycle on Close.
type App struct {
	cfg       *config.Config
	store     *database.SQLiteStore
	service   *audit.Service
	encryptor encryption.Encryptor // nil when archives are stored unencrypted
	archives  []archive.Archive
	clock     audit.Clock
	op        *Operation
	logger    *slog.Logger
	logFile   *os.File
}

// NewApp creates a fully wired App from the given config.
// operation names the CLI command being run (e.g. "Scan", "ArchivePush").
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts, err := engineOptions(cfg.Scan)
	if err != nil {
		return nil, err
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	archives, err := archive.NewArchivesFromConfig(ctx, cfg.Archives)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.CheckMigrations(); err != nil {
		store.Close()
		return nil, fmt.Errorf("database schema out of date (run `dircheck db migrate`): %w", err)
	}

	clock := audit.RealClock{}
	op := NewOperation(operation, clock.Now())
	logger, logFile, err := newLogger(cfg.LogDir, op.ID, level)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	auditLogger := &slogAdapter{l: logger}
	walker := fs.NewOSWalker(cfg.Filesystem.Ignore, auditLogger)
	hasher := digest.NewSHA256Hasher(hashBufferSize(cfg.Scan))
	svc := audit.NewService(store, walker, hasher, auditLogger, clock, audit.UUIDGenerator{}, opts)

	logger.Debug("operation started", "operation", op.Name)

	return &App{
		cfg:       cfg,
		store:     store,
		service:   svc,
		encryptor: enc,
		archives:  archives,
		clock:     clock,
		op:        op,
		logger:    logger,
		logFile:   logFile,
	}, nil
}

// openStore opens the configured database. In-memory databases start empty
// and are migrated immediately.
func openStore(cfg *config.Config) (*database.SQLiteStore, error) {
	store, err := database.NewStoreFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if cfg.Database.Type == "memory" {
		if err := store.MigrateUp(); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}
	}
	return store, nil
}

func engineOptions(c config.ScanConfig) (audit.EngineOptions, error) {
	opts := audit.DefaultEngineOptions()
	if c.HashWorkers > 0 {
		opts.HashWorkers = c.HashWorkers
	}
	if c.BatchSize > 0 {
		opts.BatchSize = c.BatchSize
	}
	ttl, err := c.LeaseTTLDuration()
	if err != nil {
		return audit.EngineOptions{}, err
	}
	opts.LeaseTTL = ttl
	return opts, nil
}

func hashBufferSize(c config.ScanConfig) int {
	if c.HashBufferSize > 0 {
		return c.HashBufferSize
	}
	return config.DefaultHashBufferSize
}

// Migrate brings the configured database schema up to date. It does not
// need a working App since NewApp refuses to open an out of date schema.
func Migrate(cfg *config.Config) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.MigrateUp(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// Schema returns the current database schema as SQL.
func (a *App) Schema() (string, error) {
	return a.store.Schema()
}

// Fail marks the running operation as failed for the closing log record.
func (a *App) Fail(err error) {
	a.op.Fail()
	a.logger.Error("operation failed", "operation", a.op.Name, "error", err)
}

// AddRoot resolves rawPath to an absolute directory and registers it.
func (a *App) AddRoot(ctx context.Context, rawPath string) (*audit.RootPath, bool, error) {
	p, err := fs.Resolve(rawPath)
	if err != nil {
		return nil, false, fmt.Errorf("resolving path: %w", err)
	}
	return a.service.AddRootPath(ctx, p)
}

// Roots lists registered roots.
func (a *App) Roots(ctx context.Context) ([]*audit.RootPath, error) {
	return a.service.RootPaths(ctx)
}

// ResolveRoot finds a registered root from a CLI argument: a root id, or a
// path that is cleaned and made absolute. Symlinks are resolved when the
// path still exists so it matches the registered form.
func (a *App) ResolveRoot(ctx context.Context, arg string) (*audit.RootPath, error) {
	if _, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return a.service.ResolveRootPath(ctx, arg)
	}

	p, err := fs.Resolve(arg)
	if err != nil {
		abs, absErr := filepath.Abs(arg)
		if absErr != nil {
			return nil, fmt.Errorf("resolving path: %w", absErr)
		}
		p = abs
	}
	return a.service.ResolveRootPath(ctx, p)
}

// UnlockRoot breaks the lease a crashed scan left on a root.
func (a *App) UnlockRoot(ctx context.Context, arg string) (*audit.RootPath, bool, error) {
	root, err := a.ResolveRoot(ctx, arg)
	if err != nil {
		return nil, false, err
	}
	removed, err := a.service.UnlockRoot(ctx, root.ID)
	if err != nil {
		return nil, false, err
	}
	return root, removed, nil
}

// Scan reconciles a root against the filesystem.
func (a *App) Scan(ctx context.Context, arg string, deep bool) (*audit.ScanResult, error) {
	root, err := a.ResolveRoot(ctx, arg)
	if err != nil {
		return nil, err
	}
	return a.service.Scan(ctx, root.ID, deep)
}

// Close logs the operation outcome and closes all resources.
func (a *App) Close() error {
	var firstErr error

	a.logger.Debug("operation finished", "operation", a.op.Name, "status", a.op.Status,
		"elapsed", a.clock.Now().Sub(a.op.StartedAt).String())

	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
