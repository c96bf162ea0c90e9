package database

import (
	"fmt"
	"os"
	"path/filepath"

	"dircheck/internal/config"
)

// NewStoreFromConfig opens the snapshot store described by cfg. SQLite
// databases live at <data_dir>/<hostID>.db.
func NewStoreFromConfig(cfg config.DatabaseConfig, hostID string) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, hostID+".db"))
	case "memory":
		return NewSQLiteStore(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
