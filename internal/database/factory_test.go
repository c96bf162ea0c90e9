package database

import (
	"os"
	"path/filepath"
	"testing"

	"dircheck/internal/config"
)

func TestNewStoreFromConfig(t *testing.T) {
	t.Run("memory database", func(t *testing.T) {
		got, err := NewStoreFromConfig(config.DatabaseConfig{Type: "memory"}, "test-host-123")
		if err != nil {
			t.Fatalf("NewStoreFromConfig() error = %v", err)
		}
		defer got.Close()

		if err := got.MigrateUp(); err != nil {
			t.Fatalf("MigrateUp() error = %v", err)
		}
		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite database creates data dir", func(t *testing.T) {
		dataDir := filepath.Join(t.TempDir(), "db")
		got, err := NewStoreFromConfig(config.DatabaseConfig{Type: "sqlite", DataDir: dataDir}, "test-host-123")
		if err != nil {
			t.Fatalf("NewStoreFromConfig() error = %v", err)
		}
		defer got.Close()

		want := filepath.Join(dataDir, "test-host-123.db")
		if got.Path() != want {
			t.Errorf("Path() = %q, want %q", got.Path(), want)
		}
		if _, err := os.Stat(dataDir); err != nil {
			t.Errorf("data dir not created: %v", err)
		}
	})

	t.Run("sqlite database without data_dir", func(t *testing.T) {
		got, err := NewStoreFromConfig(config.DatabaseConfig{Type: "sqlite"}, "test-host-123")
		if err == nil {
			got.Close()
			t.Fatal("NewStoreFromConfig() error = nil, want error for missing data_dir")
		}
	})

	t.Run("unknown database type", func(t *testing.T) {
		got, err := NewStoreFromConfig(config.DatabaseConfig{Type: "postgres"}, "test-host-123")
		if err == nil {
			got.Close()
			t.Fatal("NewStoreFromConfig() error = nil, want error for unknown type")
		}
	})
}
