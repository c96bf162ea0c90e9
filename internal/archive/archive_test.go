package archive

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Both local backends must behave the same.
func newTestArchives(t *testing.T) map[string]Archive {
	t.Helper()
	fsArchive, err := NewFileSystemArchive("fs", filepath.Join(t.TempDir(), "archive"))
	if err != nil {
		t.Fatalf("NewFileSystemArchive() error = %v", err)
	}
	return map[string]Archive{
		"memory":     NewMemoryArchive("mem"),
		"filesystem": fsArchive,
	}
}

func TestArchive_PutGet(t *testing.T) {
	ctx := context.Background()
	for name, a := range newTestArchives(t) {
		t.Run(name, func(t *testing.T) {
			key := "host-a/20240115T103000Z.db.age"
			if err := a.Put(ctx, key, strings.NewReader("sealed"), 6); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			var buf bytes.Buffer
			if err := a.Get(ctx, key, &buf); err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if buf.String() != "sealed" {
				t.Errorf("Get() = %q, want %q", buf.String(), "sealed")
			}

			if err := a.Put(ctx, key, strings.NewReader("replaced"), 8); err != nil {
				t.Fatalf("Put() overwrite error = %v", err)
			}
			buf.Reset()
			if err := a.Get(ctx, key, &buf); err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if buf.String() != "replaced" {
				t.Errorf("Get() after overwrite = %q, want %q", buf.String(), "replaced")
			}
		})
	}
}

func TestArchive_Failures(t *testing.T) {
	ctx := context.Background()
	for name, a := range newTestArchives(t) {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := a.Get(ctx, "host/missing.db", &buf); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() missing error = %v, want ErrNotFound", err)
			}

			if err := a.Put(ctx, "host/short.db", strings.NewReader("abc"), 10); err == nil {
				t.Error("Put() size mismatch error = nil, want error")
			}
			if err := a.Get(ctx, "host/short.db", &buf); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() after failed Put error = %v, want ErrNotFound", err)
			}

			for _, key := range []string{"", "/abs.db", "../escape.db", "a/../../b.db", "a//b.db"} {
				if err := a.Put(ctx, key, strings.NewReader("x"), 1); err == nil {
					t.Errorf("Put(%q) error = nil, want error", key)
				}
			}
		})
	}
}

func TestArchive_List(t *testing.T) {
	ctx := context.Background()
	for name, a := range newTestArchives(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"host-b/2.db", "host-a/2.db", "host-a/1.db"} {
				if err := a.Put(ctx, key, strings.NewReader("data"), 4); err != nil {
					t.Fatalf("Put(%q) error = %v", key, err)
				}
			}

			all, err := a.List(ctx, "")
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if got := keys(all); strings.Join(got, ",") != "host-a/1.db,host-a/2.db,host-b/2.db" {
				t.Errorf("List() keys = %v", got)
			}
			if all[0].Size != 4 {
				t.Errorf("List()[0].Size = %d, want 4", all[0].Size)
			}

			hostA, err := a.List(ctx, "host-a/")
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(hostA) != 2 {
				t.Errorf("len(List(host-a/)) = %d, want 2", len(hostA))
			}

			none, err := a.List(ctx, "host-c/")
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(none) != 0 {
				t.Errorf("len(List(host-c/)) = %d, want 0", len(none))
			}
		})
	}
}

func TestFileSystemArchive(t *testing.T) {
	ctx := context.Background()

	t.Run("leftover temp files are not listed", func(t *testing.T) {
		root := t.TempDir()
		a, err := NewFileSystemArchive("fs", root)
		if err != nil {
			t.Fatalf("NewFileSystemArchive() error = %v", err)
		}
		if err := os.WriteFile(filepath.Join(root, tempPrefix+"123"), []byte("partial"), 0644); err != nil {
			t.Fatal(err)
		}
		objs, err := a.List(ctx, "")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(objs) != 0 {
			t.Errorf("List() = %v, want empty", objs)
		}
	})

	t.Run("validate setup", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "archive")
		a, err := NewFileSystemArchive("fs", root)
		if err != nil {
			t.Fatalf("NewFileSystemArchive() error = %v", err)
		}
		if err := a.ValidateSetup(ctx); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
		if err := os.RemoveAll(root); err != nil {
			t.Fatal(err)
		}
		if err := a.ValidateSetup(ctx); err == nil {
			t.Error("ValidateSetup() after removing root error = nil, want error")
		}
	})
}

func TestSnapshotKey(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.FixedZone("CET", 3600))
	got := SnapshotKey("host-a", at, ".age")
	if got != "host-a/20240115T093000Z.db.age" {
		t.Errorf("SnapshotKey() = %q", got)
	}
	if err := ValidateKey(got); err != nil {
		t.Errorf("ValidateKey(%q) error = %v", got, err)
	}
}

func keys(objs []Object) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.Key
	}
	return out
}
