package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dircheck/internal/archive"
	"dircheck/internal/database"
)

// PushResult records one uploaded snapshot.
type PushResult struct {
	Archive string
	Key     string
	Size    int64
}

// InitKeys generates the key pair used to seal archived databases.
func (a *App) InitKeys(passphrase string) error {
	if a.encryptor == nil {
		return fmt.Errorf("encryption is disabled in config")
	}
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	if err := a.encryptor.Setup(passphrase); err != nil {
		return fmt.Errorf("generating keys: %w", err)
	}
	a.logger.Info("encryption keys generated")
	return nil
}

// ArchivePush snapshots the database, seals it when encryption is enabled
// and uploads it to every configured archive.
func (a *App) ArchivePush(ctx context.Context) ([]PushResult, error) {
	if len(a.archives) == 0 {
		return nil, fmt.Errorf("no archives configured")
	}
	if a.encryptor != nil && !a.encryptor.IsConfigured() {
		return nil, fmt.Errorf("encryption keys not found (run `dircheck keys init`)")
	}

	tmpDir, err := os.MkdirTemp("", "dircheck-push-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	payload := filepath.Join(tmpDir, "snapshot.db")
	if err := a.store.BackupTo(ctx, payload); err != nil {
		return nil, err
	}

	ext := ""
	if a.encryptor != nil {
		ext = a.encryptor.Extension()
		sealed := payload + ext
		if err := a.seal(payload, sealed); err != nil {
			return nil, err
		}
		payload = sealed
	}

	key := archive.SnapshotKey(a.cfg.HostID, a.clock.Now(), ext)
	var results []PushResult
	for _, arc := range a.archives {
		size, err := upload(ctx, arc, key, payload)
		if err != nil {
			return results, err
		}
		a.logger.Info("database archived", "archive", arc.Name(), "key", key, "size", size)
		results = append(results, PushResult{Archive: arc.Name(), Key: key, Size: size})
	}
	return results, nil
}

func (a *App) seal(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating sealed snapshot: %w", err)
	}
	if err := a.encryptor.Encrypt(in, out); err != nil {
		out.Close()
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	return out.Close()
}

func upload(ctx context.Context, arc archive.Archive, key, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat snapshot: %w", err)
	}
	if err := arc.Put(ctx, key, f, info.Size()); err != nil {
		return 0, fmt.Errorf("uploading to %s: %w", arc.Name(), err)
	}
	return info.Size(), nil
}

// ArchiveList lists the snapshots of this host stored in an archive. With
// allHosts set, snapshots of every host are listed.
func (a *App) ArchiveList(ctx context.Context, archiveName string, allHosts bool) ([]archive.Object, error) {
	arc, err := archive.Select(a.archives, archiveName)
	if err != nil {
		return nil, err
	}
	prefix := a.cfg.HostID + "/"
	if allHosts {
		prefix = ""
	}
	return arc.List(ctx, prefix)
}

// ArchivePull downloads the snapshot stored under key to dest, decrypting
// it when the key carries the encryptor's extension. passphrase is only
// called for sealed snapshots. dest must not exist, and is removed again
// unless it ends up holding a valid audit database.
func (a *App) ArchivePull(ctx context.Context, archiveName, key, dest string, passphrase func() (string, error)) (err error) {
	arc, err := archive.Select(a.archives, archiveName)
	if err != nil {
		return err
	}

	sealed := a.encryptor != nil && strings.HasSuffix(key, a.encryptor.Extension())
	if !sealed && !strings.HasSuffix(key, ".db") {
		return fmt.Errorf("cannot open %s: unknown snapshot format", key)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(dest)
		}
	}()

	if sealed {
		err = a.pullSealed(ctx, arc, key, out, passphrase)
	} else {
		err = arc.Get(ctx, key, out)
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	if err := verifySnapshot(dest); err != nil {
		return fmt.Errorf("pulled snapshot is not a valid audit database: %w", err)
	}
	a.logger.Info("database restored from archive", "archive", arc.Name(), "key", key, "dest", dest)
	return nil
}

func (a *App) pullSealed(ctx context.Context, arc archive.Archive, key string, out io.Writer, passphrase func() (string, error)) error {
	pass, err := passphrase()
	if err != nil {
		return fmt.Errorf("reading passphrase: %w", err)
	}
	dec, err := a.encryptor.Unlock(pass)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}

	tmp, err := os.CreateTemp("", "dircheck-pull-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := arc.Get(ctx, key, tmp); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding download: %w", err)
	}
	if err := dec.Decrypt(tmp, out); err != nil {
		return fmt.Errorf("decrypting snapshot: %w", err)
	}
	return nil
}

func verifySnapshot(path string) error {
	store, err := database.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	err = store.CheckMigrations()
	return errors.Join(err, store.Close())
}
