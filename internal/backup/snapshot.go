// Package backup snapshots the SQLite entity registry. The registry is the
// system of record for canonical entities and the resolution audit log, so
// operators take verified point-in-time copies before schema changes or bulk
// ingestion runs.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// snapshotPrefix names snapshot files; the rest is a UTC timestamp with
// nanosecond precision so names never collide and sort chronologically.
const snapshotPrefix = "entitylink-"

// Result describes one completed snapshot.
type Result struct {
	Path     string
	Size     int64
	Duration time.Duration
	Entities int64
}

// Snapshot writes a consistent point-in-time copy of the registry at dbPath
// into dir and verifies it. VACUUM INTO is safe under WAL mode and while
// resolutions are running.
func Snapshot(ctx context.Context, dbPath, dir string) (*Result, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("backup: database path is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: failed to create snapshot directory: %w", err)
	}

	start := time.Now()
	dest := filepath.Join(dir, snapshotPrefix+start.UTC().Format("20060102-150405.000000000")+".db")

	source, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", dbPath))
	if err != nil {
		return nil, fmt.Errorf("backup: failed to open registry: %w", err)
	}
	defer source.Close()

	if err := source.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("backup: registry not accessible: %w", err)
	}
	if _, err := source.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", dest)); err != nil {
		return nil, fmt.Errorf("backup: snapshot write failed: %w", err)
	}

	entities, err := Verify(ctx, dest)
	if err != nil {
		os.Remove(dest)
		return nil, err
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to stat snapshot: %w", err)
	}

	return &Result{
		Path:     dest,
		Size:     info.Size(),
		Duration: time.Since(start),
		Entities: entities,
	}, nil
}

// Verify checks a snapshot's integrity and confirms it contains the registry
// schema. It returns the canonical entity count.
func Verify(ctx context.Context, path string) (int64, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return 0, fmt.Errorf("backup: failed to open snapshot: %w", err)
	}
	defer db.Close()

	var check string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&check); err != nil {
		return 0, fmt.Errorf("backup: integrity check failed: %w", err)
	}
	if check != "ok" {
		return 0, fmt.Errorf("backup: snapshot corrupt: %s", check)
	}

	var entities int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM canonical_entities").Scan(&entities); err != nil {
		return 0, fmt.Errorf("backup: snapshot is not an entity registry: %w", err)
	}
	return entities, nil
}

// Restore copies a verified snapshot over targetPath. The registry must not
// be open while restoring.
func Restore(ctx context.Context, snapshotPath, targetPath string) error {
	if _, err := Verify(ctx, snapshotPath); err != nil {
		return err
	}

	src, err := os.Open(snapshotPath)
	if err != nil {
		return fmt.Errorf("backup: failed to open snapshot: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("backup: failed to create target: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("backup: failed to copy snapshot: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("backup: failed to sync target: %w", err)
	}

	if _, err := Verify(ctx, targetPath); err != nil {
		return fmt.Errorf("backup: restored registry failed verification: %w", err)
	}
	return nil
}

// List returns snapshot paths in dir, newest first.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("backup: failed to read snapshot directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, ".db") {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	// Timestamped names sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	return paths, nil
}

// Prune deletes all but the newest keep snapshots and returns the number
// removed.
func Prune(dir string, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("backup: keep must be at least 1")
	}

	paths, err := List(dir)
	if err != nil {
		return 0, err
	}

	if keep > len(paths) {
		keep = len(paths)
	}
	removed := 0
	for _, p := range paths[keep:] {
		if err := os.Remove(p); err != nil {
			return removed, fmt.Errorf("backup: failed to remove %s: %w", p, err)
		}
		removed++
	}
	return removed, nil
}
