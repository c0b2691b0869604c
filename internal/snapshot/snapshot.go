package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// FileInfo describes a single file observed in a snapshot
type FileInfo struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Snapshot is a point-in-time listing of every file under a directory
type Snapshot struct {
	Timestamp time.Time  `json:"timestamp"`
	Files     []FileInfo `json:"files"`
}

// Snapshotter lists directories recursively
type Snapshotter struct {
	logger *slog.Logger
	now    func() time.Time
}

// New creates a snapshotter. A nil logger discards output.
func New(logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Snapshotter{logger: logger, now: time.Now}
}

// Take lists every regular file under dir with its stat metadata.
// A missing directory yields an empty snapshot. Files that cannot be
// stat'ed are skipped; a directory that cannot be listed is fatal.
func (s *Snapshotter) Take(dir string) (Snapshot, error) {
	snap := Snapshot{Timestamp: s.now()}

	root, err := filepath.Abs(dir)
	if err != nil {
		return snap, fmt.Errorf("resolve snapshot dir: %w", err)
	}

	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return snap, nil
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// The root vanishing between Stat and WalkDir is the same as missing
			if path == root && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			if d == nil || d.IsDir() {
				return fmt.Errorf("list %s: %w", path, walkErr)
			}
			s.logger.Debug("skipping unreadable entry", "path", path, "error", walkErr)
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.logger.Debug("skipping file with stat error", "path", path, "error", err)
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		snap.Files = append(snap.Files, FileInfo{
			Path:       path,
			Size:       info.Size(),
			CreatedAt:  birthTime(path, info),
			ModifiedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return Snapshot{Timestamp: snap.Timestamp}, err
	}

	return snap, nil
}

// Diff returns the files present in after but not in before, keyed by
// absolute path and sorted by path. Modified or deleted files are ignored:
// an agent session creates its transcript exactly once.
func Diff(before, after Snapshot) []FileInfo {
	seen := make(map[string]struct{}, len(before.Files))
	for _, f := range before.Files {
		seen[absPath(f.Path)] = struct{}{}
	}

	var created []FileInfo
	for _, f := range after.Files {
		if _, ok := seen[absPath(f.Path)]; ok {
			continue
		}
		created = append(created, f)
	}

	sort.Slice(created, func(i, j int) bool {
		return created[i].Path < created[j].Path
	})
	return created
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
