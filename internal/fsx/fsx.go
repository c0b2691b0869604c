// Package fsx holds the crash-safe JSON writes shared by the session stores,
// the outbox and the agent settings installer.
package fsx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// WriteJSON atomically replaces path with v encoded as indented,
// newline-terminated JSON.
func WriteJSON(path string, v any, mode os.FileMode) error {
	return WriteAtomic(path, mode, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// WriteAtomic streams content into a temp file next to path, fsyncs it and
// renames it over path. Readers see either the old document or the new one.
func WriteAtomic(path string, mode os.FileMode, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Chmod(mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = replace(tmp.Name(), path); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

// replace renames from over to. Windows refuses to rename onto an existing
// file, so the destination is removed first there.
func replace(from, to string) error {
	err := os.Rename(from, to)
	if err == nil {
		return nil
	}
	if runtime.GOOS != "windows" {
		return fmt.Errorf("rename temp file: %w", err)
	}
	if err := os.Remove(to); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove destination before rename: %w", err)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("rename temp file after remove: %w", err)
	}
	return nil
}

// syncDir makes the rename durable. Best effort: not every platform can
// fsync a directory.
func syncDir(dir string) {
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
}

// AppendJSONLines appends each record as one JSON line and fsyncs. Either
// the whole batch is encoded and written or nothing is. Callers hold the
// session lock, so there is no locking here.
func AppendJSONLines[T any](path string, records []T, mode os.FileMode) error {
	if len(records) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create append directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("open append file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append records: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync append file: %w", err)
	}
	return nil
}
