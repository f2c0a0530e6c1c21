// Package file stores cart snapshots as one JSON file per key in a directory.
package file

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/utafrali/cartengine/pkg/database"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
)

// Storage implements repository.Storage on the local filesystem. Writes go
// through a temp file and rename so a reader never observes a partial file.
type Storage struct {
	dir string
}

// NewStorage creates the directory if needed and returns a storage rooted there.
func NewStorage(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot dir %s: %w", dir, err)
	}
	return &Storage{dir: dir}, nil
}

// path maps a key to a file name. Keys contain ':' and arbitrary session IDs,
// so they are base64url-encoded.
func (s *Storage) path(key string) string {
	return filepath.Join(s.dir, base64.RawURLEncoding.EncodeToString([]byte(key))+".json")
}

// Read returns the snapshot stored under key.
func (s *Storage) Read(ctx context.Context, key string) (data []byte, err error) {
	_, end := database.TraceQuery(ctx, "file", "ReadSnapshot", "read")
	defer func() { end(err) }()

	data, err = os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NotFound("cart snapshot", key)
		}
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}
	return data, nil
}

// Write replaces the snapshot under key atomically.
func (s *Storage) Write(ctx context.Context, key string, data []byte) (err error) {
	_, end := database.TraceQuery(ctx, "file", "WriteSnapshot", "rename")
	defer func() { end(err) }()

	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err = os.Rename(tmpName, s.path(key)); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Ping checks that the directory still exists.
func (s *Storage) Ping(context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("stat snapshot dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("snapshot path %s is not a directory", s.dir)
	}
	return nil
}
