package cursor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

type fileStore struct {
	path string
}

// NewFileStore keeps the cursor in a JSON file at path. Saves write a
// sibling temp file and rename it over path.
func NewFileStore(path string) Store {
	return &fileStore{path: path}
}

func (s *fileStore) Load(ctx context.Context) (*Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cursor: read %s: %w", s.path, err)
	}
	return decode(data)
}

func (s *fileStore) Save(ctx context.Context, c *Cursor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(c)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cursor: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("cursor: temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cursor: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cursor: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cursor: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("cursor: rename: %w", err)
	}
	return nil
}
