package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"yaw/api/internal/util"
)

// Dir keeps objects as plain files under a root directory.
type Dir struct {
	root string
}

func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) path(key string) (string, string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", "", err
	}
	return cleaned, filepath.Join(d.root, filepath.FromSlash(cleaned)), nil
}

func (d *Dir) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	_, full, err := d.path(key)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read upload body: %w", err)
	}
	if err := util.WriteFileAtomic(full, data, 0o644); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func (d *Dir) Get(_ context.Context, key string) (io.ReadCloser, Object, error) {
	cleaned, full, err := d.path(key)
	if err != nil {
		return nil, Object{}, err
	}
	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, Object{}, fmt.Errorf("%w: %s", ErrNotFound, cleaned)
	}
	if err != nil {
		return nil, Object{}, fmt.Errorf("open %s: %w", cleaned, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, Object{}, fmt.Errorf("stat %s: %w", cleaned, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, Object{}, fmt.Errorf("%w: %s", ErrNotFound, cleaned)
	}
	return f, Object{Key: cleaned, Size: info.Size(), ContentType: ContentType(cleaned)}, nil
}

func (d *Dir) Ping(context.Context) error {
	return os.MkdirAll(d.root, 0o755)
}
