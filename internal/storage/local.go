package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// LocalStore keeps assets under a base data directory.
type LocalStore struct {
	baseDir string
	logger  *slog.Logger
}

var _ AssetStore = (*LocalStore)(nil)

// NewLocalStore creates the category subtrees under baseDir.
func NewLocalStore(baseDir string, logger *slog.Logger) (*LocalStore, error) {
	if baseDir == "" {
		baseDir = "./data"
	}
	for _, c := range Categories {
		if err := os.MkdirAll(filepath.Join(baseDir, filepath.FromSlash(string(c))), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", c, err)
		}
	}
	return &LocalStore{baseDir: baseDir, logger: logger}, nil
}

func (s *LocalStore) dir(category Category) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(string(category)))
}

// Save writes data to a temp file in the target directory and renames it
// into place.
func (s *LocalStore) Save(ctx context.Context, category Category, ext string, data []byte, opts ...SaveOption) (Asset, error) {
	if !ValidCategory(category) {
		return Asset{}, fmt.Errorf("%w: category %q", ErrInvalidAsset, category)
	}
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}
	asset := newAsset(category, ext, data, opts)

	dir := s.dir(category)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return Asset{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Asset{}, fmt.Errorf("failed to write asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Asset{}, fmt.Errorf("failed to close asset: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, asset.Name())); err != nil {
		os.Remove(tmpName)
		return Asset{}, fmt.Errorf("failed to store asset: %w", err)
	}

	s.logger.Debug("Asset saved", "category", category, "id", asset.ID, "bytes", len(data))
	return asset, nil
}

func (s *LocalStore) Open(ctx context.Context, category Category, name string) (io.ReadCloser, error) {
	if !ValidCategory(category) || !validName(name) {
		return nil, fmt.Errorf("%w: %s/%s", ErrInvalidAsset, category, name)
	}
	f, err := os.Open(filepath.Join(s.dir(category), name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, category, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open asset: %w", err)
	}
	return f, nil
}

func (s *LocalStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.baseDir)
	return err
}
