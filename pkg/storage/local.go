package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage implements Storage on the local filesystem.
type LocalStorage struct {
	basePath  string
	publicURL string
}

// LocalConfig holds configuration for local storage.
type LocalConfig struct {
	BasePath  string `mapstructure:"base_path"`
	PublicURL string `mapstructure:"public_url"` // prefix for URL, "/media" by default
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	if cfg.BasePath == "" {
		cfg.BasePath = "./data/media"
	}
	if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	absPath, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = "/media"
	}

	return &LocalStorage{
		basePath:  absPath,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// fullPath returns the filesystem path for a key. Keys escaping basePath
// resolve to basePath itself.
func (s *LocalStorage) fullPath(key string) string {
	cleanKey := filepath.Clean(key)
	if cleanKey == ".." || strings.HasPrefix(cleanKey, ".."+string(os.PathSeparator)) {
		cleanKey = ""
	}
	return filepath.Join(s.basePath, cleanKey)
}

// Write stores content atomically through a temp file and rename.
func (s *LocalStorage) Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	path := s.fullPath(key)
	if path == s.basePath {
		return fmt.Errorf("invalid key: %q", key)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, r); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write content: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Read retrieves content for the given key.
func (s *LocalStorage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(s.fullPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes the content with the given key.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.fullPath(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Exists checks if content with the given key exists.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	info, err := os.Stat(s.fullPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return !info.IsDir(), nil
}

// URL returns the HTTP path the media route serves the key from.
func (s *LocalStorage) URL(key string) string {
	return s.publicURL + "/" + key
}

// BasePath returns the directory files are stored under.
func (s *LocalStorage) BasePath() string {
	return s.basePath
}
