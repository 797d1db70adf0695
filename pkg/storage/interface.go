package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Storage defines the object operations used for chat media.
type Storage interface {
	// Write stores content from the reader with the given key.
	// The size parameter is the expected content size (-1 if unknown).
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Read retrieves content for the given key.
	// The caller is responsible for closing the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the content with the given key. Deleting a missing key
	// is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if content with the given key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns the address clients use to fetch the object.
	URL(key string) string
}

// Config selects and configures a storage backend.
type Config struct {
	Driver string      `mapstructure:"driver"` // "s3" or "local"
	S3     S3Config    `mapstructure:"s3"`
	Local  LocalConfig `mapstructure:"local"`
}

// New creates the backend named by cfg.Driver.
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Storage(ctx, cfg.S3)
	case "local", "":
		return NewLocalStorage(cfg.Local)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
