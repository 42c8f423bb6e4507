// Package archive stores immutable repository snapshots as compressed
// blobs, one per commit. Backends share a small S3-like surface; objects
// are create-only because a commit's snapshot never changes.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Driver identifies a snapshot storage backend.
type Driver string

// Available drivers.
const (
	DriverFS     Driver = "fs"
	DriverS3     Driver = "s3"
	DriverMemory Driver = "memory"
)

// Object describes a stored snapshot blob.
type Object struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size_bytes"`
	Checksum    string    `json:"checksum,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	StoredAt    time.Time `json:"stored_at"`
}

var (
	// ErrObjectExists rejects writing a key twice.
	ErrObjectExists = errors.New("archive: object already exists")
	// ErrObjectNotFound marks a missing key.
	ErrObjectNotFound = errors.New("archive: object not found")
	// ErrUnsupported is returned for capabilities a backend lacks.
	ErrUnsupported = errors.New("archive: unsupported operation")
)

// Store is the snapshot blob backend.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (Object, error)
	Get(ctx context.Context, key string) (Object, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Object, error)
	PresignURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	Driver() Driver
}

// Config selects and parameterizes a backend.
type Config struct {
	Driver Driver
	// Root is the filesystem directory for the fs driver.
	Root string
	// S3 configures the s3 driver.
	S3 S3Config
}

// Open constructs the store selected by cfg. An empty driver defaults to
// the filesystem.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFS, "":
		return NewFSStore(cfg.Root)
	case DriverS3:
		return NewS3Store(ctx, cfg.S3)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("archive: unknown driver %q", cfg.Driver)
	}
}
