package archive

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"arxcore/pkg/domain"
)

// Archiver writes one compressed repository snapshot per commit and reads
// them back. Keys are "<repository>/<commit>.json.gz".
type Archiver struct {
	store  Store
	logger *zap.Logger
}

// ArchiverOption configures an Archiver.
type ArchiverOption func(*Archiver)

// WithLogger attaches a logger; the default is a no-op logger.
func WithLogger(logger *zap.Logger) ArchiverOption {
	return func(a *Archiver) { a.logger = logger }
}

// NewArchiver constructs an archiver over the store.
func NewArchiver(store Store, opts ...ArchiverOption) *Archiver {
	a := &Archiver{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SnapshotKey returns the object key for a commit snapshot.
func SnapshotKey(repoID, commitID string) string {
	return repoID + "/" + commitID + ".json.gz"
}

// Archive stores the repository state reached by a commit. Snapshots are
// immutable; archiving the same commit twice returns the stored object.
func (a *Archiver) Archive(ctx context.Context, commitID string, repo *domain.Repository) (Object, error) {
	key := SnapshotKey(repo.ID, commitID)
	raw, err := repo.MarshalCanonical()
	if err != nil {
		return Object{}, fmt.Errorf("archive: encode snapshot %s: %w", key, err)
	}
	pr, pw := io.Pipe()
	go func() {
		gz := gzip.NewWriter(pw)
		if _, err := gz.Write(raw); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(gz.Close())
	}()
	obj, err := a.store.Put(ctx, key, pr)
	if errors.Is(err, ErrObjectExists) {
		return a.store.Head(ctx, key)
	}
	if err != nil {
		return Object{}, err
	}
	a.logger.Info("snapshot archived",
		zap.String("key", key),
		zap.Int64("size_bytes", obj.Size))
	return obj, nil
}

// Restore reads a commit snapshot back into a repository.
func (a *Archiver) Restore(ctx context.Context, repoID, commitID string) (*domain.Repository, error) {
	key := SnapshotKey(repoID, commitID)
	_, body, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()
	gz, err := gzip.NewReader(body)
	if err != nil {
		return nil, fmt.Errorf("archive: open snapshot %s: %w", key, err)
	}
	defer func() { _ = gz.Close() }()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("archive: read snapshot %s: %w", key, err)
	}
	var repo domain.Repository
	if err := json.Unmarshal(raw, &repo); err != nil {
		return nil, fmt.Errorf("archive: decode snapshot %s: %w", key, err)
	}
	return &repo, nil
}

// Snapshots lists the archived snapshots of a repository.
func (a *Archiver) Snapshots(ctx context.Context, repoID string) ([]Object, error) {
	return a.store.List(ctx, repoID+"/")
}

// ShareURL returns a time-limited URL for downloading a snapshot.
func (a *Archiver) ShareURL(ctx context.Context, repoID, commitID string, expiry time.Duration) (string, error) {
	return a.store.PresignURL(ctx, SnapshotKey(repoID, commitID), expiry)
}
