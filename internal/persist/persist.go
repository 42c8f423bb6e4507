// Package persist owns the on-disk representation of a repository: one
// canonical JSON document per repository under the data directory, written
// atomically via a temp file and rename. Reads go through the repository
// cache; a transient IO failure is retried once before surfacing.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"arxcore/internal/cache"
	"arxcore/pkg/domain"
)

// FileName is the repository document inside each repository directory.
const FileName = "building.json"

// DefaultRetryBackoff is the pause before the single IO retry.
const DefaultRetryBackoff = 25 * time.Millisecond

var (
	// ErrNotFound marks a repository id with no document on disk.
	ErrNotFound = errors.New("persist: repository not found")
	// ErrCorrupt marks a document that exists but does not decode.
	ErrCorrupt = errors.New("persist: repository document corrupt")
	// ErrIO marks a read or write failure that persisted through the retry.
	ErrIO = errors.New("persist: io failure")
	// ErrSerialization marks a repository that failed to encode.
	ErrSerialization = errors.New("persist: serialization failure")
)

// Manager loads and saves repositories beneath a single data directory.
type Manager struct {
	dir          string
	cache        *cache.RepositoryCache
	logger       *zap.Logger
	metrics      *Metrics
	retryBackoff time.Duration
	nowFn        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger attaches a logger; the default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics attaches persistence metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithRetryBackoff overrides the pause before the single IO retry.
func WithRetryBackoff(d time.Duration) Option {
	return func(m *Manager) { m.retryBackoff = d }
}

// NewManager constructs a persistence manager rooted at dir, fronted by the
// supplied cache.
func NewManager(dir string, repoCache *cache.RepositoryCache, opts ...Option) *Manager {
	m := &Manager{
		dir:          dir,
		cache:        repoCache,
		logger:       zap.NewNop(),
		retryBackoff: DefaultRetryBackoff,
		nowFn:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the data directory the manager is rooted at.
func (m *Manager) Dir() string { return m.dir }

func (m *Manager) documentPath(repoID string) string {
	return filepath.Join(m.dir, repoID, FileName)
}

// Load returns a private copy of the repository, reading from disk on a
// cache miss.
func (m *Manager) Load(ctx context.Context, repoID string) (*domain.Repository, error) {
	return m.cache.Get(ctx, repoID, m.readDocument)
}

// Open loads the repository and wraps it in a handle whose working copy can
// be mutated and saved.
func (m *Manager) Open(ctx context.Context, repoID string) (*Handle, error) {
	repo, err := m.Load(ctx, repoID)
	if err != nil {
		return nil, err
	}
	return &Handle{repoID: repoID, base: repo.Clone(), Working: repo}, nil
}

// Create writes a brand-new repository document. The id must not already
// have a document on disk.
func (m *Manager) Create(ctx context.Context, repo *domain.Repository) error {
	path := m.documentPath(repo.ID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("persist: repository %q already exists", repo.ID)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
	}
	now := m.nowFn()
	repo.Info.CreatedAt = now
	repo.Info.UpdatedAt = now
	if repo.Info.Version == 0 {
		repo.Info.Version = 1
	}
	repo.RefreshMetadata()
	if err := m.writeDocument(ctx, repo); err != nil {
		return err
	}
	m.cache.Put(repo.ID, repo)
	return nil
}

// Save persists the handle's working copy and returns the change set
// between the copy loaded at open time and what was written. The working
// copy becomes the new base, so a handle can be saved repeatedly.
func (m *Manager) Save(ctx context.Context, h *Handle) (domain.ChangeSet, error) {
	changes, err := domain.Diff(h.base, h.Working)
	if err != nil {
		return nil, fmt.Errorf("persist: diff working copy: %w", err)
	}
	if changes.IsEmpty() {
		return changes, nil
	}
	h.Working.Info.UpdatedAt = m.nowFn()
	h.Working.Info.Version++
	h.Working.RefreshMetadata()
	if err := m.writeDocument(ctx, h.Working); err != nil {
		return nil, err
	}
	m.cache.Put(h.repoID, h.Working)
	h.base = h.Working.Clone()
	m.metrics.saved(changes.Len())
	return changes, nil
}

// Replace writes repo as the new current state regardless of what is on
// disk, bumping version and timestamps. Checkout and merge use it to
// materialize a state that was computed rather than edited.
func (m *Manager) Replace(ctx context.Context, repo *domain.Repository) error {
	current, err := m.Load(ctx, repo.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	next := repo.Clone()
	if current != nil {
		next.Info.Version = current.Info.Version
	}
	next.Info.Version++
	next.Info.UpdatedAt = m.nowFn()
	next.RefreshMetadata()
	if err := m.writeDocument(ctx, next); err != nil {
		return err
	}
	m.cache.Put(next.ID, next)
	return nil
}

// Delete removes the repository document and drops the cache entry. The
// directory is kept; history and lock markers live beside the document.
func (m *Manager) Delete(ctx context.Context, repoID string) error {
	if err := os.Remove(m.documentPath(repoID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: remove document: %w", ErrIO, err)
	}
	m.cache.Invalidate(repoID)
	return nil
}

// List returns the ids of repositories that have a document on disk.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read data dir: %w", ErrIO, err)
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(m.documentPath(entry.Name())); err == nil {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

func (m *Manager) readDocument(ctx context.Context, repoID string) (*domain.Repository, error) {
	path := m.documentPath(repoID)
	raw, err := m.readWithRetry(ctx, path)
	if err != nil {
		return nil, err
	}
	var repo domain.Repository
	if err := json.Unmarshal(raw, &repo); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}
	if repo.ID != repoID {
		return nil, fmt.Errorf("%w: %s: document id %q does not match directory", ErrCorrupt, path, repo.ID)
	}
	m.metrics.loaded()
	return &repo, nil
}

func (m *Manager) readWithRetry(ctx context.Context, path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		return raw, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	m.logger.Warn("repository read failed, retrying once",
		zap.String("path", path), zap.Error(err))
	m.metrics.retried()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.retryBackoff):
	}
	raw, err = os.ReadFile(path)
	if err == nil {
		return raw, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return nil, fmt.Errorf("%w: read %s: %w", ErrIO, path, err)
}

// writeDocument writes the canonical form atomically. The temp file lives
// in the repository directory so the rename stays on one filesystem.
func (m *Manager) writeDocument(ctx context.Context, repo *domain.Repository) error {
	raw, err := repo.MarshalCanonical()
	if err != nil {
		return fmt.Errorf("%w: encode repository %q: %w", ErrSerialization, repo.ID, err)
	}
	path := m.documentPath(repo.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: create repo dir: %w", ErrIO, err)
	}
	err = m.writeAtomic(path, raw)
	if err == nil {
		return nil
	}
	m.logger.Warn("repository write failed, retrying once",
		zap.String("path", path), zap.Error(err))
	m.metrics.retried()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.retryBackoff):
	}
	if err := m.writeAtomic(path, raw); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrIO, path, err)
	}
	return nil
}

func (m *Manager) writeAtomic(path string, raw []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".building-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(raw); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Handle pairs a working copy with the state it was loaded from, so a save
// can compute exactly what changed.
type Handle struct {
	repoID string
	base   *domain.Repository

	// Working is the mutable copy callers edit between Open and Save.
	Working *domain.Repository
}

// RepositoryID returns the id the handle was opened for.
func (h *Handle) RepositoryID() string { return h.repoID }

// Base returns a copy of the state loaded at open time (or at the last
// successful save).
func (h *Handle) Base() *domain.Repository { return h.base.Clone() }

// Pending computes the change set accumulated on the working copy without
// saving it.
func (h *Handle) Pending() (domain.ChangeSet, error) {
	return domain.Diff(h.base, h.Working)
}

// Discard resets the working copy back to the base state.
func (h *Handle) Discard() {
	h.Working = h.base.Clone()
}
