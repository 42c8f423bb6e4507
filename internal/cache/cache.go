// Package cache keeps recently opened repositories in memory. Entries are
// cloned on the way in and out so a cached repository can never be mutated
// behind the cache's back, and concurrent loads of the same repository are
// collapsed into a single backing read.
package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"arxcore/pkg/domain"
)

// DefaultCapacity bounds the cache when no capacity is configured.
const DefaultCapacity = 32

// Loader produces a repository on a cache miss.
type Loader func(ctx context.Context, repoID string) (*domain.Repository, error)

// RepositoryCache is a bounded LRU of parsed repositories keyed by
// repository id.
type RepositoryCache struct {
	entries *lru.Cache[string, *domain.Repository]
	group   singleflight.Group
	metrics *Metrics
}

// Option configures a RepositoryCache.
type Option func(*RepositoryCache)

// WithMetrics attaches cache metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(c *RepositoryCache) { c.metrics = metrics }
}

// New constructs a repository cache holding at most capacity entries. A
// non-positive capacity falls back to DefaultCapacity.
func New(capacity int, opts ...Option) (*RepositoryCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &RepositoryCache{}
	for _, opt := range opts {
		opt(c)
	}
	entries, err := lru.NewWithEvict[string, *domain.Repository](capacity, func(string, *domain.Repository) {
		c.metrics.evicted()
	})
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	c.entries = entries
	return c, nil
}

// Get returns a private clone of the cached repository, loading it through
// load on a miss. Concurrent misses for the same id share one load; each
// caller still receives its own clone.
func (c *RepositoryCache) Get(ctx context.Context, repoID string, load Loader) (*domain.Repository, error) {
	if repo, ok := c.entries.Get(repoID); ok {
		c.metrics.hit()
		return repo.Clone(), nil
	}
	c.metrics.miss()
	v, err, _ := c.group.Do(repoID, func() (any, error) {
		// Re-check under the flight: a concurrent Put may have landed.
		if repo, ok := c.entries.Get(repoID); ok {
			return repo, nil
		}
		repo, err := load(ctx, repoID)
		if err != nil {
			return nil, err
		}
		c.entries.Add(repoID, repo.Clone())
		return repo, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Repository).Clone(), nil
}

// Peek reports the cached repository without touching recency or loading.
func (c *RepositoryCache) Peek(repoID string) (*domain.Repository, bool) {
	repo, ok := c.entries.Peek(repoID)
	if !ok {
		return nil, false
	}
	return repo.Clone(), true
}

// Put replaces the cached entry with a clone of repo. Callers invoke it
// after a successful save so readers observe the write without a reload.
func (c *RepositoryCache) Put(repoID string, repo *domain.Repository) {
	c.entries.Add(repoID, repo.Clone())
}

// Invalidate drops the entry for repoID, if present.
func (c *RepositoryCache) Invalidate(repoID string) {
	c.entries.Remove(repoID)
}

// Len reports the number of cached repositories.
func (c *RepositoryCache) Len() int {
	return c.entries.Len()
}
