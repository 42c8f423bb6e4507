// Package lock implements the exclusive-writer discipline over a
// repository: a file-marker lock with holder metadata, poll-with-timeout
// acquisition, and stale-lock reclaim. Readers never take the lock; the
// marker file is what makes cross-process mutation safe.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MarkerName is the lock marker file created inside a repository directory.
const MarkerName = ".arxlock"

// Defaults applied when the manager is constructed with zero options.
const (
	DefaultStaleAfter   = 10 * time.Minute
	DefaultPollInterval = 50 * time.Millisecond
)

// ErrTimedOut is returned when the acquisition window elapses while a
// competing holder retains the lock.
var ErrTimedOut = errors.New("lock: acquisition timed out")

// AlreadyLockedError reports the competing holder so callers can present a
// useful "blocked by X since T" message. It is never retried automatically;
// the caller decides whether to wait, break a stale lock, or abort.
type AlreadyLockedError struct {
	Holder string
	Since  time.Time
}

func (e AlreadyLockedError) Error() string {
	return fmt.Sprintf("lock: held by %s since %s", e.Holder, e.Since.Format(time.RFC3339))
}

type marker struct {
	Holder     string    `json:"holder"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Manager acquires exclusive locks for repositories under a data
// directory. It is an explicit, injectable component: tests construct an
// isolated manager per case rather than sharing ambient state.
type Manager struct {
	dir          string
	staleAfter   time.Duration
	pollInterval time.Duration
	logger       *zap.Logger
	metrics      *Metrics
	nowFn        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithStaleAfter overrides the staleness threshold beyond which a lock is
// presumed abandoned.
func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) { m.staleAfter = d }
}

// WithPollInterval overrides the retry interval while waiting for a
// competing holder.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = d }
}

// WithLogger attaches a logger; the default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics attaches lock metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager constructs a lock manager rooted at the data directory.
func NewManager(dir string, opts ...Option) *Manager {
	m := &Manager{
		dir:          dir,
		staleAfter:   DefaultStaleAfter,
		pollInterval: DefaultPollInterval,
		logger:       zap.NewNop(),
		nowFn:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) markerPath(repoID string) string {
	return filepath.Join(m.dir, repoID, MarkerName)
}

// Acquire obtains the exclusive lock for the repository, waiting up to
// timeout for a competing holder to release. A lock older than the
// staleness threshold is reclaimed with a warning. With a zero timeout the
// attempt is immediate. Callers may abandon the wait early via ctx; once
// held, a lock is only released by guard release.
func (m *Manager) Acquire(ctx context.Context, repoID, holderID string, timeout time.Duration) (*Guard, error) {
	if holderID == "" {
		return nil, fmt.Errorf("lock: holder id required")
	}
	start := m.nowFn()
	deadline := start.Add(timeout)
	for {
		guard, err := m.tryAcquire(repoID, holderID)
		if err == nil {
			if m.metrics != nil {
				m.metrics.observeWait(m.nowFn().Sub(start))
			}
			return guard, nil
		}
		var already AlreadyLockedError
		if !errors.As(err, &already) {
			return nil, err
		}
		if timeout <= 0 || !m.nowFn().Before(deadline) {
			if timeout <= 0 {
				return nil, already
			}
			return nil, fmt.Errorf("%w after %s: %w", ErrTimedOut, timeout, already)
		}
		wait := m.pollInterval
		if remaining := deadline.Sub(m.nowFn()); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// tryAcquire attempts a single atomic acquisition, reclaiming a stale
// marker when found.
func (m *Manager) tryAcquire(repoID, holderID string) (*Guard, error) {
	path := m.markerPath(repoID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lock: create repo dir: %w", err)
	}
	now := m.nowFn()
	payload, err := json.MarshalIndent(marker{Holder: holderID, PID: os.Getpid(), AcquiredAt: now}, "", "  ")
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		existing, readErr := m.readMarker(path)
		if readErr != nil {
			// Competing holder mid-write or corrupt marker; treat as live
			// and let the caller poll.
			return nil, AlreadyLockedError{Holder: "unknown", Since: now}
		}
		if now.Sub(existing.AcquiredAt) > m.staleAfter {
			m.logger.Warn("reclaiming stale lock",
				zap.String("repository", repoID),
				zap.String("holder", existing.Holder),
				zap.Time("acquired_at", existing.AcquiredAt),
				zap.Duration("stale_after", m.staleAfter))
			if m.metrics != nil {
				m.metrics.staleReclaims.Inc()
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("lock: reclaim stale marker: %w", err)
			}
			return m.tryAcquire(repoID, holderID)
		}
		return nil, AlreadyLockedError{Holder: existing.Holder, Since: existing.AcquiredAt}
	}
	if err != nil {
		return nil, fmt.Errorf("lock: create marker: %w", err)
	}
	if _, err := file.Write(payload); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("lock: write marker: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("lock: close marker: %w", err)
	}
	return &Guard{path: path, holder: holderID, acquiredAt: now}, nil
}

func (m *Manager) readMarker(path string) (marker, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return marker{}, err
	}
	var mk marker
	if err := json.Unmarshal(raw, &mk); err != nil {
		return marker{}, err
	}
	return mk, nil
}

// Inspect returns the current holder metadata without acquiring.
func (m *Manager) Inspect(repoID string) (holder string, since time.Time, held bool) {
	mk, err := m.readMarker(m.markerPath(repoID))
	if err != nil {
		return "", time.Time{}, false
	}
	return mk.Holder, mk.AcquiredAt, true
}

// Guard represents a held exclusive lock. Release is idempotent and safe
// on every exit path; deferring it guarantees release even on panic.
type Guard struct {
	path       string
	holder     string
	acquiredAt time.Time

	mu       sync.Mutex
	released bool
}

// Holder returns the id the lock was acquired with.
func (g *Guard) Holder() string { return g.holder }

// AcquiredAt returns the acquisition timestamp written to the marker.
func (g *Guard) AcquiredAt() time.Time { return g.acquiredAt }

// Release removes the marker file. Calling it more than once is a no-op.
func (g *Guard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return nil
	}
	g.released = true
	if err := os.Remove(g.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("lock: release: %w", err)
	}
	return nil
}
