// Package core wires persistence, locking, history, snapshots, and queries
// into the engine's public service surface. Every mutating operation runs
// under the repository's exclusive lock; reads never block.
package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"arxcore/internal/archive"
	"arxcore/internal/cache"
	"arxcore/internal/config"
	"arxcore/internal/lock"
	"arxcore/internal/persist"
	"arxcore/internal/query"
	"arxcore/internal/vcs"
	"arxcore/pkg/domain"
)

// ErrDirtyWorkingState rejects a checkout while uncommitted changes exist.
var ErrDirtyWorkingState = errors.New("core: working state has uncommitted changes")

// branchFile records the checked-out branch inside a repository directory.
const branchFile = "BRANCH"

// Service is the engine facade. Construct one per process with New.
type Service struct {
	cfg      config.Config
	logger   *zap.Logger
	locks    *lock.Manager
	store    *persist.Manager
	history  vcs.HistoryStore
	engine   *vcs.Engine
	archiver *archive.Archiver
}

type options struct {
	logger       *zap.Logger
	registerer   prometheus.Registerer
	historyStore vcs.HistoryStore
	archiveStore archive.Store
}

// Option configures service construction.
type Option func(*options)

// WithLogger attaches a logger; the default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics registers collectors for all components on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithHistoryStore injects a history store instead of opening one from the
// configuration.
func WithHistoryStore(store vcs.HistoryStore) Option {
	return func(o *options) { o.historyStore = store }
}

// WithArchiveStore injects a snapshot store instead of opening one from
// the configuration.
func WithArchiveStore(store archive.Store) Option {
	return func(o *options) { o.archiveStore = store }
}

// New constructs the service from configuration.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var cacheMetrics *cache.Metrics
	var lockMetrics *lock.Metrics
	var persistMetrics *persist.Metrics
	var vcsMetrics *vcs.Metrics
	if o.registerer != nil {
		cacheMetrics = cache.NewMetrics(o.registerer)
		lockMetrics = lock.NewMetrics(o.registerer)
		persistMetrics = persist.NewMetrics(o.registerer)
		vcsMetrics = vcs.NewMetrics(o.registerer)
	}

	repoCache, err := cache.New(cfg.Cache.Capacity, cache.WithMetrics(cacheMetrics))
	if err != nil {
		return nil, err
	}
	locks := lock.NewManager(cfg.DataDir,
		lock.WithStaleAfter(cfg.Lock.StaleAfter),
		lock.WithPollInterval(cfg.Lock.PollInterval),
		lock.WithLogger(logger),
		lock.WithMetrics(lockMetrics))
	store := persist.NewManager(cfg.DataDir, repoCache,
		persist.WithLogger(logger),
		persist.WithMetrics(persistMetrics))

	history := o.historyStore
	if history == nil {
		dsn := cfg.History.DSN
		if cfg.History.Driver == vcs.DriverSQLite {
			dsn = cfg.HistoryPath()
		}
		history, err = vcs.OpenHistoryStore(cfg.History.Driver, dsn)
		if err != nil {
			return nil, err
		}
	}
	engine := vcs.NewEngine(history, vcs.WithLogger(logger), vcs.WithMetrics(vcsMetrics))

	archiveStore := o.archiveStore
	if archiveStore == nil {
		archiveStore, err = archive.Open(ctx, archive.Config{
			Driver: archive.Driver(cfg.Archive.Driver),
			Root:   cfg.ArchiveRoot(),
			S3: archive.S3Config{
				Region:    cfg.Archive.S3.Region,
				Bucket:    cfg.Archive.S3.Bucket,
				Endpoint:  cfg.Archive.S3.Endpoint,
				PathStyle: cfg.Archive.S3.PathStyle,
			},
		})
		if err != nil {
			return nil, err
		}
	}

	return &Service{
		cfg:      cfg,
		logger:   logger,
		locks:    locks,
		store:    store,
		history:  history,
		engine:   engine,
		archiver: archive.NewArchiver(archiveStore, archive.WithLogger(logger)),
	}, nil
}

// Close releases the history store.
func (s *Service) Close() error {
	return s.history.Close()
}

func (s *Service) holder(author string) string {
	if author != "" {
		return author
	}
	if s.cfg.Author != "" {
		return s.cfg.Author
	}
	return "arxcore"
}

func (s *Service) withLock(ctx context.Context, repoID, holder string, fn func() error) error {
	guard, err := s.locks.Acquire(ctx, repoID, holder, s.cfg.Lock.AcquireTimeout)
	if err != nil {
		return err
	}
	defer func() { _ = guard.Release() }()
	return fn()
}

func (s *Service) branchPath(repoID string) string {
	return filepath.Join(s.cfg.DataDir, repoID, branchFile)
}

// CurrentBranch reports the checked-out branch, defaulting to main.
func (s *Service) CurrentBranch(repoID string) string {
	raw, err := os.ReadFile(s.branchPath(repoID))
	if err != nil {
		return vcs.DefaultBranch
	}
	name := strings.TrimSpace(string(raw))
	if name == "" {
		return vcs.DefaultBranch
	}
	return name
}

func (s *Service) setCurrentBranch(repoID, name string) error {
	path := s.branchPath(repoID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("core: record branch: %w", err)
	}
	if err := os.WriteFile(path, []byte(name+"\n"), 0o644); err != nil {
		return fmt.Errorf("core: record branch: %w", err)
	}
	return nil
}

// Init creates the repository document, writes the root commit holding its
// initial equipment as created operations, and archives the first
// snapshot.
func (s *Service) Init(ctx context.Context, repo *domain.Repository, author, message string) (domain.Commit, error) {
	var commit domain.Commit
	err := s.withLock(ctx, repo.ID, s.holder(author), func() error {
		if err := s.store.Create(ctx, repo); err != nil {
			return err
		}
		state, err := s.store.Load(ctx, repo.ID)
		if err != nil {
			return err
		}
		empty := &domain.Repository{ID: state.ID, Site: state.Site, Info: state.Info}
		changes, err := domain.Diff(empty, state)
		if err != nil {
			return err
		}
		hash, err := state.ContentHash()
		if err != nil {
			return err
		}
		commit, err = s.engine.Init(ctx, vcs.CommitInput{
			RepositoryID: repo.ID,
			Author:       s.holder(author),
			Message:      message,
			Changes:      changes,
			Entities:     state.EquipmentCount(),
			ContentHash:  hash,
		})
		if err != nil {
			return err
		}
		if _, err := s.archiver.Archive(ctx, commit.ID, state); err != nil {
			return err
		}
		return s.setCurrentBranch(repo.ID, vcs.DefaultBranch)
	})
	return commit, err
}

// Open returns a private copy of the current repository state.
func (s *Service) Open(ctx context.Context, repoID string) (*domain.Repository, error) {
	return s.store.Load(ctx, repoID)
}

// List returns the repositories present in the data directory.
func (s *Service) List(ctx context.Context) ([]string, error) {
	return s.store.List(ctx)
}

// Stage applies a mutation to the working state and persists it without
// committing. The returned change set covers this staging step only.
func (s *Service) Stage(ctx context.Context, repoID, author string, fn func(*domain.Repository) error) (domain.ChangeSet, error) {
	var changes domain.ChangeSet
	err := s.withLock(ctx, repoID, s.holder(author), func() error {
		handle, err := s.store.Open(ctx, repoID)
		if err != nil {
			return err
		}
		if err := fn(handle.Working); err != nil {
			return err
		}
		changes, err = s.store.Save(ctx, handle)
		return err
	})
	return changes, err
}

// stateAt restores the repository state archived for a commit.
func (s *Service) stateAt(ctx context.Context, repoID, commitID string) (*domain.Repository, error) {
	return s.archiver.Restore(ctx, repoID, commitID)
}

// Status reports the checked-out branch and the uncommitted changes
// relative to its head.
func (s *Service) Status(ctx context.Context, repoID string) (string, domain.ChangeSet, error) {
	branch := s.CurrentBranch(repoID)
	rec, err := s.engine.Branch(ctx, repoID, branch)
	if err != nil {
		return "", nil, err
	}
	committed, err := s.stateAt(ctx, repoID, rec.Head)
	if err != nil {
		return "", nil, err
	}
	current, err := s.store.Load(ctx, repoID)
	if err != nil {
		return "", nil, err
	}
	pending, err := domain.Diff(committed, current)
	if err != nil {
		return "", nil, err
	}
	return branch, pending, nil
}

// Commit records the staged changes as a commit on the checked-out branch
// and archives the resulting snapshot.
func (s *Service) Commit(ctx context.Context, repoID, author, message string) (domain.Commit, error) {
	var commit domain.Commit
	err := s.withLock(ctx, repoID, s.holder(author), func() error {
		var err error
		commit, err = s.commitLocked(ctx, repoID, author, message)
		return err
	})
	return commit, err
}

// StageAndCommit applies a mutation and commits it in one locked step, so
// no concurrent writer can interleave between the save and the commit.
func (s *Service) StageAndCommit(ctx context.Context, repoID, author, message string, fn func(*domain.Repository) error) (domain.Commit, error) {
	var commit domain.Commit
	err := s.withLock(ctx, repoID, s.holder(author), func() error {
		handle, err := s.store.Open(ctx, repoID)
		if err != nil {
			return err
		}
		if err := fn(handle.Working); err != nil {
			return err
		}
		if _, err := s.store.Save(ctx, handle); err != nil {
			return err
		}
		commit, err = s.commitLocked(ctx, repoID, author, message)
		return err
	})
	return commit, err
}

// commitLocked is the commit body; the caller holds the repository lock.
func (s *Service) commitLocked(ctx context.Context, repoID, author, message string) (domain.Commit, error) {
	branch := s.CurrentBranch(repoID)
	rec, err := s.engine.Branch(ctx, repoID, branch)
	if err != nil {
		return domain.Commit{}, err
	}
	committed, err := s.stateAt(ctx, repoID, rec.Head)
	if err != nil {
		return domain.Commit{}, err
	}
	current, err := s.store.Load(ctx, repoID)
	if err != nil {
		return domain.Commit{}, err
	}
	changes, err := domain.Diff(committed, current)
	if err != nil {
		return domain.Commit{}, err
	}
	if changes.IsEmpty() {
		return domain.Commit{}, vcs.ErrEmptyChangeSet
	}
	hash, err := current.ContentHash()
	if err != nil {
		return domain.Commit{}, err
	}
	commit, err := s.engine.Commit(ctx, vcs.CommitInput{
		RepositoryID: repoID,
		Branch:       branch,
		Author:       s.holder(author),
		Message:      message,
		Changes:      changes,
		Entities:     current.EquipmentCount(),
		ContentHash:  hash,
	})
	if err != nil {
		return domain.Commit{}, err
	}
	if _, err := s.archiver.Archive(ctx, commit.ID, current); err != nil {
		return domain.Commit{}, err
	}
	return commit, nil
}

// CreateBranch forks a branch from the checked-out one.
func (s *Service) CreateBranch(ctx context.Context, repoID, name string) (domain.Branch, error) {
	return s.engine.CreateBranch(ctx, repoID, name, s.CurrentBranch(repoID))
}

// DeleteBranch removes a branch pointer.
func (s *Service) DeleteBranch(ctx context.Context, repoID, name string) error {
	if name == s.CurrentBranch(repoID) {
		return fmt.Errorf("core: branch %s is checked out", name)
	}
	return s.engine.DeleteBranch(ctx, repoID, name)
}

// Branches lists the repository's branches.
func (s *Service) Branches(ctx context.Context, repoID string) ([]domain.Branch, error) {
	return s.engine.Branches(ctx, repoID)
}

// Checkout switches the working state to another branch's head. The
// working state must be clean.
func (s *Service) Checkout(ctx context.Context, repoID, branch string) error {
	return s.withLock(ctx, repoID, s.holder(""), func() error {
		_, pending, err := s.Status(ctx, repoID)
		if err != nil {
			return err
		}
		if !pending.IsEmpty() {
			return fmt.Errorf("%w: %d pending operation(s)", ErrDirtyWorkingState, pending.Len())
		}
		rec, err := s.engine.Branch(ctx, repoID, branch)
		if err != nil {
			return err
		}
		state, err := s.stateAt(ctx, repoID, rec.Head)
		if err != nil {
			return err
		}
		if err := s.store.Replace(ctx, state); err != nil {
			return err
		}
		return s.setCurrentBranch(repoID, branch)
	})
}

// Merge merges source into target, materializes the merged state, and
// archives it under the merge commit. When the target is the checked-out
// branch the working state is updated too.
func (s *Service) Merge(ctx context.Context, repoID, source, target, author, message string) (*vcs.MergeOutcome, error) {
	var outcome *vcs.MergeOutcome
	err := s.withLock(ctx, repoID, s.holder(author), func() error {
		var err error
		outcome, err = s.engine.Merge(ctx, repoID, source, target, s.holder(author), message)
		if err != nil {
			return err
		}
		return s.materializeMerge(ctx, repoID, target, outcome)
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// MergeWithResolution retries a conflicted merge with replacement
// operations for the conflicting addresses.
func (s *Service) MergeWithResolution(ctx context.Context, repoID, source, target, author, message string, resolution domain.ChangeSet) (*vcs.MergeOutcome, error) {
	var outcome *vcs.MergeOutcome
	err := s.withLock(ctx, repoID, s.holder(author), func() error {
		var err error
		outcome, err = s.engine.MergeWithResolution(ctx, repoID, source, target, s.holder(author), message, resolution)
		if err != nil {
			return err
		}
		return s.materializeMerge(ctx, repoID, target, outcome)
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// materializeMerge applies a merge outcome to the target's last archived
// state and stores the result.
func (s *Service) materializeMerge(ctx context.Context, repoID, target string, outcome *vcs.MergeOutcome) error {
	if outcome.UpToDate {
		return nil
	}
	base, err := s.stateAt(ctx, repoID, outcome.Commit.Parents[0])
	if err != nil {
		return err
	}
	if err := outcome.Applied.Apply(base); err != nil {
		return fmt.Errorf("core: apply merge %s: %w", outcome.Commit.ID, err)
	}
	if _, err := s.archiver.Archive(ctx, outcome.Commit.ID, base); err != nil {
		return err
	}
	if s.CurrentBranch(repoID) == target {
		return s.store.Replace(ctx, base)
	}
	return nil
}

// Diff returns the net change set between two commits.
func (s *Service) Diff(ctx context.Context, repoID, from, to string) (domain.ChangeSet, error) {
	return s.engine.Diff(ctx, repoID, from, to)
}

// History lists commits on a branch, newest first; an empty branch name
// means the checked-out one.
func (s *Service) History(ctx context.Context, repoID, branch string, limit int) ([]domain.Commit, error) {
	if branch == "" {
		branch = s.CurrentBranch(repoID)
	}
	return s.engine.History(ctx, repoID, branch, limit)
}

// Find returns the equipment matching an address pattern with all
// predicates applied.
func (s *Service) Find(ctx context.Context, repoID, pattern string, preds ...query.Predicate) ([]domain.Equipment, error) {
	repo, err := s.store.Load(ctx, repoID)
	if err != nil {
		return nil, err
	}
	seq, err := query.Filter(repo, pattern, preds...)
	if err != nil {
		return nil, err
	}
	return query.Collect(seq), nil
}

// OpenPullRequest proposes merging source into target.
func (s *Service) OpenPullRequest(ctx context.Context, repoID, source, target, author, title, description string) (domain.PullRequest, error) {
	return s.engine.OpenPullRequest(ctx, repoID, source, target, author, title, description)
}

// ApprovePullRequest records a reviewer sign-off.
func (s *Service) ApprovePullRequest(ctx context.Context, repoID, id, reviewer string) (domain.PullRequest, error) {
	return s.engine.ApprovePullRequest(ctx, repoID, id, reviewer)
}

// CommentPullRequest adds a comment.
func (s *Service) CommentPullRequest(ctx context.Context, repoID, id, author, body string) (domain.PullRequest, error) {
	return s.engine.CommentPullRequest(ctx, repoID, id, author, body)
}

// MergePullRequest merges an approved pull request and materializes the
// merged state like Merge.
func (s *Service) MergePullRequest(ctx context.Context, repoID, id, author string) (domain.PullRequest, error) {
	var pr domain.PullRequest
	err := s.withLock(ctx, repoID, s.holder(author), func() error {
		var outcome *vcs.MergeOutcome
		var err error
		pr, outcome, err = s.engine.MergePullRequest(ctx, repoID, id, s.holder(author))
		if err != nil {
			return err
		}
		return s.materializeMerge(ctx, repoID, pr.Target, outcome)
	})
	if err != nil {
		var conflict *vcs.MergeConflictError
		if errors.As(err, &conflict) {
			return pr, err
		}
		return domain.PullRequest{}, err
	}
	return pr, nil
}

// ClosePullRequest closes a pull request without merging.
func (s *Service) ClosePullRequest(ctx context.Context, repoID, id string) (domain.PullRequest, error) {
	return s.engine.ClosePullRequest(ctx, repoID, id)
}

// PullRequests lists pull requests.
func (s *Service) PullRequests(ctx context.Context, repoID string) ([]domain.PullRequest, error) {
	return s.engine.PullRequests(ctx, repoID)
}

// OpenIssue files an issue.
func (s *Service) OpenIssue(ctx context.Context, repoID, title, body string) (domain.Issue, error) {
	return s.engine.OpenIssue(ctx, repoID, title, body)
}

// AssignIssue assigns an issue.
func (s *Service) AssignIssue(ctx context.Context, repoID, id, assignee string) (domain.Issue, error) {
	return s.engine.AssignIssue(ctx, repoID, id, assignee)
}

// CloseIssue closes an issue.
func (s *Service) CloseIssue(ctx context.Context, repoID, id string) (domain.Issue, error) {
	return s.engine.CloseIssue(ctx, repoID, id)
}

// Issues lists issues.
func (s *Service) Issues(ctx context.Context, repoID string) ([]domain.Issue, error) {
	return s.engine.Issues(ctx, repoID)
}

// Snapshots lists a repository's archived snapshots.
func (s *Service) Snapshots(ctx context.Context, repoID string) ([]archive.Object, error) {
	return s.archiver.Snapshots(ctx, repoID)
}

// SnapshotURL returns a time-limited download URL for a commit snapshot.
func (s *Service) SnapshotURL(ctx context.Context, repoID, commitID string) (string, error) {
	return s.archiver.ShareURL(ctx, repoID, commitID, 0)
}

// RestoreSnapshot returns the archived state of a commit without touching
// the working state.
func (s *Service) RestoreSnapshot(ctx context.Context, repoID, commitID string) (*domain.Repository, error) {
	return s.stateAt(ctx, repoID, commitID)
}
