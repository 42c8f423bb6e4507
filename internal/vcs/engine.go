package vcs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arxcore/pkg/domain"
)

// DefaultBranch is created by Init and can never be deleted.
const DefaultBranch = "main"

var (
	// ErrEmptyChangeSet rejects a commit that records no operations.
	ErrEmptyChangeSet = errors.New("vcs: nothing to commit")
	// ErrNoCommonAncestor means two commits share no history.
	ErrNoCommonAncestor = errors.New("vcs: no common ancestor")
	// ErrAlreadyInitialized rejects a second Init for one repository.
	ErrAlreadyInitialized = errors.New("vcs: repository already initialized")
)

// MergeConflictError carries every conflicting address of a failed merge.
// The merge writes nothing when this is returned.
type MergeConflictError struct {
	Source    string
	Target    string
	Conflicts []domain.ConflictEntry
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("vcs: merge %s into %s: %d conflicting address(es)",
		e.Source, e.Target, len(e.Conflicts))
}

// MergeOutcome reports what a merge did. When UpToDate is set the target
// already contained every source change and no commit was written; Applied
// holds the operations the caller must replay onto the target state.
type MergeOutcome struct {
	Commit   domain.Commit
	Applied  domain.ChangeSet
	UpToDate bool
}

// CommitInput is everything needed to append a commit to a branch.
type CommitInput struct {
	RepositoryID string
	Branch       string
	Author       string
	Message      string
	Changes      domain.ChangeSet

	// Entities and ContentHash describe the repository state after the
	// commit; callers that materialize state supply them for the stats row.
	Entities    int
	ContentHash string
}

// Engine runs version control over a history store. It manages the commit
// graph and branch pointers; materializing repository state from change
// sets is the caller's concern.
type Engine struct {
	store   HistoryStore
	logger  *zap.Logger
	metrics *Metrics
	nowFn   func() time.Time
	idFn    func() string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger attaches a logger; the default is a no-op logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics attaches version-control metrics.
func WithMetrics(metrics *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = metrics }
}

// WithClock overrides the commit timestamp source.
func WithClock(nowFn func() time.Time) EngineOption {
	return func(e *Engine) { e.nowFn = nowFn }
}

// WithIDGenerator overrides the commit and workflow id source.
func WithIDGenerator(idFn func() string) EngineOption {
	return func(e *Engine) { e.idFn = idFn }
}

// NewEngine constructs an engine over the history store.
func NewEngine(store HistoryStore, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		logger: zap.NewNop(),
		nowFn:  func() time.Time { return time.Now().UTC() },
		idFn:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Init writes the root commit and creates the default branch pointing at
// it. The change set may be empty for a repository starting from nothing.
func (e *Engine) Init(ctx context.Context, in CommitInput) (domain.Commit, error) {
	if _, err := e.store.GetBranch(ctx, in.RepositoryID, DefaultBranch); err == nil {
		return domain.Commit{}, fmt.Errorf("%w: %s", ErrAlreadyInitialized, in.RepositoryID)
	} else if !errors.Is(err, ErrBranchNotFound) {
		return domain.Commit{}, err
	}
	changes := in.Changes
	if changes == nil {
		changes = domain.NewChangeSet()
	}
	now := e.nowFn()
	commit := domain.Commit{
		ID:           e.idFn(),
		RepositoryID: in.RepositoryID,
		Author:       in.Author,
		Message:      in.Message,
		CreatedAt:    now,
		Changes:      changes,
		Stats:        e.stats(changes, in),
	}
	if err := e.store.PutCommit(ctx, commit); err != nil {
		return domain.Commit{}, err
	}
	branch := domain.Branch{
		RepositoryID: in.RepositoryID,
		Name:         DefaultBranch,
		Head:         commit.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.PutBranch(ctx, branch); err != nil {
		return domain.Commit{}, err
	}
	e.metrics.committed()
	e.logger.Info("repository initialized",
		zap.String("repository", in.RepositoryID),
		zap.String("commit", commit.ID))
	return commit, nil
}

// Commit appends a commit to the branch and advances its head.
func (e *Engine) Commit(ctx context.Context, in CommitInput) (domain.Commit, error) {
	if in.Changes.IsEmpty() {
		return domain.Commit{}, ErrEmptyChangeSet
	}
	branch, err := e.store.GetBranch(ctx, in.RepositoryID, in.Branch)
	if err != nil {
		return domain.Commit{}, err
	}
	now := e.nowFn()
	commit := domain.Commit{
		ID:           e.idFn(),
		RepositoryID: in.RepositoryID,
		Parents:      []string{branch.Head},
		Author:       in.Author,
		Message:      in.Message,
		CreatedAt:    now,
		Changes:      in.Changes.Clone(),
		Stats:        e.stats(in.Changes, in),
	}
	if err := e.store.PutCommit(ctx, commit); err != nil {
		return domain.Commit{}, err
	}
	branch.Head = commit.ID
	branch.UpdatedAt = now
	if err := e.store.PutBranch(ctx, branch); err != nil {
		return domain.Commit{}, err
	}
	e.metrics.committed()
	e.logger.Info("commit created",
		zap.String("repository", in.RepositoryID),
		zap.String("branch", in.Branch),
		zap.String("commit", commit.ID),
		zap.Int("operations", commit.Changes.Len()))
	return commit, nil
}

func (e *Engine) stats(changes domain.ChangeSet, in CommitInput) domain.CommitStats {
	stats := domain.StatsFor(changes)
	stats.Entities = in.Entities
	stats.ContentHash = in.ContentHash
	return stats
}

// CreateBranch creates a branch pointing at the head of from (the default
// branch when from is empty).
func (e *Engine) CreateBranch(ctx context.Context, repoID, name, from string) (domain.Branch, error) {
	if _, err := e.store.GetBranch(ctx, repoID, name); err == nil {
		return domain.Branch{}, fmt.Errorf("%w: %s", ErrBranchExists, name)
	} else if !errors.Is(err, ErrBranchNotFound) {
		return domain.Branch{}, err
	}
	if from == "" {
		from = DefaultBranch
	}
	source, err := e.store.GetBranch(ctx, repoID, from)
	if err != nil {
		return domain.Branch{}, err
	}
	now := e.nowFn()
	branch := domain.Branch{
		RepositoryID: repoID,
		Name:         name,
		Head:         source.Head,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.PutBranch(ctx, branch); err != nil {
		return domain.Branch{}, err
	}
	return branch, nil
}

// DeleteBranch removes a branch pointer. The default branch is protected.
func (e *Engine) DeleteBranch(ctx context.Context, repoID, name string) error {
	if name == DefaultBranch {
		return fmt.Errorf("vcs: branch %s cannot be deleted", DefaultBranch)
	}
	return e.store.DeleteBranch(ctx, repoID, name)
}

// Branches lists branches for the repository.
func (e *Engine) Branches(ctx context.Context, repoID string) ([]domain.Branch, error) {
	return e.store.ListBranches(ctx, repoID)
}

// Branch returns a single branch.
func (e *Engine) Branch(ctx context.Context, repoID, name string) (domain.Branch, error) {
	return e.store.GetBranch(ctx, repoID, name)
}

// GetCommit returns a single commit by id.
func (e *Engine) GetCommit(ctx context.Context, repoID, id string) (domain.Commit, error) {
	return e.store.GetCommit(ctx, repoID, id)
}

// History returns commits on the branch, newest first, following first
// parents. A non-positive limit returns the full chain.
func (e *Engine) History(ctx context.Context, repoID, branch string, limit int) ([]domain.Commit, error) {
	b, err := e.store.GetBranch(ctx, repoID, branch)
	if err != nil {
		return nil, err
	}
	var out []domain.Commit
	id := b.Head
	for id != "" {
		if limit > 0 && len(out) == limit {
			break
		}
		commit, err := e.store.GetCommit(ctx, repoID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, commit)
		if len(commit.Parents) == 0 {
			break
		}
		id = commit.Parents[0]
	}
	return out, nil
}

// firstParentChain returns commit ids from id back to the root, following
// first parents.
func (e *Engine) firstParentChain(ctx context.Context, repoID, id string) ([]string, error) {
	var chain []string
	for id != "" {
		chain = append(chain, id)
		commit, err := e.store.GetCommit(ctx, repoID, id)
		if err != nil {
			return nil, err
		}
		if len(commit.Parents) == 0 {
			break
		}
		id = commit.Parents[0]
	}
	return chain, nil
}

// MergeBase returns the nearest commit on both first-parent chains. Merge
// commits fold the incorporated side's operations into their own change
// set, so first-parent composition sees complete history.
func (e *Engine) MergeBase(ctx context.Context, repoID, a, b string) (string, error) {
	chainA, err := e.firstParentChain(ctx, repoID, a)
	if err != nil {
		return "", err
	}
	inA := make(map[string]struct{}, len(chainA))
	for _, id := range chainA {
		inA[id] = struct{}{}
	}
	chainB, err := e.firstParentChain(ctx, repoID, b)
	if err != nil {
		return "", err
	}
	for _, id := range chainB {
		if _, ok := inA[id]; ok {
			return id, nil
		}
	}
	return "", ErrNoCommonAncestor
}

// changesSince composes the change sets between ancestor (exclusive) and
// head (inclusive) along the first-parent chain.
func (e *Engine) changesSince(ctx context.Context, repoID, ancestor, head string) (domain.ChangeSet, error) {
	if head == ancestor {
		return domain.NewChangeSet(), nil
	}
	var sets []domain.ChangeSet
	id := head
	for id != "" && id != ancestor {
		commit, err := e.store.GetCommit(ctx, repoID, id)
		if err != nil {
			return nil, err
		}
		sets = append(sets, commit.Changes)
		if len(commit.Parents) == 0 {
			id = ""
			break
		}
		id = commit.Parents[0]
	}
	if ancestor != "" && id != ancestor {
		return nil, fmt.Errorf("vcs: %s is not a first-parent ancestor of %s", ancestor, head)
	}
	// Oldest first for composition.
	for i, j := 0, len(sets)-1; i < j; i, j = i+1, j-1 {
		sets[i], sets[j] = sets[j], sets[i]
	}
	return domain.Compose(sets...)
}

// Diff returns the net change set transforming the state at commit from
// into the state at commit to, routed through their merge base.
func (e *Engine) Diff(ctx context.Context, repoID, from, to string) (domain.ChangeSet, error) {
	if from == to {
		return domain.NewChangeSet(), nil
	}
	base, err := e.MergeBase(ctx, repoID, from, to)
	if err != nil {
		return nil, err
	}
	up, err := e.changesSince(ctx, repoID, base, from)
	if err != nil {
		return nil, err
	}
	down, err := e.changesSince(ctx, repoID, base, to)
	if err != nil {
		return nil, err
	}
	return domain.Compose(up.Invert(), down)
}

// Merge three-way merges source into target. On success the target branch
// advances to a two-parent merge commit and the outcome's Applied set holds
// the operations to replay onto the target state; when the target already
// contains every source change the outcome is up to date and nothing is
// written. Any conflicting address aborts the whole merge with a
// *MergeConflictError; nothing is written.
func (e *Engine) Merge(ctx context.Context, repoID, source, target, author, message string) (*MergeOutcome, error) {
	return e.merge(ctx, repoID, source, target, author, message, nil)
}

// MergeWithResolution retries a conflicted merge with caller-supplied
// replacement operations, one per conflicting address. Addresses the
// resolution names but the merge does not contest are rejected; conflicts
// the resolution leaves uncovered still abort the merge.
func (e *Engine) MergeWithResolution(ctx context.Context, repoID, source, target, author, message string, resolution domain.ChangeSet) (*MergeOutcome, error) {
	return e.merge(ctx, repoID, source, target, author, message, resolution)
}

func (e *Engine) merge(ctx context.Context, repoID, source, target, author, message string, resolution domain.ChangeSet) (*MergeOutcome, error) {
	src, err := e.store.GetBranch(ctx, repoID, source)
	if err != nil {
		return nil, err
	}
	tgt, err := e.store.GetBranch(ctx, repoID, target)
	if err != nil {
		return nil, err
	}
	if src.Head == tgt.Head {
		return &MergeOutcome{UpToDate: true, Applied: domain.NewChangeSet()}, nil
	}
	base, err := e.MergeBase(ctx, repoID, tgt.Head, src.Head)
	if err != nil {
		return nil, err
	}
	theirs, err := e.changesSince(ctx, repoID, base, src.Head)
	if err != nil {
		return nil, err
	}
	if theirs.IsEmpty() {
		// Source is fully contained in target history.
		return &MergeOutcome{UpToDate: true, Applied: domain.NewChangeSet()}, nil
	}
	ours, err := e.changesSince(ctx, repoID, base, tgt.Head)
	if err != nil {
		return nil, err
	}
	merged, conflicts := domain.Merge(ours, theirs)
	if len(resolution) > 0 {
		contested := make(map[string]struct{}, len(conflicts))
		for _, c := range conflicts {
			contested[c.Address] = struct{}{}
		}
		for key := range resolution {
			if _, ok := contested[key]; !ok {
				return nil, fmt.Errorf("vcs: resolution for %s, which is not in conflict", key)
			}
		}
		remaining := conflicts[:0]
		for _, c := range conflicts {
			op, ok := resolution[c.Address]
			if !ok {
				remaining = append(remaining, c)
				continue
			}
			merged[c.Address] = op
		}
		conflicts = remaining
	}
	if len(conflicts) > 0 {
		e.metrics.conflicted()
		e.logger.Warn("merge aborted on conflicts",
			zap.String("repository", repoID),
			zap.String("source", source),
			zap.String("target", target),
			zap.Int("conflicts", len(conflicts)))
		return nil, &MergeConflictError{Source: source, Target: target, Conflicts: conflicts}
	}
	if merged.IsEmpty() {
		// Every source change is already present on the target; minting a
		// zero-operation merge commit would break merge idempotence.
		return &MergeOutcome{UpToDate: true, Applied: domain.NewChangeSet()}, nil
	}
	now := e.nowFn()
	if message == "" {
		message = fmt.Sprintf("Merge %s into %s", source, target)
	}
	commit := domain.Commit{
		ID:           e.idFn(),
		RepositoryID: repoID,
		Parents:      []string{tgt.Head, src.Head},
		Author:       author,
		Message:      message,
		CreatedAt:    now,
		Changes:      merged.Clone(),
		Stats:        domain.StatsFor(merged),
	}
	if err := e.store.PutCommit(ctx, commit); err != nil {
		return nil, err
	}
	tgt.Head = commit.ID
	tgt.UpdatedAt = now
	if err := e.store.PutBranch(ctx, tgt); err != nil {
		return nil, err
	}
	e.metrics.committed()
	e.metrics.merged()
	e.logger.Info("merge committed",
		zap.String("repository", repoID),
		zap.String("source", source),
		zap.String("target", target),
		zap.String("commit", commit.ID),
		zap.Int("operations", merged.Len()))
	return &MergeOutcome{Commit: commit, Applied: merged}, nil
}
