package vcs

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"arxcore/pkg/domain"
)

// MemoryStore keeps history in process memory. It backs tests and
// short-lived tooling; nothing survives the process.
type MemoryStore struct {
	mu           sync.RWMutex
	commits      map[string]map[string]domain.Commit
	branches     map[string]map[string]domain.Branch
	pullRequests map[string]map[string]domain.PullRequest
	issues       map[string]map[string]domain.Issue
}

var _ HistoryStore = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		commits:      make(map[string]map[string]domain.Commit),
		branches:     make(map[string]map[string]domain.Branch),
		pullRequests: make(map[string]map[string]domain.PullRequest),
		issues:       make(map[string]map[string]domain.Issue),
	}
}

func bucket[T any](m map[string]map[string]T, repoID string) map[string]T {
	b, ok := m[repoID]
	if !ok {
		b = make(map[string]T)
		m[repoID] = b
	}
	return b
}

// PutCommit stores an immutable commit. Writing an id twice is an error.
func (s *MemoryStore) PutCommit(ctx context.Context, c domain.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := bucket(s.commits, c.RepositoryID)
	if _, exists := b[c.ID]; exists {
		return fmt.Errorf("vcs: commit %q already stored", c.ID)
	}
	b[c.ID] = c
	return nil
}

func (s *MemoryStore) GetCommit(ctx context.Context, repoID, id string) (domain.Commit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.commits[repoID][id]
	if !ok {
		return domain.Commit{}, fmt.Errorf("%w: %s", ErrCommitNotFound, id)
	}
	return c, nil
}

func (s *MemoryStore) PutBranch(ctx context.Context, b domain.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket(s.branches, b.RepositoryID)[b.Name] = b
	return nil
}

func (s *MemoryStore) GetBranch(ctx context.Context, repoID, name string) (domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.branches[repoID][name]
	if !ok {
		return domain.Branch{}, fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	return b, nil
}

func (s *MemoryStore) ListBranches(ctx context.Context, repoID string) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Branch, 0, len(s.branches[repoID]))
	for _, b := range s.branches[repoID] {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) DeleteBranch(ctx context.Context, repoID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.branches[repoID][name]; !ok {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	delete(s.branches[repoID], name)
	return nil
}

func (s *MemoryStore) PutPullRequest(ctx context.Context, pr domain.PullRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket(s.pullRequests, pr.RepositoryID)[pr.ID] = pr
	return nil
}

func (s *MemoryStore) GetPullRequest(ctx context.Context, repoID, id string) (domain.PullRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pr, ok := s.pullRequests[repoID][id]
	if !ok {
		return domain.PullRequest{}, fmt.Errorf("%w: %s", ErrPullRequestNotFound, id)
	}
	return pr, nil
}

func (s *MemoryStore) ListPullRequests(ctx context.Context, repoID string) ([]domain.PullRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PullRequest, 0, len(s.pullRequests[repoID]))
	for _, pr := range s.pullRequests[repoID] {
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) PutIssue(ctx context.Context, issue domain.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket(s.issues, issue.RepositoryID)[issue.ID] = issue
	return nil
}

func (s *MemoryStore) GetIssue(ctx context.Context, repoID, id string) (domain.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	issue, ok := s.issues[repoID][id]
	if !ok {
		return domain.Issue{}, fmt.Errorf("%w: %s", ErrIssueNotFound, id)
	}
	return issue, nil
}

func (s *MemoryStore) ListIssues(ctx context.Context, repoID string) ([]domain.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Issue, 0, len(s.issues[repoID]))
	for _, issue := range s.issues[repoID] {
		out = append(out, issue)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
