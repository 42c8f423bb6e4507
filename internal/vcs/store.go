// Package vcs implements version control over repository change sets: an
// append-only commit graph with named branches, three-way merges against
// the nearest common ancestor, and the pull request and issue workflows
// layered on top. History lives in its own store, selectable between an
// in-memory map, SQLite, and Postgres.
package vcs

import (
	"context"
	"errors"
	"fmt"

	"arxcore/pkg/domain"
)

// History store sentinels. Engine methods wrap them with the offending id.
var (
	ErrCommitNotFound      = errors.New("vcs: commit not found")
	ErrBranchNotFound      = errors.New("vcs: branch not found")
	ErrBranchExists        = errors.New("vcs: branch already exists")
	ErrPullRequestNotFound = errors.New("vcs: pull request not found")
	ErrIssueNotFound       = errors.New("vcs: issue not found")
)

// HistoryStore persists the history graph and workflow records for all
// repositories. Commits are immutable once written; branches, pull
// requests, and issues are upserted.
type HistoryStore interface {
	PutCommit(ctx context.Context, c domain.Commit) error
	GetCommit(ctx context.Context, repoID, id string) (domain.Commit, error)

	PutBranch(ctx context.Context, b domain.Branch) error
	GetBranch(ctx context.Context, repoID, name string) (domain.Branch, error)
	ListBranches(ctx context.Context, repoID string) ([]domain.Branch, error)
	DeleteBranch(ctx context.Context, repoID, name string) error

	PutPullRequest(ctx context.Context, pr domain.PullRequest) error
	GetPullRequest(ctx context.Context, repoID, id string) (domain.PullRequest, error)
	ListPullRequests(ctx context.Context, repoID string) ([]domain.PullRequest, error)

	PutIssue(ctx context.Context, issue domain.Issue) error
	GetIssue(ctx context.Context, repoID, id string) (domain.Issue, error)
	ListIssues(ctx context.Context, repoID string) ([]domain.Issue, error)

	Close() error
}

// History store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// OpenHistoryStore constructs the store selected by driver. The dsn is a
// file path for SQLite and a connection string for Postgres; memory
// ignores it.
func OpenHistoryStore(driver, dsn string) (HistoryStore, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverSQLite:
		return NewSQLiteStore(dsn)
	case DriverPostgres:
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("vcs: unknown history driver %q", driver)
	}
}
