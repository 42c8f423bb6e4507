package vcs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"arxcore/pkg/domain"
)

func testSQLiteStore(t *testing.T) HistoryStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteCommitRoundTrip(t *testing.T) {
	store := testSQLiteStore(t)
	commit := domain.Commit{
		ID:           "c01",
		RepositoryID: "ps-118",
		Parents:      []string{"c00"},
		Author:       "alice",
		Message:      "derate boiler",
		CreatedAt:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Changes:      domain.NewChangeSet(),
		Stats:        domain.CommitStats{Updated: 1},
	}
	if err := store.PutCommit(context.Background(), commit); err != nil {
		t.Fatalf("PutCommit: %v", err)
	}
	got, err := store.GetCommit(context.Background(), "ps-118", "c01")
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	if got.Author != "alice" || got.Parents[0] != "c00" || got.Stats.Updated != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if err := store.PutCommit(context.Background(), commit); err == nil {
		t.Fatal("commits are immutable; rewriting an id must fail")
	}
	if _, err := store.GetCommit(context.Background(), "ps-118", "no-such"); !errors.Is(err, ErrCommitNotFound) {
		t.Fatalf("want ErrCommitNotFound, got %v", err)
	}
}

func TestSQLiteBranchUpsertAndDelete(t *testing.T) {
	store := testSQLiteStore(t)
	branch := domain.Branch{RepositoryID: "ps-118", Name: "main", Head: "c01"}
	if err := store.PutBranch(context.Background(), branch); err != nil {
		t.Fatalf("PutBranch: %v", err)
	}
	branch.Head = "c02"
	if err := store.PutBranch(context.Background(), branch); err != nil {
		t.Fatalf("PutBranch upsert: %v", err)
	}
	got, err := store.GetBranch(context.Background(), "ps-118", "main")
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if got.Head != "c02" {
		t.Fatalf("head %q after upsert, want c02", got.Head)
	}
	branches, err := store.ListBranches(context.Background(), "ps-118")
	if err != nil {
		t.Fatalf("ListBranches: %v", err)
	}
	if len(branches) != 1 {
		t.Fatalf("branch count %d", len(branches))
	}
	if err := store.DeleteBranch(context.Background(), "ps-118", "main"); err != nil {
		t.Fatalf("DeleteBranch: %v", err)
	}
	if err := store.DeleteBranch(context.Background(), "ps-118", "main"); !errors.Is(err, ErrBranchNotFound) {
		t.Fatalf("want ErrBranchNotFound, got %v", err)
	}
}

func TestSQLiteWorkflowRecords(t *testing.T) {
	store := testSQLiteStore(t)
	pr := domain.PullRequest{
		ID:           "pr-1",
		RepositoryID: "ps-118",
		Title:        "Boiler retrofit",
		Source:       "boiler-retrofit",
		Target:       "main",
		Status:       domain.StatusOpen,
		CreatedAt:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := store.PutPullRequest(context.Background(), pr); err != nil {
		t.Fatalf("PutPullRequest: %v", err)
	}
	pr.Status = domain.StatusApproved
	if err := store.PutPullRequest(context.Background(), pr); err != nil {
		t.Fatalf("PutPullRequest upsert: %v", err)
	}
	got, err := store.GetPullRequest(context.Background(), "ps-118", "pr-1")
	if err != nil {
		t.Fatalf("GetPullRequest: %v", err)
	}
	if got.Status != domain.StatusApproved {
		t.Fatalf("status %s after upsert", got.Status)
	}

	issue := domain.Issue{
		ID:           "is-1",
		RepositoryID: "ps-118",
		Title:        "boiler health",
		Status:       domain.IssueOpen,
		CreatedAt:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := store.PutIssue(context.Background(), issue); err != nil {
		t.Fatalf("PutIssue: %v", err)
	}
	issues, err := store.ListIssues(context.Background(), "ps-118")
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if len(issues) != 1 || issues[0].Title != "boiler health" {
		t.Fatalf("issues %+v", issues)
	}
	if _, err := store.GetIssue(context.Background(), "ps-118", "no-such"); !errors.Is(err, ErrIssueNotFound) {
		t.Fatalf("want ErrIssueNotFound, got %v", err)
	}
}

func TestEngineOverSQLite(t *testing.T) {
	store := testSQLiteStore(t)
	e := NewEngine(store)
	root := initRepo(t, e)
	if _, err := e.CreateBranch(context.Background(), repoID, "boiler-retrofit", ""); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if _, err := e.Commit(context.Background(), CommitInput{
		RepositoryID: repoID,
		Branch:       "boiler-retrofit",
		Author:       "bob",
		Message:      "retrofit",
		Changes:      updated(t, boilerAddr, 97, 80),
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	outcome, err := e.Merge(context.Background(), repoID, "boiler-retrofit", DefaultBranch, "alice", "")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(outcome.Commit.Parents) != 2 {
		t.Fatalf("merge parents %v", outcome.Commit.Parents)
	}
	history, err := e.History(context.Background(), repoID, DefaultBranch, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[1].ID != root.ID {
		t.Fatalf("history %d commits, root %q", len(history), history[len(history)-1].ID)
	}
}
