package vcs

import (
	"context"
	"errors"
	"testing"

	"arxcore/pkg/domain"
)

func openTestPR(t *testing.T, e *Engine) domain.PullRequest {
	t.Helper()
	initRepo(t, e)
	if _, err := e.CreateBranch(context.Background(), repoID, "boiler-retrofit", ""); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if _, err := e.Commit(context.Background(), CommitInput{
		RepositoryID: repoID,
		Branch:       "boiler-retrofit",
		Author:       "bob",
		Message:      "retrofit boiler",
		Changes:      updated(t, boilerAddr, 97, 80),
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	pr, err := e.OpenPullRequest(context.Background(), repoID,
		"boiler-retrofit", DefaultBranch, "bob", "Boiler retrofit", "derate after inspection")
	if err != nil {
		t.Fatalf("OpenPullRequest: %v", err)
	}
	return pr
}

func TestOpenPullRequestValidatesBranches(t *testing.T) {
	e := testEngine(t)
	initRepo(t, e)
	if _, err := e.OpenPullRequest(context.Background(), repoID, DefaultBranch, DefaultBranch, "bob", "t", ""); err == nil {
		t.Fatal("same source and target must be rejected")
	}
	if _, err := e.OpenPullRequest(context.Background(), repoID, "no-such", DefaultBranch, "bob", "t", ""); !errors.Is(err, ErrBranchNotFound) {
		t.Fatalf("want ErrBranchNotFound, got %v", err)
	}
}

func TestMergeRequiresApproval(t *testing.T) {
	e := testEngine(t)
	pr := openTestPR(t, e)
	if _, _, err := e.MergePullRequest(context.Background(), repoID, pr.ID, "alice"); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("want ErrNotApproved, got %v", err)
	}
}

func TestApproveThenMerge(t *testing.T) {
	e := testEngine(t)
	pr := openTestPR(t, e)
	approved, err := e.ApprovePullRequest(context.Background(), repoID, pr.ID, "carol")
	if err != nil {
		t.Fatalf("ApprovePullRequest: %v", err)
	}
	if approved.Status != domain.StatusApproved || len(approved.Approvals) != 1 {
		t.Fatalf("status %s with %d approvals", approved.Status, len(approved.Approvals))
	}
	merged, outcome, err := e.MergePullRequest(context.Background(), repoID, pr.ID, "alice")
	if err != nil {
		t.Fatalf("MergePullRequest: %v", err)
	}
	if merged.Status != domain.StatusMerged {
		t.Fatalf("status %s, want merged", merged.Status)
	}
	if merged.MergeCommit == "" || merged.MergeCommit != outcome.Commit.ID {
		t.Fatalf("merge commit %q does not match outcome %q", merged.MergeCommit, outcome.Commit.ID)
	}
	if merged.MergedAt == nil {
		t.Fatal("merged_at not set")
	}

	var invalid domain.InvalidTransitionError
	if _, err := e.ClosePullRequest(context.Background(), repoID, pr.ID); !errors.As(err, &invalid) {
		t.Fatalf("closing a merged pull request: want InvalidTransitionError, got %v", err)
	}
	if _, err := e.ApprovePullRequest(context.Background(), repoID, pr.ID, "dave"); !errors.As(err, &invalid) {
		t.Fatalf("approving a merged pull request: want InvalidTransitionError, got %v", err)
	}
}

func TestMergeConflictKeepsPullRequestApproved(t *testing.T) {
	e := testEngine(t)
	pr := openTestPR(t, e)
	// Diverge the target on the same address before merging.
	if _, err := e.Commit(context.Background(), CommitInput{
		RepositoryID: repoID,
		Branch:       DefaultBranch,
		Author:       "alice",
		Message:      "boiler to 70",
		Changes:      updated(t, boilerAddr, 97, 70),
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := e.ApprovePullRequest(context.Background(), repoID, pr.ID, "carol"); err != nil {
		t.Fatalf("ApprovePullRequest: %v", err)
	}
	blocked, _, err := e.MergePullRequest(context.Background(), repoID, pr.ID, "alice")
	var conflict *MergeConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("want MergeConflictError, got %v", err)
	}
	if blocked.Status != domain.StatusApproved {
		t.Fatalf("status %s after conflict, want approved for retry", blocked.Status)
	}
	if len(blocked.Conflicts) != 1 || blocked.Conflicts[0].Address != boilerAddr {
		t.Fatalf("recorded conflicts %+v", blocked.Conflicts)
	}
}

func TestClosePullRequest(t *testing.T) {
	e := testEngine(t)
	pr := openTestPR(t, e)
	closed, err := e.ClosePullRequest(context.Background(), repoID, pr.ID)
	if err != nil {
		t.Fatalf("ClosePullRequest: %v", err)
	}
	if closed.Status != domain.StatusClosed || closed.ClosedAt == nil {
		t.Fatalf("status %s closed_at %v", closed.Status, closed.ClosedAt)
	}
	var invalid domain.InvalidTransitionError
	if _, err := e.CommentPullRequest(context.Background(), repoID, pr.ID, "bob", "ping"); !errors.As(err, &invalid) {
		t.Fatalf("commenting a closed pull request: want InvalidTransitionError, got %v", err)
	}
}

func TestCommentPullRequest(t *testing.T) {
	e := testEngine(t)
	pr := openTestPR(t, e)
	commented, err := e.CommentPullRequest(context.Background(), repoID, pr.ID, "carol", "looks sane")
	if err != nil {
		t.Fatalf("CommentPullRequest: %v", err)
	}
	last := commented.Comments[len(commented.Comments)-1]
	if last.Author != "carol" || last.Body != "looks sane" {
		t.Fatalf("last comment %+v", last)
	}
}

func TestIssueLifecycle(t *testing.T) {
	e := testEngine(t)
	initRepo(t, e)
	issue, err := e.OpenIssue(context.Background(), repoID, "boiler-01 health trending down", "check burner assembly")
	if err != nil {
		t.Fatalf("OpenIssue: %v", err)
	}
	if issue.Status != domain.IssueOpen {
		t.Fatalf("status %s, want open", issue.Status)
	}
	assigned, err := e.AssignIssue(context.Background(), repoID, issue.ID, "bob")
	if err != nil {
		t.Fatalf("AssignIssue: %v", err)
	}
	if assigned.Status != domain.IssueAssigned || assigned.Assignee != "bob" {
		t.Fatalf("assigned %+v", assigned)
	}
	if _, err := e.CommentIssue(context.Background(), repoID, issue.ID, "bob", "replaced igniter"); err != nil {
		t.Fatalf("CommentIssue: %v", err)
	}
	closed, err := e.CloseIssue(context.Background(), repoID, issue.ID)
	if err != nil {
		t.Fatalf("CloseIssue: %v", err)
	}
	if closed.Status != domain.IssueClosed || closed.ClosedAt == nil {
		t.Fatalf("closed %+v", closed)
	}

	var invalid domain.InvalidTransitionError
	if _, err := e.CloseIssue(context.Background(), repoID, issue.ID); !errors.As(err, &invalid) {
		t.Fatalf("double close: want InvalidTransitionError, got %v", err)
	}
	if _, err := e.AssignIssue(context.Background(), repoID, issue.ID, "carol"); !errors.As(err, &invalid) {
		t.Fatalf("assigning closed issue: want InvalidTransitionError, got %v", err)
	}
	if _, err := e.Issue(context.Background(), repoID, "no-such"); !errors.Is(err, ErrIssueNotFound) {
		t.Fatalf("want ErrIssueNotFound, got %v", err)
	}
}
