package vcs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"arxcore/pkg/domain"
)

// ErrNotApproved rejects merging a pull request without a sign-off.
var ErrNotApproved = errors.New("vcs: pull request has no approval")

// OpenPullRequest proposes merging source into target. Both branches must
// exist and differ.
func (e *Engine) OpenPullRequest(ctx context.Context, repoID, source, target, author, title, description string) (domain.PullRequest, error) {
	if source == target {
		return domain.PullRequest{}, fmt.Errorf("vcs: pull request source and target are both %q", source)
	}
	if _, err := e.store.GetBranch(ctx, repoID, source); err != nil {
		return domain.PullRequest{}, err
	}
	if _, err := e.store.GetBranch(ctx, repoID, target); err != nil {
		return domain.PullRequest{}, err
	}
	pr := domain.PullRequest{
		ID:           e.idFn(),
		RepositoryID: repoID,
		Title:        title,
		Description:  description,
		Source:       source,
		Target:       target,
		Status:       domain.StatusOpen,
		CreatedAt:    e.nowFn(),
	}
	if author != "" {
		pr.Comments = append(pr.Comments, domain.Comment{
			Author:    author,
			Body:      "opened pull request",
			CreatedAt: pr.CreatedAt,
		})
	}
	if err := e.store.PutPullRequest(ctx, pr); err != nil {
		return domain.PullRequest{}, err
	}
	return pr, nil
}

// PullRequest returns a pull request by id.
func (e *Engine) PullRequest(ctx context.Context, repoID, id string) (domain.PullRequest, error) {
	return e.store.GetPullRequest(ctx, repoID, id)
}

// PullRequests lists pull requests, oldest first.
func (e *Engine) PullRequests(ctx context.Context, repoID string) ([]domain.PullRequest, error) {
	return e.store.ListPullRequests(ctx, repoID)
}

// CommentPullRequest adds a comment. Merged and closed pull requests are
// read-only.
func (e *Engine) CommentPullRequest(ctx context.Context, repoID, id, author, body string) (domain.PullRequest, error) {
	pr, err := e.store.GetPullRequest(ctx, repoID, id)
	if err != nil {
		return domain.PullRequest{}, err
	}
	if pr.Status != domain.StatusOpen && pr.Status != domain.StatusApproved {
		return domain.PullRequest{}, domain.InvalidTransitionError{
			Kind: "pull request", From: string(pr.Status), To: string(pr.Status),
		}
	}
	pr.Comments = append(pr.Comments, domain.Comment{Author: author, Body: body, CreatedAt: e.nowFn()})
	if err := e.store.PutPullRequest(ctx, pr); err != nil {
		return domain.PullRequest{}, err
	}
	return pr, nil
}

// ApprovePullRequest records a reviewer sign-off and moves the pull
// request to approved. Additional approvals stack.
func (e *Engine) ApprovePullRequest(ctx context.Context, repoID, id, reviewer string) (domain.PullRequest, error) {
	pr, err := e.store.GetPullRequest(ctx, repoID, id)
	if err != nil {
		return domain.PullRequest{}, err
	}
	if pr.Status != domain.StatusOpen && pr.Status != domain.StatusApproved {
		return domain.PullRequest{}, domain.InvalidTransitionError{
			Kind: "pull request", From: string(pr.Status), To: string(domain.StatusApproved),
		}
	}
	pr.Approvals = append(pr.Approvals, domain.Approval{Reviewer: reviewer, CreatedAt: e.nowFn()})
	pr.Status = domain.StatusApproved
	if err := e.store.PutPullRequest(ctx, pr); err != nil {
		return domain.PullRequest{}, err
	}
	return pr, nil
}

// MergePullRequest merges an approved pull request. Conflicts are recorded
// on the pull request, which stays approved so it can be retried after the
// branches are reconciled; the merge itself writes nothing in that case.
func (e *Engine) MergePullRequest(ctx context.Context, repoID, id, author string) (domain.PullRequest, *MergeOutcome, error) {
	pr, err := e.store.GetPullRequest(ctx, repoID, id)
	if err != nil {
		return domain.PullRequest{}, nil, err
	}
	switch pr.Status {
	case domain.StatusApproved:
	case domain.StatusOpen:
		return domain.PullRequest{}, nil, fmt.Errorf("%w: %s", ErrNotApproved, id)
	default:
		return domain.PullRequest{}, nil, domain.InvalidTransitionError{
			Kind: "pull request", From: string(pr.Status), To: string(domain.StatusMerged),
		}
	}
	outcome, err := e.Merge(ctx, repoID, pr.Source, pr.Target, author, "Merge: "+pr.Title)
	if err != nil {
		var conflict *MergeConflictError
		if errors.As(err, &conflict) {
			pr.Conflicts = conflict.Conflicts
			if putErr := e.store.PutPullRequest(ctx, pr); putErr != nil {
				return domain.PullRequest{}, nil, putErr
			}
			e.logger.Warn("pull request merge blocked on conflicts",
				zap.String("repository", repoID),
				zap.String("pull_request", id),
				zap.Int("conflicts", len(conflict.Conflicts)))
			return pr, nil, err
		}
		return domain.PullRequest{}, nil, err
	}
	now := e.nowFn()
	pr.Status = domain.StatusMerged
	pr.Conflicts = nil
	pr.MergedAt = &now
	if !outcome.UpToDate {
		pr.MergeCommit = outcome.Commit.ID
	}
	if err := e.store.PutPullRequest(ctx, pr); err != nil {
		return domain.PullRequest{}, nil, err
	}
	return pr, outcome, nil
}

// ClosePullRequest closes a pull request without merging. Closed is
// terminal and merged pull requests cannot be closed.
func (e *Engine) ClosePullRequest(ctx context.Context, repoID, id string) (domain.PullRequest, error) {
	pr, err := e.store.GetPullRequest(ctx, repoID, id)
	if err != nil {
		return domain.PullRequest{}, err
	}
	if pr.Status != domain.StatusOpen && pr.Status != domain.StatusApproved {
		return domain.PullRequest{}, domain.InvalidTransitionError{
			Kind: "pull request", From: string(pr.Status), To: string(domain.StatusClosed),
		}
	}
	now := e.nowFn()
	pr.Status = domain.StatusClosed
	pr.ClosedAt = &now
	if err := e.store.PutPullRequest(ctx, pr); err != nil {
		return domain.PullRequest{}, err
	}
	return pr, nil
}

// OpenIssue files an issue against the repository.
func (e *Engine) OpenIssue(ctx context.Context, repoID, title, body string) (domain.Issue, error) {
	issue := domain.Issue{
		ID:           e.idFn(),
		RepositoryID: repoID,
		Title:        title,
		Body:         body,
		Status:       domain.IssueOpen,
		CreatedAt:    e.nowFn(),
	}
	if err := e.store.PutIssue(ctx, issue); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

// Issue returns an issue by id.
func (e *Engine) Issue(ctx context.Context, repoID, id string) (domain.Issue, error) {
	return e.store.GetIssue(ctx, repoID, id)
}

// Issues lists issues, oldest first.
func (e *Engine) Issues(ctx context.Context, repoID string) ([]domain.Issue, error) {
	return e.store.ListIssues(ctx, repoID)
}

// AssignIssue assigns an open or already assigned issue.
func (e *Engine) AssignIssue(ctx context.Context, repoID, id, assignee string) (domain.Issue, error) {
	issue, err := e.store.GetIssue(ctx, repoID, id)
	if err != nil {
		return domain.Issue{}, err
	}
	if issue.Status == domain.IssueClosed {
		return domain.Issue{}, domain.InvalidTransitionError{
			Kind: "issue", From: string(issue.Status), To: string(domain.IssueAssigned),
		}
	}
	issue.Status = domain.IssueAssigned
	issue.Assignee = assignee
	if err := e.store.PutIssue(ctx, issue); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

// CommentIssue adds a comment to an issue that is not closed.
func (e *Engine) CommentIssue(ctx context.Context, repoID, id, author, body string) (domain.Issue, error) {
	issue, err := e.store.GetIssue(ctx, repoID, id)
	if err != nil {
		return domain.Issue{}, err
	}
	if issue.Status == domain.IssueClosed {
		return domain.Issue{}, domain.InvalidTransitionError{
			Kind: "issue", From: string(issue.Status), To: string(issue.Status),
		}
	}
	issue.Comments = append(issue.Comments, domain.Comment{Author: author, Body: body, CreatedAt: e.nowFn()})
	if err := e.store.PutIssue(ctx, issue); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

// CloseIssue closes an open or assigned issue. Closed is terminal.
func (e *Engine) CloseIssue(ctx context.Context, repoID, id string) (domain.Issue, error) {
	issue, err := e.store.GetIssue(ctx, repoID, id)
	if err != nil {
		return domain.Issue{}, err
	}
	if issue.Status == domain.IssueClosed {
		return domain.Issue{}, domain.InvalidTransitionError{
			Kind: "issue", From: string(issue.Status), To: string(domain.IssueClosed),
		}
	}
	now := e.nowFn()
	issue.Status = domain.IssueClosed
	issue.ClosedAt = &now
	if err := e.store.PutIssue(ctx, issue); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}
