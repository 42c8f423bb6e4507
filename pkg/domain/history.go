package domain

import (
	"fmt"
	"time"
)

// CommitStats summarizes the snapshot a commit produced.
type CommitStats struct {
	Entities    int    `json:"entities"`
	ContentHash string `json:"content_hash,omitempty"`
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
	Deleted     int    `json:"deleted"`
	Moved       int    `json:"moved"`
}

// StatsFor tallies operation counts for a changeset.
func StatsFor(cs ChangeSet) CommitStats {
	var stats CommitStats
	for _, op := range cs {
		switch op.Kind {
		case OpCreated:
			stats.Created++
		case OpUpdated:
			stats.Updated++
		case OpDeleted:
			stats.Deleted++
		case OpMoved:
			stats.Moved++
		}
	}
	return stats
}

// Commit is an immutable node in the history graph. Root commits have no
// parents, normal commits one, merge commits two.
type Commit struct {
	ID           string      `json:"id"`
	RepositoryID string      `json:"repository_id"`
	Parents      []string    `json:"parents,omitempty"`
	Author       string      `json:"author"`
	Message      string      `json:"message"`
	CreatedAt    time.Time   `json:"created_at"`
	Changes      ChangeSet   `json:"changes"`
	Stats        CommitStats `json:"stats"`
}

// IsMerge reports whether the commit has two parents.
func (c Commit) IsMerge() bool {
	return len(c.Parents) == 2
}

// Branch is a named, mutable pointer to a commit. Many branches may point
// at the same commit; branches never own commits.
type Branch struct {
	RepositoryID string    `json:"repository_id"`
	Name         string    `json:"name"`
	Head         string    `json:"head"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// WorkflowStatus enumerates pull request states.
type WorkflowStatus string

// Pull request lifecycle states.
const (
	StatusOpen     WorkflowStatus = "open"
	StatusApproved WorkflowStatus = "approved"
	StatusMerged   WorkflowStatus = "merged"
	StatusClosed   WorkflowStatus = "closed"
)

// Comment is a dated remark on a pull request or issue.
type Comment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Approval records a reviewer's sign-off on a pull request.
type Approval struct {
	Reviewer  string    `json:"reviewer"`
	CreatedAt time.Time `json:"created_at"`
}

// PullRequest proposes merging one branch into another. It layers workflow
// metadata over commits and branches; referential validity of the branch
// names is its only storage invariant.
type PullRequest struct {
	ID           string          `json:"id"`
	RepositoryID string          `json:"repository_id"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	Source       string          `json:"source"`
	Target       string          `json:"target"`
	Status       WorkflowStatus  `json:"status"`
	Approvals    []Approval      `json:"approvals,omitempty"`
	Comments     []Comment       `json:"comments,omitempty"`
	Conflicts    []ConflictEntry `json:"conflicts,omitempty"`
	MergeCommit  string          `json:"merge_commit,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	MergedAt     *time.Time      `json:"merged_at,omitempty"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
}

// IssueStatus enumerates issue states.
type IssueStatus string

// Issue lifecycle states.
const (
	IssueOpen     IssueStatus = "open"
	IssueAssigned IssueStatus = "assigned"
	IssueClosed   IssueStatus = "closed"
)

// Issue is tracking metadata attached to a repository; it never interacts
// with commits.
type Issue struct {
	ID           string      `json:"id"`
	RepositoryID string      `json:"repository_id"`
	Title        string      `json:"title"`
	Body         string      `json:"body,omitempty"`
	Status       IssueStatus `json:"status"`
	Assignee     string      `json:"assignee,omitempty"`
	Comments     []Comment   `json:"comments,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	ClosedAt     *time.Time  `json:"closed_at,omitempty"`
}

// InvalidTransitionError reports a disallowed workflow state change.
type InvalidTransitionError struct {
	Kind string
	From string
	To   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s transition %s -> %s not allowed", e.Kind, e.From, e.To)
}
