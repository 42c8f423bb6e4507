package vcs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"arxcore/pkg/domain"
)

// sqlStore implements HistoryStore over database/sql. The SQLite and
// Postgres stores share it; only the driver, DDL, and placeholder style
// differ. Records are stored as JSON payloads keyed by repository and id,
// so schema churn in the domain types never needs a migration.
type sqlStore struct {
	db       *sql.DB
	numbered bool
}

var _ HistoryStore = (*sqlStore)(nil)

const historyDDL = `
CREATE TABLE IF NOT EXISTS commits (
	repository_id TEXT NOT NULL,
	id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (repository_id, id)
);
CREATE TABLE IF NOT EXISTS branches (
	repository_id TEXT NOT NULL,
	name TEXT NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (repository_id, name)
);
CREATE TABLE IF NOT EXISTS pull_requests (
	repository_id TEXT NOT NULL,
	id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (repository_id, id)
);
CREATE TABLE IF NOT EXISTS issues (
	repository_id TEXT NOT NULL,
	id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (repository_id, id)
);`

func newSQLStore(db *sql.DB, numbered bool) (*sqlStore, error) {
	s := &sqlStore{db: db, numbered: numbered}
	for _, stmt := range strings.Split(historyDDL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("vcs: apply history schema: %w", err)
		}
	}
	return s, nil
}

// rebind rewrites ? placeholders to $1..$n for drivers that need them.
func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) PutCommit(ctx context.Context, c domain.Commit) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("vcs: encode commit: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO commits (repository_id, id, created_at, payload) VALUES (?, ?, ?, ?)`),
		c.RepositoryID, c.ID, c.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z"), string(payload))
	if err != nil {
		return fmt.Errorf("vcs: store commit %s: %w", c.ID, err)
	}
	return nil
}

func (s *sqlStore) GetCommit(ctx context.Context, repoID, id string) (domain.Commit, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT payload FROM commits WHERE repository_id = ? AND id = ?`),
		repoID, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Commit{}, fmt.Errorf("%w: %s", ErrCommitNotFound, id)
	}
	if err != nil {
		return domain.Commit{}, fmt.Errorf("vcs: read commit %s: %w", id, err)
	}
	var c domain.Commit
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return domain.Commit{}, fmt.Errorf("vcs: decode commit %s: %w", id, err)
	}
	return c, nil
}

func (s *sqlStore) PutBranch(ctx context.Context, b domain.Branch) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("vcs: encode branch: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO branches (repository_id, name, payload) VALUES (?, ?, ?)
			ON CONFLICT (repository_id, name) DO UPDATE SET payload = excluded.payload`),
		b.RepositoryID, b.Name, string(payload))
	if err != nil {
		return fmt.Errorf("vcs: store branch %s: %w", b.Name, err)
	}
	return nil
}

func (s *sqlStore) GetBranch(ctx context.Context, repoID, name string) (domain.Branch, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT payload FROM branches WHERE repository_id = ? AND name = ?`),
		repoID, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Branch{}, fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	if err != nil {
		return domain.Branch{}, fmt.Errorf("vcs: read branch %s: %w", name, err)
	}
	var b domain.Branch
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return domain.Branch{}, fmt.Errorf("vcs: decode branch %s: %w", name, err)
	}
	return b, nil
}

func (s *sqlStore) ListBranches(ctx context.Context, repoID string) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT payload FROM branches WHERE repository_id = ? ORDER BY name`), repoID)
	if err != nil {
		return nil, fmt.Errorf("vcs: list branches: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Branch
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("vcs: scan branch: %w", err)
		}
		var b domain.Branch
		if err := json.Unmarshal([]byte(payload), &b); err != nil {
			return nil, fmt.Errorf("vcs: decode branch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteBranch(ctx context.Context, repoID, name string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM branches WHERE repository_id = ? AND name = ?`), repoID, name)
	if err != nil {
		return fmt.Errorf("vcs: delete branch %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	return nil
}

func (s *sqlStore) PutPullRequest(ctx context.Context, pr domain.PullRequest) error {
	payload, err := json.Marshal(pr)
	if err != nil {
		return fmt.Errorf("vcs: encode pull request: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO pull_requests (repository_id, id, created_at, payload) VALUES (?, ?, ?, ?)
			ON CONFLICT (repository_id, id) DO UPDATE SET payload = excluded.payload`),
		pr.RepositoryID, pr.ID, pr.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z"), string(payload))
	if err != nil {
		return fmt.Errorf("vcs: store pull request %s: %w", pr.ID, err)
	}
	return nil
}

func (s *sqlStore) GetPullRequest(ctx context.Context, repoID, id string) (domain.PullRequest, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT payload FROM pull_requests WHERE repository_id = ? AND id = ?`),
		repoID, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PullRequest{}, fmt.Errorf("%w: %s", ErrPullRequestNotFound, id)
	}
	if err != nil {
		return domain.PullRequest{}, fmt.Errorf("vcs: read pull request %s: %w", id, err)
	}
	var pr domain.PullRequest
	if err := json.Unmarshal([]byte(payload), &pr); err != nil {
		return domain.PullRequest{}, fmt.Errorf("vcs: decode pull request %s: %w", id, err)
	}
	return pr, nil
}

func (s *sqlStore) ListPullRequests(ctx context.Context, repoID string) ([]domain.PullRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT payload FROM pull_requests WHERE repository_id = ? ORDER BY created_at`), repoID)
	if err != nil {
		return nil, fmt.Errorf("vcs: list pull requests: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.PullRequest
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("vcs: scan pull request: %w", err)
		}
		var pr domain.PullRequest
		if err := json.Unmarshal([]byte(payload), &pr); err != nil {
			return nil, fmt.Errorf("vcs: decode pull request: %w", err)
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (s *sqlStore) PutIssue(ctx context.Context, issue domain.Issue) error {
	payload, err := json.Marshal(issue)
	if err != nil {
		return fmt.Errorf("vcs: encode issue: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO issues (repository_id, id, created_at, payload) VALUES (?, ?, ?, ?)
			ON CONFLICT (repository_id, id) DO UPDATE SET payload = excluded.payload`),
		issue.RepositoryID, issue.ID, issue.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z"), string(payload))
	if err != nil {
		return fmt.Errorf("vcs: store issue %s: %w", issue.ID, err)
	}
	return nil
}

func (s *sqlStore) GetIssue(ctx context.Context, repoID, id string) (domain.Issue, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT payload FROM issues WHERE repository_id = ? AND id = ?`),
		repoID, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Issue{}, fmt.Errorf("%w: %s", ErrIssueNotFound, id)
	}
	if err != nil {
		return domain.Issue{}, fmt.Errorf("vcs: read issue %s: %w", id, err)
	}
	var issue domain.Issue
	if err := json.Unmarshal([]byte(payload), &issue); err != nil {
		return domain.Issue{}, fmt.Errorf("vcs: decode issue %s: %w", id, err)
	}
	return issue, nil
}

func (s *sqlStore) ListIssues(ctx context.Context, repoID string) ([]domain.Issue, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT payload FROM issues WHERE repository_id = ? ORDER BY created_at`), repoID)
	if err != nil {
		return nil, fmt.Errorf("vcs: list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Issue
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("vcs: scan issue: %w", err)
		}
		var issue domain.Issue
		if err := json.Unmarshal([]byte(payload), &issue); err != nil {
			return nil, fmt.Errorf("vcs: decode issue: %w", err)
		}
		out = append(out, issue)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *sqlStore) Close() error { return s.db.Close() }
