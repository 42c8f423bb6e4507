package vcs

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// NewSQLiteStore opens a SQLite-backed history store at path, creating the
// schema on first use. This is the default durable backend; the database
// file sits beside the repository documents.
func NewSQLiteStore(path string) (HistoryStore, error) {
	if path == "" {
		path = "history.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("vcs: create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vcs: open sqlite: %w", err)
	}
	// Single writer; the repository lock serializes mutations anyway.
	db.SetMaxOpenConns(1)
	return newSQLStore(db, false)
}
