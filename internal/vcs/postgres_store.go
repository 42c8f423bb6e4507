package vcs

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const defaultPostgresDSN = "postgres://localhost/arxcore?sslmode=disable"

// NewPostgresStore opens a Postgres-backed history store for deployments
// where several hosts share one history database.
func NewPostgresStore(dsn string) (HistoryStore, error) {
	if dsn == "" {
		dsn = defaultPostgresDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("vcs: open postgres: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("vcs: ping postgres: %w", err)
	}
	return newSQLStore(db, true)
}
