// Package postgres implements the record store on a PostgreSQL table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/R3E-Network/formrelay/internal/form"
	"github.com/R3E-Network/formrelay/internal/storage"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS form_submissions (
	ts     TEXT PRIMARY KEY,
	fields JSONB NOT NULL
)`

	upsertSQL = `INSERT INTO form_submissions (ts, fields) VALUES ($1, $2)
ON CONFLICT (ts) DO UPDATE SET fields = EXCLUDED.fields`

	selectAllSQL = `SELECT ts, fields FROM form_submissions`
)

type row struct {
	Timestamp string `db:"ts"`
	Fields    []byte `db:"fields"`
}

// Store keeps one row per submission.
type Store struct {
	db *sqlx.DB
}

// Open connects using the lib/pq DSN and ensures the table exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %w", storage.ErrIO, err)
	}

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the submissions table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("%w: create table: %w", storage.ErrIO, err)
	}
	return nil
}

// Load selects every row.
func (s *Store) Load(ctx context.Context) (storage.Document, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, selectAllSQL); err != nil {
		return nil, fmt.Errorf("%w: select submissions: %w", storage.ErrIO, err)
	}

	doc := make(storage.Document, len(rows))
	for _, r := range rows {
		var sub form.Submission
		if err := json.Unmarshal(r.Fields, &sub); err != nil {
			return nil, fmt.Errorf("%w: row %q: %w", storage.ErrFormat, r.Timestamp, err)
		}
		doc[r.Timestamp] = sub
	}
	return doc, nil
}

// Append upserts the row for timestamp.
func (s *Store) Append(ctx context.Context, timestamp string, sub form.Submission) error {
	fields, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("%w: encode submission: %w", storage.ErrFormat, err)
	}
	if _, err := s.db.ExecContext(ctx, upsertSQL, timestamp, fields); err != nil {
		return fmt.Errorf("%w: upsert submission: %w", storage.ErrIO, err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
