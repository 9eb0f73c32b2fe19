// Package sqlite stores visit records as JSON documents in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// pragmas are applied per connection through the DSN.
const pragmas = "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"

// Config locates the database file.
type Config struct {
	Path  string
	Table string
}

// Store implements visit.Store on SQLite.
type Store struct {
	db    *sql.DB
	table string
}

// Open creates parent directories, opens the database and ensures the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	table := cfg.Table
	if table == "" {
		table = "visits"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", cfg.Path+"?"+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers, which keeps read-then-write upserts atomic.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, table: table}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	url          TEXT NOT NULL,
	date         TEXT NOT NULL,
	id           TEXT NOT NULL,
	document     TEXT NOT NULL,
	committed_at TEXT NOT NULL,
	PRIMARY KEY (url, date)
)`, s.table)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Exists reports whether a record is stored for (url, date).
func (s *Store) Exists(ctx context.Context, url, date string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE url = ? AND date = ?`, s.table), url, date,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check record: %w", err)
	}
	return true, nil
}

// Find loads the record for (url, date).
func (s *Store) Find(ctx context.Context, url, date string) (visit.Record, bool, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT document FROM %s WHERE url = ? AND date = ?`, s.table), url, date,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return visit.Record{}, false, nil
	}
	if err != nil {
		return visit.Record{}, false, fmt.Errorf("find record: %w", err)
	}
	var rec visit.Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return visit.Record{}, false, fmt.Errorf("decode record: %w", err)
	}
	return rec, true, nil
}

// Upsert replaces the whole document for the record's key in one transaction.
func (s *Store) Upsert(ctx context.Context, rec visit.Record) (created bool, err error) {
	if rec.URL == "" || rec.Date == "" {
		return false, fmt.Errorf("record key requires url and date")
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}
	committed := rec.CommittedAt.UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (url, date, id, document, committed_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (url, date) DO NOTHING`, s.table),
		rec.URL, rec.Date, rec.ID, string(doc), committed)
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}
	created = n == 1
	if !created {
		if _, err = tx.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s SET id = ?, document = ?, committed_at = ? WHERE url = ? AND date = ?`, s.table),
			rec.ID, string(doc), committed, rec.URL, rec.Date); err != nil {
			return false, fmt.Errorf("replace record: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit upsert: %w", err)
	}
	return created, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Dates lists stored dates for url in ascending order.
func (s *Store) Dates(ctx context.Context, url string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT date FROM %s WHERE url = ? ORDER BY date`, s.table), url)
	if err != nil {
		return nil, fmt.Errorf("list dates: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dates: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
