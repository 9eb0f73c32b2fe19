// Package postgres stores visit records as JSONB documents in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Store implements visit.Store on Postgres.
type Store struct {
	pool  pool
	table string
}

// New connects a pool and ensures the visits table exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "visits"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// Migrate creates the visits table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url          TEXT        NOT NULL,
	date         TEXT        NOT NULL,
	id           TEXT        NOT NULL,
	document     JSONB       NOT NULL,
	committed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (url, date)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Exists reports whether a record is stored for (url, date).
func (s *Store) Exists(ctx context.Context, url, date string) (bool, error) {
	var ok bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE url = $1 AND date = $2)`, s.table)
	if err := s.pool.QueryRow(ctx, query, url, date).Scan(&ok); err != nil {
		return false, fmt.Errorf("check record: %w", err)
	}
	return ok, nil
}

// Find loads the record for (url, date).
func (s *Store) Find(ctx context.Context, url, date string) (visit.Record, bool, error) {
	var doc []byte
	query := fmt.Sprintf(`SELECT document FROM %s WHERE url = $1 AND date = $2`, s.table)
	err := s.pool.QueryRow(ctx, query, url, date).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return visit.Record{}, false, nil
	}
	if err != nil {
		return visit.Record{}, false, fmt.Errorf("find record: %w", err)
	}
	var rec visit.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return visit.Record{}, false, fmt.Errorf("decode record: %w", err)
	}
	return rec, true, nil
}

// Upsert replaces the whole document in a single statement. xmax is zero
// only for a freshly inserted row.
func (s *Store) Upsert(ctx context.Context, rec visit.Record) (bool, error) {
	if rec.URL == "" || rec.Date == "" {
		return false, fmt.Errorf("record key requires url and date")
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (url, date, id, document, committed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (url, date) DO UPDATE
SET id = EXCLUDED.id, document = EXCLUDED.document, committed_at = EXCLUDED.committed_at
RETURNING (xmax = 0) AS inserted`, s.table)

	var created bool
	if err := s.pool.QueryRow(ctx, query, rec.URL, rec.Date, rec.ID, doc, rec.CommittedAt).Scan(&created); err != nil {
		return false, fmt.Errorf("upsert record: %w", err)
	}
	return created, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return int(n), nil
}

// Dates lists stored dates for url in ascending order.
func (s *Store) Dates(ctx context.Context, url string) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT date FROM %s WHERE url = $1 ORDER BY date`, s.table), url)
	if err != nil {
		return nil, fmt.Errorf("list dates: %w", err)
	}
	defer rows.Close()
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

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
