// Package store opens the configured visit record store. Implementations
// live in the memory, sqlite and postgres subpackages.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/webcat-crawler/internal/store/memory"
	"github.com/JakeFAU/webcat-crawler/internal/store/postgres"
	"github.com/JakeFAU/webcat-crawler/internal/store/sqlite"
	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

// Provider names accepted by Open.
const (
	ProviderSQLite   = "sqlite"
	ProviderPostgres = "postgres"
	ProviderMemory   = "memory"
)

// Config selects a store backend.
type Config struct {
	Provider string
	Path     string
	DSN      string
	Table    string
}

// Open returns the configured store. Callers own Close.
func Open(ctx context.Context, cfg Config) (visit.Store, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderSQLite:
		s, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.Path, Table: cfg.Table})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case ProviderPostgres:
		s, err := postgres.New(ctx, postgres.Config{DSN: cfg.DSN, Table: cfg.Table})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case ProviderMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown db provider %q", cfg.Provider)
	}
}
