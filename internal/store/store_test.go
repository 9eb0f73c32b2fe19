package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webcat-crawler/internal/store/memory"
	"github.com/JakeFAU/webcat-crawler/internal/store/sqlite"
)

func TestOpenSelectsProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	s, err := Open(ctx, Config{Provider: "memory"})
	require.NoError(t, err)
	require.IsType(t, &memory.Store{}, s)

	s, err = Open(ctx, Config{Path: filepath.Join(t.TempDir(), "v.db")})
	require.NoError(t, err)
	require.IsType(t, &sqlite.Store{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Config{Provider: "postgres"})
	require.ErrorContains(t, err, "dsn is required")

	_, err = Open(ctx, Config{Provider: "mongo"})
	require.ErrorContains(t, err, "unknown db provider")
}
