package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

func TestUpsertReplacesWholeRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	created, err := s.Upsert(ctx, visit.Record{
		ID: "1", URL: "https://lib.example.edu", Date: "2010-01-01",
		Attributes:  map[string]string{"library": "Main"},
		Screenshots: []visit.Screenshot{{Path: "a.png"}, {Path: "b.png"}},
	})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Upsert(ctx, visit.Record{ID: "2", URL: "https://lib.example.edu", Date: "2010-01-01"})
	require.NoError(t, err)
	assert.False(t, created)

	got, ok, err := s.Find(ctx, "https://lib.example.edu", "2010-01-01")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", got.ID)
	assert.Empty(t, got.Attributes, "no field from the previous generation survives")
	assert.Empty(t, got.Screenshots)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStoredRecordIsIsolatedFromCaller(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	rec := visit.Record{URL: "u", Date: "2010-01-01", Attributes: map[string]string{"k": "v"}}
	_, err := s.Upsert(ctx, rec)
	require.NoError(t, err)
	rec.Attributes["k"] = "mutated"

	got, _, err := s.Find(ctx, "u", "2010-01-01")
	require.NoError(t, err)
	assert.Equal(t, "v", got.Attributes["k"])
}

func TestExistsDatesAndValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	for _, d := range []string{"2012-01-01", "2010-01-01"} {
		_, err := s.Upsert(ctx, visit.Record{URL: "u", Date: d})
		require.NoError(t, err)
	}
	_, err := s.Upsert(ctx, visit.Record{URL: "other", Date: "2011-01-01"})
	require.NoError(t, err)

	ok, err := s.Exists(ctx, "u", "2010-01-01")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists(ctx, "u", "2011-01-01")
	require.NoError(t, err)
	assert.False(t, ok)

	dates, err := s.Dates(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, []string{"2010-01-01", "2012-01-01"}, dates)

	_, _, err = s.Find(ctx, "missing", "2010-01-01")
	require.NoError(t, err)

	_, err = s.Upsert(ctx, visit.Record{URL: "u"})
	require.Error(t, err)
	require.NoError(t, s.Close())
}

func TestConcurrentUpsertsSameKeyCreateOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := s.Upsert(ctx, visit.Record{URL: "u", Date: "2010-01-01"})
			assert.NoError(t, err)
			if c {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}
