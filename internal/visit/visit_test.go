package visit

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"https://lib.example.edu", "example-lib_example_edu"},
		{"https://lib.example.edu/", "example-lib_example_edu"},
		{"http://www.library.school.org/home/index.html", "school-www_library_school_org-home-index_html"},
		{"HTTPS://Lib.Example.EDU/About", "example-lib_example_edu-about"},
		{"https://localhost/x", "localhost-localhost-x"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := Slugify(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestSlugifyRejectsHostless(t *testing.T) {
	t.Parallel()

	_, err := Slugify("not a url")
	require.Error(t, err)
}

func TestPageSkipsMatchesDayText(t *testing.T) {
	t.Parallel()

	page := Page{URL: "https://lib.example.edu", Skip: []string{"2020-01-01", "2021-06-15"}}
	require.True(t, page.Skips(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.True(t, page.Skips(time.Date(2021, 6, 15, 12, 30, 0, 0, time.UTC)))
	require.False(t, page.Skips(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)))
	require.False(t, Page{}.Skips(time.Now()))
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	require.Equal(t, Kind(""), KindOf(nil))
	require.Equal(t, KindUnknown, KindOf(base))

	err := Errorf(KindRenderTimeout, "navigate", "https://x", base)
	require.Equal(t, KindRenderTimeout, KindOf(err))
	require.ErrorIs(t, err, base)

	wrapped := fmt.Errorf("fetch rendered: %w", err)
	require.Equal(t, KindRenderTimeout, KindOf(wrapped))
	require.Contains(t, err.Error(), "navigate https://x")

	require.NoError(t, Errorf(KindStore, "upsert", "", nil))
}

func TestViewportFullPage(t *testing.T) {
	t.Parallel()

	for _, vp := range DefaultViewports() {
		require.True(t, vp.FullPage(), vp.Name)
	}
	require.False(t, ViewportSpec{Name: "fixed", Width: 800, Height: 600}.FullPage())
}

func TestSnapshotKeyUsesUTCDay(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("west", -8*3600)
	snap := ResolvedSnapshot{ResolvedDate: time.Date(2010, 1, 1, 20, 0, 0, 0, loc)}
	require.Equal(t, "2010-01-02", snap.Key())
}
