package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

const yamlCatalog = `
pages:
  - url: https://lib.example.edu
    start_date: "2010-01-01"
    end_date: "2012-01-01"
    skip: "2011-01-01, 2011-06-01"
    attributes:
      library: Main Library
  - url: https://law.example.edu
    visit: false
    skip:
      - "2015-01-01"
  - url: https://music.example.edu
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	pages, err := Decode(strings.NewReader(yamlCatalog), FormatYAML)
	require.NoError(t, err)
	require.Len(t, pages, 3)

	assert.Equal(t, visit.Page{
		URL:        "https://lib.example.edu",
		StartDate:  "2010-01-01",
		EndDate:    "2012-01-01",
		Visit:      true,
		Skip:       []string{"2011-01-01", "2011-06-01"},
		Attributes: map[string]string{"library": "Main Library"},
	}, pages[0])
	assert.False(t, pages[1].Visit)
	assert.Equal(t, []string{"2015-01-01"}, pages[1].Skip)
	assert.True(t, pages[2].Visit, "visit defaults to true")
	assert.Empty(t, pages[2].Skip)
}

func TestDecodeCSV(t *testing.T) {
	t.Parallel()

	in := "url,start_date,end_date,visit,skip,college\n" +
		"https://lib.example.edu,2010-01-01,,true,\"2020-01-01,2021-01-01\",Example College\n" +
		"https://law.example.edu,,,false,,\n"
	pages, err := Decode(strings.NewReader(in), FormatCSV)
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, []string{"2020-01-01", "2021-01-01"}, pages[0].Skip)
	assert.Equal(t, map[string]string{"college": "Example College"}, pages[0].Attributes)
	assert.True(t, pages[0].Visit)
	assert.False(t, pages[1].Visit)
	assert.Nil(t, pages[1].Attributes)
}

func TestDecodeRejectsBadEntries(t *testing.T) {
	t.Parallel()

	_, err := Decode(strings.NewReader("pages:\n  - start_date: 2010-01-01\n"), FormatYAML)
	require.ErrorContains(t, err, "url is required")

	_, err = Decode(strings.NewReader("pages:\n  - url: u\n    start_date: last tuesday\n"), FormatYAML)
	require.Error(t, err)

	_, err = Decode(strings.NewReader("url,visit\nu,maybe\n"), FormatCSV)
	require.ErrorContains(t, err, "row 2")

	_, err = Decode(strings.NewReader(""), "xml")
	require.ErrorContains(t, err, "unsupported")

	pages, err := Decode(strings.NewReader(""), FormatYAML)
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestLoadInfersFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "pages.CSV")
	require.NoError(t, os.WriteFile(csvPath, []byte("url\nhttps://lib.example.edu\n"), 0o600))
	pages, err := Load(csvPath, "")
	require.NoError(t, err)
	require.Len(t, pages, 1)

	yamlPath := filepath.Join(dir, "pages.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlCatalog), 0o600))
	pages, err = Load(yamlPath, "")
	require.NoError(t, err)
	require.Len(t, pages, 3)

	_, err = Load(filepath.Join(dir, "missing.yaml"), "")
	require.Error(t, err)
}

func TestDecodePairs(t *testing.T) {
	t.Parallel()

	pairs, err := DecodePairs(strings.NewReader("pairs:\n  - url: https://lib.example.edu\n    date: \"2010-01-01\"\n"), FormatYAML)
	require.NoError(t, err)
	require.Equal(t, []Pair{{URL: "https://lib.example.edu", Date: time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)}}, pairs)

	pairs, err = DecodePairs(strings.NewReader("url,date\nhttps://a.example.edu,20150601000000\nhttps://b.example.edu,2016-02-03\n"), FormatCSV)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, time.Date(2015, 6, 1, 0, 0, 0, 0, time.UTC), pairs[0].Date)

	_, err = DecodePairs(strings.NewReader("url,date\nhttps://a.example.edu,\n"), FormatCSV)
	require.Error(t, err)
}

func TestSelect(t *testing.T) {
	t.Parallel()

	pages := []visit.Page{{URL: "a", StartDate: "2010-01-01", Visit: false}, {URL: "b", Visit: true}}
	assert.Equal(t, pages, Select(pages, ""))
	assert.Equal(t, []visit.Page{pages[0]}, Select(pages, "a"))
	assert.Equal(t, []visit.Page{{URL: "c", Visit: true}}, Select(pages, "c"))
}
