// Package catalog loads the pages to visit and explicit (url, date) pairs
// from YAML or CSV files.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/webcat-crawler/internal/daterange"
	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

// Supported file formats.
const (
	FormatYAML = "yaml"
	FormatCSV  = "csv"
)

// Pair is one explicit unit of work that bypasses date iteration.
type Pair struct {
	URL  string
	Date time.Time
}

// SkipList accepts either a YAML sequence or a comma separated string.
type SkipList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *SkipList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = splitList(node.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return fmt.Errorf("decode skip list: %w", err)
		}
		*s = splitList(strings.Join(items, ","))
		return nil
	default:
		return fmt.Errorf("skip must be a string or a list, got %v", node.Tag)
	}
}

type pageDoc struct {
	URL        string            `yaml:"url"`
	StartDate  string            `yaml:"start_date"`
	EndDate    string            `yaml:"end_date"`
	Visit      *bool             `yaml:"visit"`
	Skip       SkipList          `yaml:"skip"`
	Attributes map[string]string `yaml:"attributes"`
}

type catalogDoc struct {
	Pages []pageDoc `yaml:"pages"`
}

type pairDoc struct {
	URL  string `yaml:"url"`
	Date string `yaml:"date"`
}

type pairsDoc struct {
	Pairs []pairDoc `yaml:"pairs"`
}

// Load reads a page catalog. format may be empty to infer it from the extension.
func Load(path, format string) ([]visit.Page, error) {
	f, format, err := open(path, format)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Decode(f, format)
}

// Decode parses a page catalog from r.
func Decode(r io.Reader, format string) ([]visit.Page, error) {
	var docs []pageDoc
	switch format {
	case FormatYAML:
		var doc catalogDoc
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode catalog yaml: %w", err)
		}
		docs = doc.Pages
	case FormatCSV:
		rows, err := readCSV(r)
		if err != nil {
			return nil, err
		}
		for i, row := range rows {
			doc, err := pageFromRow(row)
			if err != nil {
				return nil, fmt.Errorf("catalog row %d: %w", i+2, err)
			}
			docs = append(docs, doc)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", format)
	}

	pages := make([]visit.Page, 0, len(docs))
	for i, d := range docs {
		p, err := d.page()
		if err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i+1, err)
		}
		pages = append(pages, p)
	}
	return pages, nil
}

func (d pageDoc) page() (visit.Page, error) {
	url := strings.TrimSpace(d.URL)
	if url == "" {
		return visit.Page{}, errors.New("url is required")
	}
	for _, v := range []string{d.StartDate, d.EndDate} {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if _, err := daterange.ParseDate(v); err != nil {
			return visit.Page{}, fmt.Errorf("%s: %w", url, err)
		}
	}
	visitFlag := true
	if d.Visit != nil {
		visitFlag = *d.Visit
	}
	return visit.Page{
		URL:        url,
		StartDate:  strings.TrimSpace(d.StartDate),
		EndDate:    strings.TrimSpace(d.EndDate),
		Visit:      visitFlag,
		Skip:       []string(d.Skip),
		Attributes: d.Attributes,
	}, nil
}

var knownColumns = map[string]bool{"url": true, "start_date": true, "end_date": true, "visit": true, "skip": true}

// pageFromRow maps known columns onto a page; any other column becomes an attribute.
func pageFromRow(row map[string]string) (pageDoc, error) {
	doc := pageDoc{
		URL:       row["url"],
		StartDate: row["start_date"],
		EndDate:   row["end_date"],
		Skip:      splitList(row["skip"]),
	}
	if raw := strings.TrimSpace(row["visit"]); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return pageDoc{}, fmt.Errorf("visit %q: %w", raw, err)
		}
		doc.Visit = &v
	}
	for k, v := range row {
		if knownColumns[k] || v == "" {
			continue
		}
		if doc.Attributes == nil {
			doc.Attributes = make(map[string]string)
		}
		doc.Attributes[k] = v
	}
	return doc, nil
}

// LoadPairs reads explicit (url, date) pairs.
func LoadPairs(path, format string) ([]Pair, error) {
	f, format, err := open(path, format)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return DecodePairs(f, format)
}

// DecodePairs parses explicit pairs from r.
func DecodePairs(r io.Reader, format string) ([]Pair, error) {
	var docs []pairDoc
	switch format {
	case FormatYAML:
		var doc pairsDoc
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode pairs yaml: %w", err)
		}
		docs = doc.Pairs
	case FormatCSV:
		rows, err := readCSV(r)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			docs = append(docs, pairDoc{URL: row["url"], Date: row["date"]})
		}
	default:
		return nil, fmt.Errorf("unsupported pairs format %q", format)
	}

	pairs := make([]Pair, 0, len(docs))
	for i, d := range docs {
		url := strings.TrimSpace(d.URL)
		if url == "" {
			return nil, fmt.Errorf("pair %d: url is required", i+1)
		}
		at, err := daterange.ParseDate(d.Date)
		if err != nil {
			return nil, fmt.Errorf("pair %d (%s): %w", i+1, url, err)
		}
		pairs = append(pairs, Pair{URL: url, Date: at})
	}
	return pairs, nil
}

// Select narrows pages to url. A url missing from the catalog is visited
// as a bare page with no date bounds.
func Select(pages []visit.Page, url string) []visit.Page {
	if url == "" {
		return pages
	}
	for _, p := range pages {
		if p.URL == url {
			return []visit.Page{p}
		}
	}
	return []visit.Page{{URL: url, Visit: true}}
}

func open(path, format string) (*os.File, string, error) {
	if format == "" {
		format = inferFormat(path)
	}
	// #nosec G304 -- catalog path is operator supplied.
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	return f, strings.ToLower(format), nil
}

func inferFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	default:
		return FormatYAML
	}
}

// readCSV returns rows keyed by lowercased header names.
func readCSV(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	var rows []map[string]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
