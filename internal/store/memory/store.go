// Package memory is an in-process visit store for tests and dry runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

type key struct {
	url  string
	date string
}

// Store keeps each record as an encoded document so callers never share
// maps or slices with stored state.
type Store struct {
	mu   sync.RWMutex
	docs map[key][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{docs: make(map[key][]byte)}
}

// Exists reports whether a record is stored for (url, date).
func (s *Store) Exists(_ context.Context, url, date string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[key{url, date}]
	return ok, nil
}

// Find returns the record for (url, date).
func (s *Store) Find(_ context.Context, url, date string) (visit.Record, bool, error) {
	s.mu.RLock()
	doc, ok := s.docs[key{url, date}]
	s.mu.RUnlock()
	if !ok {
		return visit.Record{}, false, nil
	}
	var rec visit.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return visit.Record{}, false, fmt.Errorf("decode record: %w", err)
	}
	return rec, true, nil
}

// Upsert replaces the record for its key.
func (s *Store) Upsert(_ context.Context, rec visit.Record) (bool, error) {
	if rec.URL == "" || rec.Date == "" {
		return false, fmt.Errorf("record key requires url and date")
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{rec.URL, rec.Date}
	_, existed := s.docs[k]
	s.docs[k] = doc
	return !existed, nil
}

// Count returns the number of stored records.
func (s *Store) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

// Dates lists stored dates for url in ascending order.
func (s *Store) Dates(_ context.Context, url string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.docs {
		if k.url == url {
			out = append(out, k.date)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
