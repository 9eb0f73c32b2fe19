package visit

import (
	"context"
	"errors"
	"time"
)

// ErrBlobNotFound is returned by BlobStore.GetObject for missing paths.
var ErrBlobNotFound = errors.New("blob not found")

// Resolver finds the nearest archived snapshot at or before a date.
// A false result with a nil error means no snapshot is available.
type Resolver interface {
	Resolve(ctx context.Context, url string, at time.Time) (ResolvedSnapshot, bool, error)
}

// RawFetcher performs a plain HTTP GET.
type RawFetcher interface {
	Fetch(ctx context.Context, url string) (RawResponse, error)
}

// Browser is a long-lived headless browser shared across a batch.
type Browser interface {
	NewTab(ctx context.Context) (Tab, error)
	Identity(ctx context.Context) (BrowserIdentity, error)
	Close() error
}

// Tab is a single browser page scoped to one visit.
type Tab interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Title(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string, out any) error
	Metrics(ctx context.Context) (map[string]float64, error)
	SetViewport(ctx context.Context, vp ViewportSpec) error
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Close() error
}

// Store persists visit records keyed by (url, date).
type Store interface {
	Exists(ctx context.Context, url, date string) (bool, error)
	Find(ctx context.Context, url, date string) (Record, bool, error)
	// Upsert replaces the whole record for its key and reports whether it was newly created.
	Upsert(ctx context.Context, record Record) (bool, error)
	Count(ctx context.Context) (int, error)
	Dates(ctx context.Context, url string) ([]string, error)
	Close() error
}

// BlobStore persists screenshots and raw payloads.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
	// Exists returns the object's URI when present.
	Exists(ctx context.Context, path string) (string, bool, error)
}

// Publisher emits notifications for committed visits.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher produces content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for deterministic testing.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
