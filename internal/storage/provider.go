// Package storage selects and configures the BlobStore that holds
// screenshots and raw payloads.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	gcsclient "cloud.google.com/go/storage"

	"github.com/JakeFAU/webcat-crawler/internal/storage/gcs"
	"github.com/JakeFAU/webcat-crawler/internal/storage/local"
	"github.com/JakeFAU/webcat-crawler/internal/storage/memory"
	"github.com/JakeFAU/webcat-crawler/internal/storage/s3"
	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

// Provider names accepted by Open.
const (
	ProviderLocal  = "local"
	ProviderMemory = "memory"
	ProviderGCS    = "gcs"
	ProviderS3     = "s3"
)

// Config selects a blob backend.
type Config struct {
	Provider    string
	BaseDir     string
	GCSBucket   string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
	Prefix      string
}

// Open builds the configured BlobStore. The returned close func releases
// any client the store holds and is never nil.
func Open(ctx context.Context, cfg Config) (visit.BlobStore, func() error, error) {
	noop := func() error { return nil }
	var (
		store   visit.BlobStore
		closeFn = noop
	)
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderLocal:
		s, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, noop, fmt.Errorf("open local blob store: %w", err)
		}
		store = s
	case ProviderMemory:
		store = memory.NewBlobStore()
	case ProviderGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create GCS client: %w", err)
		}
		s, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err == nil {
			err = s.CheckBucket(ctx)
		}
		if err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("open gcs blob store: %w", err)
		}
		store, closeFn = s, client.Close
	case ProviderS3:
		s, err := s3.New(ctx, s3.Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			UsePathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("open s3 blob store: %w", err)
		}
		store = s
	default:
		return nil, noop, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
	return WithPrefix(store, cfg.Prefix), closeFn, nil
}

// WithPrefix roots every path under prefix. An empty prefix returns store unchanged.
func WithPrefix(store visit.BlobStore, prefix string) visit.BlobStore {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return store
	}
	return &prefixed{store: store, prefix: prefix}
}

type prefixed struct {
	store  visit.BlobStore
	prefix string
}

func (p *prefixed) PutObject(ctx context.Context, name, contentType string, data []byte) (string, error) {
	return p.store.PutObject(ctx, path.Join(p.prefix, name), contentType, data)
}

func (p *prefixed) GetObject(ctx context.Context, name string) ([]byte, error) {
	return p.store.GetObject(ctx, path.Join(p.prefix, name))
}

func (p *prefixed) Exists(ctx context.Context, name string) (string, bool, error) {
	return p.store.Exists(ctx, path.Join(p.prefix, name))
}
