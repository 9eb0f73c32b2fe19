package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/page.html", "text/html", payload)
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://path/page.html" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	stored, err := store.GetObject(context.Background(), "path/page.html")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	if string(stored) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	if store.ContentType("path/page.html") != "text/html" {
		t.Fatalf("unexpected content type %q", store.ContentType("path/page.html"))
	}
}

func TestBlobStoreExistsAndMissing(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	if _, ok, err := store.Exists(ctx, "a.png"); err != nil || ok {
		t.Fatalf("Exists() on empty store = %v, %v", ok, err)
	}
	if _, err := store.GetObject(ctx, "a.png"); !errors.Is(err, visit.ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound, got %v", err)
	}
	if _, err := store.PutObject(ctx, " ", "", nil); err == nil {
		t.Fatal("expected error for blank path")
	}
	if _, err := store.PutObject(ctx, "b/a.png", "image/png", []byte{1}); err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	uri, ok, err := store.Exists(ctx, "b/a.png")
	if err != nil || !ok || uri != "memory://b/a.png" {
		t.Fatalf("Exists() = %q, %v, %v", uri, ok, err)
	}
	if got := store.Paths(); len(got) != 1 || got[0] != "b/a.png" {
		t.Fatalf("unexpected paths %v", got)
	}
}
