package gcs

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// fakeGCS answers the handful of JSON and XML API calls BlobStore makes.
type fakeGCS struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeGCS) roundTrip(r *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/upload/storage/v1/b/bucket/o"):
		name, data, err := readMultipart(r)
		if err != nil {
			return respond(r, http.StatusBadRequest, `{}`), nil
		}
		f.objects[name] = data
		return respond(r, http.StatusOK, `{"bucket":"bucket","name":"`+name+`"}`), nil
	case r.Method == http.MethodGet && path == "/storage/v1/b/bucket":
		return respond(r, http.StatusOK, `{"name":"bucket"}`), nil
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/storage/v1/b/bucket/o/"):
		name := strings.TrimPrefix(path, "/storage/v1/b/bucket/o/")
		if _, ok := f.objects[name]; !ok {
			return respond(r, http.StatusNotFound, `{"error":{"code":404,"message":"Not Found"}}`), nil
		}
		return respond(r, http.StatusOK, `{"bucket":"bucket","name":"`+name+`"}`), nil
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/bucket/"):
		data, ok := f.objects[strings.TrimPrefix(path, "/bucket/")]
		if !ok {
			return respond(r, http.StatusNotFound, ``), nil
		}
		return respond(r, http.StatusOK, string(data)), nil
	}
	return respond(r, http.StatusNotFound, `{}`), nil
}

func readMultipart(r *http.Request) (string, []byte, error) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return "", nil, err
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	meta, err := mr.NextPart()
	if err != nil {
		return "", nil, err
	}
	raw, err := io.ReadAll(meta)
	if err != nil {
		return "", nil, err
	}
	name := between(string(raw), `"name":"`, `"`)
	media, err := mr.NextPart()
	if err != nil {
		return "", nil, err
	}
	data, err := io.ReadAll(media)
	return name, data, err
}

func between(s, start, end string) string {
	_, after, ok := strings.Cut(s, start)
	if !ok {
		return ""
	}
	before, _, _ := strings.Cut(after, end)
	return before
}

func respond(r *http.Request, code int, body string) *http.Response {
	return &http.Response{
		StatusCode:    code,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        http.Header{"Content-Type": {"application/json"}},
		Request:       r,
	}
}

func newTestStore(t *testing.T) *BlobStore {
	t.Helper()
	fake := &fakeGCS{objects: map[string][]byte{}}
	client, err := storage.NewClient(
		context.Background(),
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{Transport: roundTripperFunc(fake.roundTrip)}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "bucket"})
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	_, err = New(client, Config{})
	require.ErrorContains(t, err, "bucket name is required")
}

func TestCheckBucket(t *testing.T) {
	t.Parallel()

	require.NoError(t, newTestStore(t).CheckBucket(context.Background()))
}

func TestPutObjectThenExists(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	_, ok, err := store.Exists(ctx, "lib/20100101000000-mobile.png")
	require.NoError(t, err)
	assert.False(t, ok)

	uri, err := store.PutObject(ctx, "lib/20100101000000-mobile.png", "image/png", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/lib/20100101000000-mobile.png", uri)

	got, ok, err := store.Exists(ctx, "lib/20100101000000-mobile.png")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uri, got)

	_, err = store.PutObject(ctx, " ", "", nil)
	require.ErrorContains(t, err, "path is required")
}

func TestGetObjectMissing(t *testing.T) {
	t.Parallel()

	_, err := newTestStore(t).GetObject(context.Background(), "nope.png")
	require.ErrorIs(t, err, visit.ErrBlobNotFound)
}
