package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcat-crawler/internal/orchestrator"
	memstore "github.com/JakeFAU/webcat-crawler/internal/store/memory"
	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

func TestServerHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t, nil), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServerReadyzReportsDependencyFailure(t *testing.T) {
	t.Parallel()

	ready := NewServer(nil, nil, zap.NewNop(), Options{})
	require.Equal(t, http.StatusOK, serve(t, ready, "/readyz").Code)

	failing := NewServer(nil, nil, zap.NewNop(), Options{
		Ready: func(context.Context) error { return errors.New("store closed") },
	})
	rec := serve(t, failing, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "store closed")
}

func TestServerMetricsExposesCollectors(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	serve(t, s, "/healthz")
	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "webcat_http_requests_total")
}

func TestServerStatusReportsSummary(t *testing.T) {
	t.Parallel()

	status := &fakeStatus{
		running: true,
		summary: orchestrator.Summary{
			Created:  3,
			NotFound: 1,
			Failed:   map[visit.Kind]int{visit.KindRenderTimeout: 2},
		},
	}
	store := memstore.New()
	_, err := store.Upsert(context.Background(), visit.Record{URL: "https://lib.example.edu", Date: "2010-01-01"})
	require.NoError(t, err)

	rec := serve(t, NewServer(status, store, zap.NewNop(), Options{}), "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Running)
	require.Equal(t, 3, body.Summary.Created)
	require.Equal(t, 2, body.Summary.Failed[visit.KindRenderTimeout])
	require.Equal(t, 6, body.Total)
	require.NotNil(t, body.Records)
	require.Equal(t, 1, *body.Records)
}

func TestServerStatusWithoutSources(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, nil, nil, Options{}), "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "records")
}

func TestServerRecoversPanics(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(&fakeStatus{panics: true}, nil, zap.NewNop(), Options{}), "/status")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t, nil), "/healthz")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	newTestServer(t, nil).Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", newTestServer(t, nil).Handler(), zap.NewNop())
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeReportsListenFailure(t *testing.T) {
	t.Parallel()

	err := Serve(context.Background(), "not-an-address", http.NotFoundHandler(), zap.NewNop())
	require.Error(t, err)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

func newTestServer(t *testing.T, records RecordReader) *Server {
	t.Helper()
	return NewServer(&fakeStatus{}, records, zap.NewNop(), Options{RequestTimeout: 5 * time.Second})
}

func serve(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

type fakeStatus struct {
	running bool
	summary orchestrator.Summary
	panics  bool
}

func (f *fakeStatus) Snapshot() orchestrator.Summary {
	if f.panics {
		panic("summary unavailable")
	}
	return f.summary
}

func (f *fakeStatus) Running() bool {
	return f.running
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
