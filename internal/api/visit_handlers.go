package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcat-crawler/internal/daterange"
	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

const (
	defaultDateLimit = 100
	maxDateLimit     = 1000
	lookupTimeout    = 3 * time.Second
)

// RecordReader is the read side of the visit store.
type RecordReader interface {
	Find(ctx context.Context, url, date string) (visit.Record, bool, error)
	Count(ctx context.Context) (int, error)
	Dates(ctx context.Context, url string) ([]string, error)
}

// VisitHandler exposes read-only visit record endpoints.
type VisitHandler struct {
	records RecordReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewVisitHandler wires the store and logger.
func NewVisitHandler(records RecordReader, logger *zap.Logger) *VisitHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VisitHandler{
		records: records,
		timeout: lookupTimeout,
		logger:  logger,
	}
}

// ListDates handles GET /v1/visits?url=&limit=&offset=. It returns
// {"url": ..., "dates": [...], "total": n} with dates ascending, 400 for a
// missing url or bad paging, 503 without a store, or 500 on store errors.
func (h *VisitHandler) ListDates(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		writeError(w, http.StatusServiceUnavailable, "visit store unavailable")
		return
	}
	url, err := parseURLParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultDateLimit, maxDateLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	dates, err := h.records.Dates(ctx, url)
	if err != nil {
		h.logger.Error("list visit dates failed", zap.String("url", url), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list visit dates")
		return
	}
	total := len(dates)
	page := []string{}
	if offset < total {
		page = dates[offset:min(offset+limit, total)]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":   url,
		"dates": page,
		"total": total,
	})
}

// GetVisit handles GET /v1/visits/{date}?url=. It returns {"visit": {...}},
// 400 for a malformed date or missing url, 404 when no record exists for the
// key, 503 without a store, or 500 on store errors.
func (h *VisitHandler) GetVisit(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		writeError(w, http.StatusServiceUnavailable, "visit store unavailable")
		return
	}
	url, err := parseURLParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := parseDateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rec, ok, err := h.records.Find(ctx, url, date)
	if err != nil {
		h.logger.Error("find visit failed", zap.String("url", url), zap.String("date", date), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load visit")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "visit not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"visit": rec})
}

func parseURLParam(r *http.Request) (string, error) {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		return "", errors.New("url is required")
	}
	return url, nil
}

func parseDateParam(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "date")
	if raw == "" {
		return "", errors.New("date is required")
	}
	t, err := daterange.ParseDate(raw)
	if err != nil {
		return "", errors.New("invalid date")
	}
	return t.Format(visit.DateLayout), nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
