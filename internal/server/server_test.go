package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/engine"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/gateway"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/server/handler"
)

type stubSource struct{}

func (stubSource) Summaries() []engine.Summary {
	return []engine.Summary{{Symbol: "bitmap", ActiveBids: 2}}
}

func (stubSource) Collection(symbol string) (domain.CollectionSnapshot, error) {
	if symbol != "bitmap" {
		return domain.CollectionSnapshot{}, domain.ErrUnknownCollection
	}
	return domain.CollectionSnapshot{Symbol: "bitmap", QuantityCap: 3}, nil
}

type stubAudit struct {
	opts domain.ListOpts
}

func (s *stubAudit) Log(context.Context, domain.AuditEntry) error { return nil }

func (s *stubAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.opts = opts
	return []domain.AuditEntry{{ID: 1, Event: "bid_created", Collection: opts.Collection}}, nil
}

type denyAll struct{}

func (denyAll) TryAcquire() bool { return false }

func newTestRoutes(cfg Config, healthErr error) (http.Handler, *stubAudit) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := &stubAudit{}
	h := Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Check{
			"redis": func(context.Context) error { return healthErr },
		}),
		Status: handler.NewStatusHandler("bid", time.Now(), func() int { return 4 },
			map[string]func() gateway.Stats{"bitcoin": func() gateway.Stats { return gateway.Stats{Calls: 9} }}),
		Collections: handler.NewCollectionHandler(stubSource{}, audit, logger),
	}
	return Routes(cfg, h, logger), audit
}

func get(t *testing.T, h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	h, audit := newTestRoutes(Config{}, nil)

	tests := []struct {
		path string
		want int
	}{
		{"/api/health", http.StatusOK},
		{"/api/status", http.StatusOK},
		{"/api/collections", http.StatusOK},
		{"/api/collections/bitmap", http.StatusOK},
		{"/api/collections/nope", http.StatusNotFound},
		{"/api/collections/bitmap/audit?limit=5", http.StatusOK},
		{"/api/collections/bitmap/audit?limit=x", http.StatusBadRequest},
		{"/api/collections/nope/audit", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := get(t, h, tt.path, nil)
		if rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d (%s)", tt.path, rec.Code, tt.want, rec.Body.String())
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Errorf("GET %s: no request id", tt.path)
		}
	}
	if audit.opts.Collection != "bitmap" {
		t.Errorf("audit opts = %+v", audit.opts)
	}
}

func TestStatusBody(t *testing.T) {
	h, _ := newTestRoutes(Config{}, nil)
	rec := get(t, h, "/api/status", nil)

	var body struct {
		Mode    string                   `json:"mode"`
		Pending int                      `json:"pending_events"`
		Queues  map[string]gateway.Stats `json:"queues"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Mode != "bid" || body.Pending != 4 || body.Queues["bitcoin"].Calls != 9 {
		t.Errorf("status = %+v", body)
	}
}

func TestHealthDegraded(t *testing.T) {
	h, _ := newTestRoutes(Config{}, errors.New("connection refused"))
	if rec := get(t, h, "/api/health", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("health = %d, want 503", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	h, _ := newTestRoutes(Config{APIKey: "secret"}, nil)

	if rec := get(t, h, "/api/collections", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", rec.Code)
	}
	if rec := get(t, h, "/api/collections", map[string]string{"Authorization": "Bearer wrong"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", rec.Code)
	}
	if rec := get(t, h, "/api/collections", map[string]string{"X-API-Key": "secret"}); rec.Code != http.StatusOK {
		t.Errorf("api key = %d, want 200", rec.Code)
	}
	if rec := get(t, h, "/api/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health without token = %d, want 200", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	h, _ := newTestRoutes(Config{Limiter: denyAll{}}, nil)
	rec := get(t, h, "/api/collections", nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Errorf("limited = %d, headers %v", rec.Code, rec.Header())
	}
}
