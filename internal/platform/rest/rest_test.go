package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/backoff"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

func fastClient(url string, retries int) *Client {
	return New(Config{
		BaseURL:    url,
		Headers:    map[string]string{"X-API-Key": "k"},
		MaxRetries: retries,
		Backoff:    backoff.Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1},
	})
}

func TestRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k" {
			t.Errorf("missing api key header")
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct{ OK bool }
	if err := fastClient(srv.URL, 3).Get(context.Background(), "/x", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !out.OK || calls.Load() != 3 {
		t.Errorf("out = %+v after %d calls", out, calls.Load())
	}
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := fastClient(srv.URL, 2).Get(context.Background(), "/x", nil)
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestSemanticErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Insufficient funds"}`))
	}))
	defer srv.Close()

	err := fastClient(srv.URL, 3).Post(context.Background(), "/x", map[string]string{"a": "b"}, nil)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestCheckHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusOK, "", nil},
		{http.StatusNotFound, "", domain.ErrNotFound},
		{http.StatusForbidden, "", domain.ErrUnauthorized},
		{http.StatusTooManyRequests, "", domain.ErrRateLimited},
		{http.StatusConflict, "", domain.ErrDuplicateOffer},
		{http.StatusBadRequest, "offer already exists", domain.ErrDuplicateOffer},
		{http.StatusBadRequest, "bad price", domain.ErrInvalidOffer},
	}
	for _, tt := range tests {
		err := CheckHTTPStatus(tt.status, []byte(tt.body))
		if tt.want == nil {
			if err != nil {
				t.Errorf("%d: err = %v", tt.status, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("%d %q: err = %v, want %v", tt.status, tt.body, err, tt.want)
		}
	}
	if err := CheckHTTPStatus(http.StatusBadGateway, []byte("insufficient")); errors.Is(err, domain.ErrInsufficientFunds) {
		t.Error("5xx mapped to a semantic error")
	}
}
