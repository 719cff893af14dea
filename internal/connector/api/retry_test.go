package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rakunlabs/ingestcore/internal/ingesterr"
)

// TestRateLimitBackoff covers the retry path: a 429 with Retry-After is
// retried with exponential backoff until the server recovers, rather than
// failing the request outright.
func TestRateLimitBackoff(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	b := newBase("conn-1", "test", map[string]any{
		"base_url":    srv.URL,
		"max_retries": 3,
		"retry_delay": 0,
		"rate_limit":  1000,
	}, 100)

	var body []byte
	err := b.doRequest(context.Background(), http.MethodGet, "/", nil, nil, func(resp *http.Response) error {
		var readErr error
		body, readErr = io.ReadAll(resp.Body)
		return readErr
	})
	if err != nil {
		t.Fatalf("doRequest: %v", err)
	}
	if string(body) != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", body)
	}
	if requests < 3 {
		t.Fatalf("expected at least 3 requests (2 rate-limited + 1 success), got %d", requests)
	}
}

// TestRateLimitBackoffExhausted covers the other half: once every retry is
// spent against a server that never recovers, doRequest surfaces a
// KindRateLimit error carrying the last attempt's status code rather than
// retrying forever or returning an untyped error.
func TestRateLimitBackoffExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := newBase("conn-1", "test", map[string]any{
		"base_url":    srv.URL,
		"max_retries": 1,
		"retry_delay": 0,
		"rate_limit":  1000,
	}, 100)

	err := b.doRequest(context.Background(), http.MethodGet, "/", nil, nil, func(*http.Response) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected an error once retries are exhausted")
	}
	if !ingesterr.Is(err, ingesterr.KindRateLimit) {
		t.Fatalf("expected KindRateLimit, got %v", err)
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected the wrapped cause to be a *ConnectionError, got %v", err)
	}
	if connErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected status code %d, got %d", http.StatusTooManyRequests, connErr.StatusCode)
	}
}

// TestServerErrorBackoffExhausted covers the non-rate-limit branch of the
// same retry loop: repeated 5xx responses classify as KindConnection, not
// KindRateLimit.
func TestServerErrorBackoffExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := newBase("conn-1", "test", map[string]any{
		"base_url":    srv.URL,
		"max_retries": 1,
		"retry_delay": 0,
		"rate_limit":  1000,
	}, 100)

	err := b.doRequest(context.Background(), http.MethodGet, "/", nil, nil, func(*http.Response) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected an error once retries are exhausted")
	}
	if !ingesterr.Is(err, ingesterr.KindConnection) {
		t.Fatalf("expected KindConnection, got %v", err)
	}
}
