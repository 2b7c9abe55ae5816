package quoteapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(url string) *Client {
	return New(url, "test-key",
		WithRetry(3, 5*time.Millisecond, 40*time.Millisecond),
		WithRequestBudget(1000, 1000),
	)
}

func TestQuotesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/quote" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("apikey") != "test-key" {
			t.Errorf("missing api key")
		}
		if r.URL.Query().Get("symbols") != "BTC,ETH" {
			t.Errorf("symbols = %q", r.URL.Query().Get("symbols"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"quotes":[
			{"symbol":"btc","price":65000.5,"change_24h":1.2,"volume_24h":1e9,"market_cap":1.2e12,"t":1728554400},
			{"symbol":"ETH","price":3200,"change_24h":-0.4,"volume_24h":5e8,"market_cap":4e11,"t":1728554400}
		]}`))
	}))
	defer srv.Close()

	quotes, err := newTestClient(srv.URL).Quotes(context.Background(), []string{"btc", "eth"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("got %d quotes", len(quotes))
	}
	// symbols are normalized upper regardless of upstream casing
	if q, ok := quotes["BTC"]; !ok || q.Price != 65000.5 {
		t.Fatalf("BTC quote = %+v", quotes)
	}
}

func TestDailySeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "BTC" || r.URL.Query().Get("days") != "7" {
			t.Errorf("query = %v", r.URL.Query())
		}
		_, _ = w.Write([]byte(`{"symbol":"BTC","points":[{"t":1728000000,"price":64000},{"t":1728086400,"price":64500}]}`))
	}))
	defer srv.Close()

	points, err := newTestClient(srv.URL).DailySeries(context.Background(), "btc", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 2 || points[0].Price != 64000 || points[1].Price != 64500 {
		t.Fatalf("points = %+v", points)
	}
	if !points[0].Timestamp.Before(points[1].Timestamp) {
		t.Fatalf("series not ascending")
	}
}

func TestTerminalStatusNoRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Quote(context.Background(), "BTC")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusForbidden {
		t.Fatalf("want StatusError 403, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-429 status must not be retried, got %d calls", calls)
	}
}

func TestMalformedBodyNoRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"quotes": [`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Quotes(context.Background(), []string{"BTC"})
	var me *MalformedResponseError
	if !errors.As(err, &me) {
		t.Fatalf("want MalformedResponseError, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("parse failures must not be retried, got %d calls", calls)
	}
}

func TestTransientRetriedThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			// drop the connection to simulate a network failure
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatalf("hijack unsupported")
			}
			conn, _, _ := hj.Hijack()
			_ = conn.Close()
			return
		}
		_, _ = w.Write([]byte(`{"quotes":[{"symbol":"BTC","price":100,"t":1}]}`))
	}))
	defer srv.Close()

	q, err := newTestClient(srv.URL).Quote(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("expected recovery on third attempt: %v", err)
	}
	if calls != 3 || q.Price != 100 {
		t.Fatalf("calls=%d quote=%+v", calls, q)
	}
}

func TestRetriesExhaustedSurfacesLastError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		hj := w.(http.Hijacker)
		conn, _, _ := hj.Hijack()
		_ = conn.Close()
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Quote(context.Background(), "BTC")
	if err == nil {
		t.Fatalf("expected terminal error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("terminal error should carry the last failure: %v", err)
	}
}

func TestRateLimitHonorsRetryAfter(t *testing.T) {
	var calls int
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		stamps = append(stamps, time.Now())
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"quotes":[{"symbol":"BTC","price":100,"t":1}]}`))
	}))
	defer srv.Close()

	start := time.Now()
	_, err := newTestClient(srv.URL).Quote(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected retry after 429, got %d calls", calls)
	}
	// Retry-After: 1 overrides the 5ms computed backoff
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Fatalf("retry-after hint not honored, elapsed %s", elapsed)
	}
}

func TestRateLimitExhaustedKeepsType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Quote(context.Background(), "BTC")
	if err == nil || !IsRateLimit(err) {
		t.Fatalf("exhausted 429s must stay detectable as rate limit, got %v", err)
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	c := New("http://example.invalid", "k", WithRetry(6, 100*time.Millisecond, 350*time.Millisecond))
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		350 * time.Millisecond,
		350 * time.Millisecond,
	}
	for i, w := range want {
		if got := c.backoffDelay(i + 1); got != w {
			t.Fatalf("attempt %d delay = %s, want %s", i+1, got, w)
		}
	}
}
