// Package quoteapi implements the client for the upstream quote API: current
// quotes for a set of symbols and daily price series per symbol, with retry,
// backoff, and typed rate-limit errors.
package quoteapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"PriceSentinel/internal/domain/models"
	"PriceSentinel/internal/service/ratelimit"
	xhttp "PriceSentinel/pkg/http"
	applogger "PriceSentinel/pkg/logger"
)

const (
	defaultMaxRetries     = 3
	defaultAttemptTimeout = 30 * time.Second
	defaultInitialDelay   = 1 * time.Second
	defaultMaxDelay       = 30 * time.Second
)

// Client talks to the upstream quote API. Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string

	http    *xhttp.Client
	limiter *ratelimit.Limiter
	logger  *applogger.Logger

	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration

	// local token bucket guarding the request rate before hitting the wire
	burst  float64
	refill float64
}

type Option func(*Client)

// WithRetry overrides the attempt budget and backoff window.
func WithRetry(maxRetries int, initial, max time.Duration) Option {
	return func(c *Client) {
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
		if initial > 0 {
			c.initialDelay = initial
		}
		if max > 0 {
			c.maxDelay = max
		}
	}
}

// WithAttemptTimeout sets the per-attempt HTTP timeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = xhttp.NewClient(xhttp.WithTimeout(d))
		}
	}
}

// WithRequestBudget sets the local token bucket (burst capacity, refill per second).
func WithRequestBudget(burst, refillPerSec float64) Option {
	return func(c *Client) {
		c.burst = burst
		c.refill = refillPerSec
	}
}

// WithLogger attaches a logger for retry diagnostics.
func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a quote API client.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		http:         xhttp.NewClient(xhttp.WithTimeout(defaultAttemptTimeout)),
		limiter:      ratelimit.New(),
		maxRetries:   defaultMaxRetries,
		initialDelay: defaultInitialDelay,
		maxDelay:     defaultMaxDelay,
		burst:        30,
		refill:       5,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type quotePayload struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
	Volume24h float64 `json:"volume_24h"`
	MarketCap float64 `json:"market_cap"`
	T         int64   `json:"t"`
}

type quotesResponse struct {
	Quotes []quotePayload `json:"quotes"`
}

type seriesPoint struct {
	T     int64   `json:"t"`
	Price float64 `json:"price"`
}

type seriesResponse struct {
	Symbol string        `json:"symbol"`
	Points []seriesPoint `json:"points"`
}

// Quotes fetches current quotes for a set of symbols in one request.
func (c *Client) Quotes(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	if len(symbols) == 0 {
		return map[string]models.Quote{}, nil
	}
	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(s)
	}

	var qr quotesResponse
	err := c.get(ctx, "/v1/quote", map[string][]string{
		"symbols": {strings.Join(upper, ",")},
	}, &qr)
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.Quote, len(qr.Quotes))
	for _, q := range qr.Quotes {
		out[strings.ToUpper(q.Symbol)] = models.Quote{
			Symbol:    strings.ToUpper(q.Symbol),
			Price:     q.Price,
			Change24h: q.Change24h,
			Volume24h: q.Volume24h,
			MarketCap: q.MarketCap,
			Timestamp: q.T,
		}
	}
	return out, nil
}

// Quote fetches the current quote for a single symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	quotes, err := c.Quotes(ctx, []string{symbol})
	if err != nil {
		return models.Quote{}, err
	}
	q, ok := quotes[strings.ToUpper(symbol)]
	if !ok {
		return models.Quote{}, &StatusError{StatusCode: http.StatusNotFound, Body: fmt.Sprintf("no quote for %s", symbol)}
	}
	return q, nil
}

// DailySeries fetches the daily (timestamp, price) series for one symbol over
// the given number of days, oldest first.
func (c *Client) DailySeries(ctx context.Context, symbol string, days int) ([]models.PricePoint, error) {
	var sr seriesResponse
	err := c.get(ctx, "/v1/history", map[string][]string{
		"symbol": {strings.ToUpper(symbol)},
		"days":   {strconv.Itoa(days)},
	}, &sr)
	if err != nil {
		return nil, err
	}

	points := make([]models.PricePoint, len(sr.Points))
	for i, p := range sr.Points {
		points[i] = models.PricePoint{Timestamp: time.Unix(p.T, 0).UTC(), Price: p.Price}
	}
	return points, nil
}

// get performs one logical request with up to maxRetries attempts. Transient
// failures and 429s are retried with exponential backoff; a Retry-After hint
// replaces the computed delay. Other failures are terminal.
func (c *Client) get(ctx context.Context, path string, params map[string][]string, dest interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		err := c.attempt(ctx, path, params, dest)
		if err == nil {
			return nil
		}
		lastErr = err

		var delay time.Duration
		switch {
		case IsRateLimit(err):
			delay = c.backoffDelay(attempt)
			if hint := RetryAfterHint(err); hint > 0 {
				delay = hint
			}
		case isTransient(err):
			delay = c.backoffDelay(attempt)
		default:
			// terminal: bad status or malformed body
			return err
		}

		if attempt == c.maxRetries {
			break
		}
		if c.logger != nil {
			c.logger.Warn("quote api retry",
				applogger.String("path", path),
				applogger.Int("attempt", attempt),
				applogger.Duration("delay_ms", delay),
				applogger.Error(err),
			)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("quote api %s: retries exhausted: %w", path, lastErr)
}

func (c *Client) attempt(ctx context.Context, path string, params map[string][]string, dest interface{}) error {
	if !c.limiter.Allow("quoteapi", c.burst, c.refill) {
		return &RateLimitError{}
	}

	query := map[string][]string{"apikey": {c.apiKey}}
	for k, v := range params {
		query[k] = v
	}

	resp, err := c.http.SendRequest(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         c.baseURL + path,
		QueryParams: query,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &MalformedResponseError{Err: err}
	}
	return nil
}

// backoffDelay computes initialDelay * 2^(attempt-1) capped at maxDelay.
func (c *Client) backoffDelay(attempt int) time.Duration {
	d := c.initialDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.maxDelay {
			return c.maxDelay
		}
	}
	if d > c.maxDelay {
		return c.maxDelay
	}
	return d
}

func isTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// parseRetryAfter reads the Retry-After header as whole seconds. An HTTP-date
// or garbage value yields 0 and the computed backoff applies instead.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
