package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	models "PriceSentinel/internal/domain/models"
	xlogger "PriceSentinel/pkg/logger"

	"github.com/labstack/echo/v4"
)

type stubEventReader struct {
	events []*models.AnomalyEvent
	symbol string
	limit  int
}

func (s *stubEventReader) Recent(_ context.Context, symbol string, limit int) ([]*models.AnomalyEvent, error) {
	s.symbol = symbol
	s.limit = limit
	return s.events, nil
}

func newRecentContext(t *testing.T, query url.Values) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/anomaly/recent?"+query.Encode(), nil)
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func newRecentHandler(t *testing.T, reader EventReader) *MarketEchoHandler {
	t.Helper()
	lg, err := xlogger.New(&xlogger.Config{Level: "error", Format: "console", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	h := NewMarketEchoHandler(lg, nil, nil, nil)
	if reader != nil {
		h.SetEventReader(reader)
	}
	return h
}

func decodeEvents(t *testing.T, rec *httptest.ResponseRecorder) []models.AnomalyEvent {
	t.Helper()
	var body struct {
		Status int                   `json:"status"`
		Data   []models.AnomalyEvent `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != http.StatusOK {
		t.Fatalf("status = %d", body.Status)
	}
	return body.Data
}

func TestRecentAnomaliesSinceFilter(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	reader := &stubEventReader{events: []*models.AnomalyEvent{
		{Symbol: "BTC", Method: "zscore", Timestamp: base.Add(2 * time.Hour)},
		{Symbol: "BTC", Method: "zscore", Timestamp: base},
	}}
	h := newRecentHandler(t, reader)

	q := url.Values{}
	q.Set("symbol", "btc")
	q.Set("since", base.Add(time.Hour).Format(time.RFC3339))
	c, rec := newRecentContext(t, q)

	if err := h.RecentAnomalies(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if reader.symbol != "BTC" {
		t.Fatalf("queried symbol = %q, want normalized BTC", reader.symbol)
	}
	events := decodeEvents(t, rec)
	if len(events) != 1 {
		t.Fatalf("got %d events after filter, want 1", len(events))
	}
	if !events[0].Timestamp.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("wrong event survived the filter: %v", events[0].Timestamp)
	}
}

func TestRecentAnomaliesDefaultsWithoutSince(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	reader := &stubEventReader{events: []*models.AnomalyEvent{
		{Symbol: "ETH", Timestamp: base.Add(time.Hour)},
		{Symbol: "ETH", Timestamp: base},
	}}
	h := newRecentHandler(t, reader)

	q := url.Values{}
	q.Set("symbol", "ETH")
	c, rec := newRecentContext(t, q)

	if err := h.RecentAnomalies(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if reader.limit != 100 {
		t.Fatalf("limit = %d, want default 100", reader.limit)
	}
	if got := decodeEvents(t, rec); len(got) != 2 {
		t.Fatalf("got %d events, want all 2", len(got))
	}
}

func TestRecentAnomaliesUnavailableWithoutStore(t *testing.T) {
	h := newRecentHandler(t, nil)

	q := url.Values{}
	q.Set("symbol", "BTC")
	c, rec := newRecentContext(t, q)

	if err := h.RecentAnomalies(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	var body struct {
		Status int `json:"status"`
		Data   []struct {
			Code string `json:"code"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", body.Status, http.StatusNotFound)
	}
	if len(body.Data) != 1 || body.Data[0].Code != "ERR_NOT_FOUND" {
		t.Fatalf("expected not-found app error, got %s", rec.Body.String())
	}
}
