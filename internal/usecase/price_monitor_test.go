package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"PriceSentinel/internal/domain/models"
	mid "PriceSentinel/internal/middleware"
	"PriceSentinel/internal/services/analytics"
	applogger "PriceSentinel/pkg/logger"
)

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "console", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

type captureSink struct {
	mu     sync.Mutex
	events []*models.AnomalyEvent
}

func (s *captureSink) Send(_ context.Context, e *models.AnomalyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *captureSink) SendBatch(ctx context.Context, events []*models.AnomalyEvent) error {
	for _, e := range events {
		_ = s.Send(ctx, e)
	}
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type recordMetrics struct {
	mu       sync.Mutex
	verdicts map[string]int
}

func (m *recordMetrics) RecordPollCycle(string)          {}
func (m *recordMetrics) RecordFetchError(string)         {}
func (m *recordMetrics) RecordLastPrice(string, float64) {}
func (m *recordMetrics) RecordBackoffDelay(float64)      {}
func (m *recordMetrics) RecordLatency(string, float64)   {}

func (m *recordMetrics) RecordVerdict(method string, anomalous bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.verdicts == nil {
		m.verdicts = make(map[string]int)
	}
	m.verdicts[method]++
}

func quoteAt(price float64, ts time.Time) models.Quote {
	return models.Quote{Symbol: "BTC", Price: price, Timestamp: ts.Unix()}
}

func flatHistory(n int, price float64) []models.PricePoint {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.PricePoint, n)
	for i := range out {
		out[i] = models.PricePoint{Timestamp: base.Add(time.Duration(i) * time.Minute), Price: price + float64(i%2)}
	}
	return out
}

func newTestMonitor(t *testing.T, sink *captureSink) *PriceMonitor {
	t.Helper()
	metrics := &recordMetrics{}
	pipe := mid.NewAlertPipeline(sink, metrics, mid.WithCooldown(0))
	m := NewPriceMonitor(nil, nil, pipe, metrics, testLogger(t), analytics.MethodZScore, 0)
	return m
}

func TestMonitorFlagsSpikeAndRoutesAlert(t *testing.T) {
	sink := &captureSink{}
	m := newTestMonitor(t, sink)
	m.history["BTC"] = flatHistory(30, 100)

	now := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	m.onPrice(context.Background(), "BTC", quoteAt(500, now))

	if sink.count() != 1 {
		t.Fatalf("expected 1 alert, got %d", sink.count())
	}
	e := sink.events[0]
	if e.Symbol != "BTC" || e.Method != "zscore" || e.Price != 500 {
		t.Fatalf("event = %+v", e)
	}
	if !e.Timestamp.Equal(now) {
		t.Fatalf("event timestamp = %s, want %s", e.Timestamp, now)
	}
}

func TestMonitorQuietTickNoAlert(t *testing.T) {
	sink := &captureSink{}
	m := newTestMonitor(t, sink)
	m.history["BTC"] = flatHistory(30, 100)

	m.onPrice(context.Background(), "BTC", quoteAt(100.4, time.Now()))

	if sink.count() != 0 {
		t.Fatalf("quiet tick raised an alert")
	}
	if got := m.History("BTC"); len(got) != 31 {
		t.Fatalf("tick not appended to history, len = %d", len(got))
	}
}

func TestMonitorScoresAgainstHistoryBeforeAppending(t *testing.T) {
	// the live tick must not be part of the window it is scored against:
	// two identical spikes in a row should both be flagged
	sink := &captureSink{}
	m := newTestMonitor(t, sink)
	m.history["BTC"] = flatHistory(30, 100)

	m.onPrice(context.Background(), "BTC", quoteAt(500, time.Now()))
	m.onPrice(context.Background(), "BTC", quoteAt(500, time.Now()))

	if sink.count() != 2 {
		t.Fatalf("expected both spikes flagged, got %d", sink.count())
	}
}

func TestMonitorColdStartNeedsTwoTicks(t *testing.T) {
	sink := &captureSink{}
	m := newTestMonitor(t, sink)

	m.onPrice(context.Background(), "BTC", quoteAt(100, time.Now()))
	m.onPrice(context.Background(), "BTC", quoteAt(9999, time.Now()))

	// second tick has only one history point, still below the minimum
	if sink.count() != 0 {
		t.Fatalf("alert raised before a scorable window existed")
	}
	if got := m.History("BTC"); len(got) != 2 {
		t.Fatalf("history len = %d", len(got))
	}
}

func TestMonitorHistoryBounded(t *testing.T) {
	sink := &captureSink{}
	m := newTestMonitor(t, sink)
	m.historyLimit = 10
	m.history["BTC"] = flatHistory(10, 100)

	m.onPrice(context.Background(), "BTC", quoteAt(100.2, time.Now()))

	got := m.History("BTC")
	if len(got) != 10 {
		t.Fatalf("history len = %d, want bounded at 10", len(got))
	}
	if got[len(got)-1].Price != 100.2 {
		t.Fatalf("newest point missing, tail = %+v", got[len(got)-1])
	}
}
