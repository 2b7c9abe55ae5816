package middleware

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"PriceSentinel/internal/domain/models"
)

type flakySink struct {
	mu       sync.Mutex
	failures int
	sent     []*models.AnomalyEvent
}

func (s *flakySink) Send(_ context.Context, e *models.AnomalyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("sink unavailable")
	}
	s.sent = append(s.sent, e)
	return nil
}

func (s *flakySink) SendBatch(ctx context.Context, events []*models.AnomalyEvent) error {
	for _, e := range events {
		if err := s.Send(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *flakySink) Close() error { return nil }

func (s *flakySink) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type nopMetrics struct{}

func (nopMetrics) RecordPollCycle(string)          {}
func (nopMetrics) RecordFetchError(string)         {}
func (nopMetrics) RecordLastPrice(string, float64) {}
func (nopMetrics) RecordVerdict(string, bool)      {}
func (nopMetrics) RecordBackoffDelay(float64)      {}
func (nopMetrics) RecordLatency(string, float64)   {}

func event(symbol string) *models.AnomalyEvent {
	return &models.AnomalyEvent{
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Method:    "zscore",
		Price:     123.45,
	}
}

func TestPipelineDelivers(t *testing.T) {
	sink := &flakySink{}
	p := NewAlertPipeline(sink, nopMetrics{}, WithCooldown(0))

	if err := p.Process(context.Background(), event("BTC")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if sink.delivered() != 1 {
		t.Fatalf("delivered = %d", sink.delivered())
	}
}

func TestPipelineRejectsInvalid(t *testing.T) {
	p := NewAlertPipeline(&flakySink{}, nopMetrics{})
	if err := p.Process(context.Background(), nil); err == nil {
		t.Fatalf("nil event accepted")
	}
	if err := p.Process(context.Background(), &models.AnomalyEvent{Timestamp: time.Now()}); err == nil {
		t.Fatalf("empty symbol accepted")
	}
}

func TestPipelineCooldownThrottles(t *testing.T) {
	sink := &flakySink{}
	p := NewAlertPipeline(sink, nopMetrics{}, WithCooldown(time.Hour))

	_ = p.Process(context.Background(), event("BTC"))
	_ = p.Process(context.Background(), event("BTC"))
	if sink.delivered() != 1 {
		t.Fatalf("repeat alert inside cooldown delivered, total = %d", sink.delivered())
	}

	// cooldown is per symbol
	_ = p.Process(context.Background(), event("ETH"))
	if sink.delivered() != 2 {
		t.Fatalf("other symbol throttled, total = %d", sink.delivered())
	}
}

func TestPipelineBuffersAndFlushes(t *testing.T) {
	sink := &flakySink{failures: 1}
	p := NewAlertPipeline(sink, nopMetrics{}, WithCooldown(0), WithBufferSize(8))
	p.Start(context.Background())
	defer p.Stop()

	if err := p.Process(context.Background(), event("BTC")); err == nil {
		t.Fatalf("expected sink failure to surface")
	}

	// the buffered event is retried in the background once the sink recovers
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sink.delivered() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("buffered alert never flushed")
}
