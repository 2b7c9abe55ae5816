package logger

import (
	"context"
	"sync"
	"testing"
	"time"
)

type capturePublisher struct {
	mu      sync.Mutex
	topics  []string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	if entries, ok := payload.([]AggregatedLogEntry); ok {
		p.batches = append(p.batches, entries)
	}
	return nil
}

func (p *capturePublisher) batchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

func waitForBatches(t *testing.T, p *capturePublisher, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.batchCount() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("publisher got %d batches, want %d", p.batchCount(), want)
}

func TestCollectorAggregatesDuplicatesAndFlushesOnThreshold(t *testing.T) {
	pub := &capturePublisher{}
	collector := NewLogCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 2,
		Topic:          "alerts.logs",
		Publisher:      pub,
	})
	defer collector.Close()

	fields := map[string]interface{}{"symbol": "BTC"}
	collector.AddLog("error", "fetch failed", fields, "poller.go:42")
	collector.AddLog("error", "fetch failed", fields, "poller.go:42")
	collector.AddLog("error", "sink unreachable", nil, "pipeline.go:10")

	waitForBatches(t, pub, 1)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.topics[0] != "alerts.logs" {
		t.Fatalf("topic = %q", pub.topics[0])
	}
	batch := pub.batches[0]
	if len(batch) != 2 {
		t.Fatalf("batch size = %d, want 2 unique entries", len(batch))
	}
	counts := map[string]int{}
	for _, e := range batch {
		counts[e.Message] = e.Count
	}
	if counts["fetch failed"] != 2 {
		t.Fatalf("duplicate count = %d, want 2", counts["fetch failed"])
	}
	if counts["sink unreachable"] != 1 {
		t.Fatalf("unique count = %d, want 1", counts["sink unreachable"])
	}
}

func TestCollectorFinalFlushOnClose(t *testing.T) {
	pub := &capturePublisher{}
	collector := NewLogCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 100,
		Topic:          "alerts.logs",
		Publisher:      pub,
	})

	collector.AddLog("error", "one last thing", nil, "app.go:1")
	collector.Close()

	waitForBatches(t, pub, 1)
}

func TestLoggerRoutesErrorsToCollector(t *testing.T) {
	lg, err := New(&Config{Level: "error", Format: "console", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	pub := &capturePublisher{}
	lg.AddCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 1,
		Topic:          "alerts.logs",
		Publisher:      pub,
	})
	defer lg.RemoveCollector()

	lg.Error("upstream exploded", String("symbol", "ETH"))

	waitForBatches(t, pub, 1)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	entry := pub.batches[0][0]
	if entry.Message != "upstream exploded" {
		t.Fatalf("message = %q", entry.Message)
	}
	if entry.Fields["symbol"] != "ETH" {
		t.Fatalf("fields = %v", entry.Fields)
	}
}
