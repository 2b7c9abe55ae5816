package usecase

import (
	"testing"
	"time"

	"PriceSentinel/internal/domain/models"
)

func makeSeries(prices []float64) []models.SeriesPoint {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.SeriesPoint, len(prices))
	for i, p := range prices {
		out[i] = models.SeriesPoint{Timestamp: base.Add(time.Duration(i) * time.Hour), Price: p}
	}
	return out
}

func TestDetectFlagsOutlierAgainstPrecedingWindow(t *testing.T) {
	prices := []float64{100, 101, 100.5, 100.8, 100.2, 100.6, 100.4, 100.7, 250, 100.5}
	req := &models.DetectRequest{
		Prices:     makeSeries(prices),
		Method:     "zscore",
		WindowSize: 8,
	}

	resp, err := NewSeriesDetector(nil).Detect(req)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(resp.IsAnomaly) != len(prices) {
		t.Fatalf("verdict count = %d, want %d", len(resp.IsAnomaly), len(prices))
	}
	if !resp.IsAnomaly[8] {
		t.Fatalf("spike at index 8 not flagged")
	}
	for i := 0; i < 8; i++ {
		if resp.IsAnomaly[i] {
			t.Fatalf("stable point %d flagged", i)
		}
	}
	if resp.Method != "zscore" {
		t.Fatalf("method = %q", resp.Method)
	}
}

func TestDetectEarlyPointsNeverFlagged(t *testing.T) {
	// fewer than two predecessors means no evaluation
	req := &models.DetectRequest{
		Prices:     makeSeries([]float64{1, 1000}),
		Method:     "zscore",
		WindowSize: 20,
	}
	resp, err := NewSeriesDetector(nil).Detect(req)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if resp.IsAnomaly[0] || resp.IsAnomaly[1] {
		t.Fatalf("points without a scorable window were flagged: %v", resp.IsAnomaly)
	}
	if resp.Thresholds[0] != 0 || resp.Thresholds[1] != 0 {
		t.Fatalf("unscored points carry thresholds: %v", resp.Thresholds)
	}
}

func TestDetectWindowSlides(t *testing.T) {
	// a level shift ages out of a small window: late points near the new
	// level must not stay flagged forever
	prices := []float64{100, 100, 100, 200, 200, 200, 200, 200, 200}
	req := &models.DetectRequest{
		Prices:     makeSeries(prices),
		Method:     "zscore",
		WindowSize: 3,
	}
	resp, err := NewSeriesDetector(nil).Detect(req)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	last := len(prices) - 1
	if resp.IsAnomaly[last] {
		t.Fatalf("point matching its recent window flagged")
	}
}

func TestDetectRejectsOutOfOrderSeries(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	req := &models.DetectRequest{
		Prices: []models.SeriesPoint{
			{Timestamp: base.Add(2 * time.Hour), Price: 100},
			{Timestamp: base, Price: 101},
			{Timestamp: base.Add(time.Hour), Price: 102},
		},
		Method:     "zscore",
		WindowSize: 20,
	}
	if _, err := NewSeriesDetector(nil).Detect(req); err == nil {
		t.Fatalf("out-of-order series accepted")
	}
}

func TestDetectAllowsEqualTimestamps(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	req := &models.DetectRequest{
		Prices: []models.SeriesPoint{
			{Timestamp: base, Price: 100},
			{Timestamp: base, Price: 101},
			{Timestamp: base.Add(time.Hour), Price: 100.5},
		},
		Method:     "zscore",
		WindowSize: 20,
	}
	if _, err := NewSeriesDetector(nil).Detect(req); err != nil {
		t.Fatalf("tied timestamps rejected: %v", err)
	}
}

func TestDetectRejectsUnknownMethod(t *testing.T) {
	req := &models.DetectRequest{
		Prices:     makeSeries([]float64{1, 2, 3}),
		Method:     "bollinger",
		WindowSize: 20,
	}
	if _, err := NewSeriesDetector(nil).Detect(req); err == nil {
		t.Fatalf("unknown method accepted")
	}
}
