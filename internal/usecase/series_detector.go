package usecase

import (
	"fmt"
	"time"

	"PriceSentinel/internal/domain/models"
	drepo "PriceSentinel/internal/domain/repository"
	"PriceSentinel/internal/services/analytics"
)

// SeriesDetector scores a submitted price series point by point: each point
// is evaluated against the window of points immediately preceding it.
type SeriesDetector struct {
	metrics drepo.Metrics
}

// NewSeriesDetector creates a stateless series detector.
func NewSeriesDetector(metrics drepo.Metrics) *SeriesDetector {
	return &SeriesDetector{metrics: metrics}
}

// Detect evaluates every point of the request series. The series must be in
// non-decreasing timestamp order. Points without at least two predecessors in
// the window are never flagged. The response stats describe the final point's
// evaluation.
func (d *SeriesDetector) Detect(req *models.DetectRequest) (*models.DetectResponse, error) {
	method, err := analytics.ParseMethod(req.Method)
	if err != nil {
		return nil, err
	}

	n := len(req.Prices)
	if n == 0 {
		return nil, fmt.Errorf("empty series")
	}
	for i := 1; i < n; i++ {
		if req.Prices[i].Timestamp.Before(req.Prices[i-1].Timestamp) {
			return nil, fmt.Errorf("price points must be in chronological order")
		}
	}

	started := time.Now()
	resp := &models.DetectResponse{
		Timestamps: make([]time.Time, n),
		Prices:     make([]float64, n),
		IsAnomaly:  make([]bool, n),
		Thresholds: make([]float64, n),
		Method:     method.String(),
	}

	window := make([]models.PricePoint, 0, req.WindowSize)
	for i, p := range req.Prices {
		resp.Timestamps[i] = p.Timestamp
		resp.Prices[i] = p.Price

		if res, ok := analytics.Evaluate(window, p.Price, method); ok {
			resp.IsAnomaly[i] = res.Anomaly
			resp.Thresholds[i] = res.Stats.Threshold
			resp.Stats = res.Stats
			if d.metrics != nil {
				d.metrics.RecordVerdict(method.String(), res.Anomaly)
			}
		}

		window = append(window, models.PricePoint{Timestamp: p.Timestamp, Price: p.Price})
		if len(window) > req.WindowSize {
			window = window[1:]
		}
	}

	if d.metrics != nil {
		d.metrics.RecordLatency("series_detect", time.Since(started).Seconds())
	}
	return resp, nil
}
