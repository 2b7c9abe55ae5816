package repository

import (
	"context"

	"PriceSentinel/internal/domain/models"
)

// QuoteSource provides read access to the upstream quote API.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (models.Quote, error)
	Quotes(ctx context.Context, symbols []string) (map[string]models.Quote, error)
	DailySeries(ctx context.Context, symbol string, days int) ([]models.PricePoint, error)
}

// AlertSink receives anomaly events (Kafka topic, ClickHouse table, or log).
type AlertSink interface {
	Send(ctx context.Context, e *models.AnomalyEvent) error
	SendBatch(ctx context.Context, events []*models.AnomalyEvent) error
	Close() error
}

type Metrics interface {
	RecordPollCycle(result string)
	RecordFetchError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordVerdict(method string, anomalous bool)
	RecordBackoffDelay(seconds float64)
	RecordLatency(op string, seconds float64)
}
