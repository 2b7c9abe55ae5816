package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"PriceSentinel/internal/domain/models"
	drepo "PriceSentinel/internal/domain/repository"
	mid "PriceSentinel/internal/middleware"
	"PriceSentinel/internal/service/feed"
	"PriceSentinel/internal/services/analytics"
	applogger "PriceSentinel/pkg/logger"
)

const defaultHistoryLimit = 500

// PriceMonitor subscribes configured symbols on the price feed, scores every
// tick against that symbol's rolling history, and routes flagged ticks into
// the alert pipeline.
type PriceMonitor struct {
	feed    *feed.Service
	source  drepo.QuoteSource
	pipe    *mid.AlertPipeline
	metrics drepo.Metrics
	logger  *applogger.Logger

	method       analytics.Method
	seedDays     int
	historyLimit int

	mu      sync.Mutex
	history map[string][]models.PricePoint
	subs    []*feed.Subscription
}

// NewPriceMonitor creates a monitor for the given detection method. seedDays
// controls how much daily history is loaded per symbol before live scoring.
func NewPriceMonitor(
	fd *feed.Service,
	source drepo.QuoteSource,
	pipe *mid.AlertPipeline,
	metrics drepo.Metrics,
	logger *applogger.Logger,
	method analytics.Method,
	seedDays int,
) *PriceMonitor {
	return &PriceMonitor{
		feed:         fd,
		source:       source,
		pipe:         pipe,
		metrics:      metrics,
		logger:       logger,
		method:       method,
		seedDays:     seedDays,
		historyLimit: defaultHistoryLimit,
		history:      make(map[string][]models.PricePoint),
	}
}

// Start seeds history and subscribes every symbol. A failed seed is logged
// and the symbol starts with an empty window; scoring begins once two ticks
// have accumulated.
func (m *PriceMonitor) Start(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to monitor")
	}
	if m.pipe != nil {
		m.pipe.Start(ctx)
	}

	for _, raw := range symbols {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" {
			continue
		}
		m.seed(ctx, symbol)

		sym := symbol
		sub := m.feed.Subscribe(sym,
			func(q models.Quote) { m.onPrice(ctx, sym, q) },
			func(err error) { m.onError(sym, err) },
		)
		m.mu.Lock()
		m.subs = append(m.subs, sub)
		m.mu.Unlock()
	}
	return nil
}

// Stop detaches the monitor from the feed and drains the pipeline.
func (m *PriceMonitor) Stop() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	for _, sub := range subs {
		m.feed.Unsubscribe(sub)
	}
	if m.pipe != nil {
		m.pipe.Stop()
	}
}

func (m *PriceMonitor) seed(ctx context.Context, symbol string) {
	if m.source == nil || m.seedDays <= 0 {
		return
	}
	points, err := m.source.DailySeries(ctx, symbol, m.seedDays)
	if err != nil {
		m.logger.Warn("history seed failed, starting cold",
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)
		return
	}
	m.mu.Lock()
	m.history[symbol] = trimHistory(points, m.historyLimit)
	m.mu.Unlock()
	m.logger.Info("history seeded",
		applogger.String("symbol", symbol),
		applogger.Int("points", len(points)),
	)
}

func (m *PriceMonitor) onPrice(ctx context.Context, symbol string, q models.Quote) {
	m.mu.Lock()
	window := append([]models.PricePoint(nil), m.history[symbol]...)
	m.mu.Unlock()

	point := models.PricePoint{Timestamp: time.Unix(q.Timestamp, 0).UTC(), Price: q.Price}
	if point.Timestamp.IsZero() || q.Timestamp == 0 {
		point.Timestamp = time.Now().UTC()
	}

	res, ok := analytics.Evaluate(window, q.Price, m.method)
	if ok {
		m.metrics.RecordVerdict(m.method.String(), res.Anomaly)
		if res.Anomaly && m.pipe != nil {
			event := &models.AnomalyEvent{
				Symbol:    symbol,
				Timestamp: point.Timestamp,
				Method:    m.method.String(),
				Price:     q.Price,
				Stats:     res.Stats,
			}
			if err := m.pipe.Process(ctx, event); err != nil {
				m.logger.Error("alert delivery failed",
					applogger.String("symbol", symbol),
					applogger.Error(err),
				)
			}
		}
	}

	m.mu.Lock()
	m.history[symbol] = trimHistory(append(m.history[symbol], point), m.historyLimit)
	m.mu.Unlock()
}

func (m *PriceMonitor) onError(symbol string, err error) {
	var be *feed.BackoffError
	if errors.As(err, &be) {
		m.logger.Warn("feed backing off",
			applogger.String("symbol", symbol),
			applogger.Duration("delay_ms", be.Delay),
		)
		return
	}
	m.logger.Warn("price fetch failed",
		applogger.String("symbol", symbol),
		applogger.Error(err),
	)
}

// History returns a copy of the rolling window for a symbol.
func (m *PriceMonitor) History(symbol string) []models.PricePoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PricePoint(nil), m.history[strings.ToUpper(symbol)]...)
}

func trimHistory(points []models.PricePoint, limit int) []models.PricePoint {
	if limit > 0 && len(points) > limit {
		return points[len(points)-limit:]
	}
	return points
}
