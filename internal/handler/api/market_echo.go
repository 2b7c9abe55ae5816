package api

import (
	"context"
	"strings"
	"time"

	models "PriceSentinel/internal/domain/models"
	domrepo "PriceSentinel/internal/domain/repository"
	"PriceSentinel/internal/service/feed"
	"PriceSentinel/internal/service/metrics"
	"PriceSentinel/internal/usecase"
	"PriceSentinel/pkg/cache"
	xhttp "PriceSentinel/pkg/http"
	xlogger "PriceSentinel/pkg/logger"

	"github.com/labstack/echo/v4"
)

const (
	quoteCacheTTL   = 15 * time.Second
	historyCacheTTL = 5 * time.Minute
)

// EventReader is the optional query side of a persisted alert sink.
type EventReader interface {
	Recent(ctx context.Context, symbol string, limit int) ([]*models.AnomalyEvent, error)
}

// MarketEchoHandler exposes quote passthroughs, on-demand series detection,
// and feed introspection over Echo.
type MarketEchoHandler struct {
	logger   *xlogger.Logger
	source   domrepo.QuoteSource
	detector *usecase.SeriesDetector
	feed     *feed.Service
	cache    cache.Service
	events   EventReader
}

func NewMarketEchoHandler(
	logger *xlogger.Logger,
	source domrepo.QuoteSource,
	detector *usecase.SeriesDetector,
	fd *feed.Service,
) *MarketEchoHandler {
	metrics.Register()
	return &MarketEchoHandler{logger: logger, source: source, detector: detector, feed: fd}
}

// SetCache enables response caching for the quote passthroughs.
func (h *MarketEchoHandler) SetCache(c cache.Service) { h.cache = c }

// SetEventReader enables the recent-anomalies endpoint when alerts are
// persisted to ClickHouse.
func (h *MarketEchoHandler) SetEventReader(r EventReader) { h.events = r }

func (h *MarketEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/anomaly/detect", h.Detect)
	g.GET("/anomaly/recent", h.RecentAnomalies)
	g.GET("/quote", h.Quote)
	g.GET("/history", h.History)
	g.GET("/feed/status", h.FeedStatus)
}

// Detect scores a submitted price series point by point.
func (h *MarketEchoHandler) Detect(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.DetectionLatency.WithLabelValues("detect").Observe(time.Since(start).Seconds()) }()

	req := &models.DetectRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.detector.Detect(req)
	if err != nil {
		metrics.DetectionErrors.WithLabelValues("detect").Inc()
		h.logger.Warn("series detect rejected", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	return xhttp.SuccessResponse(c, res)
}

// Quote returns current quotes for a comma-separated symbol list.
func (h *MarketEchoHandler) Quote(c echo.Context) error {
	req := &models.QuoteRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbols := splitSymbols(req.Symbols)
	if len(symbols) == 0 {
		return xhttp.BadRequestResponse(c, "symbols required")
	}

	ctx := c.Request().Context()
	cacheKey := cache.GenerateKey("quote", strings.Join(symbols, ","))
	if h.cache != nil {
		var cached map[string]models.Quote
		if err := h.cache.Get(ctx, cacheKey, &cached); err == nil {
			return xhttp.SuccessResponse(c, cached)
		}
	}

	quotes, err := h.source.Quotes(ctx, symbols)
	if err != nil {
		h.logger.Error("quote passthrough failed", xlogger.Error(err))
		return quoteAPIErrorResponse(c, err)
	}
	if h.cache != nil {
		if err := h.cache.Set(ctx, cacheKey, quotes, quoteCacheTTL); err != nil {
			h.logger.Warn("quote cache set failed", xlogger.Error(err))
		}
	}
	return xhttp.SuccessResponse(c, quotes)
}

// History returns the daily price series for one symbol.
func (h *MarketEchoHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))

	ctx := c.Request().Context()
	cacheKey := cache.GenerateKeyWithParams("history", symbol, req.Days)
	if h.cache != nil {
		var cached []models.PricePoint
		if err := h.cache.Get(ctx, cacheKey, &cached); err == nil {
			return xhttp.SuccessResponse(c, cached)
		}
	}

	points, err := h.source.DailySeries(ctx, symbol, req.Days)
	if err != nil {
		h.logger.Error("history passthrough failed", xlogger.Error(err))
		return quoteAPIErrorResponse(c, err)
	}
	if h.cache != nil {
		if err := h.cache.Set(ctx, cacheKey, points, historyCacheTTL); err != nil {
			h.logger.Warn("history cache set failed", xlogger.Error(err))
		}
	}
	return xhttp.SuccessResponse(c, points)
}

// RecentAnomalies returns the latest persisted anomaly events for a symbol.
// Only available when alerts are stored in ClickHouse.
func (h *MarketEchoHandler) RecentAnomalies(c echo.Context) error {
	if h.events == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("alert history not enabled"))
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.QueryParam("symbol")))
	if symbol == "" {
		return xhttp.BadRequestResponse(c, "symbol required")
	}

	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 100)
	events, err := h.events.Recent(c.Request().Context(), symbol, limit)
	if err != nil {
		h.logger.Error("recent anomalies query failed", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}

	// Optional lower bound: RFC3339 or unix seconds, ignored when absent.
	if since := xhttp.ParseTimeDefault(c.QueryParam("since"), time.Time{}); !since.IsZero() {
		filtered := events[:0]
		for _, e := range events {
			if !e.Timestamp.Before(since) {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	return xhttp.SuccessResponse(c, events)
}

// FeedStatus reports the polling state and the watched symbols.
func (h *MarketEchoHandler) FeedStatus(c echo.Context) error {
	if h.feed == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("feed not enabled"))
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"state":   h.feed.State().String(),
		"symbols": h.feed.Symbols(),
	})
}

func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
