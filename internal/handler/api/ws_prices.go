package api

import (
	"net/http"
	"time"

	models "PriceSentinel/internal/domain/models"
	"PriceSentinel/internal/service/feed"
	xlogger "PriceSentinel/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsSendBuffer   = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type wsFrame struct {
	Type   string        `json:"type"`
	Symbol string        `json:"symbol,omitempty"`
	Quote  *models.Quote `json:"quote,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// WSPricesHandler streams live quotes over a WebSocket, backed by feed
// subscriptions. Each connection subscribes the symbols it asks for and the
// subscriptions are removed when the socket closes.
type WSPricesHandler struct {
	logger *xlogger.Logger
	feed   *feed.Service
}

func NewWSPricesHandler(logger *xlogger.Logger, fd *feed.Service) *WSPricesHandler {
	return &WSPricesHandler{logger: logger, feed: fd}
}

func (h *WSPricesHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/prices", h.Stream)
}

func (h *WSPricesHandler) Stream(c echo.Context) error {
	symbols := splitSymbols(c.QueryParam("symbols"))
	if len(symbols) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "symbols required")
	}

	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	send := make(chan wsFrame, wsSendBuffer)
	done := make(chan struct{})

	subs := make([]*feed.Subscription, 0, len(symbols))
	for _, symbol := range symbols {
		sym := symbol
		sub := h.feed.Subscribe(sym,
			func(q models.Quote) {
				select {
				case send <- wsFrame{Type: "price", Symbol: sym, Quote: &q}:
				default:
					// slow consumer, drop the tick
				}
			},
			func(err error) {
				select {
				case send <- wsFrame{Type: "error", Symbol: sym, Error: err.Error()}:
				default:
				}
			},
		)
		subs = append(subs, sub)
	}

	cleanup := func() {
		for _, sub := range subs {
			h.feed.Unsubscribe(sub)
		}
		_ = conn.Close()
	}

	// reader: drain control frames and detect close
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// writer
	go func() {
		defer cleanup()
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case frame := <-send:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(frame); err != nil {
					h.logger.Debug("ws write failed", xlogger.Error(err))
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	return nil
}
