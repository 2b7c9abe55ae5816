package api

import "github.com/labstack/echo/v4"

// Routes bundles the REST and WebSocket handlers into one registration.
type Routes struct {
	Market *MarketEchoHandler
	WS     *WSPricesHandler
}

func (r *Routes) RegisterRoutes(e *echo.Echo) {
	if r.Market != nil {
		r.Market.RegisterRoutes(e)
	}
	if r.WS != nil {
		r.WS.RegisterRoutes(e)
	}
}
