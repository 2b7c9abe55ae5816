package api

import (
	"errors"
	"net/http"

	"PriceSentinel/internal/service/quoteapi"
	xhttp "PriceSentinel/pkg/http"

	"github.com/labstack/echo/v4"
)

// quoteAPIErrorResponse maps upstream client failures to API responses.
// Throttling propagates as 429 so callers slow down with us; upstream faults
// surface as 502/503 rather than a generic 500.
func quoteAPIErrorResponse(c echo.Context, err error) error {
	if quoteapi.IsRateLimit(err) {
		appErr := xhttp.NewAppError("ERR_RATE_LIMITED", "", "upstream rate limit", http.StatusTooManyRequests)
		if hint := quoteapi.RetryAfterHint(err); hint > 0 {
			appErr = appErr.WithParam("retry_after_seconds", int(hint.Seconds()))
		}
		return xhttp.AppErrorResponse(c, appErr)
	}

	var se *quoteapi.StatusError
	if errors.As(err, &se) {
		return xhttp.AppErrorResponse(c,
			xhttp.NewAppError("ERR_UPSTREAM_STATUS", "", "upstream rejected the request", http.StatusBadGateway).
				WithParam("upstream_status", se.StatusCode))
	}

	var me *quoteapi.MalformedResponseError
	if errors.As(err, &me) {
		return xhttp.AppErrorResponse(c,
			xhttp.NewAppError("ERR_UPSTREAM_BODY", "", "upstream returned an unreadable response", http.StatusBadGateway))
	}

	var te *quoteapi.TransientError
	if errors.As(err, &te) {
		return xhttp.AppErrorResponse(c,
			xhttp.NewAppError("ERR_UPSTREAM_UNAVAILABLE", "", "upstream unreachable", http.StatusServiceUnavailable))
	}

	return xhttp.InternalServerErrorResponse(c)
}
