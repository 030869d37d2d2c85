package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/machinarr/machinarr/internal/api/ratelimit"
)

// HeaderAPIKey carries the API key, matching the Sonarr/Radarr convention.
const HeaderAPIKey = "X-Api-Key"

// APIKey rejects requests without the configured key. The key may also be
// passed as the apikey query parameter, which browsers need for websocket
// upgrades. An empty key disables the check. Repeated failures from one IP
// lock it out.
func APIKey(key string, limiter *ratelimit.AuthLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if key == "" {
			return next
		}
		return func(c echo.Context) error {
			ip := c.RealIP()
			if remaining := limiter.LockoutRemaining(ip); remaining > 0 {
				return echo.NewHTTPError(http.StatusTooManyRequests,
					fmt.Sprintf("too many failed attempts, retry in %s", remaining.Round(time.Second)))
			}

			given := c.Request().Header.Get(HeaderAPIKey)
			if given == "" {
				given = c.QueryParam("apikey")
			}
			if subtle.ConstantTimeCompare([]byte(given), []byte(key)) != 1 {
				limiter.RecordFailure(ip)
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing API key")
			}
			limiter.RecordSuccess(ip)
			return next(c)
		}
	}
}
