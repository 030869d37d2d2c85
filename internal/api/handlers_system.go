//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/machinarr/machinarr/internal/config"
)

// healthCheck reports liveness without authentication.
// GET /health
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": config.Version,
	})
}

// getStatus returns the state of every component.
// GET /api/v1/status
func (s *Server) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.app.Status())
}

// getHealth lists the health of every instance and the notifier.
// GET /api/v1/health
func (s *Server) getHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"items":   s.app.Health().GetAll(),
		"summary": s.app.Health().GetSummary(),
	})
}

// testNotification sends a test message through the configured notifier.
// POST /api/v1/notifications/test
func (s *Server) testNotification(c echo.Context) error {
	if err := s.app.SendTestNotification(c.Request().Context()); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message":  "Test notification sent",
		"notifier": s.app.Sender().Name(),
	})
}

// flushNotifications sends the pending digest immediately.
// POST /api/v1/notifications/flush
func (s *Server) flushNotifications(c echo.Context) error {
	res, err := s.app.Digest().Flush(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}
