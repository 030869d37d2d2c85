//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/intervention"
)

type resolveQueueRequest struct {
	Source   arr.Source          `json:"source"`
	Instance string              `json:"instance"`
	QueueID  int64               `json:"queueId"`
	Action   intervention.Action `json:"action"`
}

// listStuck returns tracked queue entries, longest stuck first.
// GET /api/v1/queue
func (s *Server) listStuck(c echo.Context) error {
	return c.JSON(http.StatusOK, s.app.Monitor().Entries())
}

// GET /api/v1/queue/stats
func (s *Server) getQueueStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.app.Monitor().Stats())
}

// resolveQueue applies a manual resolution to a stuck download.
// POST /api/v1/queue/resolve
func (s *Server) resolveQueue(c echo.Context) error {
	var req resolveQueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.QueueID <= 0 || req.Action == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "queueId and action are required")
	}

	res, err := s.app.ResolveQueue(c.Request().Context(), req.Source, req.Instance, req.QueueID, req.Action)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// checkReleases looks for grabbable releases of one item.
// POST /api/v1/releases/check
func (s *Server) checkReleases(c echo.Context) error {
	var req itemRef
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := req.validate(); err != nil {
		return err
	}

	n, err := s.app.CheckReleases(c.Request().Context(), req.Source, req.Instance, req.ItemID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"grabbable": n})
}
