//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/machinarr/machinarr/internal/attribution"
)

// listFinds returns recent confirmed finds, newest first.
// GET /api/v1/finds?limit=50
func (s *Server) listFinds(c echo.Context) error {
	return c.JSON(http.StatusOK, s.app.Tracker().Recent(queryLimit(c, defaultResultLimit)))
}

// GET /api/v1/finds/stats
func (s *Server) getFindStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.app.Tracker().Stats())
}

// GET /api/v1/finds/pending
func (s *Server) listPendingFinds(c echo.Context) error {
	return c.JSON(http.StatusOK, s.app.Tracker().Pending())
}

// recordFind credits a find reported by the user.
// POST /api/v1/finds
func (s *Server) recordFind(c echo.Context) error {
	var req attribution.ManualFind
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ref := itemRef{Source: req.Source, Instance: req.Instance, ItemID: req.ItemID}
	if err := ref.validate(); err != nil {
		return err
	}
	if req.ResolutionType == "" {
		req.ResolutionType = attribution.ResolutionManual
	}

	f, recorded, err := s.app.RecordManualFind(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}
	if !recorded {
		return c.JSON(http.StatusOK, map[string]any{"recorded": false})
	}
	return c.JSON(http.StatusCreated, map[string]any{"recorded": true, "find": f})
}
