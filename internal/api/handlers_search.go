//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/machinarr/machinarr/internal/scheduler"
	"github.com/machinarr/machinarr/internal/scheduler/tasks"
)

const defaultResultLimit = 50

// listSearches returns the most recent search attempts, newest first.
// GET /api/v1/searches?limit=50
func (s *Server) listSearches(c echo.Context) error {
	return c.JSON(http.StatusOK, s.app.Searcher().RecentResults(queryLimit(c, defaultResultLimit)))
}

// GET /api/v1/searches/stats
func (s *Server) getSearchStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.app.Searcher().Stats())
}

// GET /api/v1/searches/stopped
func (s *Server) listStoppedItems(c echo.Context) error {
	return c.JSON(http.StatusOK, s.app.Searcher().StoppedItems())
}

// runSearchCycle starts a cycle in the background through the scheduler so
// it cannot overlap the scheduled run.
// POST /api/v1/searches/cycle
func (s *Server) runSearchCycle(c echo.Context) error {
	if err := s.app.Scheduler().RunNow(tasks.SearchCycleTaskID); err != nil {
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			return echo.NewHTTPError(http.StatusConflict, "automatic search is disabled")
		}
		return toHTTPError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"message": "Search cycle started"})
}

// searchSingle searches one item now, ignoring its cooldown.
// POST /api/v1/searches/single
func (s *Server) searchSingle(c echo.Context) error {
	var req itemRef
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := req.validate(); err != nil {
		return err
	}

	rec, err := s.app.Searcher().SearchSingle(c.Request().Context(), req.Source, req.Instance, req.ItemID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}
