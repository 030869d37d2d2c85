//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/machinarr/machinarr/internal/app"
	"github.com/machinarr/machinarr/internal/intervention"
)

type interventionActionRequest struct {
	Key string `json:"key"`
	app.ActionRequest
}

// listInterventions returns open interventions, optionally of one type.
// GET /api/v1/interventions?type=stuck_queue
func (s *Server) listInterventions(c echo.Context) error {
	entries := s.app.Interventions().List()
	if t := intervention.Type(c.QueryParam("type")); t != "" {
		filtered := make([]intervention.Entry, 0, len(entries))
		for i := range entries {
			if entries[i].Type == t {
				filtered = append(filtered, entries[i])
			}
		}
		entries = filtered
	}
	return c.JSON(http.StatusOK, entries)
}

// applyIntervention carries out the user's choice on an intervention.
// POST /api/v1/interventions/action
func (s *Server) applyIntervention(c echo.Context) error {
	var req interventionActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Key == "" || req.Action == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key and action are required")
	}

	if err := s.app.ApplyIntervention(c.Request().Context(), req.Key, req.ActionRequest); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Action applied",
		"key":     req.Key,
		"action":  string(req.Action),
	})
}
