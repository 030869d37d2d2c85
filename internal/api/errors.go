//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/machinarr/machinarr/internal/app"
	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/intervention"
	"github.com/machinarr/machinarr/internal/queuemonitor"
	"github.com/machinarr/machinarr/internal/scheduler"
	"github.com/machinarr/machinarr/internal/searcher"
)

// toHTTPError maps component errors to status codes. Anything unrecognized
// came from an upstream service.
func toHTTPError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, app.ErrUnknownInstance),
		errors.Is(err, searcher.ErrUnknownInstance),
		errors.Is(err, intervention.ErrNotFound),
		errors.Is(err, queuemonitor.ErrUnknownEntry),
		errors.Is(err, scheduler.ErrTaskNotFound),
		errors.Is(err, arr.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrActionNotAllowed),
		errors.Is(err, app.ErrNoReleaseSelected),
		errors.Is(err, queuemonitor.ErrInvalidAction):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, searcher.ErrBudgetExhausted):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, searcher.ErrCycleRunning),
		errors.Is(err, scheduler.ErrTaskRunning):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}

// itemRef names one item on one instance.
type itemRef struct {
	Source   arr.Source `json:"source"`
	Instance string     `json:"instance"`
	ItemID   int64      `json:"itemId"`
}

func (r itemRef) validate() error {
	if r.Source != arr.SourceSonarr && r.Source != arr.SourceRadarr {
		return echo.NewHTTPError(http.StatusBadRequest, "source must be sonarr or radarr")
	}
	if r.Instance == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "instance is required")
	}
	if r.ItemID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "itemId is required")
	}
	return nil
}

func queryLimit(c echo.Context, def int) int {
	var limit int
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil || limit <= 0 {
		return def
	}
	return limit
}
