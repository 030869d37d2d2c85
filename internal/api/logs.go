//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/machinarr/machinarr/internal/logger"
)

// LogsProvider provides access to log data.
type LogsProvider interface {
	GetRecentLogs() []logger.LogEntry
	TailLogs(n int) []logger.LogEntry
	LogFilePath() string
}

// LogsHandlers handles log-related HTTP endpoints.
type LogsHandlers struct {
	provider LogsProvider
}

// NewLogsHandlers creates a new logs handlers instance.
func NewLogsHandlers(provider LogsProvider) *LogsHandlers {
	return &LogsHandlers{provider: provider}
}

// RegisterRoutes registers log routes on the given group.
func (h *LogsHandlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.GetRecentLogs)
	g.GET("/download", h.DownloadLogFile)
}

// GetRecentLogs returns buffered log entries, oldest first. The optional
// limit keeps the newest entries and level drops entries below it.
// component and instance narrow the result to one part of the service.
// GET /api/v1/logs?limit=200&level=warn&component=searcher&instance=tv
func (h *LogsHandlers) GetRecentLogs(c echo.Context) error {
	var logs []logger.LogEntry
	if limit, err := strconv.Atoi(c.QueryParam("limit")); err == nil && limit > 0 {
		logs = h.provider.TailLogs(limit)
	} else {
		logs = h.provider.GetRecentLogs()
	}

	level := strings.ToLower(c.QueryParam("level"))
	component, instance := c.QueryParam("component"), c.QueryParam("instance")
	if level != "" || component != "" || instance != "" {
		floor := 0
		if level != "" {
			floor = levelRank(level)
		}
		filtered := make([]logger.LogEntry, 0, len(logs))
		for _, entry := range logs {
			if levelRank(entry.Level) >= floor && entry.Matches(component, instance) {
				filtered = append(filtered, entry)
			}
		}
		logs = filtered
	}
	if logs == nil {
		logs = []logger.LogEntry{}
	}
	return c.JSON(http.StatusOK, logs)
}

func levelRank(level string) int {
	switch strings.ToLower(level) {
	case "trace":
		return 0
	case "debug":
		return 1
	case "info":
		return 2
	case "warn", "warning":
		return 3
	case "error":
		return 4
	case "fatal", "panic":
		return 5
	}
	return 2
}

// DownloadLogFile serves the current log file for download.
// GET /api/v1/logs/download
func (h *LogsHandlers) DownloadLogFile(c echo.Context) error {
	logPath := h.provider.LogFilePath()
	if logPath == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no log file configured")
	}

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		return echo.NewHTTPError(http.StatusNotFound, "log file not found")
	}

	return c.Attachment(logPath, "machinarr.log")
}
