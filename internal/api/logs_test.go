package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinarr/machinarr/internal/logger"
)

type fakeLogs struct {
	entries []logger.LogEntry
	path    string
}

func (f *fakeLogs) GetRecentLogs() []logger.LogEntry { return f.entries }
func (f *fakeLogs) LogFilePath() string              { return f.path }

func (f *fakeLogs) TailLogs(n int) []logger.LogEntry {
	if n >= len(f.entries) {
		return f.entries
	}
	return f.entries[len(f.entries)-n:]
}

func getLogs(t *testing.T, provider LogsProvider, query string) (int, []logger.LogEntry) {
	t.Helper()
	e := echo.New()
	NewLogsHandlers(provider).RegisterRoutes(e.Group("/logs"))

	req := httptest.NewRequest(http.MethodGet, "/logs"+query, http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var out []logger.LogEntry
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestGetRecentLogs_Filters(t *testing.T) {
	provider := &fakeLogs{entries: []logger.LogEntry{
		{Level: "debug", Component: "searcher", Message: "a"},
		{Level: "info", Component: "queue-poller", Instance: "tv", Message: "b"},
		{Level: "warn", Component: "queue-poller", Instance: "movies", Message: "c"},
		{Level: "error", Component: "searcher", Message: "d"},
	}}

	code, logs := getLogs(t, provider, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, logs, 4)

	_, logs = getLogs(t, provider, "?limit=2")
	require.Len(t, logs, 2)
	assert.Equal(t, "c", logs[0].Message)

	_, logs = getLogs(t, provider, "?level=warn")
	require.Len(t, logs, 2)
	assert.Equal(t, "c", logs[0].Message)
	assert.Equal(t, "d", logs[1].Message)

	_, logs = getLogs(t, provider, "?component=searcher")
	require.Len(t, logs, 2)
	assert.Equal(t, "a", logs[0].Message)

	_, logs = getLogs(t, provider, "?component=queue-poller&instance=tv")
	require.Len(t, logs, 1)
	assert.Equal(t, "b", logs[0].Message)
}

func TestGetRecentLogs_EmptyIsArray(t *testing.T) {
	e := echo.New()
	NewLogsHandlers(&fakeLogs{}).RegisterRoutes(e.Group("/logs"))
	req := httptest.NewRequest(http.MethodGet, "/logs", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestDownloadLogFile_NotConfigured(t *testing.T) {
	e := echo.New()
	NewLogsHandlers(&fakeLogs{}).RegisterRoutes(e.Group("/logs"))
	req := httptest.NewRequest(http.MethodGet, "/logs/download", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
