package arr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, source Source, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		Name:    "main",
		Source:  source,
		URL:     srv.URL + "/",
		APIKey:  "secret",
		Timeout: 5 * time.Second,
		Retries: 2,
	}, zerolog.Nop())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_ListMissing_Sonarr_Paged(t *testing.T) {
	var pages []string
	c := newTestClient(t, SourceSonarr, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		require.Equal(t, "/api/v3/wanted/missing", r.URL.Path)
		assert.Equal(t, "airDateUtc", r.URL.Query().Get("sortKey"))
		assert.Equal(t, "true", r.URL.Query().Get("monitored"))

		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		n, _ := strconv.Atoi(page)

		records := []map[string]any{}
		count := 100
		if n == 2 {
			count = 1
		}
		for i := 0; i < count; i++ {
			records = append(records, map[string]any{
				"id":            (n-1)*100 + i + 1,
				"seriesId":      7,
				"seasonNumber":  1,
				"episodeNumber": i + 1,
				"title":         "Ep",
				"airDateUtc":    "2026-01-02T03:00:00Z",
				"series":        map[string]any{"title": "Show"},
			})
		}
		writeJSON(w, map[string]any{"page": n, "pageSize": 100, "totalRecords": 101, "records": records})
	})

	items, err := c.ListMissing(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 101)
	assert.Equal(t, []string{"1", "2"}, pages)

	first := items[0]
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(7), first.ParentID)
	assert.Equal(t, "Show", first.ParentTitle)
	assert.Equal(t, SearchMissing, first.SearchType)
	require.NotNil(t, first.ReleaseDate)
	assert.Equal(t, 2026, first.ReleaseDate.Year())
	assert.Equal(t, "Show - S01E01 - Ep", first.DisplayTitle())
}

func TestClient_ListUpgradable_Radarr_EarliestDate(t *testing.T) {
	c := newTestClient(t, SourceRadarr, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/wanted/cutoff", r.URL.Path)
		writeJSON(w, map[string]any{
			"page": 1, "pageSize": 100, "totalRecords": 1,
			"records": []map[string]any{{
				"id": 3, "title": "Movie", "year": 2020,
				"inCinemas":      "2020-05-01T00:00:00Z",
				"digitalRelease": "2020-08-01T00:00:00Z",
			}},
		})
	})

	items, err := c.ListUpgradable(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, SearchUpgrade, items[0].SearchType)
	assert.Equal(t, time.May, items[0].ReleaseDate.Month())
	assert.Equal(t, "Movie (2020)", items[0].DisplayTitle())
}

func TestClient_ListQueue_FlattensMessages(t *testing.T) {
	c := newTestClient(t, SourceSonarr, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("includeEpisode"))
		writeJSON(w, map[string]any{
			"page": 1, "pageSize": 100, "totalRecords": 1,
			"records": []map[string]any{{
				"id": 11, "episodeId": 5, "seriesId": 7, "title": "Show.S01E05",
				"status": "Completed", "trackedDownloadStatus": "Warning",
				"quality": map[string]any{"quality": map[string]any{"name": "HDTV-720p"}},
				"statusMessages": []map[string]any{
					{"title": "Show.S01E05.mkv", "messages": []string{"No files found are eligible for import"}},
					{"title": "Sample detected"},
				},
			}},
		})
	})

	entries, err := c.ListQueue(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, int64(5), e.ItemID)
	assert.Equal(t, "completed", e.Status)
	assert.Equal(t, "warning", e.TrackedStatus)
	assert.Equal(t, "HDTV-720p", e.Quality)
	assert.Equal(t, []string{"No files found are eligible for import", "Sample detected"}, e.Messages)
}

func TestClient_DeleteQueueItem(t *testing.T) {
	t.Run("passes flags", func(t *testing.T) {
		c := newTestClient(t, SourceRadarr, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodDelete, r.Method)
			require.Equal(t, "/api/v3/queue/9", r.URL.Path)
			assert.Equal(t, "true", r.URL.Query().Get("blocklist"))
			assert.Equal(t, "true", r.URL.Query().Get("removeFromClient"))
			assert.Equal(t, "false", r.URL.Query().Get("skipRedownload"))
			w.WriteHeader(http.StatusOK)
		})
		err := c.DeleteQueueItem(context.Background(), 9, DeleteOptions{RemoveFromClient: true, Blocklist: true})
		assert.NoError(t, err)
	})

	t.Run("already gone is success", func(t *testing.T) {
		c := newTestClient(t, SourceRadarr, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		assert.NoError(t, c.DeleteQueueItem(context.Background(), 9, DeleteOptions{}))
	})
}

func TestClient_SearchCommands(t *testing.T) {
	var got []command
	c := newTestClient(t, SourceSonarr, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/command", r.URL.Path)
		var cmd command
		require.NoError(t, json.NewDecoder(r.Body).Decode(&cmd))
		got = append(got, cmd)
		w.WriteHeader(http.StatusCreated)
	})

	require.NoError(t, c.SearchItems(context.Background(), []int64{1, 2}))
	require.NoError(t, c.SearchParent(context.Background(), 7))

	require.Len(t, got, 2)
	assert.Equal(t, "EpisodeSearch", got[0].Name)
	assert.Equal(t, []int64{1, 2}, got[0].EpisodeIDs)
	assert.Equal(t, "SeriesSearch", got[1].Name)
	assert.Equal(t, int64(7), got[1].SeriesID)
}

func TestClient_GetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, SourceRadarr, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{"id": 3, "title": "Movie", "hasFile": true})
	})

	item, err := c.GetItem(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, item.HasFile)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_GetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, SourceRadarr, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, "bad key")
	})

	_, err := c.GetItem(context.Background(), 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Ping(t *testing.T) {
	c := newTestClient(t, SourceSonarr, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"appName": "Radarr"})
	})
	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected Sonarr")
}

func TestClient_ListReleases(t *testing.T) {
	c := newTestClient(t, SourceRadarr, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("movieId"))
		writeJSON(w, []map[string]any{{
			"guid": "abc", "title": "Movie.2020.1080p", "indexer": "idx", "indexerId": 4,
			"rejected": true, "rejections": []string{"Language is not wanted"},
			"quality":   map[string]any{"quality": map[string]any{"name": "WEBDL-1080p"}},
			"languages": []map[string]any{{"name": "French"}},
		}})
	})

	releases, err := c.ListReleases(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, releases, 1)
	assert.Equal(t, "WEBDL-1080p", releases[0].Quality)
	assert.Equal(t, []string{"French"}, releases[0].Languages)
	assert.True(t, releases[0].Rejected)
}
