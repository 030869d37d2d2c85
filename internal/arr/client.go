// Package arr talks to Sonarr and Radarr over their v3 REST APIs.
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/machinarr/machinarr/internal/startup"
)

const (
	pageSize = 100
	// maxPages bounds paging through wanted lists and the queue.
	maxPages = 50
)

// ClientConfig describes one instance.
type ClientConfig struct {
	Name              string
	Source            Source
	URL               string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Retries           uint
}

// Client is a Service backed by HTTP.
type Client struct {
	name    string
	source  Source
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	retries uint
	logger  zerolog.Logger
}

var _ Service = (*Client)(nil)

// NewClient creates a client for one instance.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	retries := cfg.Retries
	if retries == 0 {
		retries = 3
	}
	return &Client{
		name:    cfg.Name,
		source:  cfg.Source,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 5),
		retries: retries,
		logger: logger.With().
			Str("component", "arr").
			Str("source", string(cfg.Source)).
			Str("instance", cfg.Name).
			Logger(),
	}
}

// Source returns the service kind.
func (c *Client) Source() Source {
	return c.source
}

// Name returns the instance name.
func (c *Client) Name() string {
	return c.name
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.code, e.body)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return startup.IsNetworkError(err)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + "/api/v3/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// get retries idempotent reads on network errors and 5xx responses.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return retry.Do(
		func() error {
			return c.do(ctx, http.MethodGet, path, query, nil, out)
		},
		retry.Context(ctx),
		retry.Attempts(c.retries),
		retry.Delay(500*time.Millisecond),
		retry.RetryIf(retryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug().Err(err).Uint("attempt", n+1).Str("path", path).Msg("Retrying request")
		}),
	)
}

// Ping verifies the instance answers and is the expected application.
func (c *Client) Ping(ctx context.Context) error {
	var status struct {
		AppName string `json:"appName"`
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "system/status", nil, nil, &status); err != nil {
		return fmt.Errorf("failed to validate connection: %w", err)
	}

	expected := "Radarr"
	if c.source == SourceSonarr {
		expected = "Sonarr"
	}
	if status.AppName != "" && !strings.EqualFold(status.AppName, expected) {
		return fmt.Errorf("expected %s but connected to %s", expected, status.AppName)
	}
	return nil
}

type page[T any] struct {
	Page         int `json:"page"`
	PageSize     int `json:"pageSize"`
	TotalRecords int `json:"totalRecords"`
	Records      []T `json:"records"`
}

// fetchPaged walks a paged endpoint until it runs dry or hits maxPages.
func fetchPaged[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var all []T
	for p := 1; p <= maxPages; p++ {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("page", strconv.Itoa(p))
		q.Set("pageSize", strconv.Itoa(pageSize))

		var resp page[T]
		if err := c.get(ctx, path, q, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Records...)

		if len(resp.Records) < pageSize || len(all) >= resp.TotalRecords {
			return all, nil
		}
		if p == maxPages {
			c.logger.Warn().Str("path", path).Int("fetched", len(all)).Int("total", resp.TotalRecords).
				Msg("Page cap reached, remaining records skipped")
		}
	}
	return all, nil
}

func (c *Client) wantedQuery() url.Values {
	q := url.Values{}
	q.Set("monitored", "true")
	q.Set("sortDirection", "descending")
	if c.source == SourceSonarr {
		q.Set("sortKey", "airDateUtc")
		q.Set("includeSeries", "true")
	} else {
		q.Set("sortKey", "digitalRelease")
	}
	return q
}

func (c *Client) listWanted(ctx context.Context, path string, st SearchType) ([]ContentItem, error) {
	var items []ContentItem
	if c.source == SourceSonarr {
		records, err := fetchPaged[episodeResource](ctx, c, path, c.wantedQuery())
		if err != nil {
			return nil, err
		}
		items = make([]ContentItem, 0, len(records))
		for i := range records {
			items = append(items, records[i].toItem(st))
		}
		return items, nil
	}

	records, err := fetchPaged[movieResource](ctx, c, path, c.wantedQuery())
	if err != nil {
		return nil, err
	}
	items = make([]ContentItem, 0, len(records))
	for i := range records {
		items = append(items, records[i].toItem(st))
	}
	return items, nil
}

// ListMissing returns monitored items without a file.
func (c *Client) ListMissing(ctx context.Context) ([]ContentItem, error) {
	return c.listWanted(ctx, "wanted/missing", SearchMissing)
}

// ListUpgradable returns monitored items below their quality cutoff.
func (c *Client) ListUpgradable(ctx context.Context) ([]ContentItem, error) {
	return c.listWanted(ctx, "wanted/cutoff", SearchUpgrade)
}

// GetItem fetches one episode or movie.
func (c *Client) GetItem(ctx context.Context, id int64) (*ContentItem, error) {
	if c.source == SourceSonarr {
		var ep episodeResource
		if err := c.get(ctx, "episode/"+strconv.FormatInt(id, 10), nil, &ep); err != nil {
			return nil, err
		}
		item := ep.toItem("")
		return &item, nil
	}

	var m movieResource
	if err := c.get(ctx, "movie/"+strconv.FormatInt(id, 10), nil, &m); err != nil {
		return nil, err
	}
	item := m.toItem("")
	return &item, nil
}

type command struct {
	Name       string  `json:"name"`
	EpisodeIDs []int64 `json:"episodeIds,omitempty"`
	MovieIDs   []int64 `json:"movieIds,omitempty"`
	SeriesID   int64   `json:"seriesId,omitempty"`
}

// SearchItems triggers an episode or movie search.
func (c *Client) SearchItems(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	cmd := command{Name: "MoviesSearch", MovieIDs: ids}
	if c.source == SourceSonarr {
		cmd = command{Name: "EpisodeSearch", EpisodeIDs: ids}
	}
	return c.do(ctx, http.MethodPost, "command", nil, cmd, nil)
}

// SearchParent triggers a whole-series search. Radarr has no parent, so the
// ID is searched as a movie.
func (c *Client) SearchParent(ctx context.Context, parentID int64) error {
	if c.source != SourceSonarr {
		return c.SearchItems(ctx, []int64{parentID})
	}
	return c.do(ctx, http.MethodPost, "command", nil, command{Name: "SeriesSearch", SeriesID: parentID}, nil)
}

// ListQueue returns the full download queue.
func (c *Client) ListQueue(ctx context.Context) ([]QueueEntry, error) {
	q := url.Values{}
	if c.source == SourceSonarr {
		q.Set("includeSeries", "true")
		q.Set("includeEpisode", "true")
	} else {
		q.Set("includeMovie", "true")
	}

	records, err := fetchPaged[queueResource](ctx, c, "queue", q)
	if err != nil {
		return nil, err
	}
	entries := make([]QueueEntry, 0, len(records))
	for i := range records {
		entries = append(entries, records[i].toEntry(c.source))
	}
	return entries, nil
}

// DeleteQueueItem removes a queue item. 404 counts as success.
func (c *Client) DeleteQueueItem(ctx context.Context, queueID int64, opts DeleteOptions) error {
	q := url.Values{}
	q.Set("removeFromClient", strconv.FormatBool(opts.RemoveFromClient))
	q.Set("blocklist", strconv.FormatBool(opts.Blocklist))
	q.Set("skipRedownload", strconv.FormatBool(opts.SkipRedownload))

	err := c.do(ctx, http.MethodDelete, "queue/"+strconv.FormatInt(queueID, 10), q, nil, nil)
	if errors.Is(err, ErrNotFound) {
		c.logger.Debug().Int64("queueId", queueID).Msg("Queue item already gone")
		return nil
	}
	return err
}

// ListReleases runs an interactive search for one item.
func (c *Client) ListReleases(ctx context.Context, itemID int64) ([]Release, error) {
	q := url.Values{}
	if c.source == SourceSonarr {
		q.Set("episodeId", strconv.FormatInt(itemID, 10))
	} else {
		q.Set("movieId", strconv.FormatInt(itemID, 10))
	}

	var records []releaseResource
	if err := c.get(ctx, "release", q, &records); err != nil {
		return nil, err
	}
	releases := make([]Release, 0, len(records))
	for i := range records {
		releases = append(releases, records[i].toRelease())
	}
	return releases, nil
}

// GrabRelease sends a specific release to the download client.
func (c *Client) GrabRelease(ctx context.Context, guid string, indexerID int64) error {
	body := map[string]any{"guid": guid, "indexerId": indexerID}
	return c.do(ctx, http.MethodPost, "release", nil, body, nil)
}

// Unmonitor stops the service itself from wanting the item.
func (c *Client) Unmonitor(ctx context.Context, itemID int64) error {
	if c.source == SourceSonarr {
		body := map[string]any{"episodeIds": []int64{itemID}, "monitored": false}
		return c.do(ctx, http.MethodPut, "episode/monitor", nil, body, nil)
	}
	body := map[string]any{"movieIds": []int64{itemID}, "monitored": false}
	return c.do(ctx, http.MethodPut, "movie/editor", nil, body, nil)
}
