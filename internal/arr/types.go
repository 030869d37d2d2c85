package arr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Source identifies which kind of service an instance is.
type Source string

const (
	SourceSonarr Source = "sonarr"
	SourceRadarr Source = "radarr"
)

// SearchType distinguishes wanted/missing from cutoff-unmet items.
type SearchType string

const (
	SearchMissing SearchType = "missing"
	SearchUpgrade SearchType = "upgrade"
)

// ErrNotFound is returned when the service responds 404.
var ErrNotFound = errors.New("not found")

// ContentItem is an episode (Sonarr) or a movie (Radarr).
type ContentItem struct {
	ID int64 `json:"id"`
	// ParentID is the series ID for episodes and zero for movies.
	ParentID    int64      `json:"parentId,omitempty"`
	Title       string     `json:"title"`
	ParentTitle string     `json:"parentTitle,omitempty"`
	Season      int        `json:"season,omitempty"`
	Episode     int        `json:"episode,omitempty"`
	Year        int        `json:"year,omitempty"`
	ReleaseDate *time.Time `json:"releaseDate,omitempty"`
	HasFile     bool       `json:"hasFile"`
	Monitored   bool       `json:"monitored"`
	SearchType  SearchType `json:"searchType"`
}

// DisplayTitle renders a human label such as "Show - S01E02 - Pilot" or
// "Movie (1999)".
func (c ContentItem) DisplayTitle() string {
	if c.ParentTitle != "" {
		label := fmt.Sprintf("%s - S%02dE%02d", c.ParentTitle, c.Season, c.Episode)
		if c.Title != "" {
			label += " - " + c.Title
		}
		return label
	}
	if c.Year > 0 {
		return fmt.Sprintf("%s (%d)", c.Title, c.Year)
	}
	return c.Title
}

// QueueEntry is one download in the service's queue.
type QueueEntry struct {
	ID int64 `json:"id"`
	// ItemID is the episode or movie ID the download belongs to.
	ItemID        int64      `json:"itemId"`
	ParentID      int64      `json:"parentId,omitempty"`
	Title         string     `json:"title"`
	Status        string     `json:"status"`
	TrackedStatus string     `json:"trackedStatus"`
	TrackedState  string     `json:"trackedState"`
	Messages      []string   `json:"messages"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	Indexer       string     `json:"indexer,omitempty"`
	Quality       string     `json:"quality,omitempty"`
	Protocol      string     `json:"protocol,omitempty"`
	Added         *time.Time `json:"added,omitempty"`
}

// Release is one indexer result returned by an interactive search.
type Release struct {
	GUID              string   `json:"guid"`
	Title             string   `json:"title"`
	Indexer           string   `json:"indexer"`
	IndexerID         int64    `json:"indexerId"`
	Quality           string   `json:"quality"`
	Size              int64    `json:"size"`
	Seeders           int      `json:"seeders,omitempty"`
	CustomFormatScore int      `json:"customFormatScore"`
	Languages         []string `json:"languages,omitempty"`
	Rejected          bool     `json:"rejected"`
	Rejections        []string `json:"rejections,omitempty"`
}

// DeleteOptions controls how a queue item is removed.
type DeleteOptions struct {
	RemoveFromClient bool
	Blocklist        bool
	SkipRedownload   bool
}

// Service is everything the automation needs from one instance.
type Service interface {
	Source() Source
	Name() string
	Ping(ctx context.Context) error
	ListMissing(ctx context.Context) ([]ContentItem, error)
	ListUpgradable(ctx context.Context) ([]ContentItem, error)
	GetItem(ctx context.Context, id int64) (*ContentItem, error)
	SearchItems(ctx context.Context, ids []int64) error
	SearchParent(ctx context.Context, parentID int64) error
	ListQueue(ctx context.Context) ([]QueueEntry, error)
	// DeleteQueueItem treats an already-removed item as success.
	DeleteQueueItem(ctx context.Context, queueID int64, opts DeleteOptions) error
	ListReleases(ctx context.Context, itemID int64) ([]Release, error)
	GrabRelease(ctx context.Context, guid string, indexerID int64) error
	Unmonitor(ctx context.Context, itemID int64) error
}
