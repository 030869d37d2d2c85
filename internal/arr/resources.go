package arr

import (
	"strings"
	"time"

	"github.com/machinarr/machinarr/internal/tiers"
)

type episodeResource struct {
	ID            int64  `json:"id"`
	SeriesID      int64  `json:"seriesId"`
	SeasonNumber  int    `json:"seasonNumber"`
	EpisodeNumber int    `json:"episodeNumber"`
	Title         string `json:"title"`
	AirDate       string `json:"airDate"`
	AirDateUTC    string `json:"airDateUtc"`
	HasFile       bool   `json:"hasFile"`
	Monitored     bool   `json:"monitored"`
	Series        *struct {
		Title string `json:"title"`
	} `json:"series"`
}

func (e *episodeResource) toItem(st SearchType) ContentItem {
	item := ContentItem{
		ID:          e.ID,
		ParentID:    e.SeriesID,
		Title:       e.Title,
		Season:      e.SeasonNumber,
		Episode:     e.EpisodeNumber,
		ReleaseDate: tiers.EpisodeAirDate(parseTime(e.AirDateUTC), parseTime(e.AirDate)),
		HasFile:     e.HasFile,
		Monitored:   e.Monitored,
		SearchType:  st,
	}
	if e.Series != nil {
		item.ParentTitle = e.Series.Title
	}
	return item
}

type movieResource struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Year            int    `json:"year"`
	InCinemas       string `json:"inCinemas"`
	PhysicalRelease string `json:"physicalRelease"`
	DigitalRelease  string `json:"digitalRelease"`
	HasFile         bool   `json:"hasFile"`
	Monitored       bool   `json:"monitored"`
}

func (m *movieResource) toItem(st SearchType) ContentItem {
	return ContentItem{
		ID:    m.ID,
		Title: m.Title,
		Year:  m.Year,
		ReleaseDate: tiers.MovieReleaseDate(
			parseTime(m.DigitalRelease),
			parseTime(m.PhysicalRelease),
			parseTime(m.InCinemas),
		),
		HasFile:    m.HasFile,
		Monitored:  m.Monitored,
		SearchType: st,
	}
}

type qualityWrapper struct {
	Quality struct {
		Name string `json:"name"`
	} `json:"quality"`
}

type queueResource struct {
	ID                    int64          `json:"id"`
	EpisodeID             int64          `json:"episodeId"`
	SeriesID              int64          `json:"seriesId"`
	MovieID               int64          `json:"movieId"`
	Title                 string         `json:"title"`
	Status                string         `json:"status"`
	TrackedDownloadStatus string         `json:"trackedDownloadStatus"`
	TrackedDownloadState  string         `json:"trackedDownloadState"`
	ErrorMessage          string         `json:"errorMessage"`
	Indexer               string         `json:"indexer"`
	Protocol              string         `json:"protocol"`
	Added                 string         `json:"added"`
	Quality               qualityWrapper `json:"quality"`
	StatusMessages        []struct {
		Title    string   `json:"title"`
		Messages []string `json:"messages"`
	} `json:"statusMessages"`
}

func (q *queueResource) toEntry(source Source) QueueEntry {
	entry := QueueEntry{
		ID:            q.ID,
		Title:         q.Title,
		Status:        strings.ToLower(q.Status),
		TrackedStatus: strings.ToLower(q.TrackedDownloadStatus),
		TrackedState:  q.TrackedDownloadState,
		ErrorMessage:  q.ErrorMessage,
		Indexer:       q.Indexer,
		Protocol:      q.Protocol,
		Quality:       q.Quality.Quality.Name,
		Added:         parseTime(q.Added),
	}
	if source == SourceSonarr {
		entry.ItemID = q.EpisodeID
		entry.ParentID = q.SeriesID
	} else {
		entry.ItemID = q.MovieID
	}

	for _, sm := range q.StatusMessages {
		if len(sm.Messages) == 0 {
			if sm.Title != "" {
				entry.Messages = append(entry.Messages, sm.Title)
			}
			continue
		}
		entry.Messages = append(entry.Messages, sm.Messages...)
	}
	if q.ErrorMessage != "" {
		entry.Messages = append(entry.Messages, q.ErrorMessage)
	}
	return entry
}

type releaseResource struct {
	GUID              string         `json:"guid"`
	Title             string         `json:"title"`
	Indexer           string         `json:"indexer"`
	IndexerID         int64          `json:"indexerId"`
	Size              int64          `json:"size"`
	Seeders           *int           `json:"seeders"`
	CustomFormatScore int            `json:"customFormatScore"`
	Rejected          bool           `json:"rejected"`
	Rejections        []string       `json:"rejections"`
	Quality           qualityWrapper `json:"quality"`
	Languages         []struct {
		Name string `json:"name"`
	} `json:"languages"`
}

func (r *releaseResource) toRelease() Release {
	rel := Release{
		GUID:              r.GUID,
		Title:             r.Title,
		Indexer:           r.Indexer,
		IndexerID:         r.IndexerID,
		Quality:           r.Quality.Quality.Name,
		Size:              r.Size,
		CustomFormatScore: r.CustomFormatScore,
		Rejected:          r.Rejected,
		Rejections:        r.Rejections,
	}
	if r.Seeders != nil {
		rel.Seeders = *r.Seeders
	}
	for _, l := range r.Languages {
		rel.Languages = append(rel.Languages, l.Name)
	}
	return rel
}

// parseTime accepts RFC3339 timestamps and plain dates. Empty or malformed
// values yield nil.
func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
