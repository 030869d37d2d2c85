package queuemonitor

import (
	"fmt"
	"math"
	"strings"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/intervention"
	"github.com/machinarr/machinarr/internal/tiers"
)

const maxReleaseOptions = 5

// softRejections are reasons a user may reasonably override.
var softRejections = []string{
	"language", "score", "custom format", "quality", "size", "not an upgrade", "cutoff",
}

// ReleaseOption is a rejected release offered for a manual grab.
type ReleaseOption struct {
	GUID              string   `json:"guid"`
	Title             string   `json:"title"`
	Indexer           string   `json:"indexer"`
	IndexerID         int64    `json:"indexerId"`
	Quality           string   `json:"quality"`
	Languages         []string `json:"languages,omitempty"`
	SizeMB            float64  `json:"sizeMb"`
	CustomFormatScore int      `json:"customFormatScore"`
	Rejections        []string `json:"rejections"`
}

// SoftRejected reports whether a release was rejected only for soft reasons.
func SoftRejected(r arr.Release) bool {
	if !r.Rejected || len(r.Rejections) == 0 {
		return false
	}
	for _, reason := range r.Rejections {
		if !isSoft(reason) {
			return false
		}
	}
	return true
}

func isSoft(reason string) bool {
	reason = strings.ToLower(reason)
	for _, s := range softRejections {
		if strings.Contains(reason, s) {
			return true
		}
	}
	return false
}

// AnalyzeReleases raises a release_available intervention when an item has
// releases rejected only for soft reasons, and clears a stale one when it
// has none. It returns the number of grabbable releases.
func (m *Monitor) AnalyzeReleases(source arr.Source, instance string, item arr.ContentItem, tier tiers.Tier, releases []arr.Release) int {
	var options []ReleaseOption
	for _, r := range releases {
		if !SoftRejected(r) {
			continue
		}
		options = append(options, ReleaseOption{
			GUID:              r.GUID,
			Title:             r.Title,
			Indexer:           r.Indexer,
			IndexerID:         r.IndexerID,
			Quality:           r.Quality,
			Languages:         r.Languages,
			SizeMB:            math.Round(float64(r.Size)/(1024*1024)*10) / 10,
			CustomFormatScore: r.CustomFormatScore,
			Rejections:        r.Rejections,
		})
	}

	if len(options) == 0 {
		m.interventions.RemoveFor(intervention.TypeReleaseAvailable, source, instance, item.ID)
		return 0
	}

	found := len(options)
	if len(options) > maxReleaseOptions {
		options = options[:maxReleaseOptions]
	}
	m.interventions.Upsert(intervention.Entry{
		Type:     intervention.TypeReleaseAvailable,
		Source:   source,
		Instance: instance,
		ItemID:   item.ID,
		ParentID: item.ParentID,
		Title:    item.DisplayTitle(),
		Tier:     tier,
		Reason:   fmt.Sprintf("%d release(s) available but rejected", found),
		Urgency:  intervention.UrgencyLow,
		Details:  map[string]any{"releases": options},
	})
	return found
}
