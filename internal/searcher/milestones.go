package searcher

import (
	"fmt"
	"sort"
	"time"

	"github.com/machinarr/machinarr/internal/intervention"
	"github.com/machinarr/machinarr/internal/pacing"
	"github.com/machinarr/machinarr/internal/tiers"
)

const daysPerMonth = 30

// milestoneText renders a milestone as "N month(s)" or, for whole years,
// "N year(s)".
func milestoneText(months int) string {
	if months >= 12 && months%12 == 0 {
		years := months / 12
		if years == 1 {
			return "1 year"
		}
		return fmt.Sprintf("%d years", years)
	}
	if months == 1 {
		return "1 month"
	}
	return fmt.Sprintf("%d months", months)
}

// nextMilestone returns the lowest milestone reached and not yet notified,
// or 0. Milestones below minMonths are ignored.
func nextMilestone(milestones []int, months, minMonths int, h *HistoryEntry) int {
	sorted := append([]int(nil), milestones...)
	sort.Ints(sorted)

	for _, m := range sorted {
		if m < minMonths || m > months {
			continue
		}
		if !h.notified(m) {
			return m
		}
	}
	return 0
}

// sweepMilestones announces at most one milestone per item per sweep, lowest
// first, for COOL/COLD items with a known date. It never changes eligibility.
// Callers hold s.mu.
func (s *Searcher) sweepMilestones(items []Item, now time.Time) int {
	raised := 0
	for i := range items {
		item := &items[i]
		if item.Tier != tiers.Cool && item.Tier != tiers.Cold {
			continue
		}
		if item.ReleaseDate == nil || item.AgeDays == tiers.UnknownAgeDays {
			continue
		}

		months := item.AgeDays / daysPerMonth
		cfg := s.pacing.For(item.Tier)
		h := s.entry(item)
		m := nextMilestone(s.cfg.MilestoneMonths, months, cfg.NotifyAfterMonths, h)
		if m == 0 {
			continue
		}

		h.Milestones = append(h.Milestones, m)
		sort.Ints(h.Milestones)
		s.dirty.Mark()

		s.interventions.Upsert(intervention.Entry{
			Type:     intervention.TypeLongMissing,
			Source:   item.Source,
			Instance: item.Instance,
			ItemID:   item.ID,
			ParentID: item.ParentID,
			Title:    item.DisplayTitle(),
			Tier:     item.Tier,
			Reason:   fmt.Sprintf("Missing for %s", milestoneText(m)),
			Urgency:  intervention.UrgencyLow,
			Details: map[string]any{
				"milestoneMonths": m,
				"monthsMissing":   months,
				"searchCount":     h.SearchCount,
			},
		})
		raised++
	}
	return raised
}

// exhaustedReason explains why an item was flagged.
func exhaustedReason(count int, cfg pacing.TierConfig, preset pacing.Preset) string {
	return fmt.Sprintf("Searched %d times over %s without finding (%s pacing)",
		count, humanDuration(cfg.TotalWindow()), preset)
}

func humanDuration(d time.Duration) string {
	hours := int(d.Hours())
	switch {
	case hours < 1:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	case hours < 48:
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	default:
		return fmt.Sprintf("%d days", hours/24)
	}
}
