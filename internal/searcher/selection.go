package searcher

import (
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/pacing"
	"github.com/machinarr/machinarr/internal/tiers"
)

type eligibility int

const (
	eligible eligibility = iota
	cooling
	exhaustedManual
	stopped
	delayed
)

// evaluate places an item in its lifecycle bucket.
func evaluate(h *HistoryEntry, cfg pacing.TierConfig, now time.Time) eligibility {
	if h != nil && h.Stopped {
		return stopped
	}
	if h != nil && h.DelayedUntil != nil && now.Before(*h.DelayedUntil) {
		return delayed
	}

	count := 0
	var last *time.Time
	if h != nil {
		count = h.SearchCount
		last = h.LastSearchedAt
	}

	cooldown, exhausted := cfg.CurrentCooldown(count)
	if exhausted && cfg.EscalatesToManual() {
		return exhaustedManual
	}
	if last == nil || now.Sub(*last) >= cooldown {
		return eligible
	}
	return cooling
}

// Quotas splits total between tiers by floor(total*pct/100). The rounding
// remainder goes to HOT; if the percentages over-allocate, the excess is
// taken back from the coldest tiers first. The result always sums to total.
func Quotas(total int, pct Percentages) map[tiers.Tier]int {
	quotas := make(map[tiers.Tier]int, 4)
	if total <= 0 {
		for _, t := range tiers.All() {
			quotas[t] = 0
		}
		return quotas
	}

	allocated := 0
	for _, t := range tiers.All() {
		q := total * pct.of(t) / 100
		quotas[t] = q
		allocated += q
	}

	if allocated < total {
		quotas[tiers.Hot] += total - allocated
		return quotas
	}

	all := tiers.All()
	for i := len(all) - 1; allocated > total && i >= 0; i-- {
		t := all[i]
		take := allocated - total
		if take > quotas[t] {
			take = quotas[t]
		}
		quotas[t] -= take
		allocated -= take
	}
	return quotas
}

// Selection is one search command: a single item, or a series search that
// covers Siblings.
type Selection struct {
	Item     Item   `json:"item"`
	Series   bool   `json:"series"`
	Siblings []Item `json:"siblings,omitempty"`
}

// Covered returns every item the command searches for.
func (s Selection) Covered() []Item {
	if s.Series {
		return s.Siblings
	}
	return []Item{s.Item}
}

func seriesKey(instance string, seriesID int64) string {
	return instance + ":" + strconv.FormatInt(seriesID, 10)
}

func lowerEpisode(a, b Item) bool {
	if a.Season != b.Season {
		return a.Season < b.Season
	}
	return a.Episode < b.Episode
}

// collapse turns one tier's items into commands. Sonarr episodes sharing a
// series become one series search represented by the lowest episode, unless
// that series was searched within the series cooldown. Order of first
// appearance is kept.
func (s *Searcher) collapse(items []Item, now time.Time) []Selection {
	if !s.cfg.PreferSeriesSearch {
		out := make([]Selection, len(items))
		for i, it := range items {
			out[i] = Selection{Item: it}
		}
		return out
	}

	groups := make(map[string][]Item)
	var order []string
	var out []Selection
	slot := make(map[string]int)

	for _, it := range items {
		if it.Source != arr.SourceSonarr || it.ParentID == 0 {
			out = append(out, Selection{Item: it})
			continue
		}
		k := seriesKey(it.Instance, it.ParentID)
		if _, seen := groups[k]; !seen {
			order = append(order, k)
			slot[k] = len(out)
			out = append(out, Selection{})
		}
		groups[k] = append(groups[k], it)
	}

	skip := make(map[int]bool)
	for _, k := range order {
		group := groups[k]
		idx := slot[k]

		if last, ok := s.seriesSearched[k]; ok && now.Sub(last) < s.cfg.SeriesCooldown {
			skip[idx] = true
			continue
		}
		if len(group) == 1 {
			out[idx] = Selection{Item: group[0]}
			continue
		}
		rep := group[0]
		for _, it := range group[1:] {
			if lowerEpisode(it, rep) {
				rep = it
			}
		}
		out[idx] = Selection{Item: rep, Series: true, Siblings: group}
	}

	if len(skip) == 0 {
		return out
	}
	kept := out[:0]
	for i, sel := range out {
		if !skip[i] {
			kept = append(kept, sel)
		}
	}
	return kept
}

// Select picks at most total commands from eligible items, HOT first. Each
// tier first takes up to its quota; slots a tier cannot use are then filled
// from the leftovers of the other tiers. The result runs HOT to COLD.
// Callers hold s.mu.
func (s *Searcher) Select(items []Item, total int, now time.Time) []Selection {
	if total <= 0 || len(items) == 0 {
		return nil
	}

	byTier := make(map[tiers.Tier][]Item, 4)
	for _, it := range items {
		byTier[it.Tier] = append(byTier[it.Tier], it)
	}

	quotas := Quotas(total, s.cfg.Percentages)
	var selected []Selection

	// A series already searched this cycle from a hotter tier falls back to
	// an episode search for the colder group's representative.
	seriesTaken := make(map[string]bool)
	pick := func(sel Selection) Selection {
		if !sel.Series {
			return sel
		}
		k := seriesKey(sel.Item.Instance, sel.Item.ParentID)
		if seriesTaken[k] {
			return Selection{Item: sel.Item}
		}
		seriesTaken[k] = true
		return sel
	}
	leftover := make(map[tiers.Tier][]Selection, 4)
	for _, t := range tiers.All() {
		tierItems := byTier[t]
		if len(tierItems) == 0 {
			continue
		}
		if s.cfg.Randomize {
			rand.Shuffle(len(tierItems), func(i, j int) {
				tierItems[i], tierItems[j] = tierItems[j], tierItems[i]
			})
		}
		sels := s.collapse(tierItems, now)
		n := min(quotas[t], len(sels))
		for _, sel := range sels[:n] {
			selected = append(selected, pick(sel))
		}
		leftover[t] = sels[n:]
	}

	for _, t := range tiers.All() {
		if len(selected) >= total {
			break
		}
		extra := leftover[t]
		n := min(total-len(selected), len(extra))
		for _, sel := range extra[:n] {
			selected = append(selected, pick(sel))
		}
	}

	if len(selected) > total {
		selected = selected[:total]
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Item.Tier.Priority() < selected[j].Item.Tier.Priority()
	})
	return selected
}
