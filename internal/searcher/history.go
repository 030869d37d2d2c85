package searcher

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/store"
	"github.com/machinarr/machinarr/internal/tiers"
)

// HistoryEntry is the persisted search state of one item.
type HistoryEntry struct {
	Source         arr.Source `json:"source"`
	Instance       string     `json:"instance"`
	ItemID         int64      `json:"itemId"`
	Title          string     `json:"title"`
	Tier           tiers.Tier `json:"tier"`
	SearchCount    int        `json:"searchCount"`
	LastSearchedAt *time.Time `json:"lastSearchedAt,omitempty"`
	DelayedUntil   *time.Time `json:"delayedUntil,omitempty"`
	Stopped        bool       `json:"stopped"`
	Milestones     []int      `json:"milestones,omitempty"`
}

func (h *HistoryEntry) notified(milestone int) bool {
	for _, m := range h.Milestones {
		if m == milestone {
			return true
		}
	}
	return false
}

// entry returns the history entry for item, creating it if needed.
// Callers hold s.mu.
func (s *Searcher) entry(item *Item) *HistoryEntry {
	key := item.Key()
	h, ok := s.history[key]
	if !ok {
		h = &HistoryEntry{Source: item.Source, Instance: item.Instance, ItemID: item.ID}
		s.history[key] = h
	}
	h.Title = item.DisplayTitle()
	h.Tier = item.Tier
	return h
}

// pruneHistory drops entries of fully fetched instances whose item is no
// longer wanted. Stopped entries and active delays are kept.
func (s *Searcher) pruneHistory(wanted map[string]map[int64]bool) int {
	if len(wanted) == 0 {
		return 0
	}
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for k, h := range s.history {
		ids, ok := wanted[instanceKey(h.Source, h.Instance)]
		if !ok || ids[h.ItemID] || h.Stopped || (h.DelayedUntil != nil && h.DelayedUntil.After(now)) {
			continue
		}
		delete(s.history, k)
		pruned++
	}
	if pruned > 0 {
		s.dirty.Mark()
	}
	return pruned
}

// History returns a copy of one entry.
func (s *Searcher) History(source arr.Source, instance string, itemID int64) (HistoryEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.history[HistoryKey(source, instance, itemID)]
	if !ok {
		return HistoryEntry{}, false
	}
	cp := *h
	cp.Milestones = append([]int(nil), h.Milestones...)
	return cp, true
}

func encodeMilestones(ms []int) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = strconv.Itoa(m)
	}
	return strings.Join(parts, ",")
}

func decodeMilestones(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	for _, p := range strings.Split(s, ",") {
		if m, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			out = append(out, m)
		}
	}
	sort.Ints(out)
	return out
}

// Name implements persist.Snapshotter.
func (s *Searcher) Name() string {
	return "search_history"
}

// Dirty returns the number of unsaved mutations.
func (s *Searcher) Dirty() int {
	return s.dirty.Count()
}

// Save writes the search history.
func (s *Searcher) Save(ctx context.Context) error {
	seen := s.dirty.Count()
	if s.queries == nil {
		s.dirty.Settle(seen)
		return nil
	}

	s.mu.Lock()
	rows := make([]store.HistoryRow, 0, len(s.history))
	for key, h := range s.history {
		rows = append(rows, store.HistoryRow{
			Key:            key,
			Source:         string(h.Source),
			Instance:       h.Instance,
			ItemID:         h.ItemID,
			Title:          h.Title,
			Tier:           string(h.Tier),
			SearchCount:    h.SearchCount,
			LastSearchedAt: h.LastSearchedAt,
			DelayedUntil:   h.DelayedUntil,
			Stopped:        h.Stopped,
			Milestones:     encodeMilestones(h.Milestones),
		})
	}
	s.mu.Unlock()

	if err := s.queries.ReplaceHistory(ctx, rows); err != nil {
		return fmt.Errorf("save search history: %w", err)
	}
	s.dirty.Settle(seen)
	return nil
}

// Load replaces the in-memory history with the persisted one.
func (s *Searcher) Load(ctx context.Context) error {
	if s.queries == nil {
		return nil
	}
	rows, err := s.queries.ListHistory(ctx)
	if err != nil {
		return fmt.Errorf("load search history: %w", err)
	}

	history := make(map[string]*HistoryEntry, len(rows))
	for _, r := range rows {
		history[r.Key] = &HistoryEntry{
			Source:         arr.Source(r.Source),
			Instance:       r.Instance,
			ItemID:         r.ItemID,
			Title:          r.Title,
			Tier:           tiers.Tier(r.Tier),
			SearchCount:    r.SearchCount,
			LastSearchedAt: r.LastSearchedAt,
			DelayedUntil:   r.DelayedUntil,
			Stopped:        r.Stopped,
			Milestones:     decodeMilestones(r.Milestones),
		}
	}

	s.mu.Lock()
	s.history = history
	s.mu.Unlock()
	s.logger.Info().Int("entries", len(history)).Msg("Loaded search history")
	return nil
}
