// Package searcher decides what to search each cycle under the daily budget,
// escalating items that keep coming up empty.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/attribution"
	"github.com/machinarr/machinarr/internal/budget"
	"github.com/machinarr/machinarr/internal/intervention"
	"github.com/machinarr/machinarr/internal/pacing"
	"github.com/machinarr/machinarr/internal/persist"
	"github.com/machinarr/machinarr/internal/store"
	"github.com/machinarr/machinarr/internal/tiers"
)

var (
	ErrCycleRunning    = errors.New("search cycle already running")
	ErrBudgetExhausted = errors.New("daily search budget exhausted")
	ErrUnknownInstance = errors.New("unknown instance")
	ErrAllFetchFailed  = errors.New("all wanted-list fetches failed")
)

// Searcher runs search cycles.
type Searcher struct {
	cfg           Config
	services      []arr.Service
	byInstance    map[string]arr.Service
	classifier    *tiers.Classifier
	pacing        *pacing.Model
	ledger        *budget.Ledger
	interventions *intervention.Service
	tracker       Tracker
	broadcaster   Broadcaster
	queries       *store.Queries
	clock         clockwork.Clock
	logger        zerolog.Logger

	mu             sync.Mutex
	running        bool
	history        map[string]*HistoryEntry
	seriesSearched map[string]time.Time
	recent         []AttemptRecord
	lastReport     *CycleReport
	dirty          persist.DirtyCounter
}

// Deps groups the collaborators of a Searcher.
type Deps struct {
	Services      []arr.Service
	Classifier    *tiers.Classifier
	Pacing        *pacing.Model
	Ledger        *budget.Ledger
	Interventions *intervention.Service
	Tracker       Tracker
	Clock         clockwork.Clock
}

// New creates a searcher.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Searcher {
	if cfg.SeriesCooldown <= 0 {
		cfg.SeriesCooldown = 6 * time.Hour
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 500
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := &Searcher{
		cfg:            cfg,
		services:       deps.Services,
		byInstance:     make(map[string]arr.Service, len(deps.Services)),
		classifier:     deps.Classifier,
		pacing:         deps.Pacing,
		ledger:         deps.Ledger,
		interventions:  deps.Interventions,
		tracker:        deps.Tracker,
		clock:          clock,
		logger:         logger.With().Str("component", "searcher").Logger(),
		history:        make(map[string]*HistoryEntry),
		seriesSearched: make(map[string]time.Time),
	}
	for _, svc := range deps.Services {
		s.byInstance[instanceKey(svc.Source(), svc.Name())] = svc
	}
	s.ledger.OnReset(s.clearSeriesCache)
	return s
}

// SetBroadcaster sets the live event sink.
func (s *Searcher) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// SetStore enables persistence.
func (s *Searcher) SetStore(q *store.Queries) {
	s.queries = q
}

func (s *Searcher) broadcast(event string, payload any) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Broadcast(event, payload); err != nil {
		s.logger.Debug().Err(err).Str("event", event).Msg("Failed to broadcast")
	}
}

func (s *Searcher) clearSeriesCache() {
	s.mu.Lock()
	s.seriesSearched = make(map[string]time.Time)
	s.mu.Unlock()
	s.logger.Info().Msg("Daily reset: cleared series search cache")
}

// IsRunning reports whether a cycle is in progress.
func (s *Searcher) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunCycle performs one search cycle.
func (s *Searcher) RunCycle(ctx context.Context) (*CycleReport, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrCycleRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := s.clock.Now()
	report := &CycleReport{StartedAt: start, Tiers: make(map[tiers.Tier]*TierStats, 4)}
	for _, t := range tiers.All() {
		report.Tiers[t] = &TierStats{}
	}

	err := s.runCycle(ctx, report)
	report.FinishedAt = s.clock.Now()

	s.mu.Lock()
	s.lastReport = report
	s.mu.Unlock()

	if report.Skipped == "" {
		s.logger.Info().
			Int("candidates", report.Candidates).
			Int("selected", report.Selected).
			Int("searched", report.Searched).
			Int("failed", report.Failed).
			Int("remaining", s.ledger.Remaining()).
			Dur("elapsed", report.FinishedAt.Sub(start)).
			Msg("Search cycle completed")
		s.broadcast(EventCycleCompleted, report)
	}
	return report, err
}

func (s *Searcher) runCycle(ctx context.Context, report *CycleReport) error {
	if len(s.services) == 0 {
		report.Skipped = "no_instances"
		return nil
	}
	if s.ledger.Exhausted() {
		report.Skipped = "budget_exhausted"
		s.logger.Info().Int("limit", s.ledger.Limit()).Msg("Daily search budget exhausted, skipping cycle")
		return nil
	}
	if s.cfg.QuietHours.Active(s.clock.Now()) {
		report.Skipped = "quiet_hours"
		s.logger.Debug().Msg("Quiet hours active, skipping cycle")
		return nil
	}

	gathered := s.gather(ctx)
	report.FetchErrs = gathered.errs
	report.Wanted = gathered.wanted
	if len(gathered.items) == 0 && len(gathered.errs) > 0 && len(gathered.wanted) == 0 {
		return fmt.Errorf("%w: %v", ErrAllFetchFailed, gathered.errs)
	}

	now := s.clock.Now()
	candidates := s.prepare(gathered, report, now)

	report.Cleaned = s.cleanupStale(gathered.wanted)
	report.Pruned = s.pruneHistory(gathered.wanted)

	total := min(s.cfg.SearchesPerCycle, len(candidates), s.ledger.Remaining())
	if total <= 0 {
		return nil
	}

	s.mu.Lock()
	selections := s.Select(candidates, total, now)
	s.mu.Unlock()
	report.Selected = len(selections)

	for _, sel := range selections {
		if ctx.Err() != nil {
			s.logger.Info().Msg("Search cycle cancelled")
			break
		}
		rec, err := s.execute(ctx, sel, false)
		if errors.Is(err, ErrBudgetExhausted) {
			s.logger.Info().Msg("Daily budget reached mid-cycle")
			break
		}
		if rec.Success {
			report.Searched++
		} else {
			report.Failed++
		}
	}
	return nil
}

// prepare merges history, sweeps milestones, flags exhausted items and
// returns the eligible candidates.
func (s *Searcher) prepare(gathered *gatherResult, report *CycleReport, now time.Time) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(gathered.items))
	items := make([]Item, 0, len(gathered.items))
	for _, it := range gathered.items {
		k := it.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		if h, ok := s.history[k]; ok {
			it.SearchCount = h.SearchCount
			it.LastSearchedAt = h.LastSearchedAt
		}
		items = append(items, it)
	}
	report.Candidates = len(items)

	report.Milestones = s.sweepMilestones(items, now)

	var candidates []Item
	for i := range items {
		it := items[i]
		stats := report.Tiers[it.Tier]
		stats.Total++

		cfg := s.pacing.For(it.Tier)
		h := s.history[it.Key()]
		switch evaluate(h, cfg, now) {
		case eligible:
			stats.Eligible++
			candidates = append(candidates, it)
		case cooling, delayed:
			stats.Cooling++
		case stopped:
			stats.Stopped++
		case exhaustedManual:
			stats.Exhausted++
			report.Exhausted = append(report.Exhausted, it)
			s.raiseExhausted(&it, cfg)
		}
	}
	return candidates
}

// raiseExhausted creates or refreshes the search_exhausted intervention.
func (s *Searcher) raiseExhausted(it *Item, cfg pacing.TierConfig) {
	s.interventions.Upsert(intervention.Entry{
		Type:     intervention.TypeSearchExhausted,
		Source:   it.Source,
		Instance: it.Instance,
		ItemID:   it.ID,
		ParentID: it.ParentID,
		Title:    it.DisplayTitle(),
		Tier:     it.Tier,
		Reason:   exhaustedReason(it.SearchCount, cfg, s.pacing.Preset()),
		Urgency:  intervention.UrgencyHigh,
		Details: map[string]any{
			"searchCount": it.SearchCount,
			"maxAttempts": cfg.MaxAttempts,
			"searchType":  it.SearchType,
		},
	})
}

// cleanupStale drops search-owned interventions for items that are no longer
// wanted on instances that were fetched completely.
func (s *Searcher) cleanupStale(wanted map[string]map[int64]bool) int {
	if len(wanted) == 0 {
		return 0
	}
	drop := func(e intervention.Entry) bool {
		ids, ok := wanted[instanceKey(e.Source, e.Instance)]
		return ok && !ids[e.ItemID]
	}
	removed := s.interventions.RemoveWhere(intervention.TypeSearchExhausted, drop)
	removed += s.interventions.RemoveWhere(intervention.TypeLongMissing, drop)
	removed += s.interventions.RemoveWhere(intervention.TypeReleaseAvailable, drop)
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Cleared interventions for items no longer wanted")
	}
	return removed
}

// execute sends one search command and updates history for every covered
// item. A failed command still advances the counters.
func (s *Searcher) execute(ctx context.Context, sel Selection, manual bool) (AttemptRecord, error) {
	item := sel.Item
	svc, ok := s.byInstance[instanceKey(item.Source, item.Instance)]
	if !ok {
		return AttemptRecord{}, fmt.Errorf("%w: %s/%s", ErrUnknownInstance, item.Source, item.Instance)
	}
	if !s.ledger.TryConsume() {
		return AttemptRecord{}, ErrBudgetExhausted
	}

	now := s.clock.Now()
	covered := sel.Covered()
	if s.tracker != nil {
		for _, it := range covered {
			s.tracker.TrackSearch(attribution.TrackedSearch{
				Source:     it.Source,
				Instance:   it.Instance,
				ItemID:     it.ID,
				ParentID:   it.ParentID,
				Title:      it.DisplayTitle(),
				Tier:       it.Tier,
				SearchType: it.SearchType,
				SearchedAt: now,
			})
		}
	}

	var err error
	message := "Search triggered"
	if sel.Series {
		err = svc.SearchParent(ctx, item.ParentID)
		message = fmt.Sprintf("Series search triggered (%d episodes)", len(covered))
	} else {
		err = svc.SearchItems(ctx, []int64{item.ID})
	}

	s.mu.Lock()
	if sel.Series {
		s.seriesSearched[seriesKey(item.Instance, item.ParentID)] = now
	}
	var rec AttemptRecord
	var exhausted []Item
	for _, it := range covered {
		h := s.entry(&it)
		h.SearchCount++
		h.LastSearchedAt = &now
		h.DelayedUntil = nil
		s.dirty.Mark()

		if it.ID == item.ID {
			rec = s.record(it, h, sel.Series, manual, err, message, now)
		}
		cfg := s.pacing.For(it.Tier)
		if _, done := cfg.CurrentCooldown(h.SearchCount); done && cfg.EscalatesToManual() {
			it.SearchCount = h.SearchCount
			exhausted = append(exhausted, it)
		}
	}
	s.mu.Unlock()

	for i := range exhausted {
		s.raiseExhausted(&exhausted[i], s.pacing.For(exhausted[i].Tier))
	}

	ev := s.logger.Info()
	if err != nil {
		ev = s.logger.Warn().Err(err)
	}
	ev.Str("source", string(item.Source)).
		Str("instance", item.Instance).
		Int64("itemId", item.ID).
		Str("title", item.DisplayTitle()).
		Str("tier", string(item.Tier)).
		Bool("series", sel.Series).
		Int("attempt", rec.Attempt).
		Msg(rec.Message)

	s.broadcast(EventAttempt, rec)
	return rec, nil
}

// record builds and stores an attempt record. Callers hold s.mu.
func (s *Searcher) record(it Item, h *HistoryEntry, series, manual bool, err error, message string, now time.Time) AttemptRecord {
	cfg := s.pacing.For(it.Tier)
	cooldown, exhausted := cfg.CurrentCooldown(h.SearchCount)

	rec := AttemptRecord{
		ID:           uuid.NewString(),
		Source:       it.Source,
		Instance:     it.Instance,
		ItemID:       it.ID,
		ParentID:     it.ParentID,
		Title:        it.DisplayTitle(),
		Tier:         it.Tier,
		SearchType:   it.SearchType,
		SeriesSearch: series,
		Manual:       manual,
		Success:      err == nil,
		Message:      message,
		Timestamp:    now,
		Attempt:      h.SearchCount,
		MaxAttempts:  cfg.MaxAttempts,
		Cooldown:     cooldown,
	}

	switch {
	case err != nil:
		rec.State = StateError
		rec.Message = fmt.Sprintf("Search failed: %v", err)
	case exhausted && cfg.EscalatesToManual():
		rec.State = StateNeedsAttention
	case exhausted:
		rec.State = StateEscalating
	default:
		rec.State = StateCooldown
	}
	if rec.State != StateNeedsAttention {
		next := now.Add(cooldown)
		rec.NextEligibleAt = &next
	}

	s.recent = append(s.recent, rec)
	if over := len(s.recent) - s.cfg.RecentLimit; over > 0 {
		s.recent = append([]AttemptRecord(nil), s.recent[over:]...)
	}
	return rec
}

// SearchSingle searches one item on demand. Cooldowns are ignored but the
// budget still applies.
func (s *Searcher) SearchSingle(ctx context.Context, source arr.Source, instance string, itemID int64) (AttemptRecord, error) {
	svc, ok := s.byInstance[instanceKey(source, instance)]
	if !ok {
		return AttemptRecord{}, fmt.Errorf("%w: %s/%s", ErrUnknownInstance, source, instance)
	}

	content, err := svc.GetItem(ctx, itemID)
	if err != nil {
		return AttemptRecord{}, fmt.Errorf("fetch item %d: %w", itemID, err)
	}
	searchType := arr.SearchMissing
	if content.HasFile {
		searchType = arr.SearchUpgrade
	}
	content.SearchType = searchType

	tier, age := s.classifier.Classify(content.ReleaseDate)
	item := Item{ContentItem: *content, Source: source, Instance: instance, Tier: tier, AgeDays: age}
	return s.execute(ctx, Selection{Item: item}, true)
}

// ResetSearchCount clears the attempt counter of one item and removes its
// search_exhausted intervention.
func (s *Searcher) ResetSearchCount(source arr.Source, instance string, itemID int64) bool {
	s.mu.Lock()
	h, ok := s.history[HistoryKey(source, instance, itemID)]
	if ok {
		h.SearchCount = 0
		h.LastSearchedAt = nil
		h.DelayedUntil = nil
		h.Stopped = false
		s.dirty.Mark()
	}
	s.mu.Unlock()

	removed := s.interventions.RemoveFor(intervention.TypeSearchExhausted, source, instance, itemID)
	if ok || removed {
		s.logger.Info().Str("source", string(source)).Str("instance", instance).Int64("itemId", itemID).
			Msg("Search count reset")
	}
	return ok || removed
}

// Delay resets an item's attempts and holds it out of rotation for d.
func (s *Searcher) Delay(source arr.Source, instance string, itemID int64, d time.Duration) {
	until := s.clock.Now().Add(d)

	s.mu.Lock()
	key := HistoryKey(source, instance, itemID)
	h, ok := s.history[key]
	if !ok {
		h = &HistoryEntry{Source: source, Instance: instance, ItemID: itemID}
		s.history[key] = h
	}
	h.SearchCount = 0
	h.DelayedUntil = &until
	s.dirty.Mark()
	s.mu.Unlock()

	s.interventions.RemoveFor(intervention.TypeSearchExhausted, source, instance, itemID)
	s.logger.Info().Str("source", string(source)).Str("instance", instance).Int64("itemId", itemID).
		Time("until", until).Msg("Searching delayed")
}

// StopSearching removes an item from rotation until its count is reset.
func (s *Searcher) StopSearching(source arr.Source, instance string, itemID int64) {
	s.mu.Lock()
	key := HistoryKey(source, instance, itemID)
	h, ok := s.history[key]
	if !ok {
		h = &HistoryEntry{Source: source, Instance: instance, ItemID: itemID}
		s.history[key] = h
	}
	h.Stopped = true
	s.dirty.Mark()
	s.mu.Unlock()

	s.interventions.RemoveFor(intervention.TypeSearchExhausted, source, instance, itemID)
	s.interventions.RemoveFor(intervention.TypeLongMissing, source, instance, itemID)
	s.interventions.RemoveFor(intervention.TypeReleaseAvailable, source, instance, itemID)
	s.logger.Info().Str("source", string(source)).Str("instance", instance).Int64("itemId", itemID).
		Msg("Searching stopped")
}

// MarkFound flags the latest attempt record of an item as found.
func (s *Searcher) MarkFound(source arr.Source, instance string, itemID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.recent) - 1; i >= 0; i-- {
		r := &s.recent[i]
		if r.Source == source && r.Instance == instance && r.ItemID == itemID {
			r.State = StateFound
			r.NextEligibleAt = nil
			return
		}
	}
}

// RecentResults returns up to limit attempt records, newest first.
func (s *Searcher) RecentResults(limit int) []AttemptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]AttemptRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.recent[i])
	}
	return out
}

// Stats returns the scheduler status.
func (s *Searcher) Stats() Stats {
	st := Stats{
		Preset:     s.pacing.Preset(),
		Pacing:     s.pacing.Describe(),
		Budget:     s.ledger.Snapshot(),
		DailyLimit: s.ledger.Limit(),
		Remaining:  s.ledger.Remaining(),
		QuietHours: s.cfg.QuietHours.Active(s.clock.Now()),
	}
	s.mu.Lock()
	st.HistorySize = len(s.history)
	if s.lastReport != nil {
		r := *s.lastReport
		st.LastCycle = &r
	}
	s.mu.Unlock()
	return st
}

// StoppedItems returns every history entry that is out of rotation.
func (s *Searcher) StoppedItems() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []HistoryEntry
	for _, h := range s.history {
		if h.Stopped {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}
