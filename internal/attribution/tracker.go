package attribution

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/persist"
	"github.com/machinarr/machinarr/internal/store"
	"github.com/machinarr/machinarr/internal/tiers"
)

// grabSlack tolerates clock skew between us and the service when comparing a
// queue entry's added time with the search time.
const grabSlack = time.Minute

// FindCounter receives one call per recorded find.
type FindCounter interface {
	RecordFind()
}

// Tracker owns the attribution chain.
type Tracker struct {
	cfg         Config
	counter     FindCounter
	clock       clockwork.Clock
	logger      zerolog.Logger
	broadcaster Broadcaster
	queries     *store.Queries
	onFind      []func(Find)

	mu       sync.Mutex
	tracked  map[string]TrackedSearch
	pending  map[string]PendingFind
	watches  map[string]Watch
	finds    []Find
	credited map[string]time.Time
	// queued holds the item IDs seen in the last queue poll per instance.
	queued map[string]map[int64]bool
	dirty  persist.DirtyCounter
}

// NewTracker creates an empty tracker.
func NewTracker(cfg Config, counter FindCounter, clock clockwork.Clock, logger zerolog.Logger) *Tracker {
	def := DefaultConfig()
	if cfg.MatchWindow <= 0 {
		cfg.MatchWindow = def.MatchWindow
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = def.ConfirmTimeout
	}
	if cfg.MaxFinds <= 0 {
		cfg.MaxFinds = def.MaxFinds
	}
	if cfg.MaxCredited <= 0 {
		cfg.MaxCredited = def.MaxCredited
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{
		cfg:      cfg,
		counter:  counter,
		clock:    clock,
		logger:   logger.With().Str("component", "attribution").Logger(),
		tracked:  make(map[string]TrackedSearch),
		pending:  make(map[string]PendingFind),
		watches:  make(map[string]Watch),
		credited: make(map[string]time.Time),
		queued:   make(map[string]map[int64]bool),
	}
}

// SetBroadcaster sets the live event sink.
func (t *Tracker) SetBroadcaster(b Broadcaster) {
	t.broadcaster = b
}

// SetStore enables persistence.
func (t *Tracker) SetStore(q *store.Queries) {
	t.queries = q
}

// OnFind registers a callback run after every recorded find.
func (t *Tracker) OnFind(fn func(Find)) {
	t.onFind = append(t.onFind, fn)
}

func instanceKey(source arr.Source, instance string) string {
	return string(source) + ":" + instance
}

// TrackSearch records a search that is about to fire. A newer search for the
// same item replaces the older one.
func (t *Tracker) TrackSearch(ts TrackedSearch) {
	if ts.SearchedAt.IsZero() {
		ts.SearchedAt = t.clock.Now()
	}
	key := ts.Key()

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.credited[key]; ok {
		return
	}
	if _, ok := t.pending[key]; ok {
		return
	}
	t.tracked[key] = ts
	t.dirty.Mark()
}

// IsTracked reports whether an item has a tracked search or pending find.
func (t *Tracker) IsTracked(source arr.Source, instance string, itemID int64) bool {
	key := Key(source, instance, itemID)
	t.mu.Lock()
	defer t.mu.Unlock()
	_, tracked := t.tracked[key]
	_, pending := t.pending[key]
	return tracked || pending
}

// ObserveQueue promotes tracked searches whose item appears in the queue
// inside the match window. It also records which items are queued so that
// Verify can tell when a download has left the queue.
func (t *Tracker) ObserveQueue(source arr.Source, instance string, entries []arr.QueueEntry) []PendingFind {
	now := t.clock.Now()
	ik := instanceKey(source, instance)
	queued := make(map[int64]bool, len(entries))

	t.mu.Lock()
	defer t.mu.Unlock()

	var promoted []PendingFind
	for _, e := range entries {
		if e.ItemID == 0 {
			continue
		}
		queued[e.ItemID] = true
		key := Key(source, instance, e.ItemID)

		if w, ok := t.watches[key]; ok && !w.Requeued && now.After(w.StartedAt) {
			w.Requeued = true
			t.watches[key] = w
			t.dirty.Mark()
		}

		ts, ok := t.tracked[key]
		if !ok {
			continue
		}
		if now.Sub(ts.SearchedAt) > t.cfg.MatchWindow {
			continue
		}
		grabbedAt := now
		if e.Added != nil && !e.Added.IsZero() {
			if e.Added.Before(ts.SearchedAt.Add(-grabSlack)) {
				// Grabbed before our search: RSS or a user got there first.
				continue
			}
			grabbedAt = *e.Added
		}

		pf := PendingFind{
			TrackedSearch: ts,
			QueueID:       e.ID,
			Indexer:       e.Indexer,
			Quality:       e.Quality,
			GrabbedAt:     grabbedAt,
		}
		delete(t.tracked, key)
		t.pending[key] = pf
		t.dirty.Mark()
		promoted = append(promoted, pf)

		t.logger.Info().
			Str("source", string(source)).
			Str("instance", instance).
			Int64("itemId", e.ItemID).
			Str("title", ts.Title).
			Str("indexer", e.Indexer).
			Msg("Search result grabbed, awaiting import")
	}
	t.queued[ik] = queued
	return promoted
}

// Verify confirms pending finds and watches of one instance whose item now
// has a file. Missing items confirm on the file alone; upgrades also need
// the download to have left the queue. Items the service no longer knows are
// dropped, as are candidates past the confirm timeout. Other lookup errors
// leave the candidate for the next pass.
func (t *Tracker) Verify(ctx context.Context, source arr.Source, instance string, getter ItemGetter) VerifyResult {
	var res VerifyResult
	ik := instanceKey(source, instance)
	now := t.clock.Now()

	t.mu.Lock()
	queued, haveQueue := t.queued[ik]
	var pending []PendingFind
	for _, pf := range t.pending {
		if pf.Source == source && pf.Instance == instance {
			pending = append(pending, pf)
		}
	}
	var watches []Watch
	for _, w := range t.watches {
		if w.Source == source && w.Instance == instance {
			watches = append(watches, w)
		}
	}
	t.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].GrabbedAt.Before(pending[j].GrabbedAt) })
	sort.Slice(watches, func(i, j int) bool { return watches[i].StartedAt.Before(watches[j].StartedAt) })

	for _, pf := range pending {
		if ctx.Err() != nil {
			return res
		}
		if now.Sub(pf.GrabbedAt) > t.cfg.ConfirmTimeout {
			t.dropPending(pf.Key())
			res.Dropped++
			continue
		}
		if pf.SearchType == arr.SearchUpgrade && (!haveQueue || queued[pf.ItemID]) {
			continue
		}
		item, err := getter.GetItem(ctx, pf.ItemID)
		if err != nil {
			if errors.Is(err, arr.ErrNotFound) {
				t.dropPending(pf.Key())
				res.Dropped++
				continue
			}
			t.logger.Warn().Err(err).Int64("itemId", pf.ItemID).Msg("Failed to verify pending find")
			res.Errors++
			continue
		}
		if !item.HasFile {
			continue
		}
		if f, ok := t.confirm(pf); ok {
			res.Confirmed = append(res.Confirmed, f)
		}
	}

	for _, w := range watches {
		if ctx.Err() != nil {
			return res
		}
		if now.Sub(w.StartedAt) > t.cfg.ConfirmTimeout {
			t.dropWatch(w.Key())
			res.Dropped++
			continue
		}
		if !haveQueue || queued[w.ItemID] {
			continue
		}
		if w.HadFile && !w.Requeued {
			continue
		}
		item, err := getter.GetItem(ctx, w.ItemID)
		if err != nil {
			if errors.Is(err, arr.ErrNotFound) {
				t.dropWatch(w.Key())
				res.Dropped++
				continue
			}
			t.logger.Warn().Err(err).Int64("itemId", w.ItemID).Msg("Failed to verify resolution")
			res.Errors++
			continue
		}
		if !item.HasFile {
			continue
		}
		t.dropWatch(w.Key())
		f, ok := t.RecordManualFind(ManualFind{
			Source:         w.Source,
			Instance:       w.Instance,
			ItemID:         w.ItemID,
			ParentID:       item.ParentID,
			Title:          w.Title,
			Tier:           w.Tier,
			ResolutionType: w.ResolutionType,
		})
		if ok {
			res.Confirmed = append(res.Confirmed, f)
		}
	}
	return res
}

func (t *Tracker) dropPending(key string) {
	t.mu.Lock()
	if _, ok := t.pending[key]; ok {
		delete(t.pending, key)
		t.dirty.Mark()
	}
	t.mu.Unlock()
}

func (t *Tracker) dropWatch(key string) {
	t.mu.Lock()
	if _, ok := t.watches[key]; ok {
		delete(t.watches, key)
		t.dirty.Mark()
	}
	t.mu.Unlock()
}

// confirm turns a pending find into a Find unless the item was already
// credited.
func (t *Tracker) confirm(pf PendingFind) (Find, bool) {
	searchedAt := pf.SearchedAt
	return t.record(Find{
		Source:         pf.Source,
		Instance:       pf.Instance,
		ItemID:         pf.ItemID,
		ParentID:       pf.ParentID,
		Title:          pf.Title,
		Tier:           pf.Tier,
		SearchType:     pf.SearchType,
		ResolutionType: ResolutionSearch,
		Indexer:        pf.Indexer,
		Quality:        pf.Quality,
		SearchedAt:     &searchedAt,
	})
}

// WatchResolution registers a known-causal resolution. The item is recorded
// through RecordManualFind once it has a file.
func (t *Tracker) WatchResolution(w Watch) {
	if w.StartedAt.IsZero() {
		w.StartedAt = t.clock.Now()
	}
	w.Requeued = false
	key := w.Key()

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.credited[key]; ok {
		return
	}
	t.watches[key] = w
	t.dirty.Mark()
}

// RecordManualFind records a find that bypasses the candidate step. It
// returns false when the item was already credited.
func (t *Tracker) RecordManualFind(m ManualFind) (Find, bool) {
	if !m.ResolutionType.Valid() || m.ResolutionType == ResolutionSearch {
		m.ResolutionType = ResolutionManual
	}
	return t.record(Find{
		Source:         m.Source,
		Instance:       m.Instance,
		ItemID:         m.ItemID,
		ParentID:       m.ParentID,
		Title:          m.Title,
		Tier:           m.Tier,
		ResolutionType: m.ResolutionType,
	})
}

// record is the single insertion point for finds. The credited set makes it
// at-most-once per item.
func (t *Tracker) record(f Find) (Find, bool) {
	now := t.clock.Now()
	key := f.Key()

	t.mu.Lock()
	if _, ok := t.credited[key]; ok {
		delete(t.pending, key)
		delete(t.tracked, key)
		t.mu.Unlock()
		return Find{}, false
	}
	f.ID = uuid.NewString()
	f.FoundAt = now

	t.credited[key] = now
	delete(t.pending, key)
	delete(t.tracked, key)
	delete(t.watches, key)
	t.finds = append(t.finds, f)
	t.trimLocked()
	t.dirty.Mark()
	t.mu.Unlock()

	if t.counter != nil {
		t.counter.RecordFind()
	}

	t.logger.Info().
		Str("source", string(f.Source)).
		Str("instance", f.Instance).
		Int64("itemId", f.ItemID).
		Str("title", f.Title).
		Str("tier", string(f.Tier)).
		Str("resolution", string(f.ResolutionType)).
		Msg("Find confirmed")

	if t.broadcaster != nil {
		if err := t.broadcaster.Broadcast(EventFindConfirmed, f); err != nil {
			t.logger.Debug().Err(err).Msg("Failed to broadcast find")
		}
	}
	for _, fn := range t.onFind {
		fn(f)
	}
	return f, true
}

// trimLocked keeps the newest MaxFinds finds and MaxCredited credited keys.
func (t *Tracker) trimLocked() {
	if over := len(t.finds) - t.cfg.MaxFinds; over > 0 {
		t.finds = append([]Find(nil), t.finds[over:]...)
	}
	over := len(t.credited) - t.cfg.MaxCredited
	if over <= 0 {
		return
	}
	type credit struct {
		key string
		at  time.Time
	}
	all := make([]credit, 0, len(t.credited))
	for k, at := range t.credited {
		all = append(all, credit{k, at})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for _, c := range all[:over] {
		delete(t.credited, c.key)
	}
}

// Expire discards tracked searches past the match window and pending finds
// and watches past the confirm timeout. It returns how many were dropped.
func (t *Tracker) Expire() int {
	now := t.clock.Now()
	dropped := 0

	t.mu.Lock()
	for k, ts := range t.tracked {
		if now.Sub(ts.SearchedAt) > t.cfg.MatchWindow {
			delete(t.tracked, k)
			dropped++
		}
	}
	for k, pf := range t.pending {
		if now.Sub(pf.GrabbedAt) > t.cfg.ConfirmTimeout {
			delete(t.pending, k)
			dropped++
			t.logger.Info().Str("title", pf.Title).Int64("itemId", pf.ItemID).
				Msg("Pending find expired without import")
		}
	}
	for k, w := range t.watches {
		if now.Sub(w.StartedAt) > t.cfg.ConfirmTimeout {
			delete(t.watches, k)
			dropped++
		}
	}
	if dropped > 0 {
		t.dirty.Mark()
	}
	t.mu.Unlock()
	return dropped
}

// Recent returns up to limit finds, newest first.
func (t *Tracker) Recent(limit int) []Find {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.finds)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Find, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, t.finds[i])
	}
	return out
}

// Pending returns the pending finds, oldest grab first.
func (t *Tracker) Pending() []PendingFind {
	t.mu.Lock()
	out := make([]PendingFind, 0, len(t.pending))
	for _, pf := range t.pending {
		out = append(out, pf)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].GrabbedAt.Before(out[j].GrabbedAt) })
	return out
}

// Stats summarizes the retained finds.
func (t *Tracker) Stats() Stats {
	today := t.clock.Now().UTC().Format("2006-01-02")

	t.mu.Lock()
	defer t.mu.Unlock()

	st := Stats{
		Total:        len(t.finds),
		ByTier:       make(map[tiers.Tier]int, 4),
		ByResolution: make(map[ResolutionType]int, 4),
		Tracked:      len(t.tracked),
		Pending:      len(t.pending),
		Watching:     len(t.watches),
		Credited:     len(t.credited),
	}
	var sum float64
	var timed int
	for _, f := range t.finds {
		if f.FoundAt.UTC().Format("2006-01-02") == today {
			st.Today++
		}
		if f.Tier != "" {
			st.ByTier[f.Tier]++
		}
		st.ByResolution[f.ResolutionType]++
		if f.SearchedAt != nil {
			sum += f.FoundAt.Sub(*f.SearchedAt).Seconds()
			timed++
		}
	}
	if timed > 0 {
		st.AvgSecondsToFind = sum / float64(timed)
	}
	return st
}
