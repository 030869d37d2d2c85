package attribution

import (
	"context"
	"fmt"
	"time"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/store"
	"github.com/machinarr/machinarr/internal/tiers"
)

// Name implements persist.Snapshotter.
func (t *Tracker) Name() string {
	return "attribution"
}

// Dirty returns the number of unsaved mutations.
func (t *Tracker) Dirty() int {
	return t.dirty.Count()
}

func trackedRow(ts TrackedSearch) store.TrackedSearchRow {
	return store.TrackedSearchRow{
		Key:        ts.Key(),
		Source:     string(ts.Source),
		Instance:   ts.Instance,
		ItemID:     ts.ItemID,
		ParentID:   ts.ParentID,
		Title:      ts.Title,
		Tier:       string(ts.Tier),
		SearchType: string(ts.SearchType),
		SearchedAt: ts.SearchedAt,
	}
}

func trackedFromRow(r store.TrackedSearchRow) TrackedSearch {
	return TrackedSearch{
		Source:     arr.Source(r.Source),
		Instance:   r.Instance,
		ItemID:     r.ItemID,
		ParentID:   r.ParentID,
		Title:      r.Title,
		Tier:       tiers.Tier(r.Tier),
		SearchType: arr.SearchType(r.SearchType),
		SearchedAt: r.SearchedAt,
	}
}

// Save writes the whole attribution chain.
func (t *Tracker) Save(ctx context.Context) error {
	seen := t.dirty.Count()
	if t.queries == nil {
		t.dirty.Settle(seen)
		return nil
	}

	var snap store.AttributionSnapshot
	t.mu.Lock()
	for _, ts := range t.tracked {
		snap.Tracked = append(snap.Tracked, trackedRow(ts))
	}
	for _, pf := range t.pending {
		snap.Pending = append(snap.Pending, store.PendingFindRow{
			TrackedSearchRow: trackedRow(pf.TrackedSearch),
			QueueID:          pf.QueueID,
			Indexer:          pf.Indexer,
			Quality:          pf.Quality,
			GrabbedAt:        pf.GrabbedAt,
		})
	}
	for _, w := range t.watches {
		snap.Watches = append(snap.Watches, store.WatchRow{
			Key:            w.Key(),
			Source:         string(w.Source),
			Instance:       w.Instance,
			ItemID:         w.ItemID,
			Title:          w.Title,
			Tier:           string(w.Tier),
			ResolutionType: string(w.ResolutionType),
			HadFile:        w.HadFile,
			Requeued:       w.Requeued,
			StartedAt:      w.StartedAt,
		})
	}
	for _, f := range t.finds {
		snap.Finds = append(snap.Finds, store.FindRow{
			ID:             f.ID,
			Source:         string(f.Source),
			Instance:       f.Instance,
			ItemID:         f.ItemID,
			ParentID:       f.ParentID,
			Title:          f.Title,
			Tier:           string(f.Tier),
			SearchType:     string(f.SearchType),
			ResolutionType: string(f.ResolutionType),
			Indexer:        f.Indexer,
			Quality:        f.Quality,
			SearchedAt:     f.SearchedAt,
			FoundAt:        f.FoundAt,
		})
	}
	for key, at := range t.credited {
		snap.Credited = append(snap.Credited, store.CreditedRow{Key: key, CreditedAt: at})
	}
	t.mu.Unlock()

	if err := t.queries.ReplaceAttribution(ctx, snap); err != nil {
		return fmt.Errorf("save attribution: %w", err)
	}
	t.dirty.Settle(seen)
	return nil
}

// Load replaces the in-memory chain with the persisted one.
func (t *Tracker) Load(ctx context.Context) error {
	if t.queries == nil {
		return nil
	}
	snap, err := t.queries.LoadAttribution(ctx)
	if err != nil {
		return fmt.Errorf("load attribution: %w", err)
	}

	tracked := make(map[string]TrackedSearch, len(snap.Tracked))
	for _, r := range snap.Tracked {
		ts := trackedFromRow(r)
		tracked[ts.Key()] = ts
	}
	pending := make(map[string]PendingFind, len(snap.Pending))
	for _, r := range snap.Pending {
		pf := PendingFind{
			TrackedSearch: trackedFromRow(r.TrackedSearchRow),
			QueueID:       r.QueueID,
			Indexer:       r.Indexer,
			Quality:       r.Quality,
			GrabbedAt:     r.GrabbedAt,
		}
		pending[pf.Key()] = pf
	}
	watches := make(map[string]Watch, len(snap.Watches))
	for _, r := range snap.Watches {
		w := Watch{
			Source:         arr.Source(r.Source),
			Instance:       r.Instance,
			ItemID:         r.ItemID,
			Title:          r.Title,
			Tier:           tiers.Tier(r.Tier),
			ResolutionType: ResolutionType(r.ResolutionType),
			HadFile:        r.HadFile,
			Requeued:       r.Requeued,
			StartedAt:      r.StartedAt,
		}
		watches[w.Key()] = w
	}
	finds := make([]Find, 0, len(snap.Finds))
	for _, r := range snap.Finds {
		finds = append(finds, Find{
			ID:             r.ID,
			Source:         arr.Source(r.Source),
			Instance:       r.Instance,
			ItemID:         r.ItemID,
			ParentID:       r.ParentID,
			Title:          r.Title,
			Tier:           tiers.Tier(r.Tier),
			SearchType:     arr.SearchType(r.SearchType),
			ResolutionType: ResolutionType(r.ResolutionType),
			Indexer:        r.Indexer,
			Quality:        r.Quality,
			SearchedAt:     r.SearchedAt,
			FoundAt:        r.FoundAt,
		})
	}
	credited := make(map[string]time.Time, len(snap.Credited))
	for _, r := range snap.Credited {
		credited[r.Key] = r.CreditedAt
	}

	t.mu.Lock()
	t.tracked = tracked
	t.pending = pending
	t.watches = watches
	t.finds = finds
	t.credited = credited
	t.trimLocked()
	t.mu.Unlock()

	t.logger.Info().
		Int("tracked", len(tracked)).
		Int("pending", len(pending)).
		Int("finds", len(finds)).
		Msg("Loaded attribution state")
	return nil
}
