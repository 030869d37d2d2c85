package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const insertHistory = `INSERT INTO search_history
	(key, source, instance, item_id, title, tier, search_count, last_searched_at, delayed_until, stopped, milestones)
	VALUES (:key, :source, :instance, :item_id, :title, :tier, :search_count, :last_searched_at, :delayed_until, :stopped, :milestones)`

// ReplaceHistory overwrites the search history snapshot.
func (q *Queries) ReplaceHistory(ctx context.Context, rows []HistoryRow) error {
	return replaceAll(ctx, q.db, "search_history", insertHistory, rows)
}

// ListHistory returns every search history row.
func (q *Queries) ListHistory(ctx context.Context) ([]HistoryRow, error) {
	return selectAll[HistoryRow](ctx, q.db, "SELECT * FROM search_history")
}

const insertIntervention = `INSERT INTO interventions
	(key, id, type, source, instance, item_id, parent_id, title, tier, reason, urgency, actions, details, notified, created_at, updated_at)
	VALUES (:key, :id, :type, :source, :instance, :item_id, :parent_id, :title, :tier, :reason, :urgency, :actions, :details, :notified, :created_at, :updated_at)`

// ReplaceInterventions overwrites the intervention snapshot.
func (q *Queries) ReplaceInterventions(ctx context.Context, rows []InterventionRow) error {
	return replaceAll(ctx, q.db, "interventions", insertIntervention, rows)
}

// ListInterventions returns every intervention row, oldest first.
func (q *Queries) ListInterventions(ctx context.Context) ([]InterventionRow, error) {
	return selectAll[InterventionRow](ctx, q.db, "SELECT * FROM interventions ORDER BY created_at")
}

const insertTrackedSearch = `INSERT INTO tracked_searches
	(key, source, instance, item_id, parent_id, title, tier, search_type, searched_at)
	VALUES (:key, :source, :instance, :item_id, :parent_id, :title, :tier, :search_type, :searched_at)`

const insertPendingFind = `INSERT INTO pending_finds
	(key, source, instance, item_id, parent_id, title, tier, search_type, searched_at, queue_id, indexer, quality, grabbed_at)
	VALUES (:key, :source, :instance, :item_id, :parent_id, :title, :tier, :search_type, :searched_at, :queue_id, :indexer, :quality, :grabbed_at)`

const insertWatch = `INSERT INTO resolution_watches
	(key, source, instance, item_id, title, tier, resolution_type, had_file, requeued, started_at)
	VALUES (:key, :source, :instance, :item_id, :title, :tier, :resolution_type, :had_file, :requeued, :started_at)`

const insertFind = `INSERT INTO finds
	(id, source, instance, item_id, parent_id, title, tier, search_type, resolution_type, indexer, quality, searched_at, found_at)
	VALUES (:id, :source, :instance, :item_id, :parent_id, :title, :tier, :search_type, :resolution_type, :indexer, :quality, :searched_at, :found_at)`

const insertCredited = `INSERT INTO credited_items (key, credited_at) VALUES (:key, :credited_at)`

// AttributionSnapshot groups every attribution table.
type AttributionSnapshot struct {
	Tracked  []TrackedSearchRow
	Pending  []PendingFindRow
	Watches  []WatchRow
	Finds    []FindRow
	Credited []CreditedRow
}

// ReplaceAttribution overwrites all attribution tables.
func (q *Queries) ReplaceAttribution(ctx context.Context, snap AttributionSnapshot) error {
	if err := replaceAll(ctx, q.db, "tracked_searches", insertTrackedSearch, snap.Tracked); err != nil {
		return err
	}
	if err := replaceAll(ctx, q.db, "pending_finds", insertPendingFind, snap.Pending); err != nil {
		return err
	}
	if err := replaceAll(ctx, q.db, "resolution_watches", insertWatch, snap.Watches); err != nil {
		return err
	}
	if err := replaceAll(ctx, q.db, "finds", insertFind, snap.Finds); err != nil {
		return err
	}
	return replaceAll(ctx, q.db, "credited_items", insertCredited, snap.Credited)
}

// LoadAttribution reads all attribution tables.
func (q *Queries) LoadAttribution(ctx context.Context) (AttributionSnapshot, error) {
	var snap AttributionSnapshot
	var err error
	if snap.Tracked, err = selectAll[TrackedSearchRow](ctx, q.db, "SELECT * FROM tracked_searches"); err != nil {
		return snap, fmt.Errorf("load tracked searches: %w", err)
	}
	if snap.Pending, err = selectAll[PendingFindRow](ctx, q.db, "SELECT * FROM pending_finds"); err != nil {
		return snap, fmt.Errorf("load pending finds: %w", err)
	}
	if snap.Watches, err = selectAll[WatchRow](ctx, q.db, "SELECT * FROM resolution_watches"); err != nil {
		return snap, fmt.Errorf("load resolution watches: %w", err)
	}
	if snap.Finds, err = selectAll[FindRow](ctx, q.db, "SELECT * FROM finds ORDER BY found_at"); err != nil {
		return snap, fmt.Errorf("load finds: %w", err)
	}
	if snap.Credited, err = selectAll[CreditedRow](ctx, q.db, "SELECT * FROM credited_items ORDER BY credited_at"); err != nil {
		return snap, fmt.Errorf("load credited items: %w", err)
	}
	return snap, nil
}

// GetCounters returns the daily counters, or a zero row when none was saved.
func (q *Queries) GetCounters(ctx context.Context) (CountersRow, error) {
	var row CountersRow
	err := q.db.GetContext(ctx, &row,
		"SELECT api_hits_today, finds_today, finds_total, last_reset_date FROM daily_counters WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return CountersRow{}, nil
	}
	return row, err
}

// SaveCounters upserts the daily counters.
func (q *Queries) SaveCounters(ctx context.Context, row CountersRow) error {
	_, err := q.db.NamedExecContext(ctx, `INSERT INTO daily_counters (id, api_hits_today, finds_today, finds_total, last_reset_date)
		VALUES (1, :api_hits_today, :finds_today, :finds_total, :last_reset_date)
		ON CONFLICT(id) DO UPDATE SET
			api_hits_today = excluded.api_hits_today,
			finds_today = excluded.finds_today,
			finds_total = excluded.finds_total,
			last_reset_date = excluded.last_reset_date`, row)
	return err
}
