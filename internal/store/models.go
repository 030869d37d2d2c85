package store

import "time"

// HistoryRow is one search_history row.
type HistoryRow struct {
	Key            string     `db:"key"`
	Source         string     `db:"source"`
	Instance       string     `db:"instance"`
	ItemID         int64      `db:"item_id"`
	Title          string     `db:"title"`
	Tier           string     `db:"tier"`
	SearchCount    int        `db:"search_count"`
	LastSearchedAt *time.Time `db:"last_searched_at"`
	DelayedUntil   *time.Time `db:"delayed_until"`
	Stopped        bool       `db:"stopped"`
	Milestones     string     `db:"milestones"`
}

// InterventionRow is one interventions row. Actions and Details hold JSON.
type InterventionRow struct {
	Key       string    `db:"key"`
	ID        string    `db:"id"`
	Type      string    `db:"type"`
	Source    string    `db:"source"`
	Instance  string    `db:"instance"`
	ItemID    int64     `db:"item_id"`
	ParentID  int64     `db:"parent_id"`
	Title     string    `db:"title"`
	Tier      string    `db:"tier"`
	Reason    string    `db:"reason"`
	Urgency   string    `db:"urgency"`
	Actions   string    `db:"actions"`
	Details   string    `db:"details"`
	Notified  bool      `db:"notified"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// TrackedSearchRow is one tracked_searches row.
type TrackedSearchRow struct {
	Key        string    `db:"key"`
	Source     string    `db:"source"`
	Instance   string    `db:"instance"`
	ItemID     int64     `db:"item_id"`
	ParentID   int64     `db:"parent_id"`
	Title      string    `db:"title"`
	Tier       string    `db:"tier"`
	SearchType string    `db:"search_type"`
	SearchedAt time.Time `db:"searched_at"`
}

// PendingFindRow is one pending_finds row.
type PendingFindRow struct {
	TrackedSearchRow
	QueueID   int64     `db:"queue_id"`
	Indexer   string    `db:"indexer"`
	Quality   string    `db:"quality"`
	GrabbedAt time.Time `db:"grabbed_at"`
}

// WatchRow is one resolution_watches row.
type WatchRow struct {
	Key            string    `db:"key"`
	Source         string    `db:"source"`
	Instance       string    `db:"instance"`
	ItemID         int64     `db:"item_id"`
	Title          string    `db:"title"`
	Tier           string    `db:"tier"`
	ResolutionType string    `db:"resolution_type"`
	HadFile        bool      `db:"had_file"`
	Requeued       bool      `db:"requeued"`
	StartedAt      time.Time `db:"started_at"`
}

// FindRow is one finds row.
type FindRow struct {
	ID             string     `db:"id"`
	Source         string     `db:"source"`
	Instance       string     `db:"instance"`
	ItemID         int64      `db:"item_id"`
	ParentID       int64      `db:"parent_id"`
	Title          string     `db:"title"`
	Tier           string     `db:"tier"`
	SearchType     string     `db:"search_type"`
	ResolutionType string     `db:"resolution_type"`
	Indexer        string     `db:"indexer"`
	Quality        string     `db:"quality"`
	SearchedAt     *time.Time `db:"searched_at"`
	FoundAt        time.Time  `db:"found_at"`
}

// CreditedRow is one credited_items row.
type CreditedRow struct {
	Key        string    `db:"key"`
	CreditedAt time.Time `db:"credited_at"`
}

// CountersRow is the single daily_counters row.
type CountersRow struct {
	APIHitsToday  int    `db:"api_hits_today"`
	FindsToday    int    `db:"finds_today"`
	FindsTotal    int    `db:"finds_total"`
	LastResetDate string `db:"last_reset_date"`
}
