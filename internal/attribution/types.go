// Package attribution proves which downloads were caused by our own searches.
//
// A search is tracked by exact item ID before its command fires. A queue
// entry for the same item inside the match window makes it a pending find,
// and the pending find is confirmed once the item reports a file. Known-causal
// resolutions (auto-resolved stuck downloads, manual grabs) skip the
// candidate step and are recorded directly.
package attribution

import (
	"context"
	"fmt"
	"time"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/tiers"
)

// EventFindConfirmed is broadcast for every recorded find.
const EventFindConfirmed = "find:confirmed"

// ResolutionType says what caused a find.
type ResolutionType string

const (
	ResolutionSearch      ResolutionType = "search"
	ResolutionAutoResolve ResolutionType = "auto_resolve"
	ResolutionManualGrab  ResolutionType = "manual_grab"
	ResolutionManual      ResolutionType = "manual"
)

// Valid reports whether r is a known resolution type.
func (r ResolutionType) Valid() bool {
	switch r {
	case ResolutionSearch, ResolutionAutoResolve, ResolutionManualGrab, ResolutionManual:
		return true
	}
	return false
}

// Key builds the source:instance:item_id dedup key.
func Key(source arr.Source, instance string, itemID int64) string {
	return fmt.Sprintf("%s:%s:%d", source, instance, itemID)
}

// TrackedSearch records that we searched for an item.
type TrackedSearch struct {
	Source     arr.Source     `json:"source"`
	Instance   string         `json:"instance"`
	ItemID     int64          `json:"itemId"`
	ParentID   int64          `json:"parentId,omitempty"`
	Title      string         `json:"title"`
	Tier       tiers.Tier     `json:"tier"`
	SearchType arr.SearchType `json:"searchType"`
	SearchedAt time.Time      `json:"searchedAt"`
}

// Key returns the dedup key.
func (t TrackedSearch) Key() string {
	return Key(t.Source, t.Instance, t.ItemID)
}

// PendingFind is a tracked search whose item showed up in the queue.
type PendingFind struct {
	TrackedSearch
	QueueID   int64     `json:"queueId"`
	Indexer   string    `json:"indexer,omitempty"`
	Quality   string    `json:"quality,omitempty"`
	GrabbedAt time.Time `json:"grabbedAt"`
}

// Watch is a known-causal resolution waiting for the item to get a file.
type Watch struct {
	Source         arr.Source     `json:"source"`
	Instance       string         `json:"instance"`
	ItemID         int64          `json:"itemId"`
	Title          string         `json:"title"`
	Tier           tiers.Tier     `json:"tier"`
	ResolutionType ResolutionType `json:"resolutionType"`
	// HadFile marks an upgrade: the item must re-enter and leave the
	// queue before its file counts.
	HadFile   bool      `json:"hadFile"`
	Requeued  bool      `json:"requeued"`
	StartedAt time.Time `json:"startedAt"`
}

// Key returns the dedup key.
func (w Watch) Key() string {
	return Key(w.Source, w.Instance, w.ItemID)
}

// Find is a confirmed acquisition.
type Find struct {
	ID             string         `json:"id"`
	Source         arr.Source     `json:"source"`
	Instance       string         `json:"instance"`
	ItemID         int64          `json:"itemId"`
	ParentID       int64          `json:"parentId,omitempty"`
	Title          string         `json:"title"`
	Tier           tiers.Tier     `json:"tier"`
	SearchType     arr.SearchType `json:"searchType,omitempty"`
	ResolutionType ResolutionType `json:"resolutionType"`
	Indexer        string         `json:"indexer,omitempty"`
	Quality        string         `json:"quality,omitempty"`
	SearchedAt     *time.Time     `json:"searchedAt,omitempty"`
	FoundAt        time.Time      `json:"foundAt"`
}

// Key returns the dedup key.
func (f Find) Key() string {
	return Key(f.Source, f.Instance, f.ItemID)
}

// ManualFind describes a find recorded outside the search pipeline.
type ManualFind struct {
	Source         arr.Source     `json:"source"`
	Instance       string         `json:"instance"`
	ItemID         int64          `json:"itemId"`
	ParentID       int64          `json:"parentId,omitempty"`
	Title          string         `json:"title"`
	Tier           tiers.Tier     `json:"tier"`
	ResolutionType ResolutionType `json:"resolutionType"`
}

// ItemGetter looks up the current state of an item.
type ItemGetter interface {
	GetItem(ctx context.Context, id int64) (*arr.ContentItem, error)
}

// Broadcaster is the interface for broadcasting live events.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// Config holds the attribution windows and caps.
type Config struct {
	// MatchWindow bounds how long after a search a queue entry still counts.
	MatchWindow time.Duration `mapstructure:"match_window" json:"matchWindow"`
	// ConfirmTimeout discards pending finds and watches that never confirm.
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" json:"confirmTimeout"`
	MaxFinds       int           `mapstructure:"max_finds" json:"maxFinds"`
	MaxCredited    int           `mapstructure:"max_credited" json:"maxCredited"`
}

// DefaultConfig returns a 2h match window, a 24h confirm timeout, 1000 finds
// and 5000 credited items.
func DefaultConfig() Config {
	return Config{
		MatchWindow:    2 * time.Hour,
		ConfirmTimeout: 24 * time.Hour,
		MaxFinds:       1000,
		MaxCredited:    5000,
	}
}

// Stats summarizes attribution.
type Stats struct {
	Today            int                    `json:"today"`
	Total            int                    `json:"total"`
	ByTier           map[tiers.Tier]int     `json:"byTier"`
	ByResolution     map[ResolutionType]int `json:"byResolution"`
	AvgSecondsToFind float64                `json:"avgSecondsToFind"`
	Tracked          int                    `json:"tracked"`
	Pending          int                    `json:"pending"`
	Watching         int                    `json:"watching"`
	Credited         int                    `json:"credited"`
}

// VerifyResult reports one Verify pass.
type VerifyResult struct {
	Confirmed []Find `json:"confirmed"`
	Dropped   int    `json:"dropped"`
	Errors    int    `json:"errors"`
}
