// Package intervention keeps the list of items that need a human decision.
package intervention

import (
	"fmt"
	"time"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/tiers"
)

// Type is what raised the intervention.
type Type string

const (
	TypeSearchExhausted  Type = "search_exhausted"
	TypeLongMissing      Type = "long_missing"
	TypeStuckQueue       Type = "stuck_queue"
	TypeReleaseAvailable Type = "release_available"
)

// Urgency orders the list.
type Urgency string

const (
	UrgencyHigh Urgency = "high"
	UrgencyLow  Urgency = "low"
)

// Action is something a user can do about an entry.
type Action string

const (
	ActionDismiss        Action = "dismiss"
	ActionResetSearch    Action = "reset_search"
	ActionDelay          Action = "delay"
	ActionStopSearching  Action = "stop_searching"
	ActionDelete         Action = "delete"
	ActionBlocklistRetry Action = "blocklist_retry"
	ActionRemove         Action = "remove"
	ActionIgnore         Action = "ignore"
	ActionGrabAnyway     Action = "grab_anyway"
	ActionKeepSearching  Action = "keep_searching"
)

// DefaultActions returns the actions offered for each type.
func DefaultActions(t Type) []Action {
	switch t {
	case TypeStuckQueue:
		return []Action{ActionBlocklistRetry, ActionRemove, ActionIgnore}
	case TypeReleaseAvailable:
		return []Action{ActionGrabAnyway, ActionKeepSearching, ActionStopSearching}
	case TypeLongMissing:
		return []Action{ActionDismiss, ActionResetSearch, ActionStopSearching, ActionDelete}
	default:
		return []Action{ActionDismiss, ActionResetSearch, ActionDelay, ActionStopSearching, ActionDelete}
	}
}

// Entry is one human-actionable flag.
type Entry struct {
	ID       string     `json:"id"`
	Type     Type       `json:"type"`
	Source   arr.Source `json:"source"`
	Instance string     `json:"instance"`
	// ItemID is the content item ID, or the queue ID for stuck_queue.
	ItemID    int64          `json:"itemId"`
	ParentID  int64          `json:"parentId,omitempty"`
	Title     string         `json:"title"`
	Tier      tiers.Tier     `json:"tier,omitempty"`
	Reason    string         `json:"reason"`
	Urgency   Urgency        `json:"urgency"`
	Actions   []Action       `json:"actions"`
	Details   map[string]any `json:"details,omitempty"`
	Notified  bool           `json:"notified"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Key returns the dedup key of the entry.
func (e *Entry) Key() string {
	return MakeKey(e.Type, e.Source, e.Instance, e.ItemID)
}

// Allows reports whether a is offered for this entry.
func (e *Entry) Allows(a Action) bool {
	for _, x := range e.Actions {
		if x == a {
			return true
		}
	}
	return false
}

// MakeKey builds the (type, source, instance, item) dedup key.
func MakeKey(t Type, source arr.Source, instance string, itemID int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", t, source, instance, itemID)
}
