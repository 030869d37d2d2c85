package searcher

import (
	"fmt"
	"time"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/attribution"
	"github.com/machinarr/machinarr/internal/budget"
	"github.com/machinarr/machinarr/internal/pacing"
	"github.com/machinarr/machinarr/internal/tiers"
)

// Event types broadcast over the websocket hub.
const (
	EventCycleCompleted = "search:cycle:completed"
	EventAttempt        = "search:attempt"
)

// Broadcaster is the interface for broadcasting live events.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// Tracker receives every search before its command is sent.
type Tracker interface {
	TrackSearch(ts attribution.TrackedSearch)
}

// Percentages splits each cycle between tiers.
type Percentages struct {
	Hot  int `mapstructure:"hot" json:"hot"`
	Warm int `mapstructure:"warm" json:"warm"`
	Cool int `mapstructure:"cool" json:"cool"`
	Cold int `mapstructure:"cold" json:"cold"`
}

// DefaultPercentages returns 40/30/20/10.
func DefaultPercentages() Percentages {
	return Percentages{Hot: 40, Warm: 30, Cool: 20, Cold: 10}
}

func (p Percentages) of(t tiers.Tier) int {
	var v int
	switch t {
	case tiers.Hot:
		v = p.Hot
	case tiers.Warm:
		v = p.Warm
	case tiers.Cool:
		v = p.Cool
	case tiers.Cold:
		v = p.Cold
	}
	if v < 0 {
		return 0
	}
	return v
}

// Config controls cycle selection.
type Config struct {
	SearchesPerCycle   int
	Percentages        Percentages
	PreferSeriesSearch bool
	Randomize          bool
	SeriesCooldown     time.Duration
	MilestoneMonths    []int
	RecentLimit        int
	QuietHours         budget.QuietHours
}

// DefaultConfig returns the stock cycle settings.
func DefaultConfig() Config {
	return Config{
		SearchesPerCycle:   10,
		Percentages:        DefaultPercentages(),
		PreferSeriesSearch: true,
		Randomize:          true,
		SeriesCooldown:     6 * time.Hour,
		MilestoneMonths:    []int{1, 3, 6, 12, 18, 24},
		RecentLimit:        500,
		QuietHours:         budget.QuietHours{StartHour: 2, EndHour: 7},
	}
}

// Item is a wanted item classified for this cycle, with its history merged in.
type Item struct {
	arr.ContentItem
	Source         arr.Source `json:"source"`
	Instance       string     `json:"instance"`
	Tier           tiers.Tier `json:"tier"`
	AgeDays        int        `json:"ageDays"`
	SearchCount    int        `json:"searchCount"`
	LastSearchedAt *time.Time `json:"lastSearchedAt,omitempty"`
}

// Key returns the history key of the item.
func (i *Item) Key() string {
	return HistoryKey(i.Source, i.Instance, i.ID)
}

// HistoryKey builds the source:instance:item_id history key.
func HistoryKey(source arr.Source, instance string, itemID int64) string {
	return fmt.Sprintf("%s:%s:%d", source, instance, itemID)
}

func instanceKey(source arr.Source, instance string) string {
	return string(source) + ":" + instance
}

// AttemptState is the lifecycle position after a search attempt.
type AttemptState string

const (
	StateCooldown       AttemptState = "cooldown"
	StateEscalating     AttemptState = "escalating"
	StateNeedsAttention AttemptState = "needs_attention"
	StateError          AttemptState = "error"
	StateFound          AttemptState = "found"
)

// AttemptRecord is the outcome of one search action.
type AttemptRecord struct {
	ID             string         `json:"id"`
	Source         arr.Source     `json:"source"`
	Instance       string         `json:"instance"`
	ItemID         int64          `json:"itemId"`
	ParentID       int64          `json:"parentId,omitempty"`
	Title          string         `json:"title"`
	Tier           tiers.Tier     `json:"tier"`
	SearchType     arr.SearchType `json:"searchType"`
	SeriesSearch   bool           `json:"seriesSearch"`
	Manual         bool           `json:"manual"`
	Success        bool           `json:"success"`
	Message        string         `json:"message"`
	Timestamp      time.Time      `json:"timestamp"`
	Attempt        int            `json:"attempt"`
	MaxAttempts    int            `json:"maxAttempts"`
	Cooldown       time.Duration  `json:"cooldown"`
	NextEligibleAt *time.Time     `json:"nextEligibleAt,omitempty"`
	State          AttemptState   `json:"state"`
}

// TierStats counts items per lifecycle bucket within a tier.
type TierStats struct {
	Total     int `json:"total"`
	Eligible  int `json:"eligible"`
	Cooling   int `json:"cooling"`
	Exhausted int `json:"exhausted"`
	Stopped   int `json:"stopped"`
}

// CycleReport summarizes one RunCycle.
type CycleReport struct {
	StartedAt  time.Time                 `json:"startedAt"`
	FinishedAt time.Time                 `json:"finishedAt"`
	Skipped    string                    `json:"skipped,omitempty"`
	Candidates int                       `json:"candidates"`
	Tiers      map[tiers.Tier]*TierStats `json:"tiers"`
	Selected   int                       `json:"selected"`
	Searched   int                       `json:"searched"`
	Failed     int                       `json:"failed"`
	Milestones int                       `json:"milestones"`
	Cleaned    int                       `json:"cleaned"`
	Pruned     int                       `json:"pruned"`
	FetchErrs  []string                  `json:"fetchErrors,omitempty"`
	Exhausted  []Item                    `json:"-"`
	Wanted     map[string]map[int64]bool `json:"-"`
}

// Stats is the scheduler status exposed over the API.
type Stats struct {
	Preset      pacing.Preset                    `json:"preset"`
	Pacing      map[tiers.Tier]pacing.TierConfig `json:"pacing"`
	Budget      budget.State                     `json:"budget"`
	DailyLimit  int                              `json:"dailyLimit"`
	Remaining   int                              `json:"remaining"`
	QuietHours  bool                             `json:"quietHours"`
	HistorySize int                              `json:"historySize"`
	LastCycle   *CycleReport                     `json:"lastCycle,omitempty"`
}
