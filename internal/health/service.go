// Package health tracks whether each instance and the notifier are
// reachable.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// ErrorAfter is the number of consecutive failures that turns a warning
// into an error.
const ErrorAfter = 3

const EventUpdated = "health:updated"

// Broadcaster defines the interface for sending WebSocket messages.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// Service manages the health state of all tracked items.
// All state is in-memory and resets on application restart.
type Service struct {
	items       map[HealthCategory]map[string]*HealthItem
	mu          sync.RWMutex
	broadcaster Broadcaster
	clock       clockwork.Clock
	logger      zerolog.Logger
}

// NewService creates a new health service.
func NewService(clock clockwork.Clock, logger zerolog.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Service{
		items:  make(map[HealthCategory]map[string]*HealthItem),
		clock:  clock,
		logger: logger.With().Str("component", "health").Logger(),
	}
	for _, cat := range AllCategories() {
		s.items[cat] = make(map[string]*HealthItem)
	}
	return s
}

// SetBroadcaster sets the WebSocket broadcaster for real-time updates.
func (s *Service) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// RegisterItem adds a new item to health tracking with OK status.
func (s *Service) RegisterItem(category HealthCategory, id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[category]; !ok {
		s.items[category] = make(map[string]*HealthItem)
	}
	s.items[category][id] = &HealthItem{
		ID:       id,
		Category: category,
		Name:     name,
		Status:   StatusOK,
	}
}

// RecordResult updates an item from the outcome of a check. A single
// failure is a warning; ErrorAfter failures in a row are an error. Any
// success clears the item.
func (s *Service) RecordResult(category HealthCategory, id string, err error) {
	s.mu.Lock()

	item, exists := s.items[category][id]
	if !exists {
		s.mu.Unlock()
		s.logger.Warn().
			Str("category", string(category)).
			Str("id", id).
			Msg("Attempted to update status for unregistered item")
		return
	}

	now := s.clock.Now()
	item.LastCheck = &now

	status, message := StatusOK, ""
	if err != nil {
		item.Failures++
		status, message = StatusWarning, err.Error()
		if item.Failures >= ErrorAfter {
			status = StatusError
		}
	} else {
		item.Failures = 0
	}

	if item.Status == status && item.Message == message {
		s.mu.Unlock()
		return
	}

	oldStatus := item.Status
	item.Status = status
	item.Message = message
	if status != StatusOK {
		if oldStatus == StatusOK {
			item.Timestamp = &now
		}
	} else {
		item.Timestamp = nil
	}

	ev := s.logger.Info()
	if status == StatusError {
		ev = s.logger.Warn()
	}
	ev.Str("category", string(category)).
		Str("id", id).
		Str("name", item.Name).
		Str("oldStatus", string(oldStatus)).
		Str("newStatus", string(status)).
		Str("message", message).
		Msg("Health status changed")

	payload := HealthUpdatePayload{
		Category:  item.Category,
		ID:        item.ID,
		Name:      item.Name,
		Status:    item.Status,
		Message:   item.Message,
		Timestamp: item.Timestamp,
	}
	s.mu.Unlock()

	s.broadcastUpdate(payload)
}

// GetItem returns a single item by category and ID.
func (s *Service) GetItem(category HealthCategory, id string) (HealthItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if item, exists := s.items[category][id]; exists {
		return *item, true
	}
	return HealthItem{}, false
}

// GetAll returns every item in category display order, then by name.
func (s *Service) GetAll() []HealthItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []HealthItem
	for _, cat := range AllCategories() {
		items := make([]HealthItem, 0, len(s.items[cat]))
		for _, item := range s.items[cat] {
			items = append(items, *item)
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
		out = append(out, items...)
	}
	return out
}

// GetSummary returns counts per category for the dashboard.
func (s *Service) GetSummary() HealthSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := HealthSummary{Categories: make([]CategorySummary, 0, len(AllCategories()))}
	for _, cat := range AllCategories() {
		catSummary := CategorySummary{Category: cat}
		for _, item := range s.items[cat] {
			switch item.Status {
			case StatusOK:
				catSummary.OK++
			case StatusWarning:
				catSummary.Warning++
			case StatusError:
				catSummary.Error++
			}
		}
		if catSummary.HasIssues() {
			summary.HasIssues = true
		}
		summary.Categories = append(summary.Categories, catSummary)
	}
	return summary
}

// IsHealthy returns true if the specified item is OK.
func (s *Service) IsHealthy(category HealthCategory, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if item, exists := s.items[category][id]; exists {
		return item.Status == StatusOK
	}
	return false
}

func (s *Service) broadcastUpdate(payload HealthUpdatePayload) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Broadcast(EventUpdated, payload); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to broadcast health update")
	}
}

// InstanceID is the health item ID of an instance.
func InstanceID(source, name string) string {
	return source + ":" + name
}

// Since reports how long an item has been unhealthy.
func (h HealthItem) Since(now time.Time) time.Duration {
	if h.Timestamp == nil {
		return 0
	}
	return now.Sub(*h.Timestamp)
}
