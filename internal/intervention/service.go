package intervention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/persist"
	"github.com/machinarr/machinarr/internal/store"
	"github.com/machinarr/machinarr/internal/tiers"
)

// ErrNotFound is returned for unknown keys.
var ErrNotFound = errors.New("intervention not found")

// Broadcaster is the interface for broadcasting live events.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

const (
	EventCreated = "intervention:created"
	EventRemoved = "intervention:removed"
)

// Service owns all intervention entries.
type Service struct {
	mu          sync.RWMutex
	entries     map[string]*Entry
	clock       clockwork.Clock
	logger      zerolog.Logger
	broadcaster Broadcaster
	queries     *store.Queries
	dirty       persist.DirtyCounter
}

// NewService creates an empty store.
func NewService(clock clockwork.Clock, logger zerolog.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		entries: make(map[string]*Entry),
		clock:   clock,
		logger:  logger.With().Str("component", "interventions").Logger(),
	}
}

// SetBroadcaster sets the live event sink.
func (s *Service) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// SetStore enables persistence.
func (s *Service) SetStore(q *store.Queries) {
	s.queries = q
}

func (s *Service) broadcast(event string, payload any) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Broadcast(event, payload); err != nil {
		s.logger.Debug().Err(err).Str("event", event).Msg("Failed to broadcast")
	}
}

// Upsert creates the entry or refreshes an existing one with the same key.
// It returns true when a new entry was created.
func (s *Service) Upsert(e Entry) bool {
	now := s.clock.Now()
	key := e.Key()
	if len(e.Actions) == 0 {
		e.Actions = DefaultActions(e.Type)
	}

	s.mu.Lock()
	existing, ok := s.entries[key]
	if ok {
		changed := existing.Reason != e.Reason || existing.Title != e.Title || existing.Urgency != e.Urgency
		existing.Title = e.Title
		existing.Tier = e.Tier
		existing.Reason = e.Reason
		existing.Urgency = e.Urgency
		existing.Actions = e.Actions
		existing.Details = e.Details
		existing.ParentID = e.ParentID
		if changed {
			existing.UpdatedAt = now
		}
		s.mu.Unlock()
		if changed {
			s.dirty.Mark()
		}
		return false
	}

	e.ID = uuid.NewString()
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Notified = false
	s.entries[key] = &e
	created := e
	s.mu.Unlock()
	s.dirty.Mark()

	s.logger.Info().
		Str("type", string(e.Type)).
		Str("source", string(e.Source)).
		Str("instance", e.Instance).
		Int64("itemId", e.ItemID).
		Str("urgency", string(e.Urgency)).
		Str("reason", e.Reason).
		Msg("Intervention raised")
	s.broadcast(EventCreated, created)
	return true
}

// Get returns a copy of the entry for key.
func (s *Service) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Has reports whether an entry exists for the given identity.
func (s *Service) Has(t Type, source arr.Source, instance string, itemID int64) bool {
	_, ok := s.Get(MakeKey(t, source, instance, itemID))
	return ok
}

// List returns all entries, high urgency first then newest first.
func (s *Service) List() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Urgency != out[j].Urgency {
			return out[i].Urgency == UrgencyHigh
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

// Remove deletes the entry for key.
func (s *Service) Remove(key string) bool {
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.dirty.Mark()
	s.broadcast(EventRemoved, map[string]any{"key": key, "id": e.ID, "type": e.Type})
	return true
}

// RemoveFor deletes the entry of type t for one item.
func (s *Service) RemoveFor(t Type, source arr.Source, instance string, itemID int64) bool {
	return s.Remove(MakeKey(t, source, instance, itemID))
}

// RemoveWhere deletes entries of type t for which drop returns true and
// returns how many were removed.
func (s *Service) RemoveWhere(t Type, drop func(Entry) bool) int {
	s.mu.RLock()
	var keys []string
	for k, e := range s.entries {
		if e.Type == t && drop(*e) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, k := range keys {
		if s.Remove(k) {
			removed++
		}
	}
	return removed
}

// Pending returns high-urgency entries not yet included in a notification.
func (s *Service) Pending() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if !e.Notified && e.Urgency == UrgencyHigh {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// MarkNotified flags entries as included in a notification.
func (s *Service) MarkNotified(keys []string) {
	s.mu.Lock()
	for _, k := range keys {
		if e, ok := s.entries[k]; ok {
			e.Notified = true
		}
	}
	s.mu.Unlock()
	s.dirty.Mark()
}

// Counts returns the number of entries per type.
func (s *Service) Counts() map[Type]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Type]int)
	for _, e := range s.entries {
		out[e.Type]++
	}
	return out
}

// Name implements persist.Snapshotter.
func (s *Service) Name() string {
	return "interventions"
}

// Dirty returns the number of unsaved mutations.
func (s *Service) Dirty() int {
	return s.dirty.Count()
}

// Save writes every entry.
func (s *Service) Save(ctx context.Context) error {
	seen := s.dirty.Count()
	if s.queries == nil {
		s.dirty.Settle(seen)
		return nil
	}

	s.mu.RLock()
	rows := make([]store.InterventionRow, 0, len(s.entries))
	for key, e := range s.entries {
		actions, _ := json.Marshal(e.Actions)
		details, _ := json.Marshal(e.Details)
		rows = append(rows, store.InterventionRow{
			Key:       key,
			ID:        e.ID,
			Type:      string(e.Type),
			Source:    string(e.Source),
			Instance:  e.Instance,
			ItemID:    e.ItemID,
			ParentID:  e.ParentID,
			Title:     e.Title,
			Tier:      string(e.Tier),
			Reason:    e.Reason,
			Urgency:   string(e.Urgency),
			Actions:   string(actions),
			Details:   string(details),
			Notified:  e.Notified,
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		})
	}
	s.mu.RUnlock()

	if err := s.queries.ReplaceInterventions(ctx, rows); err != nil {
		return fmt.Errorf("save interventions: %w", err)
	}
	s.dirty.Settle(seen)
	return nil
}

// Load replaces in-memory entries with the persisted ones.
func (s *Service) Load(ctx context.Context) error {
	if s.queries == nil {
		return nil
	}
	rows, err := s.queries.ListInterventions(ctx)
	if err != nil {
		return fmt.Errorf("load interventions: %w", err)
	}

	entries := make(map[string]*Entry, len(rows))
	for _, r := range rows {
		e := &Entry{
			ID:        r.ID,
			Type:      Type(r.Type),
			Source:    arr.Source(r.Source),
			Instance:  r.Instance,
			ItemID:    r.ItemID,
			ParentID:  r.ParentID,
			Title:     r.Title,
			Tier:      tiers.Tier(r.Tier),
			Reason:    r.Reason,
			Urgency:   Urgency(r.Urgency),
			Notified:  r.Notified,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		}
		if err := json.Unmarshal([]byte(r.Actions), &e.Actions); err != nil {
			s.logger.Warn().Err(err).Str("key", e.Key()).Msg("Failed to decode intervention actions, using defaults")
		}
		if len(e.Actions) == 0 {
			e.Actions = DefaultActions(e.Type)
		}
		if r.Details != "" && r.Details != "null" {
			if err := json.Unmarshal([]byte(r.Details), &e.Details); err != nil {
				s.logger.Warn().Err(err).Str("key", e.Key()).Msg("Failed to decode intervention details, dropping them")
				e.Details = nil
			}
		}
		entries[e.Key()] = e
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	s.logger.Info().Int("count", len(entries)).Msg("Loaded interventions")
	return nil
}
