// Package queuemonitor detects stuck downloads and resolves them.
package queuemonitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/intervention"
)

var (
	ErrUnknownEntry  = errors.New("queue entry not tracked")
	ErrInvalidAction = errors.New("invalid queue action")
)

// EventResolved is broadcast after a stuck entry was resolved.
const EventResolved = "queue:resolved"

// Broadcaster is the interface for broadcasting live events.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// Config controls automatic resolution.
type Config struct {
	// AutoResolve is the global switch.
	AutoResolve      bool           `mapstructure:"auto_resolve" json:"autoResolve"`
	WaitBeforeAction time.Duration  `mapstructure:"wait_before_action" json:"waitBeforeAction"`
	Issues           map[Issue]bool `mapstructure:"issues" json:"issues"`
}

// DefaultConfig enables auto-resolution with a 30 minute wait.
func DefaultConfig() Config {
	return Config{
		AutoResolve:      true,
		WaitBeforeAction: 30 * time.Minute,
		Issues:           DefaultAutoResolve(),
	}
}

// StuckEntry is one problematic queue entry.
type StuckEntry struct {
	Source        arr.Source          `json:"source"`
	Instance      string              `json:"instance"`
	QueueID       int64               `json:"queueId"`
	ItemID        int64               `json:"itemId"`
	ParentID      int64               `json:"parentId,omitempty"`
	Title         string              `json:"title"`
	Status        string              `json:"status"`
	TrackedStatus string              `json:"trackedStatus"`
	TrackedState  string              `json:"trackedState,omitempty"`
	Messages      []string            `json:"messages"`
	Issues        []Issue             `json:"issues"`
	FirstDetected time.Time           `json:"firstDetected"`
	LastSeen      time.Time           `json:"lastSeen"`
	AutoResolve   bool                `json:"autoResolve"`
	Action        intervention.Action `json:"action,omitempty"`
	// Blocker explains why the entry is not auto-resolvable.
	Blocker string `json:"blocker,omitempty"`
	Ignored bool   `json:"ignored"`
}

// Key returns the source:instance:queue_id tracking key.
func (e *StuckEntry) Key() string {
	return entryKey(e.Source, e.Instance, e.QueueID)
}

// StuckFor returns how long the entry has been stuck.
func (e *StuckEntry) StuckFor(now time.Time) time.Duration {
	return now.Sub(e.FirstDetected)
}

func entryKey(source arr.Source, instance string, queueID int64) string {
	return fmt.Sprintf("%s:%s:%d", source, instance, queueID)
}

// Resolution describes one executed resolution.
type Resolution struct {
	Source   arr.Source          `json:"source"`
	Instance string              `json:"instance"`
	QueueID  int64               `json:"queueId"`
	ItemID   int64               `json:"itemId"`
	ParentID int64               `json:"parentId,omitempty"`
	Title    string              `json:"title"`
	Action   intervention.Action `json:"action"`
	Issues   []Issue             `json:"issues,omitempty"`
	Manual   bool                `json:"manual"`
}

// PollResult summarizes one Poll.
type PollResult struct {
	Stuck    int          `json:"stuck"`
	Resolved []Resolution `json:"resolved"`
	Failed   int          `json:"failed"`
	Cleaned  int          `json:"cleaned"`
}

// Stats summarizes the monitor.
type Stats struct {
	Tracked           int           `json:"tracked"`
	AutoResolvable    int           `json:"autoResolvable"`
	NeedsAttention    int           `json:"needsAttention"`
	ResolvedTotal     int           `json:"resolvedTotal"`
	ByIssue           map[Issue]int `json:"byIssue"`
	AutoResolveActive bool          `json:"autoResolveActive"`
}

// Monitor tracks stuck entries across all instances. Entries are rebuilt
// from the live queue and are not persisted.
type Monitor struct {
	cfg           Config
	interventions *intervention.Service
	clock         clockwork.Clock
	logger        zerolog.Logger
	broadcaster   Broadcaster
	onResolved    []func(Resolution)

	mu       sync.Mutex
	entries  map[string]*StuckEntry
	resolved int
}

// New creates a monitor.
func New(cfg Config, interventions *intervention.Service, clock clockwork.Clock, logger zerolog.Logger) *Monitor {
	if cfg.WaitBeforeAction < 0 {
		cfg.WaitBeforeAction = 0
	}
	if cfg.Issues == nil {
		cfg.Issues = DefaultAutoResolve()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{
		cfg:           cfg,
		interventions: interventions,
		clock:         clock,
		logger:        logger.With().Str("component", "queuemonitor").Logger(),
		entries:       make(map[string]*StuckEntry),
	}
}

// SetBroadcaster sets the live event sink.
func (m *Monitor) SetBroadcaster(b Broadcaster) {
	m.broadcaster = b
}

// OnResolved registers a callback run after every successful resolution.
func (m *Monitor) OnResolved(fn func(Resolution)) {
	m.onResolved = append(m.onResolved, fn)
}

// problematic reports whether a queue entry needs tracking and returns its
// issue tags, falling back to generic tags when no message matched.
func problematic(q arr.QueueEntry) ([]Issue, bool) {
	issues := ParseIssues(q.Messages)
	tracked := strings.ToLower(q.TrackedStatus)
	status := strings.ToLower(q.Status)

	bad := len(issues) > 0 ||
		tracked == "warning" || tracked == "error" ||
		status == "delay" || status == "warning" || status == "failed"
	if !bad {
		return nil, false
	}
	if len(issues) == 0 {
		switch {
		case tracked == "error" || status == "failed":
			issues = []Issue{IssueDownloadFailed}
		case tracked == "warning" || status == "warning":
			issues = []Issue{IssueWarning}
		case status == "delay":
			issues = []Issue{IssueDelay}
		}
	}
	return issues, true
}

// evaluate picks the resolution for an entry: the first issue with an
// enabled automatic action wins.
func (m *Monitor) evaluate(e *StuckEntry) {
	e.AutoResolve = false
	e.Action = ""
	e.Blocker = ""

	if !m.cfg.AutoResolve {
		e.Blocker = "Auto-resolution is disabled"
		return
	}
	for _, issue := range e.Issues {
		action, ok := ActionFor(issue)
		if !ok {
			if e.Blocker == "" {
				e.Blocker = fmt.Sprintf("Issue '%s' requires manual resolution", issue)
			}
			continue
		}
		if !m.cfg.Issues[issue] {
			if e.Blocker == "" {
				e.Blocker = fmt.Sprintf("Auto-resolution disabled for '%s' in settings", issue)
			}
			continue
		}
		e.AutoResolve = true
		e.Action = action
		e.Blocker = ""
		return
	}
}

// Observe records the problematic entries of one instance's queue. First
// sightings are stamped with the current time; later sightings refresh the
// entry but keep FirstDetected.
func (m *Monitor) Observe(source arr.Source, instance string, queue []arr.QueueEntry) []StuckEntry {
	now := m.clock.Now()
	var needsHuman []StuckEntry
	var observed []StuckEntry
	var recovered []int64

	m.mu.Lock()
	for _, q := range queue {
		issues, bad := problematic(q)
		key := entryKey(source, instance, q.ID)
		if !bad {
			if _, ok := m.entries[key]; ok {
				delete(m.entries, key)
				recovered = append(recovered, q.ID)
			}
			continue
		}

		e, ok := m.entries[key]
		if !ok {
			e = &StuckEntry{
				Source:        source,
				Instance:      instance,
				QueueID:       q.ID,
				FirstDetected: now,
			}
			m.entries[key] = e
			m.logger.Info().
				Str("source", string(source)).
				Str("instance", instance).
				Int64("queueId", q.ID).
				Str("title", q.Title).
				Interface("issues", issues).
				Msg("Stuck download detected")
		}
		e.ItemID = q.ItemID
		e.ParentID = q.ParentID
		e.Title = q.Title
		e.Status = q.Status
		e.TrackedStatus = q.TrackedStatus
		e.TrackedState = q.TrackedState
		e.Messages = append([]string(nil), q.Messages...)
		e.Issues = issues
		e.LastSeen = now
		m.evaluate(e)

		if !e.AutoResolve && !e.Ignored {
			needsHuman = append(needsHuman, *e)
		}
		observed = append(observed, *e)
	}
	m.mu.Unlock()

	for _, id := range recovered {
		m.interventions.RemoveFor(intervention.TypeStuckQueue, source, instance, id)
	}
	for i := range needsHuman {
		m.raise(&needsHuman[i])
	}
	return observed
}

func (m *Monitor) raise(e *StuckEntry) {
	issues := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		issues[i] = string(is)
	}
	m.interventions.Upsert(intervention.Entry{
		Type:     intervention.TypeStuckQueue,
		Source:   e.Source,
		Instance: e.Instance,
		ItemID:   e.QueueID,
		ParentID: e.ParentID,
		Title:    e.Title,
		Reason:   e.Blocker,
		Urgency:  intervention.UrgencyHigh,
		Details: map[string]any{
			"contentItemId": e.ItemID,
			"issues":        issues,
			"messages":      e.Messages,
			"status":        e.Status,
			"trackedStatus": e.TrackedStatus,
		},
	})
}

// Cleanup drops entries of one instance whose queue ID is no longer live,
// together with their stuck_queue interventions.
func (m *Monitor) Cleanup(source arr.Source, instance string, live map[int64]bool) int {
	m.mu.Lock()
	removed := 0
	for key, e := range m.entries {
		if e.Source != source || e.Instance != instance || live[e.QueueID] {
			continue
		}
		delete(m.entries, key)
		removed++
		m.logger.Info().Str("title", e.Title).Int64("queueId", e.QueueID).
			Msg("Stuck download left the queue")
	}
	m.mu.Unlock()

	removed += m.interventions.RemoveWhere(intervention.TypeStuckQueue, func(e intervention.Entry) bool {
		return e.Source == source && e.Instance == instance && !live[e.ItemID]
	})
	return removed
}

// Due returns a copy of the entries of one instance whose automatic
// resolution may fire now.
func (m *Monitor) Due(source arr.Source, instance string) []StuckEntry {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StuckEntry
	for _, e := range m.entries {
		if e.Source != source || e.Instance != instance {
			continue
		}
		if !e.AutoResolve || e.Ignored || e.StuckFor(now) < m.cfg.WaitBeforeAction {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstDetected.Before(out[j].FirstDetected) })
	return out
}

// Poll runs one monitoring pass for an instance over an already fetched
// queue: observe, clean up, then resolve what is due.
func (m *Monitor) Poll(ctx context.Context, svc arr.Service, queue []arr.QueueEntry) PollResult {
	source, instance := svc.Source(), svc.Name()

	observed := m.Observe(source, instance, queue)
	live := make(map[int64]bool, len(queue))
	for _, q := range queue {
		live[q.ID] = true
	}
	res := PollResult{Stuck: len(observed), Cleaned: m.Cleanup(source, instance, live)}

	for _, e := range m.Due(source, instance) {
		if ctx.Err() != nil {
			break
		}
		r, err := m.resolve(ctx, svc, e, e.Action, false)
		if err != nil {
			m.logger.Warn().Err(err).Str("title", e.Title).Int64("queueId", e.QueueID).
				Msg("Failed to auto-resolve stuck download")
			res.Failed++
			continue
		}
		res.Resolved = append(res.Resolved, r)
	}
	return res
}

func deleteOptions(action intervention.Action) (arr.DeleteOptions, error) {
	switch action {
	case intervention.ActionBlocklistRetry:
		return arr.DeleteOptions{RemoveFromClient: true, Blocklist: true, SkipRedownload: false}, nil
	case intervention.ActionRemove:
		return arr.DeleteOptions{RemoveFromClient: true, Blocklist: false, SkipRedownload: true}, nil
	}
	return arr.DeleteOptions{}, fmt.Errorf("%w: %s", ErrInvalidAction, action)
}

// resolve deletes the queue item and forgets the entry on success.
func (m *Monitor) resolve(ctx context.Context, svc arr.Service, e StuckEntry, action intervention.Action, manual bool) (Resolution, error) {
	opts, err := deleteOptions(action)
	if err != nil {
		return Resolution{}, err
	}
	if err := svc.DeleteQueueItem(ctx, e.QueueID, opts); err != nil {
		return Resolution{}, fmt.Errorf("delete queue item %d: %w", e.QueueID, err)
	}

	m.mu.Lock()
	delete(m.entries, e.Key())
	m.resolved++
	m.mu.Unlock()
	m.interventions.RemoveFor(intervention.TypeStuckQueue, e.Source, e.Instance, e.QueueID)

	r := Resolution{
		Source:   e.Source,
		Instance: e.Instance,
		QueueID:  e.QueueID,
		ItemID:   e.ItemID,
		ParentID: e.ParentID,
		Title:    e.Title,
		Action:   action,
		Issues:   e.Issues,
		Manual:   manual,
	}
	m.logger.Info().
		Str("source", string(e.Source)).
		Str("instance", e.Instance).
		Int64("queueId", e.QueueID).
		Str("title", e.Title).
		Str("action", string(action)).
		Bool("manual", manual).
		Msg("Stuck download resolved")

	if m.broadcaster != nil {
		if err := m.broadcaster.Broadcast(EventResolved, r); err != nil {
			m.logger.Debug().Err(err).Msg("Failed to broadcast resolution")
		}
	}
	for _, fn := range m.onResolved {
		fn(r)
	}
	return r, nil
}

// ResolveManual applies a user's choice to a queue entry. Entries that are
// no longer tracked, for example after a restart, can still be removed by
// queue ID.
func (m *Monitor) ResolveManual(ctx context.Context, svc arr.Service, queueID int64, action intervention.Action) (Resolution, error) {
	source, instance := svc.Source(), svc.Name()
	key := entryKey(source, instance, queueID)

	m.mu.Lock()
	tracked, ok := m.entries[key]
	var e StuckEntry
	if ok {
		e = *tracked
	} else {
		e = StuckEntry{Source: source, Instance: instance, QueueID: queueID}
	}
	m.mu.Unlock()

	switch action {
	case intervention.ActionIgnore:
		m.mu.Lock()
		if tracked, ok := m.entries[key]; ok {
			tracked.Ignored = true
		}
		m.mu.Unlock()
		removed := m.interventions.RemoveFor(intervention.TypeStuckQueue, source, instance, queueID)
		if !ok && !removed {
			return Resolution{}, fmt.Errorf("%w: %s", ErrUnknownEntry, key)
		}
		return Resolution{Source: source, Instance: instance, QueueID: queueID, ItemID: e.ItemID,
			Title: e.Title, Action: action, Manual: true}, nil
	case intervention.ActionBlocklistRetry, intervention.ActionRemove:
		if !ok {
			if in, found := m.interventions.Get(intervention.MakeKey(intervention.TypeStuckQueue, source, instance, queueID)); found {
				e.Title = in.Title
				e.ParentID = in.ParentID
				e.ItemID = detailID(in.Details["contentItemId"])
			}
		}
		return m.resolve(ctx, svc, e, action, true)
	}
	return Resolution{}, fmt.Errorf("%w: %s", ErrInvalidAction, action)
}

// detailID reads an ID stored in intervention details, which is a float64
// once it has been through JSON.
func detailID(v any) int64 {
	switch id := v.(type) {
	case int64:
		return id
	case float64:
		return int64(id)
	case int:
		return int64(id)
	}
	return 0
}

// Entries returns every tracked entry, longest stuck first.
func (m *Monitor) Entries() []StuckEntry {
	m.mu.Lock()
	out := make([]StuckEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstDetected.Equal(out[j].FirstDetected) {
			return out[i].FirstDetected.Before(out[j].FirstDetected)
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

// Get returns one tracked entry.
func (m *Monitor) Get(source arr.Source, instance string, queueID int64) (StuckEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryKey(source, instance, queueID)]
	if !ok {
		return StuckEntry{}, false
	}
	return *e, true
}

// Stats summarizes the tracked entries.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{
		Tracked:           len(m.entries),
		ResolvedTotal:     m.resolved,
		ByIssue:           make(map[Issue]int),
		AutoResolveActive: m.cfg.AutoResolve,
	}
	for _, e := range m.entries {
		if e.AutoResolve && !e.Ignored {
			st.AutoResolvable++
		} else {
			st.NeedsAttention++
		}
		for _, is := range e.Issues {
			st.ByIssue[is]++
		}
	}
	return st
}
