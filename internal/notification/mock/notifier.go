// Package mock provides a notifier that logs and keeps messages in memory.
// It stands in for email when delivery is disabled, so digests remain
// visible in the logs and the API.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const maxRecords = 100

// EventSent is broadcast for every recorded message.
const EventSent = "notification:sent"

// NotificationRecord stores a sent notification for preview.
type NotificationRecord struct {
	ID      int64     `json:"id"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sentAt"`
}

// Broadcaster interface for sending WebSocket events
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// Notifier records instead of delivering.
type Notifier struct {
	clock  clockwork.Clock
	logger zerolog.Logger

	mu          sync.RWMutex
	records     []NotificationRecord
	nextID      int64
	broadcaster Broadcaster
	// Err, when set, fails every Send.
	Err error
}

// New creates a mock notifier. A nil clock uses the wall clock.
func New(clock clockwork.Clock, logger zerolog.Logger) *Notifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Notifier{
		clock:  clock,
		logger: logger.With().Str("component", "notifier").Str("notifier", "log").Logger(),
		nextID: 1,
	}
}

// SetBroadcaster sets the WebSocket broadcaster for real-time updates
func (n *Notifier) SetBroadcaster(b Broadcaster) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcaster = b
}

// Name identifies the notifier.
func (n *Notifier) Name() string {
	return "log"
}

// Send records the message.
func (n *Notifier) Send(_ context.Context, subject, body string) error {
	n.mu.Lock()
	if n.Err != nil {
		err := n.Err
		n.mu.Unlock()
		return err
	}
	rec := NotificationRecord{
		ID:      n.nextID,
		Subject: subject,
		Body:    body,
		SentAt:  n.clock.Now(),
	}
	n.nextID++
	n.records = append(n.records, rec)
	if len(n.records) > maxRecords {
		n.records = n.records[len(n.records)-maxRecords:]
	}
	b := n.broadcaster
	n.mu.Unlock()

	n.logger.Info().Str("subject", subject).Msg("Notification recorded")
	if b != nil {
		_ = b.Broadcast(EventSent, rec)
	}
	return nil
}

// GetRecords returns all stored notification records
func (n *Notifier) GetRecords() []NotificationRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()

	records := make([]NotificationRecord, len(n.records))
	copy(records, n.records)
	return records
}
