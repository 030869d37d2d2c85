package health

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinarr/machinarr/internal/testutil"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []HealthUpdatePayload
}

func (b *recordingBroadcaster) Broadcast(_ string, payload interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, payload.(HealthUpdatePayload))
	return nil
}

func newService(t *testing.T) (*Service, *clockwork.FakeClock, *recordingBroadcaster) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	s := NewService(fc, testutil.NopLogger())
	b := &recordingBroadcaster{}
	s.SetBroadcaster(b)
	s.RegisterItem(CategoryInstances, InstanceID("sonarr", "tv"), "tv")
	return s, fc, b
}

func TestRecordResult_Escalates(t *testing.T) {
	s, fc, b := newService(t)
	id := InstanceID("sonarr", "tv")
	down := errors.New("connection refused")

	s.RecordResult(CategoryInstances, id, down)
	item, ok := s.GetItem(CategoryInstances, id)
	require.True(t, ok)
	assert.Equal(t, StatusWarning, item.Status)
	assert.Equal(t, 1, item.Failures)
	require.NotNil(t, item.Timestamp)
	first := *item.Timestamp

	fc.Advance(time.Minute)
	s.RecordResult(CategoryInstances, id, down)
	fc.Advance(time.Minute)
	s.RecordResult(CategoryInstances, id, down)

	item, _ = s.GetItem(CategoryInstances, id)
	assert.Equal(t, StatusError, item.Status)
	assert.Equal(t, 3, item.Failures)
	assert.Equal(t, first, *item.Timestamp)
	assert.Equal(t, 2*time.Minute, item.Since(fc.Now()))
	assert.False(t, s.IsHealthy(CategoryInstances, id))

	// warning, then error; the repeated warning is not broadcast
	require.Len(t, b.events, 2)
	assert.Equal(t, StatusError, b.events[1].Status)

	s.RecordResult(CategoryInstances, id, nil)
	item, _ = s.GetItem(CategoryInstances, id)
	assert.Equal(t, StatusOK, item.Status)
	assert.Equal(t, 0, item.Failures)
	assert.Nil(t, item.Timestamp)
	assert.Len(t, b.events, 3)
}

func TestRecordResult_Unregistered(t *testing.T) {
	s, _, b := newService(t)
	s.RecordResult(CategoryInstances, "radarr:none", errors.New("x"))
	assert.Empty(t, b.events)
}

func TestSummary(t *testing.T) {
	s, _, _ := newService(t)
	s.RegisterItem(CategoryInstances, InstanceID("radarr", "movies"), "movies")
	s.RegisterItem(CategoryNotifier, "email", "email")

	summary := s.GetSummary()
	assert.False(t, summary.HasIssues)

	s.RecordResult(CategoryNotifier, "email", errors.New("auth failed"))
	summary = s.GetSummary()
	assert.True(t, summary.HasIssues)
	require.Len(t, summary.Categories, 2)
	assert.Equal(t, CategorySummary{Category: CategoryInstances, OK: 2}, summary.Categories[0])
	assert.Equal(t, CategorySummary{Category: CategoryNotifier, Warning: 1}, summary.Categories[1])

	all := s.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, "movies", all[0].Name)
	assert.Equal(t, "tv", all[1].Name)
	assert.Equal(t, "email", all[2].Name)
}

func TestMarshal_OmitsMessageWhenOK(t *testing.T) {
	now := time.Now()
	out, err := json.Marshal(HealthItem{ID: "a", Status: StatusOK, Message: "old", Timestamp: &now})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "old")
	assert.NotContains(t, string(out), "timestamp")
}
