package intervention

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/testutil"
	"github.com/machinarr/machinarr/internal/tiers"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingBroadcaster) Broadcast(msgType string, _ interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, msgType)
	return nil
}

func exhausted(itemID int64, reason string) Entry {
	return Entry{
		Type:     TypeSearchExhausted,
		Source:   arr.SourceSonarr,
		Instance: "main",
		ItemID:   itemID,
		Title:    "Show - S01E01",
		Tier:     tiers.Hot,
		Reason:   reason,
		Urgency:  UrgencyHigh,
	}
}

func TestUpsert_Dedup(t *testing.T) {
	fc := clockwork.NewFakeClock()
	b := &recordingBroadcaster{}
	svc := NewService(fc, testutil.NopLogger())
	svc.SetBroadcaster(b)

	require.True(t, svc.Upsert(exhausted(1, "Searched 24 times")))
	first, ok := svc.Get(MakeKey(TypeSearchExhausted, arr.SourceSonarr, "main", 1))
	require.True(t, ok)

	fc.Advance(time.Hour)
	assert.False(t, svc.Upsert(exhausted(1, "Searched 25 times")))

	got, _ := svc.Get(first.Key())
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, first.CreatedAt, got.CreatedAt)
	assert.Equal(t, "Searched 25 times", got.Reason)
	assert.Len(t, svc.List(), 1)
	assert.Equal(t, []string{EventCreated}, b.events)
	assert.Equal(t, DefaultActions(TypeSearchExhausted), got.Actions)
}

func TestList_Ordering(t *testing.T) {
	fc := clockwork.NewFakeClock()
	svc := NewService(fc, testutil.NopLogger())

	svc.Upsert(Entry{Type: TypeLongMissing, Source: arr.SourceRadarr, Instance: "m", ItemID: 1, Urgency: UrgencyLow})
	fc.Advance(time.Minute)
	svc.Upsert(exhausted(2, "a"))
	fc.Advance(time.Minute)
	svc.Upsert(exhausted(3, "b"))

	list := svc.List()
	require.Len(t, list, 3)
	assert.Equal(t, int64(3), list[0].ItemID)
	assert.Equal(t, int64(2), list[1].ItemID)
	assert.Equal(t, UrgencyLow, list[2].Urgency)
}

func TestRemoveWhere(t *testing.T) {
	svc := NewService(clockwork.NewFakeClock(), testutil.NopLogger())
	svc.Upsert(exhausted(1, "a"))
	svc.Upsert(exhausted(2, "b"))
	svc.Upsert(Entry{Type: TypeStuckQueue, Source: arr.SourceSonarr, Instance: "main", ItemID: 1, Urgency: UrgencyHigh})

	removed := svc.RemoveWhere(TypeSearchExhausted, func(e Entry) bool { return e.ItemID == 1 })
	assert.Equal(t, 1, removed)
	assert.True(t, svc.Has(TypeStuckQueue, arr.SourceSonarr, "main", 1))
	assert.True(t, svc.Has(TypeSearchExhausted, arr.SourceSonarr, "main", 2))
	assert.False(t, svc.Has(TypeSearchExhausted, arr.SourceSonarr, "main", 1))
}

func TestPendingAndMarkNotified(t *testing.T) {
	svc := NewService(clockwork.NewFakeClock(), testutil.NopLogger())
	svc.Upsert(exhausted(1, "a"))
	svc.Upsert(Entry{Type: TypeLongMissing, Source: arr.SourceRadarr, Instance: "m", ItemID: 9, Urgency: UrgencyLow})

	pending := svc.Pending()
	require.Len(t, pending, 1)
	svc.MarkNotified([]string{pending[0].Key()})
	assert.Empty(t, svc.Pending())
}

func TestSaveAndLoad(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()

	fc := clockwork.NewFakeClockAt(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	svc := NewService(fc, tdb.Logger)
	svc.SetStore(tdb.Queries)

	e := exhausted(5, "Searched 8 times")
	e.Details = map[string]any{"searchCount": 8}
	svc.Upsert(e)
	require.Equal(t, 1, svc.Dirty())
	require.NoError(t, svc.Save(context.Background()))
	assert.Equal(t, 0, svc.Dirty())

	restored := NewService(fc, tdb.Logger)
	restored.SetStore(tdb.Queries)
	require.NoError(t, restored.Load(context.Background()))

	list := restored.List()
	require.Len(t, list, 1)
	assert.Equal(t, "Searched 8 times", list[0].Reason)
	assert.Equal(t, UrgencyHigh, list[0].Urgency)
	assert.Equal(t, DefaultActions(TypeSearchExhausted), list[0].Actions)
	assert.EqualValues(t, 8, list[0].Details["searchCount"])
	assert.True(t, list[0].CreatedAt.Equal(fc.Now()))
}

func TestLoad_CorruptDetailsAreLogged(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	fc := clockwork.NewFakeClockAt(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	svc := NewService(fc, tdb.Logger)
	svc.SetStore(tdb.Queries)
	svc.Upsert(exhausted(5, "Searched 8 times"))
	require.NoError(t, svc.Save(ctx))

	_, err := tdb.Conn.ExecContext(ctx, `UPDATE interventions SET details = '{"searchCount":', actions = 'nope'`)
	require.NoError(t, err)

	var buf bytes.Buffer
	restored := NewService(fc, zerolog.New(&buf))
	restored.SetStore(tdb.Queries)
	require.NoError(t, restored.Load(ctx))

	list := restored.List()
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Details)
	assert.Equal(t, DefaultActions(TypeSearchExhausted), list[0].Actions)
	assert.Contains(t, buf.String(), "Failed to decode intervention details")
	assert.Contains(t, buf.String(), "Failed to decode intervention actions")
}
