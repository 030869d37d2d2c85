package notification

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/attribution"
	"github.com/machinarr/machinarr/internal/intervention"
	"github.com/machinarr/machinarr/internal/notification/mock"
	"github.com/machinarr/machinarr/internal/testutil"
	"github.com/machinarr/machinarr/internal/tiers"
)

func newDigest(t *testing.T) (*Digest, *mock.Notifier, *intervention.Service) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC))
	iv := intervention.NewService(fc, testutil.NopLogger())
	sender := mock.New(fc, testutil.NopLogger())
	return NewDigest(sender, iv, fc, testutil.NopLogger()), sender, iv
}

func TestFlush_NothingToSend(t *testing.T) {
	d, sender, _ := newDigest(t)
	res, err := d.Flush(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Sent)
	assert.Empty(t, sender.GetRecords())
}

func TestFlush_FindsAndInterventions(t *testing.T) {
	d, sender, iv := newDigest(t)
	d.AddFind(attribution.Find{Title: "Old Movie (1987)", Instance: "movies", Tier: tiers.Cold, ResolutionType: attribution.ResolutionSearch})
	d.AddFind(attribution.Find{Title: "Show - S02E03", Instance: "tv", Tier: tiers.Hot, ResolutionType: attribution.ResolutionAutoResolve})
	iv.Upsert(intervention.Entry{
		Type: intervention.TypeStuckQueue, Source: arr.SourceSonarr, Instance: "tv", ItemID: 9,
		Title: "Broken.Release", Reason: "Issue 'path_not_valid' requires manual resolution", Urgency: intervention.UrgencyHigh,
	})
	iv.Upsert(intervention.Entry{
		Type: intervention.TypeReleaseAvailable, Source: arr.SourceRadarr, Instance: "movies", ItemID: 3,
		Title: "Low", Reason: "1 release(s) available but rejected", Urgency: intervention.UrgencyLow,
	})

	res, err := d.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: true, Finds: 2, Interventions: 1}, res)

	records := sender.GetRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "2 new finds, 1 item needs attention", records[0].Subject)
	body := records[0].Body
	assert.Contains(t, body, "[HOT] Show - S02E03 (tv, auto_resolve)")
	assert.Contains(t, body, "[COLD] Old Movie (1987) (movies, search)")
	assert.Less(t, strings.Index(body, "[HOT]"), strings.Index(body, "[COLD]"))
	assert.Contains(t, body, "Broken.Release: Issue 'path_not_valid' requires manual resolution (stuck_queue)")
	assert.NotContains(t, body, "Low")
	assert.Contains(t, body, "Sent at 2026-03-01 08:30 UTC")

	// Everything was cleared.
	assert.Equal(t, 0, d.Queued())
	assert.Empty(t, iv.Pending())
	res, err = d.Flush(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Sent)
}

func TestFlush_FailureKeepsQueue(t *testing.T) {
	d, sender, iv := newDigest(t)
	d.AddFind(attribution.Find{Title: "Movie", Tier: tiers.Warm})
	iv.Upsert(intervention.Entry{Type: intervention.TypeSearchExhausted, Source: arr.SourceRadarr, Instance: "m", ItemID: 1, Urgency: intervention.UrgencyHigh})
	sender.Err = errors.New("smtp down")

	_, err := d.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, d.Queued())
	assert.Len(t, iv.Pending(), 1)

	sender.Err = nil
	res, err := d.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, "1 new find, 1 item needs attention", sender.GetRecords()[0].Subject)
}

func TestAddFind_Capped(t *testing.T) {
	d, _, _ := newDigest(t)
	for i := 0; i < maxQueued+20; i++ {
		d.AddFind(attribution.Find{ItemID: int64(i)})
	}
	assert.Equal(t, maxQueued, d.Queued())
}
