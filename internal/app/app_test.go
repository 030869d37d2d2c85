package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/arr/mock"
	"github.com/machinarr/machinarr/internal/attribution"
	"github.com/machinarr/machinarr/internal/config"
	"github.com/machinarr/machinarr/internal/health"
	"github.com/machinarr/machinarr/internal/intervention"
	notifymock "github.com/machinarr/machinarr/internal/notification/mock"
	"github.com/machinarr/machinarr/internal/queuemonitor"
	"github.com/machinarr/machinarr/internal/scheduler/tasks"
	"github.com/machinarr/machinarr/internal/searcher"
	"github.com/machinarr/machinarr/internal/testutil"
	"github.com/machinarr/machinarr/internal/tiers"
)

type fixture struct {
	app    *App
	clock  *clockwork.FakeClock
	tv     *mock.Service
	movies *mock.Service
	sender *notifymock.Notifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fc := clockwork.NewFakeClockAt(time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC))
	tv := mock.New(arr.SourceSonarr, "tv")
	movies := mock.New(arr.SourceRadarr, "movies")
	sender := notifymock.New(fc, testutil.NopLogger())

	a, err := New(config.Default(), nil, nil, testutil.NopLogger(),
		WithClock(fc), WithServices(tv, movies), WithSender(sender))
	require.NoError(t, err)
	return &fixture{app: a, clock: fc, tv: tv, movies: movies, sender: sender}
}

func (f *fixture) raise(e intervention.Entry) string {
	f.app.Interventions().Upsert(e)
	return e.Key()
}

func TestNew_RegistersTasks(t *testing.T) {
	f := newFixture(t)
	var ids []string
	for _, task := range f.app.Scheduler().ListTasks() {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{
		tasks.AttributionVerifyTaskID,
		tasks.NotificationFlushTaskID,
		tasks.QueueMonitorTaskID,
		tasks.SearchCycleTaskID,
		tasks.StateFlushTaskID,
	}, ids)
	assert.Equal(t, "log", f.app.Sender().Name())
}

func TestNew_SearchDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Search.Enabled = false
	a, err := New(cfg, nil, nil, testutil.NopLogger(), WithServices())
	require.NoError(t, err)
	_, err = a.Scheduler().GetTask(tasks.SearchCycleTaskID)
	assert.Error(t, err)
}

func TestService_Unknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.app.Service(arr.SourceRadarr, "tv")
	assert.ErrorIs(t, err, ErrUnknownInstance)

	svc, err := f.app.Service(arr.SourceSonarr, "tv")
	require.NoError(t, err)
	assert.Equal(t, "tv", svc.Name())
}

func TestApplyIntervention_NotFoundAndNotAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.app.ApplyIntervention(ctx, "nope", ActionRequest{Action: intervention.ActionDismiss})
	assert.ErrorIs(t, err, intervention.ErrNotFound)

	key := f.raise(intervention.Entry{
		Type: intervention.TypeSearchExhausted, Source: arr.SourceRadarr, Instance: "movies", ItemID: 5,
		Title: "Movie", Urgency: intervention.UrgencyHigh,
	})
	err = f.app.ApplyIntervention(ctx, key, ActionRequest{Action: intervention.ActionGrabAnyway})
	assert.ErrorIs(t, err, ErrActionNotAllowed)
	_, ok := f.app.Interventions().Get(key)
	assert.True(t, ok)
}

func TestApplyIntervention_SearchActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	newEntry := func(id int64) intervention.Entry {
		return intervention.Entry{
			Type: intervention.TypeSearchExhausted, Source: arr.SourceRadarr, Instance: "movies", ItemID: id,
			Title: "Movie", Urgency: intervention.UrgencyHigh,
		}
	}

	key := f.raise(newEntry(1))
	require.NoError(t, f.app.ApplyIntervention(ctx, key, ActionRequest{Action: intervention.ActionDismiss}))
	_, ok := f.app.Interventions().Get(key)
	assert.False(t, ok)

	key = f.raise(newEntry(2))
	require.NoError(t, f.app.ApplyIntervention(ctx, key, ActionRequest{Action: intervention.ActionDelay, Days: 3}))
	h, ok := f.app.Searcher().History(arr.SourceRadarr, "movies", 2)
	require.True(t, ok)
	require.NotNil(t, h.DelayedUntil)
	assert.Equal(t, f.clock.Now().Add(72*time.Hour), *h.DelayedUntil)

	key = f.raise(newEntry(3))
	require.NoError(t, f.app.ApplyIntervention(ctx, key, ActionRequest{Action: intervention.ActionDelay}))
	h, _ = f.app.Searcher().History(arr.SourceRadarr, "movies", 3)
	assert.Equal(t, f.clock.Now().Add(DefaultDelay), *h.DelayedUntil)

	key = f.raise(newEntry(4))
	require.NoError(t, f.app.ApplyIntervention(ctx, key, ActionRequest{Action: intervention.ActionStopSearching}))
	h, _ = f.app.Searcher().History(arr.SourceRadarr, "movies", 4)
	assert.True(t, h.Stopped)

	key = f.raise(newEntry(5))
	require.NoError(t, f.app.ApplyIntervention(ctx, key, ActionRequest{Action: intervention.ActionDelete}))
	assert.Equal(t, []int64{5}, f.movies.Unmonitored)
	h, _ = f.app.Searcher().History(arr.SourceRadarr, "movies", 5)
	assert.True(t, h.Stopped)
	assert.Empty(t, f.app.Interventions().List())
}

func TestApplyIntervention_DeleteFailureKeepsEntry(t *testing.T) {
	f := newFixture(t)
	f.movies.Err = errors.New("unauthorized")
	key := f.raise(intervention.Entry{
		Type: intervention.TypeLongMissing, Source: arr.SourceRadarr, Instance: "movies", ItemID: 8,
		Urgency: intervention.UrgencyHigh,
	})
	require.Error(t, f.app.ApplyIntervention(context.Background(), key, ActionRequest{Action: intervention.ActionDelete}))
	_, ok := f.app.Interventions().Get(key)
	assert.True(t, ok)
}

func TestApplyIntervention_StuckQueue(t *testing.T) {
	f := newFixture(t)
	key := f.raise(intervention.Entry{
		Type: intervention.TypeStuckQueue, Source: arr.SourceSonarr, Instance: "tv", ItemID: 300,
		Title: "Show.S01E02", Urgency: intervention.UrgencyHigh,
		Details: map[string]any{"contentItemId": int64(12)},
	})
	f.tv.SetHasFile(12, false)

	require.NoError(t, f.app.ApplyIntervention(context.Background(), key,
		ActionRequest{Action: intervention.ActionBlocklistRetry}))

	require.Len(t, f.tv.Deletes, 1)
	assert.Equal(t, int64(300), f.tv.Deletes[0].QueueID)
	assert.True(t, f.tv.Deletes[0].Opts.Blocklist)
	_, ok := f.app.Interventions().Get(key)
	assert.False(t, ok)

	// The blocklisted item is watched for its replacement.
	assert.Equal(t, 1, f.app.Tracker().Stats().Watching)
}

func TestGrabAnyway_WatchesAndCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.movies.Items[21] = &arr.ContentItem{ID: 21, Title: "Film", Year: 2019}
	f.movies.Releases[21] = []arr.Release{
		{GUID: "a", Title: "Film.2019.1080p.FRENCH", IndexerID: 4, Rejected: true, Rejections: []string{"Language is not wanted"}},
		{GUID: "b", Title: "Film.2019.720p", IndexerID: 2, Rejected: true, Rejections: []string{"Quality not wanted in profile"}},
	}

	n, err := f.app.CheckReleases(ctx, arr.SourceRadarr, "movies", 21)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	key := intervention.MakeKey(intervention.TypeReleaseAvailable, arr.SourceRadarr, "movies", 21)
	_, ok := f.app.Interventions().Get(key)
	require.True(t, ok)

	require.NoError(t, f.app.ApplyIntervention(ctx, key, ActionRequest{Action: intervention.ActionGrabAnyway}))
	require.Len(t, f.movies.Grabs, 1)
	assert.Equal(t, "a", f.movies.Grabs[0].GUID)
	assert.Equal(t, int64(4), f.movies.Grabs[0].IndexerID)
	_, ok = f.app.Interventions().Get(key)
	assert.False(t, ok)

	// The download completes: the next verify pass credits a manual grab.
	f.app.Tracker().ObserveQueue(arr.SourceRadarr, "movies", nil)
	f.movies.SetHasFile(21, true)
	res := f.app.Tracker().Verify(ctx, arr.SourceRadarr, "movies", f.movies)
	require.Len(t, res.Confirmed, 1)
	assert.Equal(t, attribution.ResolutionManualGrab, res.Confirmed[0].ResolutionType)
	assert.Equal(t, 1, f.app.Digest().Queued())
}

func TestGrabAnyway_ExplicitRelease(t *testing.T) {
	f := newFixture(t)
	key := f.raise(intervention.Entry{
		Type: intervention.TypeReleaseAvailable, Source: arr.SourceRadarr, Instance: "movies", ItemID: 9,
		Urgency: intervention.UrgencyLow,
	})
	err := f.app.ApplyIntervention(context.Background(), key, ActionRequest{Action: intervention.ActionGrabAnyway})
	assert.ErrorIs(t, err, ErrNoReleaseSelected)

	require.NoError(t, f.app.ApplyIntervention(context.Background(), key,
		ActionRequest{Action: intervention.ActionGrabAnyway, GUID: "x", IndexerID: 7}))
	assert.Equal(t, []mock.GrabCall{{GUID: "x", IndexerID: 7}}, f.movies.Grabs)
}

func TestReleaseOptions_FromRestoredDetails(t *testing.T) {
	details := map[string]any{
		"releases": []any{
			map[string]any{"guid": "g1", "indexerId": float64(3), "title": "t"},
		},
	}
	opts := releaseOptions(details)
	require.Len(t, opts, 1)
	assert.Equal(t, queuemonitor.ReleaseOption{GUID: "g1", IndexerID: 3, Title: "t"}, opts[0])
	assert.Nil(t, releaseOptions(map[string]any{}))
}

func TestCheckReleases_BudgetExhausted(t *testing.T) {
	f := newFixture(t)
	f.movies.Items[1] = &arr.ContentItem{ID: 1, Title: "Film"}
	for f.app.Ledger().TryConsume() {
	}
	_, err := f.app.CheckReleases(context.Background(), arr.SourceRadarr, "movies", 1)
	assert.ErrorIs(t, err, searcher.ErrBudgetExhausted)
}

func TestOnFind_ClearsInterventionsAndQueuesDigest(t *testing.T) {
	f := newFixture(t)
	f.tv.Items[50] = &arr.ContentItem{ID: 50, ParentID: 5, ParentTitle: "Show", Season: 1, Episode: 3}
	f.raise(intervention.Entry{
		Type: intervention.TypeLongMissing, Source: arr.SourceSonarr, Instance: "tv", ItemID: 50,
		Urgency: intervention.UrgencyHigh,
	})

	find, ok, err := f.app.RecordManualFind(context.Background(), attribution.ManualFind{
		Source: arr.SourceSonarr, Instance: "tv", ItemID: 50,
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Show - S01E03", find.Title)
	assert.Equal(t, tiers.Cold, find.Tier)
	assert.Equal(t, attribution.ResolutionManual, find.ResolutionType)
	assert.Empty(t, f.app.Interventions().List())
	assert.Equal(t, 1, f.app.Digest().Queued())

	_, ok, err = f.app.RecordManualFind(context.Background(), attribution.ManualFind{
		Source: arr.SourceSonarr, Instance: "tv", ItemID: 50,
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(90 * time.Minute)
	st := f.app.Status()
	assert.Equal(t, config.Version, st.Version)
	assert.Equal(t, "1h30m0s", st.Uptime)
	assert.Len(t, st.Instances, 2)
	assert.Equal(t, "log", st.Notifier)
	assert.Equal(t, 500, st.Search.DailyLimit)
}

func TestCheckInstance_RecordsHealth(t *testing.T) {
	f := newFixture(t)
	f.movies.Err = errors.New("connection refused")

	assert.NoError(t, f.app.CheckInstance(context.Background(), f.tv))
	assert.Error(t, f.app.CheckInstance(context.Background(), f.movies))

	st := f.app.Status()
	require.Len(t, st.Instances, 2)
	assert.Equal(t, health.StatusOK, st.Instances[0].Health)
	assert.Equal(t, health.StatusWarning, st.Instances[1].Health)
	assert.True(t, st.Health.HasIssues)
}

func TestSendTestNotification(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.app.SendTestNotification(context.Background()))
	records := f.sender.GetRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "Test notification", records[0].Subject)
}

func TestShutdown_FlushesWithoutStore(t *testing.T) {
	f := newFixture(t)
	f.raise(intervention.Entry{Type: intervention.TypeLongMissing, Source: arr.SourceSonarr, Instance: "tv", ItemID: 1})
	require.NoError(t, f.app.Start())
	require.NoError(t, f.app.Shutdown(context.Background()))
	assert.Equal(t, 0, f.app.Interventions().Dirty())
}
