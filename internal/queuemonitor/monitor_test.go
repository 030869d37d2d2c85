package queuemonitor

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
	"github.com/machinarr/machinarr/internal/intervention"
	"github.com/machinarr/machinarr/internal/testutil"
	"github.com/machinarr/machinarr/internal/tiers"
)

func newMonitor(t *testing.T, cfg Config) (*Monitor, *intervention.Service, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	iv := intervention.NewService(fc, testutil.NopLogger())
	return New(cfg, iv, fc, testutil.NopLogger()), iv, fc
}

func stuck(queueID, itemID int64, messages ...string) arr.QueueEntry {
	return arr.QueueEntry{
		ID:            queueID,
		ItemID:        itemID,
		Title:         "Some.Release.1080p",
		Status:        "completed",
		TrackedStatus: "warning",
		Messages:      messages,
	}
}

func TestParseIssues(t *testing.T) {
	tests := []struct {
		name     string
		messages []string
		want     []Issue
	}{
		{"no files", []string{"No files found are eligible for import in /downloads/x"}, []Issue{IssueNoFilesFound}},
		{"sample", []string{"Sample"}, []Issue{IssueSampleOnly}},
		{"not upgrade", []string{"Not an upgrade for existing file"}, []Issue{IssueNotAnUpgrade}},
		{"unknown movie", []string{"Unknown Movie"}, []Issue{IssueUnknownMovie}},
		{"unexpected", []string{"Episode was unexpected considering the folder name"}, []Issue{IssueUnexpectedEpisode}},
		{"multiple in table order", []string{"Path does not exist", "No audio tracks detected"}, []Issue{IssueNoAudioTracks, IssuePathNotValid}},
		{"nothing", []string{"Downloading"}, nil},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseIssues(tt.messages))
		})
	}
}

func TestProblematic_GenericFallbacks(t *testing.T) {
	issues, bad := problematic(arr.QueueEntry{Status: "downloading", TrackedStatus: "ok"})
	assert.False(t, bad)
	assert.Nil(t, issues)

	issues, bad = problematic(arr.QueueEntry{Status: "delay", TrackedStatus: "ok"})
	assert.True(t, bad)
	assert.Equal(t, []Issue{IssueDelay}, issues)

	issues, _ = problematic(arr.QueueEntry{Status: "completed", TrackedStatus: "warning"})
	assert.Equal(t, []Issue{IssueWarning}, issues)

	issues, _ = problematic(arr.QueueEntry{Status: "failed"})
	assert.Equal(t, []Issue{IssueDownloadFailed}, issues)

	// Unrecognised text gets the plain tag; the message itself is not folded in.
	issues, _ = problematic(arr.QueueEntry{Status: "completed", TrackedStatus: "warning", Messages: []string{"Indexer returned something odd"}})
	assert.Equal(t, []Issue{IssueWarning}, issues)
	assert.False(t, DefaultAutoResolve()[IssueWarning])
}

func TestObserve_FirstDetectedSurvives(t *testing.T) {
	m, iv, fc := newMonitor(t, DefaultConfig())
	m.cfg.AutoResolve = false

	start := fc.Now()
	for i := 0; i < 5; i++ {
		observed := m.Observe(arr.SourceSonarr, "tv", []arr.QueueEntry{stuck(7, 70, "No files found")})
		require.Len(t, observed, 1)
		assert.True(t, observed[0].FirstDetected.Equal(start), "poll %d", i)
		fc.Advance(5 * time.Minute)
	}

	e, ok := m.Get(arr.SourceSonarr, "tv", 7)
	require.True(t, ok)
	assert.Equal(t, 20*time.Minute, e.LastSeen.Sub(e.FirstDetected))
	require.True(t, iv.Has(intervention.TypeStuckQueue, arr.SourceSonarr, "tv", 7))
	assert.Len(t, iv.List(), 1)

	// Gone from the live queue: entry and intervention are dropped.
	svc := mock.New(arr.SourceSonarr, "tv")
	res := m.Poll(context.Background(), svc, nil)
	assert.Equal(t, 2, res.Cleaned)
	_, ok = m.Get(arr.SourceSonarr, "tv", 7)
	assert.False(t, ok)
	assert.Empty(t, iv.List())
}

func TestPoll_BlocklistRetryScenario(t *testing.T) {
	m, iv, fc := newMonitor(t, DefaultConfig())
	svc := mock.New(arr.SourceSonarr, "tv")
	svc.Queue = []arr.QueueEntry{stuck(7, 70, "No files found are eligible for import")}
	ctx := context.Background()

	var resolved []Resolution
	m.OnResolved(func(r Resolution) { resolved = append(resolved, r) })

	res := m.Poll(ctx, svc, svc.Queue)
	assert.Equal(t, 1, res.Stuck)
	assert.Empty(t, res.Resolved, "wait period not elapsed")
	assert.Empty(t, svc.Deletes)

	e, _ := m.Get(arr.SourceSonarr, "tv", 7)
	assert.True(t, e.AutoResolve)
	assert.Equal(t, intervention.ActionBlocklistRetry, e.Action)
	assert.Empty(t, iv.List(), "auto-resolvable entries raise no intervention")

	fc.Advance(31 * time.Minute)
	res = m.Poll(ctx, svc, svc.Queue)
	require.Len(t, res.Resolved, 1)
	require.Len(t, svc.Deletes, 1)
	assert.Equal(t, arr.DeleteOptions{RemoveFromClient: true, Blocklist: true, SkipRedownload: false}, svc.Deletes[0].Opts)

	st := m.Stats()
	assert.Equal(t, 1, st.ResolvedTotal)
	assert.Equal(t, 0, st.Tracked)
	require.Len(t, resolved, 1)
	assert.Equal(t, int64(70), resolved[0].ItemID)
}

func TestPoll_NotAnUpgradeDisabledByDefault(t *testing.T) {
	m, iv, fc := newMonitor(t, DefaultConfig())
	svc := mock.New(arr.SourceRadarr, "movies")
	svc.Queue = []arr.QueueEntry{stuck(3, 30, "Not an upgrade for existing movie file")}

	m.Poll(context.Background(), svc, svc.Queue)
	fc.Advance(time.Hour)
	res := m.Poll(context.Background(), svc, svc.Queue)
	assert.Empty(t, res.Resolved)

	entry, ok := iv.Get(intervention.MakeKey(intervention.TypeStuckQueue, arr.SourceRadarr, "movies", 3))
	require.True(t, ok)
	assert.Equal(t, "Auto-resolution disabled for 'not_an_upgrade' in settings", entry.Reason)
	assert.Equal(t, intervention.UrgencyHigh, entry.Urgency)
	assert.Len(t, iv.List(), 1)
}

func TestPoll_RemoveAction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Issues[IssueNotAnUpgrade] = true
	cfg.WaitBeforeAction = 0
	m, _, _ := newMonitor(t, cfg)
	svc := mock.New(arr.SourceRadarr, "movies")
	svc.Queue = []arr.QueueEntry{stuck(3, 30, "Not an upgrade")}

	res := m.Poll(context.Background(), svc, svc.Queue)
	require.Len(t, res.Resolved, 1)
	assert.Equal(t, intervention.ActionRemove, res.Resolved[0].Action)
	assert.Equal(t, arr.DeleteOptions{RemoveFromClient: true, Blocklist: false, SkipRedownload: true}, svc.Deletes[0].Opts)
}

func TestPoll_FailedDeleteKeepsEntry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WaitBeforeAction = 0
	m, _, _ := newMonitor(t, cfg)
	svc := mock.New(arr.SourceSonarr, "tv")
	queue := []arr.QueueEntry{stuck(7, 70, "Sample")}
	svc.Err = errors.New("connection reset")

	res := m.Poll(context.Background(), svc, queue)
	assert.Equal(t, 1, res.Failed)
	_, ok := m.Get(arr.SourceSonarr, "tv", 7)
	assert.True(t, ok)
	assert.Equal(t, 0, m.Stats().ResolvedTotal)
}

func TestPoll_PathNotValidIsManual(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Issues[IssuePathNotValid] = true
	m, iv, _ := newMonitor(t, cfg)

	m.Observe(arr.SourceSonarr, "tv", []arr.QueueEntry{stuck(9, 90, "Path does not exist")})
	e, _ := m.Get(arr.SourceSonarr, "tv", 9)
	assert.False(t, e.AutoResolve)

	entry, ok := iv.Get(intervention.MakeKey(intervention.TypeStuckQueue, arr.SourceSonarr, "tv", 9))
	require.True(t, ok)
	assert.Equal(t, "Issue 'path_not_valid' requires manual resolution", entry.Reason)
}

func TestObserve_RecoveredClearsIntervention(t *testing.T) {
	m, iv, _ := newMonitor(t, Config{AutoResolve: false})

	m.Observe(arr.SourceSonarr, "tv", []arr.QueueEntry{stuck(7, 70, "Sample")})
	require.Len(t, iv.List(), 1)

	m.Observe(arr.SourceSonarr, "tv", []arr.QueueEntry{{ID: 7, ItemID: 70, Status: "downloading", TrackedStatus: "ok"}})
	assert.Empty(t, iv.List())
	assert.Equal(t, 0, m.Stats().Tracked)
}

func TestResolveManual(t *testing.T) {
	m, iv, _ := newMonitor(t, Config{AutoResolve: false})
	svc := mock.New(arr.SourceSonarr, "tv")
	ctx := context.Background()

	m.Observe(arr.SourceSonarr, "tv", []arr.QueueEntry{stuck(7, 70, "Sample"), stuck(8, 80, "Sample")})
	require.Len(t, iv.List(), 2)

	r, err := m.ResolveManual(ctx, svc, 7, intervention.ActionBlocklistRetry)
	require.NoError(t, err)
	assert.True(t, r.Manual)
	assert.Equal(t, int64(70), r.ItemID)
	assert.False(t, iv.Has(intervention.TypeStuckQueue, arr.SourceSonarr, "tv", 7))

	_, err = m.ResolveManual(ctx, svc, 8, intervention.ActionIgnore)
	require.NoError(t, err)
	assert.Empty(t, iv.List())

	// Ignored entries stay tracked but raise nothing on later polls.
	m.Observe(arr.SourceSonarr, "tv", []arr.QueueEntry{stuck(8, 80, "Sample")})
	assert.Empty(t, iv.List())

	_, err = m.ResolveManual(ctx, svc, 8, intervention.ActionGrabAnyway)
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = m.ResolveManual(ctx, svc, 99, intervention.ActionIgnore)
	assert.ErrorIs(t, err, ErrUnknownEntry)
}

func TestAnalyzeReleases(t *testing.T) {
	m, iv, _ := newMonitor(t, DefaultConfig())
	item := arr.ContentItem{ID: 5, Title: "Movie", Year: 2001}

	releases := []arr.Release{
		{GUID: "a", Title: "A", Rejected: true, Rejections: []string{"Language is not wanted"}, Size: 1024 * 1024 * 700},
		{GUID: "b", Title: "B", Rejected: true, Rejections: []string{"Custom format score 0 is below minimum", "Release is a sample"}},
		{GUID: "c", Title: "C", Rejected: false},
		{GUID: "d", Title: "D", Rejected: true, Rejections: []string{"Quality cutoff already met"}},
	}
	n := m.AnalyzeReleases(arr.SourceRadarr, "movies", item, tiers.Warm, releases)
	assert.Equal(t, 2, n)

	entry, ok := iv.Get(intervention.MakeKey(intervention.TypeReleaseAvailable, arr.SourceRadarr, "movies", 5))
	require.True(t, ok)
	assert.Equal(t, intervention.UrgencyLow, entry.Urgency)
	assert.Equal(t, "2 release(s) available but rejected", entry.Reason)
	assert.Equal(t, []intervention.Action{intervention.ActionGrabAnyway, intervention.ActionKeepSearching, intervention.ActionStopSearching}, entry.Actions)

	opts, ok := entry.Details["releases"].([]ReleaseOption)
	require.True(t, ok)
	require.Len(t, opts, 2)
	assert.Equal(t, "a", opts[0].GUID)
	assert.InDelta(t, 700.0, opts[0].SizeMB, 0.01)

	assert.Equal(t, 0, m.AnalyzeReleases(arr.SourceRadarr, "movies", item, tiers.Warm, releases[2:3]))
	assert.Empty(t, iv.List())
}

func TestAnalyzeReleases_KeepsTopFive(t *testing.T) {
	m, iv, _ := newMonitor(t, DefaultConfig())
	var releases []arr.Release
	for i := 0; i < 8; i++ {
		releases = append(releases, arr.Release{GUID: string(rune('a' + i)), Rejected: true, Rejections: []string{"Size too large"}})
	}
	assert.Equal(t, 8, m.AnalyzeReleases(arr.SourceRadarr, "movies", arr.ContentItem{ID: 1}, tiers.Cold, releases))

	entry, _ := iv.Get(intervention.MakeKey(intervention.TypeReleaseAvailable, arr.SourceRadarr, "movies", 1))
	assert.Len(t, entry.Details["releases"], 5)
}
