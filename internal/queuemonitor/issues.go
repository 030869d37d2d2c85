package queuemonitor

import (
	"strings"

	"github.com/machinarr/machinarr/internal/intervention"
)

// Issue is a canonical problem tag parsed from queue status text.
type Issue string

const (
	IssueNoFilesFound         Issue = "no_files_found"
	IssueSampleOnly           Issue = "sample_only"
	IssueNotAnUpgrade         Issue = "not_an_upgrade"
	IssueUnknownSeries        Issue = "unknown_series"
	IssueUnknownMovie         Issue = "unknown_movie"
	IssueUnexpectedEpisode    Issue = "unexpected_episode"
	IssueInvalidSeasonEpisode Issue = "invalid_season_episode"
	IssueNoAudioTracks        Issue = "no_audio_tracks"
	IssueImportFailed         Issue = "import_failed"
	IssueDownloadFailed       Issue = "download_failed"
	IssuePathNotValid         Issue = "path_not_valid"

	// Generic tags for problematic entries without a recognizable message.
	IssueWarning Issue = "warning"
	IssueDelay   Issue = "delay"
)

// patterns is evaluated in order; an issue is reported once no matter how
// many of its substrings match.
var patterns = []struct {
	issue   Issue
	needles []string
}{
	{IssueNoFilesFound, []string{"no files found", "eligible for import"}},
	{IssueSampleOnly, []string{"sample"}},
	{IssueNotAnUpgrade, []string{"not an upgrade", "existing file"}},
	{IssueUnknownSeries, []string{"unknown series"}},
	{IssueUnknownMovie, []string{"unknown movie"}},
	{IssueUnexpectedEpisode, []string{"unexpected", "was unexpected"}},
	{IssueInvalidSeasonEpisode, []string{"invalid season", "invalid episode", "unable to identify"}},
	{IssueNoAudioTracks, []string{"no audio", "audio track"}},
	{IssueImportFailed, []string{"import failed", "failed to import"}},
	{IssueDownloadFailed, []string{"download failed", "failed to download"}},
	{IssuePathNotValid, []string{"path not valid", "path does not exist"}},
}

// actions maps each issue to its automatic resolution. Issues absent from
// the map always need a human.
var actions = map[Issue]intervention.Action{
	IssueNoFilesFound:         intervention.ActionBlocklistRetry,
	IssueSampleOnly:           intervention.ActionBlocklistRetry,
	IssueNotAnUpgrade:         intervention.ActionRemove,
	IssueUnknownSeries:        intervention.ActionBlocklistRetry,
	IssueUnknownMovie:         intervention.ActionBlocklistRetry,
	IssueUnexpectedEpisode:    intervention.ActionBlocklistRetry,
	IssueInvalidSeasonEpisode: intervention.ActionBlocklistRetry,
	IssueNoAudioTracks:        intervention.ActionBlocklistRetry,
	IssueImportFailed:         intervention.ActionBlocklistRetry,
	IssueDownloadFailed:       intervention.ActionBlocklistRetry,
	IssueWarning:              intervention.ActionBlocklistRetry,
}

// AllIssues lists every issue tag, parsed ones first.
func AllIssues() []Issue {
	out := make([]Issue, 0, len(patterns)+2)
	for _, p := range patterns {
		out = append(out, p.issue)
	}
	return append(out, IssueWarning, IssueDelay)
}

// ParseIssues matches status messages against the pattern table.
func ParseIssues(messages []string) []Issue {
	text := strings.ToLower(strings.Join(messages, " "))
	if text == "" {
		return nil
	}
	var issues []Issue
	for _, p := range patterns {
		for _, n := range p.needles {
			if strings.Contains(text, n) {
				issues = append(issues, p.issue)
				break
			}
		}
	}
	return issues
}

// ActionFor returns the automatic resolution for an issue, or false when it
// always needs a human.
func ActionFor(issue Issue) (intervention.Action, bool) {
	a, ok := actions[issue]
	return a, ok
}

// DefaultAutoResolve enables every issue except not_an_upgrade,
// path_not_valid and the generic warning.
func DefaultAutoResolve() map[Issue]bool {
	m := make(map[Issue]bool)
	for _, issue := range AllIssues() {
		m[issue] = true
	}
	m[IssueNotAnUpgrade] = false
	m[IssuePathNotValid] = false
	m[IssueWarning] = false
	return m
}
