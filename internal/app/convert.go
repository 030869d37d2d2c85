package app

import (
	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/attribution"
	"github.com/machinarr/machinarr/internal/budget"
	"github.com/machinarr/machinarr/internal/config"
	"github.com/machinarr/machinarr/internal/notification/email"
	"github.com/machinarr/machinarr/internal/persist"
	"github.com/machinarr/machinarr/internal/queuemonitor"
	"github.com/machinarr/machinarr/internal/searcher"
	"github.com/machinarr/machinarr/internal/tiers"
)

func clientConfigs(cfg *config.Config) []arr.ClientConfig {
	var out []arr.ClientConfig
	add := func(source arr.Source, instances []config.InstanceConfig) {
		for _, inst := range instances {
			if !inst.Valid() {
				continue
			}
			out = append(out, arr.ClientConfig{
				Name:              inst.Name,
				Source:            source,
				URL:               inst.URL,
				APIKey:            inst.APIKey,
				Timeout:           inst.Timeout,
				RequestsPerSecond: inst.RequestsPerSecond,
			})
		}
	}
	add(arr.SourceSonarr, cfg.Sonarr)
	add(arr.SourceRadarr, cfg.Radarr)
	return out
}

func thresholds(cfg *config.Config) tiers.Thresholds {
	return tiers.Thresholds{
		HotDays:  cfg.Tiers.HotDays,
		WarmDays: cfg.Tiers.WarmDays,
		CoolDays: cfg.Tiers.CoolDays,
	}.Normalize()
}

func searcherConfig(cfg *config.Config) searcher.Config {
	s := cfg.Search
	return searcher.Config{
		SearchesPerCycle: s.SearchesPerCycle,
		Percentages: searcher.Percentages{
			Hot:  s.HotPercent,
			Warm: s.WarmPercent,
			Cool: s.CoolPercent,
			Cold: s.ColdPercent,
		},
		PreferSeriesSearch: s.PreferSeriesSearch,
		Randomize:          s.Randomize,
		SeriesCooldown:     s.SeriesCooldown,
		MilestoneMonths:    s.MilestonesMonths,
		RecentLimit:        s.RecentResultsLimit,
		QuietHours: budget.QuietHours{
			Enabled:   cfg.QuietHours.Enabled,
			StartHour: cfg.QuietHours.StartHour,
			EndHour:   cfg.QuietHours.EndHour,
		},
	}
}

func monitorConfig(cfg *config.Config) queuemonitor.Config {
	ar := cfg.Queue.AutoResolution
	return queuemonitor.Config{
		AutoResolve:      ar.Enabled,
		WaitBeforeAction: cfg.Queue.WaitBeforeAction,
		Issues: map[queuemonitor.Issue]bool{
			queuemonitor.IssueNoFilesFound:         ar.NoFilesFound,
			queuemonitor.IssueSampleOnly:           ar.SampleOnly,
			queuemonitor.IssueNotAnUpgrade:         ar.NotAnUpgrade,
			queuemonitor.IssueUnknownSeries:        ar.UnknownSeries,
			queuemonitor.IssueUnknownMovie:         ar.UnknownMovie,
			queuemonitor.IssueUnexpectedEpisode:    ar.UnexpectedEpisode,
			queuemonitor.IssueInvalidSeasonEpisode: ar.InvalidSeasonEpisode,
			queuemonitor.IssueNoAudioTracks:        ar.NoAudioTracks,
			queuemonitor.IssueImportFailed:         ar.ImportFailed,
			queuemonitor.IssueDownloadFailed:       ar.DownloadFailed,
			queuemonitor.IssuePathNotValid:         ar.PathNotValid,
			queuemonitor.IssueWarning:              ar.Warning,
			queuemonitor.IssueDelay:                ar.Delay,
		},
	}
}

func attributionConfig(cfg *config.Config) attribution.Config {
	a := cfg.Attribution
	return attribution.Config{
		MatchWindow:    a.MatchWindow,
		ConfirmTimeout: a.ConfirmTimeout,
		MaxFinds:       a.MaxFinds,
		MaxCredited:    a.MaxCredited,
	}
}

func persistConfig(cfg *config.Config) persist.Config {
	return persist.Config{
		Interval:  cfg.Persistence.FlushInterval,
		Threshold: cfg.Persistence.DirtyThreshold,
	}
}

func emailSettings(cfg *config.Config) email.Settings {
	e := cfg.Email
	return email.Settings{
		Server:     e.Server,
		Port:       e.Port,
		Encryption: email.EncryptionMode(e.Encryption),
		Username:   e.Username,
		Password:   e.Password,
		From:       e.From,
		To:         e.To,
	}
}
