package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Version is set at build time with -ldflags "-X .../config.Version=...".
var Version = "dev"

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Sonarr      []InstanceConfig  `mapstructure:"sonarr" yaml:"sonarr"`
	Radarr      []InstanceConfig  `mapstructure:"radarr" yaml:"radarr"`
	Search      SearchConfig      `mapstructure:"search" yaml:"search"`
	Tiers       TiersConfig       `mapstructure:"tiers" yaml:"tiers"`
	QuietHours  QuietHoursConfig  `mapstructure:"quiet_hours" yaml:"quiet_hours"`
	Queue       QueueConfig       `mapstructure:"queue" yaml:"queue"`
	Attribution AttributionConfig `mapstructure:"attribution" yaml:"attribution"`
	Persistence PersistenceConfig `mapstructure:"persistence" yaml:"persistence"`
	Email       EmailConfig       `mapstructure:"email" yaml:"email"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// APIKey, when set, is required in the X-Api-Key header of API calls.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// InstanceConfig describes one Sonarr or Radarr instance.
type InstanceConfig struct {
	Name              string        `mapstructure:"name" yaml:"name"`
	URL               string        `mapstructure:"url" yaml:"url"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// Valid reports whether the instance can be used.
func (i InstanceConfig) Valid() bool {
	return i.Enabled && i.URL != "" && i.APIKey != ""
}

// SearchConfig controls the search cycle.
type SearchConfig struct {
	Enabled            bool          `mapstructure:"enabled" yaml:"enabled"`
	DailyAPILimit      int           `mapstructure:"daily_api_limit" yaml:"daily_api_limit"`
	SearchesPerCycle   int           `mapstructure:"searches_per_cycle" yaml:"searches_per_cycle"`
	CycleInterval      time.Duration `mapstructure:"cycle_interval" yaml:"cycle_interval"`
	HotPercent         int           `mapstructure:"hot_percent" yaml:"hot_percent"`
	WarmPercent        int           `mapstructure:"warm_percent" yaml:"warm_percent"`
	CoolPercent        int           `mapstructure:"cool_percent" yaml:"cool_percent"`
	ColdPercent        int           `mapstructure:"cold_percent" yaml:"cold_percent"`
	PreferSeriesSearch bool          `mapstructure:"prefer_series_search" yaml:"prefer_series_search"`
	Randomize          bool          `mapstructure:"randomize" yaml:"randomize"`
	SeriesCooldown     time.Duration `mapstructure:"series_cooldown" yaml:"series_cooldown"`
	MilestonesMonths   []int         `mapstructure:"milestones_months" yaml:"milestones_months"`
	RecentResultsLimit int           `mapstructure:"recent_results_limit" yaml:"recent_results_limit"`
}

// TiersConfig holds the inclusive upper bound in days of each tier.
type TiersConfig struct {
	HotDays  int `mapstructure:"hot_days" yaml:"hot_days"`
	WarmDays int `mapstructure:"warm_days" yaml:"warm_days"`
	CoolDays int `mapstructure:"cool_days" yaml:"cool_days"`
}

// QuietHoursConfig pauses searching between two local hours.
type QuietHoursConfig struct {
	Enabled   bool `mapstructure:"enabled" yaml:"enabled"`
	StartHour int  `mapstructure:"start_hour" yaml:"start_hour"`
	EndHour   int  `mapstructure:"end_hour" yaml:"end_hour"`
}

// QueueConfig controls stuck-download detection and resolution.
type QueueConfig struct {
	PollInterval     time.Duration  `mapstructure:"poll_interval" yaml:"poll_interval"`
	WaitBeforeAction time.Duration  `mapstructure:"wait_before_action" yaml:"wait_before_action"`
	AutoResolution   AutoResolution `mapstructure:"auto_resolution" yaml:"auto_resolution"`
}

// AutoResolution switches automatic resolution per issue.
type AutoResolution struct {
	Enabled              bool `mapstructure:"enabled" yaml:"enabled"`
	NoFilesFound         bool `mapstructure:"no_files_found" yaml:"no_files_found"`
	SampleOnly           bool `mapstructure:"sample_only" yaml:"sample_only"`
	NotAnUpgrade         bool `mapstructure:"not_an_upgrade" yaml:"not_an_upgrade"`
	UnknownSeries        bool `mapstructure:"unknown_series" yaml:"unknown_series"`
	UnknownMovie         bool `mapstructure:"unknown_movie" yaml:"unknown_movie"`
	UnexpectedEpisode    bool `mapstructure:"unexpected_episode" yaml:"unexpected_episode"`
	InvalidSeasonEpisode bool `mapstructure:"invalid_season_episode" yaml:"invalid_season_episode"`
	NoAudioTracks        bool `mapstructure:"no_audio_tracks" yaml:"no_audio_tracks"`
	ImportFailed         bool `mapstructure:"import_failed" yaml:"import_failed"`
	DownloadFailed       bool `mapstructure:"download_failed" yaml:"download_failed"`
	PathNotValid         bool `mapstructure:"path_not_valid" yaml:"path_not_valid"`
	Warning              bool `mapstructure:"warning" yaml:"warning"`
	Delay                bool `mapstructure:"delay" yaml:"delay"`
}

// AttributionConfig controls find attribution.
type AttributionConfig struct {
	MatchWindow    time.Duration `mapstructure:"match_window" yaml:"match_window"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
	VerifyInterval time.Duration `mapstructure:"verify_interval" yaml:"verify_interval"`
	MaxFinds       int           `mapstructure:"max_finds" yaml:"max_finds"`
	MaxCredited    int           `mapstructure:"max_credited" yaml:"max_credited"`
}

// PersistenceConfig controls how often state is written to the database.
type PersistenceConfig struct {
	FlushInterval  time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	DirtyThreshold int           `mapstructure:"dirty_threshold" yaml:"dirty_threshold"`
}

// EmailConfig holds SMTP digest settings.
type EmailConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Server        string        `mapstructure:"server" yaml:"server"`
	Port          int           `mapstructure:"port" yaml:"port"`
	Encryption    string        `mapstructure:"encryption" yaml:"encryption"`
	Username      string        `mapstructure:"username" yaml:"username"`
	Password      string        `mapstructure:"password" yaml:"password"`
	From          string        `mapstructure:"from" yaml:"from"`
	To            string        `mapstructure:"to" yaml:"to"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8585,
		},
		Database: DatabaseConfig{
			Path: "./data/machinarr.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Search: SearchConfig{
			Enabled:            true,
			DailyAPILimit:      500,
			SearchesPerCycle:   10,
			CycleInterval:      time.Hour,
			HotPercent:         40,
			WarmPercent:        30,
			CoolPercent:        20,
			ColdPercent:        10,
			PreferSeriesSearch: true,
			Randomize:          true,
			SeriesCooldown:     6 * time.Hour,
			MilestonesMonths:   []int{1, 3, 6, 12, 18, 24},
			RecentResultsLimit: 500,
		},
		Tiers: TiersConfig{
			HotDays:  90,
			WarmDays: 365,
			CoolDays: 1095,
		},
		QuietHours: QuietHoursConfig{
			Enabled:   false,
			StartHour: 2,
			EndHour:   7,
		},
		Queue: QueueConfig{
			PollInterval:     5 * time.Minute,
			WaitBeforeAction: 30 * time.Minute,
			AutoResolution: AutoResolution{
				Enabled:              true,
				NoFilesFound:         true,
				SampleOnly:           true,
				NotAnUpgrade:         false,
				UnknownSeries:        true,
				UnknownMovie:         true,
				UnexpectedEpisode:    true,
				InvalidSeasonEpisode: true,
				NoAudioTracks:        true,
				ImportFailed:         true,
				DownloadFailed:       true,
				PathNotValid:         false,
				Warning:              false,
				Delay:                true,
			},
		},
		Attribution: AttributionConfig{
			MatchWindow:    2 * time.Hour,
			ConfirmTimeout: 24 * time.Hour,
			VerifyInterval: 10 * time.Minute,
			MaxFinds:       1000,
			MaxCredited:    5000,
		},
		Persistence: PersistenceConfig{
			FlushInterval:  5 * time.Minute,
			DirtyThreshold: 50,
		},
		Email: EmailConfig{
			Port:          587,
			Encryption:    "starttls",
			FlushInterval: time.Hour,
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	// A missing .env is normal; anything else is worth reporting.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.machinarr")
	}

	// Environment variable settings
	v.SetEnvPrefix("MACHINARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults + env vars
	}

	// Unmarshal into struct
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyEnvInstances(os.Getenv)
	cfg.Normalize()
	return cfg, nil
}

// applyEnvInstances adds a single Sonarr or Radarr instance from
// SONARR_URL/SONARR_API_KEY and RADARR_URL/RADARR_API_KEY when none is
// configured.
func (c *Config) applyEnvInstances(getenv func(string) string) {
	if len(c.Sonarr) == 0 {
		if url, key := getenv("SONARR_URL"), getenv("SONARR_API_KEY"); url != "" && key != "" {
			c.Sonarr = append(c.Sonarr, InstanceConfig{Name: "Sonarr", URL: url, APIKey: key, Enabled: true})
		}
	}
	if len(c.Radarr) == 0 {
		if url, key := getenv("RADARR_URL"), getenv("RADARR_API_KEY"); url != "" && key != "" {
			c.Radarr = append(c.Radarr, InstanceConfig{Name: "Radarr", URL: url, APIKey: key, Enabled: true})
		}
	}
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	d := Default()

	// Server defaults
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.api_key", "")

	// Database defaults
	v.SetDefault("database.path", d.Database.Path)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)

	// Search defaults
	v.SetDefault("search.enabled", d.Search.Enabled)
	v.SetDefault("search.daily_api_limit", d.Search.DailyAPILimit)
	v.SetDefault("search.searches_per_cycle", d.Search.SearchesPerCycle)
	v.SetDefault("search.cycle_interval", d.Search.CycleInterval)
	v.SetDefault("search.hot_percent", d.Search.HotPercent)
	v.SetDefault("search.warm_percent", d.Search.WarmPercent)
	v.SetDefault("search.cool_percent", d.Search.CoolPercent)
	v.SetDefault("search.cold_percent", d.Search.ColdPercent)
	v.SetDefault("search.prefer_series_search", d.Search.PreferSeriesSearch)
	v.SetDefault("search.randomize", d.Search.Randomize)
	v.SetDefault("search.series_cooldown", d.Search.SeriesCooldown)
	v.SetDefault("search.milestones_months", d.Search.MilestonesMonths)
	v.SetDefault("search.recent_results_limit", d.Search.RecentResultsLimit)

	// Tier defaults
	v.SetDefault("tiers.hot_days", d.Tiers.HotDays)
	v.SetDefault("tiers.warm_days", d.Tiers.WarmDays)
	v.SetDefault("tiers.cool_days", d.Tiers.CoolDays)

	// Quiet hours defaults
	v.SetDefault("quiet_hours.enabled", d.QuietHours.Enabled)
	v.SetDefault("quiet_hours.start_hour", d.QuietHours.StartHour)
	v.SetDefault("quiet_hours.end_hour", d.QuietHours.EndHour)

	// Queue defaults
	ar := d.Queue.AutoResolution
	v.SetDefault("queue.poll_interval", d.Queue.PollInterval)
	v.SetDefault("queue.wait_before_action", d.Queue.WaitBeforeAction)
	v.SetDefault("queue.auto_resolution.enabled", ar.Enabled)
	v.SetDefault("queue.auto_resolution.no_files_found", ar.NoFilesFound)
	v.SetDefault("queue.auto_resolution.sample_only", ar.SampleOnly)
	v.SetDefault("queue.auto_resolution.not_an_upgrade", ar.NotAnUpgrade)
	v.SetDefault("queue.auto_resolution.unknown_series", ar.UnknownSeries)
	v.SetDefault("queue.auto_resolution.unknown_movie", ar.UnknownMovie)
	v.SetDefault("queue.auto_resolution.unexpected_episode", ar.UnexpectedEpisode)
	v.SetDefault("queue.auto_resolution.invalid_season_episode", ar.InvalidSeasonEpisode)
	v.SetDefault("queue.auto_resolution.no_audio_tracks", ar.NoAudioTracks)
	v.SetDefault("queue.auto_resolution.import_failed", ar.ImportFailed)
	v.SetDefault("queue.auto_resolution.download_failed", ar.DownloadFailed)
	v.SetDefault("queue.auto_resolution.path_not_valid", ar.PathNotValid)
	v.SetDefault("queue.auto_resolution.warning", ar.Warning)
	v.SetDefault("queue.auto_resolution.delay", ar.Delay)

	// Attribution defaults
	v.SetDefault("attribution.match_window", d.Attribution.MatchWindow)
	v.SetDefault("attribution.confirm_timeout", d.Attribution.ConfirmTimeout)
	v.SetDefault("attribution.verify_interval", d.Attribution.VerifyInterval)
	v.SetDefault("attribution.max_finds", d.Attribution.MaxFinds)
	v.SetDefault("attribution.max_credited", d.Attribution.MaxCredited)

	// Persistence defaults
	v.SetDefault("persistence.flush_interval", d.Persistence.FlushInterval)
	v.SetDefault("persistence.dirty_threshold", d.Persistence.DirtyThreshold)

	// Email defaults
	v.SetDefault("email.enabled", d.Email.Enabled)
	v.SetDefault("email.server", "")
	v.SetDefault("email.port", d.Email.Port)
	v.SetDefault("email.encryption", d.Email.Encryption)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.to", "")
	v.SetDefault("email.flush_interval", d.Email.FlushInterval)
}

// Normalize repairs out-of-range values in place. It never fails: bad
// values fall back to defaults so a typo cannot stop the service.
func (c *Config) Normalize() {
	d := Default()

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		c.Server.Port = d.Server.Port
	}
	if c.Database.Path == "" {
		c.Database.Path = d.Database.Path
	}

	if c.Search.DailyAPILimit < 0 {
		c.Search.DailyAPILimit = d.Search.DailyAPILimit
	}
	if c.Search.SearchesPerCycle <= 0 {
		c.Search.SearchesPerCycle = d.Search.SearchesPerCycle
	}
	if c.Search.CycleInterval < time.Minute {
		c.Search.CycleInterval = d.Search.CycleInterval
	}
	for _, p := range []*int{&c.Search.HotPercent, &c.Search.WarmPercent, &c.Search.CoolPercent, &c.Search.ColdPercent} {
		if *p < 0 {
			*p = 0
		}
	}
	if c.Search.SeriesCooldown < 0 {
		c.Search.SeriesCooldown = d.Search.SeriesCooldown
	}
	if c.Search.RecentResultsLimit <= 0 || c.Search.RecentResultsLimit > d.Search.RecentResultsLimit {
		c.Search.RecentResultsLimit = d.Search.RecentResultsLimit
	}
	ms := c.Search.MilestonesMonths[:0]
	for _, m := range c.Search.MilestonesMonths {
		if m > 0 {
			ms = append(ms, m)
		}
	}
	c.Search.MilestonesMonths = ms

	if c.Tiers.HotDays <= 0 {
		c.Tiers.HotDays = d.Tiers.HotDays
	}
	if c.Tiers.WarmDays <= 0 {
		c.Tiers.WarmDays = d.Tiers.WarmDays
	}
	if c.Tiers.CoolDays <= 0 {
		c.Tiers.CoolDays = d.Tiers.CoolDays
	}
	if c.Tiers.WarmDays < c.Tiers.HotDays {
		c.Tiers.WarmDays = c.Tiers.HotDays
	}
	if c.Tiers.CoolDays < c.Tiers.WarmDays {
		c.Tiers.CoolDays = c.Tiers.WarmDays
	}

	if c.QuietHours.StartHour < 0 || c.QuietHours.StartHour > 23 {
		c.QuietHours.StartHour = d.QuietHours.StartHour
	}
	if c.QuietHours.EndHour < 0 || c.QuietHours.EndHour > 23 {
		c.QuietHours.EndHour = d.QuietHours.EndHour
	}

	if c.Queue.PollInterval < time.Minute {
		c.Queue.PollInterval = d.Queue.PollInterval
	}
	if c.Queue.WaitBeforeAction < 0 {
		c.Queue.WaitBeforeAction = d.Queue.WaitBeforeAction
	}

	if c.Attribution.MatchWindow <= 0 {
		c.Attribution.MatchWindow = d.Attribution.MatchWindow
	}
	if c.Attribution.ConfirmTimeout <= 0 {
		c.Attribution.ConfirmTimeout = d.Attribution.ConfirmTimeout
	}
	if c.Attribution.VerifyInterval < time.Minute {
		c.Attribution.VerifyInterval = d.Attribution.VerifyInterval
	}
	if c.Attribution.MaxFinds <= 0 {
		c.Attribution.MaxFinds = d.Attribution.MaxFinds
	}
	if c.Attribution.MaxCredited <= 0 {
		c.Attribution.MaxCredited = d.Attribution.MaxCredited
	}

	if c.Persistence.FlushInterval <= 0 {
		c.Persistence.FlushInterval = d.Persistence.FlushInterval
	}
	if c.Persistence.DirtyThreshold <= 0 {
		c.Persistence.DirtyThreshold = d.Persistence.DirtyThreshold
	}

	if c.Email.Port <= 0 || c.Email.Port > 65535 {
		c.Email.Port = d.Email.Port
	}
	if c.Email.FlushInterval < time.Minute {
		c.Email.FlushInterval = d.Email.FlushInterval
	}

	for _, list := range [][]InstanceConfig{c.Sonarr, c.Radarr} {
		for i := range list {
			list[i].URL = strings.TrimRight(list[i].URL, "/")
			if list[i].Timeout <= 0 {
				list[i].Timeout = 30 * time.Second
			}
		}
	}
	nameInstances(c.Sonarr, "Sonarr")
	nameInstances(c.Radarr, "Radarr")
}

// nameInstances gives unnamed instances a unique default name.
func nameInstances(list []InstanceConfig, prefix string) {
	for i := range list {
		if list[i].Name != "" {
			continue
		}
		if i == 0 {
			list[i].Name = prefix
		} else {
			list[i].Name = fmt.Sprintf("%s %d", prefix, i+1)
		}
	}
}

// YAML renders the configuration as a config file.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
