package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
sonarr:
  - name: tv
    url: http://sonarr:8989/
    api_key: abc
    enabled: true
search:
  daily_api_limit: 2000
  cycle_interval: 30m
queue:
  wait_before_action: 45m
  auto_resolution:
    not_an_upgrade: true
`)
	t.Setenv("MACHINARR_SEARCH_SEARCHES_PER_CYCLE", "25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2000, cfg.Search.DailyAPILimit)
	assert.Equal(t, 25, cfg.Search.SearchesPerCycle)
	assert.Equal(t, 30*time.Minute, cfg.Search.CycleInterval)
	assert.Equal(t, 45*time.Minute, cfg.Queue.WaitBeforeAction)
	assert.True(t, cfg.Queue.AutoResolution.NotAnUpgrade)
	assert.True(t, cfg.Queue.AutoResolution.NoFilesFound, "unset keys keep their defaults")

	require.Len(t, cfg.Sonarr, 1)
	assert.Equal(t, "http://sonarr:8989", cfg.Sonarr[0].URL)
	assert.Equal(t, 30*time.Second, cfg.Sonarr[0].Timeout)
	assert.True(t, cfg.Sonarr[0].Valid())
	assert.Empty(t, cfg.Radarr)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	d := Default()
	assert.Equal(t, d.Search, cfg.Search)
	assert.Equal(t, d.Tiers, cfg.Tiers)
	assert.Equal(t, d.Attribution, cfg.Attribution)
	assert.Equal(t, d.Queue, cfg.Queue)
}

func TestLoad_BadFile(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed\n"))
	assert.Error(t, err)
}

func TestApplyEnvInstances(t *testing.T) {
	env := map[string]string{
		"SONARR_URL":     "http://sonarr:8989",
		"SONARR_API_KEY": "s",
		"RADARR_URL":     "http://radarr:7878",
	}
	cfg := Default()
	cfg.applyEnvInstances(func(k string) string { return env[k] })

	require.Len(t, cfg.Sonarr, 1)
	assert.Equal(t, "Sonarr", cfg.Sonarr[0].Name)
	assert.True(t, cfg.Sonarr[0].Enabled)
	assert.Empty(t, cfg.Radarr, "radarr needs both url and key")

	// Configured instances win over the environment.
	cfg = Default()
	cfg.Sonarr = []InstanceConfig{{Name: "main", URL: "http://x", APIKey: "k", Enabled: true}}
	cfg.applyEnvInstances(func(k string) string { return env[k] })
	require.Len(t, cfg.Sonarr, 1)
	assert.Equal(t, "main", cfg.Sonarr[0].Name)
}

func TestNormalize(t *testing.T) {
	cfg := Default()
	cfg.Search.SearchesPerCycle = -3
	cfg.Search.HotPercent = -10
	cfg.Search.RecentResultsLimit = 10000
	cfg.Search.MilestonesMonths = []int{0, 3, -1, 12}
	cfg.Tiers = TiersConfig{HotDays: 400, WarmDays: 100, CoolDays: 0}
	cfg.QuietHours.StartHour = 25
	cfg.Queue.WaitBeforeAction = -time.Minute
	cfg.Attribution.MaxFinds = 0
	cfg.Email.Port = 0
	cfg.Radarr = []InstanceConfig{{URL: "http://a/"}, {URL: "http://b"}}

	cfg.Normalize()

	assert.Equal(t, 10, cfg.Search.SearchesPerCycle)
	assert.Equal(t, 0, cfg.Search.HotPercent)
	assert.Equal(t, 500, cfg.Search.RecentResultsLimit)
	assert.Equal(t, []int{3, 12}, cfg.Search.MilestonesMonths)
	assert.Equal(t, TiersConfig{HotDays: 400, WarmDays: 400, CoolDays: 1095}, cfg.Tiers)
	assert.Equal(t, 2, cfg.QuietHours.StartHour)
	assert.Equal(t, 30*time.Minute, cfg.Queue.WaitBeforeAction)
	assert.Equal(t, 1000, cfg.Attribution.MaxFinds)
	assert.Equal(t, 587, cfg.Email.Port)
	assert.Equal(t, "Radarr", cfg.Radarr[0].Name)
	assert.Equal(t, "Radarr 2", cfg.Radarr[1].Name)
	assert.Equal(t, "http://a", cfg.Radarr[0].URL)
}

func TestYAML_RoundTrip(t *testing.T) {
	d := Default()
	out, err := d.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "cycle_interval: 1h0m0s")

	cfg, err := Load(writeConfig(t, string(out)))
	require.NoError(t, err)
	assert.Equal(t, d.Search, cfg.Search)
	assert.Equal(t, d.Queue, cfg.Queue)
	assert.Equal(t, d.Email, cfg.Email)
}

func TestAddress(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 8585}
	assert.Equal(t, "127.0.0.1:8585", s.Address())
}
