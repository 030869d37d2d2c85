// Package pacing derives per-tier cooldowns and attempt limits from a single
// daily search budget.
package pacing

import (
	"time"

	"github.com/machinarr/machinarr/internal/tiers"
)

// Preset names a pacing profile.
type Preset string

const (
	Steady  Preset = "steady"
	Fast    Preset = "fast"
	Faster  Preset = "faster"
	Blazing Preset = "blazing"
)

// Manual is the EscalateTo sentinel meaning automatic retries stop and the
// item is flagged for a human.
const Manual time.Duration = -1

// TierConfig is the search policy for one tier under one preset.
type TierConfig struct {
	Cooldown          time.Duration `json:"cooldown"`
	MaxAttempts       int           `json:"maxAttempts"`
	EscalateTo        time.Duration `json:"escalateTo"`
	NotifyAfterMonths int           `json:"notifyAfterMonths,omitempty"`
}

// EscalatesToManual reports whether exhaustion requires a human.
func (c TierConfig) EscalatesToManual() bool {
	return c.EscalateTo == Manual
}

// CurrentCooldown returns the cooldown that applies after searchCount
// attempts. exhausted is true once searchCount reaches MaxAttempts; for manual
// tiers the returned cooldown is then meaningless.
func (c TierConfig) CurrentCooldown(searchCount int) (cooldown time.Duration, exhausted bool) {
	if searchCount < c.MaxAttempts {
		return c.Cooldown, false
	}
	if c.EscalatesToManual() {
		return c.Cooldown, true
	}
	return c.EscalateTo, true
}

// TotalWindow approximates how long it takes to burn through MaxAttempts at
// the base cooldown.
func (c TierConfig) TotalWindow() time.Duration {
	return time.Duration(c.MaxAttempts) * c.Cooldown
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

var table = map[Preset]map[tiers.Tier]TierConfig{
	Steady: {
		tiers.Hot:  {Cooldown: minutes(60), MaxAttempts: 24, EscalateTo: Manual},
		tiers.Warm: {Cooldown: minutes(360), MaxAttempts: 8, EscalateTo: Manual},
		tiers.Cool: {Cooldown: minutes(10080), MaxAttempts: 4, EscalateTo: minutes(43200), NotifyAfterMonths: 1},
		tiers.Cold: {Cooldown: minutes(43200), MaxAttempts: 3, EscalateTo: minutes(129600), NotifyAfterMonths: 3},
	},
	Fast: {
		tiers.Hot:  {Cooldown: minutes(30), MaxAttempts: 16, EscalateTo: Manual},
		tiers.Warm: {Cooldown: minutes(180), MaxAttempts: 8, EscalateTo: Manual},
		tiers.Cool: {Cooldown: minutes(4320), MaxAttempts: 7, EscalateTo: minutes(20160), NotifyAfterMonths: 1},
		tiers.Cold: {Cooldown: minutes(20160), MaxAttempts: 4, EscalateTo: minutes(43200), NotifyAfterMonths: 3},
	},
	Faster: {
		tiers.Hot:  {Cooldown: minutes(15), MaxAttempts: 16, EscalateTo: Manual},
		tiers.Warm: {Cooldown: minutes(60), MaxAttempts: 8, EscalateTo: Manual},
		tiers.Cool: {Cooldown: minutes(1440), MaxAttempts: 7, EscalateTo: minutes(10080), NotifyAfterMonths: 1},
		tiers.Cold: {Cooldown: minutes(10080), MaxAttempts: 4, EscalateTo: minutes(20160), NotifyAfterMonths: 2},
	},
	Blazing: {
		tiers.Hot:  {Cooldown: minutes(10), MaxAttempts: 12, EscalateTo: Manual},
		tiers.Warm: {Cooldown: minutes(30), MaxAttempts: 8, EscalateTo: Manual},
		tiers.Cool: {Cooldown: minutes(360), MaxAttempts: 14, EscalateTo: minutes(4320), NotifyAfterMonths: 1},
		tiers.Cold: {Cooldown: minutes(4320), MaxAttempts: 10, EscalateTo: minutes(10080), NotifyAfterMonths: 1},
	},
}

// ResolvePreset maps a daily budget to a preset.
func ResolvePreset(dailyBudget int) Preset {
	switch {
	case dailyBudget <= 500:
		return Steady
	case dailyBudget <= 2000:
		return Fast
	case dailyBudget <= 5000:
		return Faster
	default:
		return Blazing
	}
}

// For returns the tier policy under preset. Unknown presets fall back to
// steady and unknown tiers to COLD.
func For(preset Preset, tier tiers.Tier) TierConfig {
	byTier, ok := table[preset]
	if !ok {
		byTier = table[Steady]
	}
	cfg, ok := byTier[tier]
	if !ok {
		cfg = byTier[tiers.Cold]
	}
	return cfg
}

// Model binds a preset resolved from a budget.
type Model struct {
	preset Preset
}

// NewModel resolves the preset for dailyBudget.
func NewModel(dailyBudget int) *Model {
	return &Model{preset: ResolvePreset(dailyBudget)}
}

// Preset returns the active preset.
func (m *Model) Preset() Preset {
	return m.preset
}

// For returns the tier policy under the active preset.
func (m *Model) For(tier tiers.Tier) TierConfig {
	return For(m.preset, tier)
}

// Describe returns the whole active table keyed by tier.
func (m *Model) Describe() map[tiers.Tier]TierConfig {
	out := make(map[tiers.Tier]TierConfig, 4)
	for _, t := range tiers.All() {
		out[t] = m.For(t)
	}
	return out
}
