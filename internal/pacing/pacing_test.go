package pacing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/machinarr/machinarr/internal/tiers"
)

func TestResolvePreset(t *testing.T) {
	tests := []struct {
		budget int
		want   Preset
	}{
		{0, Steady},
		{500, Steady},
		{501, Fast},
		{2000, Fast},
		{2001, Faster},
		{5000, Faster},
		{5001, Blazing},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolvePreset(tt.budget), "budget %d", tt.budget)
	}
}

func TestTableShape(t *testing.T) {
	for _, preset := range []Preset{Steady, Fast, Faster, Blazing} {
		hot := For(preset, tiers.Hot)
		warm := For(preset, tiers.Warm)
		cool := For(preset, tiers.Cool)
		cold := For(preset, tiers.Cold)

		assert.True(t, hot.EscalatesToManual(), "%s hot", preset)
		assert.True(t, warm.EscalatesToManual(), "%s warm", preset)
		assert.False(t, cool.EscalatesToManual(), "%s cool", preset)
		assert.False(t, cold.EscalatesToManual(), "%s cold", preset)

		assert.Less(t, hot.Cooldown, warm.Cooldown, "%s", preset)
		assert.Less(t, warm.Cooldown, cool.Cooldown, "%s", preset)
		assert.Less(t, cool.Cooldown, cold.Cooldown, "%s", preset)
		assert.Greater(t, cold.EscalateTo, cold.Cooldown, "%s", preset)
		assert.Greater(t, cool.EscalateTo, cool.Cooldown, "%s", preset)
	}
}

func TestNotifyAfterMonths(t *testing.T) {
	tests := []struct {
		preset     Preset
		cool, cold int
	}{
		{Steady, 1, 3},
		{Fast, 1, 3},
		{Faster, 1, 2},
		{Blazing, 1, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.cool, For(tt.preset, tiers.Cool).NotifyAfterMonths, "%s cool", tt.preset)
		assert.Equal(t, tt.cold, For(tt.preset, tiers.Cold).NotifyAfterMonths, "%s cold", tt.preset)
		assert.Zero(t, For(tt.preset, tiers.Hot).NotifyAfterMonths, "%s hot", tt.preset)
	}
}

func TestCurrentCooldown(t *testing.T) {
	t.Run("hot exhausts to manual", func(t *testing.T) {
		cfg := For(Steady, tiers.Hot)
		cd, exhausted := cfg.CurrentCooldown(23)
		assert.Equal(t, 60*time.Minute, cd)
		assert.False(t, exhausted)

		_, exhausted = cfg.CurrentCooldown(24)
		assert.True(t, exhausted)
	})

	t.Run("cold slows down", func(t *testing.T) {
		cfg := For(Steady, tiers.Cold)
		cd, exhausted := cfg.CurrentCooldown(2)
		assert.Equal(t, 43200*time.Minute, cd)
		assert.False(t, exhausted)

		cd, exhausted = cfg.CurrentCooldown(3)
		assert.Equal(t, 129600*time.Minute, cd)
		assert.True(t, exhausted)
	})
}

func TestFor_UnknownPresetFallsBack(t *testing.T) {
	assert.Equal(t, For(Steady, tiers.Warm), For(Preset("bogus"), tiers.Warm))
}

func TestModel_Describe(t *testing.T) {
	m := NewModel(3000)
	assert.Equal(t, Faster, m.Preset())
	assert.Len(t, m.Describe(), 4)
}
