// Package tiers classifies wanted content into age-based priority tiers.
package tiers

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Tier is an age bucket. HOT is the most recently released content.
type Tier string

const (
	Hot  Tier = "hot"
	Warm Tier = "warm"
	Cool Tier = "cool"
	Cold Tier = "cold"
)

// UnknownAgeDays is reported for items without any release or air date.
const UnknownAgeDays = 9999

// All returns the tiers in priority order.
func All() []Tier {
	return []Tier{Hot, Warm, Cool, Cold}
}

// Priority returns 0 for HOT through 3 for COLD.
func (t Tier) Priority() int {
	switch t {
	case Hot:
		return 0
	case Warm:
		return 1
	case Cool:
		return 2
	default:
		return 3
	}
}

// Valid reports whether t is one of the four known tiers.
func (t Tier) Valid() bool {
	switch t {
	case Hot, Warm, Cool, Cold:
		return true
	}
	return false
}

// Thresholds holds the inclusive upper bound, in days, of each tier.
type Thresholds struct {
	HotDays  int `mapstructure:"hot_days" json:"hotDays"`
	WarmDays int `mapstructure:"warm_days" json:"warmDays"`
	CoolDays int `mapstructure:"cool_days" json:"coolDays"`
}

// DefaultThresholds returns 90/365/1095.
func DefaultThresholds() Thresholds {
	return Thresholds{HotDays: 90, WarmDays: 365, CoolDays: 1095}
}

// Normalize replaces non-positive bounds with defaults and forces the bounds
// to be non-decreasing.
func (th Thresholds) Normalize() Thresholds {
	def := DefaultThresholds()
	if th.HotDays <= 0 {
		th.HotDays = def.HotDays
	}
	if th.WarmDays <= 0 {
		th.WarmDays = def.WarmDays
	}
	if th.CoolDays <= 0 {
		th.CoolDays = def.CoolDays
	}
	if th.WarmDays < th.HotDays {
		th.WarmDays = th.HotDays
	}
	if th.CoolDays < th.WarmDays {
		th.CoolDays = th.WarmDays
	}
	return th
}

// AgeDays returns whole days elapsed since ref. Future dates report 0 and a
// nil ref reports UnknownAgeDays.
func AgeDays(now time.Time, ref *time.Time) int {
	if ref == nil {
		return UnknownAgeDays
	}
	d := now.Sub(*ref)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// ClassifyAt buckets ref relative to now.
func ClassifyAt(now time.Time, ref *time.Time, th Thresholds) Tier {
	if ref == nil {
		return Cold
	}
	if ref.After(now) {
		return Hot
	}
	age := AgeDays(now, ref)
	switch {
	case age <= th.HotDays:
		return Hot
	case age <= th.WarmDays:
		return Warm
	case age <= th.CoolDays:
		return Cool
	default:
		return Cold
	}
}

// Classifier classifies against a clock.
type Classifier struct {
	thresholds Thresholds
	clock      clockwork.Clock
}

// NewClassifier creates a classifier. A nil clock uses the real clock.
func NewClassifier(th Thresholds, clock clockwork.Clock) *Classifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Classifier{thresholds: th.Normalize(), clock: clock}
}

// Classify returns the tier and age in days of ref.
func (c *Classifier) Classify(ref *time.Time) (Tier, int) {
	now := c.clock.Now()
	return ClassifyAt(now, ref, c.thresholds), AgeDays(now, ref)
}

// Thresholds returns the normalized thresholds in use.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// MovieReleaseDate returns the earliest of the given release dates.
func MovieReleaseDate(dates ...*time.Time) *time.Time {
	var earliest *time.Time
	for _, d := range dates {
		if d == nil || d.IsZero() {
			continue
		}
		if earliest == nil || d.Before(*earliest) {
			earliest = d
		}
	}
	return earliest
}

// EpisodeAirDate prefers the UTC air timestamp and falls back to the local
// air date.
func EpisodeAirDate(utc, local *time.Time) *time.Time {
	if utc != nil && !utc.IsZero() {
		return utc
	}
	if local != nil && !local.IsZero() {
		return local
	}
	return nil
}
