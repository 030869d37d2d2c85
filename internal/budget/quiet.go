package budget

import "time"

// QuietHours suspends searching between StartHour (inclusive) and EndHour
// (exclusive), local to the configured location. Windows may wrap midnight.
type QuietHours struct {
	Enabled   bool `mapstructure:"enabled" json:"enabled"`
	StartHour int  `mapstructure:"start_hour" json:"startHour"`
	EndHour   int  `mapstructure:"end_hour" json:"endHour"`
}

// Active reports whether t falls inside the window.
func (q QuietHours) Active(t time.Time) bool {
	if !q.Enabled || q.StartHour == q.EndHour {
		return false
	}
	h := t.Hour()
	if q.StartHour < q.EndHour {
		return h >= q.StartHour && h < q.EndHour
	}
	return h >= q.StartHour || h < q.EndHour
}
