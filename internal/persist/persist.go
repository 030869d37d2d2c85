// Package persist debounces snapshot writes of in-memory component state.
package persist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DirtyCounter counts unsaved mutations. Settle subtracts only what a save
// observed, so mutations racing a save are not lost.
type DirtyCounter struct {
	n atomic.Int64
}

// Mark records one mutation.
func (d *DirtyCounter) Mark() {
	d.n.Add(1)
}

// Count returns the number of unsaved mutations.
func (d *DirtyCounter) Count() int {
	return int(d.n.Load())
}

// Settle subtracts seen mutations after a successful save.
func (d *DirtyCounter) Settle(seen int) {
	d.n.Add(-int64(seen))
}

// Snapshotter is a component whose state can be written out.
type Snapshotter interface {
	Name() string
	Dirty() int
	Save(ctx context.Context) error
}

// Config controls the flush debounce.
type Config struct {
	// Interval is the longest a dirty component may stay unsaved.
	Interval time.Duration
	// Threshold saves a component immediately once it has this many
	// unsaved mutations.
	Threshold int
}

// Flusher saves components when they are dirty enough or stale enough.
type Flusher struct {
	cfg        Config
	components []Snapshotter
	lastSave   map[string]time.Time
	clock      clockwork.Clock
	logger     zerolog.Logger
	mu         sync.Mutex
}

// NewFlusher creates a flusher for components.
func NewFlusher(cfg Config, clock clockwork.Clock, logger zerolog.Logger, components ...Snapshotter) *Flusher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 50
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	f := &Flusher{
		cfg:        cfg,
		components: components,
		lastSave:   make(map[string]time.Time, len(components)),
		clock:      clock,
		logger:     logger.With().Str("component", "persist").Logger(),
	}
	now := clock.Now()
	for _, c := range components {
		f.lastSave[c.Name()] = now
	}
	return f
}

// Due reports whether c should be saved now.
func (f *Flusher) due(c Snapshotter, now time.Time) bool {
	dirty := c.Dirty()
	if dirty <= 0 {
		return false
	}
	if dirty >= f.cfg.Threshold {
		return true
	}
	return now.Sub(f.lastSave[c.Name()]) >= f.cfg.Interval
}

// Flush saves every due component, or every dirty one when force is set.
// Failures are logged and leave the component dirty; in-memory state keeps
// working. The first error is returned.
func (f *Flusher) Flush(ctx context.Context, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	now := f.clock.Now()
	for _, c := range f.components {
		if force {
			if c.Dirty() <= 0 {
				continue
			}
		} else if !f.due(c, now) {
			continue
		}

		if err := c.Save(ctx); err != nil {
			f.logger.Warn().Err(err).Str("snapshot", c.Name()).Msg("Failed to save state")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		f.lastSave[c.Name()] = now
		f.logger.Debug().Str("snapshot", c.Name()).Msg("Saved state")
	}
	return firstErr
}
