// Package notification batches finds and urgent interventions into a
// periodic digest message.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/machinarr/machinarr/internal/attribution"
	"github.com/machinarr/machinarr/internal/intervention"
	"github.com/machinarr/machinarr/internal/tiers"
)

// maxQueued bounds the finds held between flushes while delivery fails.
const maxQueued = 500

// Sender delivers one message.
type Sender interface {
	Name() string
	Send(ctx context.Context, subject, body string) error
}

// Result summarizes one flush.
type Result struct {
	Sent          bool `json:"sent"`
	Finds         int  `json:"finds"`
	Interventions int  `json:"interventions"`
}

// Digest collects confirmed finds and reports them together with new
// high-urgency interventions.
type Digest struct {
	sender        Sender
	interventions *intervention.Service
	clock         clockwork.Clock
	logger        zerolog.Logger

	mu    sync.Mutex
	finds []attribution.Find
}

// NewDigest creates a digest delivered through sender.
func NewDigest(sender Sender, interventions *intervention.Service, clock clockwork.Clock, logger zerolog.Logger) *Digest {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Digest{
		sender:        sender,
		interventions: interventions,
		clock:         clock,
		logger:        logger.With().Str("component", "notification").Str("sender", sender.Name()).Logger(),
	}
}

// SenderName names the transport digests go out through.
func (d *Digest) SenderName() string {
	return d.sender.Name()
}

// AddFind queues a find for the next digest.
func (d *Digest) AddFind(f attribution.Find) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finds = append(d.finds, f)
	if len(d.finds) > maxQueued {
		d.finds = d.finds[len(d.finds)-maxQueued:]
	}
}

// Queued returns the number of finds waiting for the next digest.
func (d *Digest) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.finds)
}

// Flush sends one message covering everything queued. Finds and
// interventions are only cleared once the message went out.
func (d *Digest) Flush(ctx context.Context) (Result, error) {
	d.mu.Lock()
	finds := append([]attribution.Find(nil), d.finds...)
	d.mu.Unlock()
	pending := d.interventions.Pending()

	res := Result{Finds: len(finds), Interventions: len(pending)}
	if len(finds) == 0 && len(pending) == 0 {
		return res, nil
	}

	subject, body := d.compose(finds, pending)
	if err := d.sender.Send(ctx, subject, body); err != nil {
		return res, fmt.Errorf("send digest: %w", err)
	}
	res.Sent = true

	d.mu.Lock()
	// Finds added while sending stay queued.
	d.finds = d.finds[min(len(finds), len(d.finds)):]
	d.mu.Unlock()

	if len(pending) > 0 {
		keys := make([]string, len(pending))
		for i := range pending {
			keys[i] = pending[i].Key()
		}
		d.interventions.MarkNotified(keys)
	}

	d.logger.Info().Int("finds", len(finds)).Int("interventions", len(pending)).Msg("Digest sent")
	return res, nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}

func (d *Digest) compose(finds []attribution.Find, pending []intervention.Entry) (string, string) {
	var parts []string
	if len(finds) > 0 {
		parts = append(parts, plural(len(finds), "new find", "new finds"))
	}
	if len(pending) > 0 {
		parts = append(parts, plural(len(pending), "item needs attention", "items need attention"))
	}
	subject := strings.Join(parts, ", ")

	var b strings.Builder
	if len(finds) > 0 {
		b.WriteString("New finds:\n")
		for _, t := range tiers.All() {
			for _, f := range finds {
				if f.Tier != t {
					continue
				}
				fmt.Fprintf(&b, "  [%s] %s (%s, %s)\n", strings.ToUpper(string(f.Tier)), f.Title, f.Instance, f.ResolutionType)
			}
		}
		for _, f := range finds {
			if !f.Tier.Valid() {
				fmt.Fprintf(&b, "  %s (%s, %s)\n", f.Title, f.Instance, f.ResolutionType)
			}
		}
	}
	if len(pending) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Needs attention:\n")
		for _, e := range pending {
			fmt.Fprintf(&b, "  %s: %s (%s)\n", e.Title, e.Reason, e.Type)
		}
	}
	fmt.Fprintf(&b, "\nSent at %s", d.clock.Now().UTC().Format("2006-01-02 15:04 UTC"))
	return subject, b.String()
}
