package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/attribution"
	"github.com/machinarr/machinarr/internal/scheduler"
)

const AttributionVerifyTaskID = "attribution-verify"

// RegisterAttributionVerifyTask confirms pending finds against each
// instance and expires the ones that never completed.
func RegisterAttributionVerifyTask(sched *scheduler.Scheduler, tracker *attribution.Tracker, services []arr.Service, interval time.Duration, logger zerolog.Logger) error {
	log := logger.With().Str("component", "attribution-verify").Logger()
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          AttributionVerifyTaskID,
		Name:        "Find Verification",
		Description: "Confirms grabbed items that now have a file and expires stale candidates",
		Interval:    interval,
		Timeout:     interval,
		Func: func(ctx context.Context) error {
			if n := tracker.Expire(); n > 0 {
				log.Info().Int("expired", n).Msg("Expired unconfirmed finds")
			}
			for _, svc := range services {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				res := tracker.Verify(ctx, svc.Source(), svc.Name(), svc)
				if len(res.Confirmed) > 0 || res.Errors > 0 {
					log.Info().
						Str("instance", svc.Name()).
						Int("confirmed", len(res.Confirmed)).
						Int("dropped", res.Dropped).
						Int("errors", res.Errors).
						Msg("Verified pending finds")
				}
			}
			return nil
		},
	})
}
