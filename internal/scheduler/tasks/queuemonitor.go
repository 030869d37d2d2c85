package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/attribution"
	"github.com/machinarr/machinarr/internal/health"
	"github.com/machinarr/machinarr/internal/queuemonitor"
	"github.com/machinarr/machinarr/internal/scheduler"
)

const QueueMonitorTaskID = "queue-monitor"

// QueuePoller fetches each instance's queue once per run and hands it to
// both the attributor and the stuck-download monitor.
type QueuePoller struct {
	services []arr.Service
	tracker  *attribution.Tracker
	monitor  *queuemonitor.Monitor
	health   *health.Service
	logger   zerolog.Logger
}

// NewQueuePoller creates a poller over services.
func NewQueuePoller(services []arr.Service, tracker *attribution.Tracker, monitor *queuemonitor.Monitor, logger zerolog.Logger) *QueuePoller {
	return &QueuePoller{
		services: services,
		tracker:  tracker,
		monitor:  monitor,
		logger:   logger.With().Str("component", "queue-poller").Logger(),
	}
}

// SetHealth records each fetch outcome against the instance's health item.
func (p *QueuePoller) SetHealth(h *health.Service) {
	p.health = h
}

// Run polls every instance. A failing instance is skipped; the run only
// fails when no instance could be read.
func (p *QueuePoller) Run(ctx context.Context) error {
	var failed int
	var lastErr error
	for _, svc := range p.services {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		queue, err := svc.ListQueue(ctx)
		if p.health != nil {
			p.health.RecordResult(health.CategoryInstances, health.InstanceID(string(svc.Source()), svc.Name()), err)
		}
		if err != nil {
			failed++
			lastErr = err
			p.logger.Warn().Err(err).Str("instance", svc.Name()).Msg("Failed to fetch queue")
			continue
		}

		candidates := p.tracker.ObserveQueue(svc.Source(), svc.Name(), queue)
		res := p.monitor.Poll(ctx, svc, queue)

		ev := p.logger.Debug()
		if len(res.Resolved) > 0 || res.Failed > 0 {
			ev = p.logger.Info()
		}
		ev.Str("instance", svc.Name()).
			Int("queued", len(queue)).
			Int("candidates", len(candidates)).
			Int("stuck", res.Stuck).
			Int("resolved", len(res.Resolved)).
			Int("failed", res.Failed).
			Msg("Queue polled")
	}
	if len(p.services) > 0 && failed == len(p.services) {
		return fmt.Errorf("all %d queue fetches failed: %w", failed, lastErr)
	}
	return nil
}

// RegisterQueueMonitorTask registers the queue poll.
func RegisterQueueMonitorTask(sched *scheduler.Scheduler, poller *QueuePoller, interval time.Duration) error {
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          QueueMonitorTaskID,
		Name:        "Queue Monitor",
		Description: "Detects stuck downloads and records queue sightings of searched items",
		Interval:    interval,
		Timeout:     interval,
		RunOnStart:  true,
		Func:        poller.Run,
	})
}
