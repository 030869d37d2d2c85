package app

import (
	"context"
	"time"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/attribution"
	"github.com/machinarr/machinarr/internal/config"
	"github.com/machinarr/machinarr/internal/health"
	"github.com/machinarr/machinarr/internal/intervention"
	"github.com/machinarr/machinarr/internal/queuemonitor"
	"github.com/machinarr/machinarr/internal/searcher"
)

// InstanceStatus describes one configured instance.
type InstanceStatus struct {
	Source arr.Source          `json:"source"`
	Name   string              `json:"name"`
	Health health.HealthStatus `json:"health"`
}

// Status is the overall service state.
type Status struct {
	Version       string                    `json:"version"`
	StartedAt     time.Time                 `json:"startedAt"`
	Uptime        string                    `json:"uptime"`
	Instances     []InstanceStatus          `json:"instances"`
	SearchRunning bool                      `json:"searchRunning"`
	Search        searcher.Stats            `json:"search"`
	Queue         queuemonitor.Stats        `json:"queue"`
	Finds         attribution.Stats         `json:"finds"`
	Interventions map[intervention.Type]int `json:"interventions"`
	Notifier      string                    `json:"notifier"`
	QueuedFinds   int                       `json:"queuedFinds"`
	Health        health.HealthSummary      `json:"health"`
}

// Status gathers the state of every component.
func (a *App) Status() Status {
	st := Status{
		Version:       config.Version,
		StartedAt:     a.startedAt,
		Uptime:        a.clock.Since(a.startedAt).Round(time.Second).String(),
		Instances:     make([]InstanceStatus, 0, len(a.services)),
		SearchRunning: a.searcher.IsRunning(),
		Search:        a.searcher.Stats(),
		Queue:         a.monitor.Stats(),
		Finds:         a.tracker.Stats(),
		Interventions: a.interventions.Counts(),
		Notifier:      a.sender.Name(),
		QueuedFinds:   a.digest.Queued(),
		Health:        a.health.GetSummary(),
	}
	for _, svc := range a.services {
		is := InstanceStatus{Source: svc.Source(), Name: svc.Name(), Health: health.StatusOK}
		if item, ok := a.health.GetItem(health.CategoryInstances, health.InstanceID(string(svc.Source()), svc.Name())); ok {
			is.Health = item.Status
		}
		st.Instances = append(st.Instances, is)
	}
	return st
}

// SendTestNotification pushes a short message through the digest transport.
func (a *App) SendTestNotification(ctx context.Context) error {
	err := a.sender.Send(ctx, "Test notification", "This is a test notification from Machinarr.")
	a.health.RecordResult(health.CategoryNotifier, a.sender.Name(), err)
	return err
}
