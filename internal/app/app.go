// Package app builds the components from configuration and connects them.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/attribution"
	"github.com/machinarr/machinarr/internal/budget"
	"github.com/machinarr/machinarr/internal/config"
	"github.com/machinarr/machinarr/internal/database"
	"github.com/machinarr/machinarr/internal/health"
	"github.com/machinarr/machinarr/internal/intervention"
	"github.com/machinarr/machinarr/internal/notification"
	"github.com/machinarr/machinarr/internal/notification/email"
	"github.com/machinarr/machinarr/internal/notification/mock"
	"github.com/machinarr/machinarr/internal/pacing"
	"github.com/machinarr/machinarr/internal/persist"
	"github.com/machinarr/machinarr/internal/queuemonitor"
	"github.com/machinarr/machinarr/internal/scheduler"
	"github.com/machinarr/machinarr/internal/scheduler/tasks"
	"github.com/machinarr/machinarr/internal/searcher"
	"github.com/machinarr/machinarr/internal/store"
	"github.com/machinarr/machinarr/internal/tiers"
)

// callbackTimeout bounds service calls made from component callbacks, which
// have no request context of their own.
const callbackTimeout = 30 * time.Second

// Broadcaster is the interface for broadcasting live events.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// Option customizes New.
type Option func(*options)

type options struct {
	clock    clockwork.Clock
	services []arr.Service
	sender   notification.Sender
}

// WithClock replaces the wall clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithServices replaces the instances built from configuration.
func WithServices(services ...arr.Service) Option {
	return func(o *options) { o.services = services }
}

// WithSender replaces the digest transport.
func WithSender(s notification.Sender) Option {
	return func(o *options) { o.sender = s }
}

// App owns every component.
type App struct {
	cfg       *config.Config
	clock     clockwork.Clock
	logger    zerolog.Logger
	startedAt time.Time

	services   []arr.Service
	byInstance map[string]arr.Service

	ledger        *budget.Ledger
	classifier    *tiers.Classifier
	pacing        *pacing.Model
	interventions *intervention.Service
	tracker       *attribution.Tracker
	searcher      *searcher.Searcher
	monitor       *queuemonitor.Monitor
	sender        notification.Sender
	digest        *notification.Digest
	flusher       *persist.Flusher
	health        *health.Service
	scheduler     *scheduler.Scheduler
	poller        *tasks.QueuePoller
}

// New builds the application. db may be nil, in which case state lives in
// memory only. hub may be nil.
func New(cfg *config.Config, db *database.DB, hub Broadcaster, logger zerolog.Logger, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}

	a := &App{
		cfg:        cfg,
		clock:      o.clock,
		logger:     logger.With().Str("component", "app").Logger(),
		startedAt:  o.clock.Now(),
		services:   o.services,
		byInstance: make(map[string]arr.Service),
	}
	if a.services == nil {
		for _, cc := range clientConfigs(cfg) {
			a.services = append(a.services, arr.NewClient(cc, logger))
		}
	}
	for _, svc := range a.services {
		a.byInstance[instanceKey(svc.Source(), svc.Name())] = svc
	}

	a.ledger = budget.NewLedger(cfg.Search.DailyAPILimit, a.clock)
	a.classifier = tiers.NewClassifier(thresholds(cfg), a.clock)
	a.pacing = pacing.NewModel(cfg.Search.DailyAPILimit)
	a.interventions = intervention.NewService(a.clock, logger)
	a.tracker = attribution.NewTracker(attributionConfig(cfg), a.ledger, a.clock, logger)
	a.searcher = searcher.New(searcherConfig(cfg), searcher.Deps{
		Services:      a.services,
		Classifier:    a.classifier,
		Pacing:        a.pacing,
		Ledger:        a.ledger,
		Interventions: a.interventions,
		Tracker:       a.tracker,
		Clock:         a.clock,
	}, logger)
	a.monitor = queuemonitor.New(monitorConfig(cfg), a.interventions, a.clock, logger)

	a.sender = o.sender
	if a.sender == nil {
		if cfg.Email.Enabled {
			a.sender = email.New(emailSettings(cfg), logger)
		} else {
			logNotifier := mock.New(a.clock, logger)
			if hub != nil {
				logNotifier.SetBroadcaster(hub)
			}
			a.sender = logNotifier
		}
	}
	a.digest = notification.NewDigest(a.sender, a.interventions, a.clock, logger)

	a.health = health.NewService(a.clock, logger)
	for _, svc := range a.services {
		a.health.RegisterItem(health.CategoryInstances, health.InstanceID(string(svc.Source()), svc.Name()), svc.Name())
	}
	a.health.RegisterItem(health.CategoryNotifier, a.sender.Name(), a.sender.Name())

	if hub != nil {
		a.health.SetBroadcaster(hub)
		a.interventions.SetBroadcaster(hub)
		a.tracker.SetBroadcaster(hub)
		a.searcher.SetBroadcaster(hub)
		a.monitor.SetBroadcaster(hub)
	}

	if db != nil {
		q := store.New(db.Conn())
		a.ledger.SetStore(q)
		a.interventions.SetStore(q)
		a.tracker.SetStore(q)
		a.searcher.SetStore(q)
	}
	a.flusher = persist.NewFlusher(persistConfig(cfg), a.clock, logger,
		a.ledger, a.interventions, a.tracker, a.searcher)

	a.tracker.OnFind(a.onFind)
	a.monitor.OnResolved(a.onResolved)

	sched, err := scheduler.New(a.clock, logger)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	a.scheduler = sched
	a.poller = tasks.NewQueuePoller(a.services, a.tracker, a.monitor, logger)
	a.poller.SetHealth(a.health)
	if err := a.registerTasks(logger); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) registerTasks(logger zerolog.Logger) error {
	cfg := a.cfg
	if cfg.Search.Enabled {
		if err := tasks.RegisterSearchCycleTask(a.scheduler, a.searcher, cfg.Search.CycleInterval); err != nil {
			return fmt.Errorf("register search cycle: %w", err)
		}
	}
	if err := tasks.RegisterQueueMonitorTask(a.scheduler, a.poller, cfg.Queue.PollInterval); err != nil {
		return fmt.Errorf("register queue monitor: %w", err)
	}
	if err := tasks.RegisterAttributionVerifyTask(a.scheduler, a.tracker, a.services, cfg.Attribution.VerifyInterval, logger); err != nil {
		return fmt.Errorf("register attribution verify: %w", err)
	}
	if err := tasks.RegisterStateFlushTask(a.scheduler, a.flusher, cfg.Persistence.FlushInterval); err != nil {
		return fmt.Errorf("register state flush: %w", err)
	}
	if err := tasks.RegisterNotificationFlushTask(a.scheduler, a.digest, a.health, cfg.Email.FlushInterval); err != nil {
		return fmt.Errorf("register notification flush: %w", err)
	}
	return nil
}

// Restore loads persisted state. A component that fails to load starts
// empty.
func (a *App) Restore(ctx context.Context) {
	type loader interface {
		Name() string
		Load(ctx context.Context) error
	}
	for _, c := range []loader{a.ledger, a.interventions, a.tracker, a.searcher} {
		if err := c.Load(ctx); err != nil {
			a.logger.Error().Err(err).Str("state", c.Name()).Msg("Failed to restore state, starting empty")
		}
	}
}

// Start begins running the scheduled tasks.
func (a *App) Start() error {
	a.logger.Info().
		Int("instances", len(a.services)).
		Str("preset", string(a.pacing.Preset())).
		Int("dailyLimit", a.ledger.Limit()).
		Msg("Starting automation")
	return a.scheduler.Start()
}

// Shutdown stops the scheduler, waiting for a running task up to the
// scheduler's stop timeout, then saves all state.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.scheduler.Stop(); err != nil {
		a.logger.Warn().Err(err).Msg("Scheduler did not stop cleanly")
	}
	if err := a.flusher.Flush(ctx, true); err != nil {
		return fmt.Errorf("final state flush: %w", err)
	}
	a.logger.Info().Msg("Automation stopped")
	return nil
}

func instanceKey(source arr.Source, instance string) string {
	return string(source) + ":" + instance
}

// CheckInstance pings one instance and records the outcome in its health
// item.
func (a *App) CheckInstance(ctx context.Context, svc arr.Service) error {
	err := svc.Ping(ctx)
	a.health.RecordResult(health.CategoryInstances, health.InstanceID(string(svc.Source()), svc.Name()), err)
	return err
}

// Service returns the instance named by source and name.
func (a *App) Service(source arr.Source, name string) (arr.Service, error) {
	svc, ok := a.byInstance[instanceKey(source, name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownInstance, source, name)
	}
	return svc, nil
}

// Services returns every configured instance.
func (a *App) Services() []arr.Service { return a.services }

// Component accessors used by the API.
func (a *App) Searcher() *searcher.Searcher         { return a.searcher }
func (a *App) Interventions() *intervention.Service { return a.interventions }
func (a *App) Monitor() *queuemonitor.Monitor       { return a.monitor }
func (a *App) Tracker() *attribution.Tracker        { return a.tracker }
func (a *App) Scheduler() *scheduler.Scheduler      { return a.scheduler }
func (a *App) Digest() *notification.Digest         { return a.digest }
func (a *App) Sender() notification.Sender          { return a.sender }
func (a *App) Ledger() *budget.Ledger               { return a.ledger }
func (a *App) Flusher() *persist.Flusher            { return a.flusher }
func (a *App) Health() *health.Service              { return a.health }
