package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/machinarr/machinarr/internal/arr"
	"github.com/machinarr/machinarr/internal/attribution"
	"github.com/machinarr/machinarr/internal/intervention"
	"github.com/machinarr/machinarr/internal/queuemonitor"
	"github.com/machinarr/machinarr/internal/searcher"
)

// DefaultDelay is how long the delay action holds an item back when the
// request names no duration.
const DefaultDelay = 7 * 24 * time.Hour

var (
	ErrUnknownInstance   = errors.New("unknown instance")
	ErrActionNotAllowed  = errors.New("action not offered for this intervention")
	ErrNoReleaseSelected = errors.New("no release selected")
)

// ActionRequest is a user's choice on an intervention.
type ActionRequest struct {
	Action intervention.Action `json:"action"`
	// Days overrides DefaultDelay for the delay action.
	Days int `json:"days,omitempty"`
	// GUID and IndexerID pick the release for grab_anyway. The best offered
	// release is used when GUID is empty.
	GUID      string `json:"guid,omitempty"`
	IndexerID int64  `json:"indexerId,omitempty"`
}

// ApplyIntervention dispatches an action to the component that owns the
// flagged item.
func (a *App) ApplyIntervention(ctx context.Context, key string, req ActionRequest) error {
	entry, ok := a.interventions.Get(key)
	if !ok {
		return fmt.Errorf("%w: %s", intervention.ErrNotFound, key)
	}
	if !entry.Allows(req.Action) {
		return fmt.Errorf("%w: %s on %s", ErrActionNotAllowed, req.Action, entry.Type)
	}

	log := a.logger.With().Str("intervention", key).Str("action", string(req.Action)).Logger()

	if entry.Type == intervention.TypeStuckQueue {
		_, err := a.ResolveQueue(ctx, entry.Source, entry.Instance, entry.ItemID, req.Action)
		return err
	}

	switch req.Action {
	case intervention.ActionDismiss, intervention.ActionKeepSearching:
		a.interventions.Remove(key)
	case intervention.ActionResetSearch:
		a.searcher.ResetSearchCount(entry.Source, entry.Instance, entry.ItemID)
		a.interventions.Remove(key)
	case intervention.ActionDelay:
		d := DefaultDelay
		if req.Days > 0 {
			d = time.Duration(req.Days) * 24 * time.Hour
		}
		a.searcher.Delay(entry.Source, entry.Instance, entry.ItemID, d)
		a.interventions.Remove(key)
	case intervention.ActionStopSearching:
		a.searcher.StopSearching(entry.Source, entry.Instance, entry.ItemID)
		a.interventions.Remove(key)
	case intervention.ActionDelete:
		svc, err := a.Service(entry.Source, entry.Instance)
		if err != nil {
			return err
		}
		if err := svc.Unmonitor(ctx, entry.ItemID); err != nil {
			return fmt.Errorf("unmonitor item %d: %w", entry.ItemID, err)
		}
		a.searcher.StopSearching(entry.Source, entry.Instance, entry.ItemID)
		a.interventions.Remove(key)
	case intervention.ActionGrabAnyway:
		if err := a.grabAnyway(ctx, entry, req); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %s on %s", ErrActionNotAllowed, req.Action, entry.Type)
	}

	log.Info().Str("title", entry.Title).Msg("Intervention action applied")
	return nil
}

func (a *App) grabAnyway(ctx context.Context, entry intervention.Entry, req ActionRequest) error {
	svc, err := a.Service(entry.Source, entry.Instance)
	if err != nil {
		return err
	}

	guid, indexerID := req.GUID, req.IndexerID
	if guid == "" {
		options := releaseOptions(entry.Details)
		if len(options) == 0 {
			return ErrNoReleaseSelected
		}
		guid, indexerID = options[0].GUID, options[0].IndexerID
	}

	hadFile := false
	if item, err := svc.GetItem(ctx, entry.ItemID); err == nil {
		hadFile = item.HasFile
	}
	if err := svc.GrabRelease(ctx, guid, indexerID); err != nil {
		return fmt.Errorf("grab release: %w", err)
	}

	a.interventions.Remove(entry.Key())
	a.tracker.WatchResolution(attribution.Watch{
		Source:         entry.Source,
		Instance:       entry.Instance,
		ItemID:         entry.ItemID,
		Title:          entry.Title,
		Tier:           entry.Tier,
		ResolutionType: attribution.ResolutionManualGrab,
		HadFile:        hadFile,
	})
	return nil
}

// releaseOptions reads the offered releases from intervention details. They
// are typed in memory and plain maps after a restore, so both go through
// JSON.
func releaseOptions(details map[string]any) []queuemonitor.ReleaseOption {
	raw, ok := details["releases"]
	if !ok {
		return nil
	}
	if opts, ok := raw.([]queuemonitor.ReleaseOption); ok {
		return opts
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var opts []queuemonitor.ReleaseOption
	if err := json.Unmarshal(data, &opts); err != nil {
		return nil
	}
	return opts
}

// ResolveQueue applies a manual resolution to a stuck download.
func (a *App) ResolveQueue(ctx context.Context, source arr.Source, instance string, queueID int64, action intervention.Action) (queuemonitor.Resolution, error) {
	svc, err := a.Service(source, instance)
	if err != nil {
		return queuemonitor.Resolution{}, err
	}
	return a.monitor.ResolveManual(ctx, svc, queueID, action)
}

// CheckReleases runs an interactive search for one item and raises a
// release_available intervention when only soft rejections stand in the
// way. The lookup counts against the daily budget.
func (a *App) CheckReleases(ctx context.Context, source arr.Source, instance string, itemID int64) (int, error) {
	svc, err := a.Service(source, instance)
	if err != nil {
		return 0, err
	}
	if !a.ledger.TryConsume() {
		return 0, searcher.ErrBudgetExhausted
	}
	item, err := svc.GetItem(ctx, itemID)
	if err != nil {
		return 0, fmt.Errorf("fetch item %d: %w", itemID, err)
	}
	releases, err := svc.ListReleases(ctx, itemID)
	if err != nil {
		return 0, fmt.Errorf("list releases for %d: %w", itemID, err)
	}
	tier, _ := a.classifier.Classify(item.ReleaseDate)
	n := a.monitor.AnalyzeReleases(source, instance, *item, tier, releases)
	a.logger.Info().
		Str("source", string(source)).
		Str("instance", instance).
		Int64("itemId", itemID).
		Int("releases", len(releases)).
		Int("grabbable", n).
		Msg("Releases checked")
	return n, nil
}

// RecordManualFind credits a find the user reports directly.
func (a *App) RecordManualFind(ctx context.Context, m attribution.ManualFind) (attribution.Find, bool, error) {
	svc, err := a.Service(m.Source, m.Instance)
	if err != nil {
		return attribution.Find{}, false, err
	}
	if m.Title == "" || m.Tier == "" {
		if item, err := svc.GetItem(ctx, m.ItemID); err == nil {
			if m.Title == "" {
				m.Title = item.DisplayTitle()
			}
			if m.Tier == "" {
				m.Tier, _ = a.classifier.Classify(item.ReleaseDate)
			}
			if m.ParentID == 0 {
				m.ParentID = item.ParentID
			}
		}
	}
	f, ok := a.tracker.RecordManualFind(m)
	return f, ok, nil
}

// onFind runs for every recorded find.
func (a *App) onFind(f attribution.Find) {
	a.searcher.MarkFound(f.Source, f.Instance, f.ItemID)
	a.digest.AddFind(f)
	for _, t := range []intervention.Type{
		intervention.TypeSearchExhausted,
		intervention.TypeLongMissing,
		intervention.TypeReleaseAvailable,
	} {
		a.interventions.RemoveFor(t, f.Source, f.Instance, f.ItemID)
	}
}

// onResolved watches items whose stuck download was blocklisted, since the
// service searches them again right away.
func (a *App) onResolved(r queuemonitor.Resolution) {
	if r.Action != intervention.ActionBlocklistRetry || r.ItemID == 0 {
		return
	}
	svc, err := a.Service(r.Source, r.Instance)
	if err != nil {
		return
	}

	w := attribution.Watch{
		Source:         r.Source,
		Instance:       r.Instance,
		ItemID:         r.ItemID,
		Title:          r.Title,
		ResolutionType: attribution.ResolutionAutoResolve,
	}
	if r.Manual {
		w.ResolutionType = attribution.ResolutionManual
	}

	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	if item, err := svc.GetItem(ctx, r.ItemID); err == nil {
		w.HadFile = item.HasFile
		w.Title = item.DisplayTitle()
		w.Tier, _ = a.classifier.Classify(item.ReleaseDate)
	} else {
		a.logger.Debug().Err(err).Int64("itemId", r.ItemID).Msg("Could not look up resolved item")
	}
	a.tracker.WatchResolution(w)
}
