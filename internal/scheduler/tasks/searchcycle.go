package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/machinarr/machinarr/internal/scheduler"
	"github.com/machinarr/machinarr/internal/searcher"
)

const SearchCycleTaskID = "search-cycle"

// RegisterSearchCycleTask registers the periodic search cycle. A cycle
// started manually through the API is not an error for the scheduled run.
func RegisterSearchCycleTask(sched *scheduler.Scheduler, s *searcher.Searcher, interval time.Duration) error {
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          SearchCycleTaskID,
		Name:        "Search Cycle",
		Description: "Searches a budgeted, tier-weighted selection of missing and upgradable items",
		Interval:    interval,
		Timeout:     interval,
		RunOnStart:  false,
		Func: func(ctx context.Context) error {
			_, err := s.RunCycle(ctx)
			if errors.Is(err, searcher.ErrCycleRunning) {
				return nil
			}
			return err
		},
	})
}
