package tasks

import (
	"context"
	"time"

	"github.com/machinarr/machinarr/internal/persist"
	"github.com/machinarr/machinarr/internal/scheduler"
)

const StateFlushTaskID = "state-flush"

// RegisterStateFlushTask saves components whose state changed enough or
// long enough ago.
func RegisterStateFlushTask(sched *scheduler.Scheduler, flusher *persist.Flusher, interval time.Duration) error {
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          StateFlushTaskID,
		Name:        "State Flush",
		Description: "Writes changed in-memory state to the database",
		Interval:    interval,
		Timeout:     time.Minute,
		Func: func(ctx context.Context) error {
			return flusher.Flush(ctx, false)
		},
	})
}
