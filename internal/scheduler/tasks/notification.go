package tasks

import (
	"context"
	"time"

	"github.com/machinarr/machinarr/internal/health"
	"github.com/machinarr/machinarr/internal/notification"
	"github.com/machinarr/machinarr/internal/scheduler"
)

const NotificationFlushTaskID = "notification-flush"

// RegisterNotificationFlushTask sends the batched digest. hs may be nil.
func RegisterNotificationFlushTask(sched *scheduler.Scheduler, digest *notification.Digest, hs *health.Service, interval time.Duration) error {
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          NotificationFlushTaskID,
		Name:        "Notification Digest",
		Description: "Emails new finds and items that need attention",
		Interval:    interval,
		Timeout:     2 * time.Minute,
		Func: func(ctx context.Context) error {
			res, err := digest.Flush(ctx)
			if hs != nil && (res.Sent || err != nil) {
				hs.RecordResult(health.CategoryNotifier, digest.SenderName(), err)
			}
			return err
		},
	})
}
