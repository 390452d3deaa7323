package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/scalytics/parley/internal/metrics"
	"github.com/scalytics/parley/internal/session"
)

// RetentionJobName is the name the retention sweep registers under.
const RetentionJobName = "retention"

// RetentionJob prunes messages older than window from every thread.
func RetentionJob(cron string, store *session.Store, window time.Duration, m *metrics.Metrics, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		Name: RetentionJobName,
		Cron: cron,
		Run: func(_ context.Context, now time.Time) error {
			removed := store.Prune(now.Add(-window))
			m.Pruned(removed)
			m.SetThreads(len(store.Participants()))
			if removed > 0 {
				logger.Info("Retention sweep", "removed", removed, "window", window)
			}
			return nil
		},
	}
}
