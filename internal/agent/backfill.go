package agent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// BackfillOptions bounds the startup history replay.
type BackfillOptions struct {
	// Limit is the number of recent messages fetched per channel; zero
	// disables backfill.
	Limit int
	// Window skips messages older than now-Window. Zero keeps everything.
	Window time.Duration
	Now    func() time.Time
}

// Backfill replays recent channel history into the store so threads have
// context from before the process started. It never triggers replies.
// It returns how many messages were recorded.
func (s *Supervisor) Backfill(ctx context.Context) (int, error) {
	if s.backfill.Limit <= 0 {
		return 0, nil
	}
	now := time.Now
	if s.backfill.Now != nil {
		now = s.backfill.Now
	}
	channelIDs, err := s.client.Channels(ctx)
	if err != nil {
		return 0, fmt.Errorf("list channels: %w", err)
	}

	var errs []error
	recorded := 0
	for _, channelID := range channelIDs {
		msgs, err := s.client.Recent(ctx, channelID, s.backfill.Limit)
		if err != nil {
			errs = append(errs, fmt.Errorf("recent %s: %w", channelID, err))
			continue
		}
		cutoff := now().Add(-s.backfill.Window)
		for _, msg := range msgs {
			if s.backfill.Window > 0 && msg.Timestamp.Before(cutoff) {
				continue
			}
			msg.Backfill = true
			m, ok := s.norm.Normalize(ctx, msg)
			if !ok {
				continue
			}
			s.store.EnsureThread(msg.AuthorID)
			s.record(m, msg)
			recorded++
		}
		s.logger.Debug("Channel backfilled", "channel", channelID, "fetched", len(msgs))
	}
	s.metrics.SetThreads(len(s.store.Participants()))
	return recorded, errors.Join(errs...)
}
