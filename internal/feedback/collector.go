package feedback

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/scalytics/parley/internal/bus"
	"github.com/scalytics/parley/internal/metrics"
	"github.com/scalytics/parley/internal/session"
)

// Collector turns reactions on assistant messages into saved examples.
type Collector struct {
	store   *Store
	threads *session.Store
	history int
	emojis  map[string]struct{}
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewCollector creates a Collector. An empty emoji list accepts any reaction.
func NewCollector(store *Store, threads *session.Store, historyLength int, emojis []string, m *metrics.Metrics, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLength <= 0 {
		historyLength = 10
	}
	set := make(map[string]struct{}, len(emojis))
	for _, e := range emojis {
		if e = strings.Trim(strings.TrimSpace(e), ":"); e != "" {
			set[e] = struct{}{}
		}
	}
	return &Collector{
		store:   store,
		threads: threads,
		history: historyLength,
		emojis:  set,
		metrics: m,
		logger:  logger.With("component", "feedback"),
		now:     time.Now,
	}
}

// Capture saves the assistant-thread excerpt ending at the reacted message.
// It returns false when the reaction does not qualify or was already saved.
func (c *Collector) Capture(ctx context.Context, ev *bus.ReactionEvent) (bool, error) {
	self := c.threads.AssistantID()
	if ev == nil || self == "" || ev.UserID == self || ev.MessageAuthorID != self {
		return false, nil
	}
	if len(c.emojis) > 0 {
		if _, ok := c.emojis[strings.Trim(ev.Emoji, ":")]; !ok {
			return false, nil
		}
	}
	thread, ok := c.threads.Thread(self)
	if !ok || !thread.Contains(ev.MessageID) {
		c.logger.Info("Reacted message not in history, skipping", "message_id", ev.MessageID)
		return false, nil
	}

	var excerpt []session.Message
	for _, m := range thread.Messages() {
		excerpt = append(excerpt, m)
		if m.MessageID == ev.MessageID {
			break
		}
	}
	if len(excerpt) > c.history {
		excerpt = excerpt[len(excerpt)-c.history:]
	}

	saved, err := c.store.Save(ctx, Example{
		MessageID:  ev.MessageID,
		ChannelID:  ev.ChannelID,
		ReactorID:  ev.UserID,
		Emoji:      ev.Emoji,
		CapturedAt: c.now(),
		Messages:   excerpt,
	})
	if err != nil {
		return false, err
	}
	if saved {
		c.metrics.FeedbackCaptured()
		c.logger.Info("Captured training example", "message_id", ev.MessageID, "messages", len(excerpt), "emoji", ev.Emoji)
	}
	return saved, nil
}
