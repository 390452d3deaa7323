// Package orchestrator runs one reply cycle per triggering message:
// classify, generate, deliver, and optionally follow up, with bounded
// retries around every external call.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/scalytics/parley/internal/assistant"
	"github.com/scalytics/parley/internal/audit"
	"github.com/scalytics/parley/internal/bus"
	"github.com/scalytics/parley/internal/channels"
	"github.com/scalytics/parley/internal/config"
	"github.com/scalytics/parley/internal/metrics"
	"github.com/scalytics/parley/internal/search"
	"github.com/scalytics/parley/internal/session"
)

// State is a reply cycle state.
type State string

const (
	StateClassifying State = "CLASSIFYING"
	StateGenerating  State = "GENERATING"
	StateDelivering  State = "DELIVERING"
	StateFollowup    State = "FOLLOWUP"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// PreconditionError marks a programming-contract violation. It is never retried.
type PreconditionError = search.PreconditionError

// Assistant is the classifier/generator the cycle consults.
type Assistant interface {
	Classify(ctx context.Context, history []session.Message) (assistant.Label, error)
	GenerateReply(ctx context.Context, history []session.Message, note string) (string, error)
	GenerateSearchQuery(ctx context.Context, label assistant.Label, history []session.Message) (string, error)
	IsFollowupNeeded(ctx context.Context, history []session.Message) (bool, error)
}

// Sender delivers content to a channel.
type Sender interface {
	Send(ctx context.Context, channelID, content, replyToID string) (*channels.SentMessage, error)
}

// Normalizer converts delivered content into a history message.
type Normalizer interface {
	Normalize(ctx context.Context, msg *bus.InboundMessage) (session.Message, bool)
}

// Trigger identifies the message that addressed the assistant.
type Trigger struct {
	ParticipantID string
	ChannelID     string
	MessageID     string
}

// Outcome summarises a finished cycle.
type Outcome struct {
	TraceID string
	Label   assistant.Label
	State   State
	Sends   int
	Err     error
}

// Orchestrator is safe for concurrent use; each Run is independent.
type Orchestrator struct {
	store     *session.Store
	asst      Assistant
	sender    Sender
	norm      Normalizer
	searchers search.Registry
	cfg       config.OrchestratorConfig

	metrics *metrics.Metrics
	audit   audit.Publisher
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
	now     func() time.Time
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithAudit(p audit.Publisher) Option { return func(o *Orchestrator) { o.audit = p } }

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// New creates an Orchestrator.
func New(store *session.Store, asst Assistant, sender Sender, norm Normalizer, searchers search.Registry, cfg config.OrchestratorConfig, opts ...Option) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase < 1 {
		cfg.BackoffBase = 2
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	if cfg.MaxFollowups <= 0 {
		cfg.MaxFollowups = 1
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = 10
	}
	o := &Orchestrator{
		store:     store,
		asst:      asst,
		sender:    sender,
		norm:      norm,
		searchers: searchers,
		cfg:       cfg,
		audit:     audit.Nop{},
		logger:    slog.Default(),
		sleep:     sleepContext,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator")
	return o
}

// cycle carries the per-run state.
type cycle struct {
	trig    Trigger
	thread  *session.Thread
	out     *Outcome
	logger  *slog.Logger
	started time.Time
}

func (c *cycle) enter(s State) {
	c.out.State = s
	c.logger.Debug("State", "state", s)
}

func (c *cycle) history(depth int) []session.Message {
	return c.thread.Recent(depth)
}

// Run executes one reply cycle for trig. Failures never escape: they end
// in StateFailed with Err set, and nothing is sent or stored past the
// failing step.
func (o *Orchestrator) Run(ctx context.Context, trig Trigger) Outcome {
	out := Outcome{TraceID: uuid.NewString(), State: StateClassifying}
	c := &cycle{
		trig:    trig,
		out:     &out,
		logger:  o.logger.With("trace_id", out.TraceID, "participant", trig.ParticipantID),
		started: o.now(),
	}
	defer o.finish(c)

	if trig.ParticipantID == "" || trig.ChannelID == "" {
		return o.fail(c, &PreconditionError{Op: "run", Reason: "trigger needs participant and channel"})
	}
	thread, ok := o.store.Thread(trig.ParticipantID)
	if !ok {
		return o.fail(c, &PreconditionError{Op: "run", Reason: "no thread for participant " + trig.ParticipantID})
	}
	c.thread = thread

	out.Label = o.classify(ctx, c)
	c.logger.Info("Classified", "label", out.Label)

	var err error
	switch out.Label {
	case assistant.LabelGIF:
		err = o.searchReply(ctx, c, search.KindGIF)
	case assistant.LabelYouTube:
		err = o.searchReply(ctx, c, search.KindYouTube)
	case assistant.LabelWebsite:
		err = o.searchReply(ctx, c, search.KindWebsite)
	case assistant.LabelResearch:
		err = o.research(ctx, c)
	default:
		err = o.converse(ctx, c)
	}
	if err != nil {
		return o.fail(c, err)
	}
	c.enter(StateDone)
	return out
}

func (o *Orchestrator) fail(c *cycle, err error) Outcome {
	c.out.State = StateFailed
	c.out.Err = err
	var pe *PreconditionError
	if errors.As(err, &pe) {
		c.logger.Error("Precondition violated", "error", err)
	} else {
		c.logger.Warn("Cycle failed", "error", err)
	}
	return *c.out
}

func (o *Orchestrator) finish(c *cycle) {
	label := string(c.out.Label)
	if label == "" {
		label = "none"
	}
	o.metrics.CycleFinished(label, string(c.out.State))
	rec := audit.Record{
		TraceID:     c.out.TraceID,
		Participant: c.trig.ParticipantID,
		ChannelID:   c.trig.ChannelID,
		TriggerID:   c.trig.MessageID,
		Label:       label,
		State:       string(c.out.State),
		Sends:       c.out.Sends,
		StartedAt:   c.started.UTC(),
		DurationMS:  o.now().Sub(c.started).Milliseconds(),
	}
	if c.out.Err != nil {
		rec.Error = c.out.Err.Error()
	}
	if err := o.audit.Publish(context.Background(), rec); err != nil {
		c.logger.Debug("Audit publish failed", "error", err)
	}
	c.logger.Info("Cycle finished", "state", c.out.State, "sends", c.out.Sends, "duration", time.Duration(rec.DurationMS)*time.Millisecond)
}

// classify never fails: exhaustion falls back to a plain message.
func (o *Orchestrator) classify(ctx context.Context, c *cycle) assistant.Label {
	c.enter(StateClassifying)
	history := c.history(o.cfg.HistoryDepth)
	var label assistant.Label
	err := o.retry(ctx, c, "classify", func() error {
		l, err := o.asst.Classify(ctx, history)
		if err != nil {
			return err
		}
		label = l
		return nil
	})
	if err != nil {
		c.logger.Warn("Classification failed, defaulting to message", "error", err)
		return assistant.LabelMessage
	}
	return label
}

// backoff returns base^attempt units.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(o.cfg.BackoffBase, float64(attempt)) * float64(o.cfg.BackoffUnit))
}

// retry calls fn up to MaxAttempts times, sleeping between attempts.
// Precondition errors and context cancellation stop it immediately.
func (o *Orchestrator) retry(ctx context.Context, c *cycle, step string, fn func() error) error {
	var err error
	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var pe *PreconditionError
		if errors.As(err, &pe) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.metrics.Retry(step)
		c.logger.Warn("Attempt failed", "step", step, "attempt", attempt+1, "max", o.cfg.MaxAttempts, "error", err)
		if attempt+1 < o.cfg.MaxAttempts {
			if serr := o.sleep(ctx, o.backoff(attempt)); serr != nil {
				return serr
			}
		}
	}
	return fmt.Errorf("%s: %d attempts exhausted: %w", step, o.cfg.MaxAttempts, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
