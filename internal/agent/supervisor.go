// Package agent supervises the flow from inbound chat events to the
// conversation store and the response orchestrator.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/scalytics/parley/internal/bus"
	"github.com/scalytics/parley/internal/channels"
	"github.com/scalytics/parley/internal/metrics"
	"github.com/scalytics/parley/internal/orchestrator"
	"github.com/scalytics/parley/internal/scheduler"
	"github.com/scalytics/parley/internal/session"
)

// DefaultMaxConcurrent caps in-flight inbound handlers.
const DefaultMaxConcurrent = 16

// Normalizer converts platform events into history messages.
type Normalizer interface {
	orchestrator.Normalizer
	SetAssistantID(id string)
}

// CycleRunner runs one reply cycle.
type CycleRunner interface {
	Run(ctx context.Context, trig orchestrator.Trigger) orchestrator.Outcome
}

// CommandHandler consumes administrative commands.
type CommandHandler interface {
	Handle(ctx context.Context, msg *bus.InboundMessage) bool
}

// ReactionCollector records reactions on assistant messages.
type ReactionCollector interface {
	Capture(ctx context.Context, ev *bus.ReactionEvent) (bool, error)
}

// Options contains the collaborators of a Supervisor. Commands and
// Feedback are optional.
type Options struct {
	Bus           *bus.MessageBus
	Client        channels.Client
	Store         *session.Store
	Normalizer    Normalizer
	Orchestrator  CycleRunner
	Commands      CommandHandler
	Feedback      ReactionCollector
	Metrics       *metrics.Metrics
	MaxConcurrent int
	Backfill      BackfillOptions
	Logger        *slog.Logger
}

// Supervisor consumes the bus. Each inbound message is handled in its own
// goroutine; store writes are committed in arrival order and reply cycles
// are coalesced per participant.
type Supervisor struct {
	bus      *bus.MessageBus
	client   channels.Client
	store    *session.Store
	norm     Normalizer
	orch     CycleRunner
	commands CommandHandler
	feedback ReactionCollector
	metrics  *metrics.Metrics
	backfill BackfillOptions
	logger   *slog.Logger

	sem     *scheduler.Semaphore
	seq     *sequencer
	flights singleflight.Group
	wg      sync.WaitGroup
}

// New creates a Supervisor.
func New(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Supervisor{
		bus:      opts.Bus,
		client:   opts.Client,
		store:    opts.Store,
		norm:     opts.Normalizer,
		orch:     opts.Orchestrator,
		commands: opts.Commands,
		feedback: opts.Feedback,
		metrics:  opts.Metrics,
		backfill: opts.Backfill,
		logger:   opts.Logger.With("component", "agent"),
		sem:      scheduler.NewSemaphore(opts.MaxConcurrent),
		seq:      newSequencer(),
	}
}

// Run adopts the client's identity, replays recent history and then
// consumes the bus until ctx is cancelled. In-flight handlers are awaited
// before it returns.
func (s *Supervisor) Run(ctx context.Context) error {
	self := s.client.Self().ID
	s.store.SetAssistantID(self)
	s.norm.SetAssistantID(self)
	s.logger.Info("Agent supervisor started", "assistant", self, "max_concurrent", s.sem.Cap())

	if n, err := s.Backfill(ctx); err != nil {
		s.logger.Warn("Backfill incomplete", "recorded", n, "error", err)
	} else if n > 0 {
		s.logger.Info("Backfill complete", "recorded", n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.consumeInbound(gctx) })
	g.Go(func() error { return s.consumeReactions(gctx) })
	g.Go(func() error { return s.consumeDeletions(gctx) })
	err := g.Wait()
	s.wg.Wait()
	s.logger.Info("Agent supervisor stopped")
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Supervisor) consumeInbound(ctx context.Context) error {
	for {
		msg, err := s.bus.ConsumeInbound(ctx)
		if err != nil {
			return err
		}
		if err := s.sem.Acquire(ctx); err != nil {
			return err
		}
		t := s.seq.issue()
		s.spawn("inbound", func() {
			defer s.sem.Release()
			defer t.finish(ctx)
			s.handleInbound(ctx, msg, t)
		})
	}
}

func (s *Supervisor) consumeReactions(ctx context.Context) error {
	for {
		ev, err := s.bus.ConsumeReaction(ctx)
		if err != nil {
			return err
		}
		if s.feedback == nil {
			continue
		}
		s.spawn("reaction", func() {
			saved, err := s.feedback.Capture(ctx, ev)
			if err != nil {
				s.logger.Warn("Feedback capture failed", "message_id", ev.MessageID, "error", err)
				return
			}
			if saved {
				s.logger.Info("Feedback example saved", "message_id", ev.MessageID, "emoji", ev.Emoji)
			}
		})
	}
}

func (s *Supervisor) consumeDeletions(ctx context.Context) error {
	for {
		ev, err := s.bus.ConsumeDeletion(ctx)
		if err != nil {
			return err
		}
		// Platform ids are authoritative; an unknown id was never stored.
		if n := s.store.DeleteMessage(ev.MessageID, time.Time{}); n > 0 {
			s.logger.Debug("Deleted message from threads", "message_id", ev.MessageID, "threads", n)
		}
	}
}

// spawn runs fn in a supervised goroutine that survives panics.
func (s *Supervisor) spawn(kind string, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Handler panicked", "kind", kind, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}

func (s *Supervisor) handleInbound(ctx context.Context, msg *bus.InboundMessage, t *turn) {
	self := s.store.AssistantID()
	if msg.AuthorID == self {
		return
	}
	normalized, ok := s.norm.Normalize(ctx, msg)

	if err := t.wait(ctx); err != nil {
		return
	}
	if s.commands != nil && s.commands.Handle(ctx, msg) {
		return
	}
	s.store.EnsureThread(msg.AuthorID)
	for _, id := range msg.MentionedUserIDs {
		if id != self {
			s.store.EnsureThread(id)
		}
	}
	if ok {
		s.record(normalized, msg)
	}
	s.metrics.SetThreads(len(s.store.Participants()))

	if !ok || msg.Backfill || !addressed(msg, self) {
		return
	}
	t.finish(ctx)
	s.reply(ctx, msg)
}

// record fans a normalized message out to every thread it involves.
func (s *Supervisor) record(m session.Message, msg *bus.InboundMessage) {
	addr := session.Addressing{
		AuthorID:           msg.AuthorID,
		MentionedAssistant: msg.MentionsAssistant,
	}
	if msg.ReplyTo != nil {
		addr.ReplyToAuthorID = msg.ReplyTo.AuthorID
	}
	targets := s.store.ResolveFanoutTargets(addr)
	if s.store.RecordMessage(m, targets) {
		s.metrics.Recorded()
		s.logger.Debug("Message recorded", "message_id", m.MessageID, "targets", targets)
	}
}

// reply runs a cycle for the author unless one is already in flight, in
// which case this trigger is folded into it.
func (s *Supervisor) reply(ctx context.Context, msg *bus.InboundMessage) {
	trig := orchestrator.Trigger{
		ParticipantID: msg.AuthorID,
		ChannelID:     msg.ChannelID,
		MessageID:     msg.MessageID,
	}
	_, _, shared := s.flights.Do(msg.AuthorID, func() (any, error) {
		return s.orch.Run(ctx, trig), nil
	})
	if shared {
		s.logger.Debug("Trigger coalesced into running cycle", "participant", msg.AuthorID, "message_id", msg.MessageID)
	}
}

func addressed(msg *bus.InboundMessage, self string) bool {
	if self == "" {
		return false
	}
	if msg.MentionsAssistant {
		return true
	}
	return msg.ReplyTo != nil && msg.ReplyTo.AuthorID == self
}
