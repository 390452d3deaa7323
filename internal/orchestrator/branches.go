package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/scalytics/parley/internal/assistant"
	"github.com/scalytics/parley/internal/bus"
	"github.com/scalytics/parley/internal/channels"
	"github.com/scalytics/parley/internal/search"
	"github.com/scalytics/parley/internal/session"
)

var errNoHandle = errors.New("send returned no message handle")

// converse is the message branch: generate, deliver, then ask whether to
// keep talking. Follow-ups are counted separately from retries.
func (o *Orchestrator) converse(ctx context.Context, c *cycle) error {
	followups := 0
	for {
		reply, err := o.generate(ctx, c, "")
		if err != nil {
			return err
		}
		if err := o.deliver(ctx, c, reply, reply); err != nil {
			return err
		}

		c.enter(StateFollowup)
		more, err := o.asst.IsFollowupNeeded(ctx, c.history(o.cfg.HistoryDepth))
		if err != nil {
			c.logger.Warn("Follow-up check failed, stopping", "error", err)
			return nil
		}
		if !more {
			return nil
		}
		followups++
		if followups >= o.cfg.MaxFollowups {
			c.logger.Info("Follow-up limit reached", "followups", followups)
			return nil
		}
		c.logger.Debug("Follow-up requested", "followups", followups)
	}
}

// searchReply handles gif, youtube and website labels: the sendable
// content goes to the channel, the annotation goes into history.
func (o *Orchestrator) searchReply(ctx context.Context, c *cycle, kind search.Kind) error {
	c.enter(StateGenerating)
	label := assistant.Label(kind)
	query, err := o.query(ctx, c, label)
	if err != nil {
		return err
	}
	res, err := o.search(ctx, c, kind, query)
	if err != nil {
		return err
	}
	return o.deliver(ctx, c, res.Sendable, res.Annotation)
}

// research grounds a single reply on a web and a video lookup run in
// parallel.
func (o *Orchestrator) research(ctx context.Context, c *cycle) error {
	c.enter(StateGenerating)
	query, err := o.query(ctx, c, assistant.LabelResearch)
	if err != nil {
		return err
	}

	var web, video *search.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		web, err = o.search(gctx, c, search.KindWebsite, query)
		return err
	})
	g.Go(func() error {
		var err error
		video, err = o.search(gctx, c, search.KindYouTube, query)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("research: %w", err)
	}

	note := ResearchNote(web.Annotation, video.Annotation)
	reply, err := o.generate(ctx, c, note)
	if err != nil {
		return err
	}
	return o.deliver(ctx, c, reply, reply)
}

// ResearchNote formats the grounding note injected before generation.
func ResearchNote(web, video string) string {
	return "**Research Summary**: " + web + "\n\nYouTube Video: " + video
}

func (o *Orchestrator) generate(ctx context.Context, c *cycle, note string) (string, error) {
	c.enter(StateGenerating)
	history := c.history(o.cfg.HistoryDepth)
	var reply string
	err := o.retry(ctx, c, "generate", func() error {
		text, err := o.asst.GenerateReply(ctx, history, note)
		if err != nil {
			return err
		}
		text = stripSpeaker(text, history)
		if text == "" {
			return assistant.ErrEmptyPayload
		}
		reply = text
		return nil
	})
	return reply, err
}

func (o *Orchestrator) query(ctx context.Context, c *cycle, label assistant.Label) (string, error) {
	history := c.history(o.cfg.HistoryDepth)
	var query string
	err := o.retry(ctx, c, "query", func() error {
		q, err := o.asst.GenerateSearchQuery(ctx, label, history)
		if err != nil {
			return err
		}
		if strings.TrimSpace(q) == "" {
			return assistant.ErrEmptyPayload
		}
		query = strings.TrimSpace(q)
		return nil
	})
	return query, err
}

func (o *Orchestrator) search(ctx context.Context, c *cycle, kind search.Kind, query string) (*search.Result, error) {
	s, ok := o.searchers.Get(kind)
	if !ok {
		return nil, &PreconditionError{Op: "search", Reason: "no backend for " + string(kind)}
	}
	var res *search.Result
	err := o.retry(ctx, c, "search_"+string(kind), func() error {
		r, err := search.Lookup(ctx, s, search.Request{Query: query})
		if err != nil {
			return err
		}
		if r == nil || strings.TrimSpace(r.Sendable) == "" || strings.TrimSpace(r.Annotation) == "" {
			return assistant.ErrEmptyPayload
		}
		res = r
		return nil
	})
	return res, err
}

// deliver sends content and records the stored form through the store
// fan-out so it lands in the participant's and the assistant's threads.
func (o *Orchestrator) deliver(ctx context.Context, c *cycle, sendable, stored string) error {
	c.enter(StateDelivering)
	var sent *channels.SentMessage
	err := o.retry(ctx, c, "send", func() error {
		s, err := o.sender.Send(ctx, c.trig.ChannelID, sendable, c.trig.MessageID)
		if err != nil {
			return err
		}
		if s == nil || s.MessageID == "" {
			return errNoHandle
		}
		sent = s
		return nil
	})
	if err != nil {
		return err
	}
	c.out.Sends++
	o.metrics.Sent()
	o.record(ctx, c, sent, stored)
	return nil
}

func (o *Orchestrator) record(ctx context.Context, c *cycle, sent *channels.SentMessage, content string) {
	self := o.store.AssistantID()
	ts := sent.Timestamp
	if ts.IsZero() {
		ts = o.now().UTC()
	}
	inbound := &bus.InboundMessage{
		ChannelID: c.trig.ChannelID,
		MessageID: sent.MessageID,
		AuthorID:  self,
		Content:   content,
		Timestamp: ts,
	}
	if c.trig.MessageID != "" {
		inbound.ReplyTo = &bus.ReplyRef{MessageID: c.trig.MessageID, AuthorID: c.trig.ParticipantID}
	}
	msg, ok := o.norm.Normalize(ctx, inbound)
	if !ok {
		c.logger.Warn("Delivered content normalised to nothing, not recorded", "message_id", sent.MessageID)
		return
	}
	targets := o.store.ResolveFanoutTargets(session.Addressing{
		AuthorID:        self,
		ReplyToAuthorID: c.trig.ParticipantID,
	})
	if o.store.RecordMessage(msg, targets) {
		o.metrics.Recorded()
	}
}

// stripSpeaker removes a leading "Name: " the model copied from the
// history format. Names come from the participant lines in history.
func stripSpeaker(reply string, history []session.Message) string {
	reply = strings.TrimSpace(reply)
	for _, m := range history {
		if m.Role != session.RoleUser {
			continue
		}
		name, _, found := strings.Cut(m.Content, ": ")
		if !found || name == "" {
			continue
		}
		if reply == name+":" {
			return ""
		}
		if rest, ok := strings.CutPrefix(reply, name+": "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return reply
}
