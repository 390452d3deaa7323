package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalytics/parley/internal/bus"
	"github.com/scalytics/parley/internal/channels"
	"github.com/scalytics/parley/internal/commands"
	"github.com/scalytics/parley/internal/normalize"
	"github.com/scalytics/parley/internal/orchestrator"
	"github.com/scalytics/parley/internal/session"
)

type fakeClient struct {
	mu     sync.Mutex
	sent   []string
	recent map[string][]*bus.InboundMessage
	err    error
}

func (c *fakeClient) Name() string { return "fake" }
func (c *fakeClient) Start(context.Context) error { return nil }
func (c *fakeClient) Stop() error { return nil }
func (c *fakeClient) Self() channels.Identity { return channels.Identity{ID: "UBOT", Name: "parley"} }
func (c *fakeClient) Channels(context.Context) ([]string, error) {
	return []string{"C1", "C2"}, nil
}

func (c *fakeClient) Send(_ context.Context, channelID, content, _ string) (*channels.SentMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, content)
	return &channels.SentMessage{MessageID: "sent", ChannelID: channelID}, nil
}

func (c *fakeClient) Recent(_ context.Context, channelID string, _ int) ([]*bus.InboundMessage, error) {
	if c.err != nil && channelID == "C2" {
		return nil, c.err
	}
	return c.recent[channelID], nil
}

func (c *fakeClient) sentMessages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// fakeOrchestrator counts cycles and can block inside Run.
type fakeOrchestrator struct {
	mu      sync.Mutex
	trigs   []orchestrator.Trigger
	started chan struct{}
	release chan struct{}
}

func (o *fakeOrchestrator) Run(ctx context.Context, trig orchestrator.Trigger) orchestrator.Outcome {
	o.mu.Lock()
	o.trigs = append(o.trigs, trig)
	o.mu.Unlock()
	if o.started != nil {
		o.started <- struct{}{}
	}
	if o.release != nil {
		select {
		case <-o.release:
		case <-ctx.Done():
		}
	}
	return orchestrator.Outcome{State: orchestrator.StateDone}
}

func (o *fakeOrchestrator) triggers() []orchestrator.Trigger {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]orchestrator.Trigger(nil), o.trigs...)
}

type fakeCollector struct {
	got atomic.Int32
}

func (f *fakeCollector) Capture(context.Context, *bus.ReactionEvent) (bool, error) {
	f.got.Add(1)
	return true, nil
}

type fixture struct {
	bus    *bus.MessageBus
	client *fakeClient
	store  *session.Store
	orch   *fakeOrchestrator
	fb     *fakeCollector
	sup    *Supervisor
}

func newFixture(t *testing.T, backfill BackfillOptions) *fixture {
	t.Helper()
	f := &fixture{
		bus:    bus.NewMessageBus(),
		client: &fakeClient{recent: map[string][]*bus.InboundMessage{}},
		store:  session.NewStore(50, "", nil),
		orch:   &fakeOrchestrator{},
		fb:     &fakeCollector{},
	}
	norm := normalize.New(nil, nil, nil, nil, nil, normalize.Options{}, nil)
	f.sup = New(Options{
		Bus:          f.bus,
		Client:       f.client,
		Store:        f.store,
		Normalizer:   norm,
		Orchestrator: f.orch,
		Commands:     commands.NewDispatcher(f.store, f.client, nil),
		Feedback:     f.fb,
		Backfill:     backfill,
	})
	return f
}

func (f *fixture) start(t *testing.T) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sup.Run(ctx) }()
	require.Eventually(t, func() bool { return f.store.AssistantID() == "UBOT" }, time.Second, time.Millisecond)
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func (f *fixture) contents(id string) []string {
	th, ok := f.store.Thread(id)
	if !ok {
		return nil
	}
	var out []string
	for _, m := range th.Messages() {
		out = append(out, m.Content)
	}
	return out
}

func inbound(id, author, text string) *bus.InboundMessage {
	return &bus.InboundMessage{
		Channel: "fake", ChannelID: "C1", MessageID: id, AuthorID: author, AuthorName: author,
		Content: text, Timestamp: time.Unix(1700000000, 0),
	}
}

func TestInboundIsRecordedInArrivalOrder(t *testing.T) {
	f := newFixture(t, BackfillOptions{})
	stop := f.start(t)
	for i, text := range []string{"one", "two", "three", "four", "five"} {
		msg := inbound(string(rune('a'+i)), "U1", text)
		msg.Timestamp = time.Unix(int64(1700000000+i), 0)
		f.bus.PublishInbound(msg)
	}
	require.Eventually(t, func() bool { return len(f.contents("U1")) == 5 }, time.Second, time.Millisecond)
	stop()

	assert.Equal(t, []string{"U1: one", "U1: two", "U1: three", "U1: four", "U1: five"}, f.contents("U1"))
	assert.Empty(t, f.orch.triggers(), "nobody addressed the assistant")
}

func TestMentionFansOutAndTriggersCycle(t *testing.T) {
	f := newFixture(t, BackfillOptions{})
	stop := f.start(t)

	msg := inbound("m1", "U1", "<@UBOT> what about <@U2>?")
	msg.MentionsAssistant = true
	msg.MentionedUserIDs = []string{"U2"}
	f.bus.PublishInbound(msg)

	require.Eventually(t, func() bool { return len(f.orch.triggers()) == 1 }, time.Second, time.Millisecond)
	stop()

	assert.Equal(t, orchestrator.Trigger{ParticipantID: "U1", ChannelID: "C1", MessageID: "m1"}, f.orch.triggers()[0])
	assert.Len(t, f.contents("U1"), 1)
	assert.Len(t, f.contents("UBOT"), 1)
	_, ok := f.store.Thread("U2")
	assert.True(t, ok, "mentioned users get a thread")
}

func TestReplyToAssistantTriggersCycle(t *testing.T) {
	f := newFixture(t, BackfillOptions{})
	stop := f.start(t)

	msg := inbound("m2", "U1", "thanks")
	msg.ReplyTo = &bus.ReplyRef{MessageID: "m0", AuthorID: "UBOT"}
	f.bus.PublishInbound(msg)

	require.Eventually(t, func() bool { return len(f.orch.triggers()) == 1 }, time.Second, time.Millisecond)
	stop()
	assert.Equal(t, []string{"U1: thanks"}, f.contents("UBOT"))
}

func TestOwnMessagesAreIgnored(t *testing.T) {
	f := newFixture(t, BackfillOptions{})
	stop := f.start(t)
	f.bus.PublishInbound(inbound("self", "UBOT", "I said this"))
	f.bus.PublishInbound(inbound("after", "U1", "marker"))
	require.Eventually(t, func() bool { return len(f.contents("U1")) == 1 }, time.Second, time.Millisecond)
	stop()
	_, ok := f.store.Thread("UBOT")
	assert.False(t, ok)
}

func TestConcurrentTriggersCoalesce(t *testing.T) {
	f := newFixture(t, BackfillOptions{})
	f.orch.started = make(chan struct{}, 4)
	f.orch.release = make(chan struct{})
	stop := f.start(t)

	first := inbound("t1", "U1", "<@UBOT> hi")
	first.MentionsAssistant = true
	f.bus.PublishInbound(first)
	<-f.orch.started

	second := inbound("t2", "U1", "<@UBOT> hello?")
	second.MentionsAssistant = true
	f.bus.PublishInbound(second)
	require.Eventually(t, func() bool { return len(f.contents("U1")) == 2 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond) // let the second handler join the flight

	close(f.orch.release)
	stop()
	assert.Len(t, f.orch.triggers(), 1)
}

func TestForgetCommandDoesNotTriggerCycle(t *testing.T) {
	f := newFixture(t, BackfillOptions{})
	stop := f.start(t)
	f.bus.PublishInbound(inbound("m1", "U1", "hello"))
	cmd := inbound("m2", "U1", "<@UBOT> /forget")
	cmd.MentionsAssistant = true
	f.bus.PublishInbound(cmd)

	require.Eventually(t, func() bool { return len(f.client.sentMessages()) == 1 }, time.Second, time.Millisecond)
	stop()
	assert.Equal(t, []string{commands.ReplyForgotten}, f.client.sentMessages())
	assert.Empty(t, f.contents("U1"))
	assert.Empty(t, f.orch.triggers())
}

func TestReactionsAndDeletions(t *testing.T) {
	f := newFixture(t, BackfillOptions{})
	stop := f.start(t)
	f.bus.PublishInbound(inbound("m1", "U1", "delete me"))
	require.Eventually(t, func() bool { return len(f.contents("U1")) == 1 }, time.Second, time.Millisecond)

	f.bus.PublishDeletion(&bus.DeletionEvent{ChannelID: "C1", MessageID: "m1"})
	f.bus.PublishReaction(&bus.ReactionEvent{ChannelID: "C1", MessageID: "x", UserID: "U1", MessageAuthorID: "UBOT", Emoji: "+1"})

	require.Eventually(t, func() bool { return len(f.contents("U1")) == 0 && f.fb.got.Load() == 1 }, time.Second, time.Millisecond)
	stop()
}

func TestDeletionOfUnknownMessageKeepsThread(t *testing.T) {
	f := newFixture(t, BackfillOptions{})
	stop := f.start(t)
	f.bus.PublishInbound(inbound("m1", "U1", "keep me"))
	f.bus.PublishInbound(inbound("m2", "U1", "drop me"))
	require.Eventually(t, func() bool { return len(f.contents("U1")) == 2 }, time.Second, time.Millisecond)

	first := f.contents("U1")
	f.bus.PublishDeletion(&bus.DeletionEvent{ChannelID: "C1", MessageID: "never-stored", Timestamp: time.Unix(1700000000, 0)})
	f.bus.PublishDeletion(&bus.DeletionEvent{ChannelID: "C1", MessageID: "m2"})

	require.Eventually(t, func() bool { return len(f.contents("U1")) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, first[:1], f.contents("U1"))
	stop()
}

func TestBackfillRecordsWithinWindowWithoutReplying(t *testing.T) {
	now := time.Unix(1700010000, 0)
	f := newFixture(t, BackfillOptions{Limit: 10, Window: time.Hour, Now: func() time.Time { return now }})
	old := inbound("old", "U1", "<@UBOT> ancient")
	old.Timestamp = now.Add(-2 * time.Hour)
	old.MentionsAssistant = true
	recent := inbound("new", "U1", "<@UBOT> fresh")
	recent.Timestamp = now.Add(-time.Minute)
	recent.MentionsAssistant = true
	mine := inbound("bot", "UBOT", "answer")
	mine.Timestamp = now.Add(-30 * time.Second)
	mine.ReplyTo = &bus.ReplyRef{MessageID: "new", AuthorID: "U1"}
	f.client.recent["C1"] = []*bus.InboundMessage{old, recent, mine}
	f.client.err = errors.New("not_in_channel")

	stop := f.start(t)
	stop()

	assert.Equal(t, []string{"U1: fresh", "answer"}, f.contents("U1"))
	assert.Equal(t, []string{"U1: fresh", "answer"}, f.contents("UBOT"))
	assert.Empty(t, f.orch.triggers())
}

func TestSequencerCommitsInIssueOrder(t *testing.T) {
	seq := newSequencer()
	ctx := context.Background()
	var mu sync.Mutex
	var order []int
	turns := make([]*turn, 5)
	for i := range turns {
		turns[i] = seq.issue()
	}
	var wg sync.WaitGroup
	for i := len(turns) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer turns[i].finish(ctx)
			assert.NoError(t, turns[i].wait(ctx))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)

	turns[0].finish(ctx) // repeated finish is a no-op
}
