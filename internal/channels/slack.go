package channels

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/scalytics/parley/internal/bus"
	"github.com/scalytics/parley/internal/config"
)

const (
	nameCacheSize    = 2048
	nameCacheTTL     = 30 * time.Minute
	messageIndexSize = 4096
)

var userMentionPattern = regexp.MustCompile(`<@([UW][A-Z0-9]+)(?:\|[^>]*)?>`)

// SlackClient is a socket-mode Slack client publishing to the message bus.
type SlackClient struct {
	cfg     config.SlackConfig
	api     *slack.Client
	bus     *bus.MessageBus
	logger  *slog.Logger
	allowed map[string]struct{}

	names    *nameCache
	messages *messageIndex

	mu     sync.RWMutex
	self   Identity
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSlackClient creates a Slack client. Extra options are passed to the
// underlying slack-go client.
func NewSlackClient(cfg config.SlackConfig, messageBus *bus.MessageBus, logger *slog.Logger, opts ...slack.Option) *SlackClient {
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimSpace(cfg.APIBase)
	if base == "" {
		base = "https://slack.com/api"
	}
	base = strings.TrimRight(base, "/") + "/"
	allOpts := []slack.Option{slack.OptionAPIURL(base)}
	if tok := strings.TrimSpace(cfg.AppToken); tok != "" {
		allOpts = append(allOpts, slack.OptionAppLevelToken(tok))
	}
	allOpts = append(allOpts, opts...)

	allowed := make(map[string]struct{}, len(cfg.AllowedChannels))
	for _, id := range cfg.AllowedChannels {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = struct{}{}
		}
	}

	return &SlackClient{
		cfg:      cfg,
		api:      slack.New(strings.TrimSpace(cfg.BotToken), allOpts...),
		bus:      messageBus,
		logger:   logger.With("component", "slack"),
		allowed:  allowed,
		names:    newNameCache(nameCacheSize, nameCacheTTL),
		messages: newMessageIndex(messageIndexSize),
	}
}

func (c *SlackClient) Name() string { return "slack" }

// Self returns the bot identity resolved at Start.
func (c *SlackClient) Self() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

// Start authenticates and, when an app token is configured, opens the
// socket-mode connection in the background.
func (c *SlackClient) Start(ctx context.Context) error {
	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	c.mu.Lock()
	c.self = Identity{ID: auth.UserID, Name: auth.User}
	c.mu.Unlock()
	c.logger.Info("Slack authenticated", "user_id", auth.UserID, "user", auth.User, "team", auth.Team)

	if strings.TrimSpace(c.cfg.AppToken) == "" {
		c.logger.Warn("No app token configured, socket mode disabled")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	sm := socketmode.New(c.api)
	go c.consume(runCtx, sm)
	go func() {
		defer close(done)
		if err := sm.RunContext(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("Socket mode stopped", "error", err)
		}
	}()
	return nil
}

// Stop closes the socket-mode connection.
func (c *SlackClient) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		return errors.New("slack: socket mode did not stop in time")
	}
	return nil
}

func (c *SlackClient) consume(ctx context.Context, sm *socketmode.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sm.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnecting:
				c.logger.Debug("Connecting to Slack")
			case socketmode.EventTypeConnected:
				c.logger.Info("Connected to Slack socket mode")
			case socketmode.EventTypeConnectionError:
				c.logger.Warn("Slack connection error, retrying")
			case socketmode.EventTypeEventsAPI:
				if evt.Request != nil {
					sm.Ack(*evt.Request)
				}
				ev, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok || ev.Type != slackevents.CallbackEvent {
					continue
				}
				c.handleCallback(ctx, ev)
			}
		}
	}
}

func (c *SlackClient) handleCallback(ctx context.Context, ev slackevents.EventsAPIEvent) {
	switch in := ev.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if in == nil || !c.isAllowed(in.Channel) {
			return
		}
		if in.SubType == "message_deleted" {
			if in.PreviousMessage == nil {
				return
			}
			c.bus.PublishDeletion(&bus.DeletionEvent{
				Channel:   c.Name(),
				ChannelID: in.Channel,
				MessageID: messageKey(in.Channel, in.PreviousMessage.TimeStamp),
				Timestamp: parseTimestamp(in.PreviousMessage.TimeStamp),
			})
			return
		}
		msg := c.convertMessageEvent(in)
		if msg == nil {
			return
		}
		c.resolveReply(ctx, msg)
		c.bus.PublishInbound(msg)
	case *slackevents.ReactionAddedEvent:
		if in == nil || in.Item.Type != "message" || !c.isAllowed(in.Item.Channel) {
			return
		}
		c.bus.PublishReaction(&bus.ReactionEvent{
			Channel:         c.Name(),
			ChannelID:       in.Item.Channel,
			MessageID:       messageKey(in.Item.Channel, in.Item.Timestamp),
			MessageAuthorID: in.ItemUser,
			UserID:          in.User,
			Emoji:           in.Reaction,
		})
	}
	// AppMentionEvent is delivered alongside the MessageEvent for the same
	// post; the mention flag is derived from the message text instead.
}

func (c *SlackClient) isAllowed(channelID string) bool {
	if len(c.allowed) == 0 {
		return true
	}
	_, ok := c.allowed[channelID]
	return ok
}

// convertMessageEvent maps a Slack message event onto the bus type. It
// returns nil for edits, joins and other non-content subtypes.
func (c *SlackClient) convertMessageEvent(in *slackevents.MessageEvent) *bus.InboundMessage {
	if !contentSubtype(in.SubType) {
		return nil
	}
	authorID := in.User
	if authorID == "" {
		return nil
	}
	attachments := make([]bus.Attachment, 0, len(in.Files))
	for _, f := range in.Files {
		attachments = append(attachments, bus.Attachment{URL: f.URLPrivate, Filename: f.Name, ContentType: f.Mimetype})
	}
	msg := c.newInbound(in.Channel, in.TimeStamp, in.ThreadTimeStamp, authorID, in.Text, attachments)
	return msg
}

func (c *SlackClient) convertHistoryMessage(channelID string, m slack.Message) *bus.InboundMessage {
	if !contentSubtype(m.SubType) || m.User == "" {
		return nil
	}
	attachments := make([]bus.Attachment, 0, len(m.Files))
	for _, f := range m.Files {
		attachments = append(attachments, bus.Attachment{URL: f.URLPrivate, Filename: f.Name, ContentType: f.Mimetype})
	}
	return c.newInbound(channelID, m.Timestamp, m.ThreadTimestamp, m.User, m.Text, attachments)
}

func (c *SlackClient) newInbound(channelID, ts, threadTS, authorID, text string, attachments []bus.Attachment) *bus.InboundMessage {
	self := c.Self()
	root := ts
	if threadTS != "" {
		root = threadTS
	}
	id := messageKey(channelID, ts)
	c.messages.put(id, messageRef{authorID: authorID, threadRoot: root})

	msg := &bus.InboundMessage{
		Channel:     c.Name(),
		ChannelID:   channelID,
		MessageID:   id,
		AuthorID:    authorID,
		Content:     text,
		Attachments: attachments,
		Timestamp:   parseTimestamp(ts),
	}
	if name, ok := c.cachedMemberName(authorID); ok {
		msg.AuthorName = name
	}
	if threadTS != "" && threadTS != ts {
		msg.ReplyTo = &bus.ReplyRef{MessageID: messageKey(channelID, threadTS)}
	}
	for _, m := range userMentionPattern.FindAllStringSubmatch(text, -1) {
		if m[1] == self.ID {
			msg.MentionsAssistant = true
			continue
		}
		msg.MentionedUserIDs = appendUnique(msg.MentionedUserIDs, m[1])
	}
	return msg
}

// resolveReply fills in the author of the replied-to message.
func (c *SlackClient) resolveReply(ctx context.Context, msg *bus.InboundMessage) {
	if msg.ReplyTo == nil || msg.ReplyTo.AuthorID != "" {
		return
	}
	if ref, ok := c.messages.get(msg.ReplyTo.MessageID); ok {
		msg.ReplyTo.AuthorID = ref.authorID
		return
	}
	msgs, _, _, err := c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: msg.ChannelID,
		Timestamp: tsOf(msg.ReplyTo.MessageID),
		Limit:     1,
	})
	if err != nil {
		c.logger.Warn("Reply author lookup failed", "channel_id", msg.ChannelID, "thread", msg.ReplyTo.MessageID, "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}
	parent := msgs[0]
	c.messages.put(msg.ReplyTo.MessageID, messageRef{authorID: parent.User, threadRoot: parent.Timestamp})
	msg.ReplyTo.AuthorID = parent.User
}

func contentSubtype(subtype string) bool {
	switch subtype {
	case "", "file_share", "thread_broadcast", "me_message":
		return true
	default:
		return false
	}
}

// Send posts content, threading it under replyToID when set. replyToID is
// a message id as produced by this client.
func (c *SlackClient) Send(ctx context.Context, channelID, content, replyToID string) (*SentMessage, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(content, false)}
	root := ""
	if replyToID != "" {
		root = tsOf(replyToID)
		if ref, ok := c.messages.get(replyToID); ok && ref.threadRoot != "" {
			root = ref.threadRoot
		}
		opts = append(opts, slack.MsgOptionTS(root))
	}
	ch, ts, err := c.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		var rle *slack.RateLimitedError
		if errors.As(err, &rle) {
			return nil, fmt.Errorf("slack rate limited, retry after %s: %w", rle.RetryAfter, err)
		}
		return nil, fmt.Errorf("slack post message: %w", err)
	}
	if root == "" {
		root = ts
	}
	if ch == "" {
		ch = channelID
	}
	id := messageKey(ch, ts)
	c.messages.put(id, messageRef{authorID: c.Self().ID, threadRoot: root})
	return &SentMessage{
		MessageID: id,
		ChannelID: ch,
		Timestamp: parseTimestamp(ts),
		ReplyToID: replyToID,
	}, nil
}

// Recent returns recent top-level channel messages, oldest first.
func (c *SlackClient) Recent(ctx context.Context, channelID string, limit int) ([]*bus.InboundMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("slack history %s: %w", channelID, err)
	}
	out := make([]*bus.InboundMessage, 0, len(resp.Messages))
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		if msg := c.convertHistoryMessage(channelID, resp.Messages[i]); msg != nil {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Channels returns the configured allow-list, or every conversation the
// bot is a member of.
func (c *SlackClient) Channels(ctx context.Context) ([]string, error) {
	if len(c.cfg.AllowedChannels) > 0 {
		return append([]string(nil), c.cfg.AllowedChannels...), nil
	}
	var out []string
	cursor := ""
	for {
		chs, next, err := c.api.GetConversationsForUserContext(ctx, &slack.GetConversationsForUserParameters{
			Cursor:          cursor,
			Types:           []string{"public_channel", "private_channel"},
			Limit:           200,
			ExcludeArchived: true,
		})
		if err != nil {
			return nil, fmt.Errorf("slack list conversations: %w", err)
		}
		for _, ch := range chs {
			out = append(out, ch.ID)
			c.names.put("channel:"+ch.ID, ch.Name, ch.Name != "")
		}
		if strings.TrimSpace(next) == "" {
			return out, nil
		}
		cursor = next
	}
}

func (c *SlackClient) cachedMemberName(userID string) (string, bool) {
	name, found, hit := c.names.get("user:" + userID)
	return name, hit && found
}

// MemberName resolves a user id to a display name.
func (c *SlackClient) MemberName(ctx context.Context, userID string) (string, bool) {
	key := "user:" + userID
	if name, found, hit := c.names.get(key); hit {
		return name, found
	}
	u, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		c.logger.Debug("User lookup failed", "user_id", userID, "error", err)
		c.names.put(key, "", false)
		return "", false
	}
	name := firstNonEmpty(u.Profile.DisplayName, u.RealName, u.Profile.RealName, u.Name)
	c.names.put(key, name, name != "")
	return name, name != ""
}

// RoleName resolves a user group id to its handle.
func (c *SlackClient) RoleName(ctx context.Context, roleID string) (string, bool) {
	key := "role:" + roleID
	if name, found, hit := c.names.get(key); hit {
		return name, found
	}
	groups, err := c.api.GetUserGroupsContext(ctx)
	if err != nil {
		c.logger.Debug("User group lookup failed", "role_id", roleID, "error", err)
		c.names.put(key, "", false)
		return "", false
	}
	for _, g := range groups {
		c.names.put("role:"+g.ID, firstNonEmpty(g.Handle, g.Name), true)
	}
	name, found, hit := c.names.get(key)
	if !hit {
		c.names.put(key, "", false)
	}
	return name, found
}

// ChannelName resolves a conversation id to its name.
func (c *SlackClient) ChannelName(ctx context.Context, channelID string) (string, bool) {
	key := "channel:" + channelID
	if name, found, hit := c.names.get(key); hit {
		return name, found
	}
	ch, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		c.logger.Debug("Channel lookup failed", "channel_id", channelID, "error", err)
		c.names.put(key, "", false)
		return "", false
	}
	c.names.put(key, ch.Name, ch.Name != "")
	return ch.Name, ch.Name != ""
}

// Download fetches a private Slack file using the bot token.
func (c *SlackClient) Download(ctx context.Context, url string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.api.GetFileContext(ctx, url, &buf); err != nil {
		return nil, fmt.Errorf("slack download: %w", err)
	}
	return buf.Bytes(), nil
}

// messageKey builds a message id. Slack ts values are only unique within a
// channel, so ids carry the channel.
func messageKey(channelID, ts string) string {
	if channelID == "" {
		return ts
	}
	return channelID + ":" + ts
}

// tsOf returns the Slack ts of a message id.
func tsOf(id string) string {
	if i := strings.LastIndexByte(id, ':'); i >= 0 {
		return id[i+1:]
	}
	return id
}

// parseTimestamp converts a Slack "seconds.micros" ts to UTC time.
func parseTimestamp(ts string) time.Time {
	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nanos int64
	if fracPart != "" {
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		}
		frac, err := strconv.ParseInt(fracPart, 10, 64)
		if err == nil {
			for i := len(fracPart); i < 9; i++ {
				frac *= 10
			}
			nanos = frac
		}
	}
	return time.Unix(sec, nanos).UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
