// Package commands handles administrative commands addressed to the
// assistant, e.g. "@parley /forget".
package commands

import (
	"context"
	"log/slog"
	"strings"

	"github.com/scalytics/parley/internal/bus"
	"github.com/scalytics/parley/internal/channels"
	"github.com/scalytics/parley/internal/session"
)

// Replies sent back to the caller.
const (
	ReplyForgotten    = "All gone."
	ReplyForgottenAll = "*ALL* gone."
	ReplyNothing      = "You don't have an active thread to forget."
	ReplyUnavailable  = "I can't do that right now."
	ReplyUnknown      = "I don't recognize that command."
)

// Command is a parsed "/name args..." invocation.
type Command struct {
	Name string
	Args []string
}

// Parse extracts a command from content that starts with a mention of
// assistantID followed by "/name". ok is false for ordinary messages.
func Parse(content, assistantID string) (Command, bool) {
	if assistantID == "" {
		return Command{}, false
	}
	body := strings.TrimSpace(content)
	mention := "<@" + assistantID
	if !strings.HasPrefix(body, mention) {
		return Command{}, false
	}
	body = body[len(mention):]
	end := strings.IndexByte(body, '>')
	if end < 0 || (end > 0 && body[0] != '|') {
		return Command{}, false
	}
	body = strings.TrimSpace(body[end+1:])
	if !strings.HasPrefix(body, "/") {
		return Command{}, false
	}
	parts := strings.Fields(body[1:])
	if len(parts) == 0 {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(parts[0]), Args: parts[1:]}, true
}

// Replier sends command responses.
type Replier interface {
	Send(ctx context.Context, channelID, content, replyToID string) (*channels.SentMessage, error)
}

type handler func(ctx context.Context, msg *bus.InboundMessage, args []string) string

// Dispatcher routes parsed commands to their handlers.
type Dispatcher struct {
	store    *session.Store
	replier  Replier
	handlers map[string]handler
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher with the built-in commands.
func NewDispatcher(store *session.Store, replier Replier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		store:   store,
		replier: replier,
		logger:  logger.With("component", "commands"),
	}
	d.handlers = map[string]handler{
		"forget": d.forget,
	}
	return d
}

// Handle runs the command in msg, if any, and replies in its channel.
// It reports whether msg was a command; command messages never start a
// reply cycle.
func (d *Dispatcher) Handle(ctx context.Context, msg *bus.InboundMessage) bool {
	cmd, ok := Parse(msg.Content, d.store.AssistantID())
	if !ok {
		return false
	}
	d.logger.Info("Command received", "command", cmd.Name, "args", cmd.Args, "author", msg.AuthorID)

	reply := ReplyUnknown
	if h, ok := d.handlers[cmd.Name]; ok {
		reply = h(ctx, msg, cmd.Args)
	} else {
		d.logger.Warn("Unknown command", "command", cmd.Name)
	}
	if d.replier != nil && reply != "" {
		if _, err := d.replier.Send(ctx, msg.ChannelID, reply, msg.MessageID); err != nil {
			d.logger.Warn("Command reply failed", "command", cmd.Name, "error", err)
		}
	}
	return true
}

func (d *Dispatcher) forget(_ context.Context, msg *bus.InboundMessage, args []string) string {
	if len(args) > 0 && args[0] == "--all" {
		n := d.store.ClearAll()
		d.logger.Info("Cleared all threads", "threads", n)
		return ReplyForgottenAll
	}
	if _, ok := d.store.Thread(msg.AuthorID); !ok {
		return ReplyNothing
	}
	if !d.store.Clear(msg.AuthorID) {
		return ReplyUnavailable
	}
	d.logger.Info("Cleared thread", "participant", msg.AuthorID)
	return ReplyForgotten
}
