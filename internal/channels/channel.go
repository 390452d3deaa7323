// Package channels connects chat platforms to the message bus.
package channels

import (
	"context"
	"time"

	"github.com/scalytics/parley/internal/bus"
)

// Identity is a platform user id with its display name.
type Identity struct {
	ID   string
	Name string
}

// SentMessage is the platform's handle for a delivered message.
type SentMessage struct {
	MessageID string
	ChannelID string
	Timestamp time.Time
	ReplyToID string
}

// Client defines the interface for chat platforms.
type Client interface {
	// Name returns the channel name (e.g. "slack").
	Name() string
	// Start connects and begins publishing events to the bus. It returns
	// once the connection is established; events flow until Stop or ctx ends.
	Start(ctx context.Context) error
	// Stop disconnects the client.
	Stop() error
	// Self returns the assistant's own identity. Valid after Start.
	Self() Identity
	// Send delivers content to channelID, as a reply to replyToID when set.
	Send(ctx context.Context, channelID, content, replyToID string) (*SentMessage, error)
	// Recent returns up to limit of the newest messages in channelID,
	// oldest first.
	Recent(ctx context.Context, channelID string, limit int) ([]*bus.InboundMessage, error)
	// Channels returns the channel ids the client listens to.
	Channels(ctx context.Context) ([]string, error)
}

// Directory resolves platform ids to display names.
type Directory interface {
	MemberName(ctx context.Context, userID string) (string, bool)
	RoleName(ctx context.Context, roleID string) (string, bool)
	ChannelName(ctx context.Context, channelID string) (string, bool)
}

// Downloader fetches attachment bytes that require platform credentials.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}
