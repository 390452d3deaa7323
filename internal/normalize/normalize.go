// Package normalize converts raw platform events into canonical history
// messages: mentions resolved to names, links and images replaced by
// bracketed annotations, and participant text prefixed with its author.
package normalize

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/scalytics/parley/internal/bus"
	"github.com/scalytics/parley/internal/channels"
	"github.com/scalytics/parley/internal/metrics"
	"github.com/scalytics/parley/internal/search"
	"github.com/scalytics/parley/internal/session"
)

const (
	// DefaultMaxLinkPasses bounds the single-substitution link passes per message.
	DefaultMaxLinkPasses = 8
	// DefaultMaxContentLength caps stored content, in runes.
	DefaultMaxContentLength = 1000
)

// ImageDescriber describes image bytes.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Options tunes a Normalizer.
type Options struct {
	AssistantID      string
	MaxContentLength int
	MaxLinkPasses    int
}

// Normalizer is safe for concurrent use.
type Normalizer struct {
	dir       channels.Directory
	dl        channels.Downloader
	describer ImageDescriber
	searchers search.Registry
	metrics   *metrics.Metrics
	logger    *slog.Logger

	maxLen    int
	maxPasses int

	mu          sync.RWMutex
	assistantID string
}

// New creates a Normalizer. Any collaborator may be nil; the matching step
// then degrades to its placeholder.
func New(dir channels.Directory, dl channels.Downloader, describer ImageDescriber, searchers search.Registry, m *metrics.Metrics, opts Options, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = DefaultMaxContentLength
	}
	if opts.MaxLinkPasses <= 0 {
		opts.MaxLinkPasses = DefaultMaxLinkPasses
	}
	return &Normalizer{
		dir:         dir,
		dl:          dl,
		describer:   describer,
		searchers:   searchers,
		metrics:     m,
		logger:      logger.With("component", "normalize"),
		maxLen:      opts.MaxContentLength,
		maxPasses:   opts.MaxLinkPasses,
		assistantID: opts.AssistantID,
	}
}

// SetAssistantID updates the assistant identity once the channel is connected.
func (n *Normalizer) SetAssistantID(id string) {
	n.mu.Lock()
	n.assistantID = id
	n.mu.Unlock()
}

func (n *Normalizer) self() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.assistantID
}

// Normalize turns msg into a history message. ok is false when nothing
// remains after processing; such messages must not be stored.
func (n *Normalizer) Normalize(ctx context.Context, msg *bus.InboundMessage) (session.Message, bool) {
	if msg == nil || msg.MessageID == "" {
		return session.Message{}, false
	}
	self := n.self()
	fromAssistant := self != "" && msg.AuthorID == self

	text := n.ReplaceMentions(ctx, msg.Content)
	text = n.ReplaceLinks(ctx, text)
	for _, att := range msg.Attachments {
		if att.IsImage() {
			text += " " + n.describeAttachment(ctx, att)
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return session.Message{}, false
	}

	role := session.RoleUser
	if fromAssistant {
		role = session.RoleAssistant
	} else {
		text = n.authorName(ctx, msg) + ": " + text
	}

	return session.Message{
		Role:            role,
		Content:         truncate(text, n.maxLen),
		Timestamp:       msg.Timestamp.UTC(),
		MessageID:       msg.MessageID,
		TargetMessageID: msg.ReplyTargetID(),
	}, true
}

func (n *Normalizer) authorName(ctx context.Context, msg *bus.InboundMessage) string {
	if name := strings.TrimSpace(msg.AuthorName); name != "" {
		return name
	}
	if n.dir != nil {
		if name, ok := n.dir.MemberName(ctx, msg.AuthorID); ok && name != "" {
			return name
		}
	}
	return msg.AuthorID
}

func (n *Normalizer) describeAttachment(ctx context.Context, att bus.Attachment) string {
	desc := search.NoDescription
	if n.dl != nil && n.describer != nil {
		if d, err := n.describeImage(ctx, att); err != nil {
			n.logger.Warn("Image description failed", "file", att.Filename, "error", err)
			n.metrics.Degraded("image")
		} else if strings.TrimSpace(d) != "" {
			desc = d
		}
	} else {
		n.metrics.Degraded("image")
	}
	return search.Annotation("Image", desc)
}

func (n *Normalizer) describeImage(ctx context.Context, att bus.Attachment) (string, error) {
	data, err := n.dl.Download(ctx, att.URL)
	if err != nil {
		return "", err
	}
	data, ctype, err := search.StillFrame(data, att.ContentType)
	if err != nil {
		return "", err
	}
	return n.describer.DescribeImage(ctx, data, ctype)
}

var spaceRun = regexp.MustCompile(`[ \t]{2,}`)

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit])
}
