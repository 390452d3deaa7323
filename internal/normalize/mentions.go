package normalize

import (
	"context"
	"regexp"
	"strings"
)

// Slack mention tokens: users, user groups, channels and broadcasts.
var mentionPattern = regexp.MustCompile(
	`<@([UW][A-Z0-9]+)(?:\|[^>]*)?>` +
		`|<!subteam\^([A-Z0-9]+)(?:\|[^>]*)?>` +
		`|<#(C[A-Z0-9]+)(?:\|[^>]*)?>` +
		`|<!(here|channel|everyone)(?:\|[^>]*)?>`)

// ReplaceMentions resolves mention tokens to display names. The assistant's
// own mention is dropped; unresolvable ids become <Unknown User|Role|Channel>.
func (n *Normalizer) ReplaceMentions(ctx context.Context, text string) string {
	if !strings.Contains(text, "<") {
		return text
	}
	self := n.self()
	dropped := false
	out := mentionPattern.ReplaceAllStringFunc(text, func(tok string) string {
		m := mentionPattern.FindStringSubmatch(tok)
		switch {
		case m[1] != "":
			if m[1] == self {
				dropped = true
				return ""
			}
			return n.lookup(ctx, m[1], "<Unknown User>", n.memberName)
		case m[2] != "":
			return n.lookup(ctx, m[2], "<Unknown Role>", n.roleName)
		case m[3] != "":
			return n.lookup(ctx, m[3], "<Unknown Channel>", n.channelName)
		default:
			return "@" + m[4]
		}
	})
	if dropped {
		out = strings.TrimSpace(spaceRun.ReplaceAllString(out, " "))
	}
	return out
}

func (n *Normalizer) lookup(ctx context.Context, id, unknown string, fn func(context.Context, string) (string, bool)) string {
	if n.dir == nil {
		n.metrics.Degraded("mention")
		return unknown
	}
	name, ok := fn(ctx, id)
	if !ok || name == "" {
		n.metrics.Degraded("mention")
		return unknown
	}
	return name
}

func (n *Normalizer) memberName(ctx context.Context, id string) (string, bool) {
	return n.dir.MemberName(ctx, id)
}

func (n *Normalizer) roleName(ctx context.Context, id string) (string, bool) {
	return n.dir.RoleName(ctx, id)
}

func (n *Normalizer) channelName(ctx context.Context, id string) (string, bool) {
	return n.dir.ChannelName(ctx, id)
}
