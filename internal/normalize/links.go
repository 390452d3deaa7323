package normalize

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/scalytics/parley/internal/search"
)

var (
	// A Slack link token <url> or <url|label>, or a bare URL.
	linkPattern = regexp.MustCompile(`<(https?://[^>|\s]+)(?:\|[^>]*)?>|(https?://[^\s<>]+)`)
	// An existing annotation; links inside it are never replaced again.
	annotationPattern = regexp.MustCompile(`\[[^\[\]]*:::[^\[\]]*\]`)
	videoPattern      = regexp.MustCompile(`^https?://(?:www\.|m\.)?(?:youtube\.com/(?:watch\?(?:.*&)?v=|shorts/)|youtu\.be/)[A-Za-z0-9_-]{11}`)
)

// linkPriority orders kinds for replacement; earlier wins.
var linkPriority = []search.Kind{search.KindYouTube, search.KindGIF, search.KindWebsite}

type linkMatch struct {
	start, end int
	url        string
	kind       search.Kind
}

// ReplaceLinks applies ReplaceFirstLink until no unannotated link remains
// or the pass limit is reached.
func (n *Normalizer) ReplaceLinks(ctx context.Context, text string) string {
	for i := 0; i < n.maxPasses; i++ {
		next, changed := n.ReplaceFirstLink(ctx, text)
		if !changed {
			break
		}
		text = next
	}
	return text
}

// ReplaceFirstLink replaces exactly one link: the first occurrence of the
// highest-priority kind present (video, then GIF, then web page). A failed
// lookup still replaces the link, with a placeholder annotation.
func (n *Normalizer) ReplaceFirstLink(ctx context.Context, text string) (string, bool) {
	m, ok := pickLink(text)
	if !ok {
		return text, false
	}
	annotation := n.annotate(ctx, m)
	return text[:m.start] + annotation + text[m.end:], true
}

func (n *Normalizer) annotate(ctx context.Context, m linkMatch) string {
	s, ok := n.searchers.Get(m.kind)
	if !ok {
		n.metrics.Degraded("link")
		return search.FallbackAnnotation(m.kind)
	}
	res, err := search.Lookup(ctx, s, search.Request{URL: m.url})
	if err != nil || res == nil || strings.TrimSpace(res.Annotation) == "" {
		n.logger.Warn("Link lookup failed", "kind", m.kind, "url", m.url, "error", err)
		n.metrics.Degraded("link")
		return search.FallbackAnnotation(m.kind)
	}
	return res.Annotation
}

// pickLink finds the link to replace in this pass.
func pickLink(text string) (linkMatch, bool) {
	protected := annotationPattern.FindAllStringIndex(text, -1)
	var best *linkMatch
	for _, loc := range linkPattern.FindAllStringSubmatchIndex(text, -1) {
		if inside(protected, loc[0], loc[1]) {
			continue
		}
		end := loc[1]
		var raw string
		if loc[2] >= 0 {
			raw = text[loc[2]:loc[3]]
		} else {
			raw = strings.TrimRight(text[loc[4]:loc[5]], ".,;:!?)'\"")
			end = loc[4] + len(raw)
		}
		m := linkMatch{start: loc[0], end: end, url: raw, kind: classify(raw)}
		if best == nil || rank(m.kind) < rank(best.kind) {
			best = &m
		}
	}
	if best == nil {
		return linkMatch{}, false
	}
	return *best, true
}

func inside(spans [][]int, start, end int) bool {
	for _, s := range spans {
		if start < s[1] && end > s[0] {
			return true
		}
	}
	return false
}

func classify(raw string) search.Kind {
	if videoPattern.MatchString(raw) {
		return search.KindYouTube
	}
	if u, err := url.Parse(raw); err == nil {
		host := strings.ToLower(u.Hostname())
		for _, domain := range []string{"giphy.com", "tenor.com"} {
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return search.KindGIF
			}
		}
	}
	return search.KindWebsite
}

func rank(k search.Kind) int {
	for i, p := range linkPriority {
		if p == k {
			return i
		}
	}
	return len(linkPriority)
}
