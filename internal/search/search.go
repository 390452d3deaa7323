// Package search looks up videos, GIFs and web pages and renders them as
// sendable content plus a bracketed cache annotation for history.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind identifies a search backend.
type Kind string

const (
	KindYouTube Kind = "youtube"
	KindGIF     Kind = "gif"
	KindWebsite Kind = "website"
)

// Request asks for exactly one of Query or URL.
type Request struct {
	Query string
	URL   string
}

// Result is a realized search hit.
type Result struct {
	// Sendable is what gets posted to the channel.
	Sendable string
	// Annotation is the bracketed text form stored in history.
	Annotation string
	// URL is the canonical address of the hit.
	URL string
}

// Searcher is implemented by each search backend.
type Searcher interface {
	Kind() Kind
	SearchByURL(ctx context.Context, url string) (*Result, error)
	SearchByQuery(ctx context.Context, query string) (*Result, error)
}

// Options configures a backend. Empty APIBase selects the public endpoint.
type Options struct {
	APIKey            string
	EngineID          string
	APIBase           string
	MaxResults        int
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Describer produces the text the annotations are built from.
type Describer interface {
	DescribeImage(ctx context.Context, data []byte, mimeType string) (string, error)
	SummarizeText(ctx context.Context, text string) (string, error)
	SummarizeLink(ctx context.Context, url string) (string, error)
}

// PreconditionError reports a call made without its required arguments.
// It is a caller bug and must not be retried.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: precondition failed: %s", e.Op, e.Reason)
}

// Lookup dispatches req to s. Exactly one of Query and URL must be set.
func Lookup(ctx context.Context, s Searcher, req Request) (*Result, error) {
	query := strings.TrimSpace(req.Query)
	url := strings.TrimSpace(req.URL)
	op := "search " + string(s.Kind())
	switch {
	case query == "" && url == "":
		return nil, &PreconditionError{Op: op, Reason: "must specify either query or url"}
	case query != "" && url != "":
		return nil, &PreconditionError{Op: op, Reason: "query and url are mutually exclusive"}
	case url != "":
		return s.SearchByURL(ctx, url)
	default:
		return s.SearchByQuery(ctx, query)
	}
}

// Annotation renders "[Label ::: field ::: field]". Brackets inside fields
// become parentheses so the annotation stays a single bracketed span.
func Annotation(label string, fields ...string) string {
	parts := make([]string, 0, len(fields)+1)
	parts = append(parts, sanitize(label))
	for _, f := range fields {
		parts = append(parts, sanitize(f))
	}
	return "[" + strings.Join(parts, " ::: ") + "]"
}

// FallbackAnnotation is used when a URL could not be looked up.
func FallbackAnnotation(kind Kind) string {
	return Annotation(kind.Label(), "No Title", NoDescription)
}

// NoDescription is the placeholder for any missing description.
const NoDescription = "No Description Available"

// Label is the annotation prefix for the kind.
func (k Kind) Label() string {
	switch k {
	case KindYouTube:
		return "YouTube"
	case KindGIF:
		return "GIF"
	case KindWebsite:
		return "Website"
	default:
		return string(k)
	}
}

var fieldReplacer = strings.NewReplacer("[", "(", "]", ")", "\r\n", " ", "\n", " ", "\r", " ", "\t", " ")

func sanitize(s string) string {
	s = fieldReplacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// slackLink renders a Slack mrkdwn link.
func slackLink(url, title string) string {
	title = strings.NewReplacer("<", "", ">", "", "|", "-").Replace(title)
	if title == "" {
		return "<" + url + ">"
	}
	return "<" + url + "|" + title + ">"
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return strings.TrimSpace(s)
}
