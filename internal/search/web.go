package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
)

const customSearchBase = "https://www.googleapis.com/customsearch/v1"

// WebSearcher looks up web pages through Google Custom Search.
type WebSearcher struct {
	apiKey     string
	engineID   string
	base       string
	maxResults int
	http       *fetcher
	describer  Describer
	logger     *slog.Logger
}

// NewWebSearcher creates a web backend.
func NewWebSearcher(opts Options, describer Describer, logger *slog.Logger) *WebSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSearcher{
		apiKey:     opts.APIKey,
		engineID:   opts.EngineID,
		base:       orDefault(opts.APIBase, customSearchBase),
		maxResults: min(max(opts.MaxResults, 1), 10),
		http:       newFetcher(opts.Timeout, opts.RequestsPerSecond),
		describer:  describer,
		logger:     logger.With("component", "search", "kind", KindWebsite),
	}
}

func (s *WebSearcher) Kind() Kind { return KindWebsite }

// SearchByURL scrapes a page for its title and description.
func (s *WebSearcher) SearchByURL(ctx context.Context, link string) (*Result, error) {
	meta, err := s.http.page(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("web page: %w", err)
	}
	return s.result(ctx, link, meta.Title, meta.Description), nil
}

// SearchByQuery returns the first search hit for query. Page metadata
// falls back to the search snippet when the page cannot be fetched.
func (s *WebSearcher) SearchByQuery(ctx context.Context, query string) (*Result, error) {
	q := url.Values{
		"key": {s.apiKey},
		"cx":  {s.engineID},
		"q":   {query},
		"num": {strconv.Itoa(s.maxResults)},
	}
	var resp struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := s.http.getJSON(ctx, s.base+"?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	for _, item := range resp.Items {
		if item.Link == "" {
			continue
		}
		title, desc := item.Title, item.Snippet
		if meta, err := s.http.page(ctx, item.Link); err == nil {
			title = firstNonEmpty(meta.Title, title)
			desc = firstNonEmpty(meta.Description, desc)
		} else {
			s.logger.Debug("Page fetch failed, using snippet", "url", item.Link, "error", err)
		}
		return s.result(ctx, item.Link, title, desc), nil
	}
	return nil, fmt.Errorf("web search %q: %w", query, ErrNoResults)
}

func (s *WebSearcher) result(ctx context.Context, link, title, desc string) *Result {
	urlDesc := "No summary available"
	if s.describer != nil {
		if sum, err := s.describer.SummarizeLink(ctx, link); err == nil {
			urlDesc = sum
		} else {
			s.logger.Warn("Link summary failed", "url", link, "error", err)
		}
	}
	title = orDefault(title, "No Title Available")
	return &Result{
		Sendable:   slackLink(link, title),
		Annotation: Annotation(KindWebsite.Label(), title, orDefault(desc, NoDescription), urlDesc),
		URL:        link,
	}
}
