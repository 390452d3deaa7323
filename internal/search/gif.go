package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const giphyAPIBase = "https://api.giphy.com/v1/gifs"

var giphyTitleSuffix = regexp.MustCompile(`(?i)\s*-\s*Discover\s*&\s*Share\s*GIFs`)

// GIFSearcher looks up animated images through Giphy.
type GIFSearcher struct {
	apiKey     string
	base       string
	maxResults int
	http       *fetcher
	describer  Describer
	logger     *slog.Logger
}

// NewGIFSearcher creates a Giphy backend.
func NewGIFSearcher(opts Options, describer Describer, logger *slog.Logger) *GIFSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &GIFSearcher{
		apiKey:     opts.APIKey,
		base:       orDefault(opts.APIBase, giphyAPIBase),
		maxResults: max(opts.MaxResults, 1),
		http:       newFetcher(opts.Timeout, opts.RequestsPerSecond),
		describer:  describer,
		logger:     logger.With("component", "search", "kind", KindGIF),
	}
}

func (s *GIFSearcher) Kind() Kind { return KindGIF }

// SearchByURL scrapes a GIF page for its title and image.
func (s *GIFSearcher) SearchByURL(ctx context.Context, link string) (*Result, error) {
	meta, err := s.http.page(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("gif page: %w", err)
	}
	title := strings.TrimSpace(giphyTitleSuffix.ReplaceAllString(meta.Title, ""))
	return s.result(ctx, title, meta.Image, link), nil
}

// SearchByQuery returns the first Giphy hit for query.
func (s *GIFSearcher) SearchByQuery(ctx context.Context, query string) (*Result, error) {
	q := url.Values{
		"api_key": {s.apiKey},
		"q":       {query},
		"limit":   {strconv.Itoa(s.maxResults)},
		"rating":  {"pg-13"},
	}
	var resp struct {
		Data []struct {
			URL    string `json:"url"`
			Title  string `json:"title"`
			Images struct {
				Original struct {
					URL string `json:"url"`
				} `json:"original"`
				OriginalStill struct {
					URL string `json:"url"`
				} `json:"original_still"`
			} `json:"images"`
		} `json:"data"`
	}
	if err := s.http.getJSON(ctx, s.base+"/search?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("giphy search: %w", err)
	}
	for _, g := range resp.Data {
		if g.Images.Original.URL == "" {
			continue
		}
		res := s.result(ctx, g.Title, firstNonEmpty(g.Images.OriginalStill.URL, g.Images.Original.URL), g.Images.Original.URL)
		res.Sendable = g.Images.Original.URL
		return res, nil
	}
	return nil, fmt.Errorf("giphy search %q: %w", query, ErrNoResults)
}

func (s *GIFSearcher) result(ctx context.Context, title, imageURL, link string) *Result {
	desc := NoDescription
	if imageURL != "" && s.describer != nil {
		data, ctype, err := s.http.image(ctx, imageURL)
		if err == nil {
			var d string
			d, err = s.describer.DescribeImage(ctx, data, ctype)
			if err == nil {
				desc = d
			}
		}
		if err != nil {
			s.logger.Warn("GIF description failed", "error", err)
		}
	}
	sendable := firstNonEmpty(imageURL, link)
	return &Result{
		Sendable:   sendable,
		Annotation: Annotation(KindGIF.Label(), orDefault(title, "No title"), desc),
		URL:        link,
	}
}
