package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const youtubeAPIBase = "https://www.googleapis.com/youtube/v3"

var videoIDPattern = regexp.MustCompile(`(?:v=|/)([A-Za-z0-9_-]{11})`)

// ErrNoResults is returned when a backend finds nothing.
var ErrNoResults = errors.New("no results")

type ytSnippet struct {
	Title        string `json:"title"`
	ChannelTitle string `json:"channelTitle"`
	Description  string `json:"description"`
	PublishedAt  string `json:"publishedAt"`
	Thumbnails   map[string]struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
}

type video struct {
	id          string
	title       string
	author      string
	description string
	thumbnail   string
}

// YouTubeSearcher looks up videos through the YouTube Data API v3.
type YouTubeSearcher struct {
	apiKey     string
	base       string
	maxResults int
	http       *fetcher
	describer  Describer
	logger     *slog.Logger
}

// NewYouTubeSearcher creates a YouTube backend.
func NewYouTubeSearcher(opts Options, describer Describer, logger *slog.Logger) *YouTubeSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &YouTubeSearcher{
		apiKey:     opts.APIKey,
		base:       orDefault(opts.APIBase, youtubeAPIBase),
		maxResults: max(opts.MaxResults, 1),
		http:       newFetcher(opts.Timeout, opts.RequestsPerSecond),
		describer:  describer,
		logger:     logger.With("component", "search", "kind", KindYouTube),
	}
}

func (s *YouTubeSearcher) Kind() Kind { return KindYouTube }

// SearchByURL annotates a linked video.
func (s *YouTubeSearcher) SearchByURL(ctx context.Context, link string) (*Result, error) {
	m := videoIDPattern.FindStringSubmatch(link)
	if m == nil {
		return nil, fmt.Errorf("youtube: no video id in %q", link)
	}
	q := url.Values{"part": {"snippet"}, "id": {m[1]}, "key": {s.apiKey}}
	var resp struct {
		Items []struct {
			ID      string    `json:"id"`
			Snippet ytSnippet `json:"snippet"`
		} `json:"items"`
	}
	if err := s.http.getJSON(ctx, s.base+"/videos?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("youtube videos: %w", err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("youtube video %s: %w", m[1], ErrNoResults)
	}
	return s.result(ctx, newVideo(m[1], resp.Items[0].Snippet)), nil
}

// SearchByQuery returns the first video matching query.
func (s *YouTubeSearcher) SearchByQuery(ctx context.Context, query string) (*Result, error) {
	q := url.Values{
		"part":       {"snippet"},
		"type":       {"video"},
		"q":          {query},
		"maxResults": {strconv.Itoa(s.maxResults)},
		"key":        {s.apiKey},
	}
	var resp struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
			Snippet ytSnippet `json:"snippet"`
		} `json:"items"`
	}
	if err := s.http.getJSON(ctx, s.base+"/search?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("youtube search: %w", err)
	}
	for _, item := range resp.Items {
		if item.ID.VideoID != "" {
			return s.result(ctx, newVideo(item.ID.VideoID, item.Snippet)), nil
		}
	}
	return nil, fmt.Errorf("youtube search %q: %w", query, ErrNoResults)
}

func newVideo(id string, sn ytSnippet) video {
	v := video{id: id, title: sn.Title, author: sn.ChannelTitle, description: sn.Description}
	for _, size := range []string{"default", "medium", "high"} {
		if t, ok := sn.Thumbnails[size]; ok && t.URL != "" {
			v.thumbnail = t.URL
			break
		}
	}
	return v
}

// result enriches the video with summaries. Every enrichment step degrades
// to a placeholder on failure.
func (s *YouTubeSearcher) result(ctx context.Context, v video) *Result {
	thumb := "No thumbnail description available"
	if v.thumbnail != "" && s.describer != nil {
		if desc := s.describeThumbnail(ctx, v.thumbnail); desc != "" {
			thumb = desc
		}
	}
	desc := v.description
	if strings.TrimSpace(desc) != "" && s.describer != nil {
		if sum, err := s.describer.SummarizeText(ctx, desc); err == nil {
			desc = sum
		} else {
			s.logger.Warn("Description summary failed", "video", v.id, "error", err)
		}
	}
	link := "https://www.youtube.com/watch?v=" + v.id
	title := orDefault(v.title, "No title available")
	return &Result{
		Sendable: slackLink(link, title),
		Annotation: Annotation(KindYouTube.Label(),
			title,
			orDefault(v.author, "No author available"),
			orDefault(desc, NoDescription),
			"Thumbnail Description: "+thumb,
		),
		URL: link,
	}
}

func (s *YouTubeSearcher) describeThumbnail(ctx context.Context, thumbURL string) string {
	data, ctype, err := s.http.image(ctx, thumbURL)
	if err != nil {
		s.logger.Warn("Thumbnail download failed", "error", err)
		return ""
	}
	desc, err := s.describer.DescribeImage(ctx, data, ctype)
	if err != nil {
		s.logger.Warn("Thumbnail description failed", "error", err)
		return ""
	}
	if sum, err := s.describer.SummarizeText(ctx, desc); err == nil {
		return sum
	}
	return desc
}
