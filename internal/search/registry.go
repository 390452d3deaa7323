package search

import (
	"log/slog"

	"github.com/scalytics/parley/internal/config"
)

// Registry maps each kind to its backend.
type Registry map[Kind]Searcher

// NewRegistry builds every backend from configuration. The YouTube backend
// falls back to the Google API key when no dedicated key is set.
func NewRegistry(cfg config.SearchConfig, describer Describer, logger *slog.Logger) Registry {
	base := Options{
		MaxResults:        cfg.MaxResults,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Timeout:           cfg.Timeout,
	}
	yt := base
	yt.APIKey = firstNonEmpty(cfg.YouTubeAPIKey, cfg.GoogleAPIKey)
	gif := base
	gif.APIKey = cfg.GiphyAPIKey
	web := base
	web.APIKey = cfg.GoogleAPIKey
	web.EngineID = cfg.GoogleEngineID

	return Registry{
		KindYouTube: NewYouTubeSearcher(yt, describer, logger),
		KindGIF:     NewGIFSearcher(gif, describer, logger),
		KindWebsite: NewWebSearcher(web, describer, logger),
	}
}

// Get returns the backend for kind.
func (r Registry) Get(kind Kind) (Searcher, bool) {
	s, ok := r[kind]
	return s, ok && s != nil
}
