package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/gif"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const (
	userAgent    = "Mozilla/5.0 (compatible; parley/1.0)"
	maxPageBytes = 2 << 20
	maxImageSize = 8 << 20
)

// fetcher is the rate-limited HTTP client shared by the backends.
type fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

func newFetcher(timeout time.Duration, rps float64) *fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &fetcher{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (f *fetcher) get(ctx context.Context, url string, limit int64) ([]byte, string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("GET %s: HTTP %d", redact(url), resp.StatusCode)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (f *fetcher) getJSON(ctx context.Context, url string, out any) error {
	body, _, err := f.get(ctx, url, maxPageBytes)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", redact(url), err)
	}
	return nil
}

// image downloads an image and reduces animated GIFs to their first frame.
func (f *fetcher) image(ctx context.Context, url string) ([]byte, string, error) {
	data, ctype, err := f.get(ctx, url, maxImageSize)
	if err != nil {
		return nil, "", err
	}
	return StillFrame(data, ctype)
}

// pageMeta is the subset of an HTML document used for annotations.
type pageMeta struct {
	Title       string
	Description string
	Image       string
}

func (f *fetcher) page(ctx context.Context, url string) (*pageMeta, error) {
	body, _, err := f.get(ctx, url, maxPageBytes)
	if err != nil {
		return nil, err
	}
	return parsePage(bytes.NewReader(body))
}

func parsePage(r io.Reader) (*pageMeta, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	var (
		meta                        pageMeta
		ogTitle, ogDesc, nameOGDesc string
		imageSrc                    string
	)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if meta.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					meta.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				name, prop, content := attr(n, "name"), attr(n, "property"), strings.TrimSpace(attr(n, "content"))
				switch {
				case strings.EqualFold(name, "description") && meta.Description == "":
					meta.Description = content
				case prop == "og:description" && ogDesc == "":
					ogDesc = content
				case name == "og:description" && nameOGDesc == "":
					nameOGDesc = content
				case prop == "og:title" && ogTitle == "":
					ogTitle = content
				case prop == "og:image" && meta.Image == "":
					meta.Image = content
				}
			case "link":
				if attr(n, "rel") == "image_src" && imageSrc == "" {
					imageSrc = strings.TrimSpace(attr(n, "href"))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if meta.Title == "" {
		meta.Title = ogTitle
	}
	if meta.Description == "" {
		meta.Description = firstNonEmpty(ogDesc, nameOGDesc)
	}
	if meta.Image == "" {
		meta.Image = imageSrc
	}
	return &meta, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// StillFrame returns image bytes suitable for a vision model. GIFs are
// decoded and their first frame re-encoded as PNG; other types pass through.
func StillFrame(data []byte, contentType string) ([]byte, string, error) {
	ctype := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ctype == "" || ctype == "application/octet-stream" {
		ctype = http.DetectContentType(data)
	}
	if ctype != "image/gif" {
		return data, ctype, nil
	}
	frame, err := gif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode gif: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		return nil, "", fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), "image/png", nil
}

// redact drops the query string so API keys never reach logs or errors.
func redact(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
