// Package feed discovers candidates from the image enclosures and media
// extensions of an RSS or Atom feed.
package feed

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"go.uber.org/zap"

	"github.com/JakeFAU/imgharvest/internal/discovery"
	"github.com/JakeFAU/imgharvest/internal/harvest"
)

// DefaultTimeout bounds the feed request.
const DefaultTimeout = 15 * time.Second

// Config controls feed discovery.
type Config struct {
	// FeedURL is a template; {term} is replaced by the escaped term.
	FeedURL   string
	UserAgent string
	Timeout   time.Duration
	Limit     int
}

// Discoverer implements harvest.Discoverer over a syndication feed.
type Discoverer struct {
	Client *http.Client
	cfg    Config
	ids    harvest.IDGenerator
	logger *zap.Logger
}

// New validates cfg.
func New(cfg Config, ids harvest.IDGenerator, logger *zap.Logger) (*Discoverer, error) {
	if cfg.FeedURL == "" {
		return nil, errors.New("feed discovery: feed url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		Client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		ids:    ids,
		logger: logger,
	}, nil
}

// Discover fetches and parses the feed for term.
func (d *Discoverer) Discover(ctx context.Context, term string) (iter.Seq[harvest.Candidate], error) {
	feedURL := discovery.ExpandURL(d.cfg.FeedURL, term)
	feed, err := d.fetch(ctx, feedURL)
	if err != nil {
		return nil, &harvest.DiscoveryError{Term: term, Err: err}
	}

	base, _ := url.Parse(feedURL)
	if feed.Link != "" {
		if link, err := url.Parse(feed.Link); err == nil && link.IsAbs() {
			base = link
		}
	}
	urls := discovery.Dedupe(ImageURLs(feed, base), d.cfg.Limit)
	d.logger.Info("feed parsed",
		zap.String("term", term),
		zap.String("url", feedURL),
		zap.Int("items", len(feed.Items)),
		zap.Int("candidates", len(urls)))
	return discovery.Candidates(urls, d.ids), nil
}

func (d *Discoverer) fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("get feed: status %d", resp.StatusCode)
	}
	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// ImageURLs collects image references from every item in feed order:
// image enclosures, media:content, media:thumbnail, then the item image.
func ImageURLs(feed *gofeed.Feed, base *url.URL) []string {
	var out []string
	add := func(raw string) {
		if resolved := discovery.Resolve(base, raw); resolved != "" {
			out = append(out, resolved)
		}
	}
	for _, item := range feed.Items {
		for _, enc := range item.Enclosures {
			if enc != nil && isImageType(enc.Type) {
				add(enc.URL)
			}
		}
		for _, media := range mediaElements(item.Extensions) {
			switch media.Name {
			case "content":
				if isImageMedia(media.Attrs) {
					add(media.Attrs["url"])
				}
			case "thumbnail":
				add(media.Attrs["url"])
			}
		}
		if item.Image != nil {
			add(item.Image.URL)
		}
	}
	return out
}

// mediaElements flattens media:content and media:thumbnail, including those
// nested in media:group.
func mediaElements(exts ext.Extensions) []ext.Extension {
	media, ok := exts["media"]
	if !ok {
		return nil
	}
	var out []ext.Extension
	var walk func(list []ext.Extension)
	walk = func(list []ext.Extension) {
		for _, e := range list {
			switch e.Name {
			case "content", "thumbnail":
				out = append(out, e)
			case "group":
				walk(e.Children["content"])
				walk(e.Children["thumbnail"])
			}
		}
	}
	walk(media["content"])
	walk(media["thumbnail"])
	walk(media["group"])
	return out
}

func isImageType(mime string) bool {
	return mime == "" || strings.HasPrefix(strings.ToLower(mime), "image/")
}

func isImageMedia(attrs map[string]string) bool {
	if medium := attrs["medium"]; medium != "" {
		return medium == "image"
	}
	return isImageType(attrs["type"])
}
