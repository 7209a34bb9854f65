// Package static discovers candidates from a server-rendered results page
// using colly.
package static

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/imgharvest/internal/discovery"
	"github.com/JakeFAU/imgharvest/internal/harvest"
)

// Defaults applied by New.
const (
	DefaultSelector  = "img[src]"
	DefaultAttribute = "src"
	DefaultTimeout   = 30 * time.Second
)

// Config controls the static results-page scrape.
type Config struct {
	// SearchURL is a template; {term} is replaced by the escaped term.
	SearchURL string
	Selector  string
	Attribute string
	UserAgent string
	Timeout   time.Duration
	// Limit caps the number of candidates; 0 means unlimited.
	Limit int
}

// Discoverer implements harvest.Discoverer by scraping one page per term.
type Discoverer struct {
	cfg    Config
	ids    harvest.IDGenerator
	logger *zap.Logger
	base   *colly.Collector
}

// New validates cfg and prepares the base collector.
func New(cfg Config, ids harvest.IDGenerator, logger *zap.Logger) (*Discoverer, error) {
	if cfg.SearchURL == "" {
		return nil, errors.New("static discovery: search url is required")
	}
	if cfg.Selector == "" {
		cfg.Selector = DefaultSelector
	}
	if cfg.Attribute == "" {
		cfg.Attribute = DefaultAttribute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)

	return &Discoverer{cfg: cfg, ids: ids, logger: logger, base: c}, nil
}

// Discover fetches the results page for term and collects the configured
// attribute of every matching element in document order.
func (d *Discoverer) Discover(ctx context.Context, term string) (iter.Seq[harvest.Candidate], error) {
	if err := ctx.Err(); err != nil {
		return nil, &harvest.DiscoveryError{Term: term, Err: err}
	}
	pageURL := discovery.ExpandURL(d.cfg.SearchURL, term)

	var (
		found    []string
		visitErr error
		status   int
	)
	collector := d.base.Clone()
	collector.OnHTML(d.cfg.Selector, func(e *colly.HTMLElement) {
		found = append(found, discovery.Resolve(e.Request.URL, e.Attr(d.cfg.Attribute)))
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		visitErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return nil, &harvest.DiscoveryError{Term: term, Err: ctx.Err()}
	case err := <-done:
		if visitErr != nil {
			err = visitErr
		}
		if err != nil {
			if status != 0 && status != http.StatusOK {
				err = fmt.Errorf("results page status %d: %w", status, err)
			}
			return nil, &harvest.DiscoveryError{Term: term, Err: err}
		}
	}

	urls := discovery.Dedupe(found, d.cfg.Limit)
	d.logger.Info("results page scraped",
		zap.String("term", term),
		zap.String("url", pageURL),
		zap.Int("candidates", len(urls)))
	return discovery.Candidates(urls, d.ids), nil
}
