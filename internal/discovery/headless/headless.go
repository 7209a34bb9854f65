// Package headless discovers candidates by rendering a results page in
// headless Chrome.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/imgharvest/internal/discovery"
	"github.com/JakeFAU/imgharvest/internal/harvest"
)

// Defaults applied by New.
const (
	DefaultNavigationTimeout = 60 * time.Second
	DefaultWaitTimeout       = 100 * time.Second
	DefaultSettleDelay       = 2 * time.Second
	DefaultScrolls           = 10
	DefaultScrollPause       = 200 * time.Millisecond
	DefaultItemSelector      = "div.rg_meta"
	DefaultItemAttribute     = "innerHTML"
	DefaultItemJSONField     = "ou"
)

// Config controls the rendered discovery.
type Config struct {
	// SearchURL is a template; {term} is replaced by the escaped term.
	SearchURL string
	UserAgent string
	// WaitSelector must match before items are collected. Empty waits for body.
	WaitSelector      string
	WaitTimeout       time.Duration
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	Scrolls           int
	ScrollPause       time.Duration
	ItemSelector      string
	// ItemAttribute is read from each item; "innerHTML" and "textContent" read
	// the element content instead of an attribute.
	ItemAttribute string
	// ItemJSONField, when set, parses the item value as JSON and uses this field.
	ItemJSONField string
	Limit         int
}

// Discoverer implements harvest.Discoverer with chromedp.
type Discoverer struct {
	cfg         Config
	ids         harvest.IDGenerator
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New prepares a Chrome allocator. The browser itself starts lazily on the
// first Discover call.
func New(cfg Config, ids harvest.IDGenerator, logger *zap.Logger) (*Discoverer, error) {
	if cfg.SearchURL == "" {
		return nil, errors.New("headless discovery: search url is required")
	}
	if cfg.Scrolls < 0 {
		return nil, fmt.Errorf("headless discovery: scrolls must be >= 0, got %d", cfg.Scrolls)
	}
	cfg = withDefaults(cfg)
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(800, 800),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Discoverer{
		cfg:         cfg,
		ids:         ids,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.ScrollPause <= 0 {
		cfg.ScrollPause = DefaultScrollPause
	}
	if cfg.ItemSelector == "" {
		cfg.ItemSelector = DefaultItemSelector
		if cfg.ItemJSONField == "" {
			cfg.ItemJSONField = DefaultItemJSONField
		}
	}
	if cfg.ItemAttribute == "" {
		cfg.ItemAttribute = DefaultItemAttribute
	}
	return cfg
}

// Close shuts down the browser allocator.
func (d *Discoverer) Close() {
	d.allocCancel()
}

// Discover renders the results page for term and returns the collected image
// URLs. The browser tab is closed before the sequence is returned.
func (d *Discoverer) Discover(ctx context.Context, term string) (iter.Seq[harvest.Candidate], error) {
	if err := ctx.Err(); err != nil {
		return nil, &harvest.DiscoveryError{Term: term, Err: err}
	}
	pageURL := discovery.ExpandURL(d.cfg.SearchURL, term)
	d.logger.Info("rendering results page", zap.String("term", term), zap.String("url", pageURL))

	tabCtx, cancelTab := chromedp.NewContext(d.allocator)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	values, finalURL, err := d.render(tabCtx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &harvest.DiscoveryError{Term: term, Err: err}
	}

	base, _ := url.Parse(finalURL)
	urls := ParseItems(values, d.cfg.ItemJSONField, base, d.logger)
	urls = discovery.Dedupe(urls, d.cfg.Limit)
	d.logger.Info("results page rendered",
		zap.String("term", term),
		zap.Int("items", len(values)),
		zap.Int("candidates", len(urls)))
	return discovery.Candidates(urls, d.ids), nil
}

func (d *Discoverer) render(tabCtx context.Context, pageURL string) ([]string, string, error) {
	var (
		values   []string
		finalURL string
	)

	navCtx, cancelNav := context.WithTimeout(tabCtx, d.cfg.NavigationTimeout)
	defer cancelNav()
	if err := chromedp.Run(navCtx, d.setupAction(), chromedp.Navigate(pageURL)); err != nil {
		return nil, "", fmt.Errorf("navigate: %w", err)
	}

	waitCtx, cancelWait := context.WithTimeout(tabCtx, d.cfg.WaitTimeout)
	defer cancelWait()
	if err := chromedp.Run(waitCtx, d.waitAction()); err != nil {
		return nil, "", fmt.Errorf("wait for %q: %w", d.waitSelector(), err)
	}

	actions := []chromedp.Action{chromedp.Sleep(d.cfg.SettleDelay)}
	for i := 0; i < d.cfg.Scrolls; i++ {
		actions = append(actions,
			chromedp.Evaluate(scrollScript, nil),
			chromedp.Sleep(d.cfg.ScrollPause),
		)
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.Evaluate(ExtractScript(d.cfg.ItemSelector, d.cfg.ItemAttribute), &values),
	)
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return nil, "", fmt.Errorf("collect items: %w", err)
	}
	return values, finalURL, nil
}

func (d *Discoverer) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if d.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(d.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (d *Discoverer) waitAction() chromedp.Action {
	return chromedp.WaitReady(d.waitSelector(), chromedp.ByQuery)
}

func (d *Discoverer) waitSelector() string {
	if d.cfg.WaitSelector == "" {
		return "body"
	}
	return d.cfg.WaitSelector
}

const scrollScript = `window.scrollBy(0, 1000000)`

// ExtractScript returns a JavaScript expression evaluating to the attribute
// value of every element matching selector, in document order.
func ExtractScript(selector, attribute string) string {
	sel, _ := json.Marshal(selector)
	attr, _ := json.Marshal(attribute)
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(function (el) {
  var attr = %s;
  if (attr === "innerHTML") { return el.innerHTML; }
  if (attr === "textContent") { return el.textContent; }
  return el.getAttribute(attr) || "";
})`, sel, attr)
}

// ParseItems turns raw item values into absolute URLs. With jsonField set each
// value is decoded as a JSON object and the named string field used; values
// that fail to decode are logged and dropped.
func ParseItems(values []string, jsonField string, base *url.URL, logger *zap.Logger) []string {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if jsonField != "" {
			var meta map[string]any
			if err := json.Unmarshal([]byte(v), &meta); err != nil {
				logger.Debug("dropping undecodable item", zap.Error(err))
				continue
			}
			field, ok := meta[jsonField].(string)
			if !ok {
				logger.Debug("item missing url field", zap.String("field", jsonField))
				continue
			}
			v = field
		}
		if resolved := discovery.Resolve(base, v); resolved != "" {
			out = append(out, resolved)
		}
	}
	return out
}
