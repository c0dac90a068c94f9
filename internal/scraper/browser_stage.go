package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"
	"golang.org/x/sync/semaphore"

	"github.com/maltedev/price-tracker/internal/antibot"
	"github.com/maltedev/price-tracker/internal/browser"
	"github.com/maltedev/price-tracker/internal/parser"
	"github.com/maltedev/price-tracker/internal/sites"
)

type BrowserConfig struct {
	Headless       bool
	NavTimeout     time.Duration
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	UserAgents     []string
	MaxBrowsers    int
}

// BrowserStage renders the page in Chromium. Each attempt gets its own
// browser, torn down before returning.
type BrowserStage struct {
	launcher *browser.Launcher
	registry *sites.Registry
	cfg      BrowserConfig
	sem      *semaphore.Weighted
	ci       bool

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewBrowserStage(launcher *browser.Launcher, registry *sites.Registry, cfg BrowserConfig) *BrowserStage {
	if cfg.MaxBrowsers < 1 {
		cfg.MaxBrowsers = 1
	}
	return &BrowserStage{
		launcher: launcher,
		registry: registry,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxBrowsers)),
		ci:       antibot.IsCI(),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *BrowserStage) Name() string { return StageBrowser }

// options builds the launch profile for one attempt.
func (s *BrowserStage) options(stealth bool) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Stealth = stealth
	opts.Headless = antibot.Headless(s.cfg.Headless, stealth, s.ci)
	if s.cfg.NavTimeout > 0 {
		opts.NavTimeout = s.cfg.NavTimeout
	}
	if s.cfg.ViewportWidth > 0 && s.cfg.ViewportHeight > 0 {
		opts.ViewportWidth = s.cfg.ViewportWidth
		opts.ViewportHeight = s.cfg.ViewportHeight
	}
	if s.cfg.Locale != "" {
		opts.Locale = s.cfg.Locale
	}
	if s.cfg.TimezoneID != "" {
		opts.TimezoneID = s.cfg.TimezoneID
	}
	if len(s.cfg.UserAgents) > 0 {
		s.mu.Lock()
		opts.UserAgent = s.cfg.UserAgents[s.rnd.Intn(len(s.cfg.UserAgents))]
		s.mu.Unlock()
	}
	return opts
}

func (s *BrowserStage) Attempt(ctx context.Context, h sites.Handler, url string, req Request) Attempt {
	logger := requestLogger(req).With("stage", StageBrowser)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return Attempt{Err: err}
	}
	defer s.sem.Release(1)

	stealth := h.UseStealth() || req.ForceStealth
	opts := s.options(stealth)

	b, err := s.launcher.Launch(opts)
	if err != nil {
		return Attempt{Err: err}
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("failed to close browser", "error", err)
		}
	}()

	page, err := b.NewPage()
	if err != nil {
		return Attempt{Err: err}
	}
	defer page.Close()

	logger.Debug("navigating", "url", url, "stealth", stealth, "headless", opts.Headless)

	status, err := b.Navigate(page, url)
	if err != nil {
		return Attempt{Err: err}
	}
	if status == http.StatusNotFound {
		return Attempt{StatusCode: status, NotFound: true, Err: &HTTPStatusError{StatusCode: status}}
	}

	if err := h.PreparePage(ctx, page); err != nil {
		return Attempt{StatusCode: status, Err: fmt.Errorf("failed to prepare page: %w", err)}
	}

	wait := h.WaitTime()
	if req.ForceStealth {
		wait *= 2
	}
	browser.Wait(page, wait)

	html, err := s.content(page, logger)
	if err != nil {
		return Attempt{StatusCode: status, Err: err}
	}

	doc, err := parser.Parse(html)
	if err != nil {
		return Attempt{StatusCode: status, Err: err}
	}

	a := inspect(h, url, page.URL(), html, doc)
	a.StatusCode = status

	if a.Found {
		if resolver, ok := h.(sites.VendorResolver); ok {
			s.followVendor(ctx, b, page, resolver, doc, &a, logger)
		}
		logger.Debug("price found", "url", url, "selector", a.Selector, "price", a.Price)
	}

	return a
}

// content reads the rendered page, giving a Cloudflare challenge one
// extra chance to clear.
func (s *BrowserStage) content(page playwright.Page, logger *slog.Logger) (string, error) {
	html, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}

	if antibot.Detect(html) && (strings.Contains(strings.ToLower(page.URL()), "cloudflare") || strings.Contains(html, "cf-browser-verification") || strings.Contains(html, "challenge-platform")) {
		logger.Warn("challenge page detected, waiting for completion")
		browser.Wait(page, 10*time.Second)
		if html, err = page.Content(); err != nil {
			return "", fmt.Errorf("failed to get page content: %w", err)
		}
	}

	return html, nil
}

// followVendor opens the aggregator's offer link and, when the shop page
// yields a price with its own handler, reports that price instead.
func (s *BrowserStage) followVendor(ctx context.Context, b *browser.Browser, page playwright.Page, resolver sites.VendorResolver, doc *goquery.Document, a *Attempt, logger *slog.Logger) {
	link, err := resolver.ResolveVendor(ctx, page, doc)
	if err != nil || link == nil {
		if err != nil {
			logger.Warn("failed to resolve vendor", "error", err)
		}
		return
	}

	a.Vendor = &sites.Vendor{Name: link.Name, URL: link.URL}
	if link.URL == "" {
		return
	}

	if _, err := b.Navigate(page, link.URL); err != nil {
		logger.Warn("failed to open vendor page", "vendor", link.Name, "error", err)
		return
	}

	final := page.URL()
	vendorHandler := s.registry.Lookup(final)
	browser.Wait(page, vendorHandler.WaitTime())

	a.Vendor.URL = final
	if a.Vendor.Name == "" {
		a.Vendor.Name = vendorHandler.Name()
	}

	html, err := page.Content()
	if err != nil {
		return
	}
	vendorDoc, err := parser.Parse(html)
	if err != nil {
		return
	}

	if price, selector, ok := vendorHandler.ExtractPrice(vendorDoc); ok {
		logger.Debug("vendor price found", "vendor", a.Vendor.Name, "aggregator_price", a.Price, "price", price)
		a.Price = price
		a.Selector = selector
		return
	}

	logger.Debug("vendor page had no price, keeping aggregator price", "vendor", a.Vendor.Name)
}
