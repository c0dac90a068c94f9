package browser

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/price-tracker/internal/antibot"
)

// Launcher owns the playwright driver. Browsers launched from it are
// short-lived: one per URL.
type Launcher struct {
	mu     sync.Mutex
	pw     *playwright.Playwright
	logger *slog.Logger
}

func NewLauncher(logger *slog.Logger) *Launcher {
	return &Launcher{logger: logger.With("component", "browser")}
}

func (l *Launcher) driver() (*playwright.Playwright, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pw != nil {
		return l.pw, nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	l.pw = pw
	return pw, nil
}

// Stop shuts the driver down. Browsers must be closed first.
func (l *Launcher) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pw == nil {
		return nil
	}
	err := l.pw.Stop()
	l.pw = nil
	if err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

type Browser struct {
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Stealth        bool
	NavTimeout     time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		NavTimeout:     45 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "fr-FR,fr;q=0.9,en;q=0.8",
		TimezoneID:     "Europe/Paris",
		Locale:         "fr-FR",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "fr-FR,fr;q=0.9,en;q=0.8",
		},
	}
}

// LaunchArgs returns the Chromium flags for opts.
func LaunchArgs(opts *Options) []string {
	args := []string{
		"--disable-blink-features=AutomationControlled",
		"--disable-dev-shm-usage",
		"--no-sandbox",
		"--disable-setuid-sandbox",
		fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
	}
	if opts.Stealth {
		args = append(args, antibot.StealthArgs...)
	}
	return args
}

// Launch starts an isolated browser with a fresh context.
func (l *Launcher) Launch(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := l.driver()
	if err != nil {
		return nil, err
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     LaunchArgs(opts),
	}
	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: opts.ProxyServer}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	headers := opts.ExtraHeaders
	if opts.Stealth {
		headers = antibot.StealthHeaders()
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(opts.UserAgent),
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            playwright.String(opts.Locale),
		TimezoneId:        playwright.String(opts.TimezoneID),
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	}
	if opts.Stealth {
		contextOpts.Permissions = []string{"geolocation"}
		contextOpts.Geolocation = &playwright.Geolocation{Latitude: 48.8566, Longitude: 2.3522}
	}

	context, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	if opts.Stealth {
		script := antibot.InitScript
		if err := context.AddInitScript(playwright.Script{Content: &script}); err != nil {
			l.logger.Warn("failed to install stealth init script", "error", err)
		}
	}

	return &Browser{
		browser: browser,
		context: context,
		opts:    opts,
		logger:  l.logger.With("stealth", opts.Stealth),
	}, nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.NavTimeout.Milliseconds()))

	return page, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

// Navigate loads url and returns the main document status (0 when the
// navigation produced no response). Stealth contexts only wait for
// DOMContentLoaded, since challenge scripts can hold the load event.
func (b *Browser) Navigate(page playwright.Page, url string) (int, error) {
	waitUntil := playwright.WaitUntilStateLoad
	if b.opts.Stealth {
		waitUntil = playwright.WaitUntilStateDomcontentloaded
	}

	resp, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitUntil,
		Timeout:   playwright.Float(float64(b.opts.NavTimeout.Milliseconds())),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if resp == nil {
		return 0, nil
	}
	return resp.Status(), nil
}

// Wait pauses the page for d.
func Wait(page playwright.Page, d time.Duration) {
	if d > 0 {
		page.WaitForTimeout(float64(d.Milliseconds()))
	}
}

// ClickFirstVisible clicks the first visible match among selectors and
// reports which one was clicked.
func ClickFirstVisible(page playwright.Page, selectors []string) (string, bool) {
	for _, selector := range selectors {
		button := page.Locator(selector).First()

		visible, err := button.IsVisible()
		if err != nil || !visible {
			continue
		}

		if err := button.Click(); err != nil {
			continue
		}
		return selector, true
	}
	return "", false
}

// WaitForAnySelector waits up to timeout for each selector in turn and
// returns the first that attached.
func WaitForAnySelector(page playwright.Page, selectors []string, timeout time.Duration) (string, bool) {
	for _, selector := range selectors {
		_, err := page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
			Timeout: playwright.Float(float64(timeout.Milliseconds())),
		})
		if err == nil {
			return selector, true
		}
	}
	return "", false
}

// HumanizeInteraction scrolls and moves the mouse in small steps to look
// like a reader rather than a script.
func HumanizeInteraction(page playwright.Page, scrolls int, pause time.Duration) {
	for i := 0; i < scrolls; i++ {
		page.Evaluate(`window.scrollBy(0, 300)`)
		Wait(page, pause)
	}

	for i := 0; i < 5; i++ {
		x := float64(100 + i*100)
		y := float64(200 + i*100)
		page.Mouse().Move(x, y)
		Wait(page, 200*time.Millisecond)
	}

	for i := 0; i < 2; i++ {
		page.Keyboard().Press("PageDown")
		Wait(page, 500*time.Millisecond)
	}
}
