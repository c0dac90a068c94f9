package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/maltedev/price-tracker/internal/antibot"
	"github.com/maltedev/price-tracker/internal/parser"
	"github.com/maltedev/price-tracker/internal/ratelimit"
	"github.com/maltedev/price-tracker/internal/sites"
)

const maxBodyBytes = 8 << 20

type HTTPConfig struct {
	Timeout    time.Duration
	UserAgents []string
	DelayMin   time.Duration
	DelayMax   time.Duration
	DomainRPS  float64
}

// HTTPStage fetches the page without a browser. It always sleeps a
// random delay before the request, on top of the per-domain rate.
type HTTPStage struct {
	client     *http.Client
	userAgents []string
	delay      ratelimit.RateLimiter
	limiter    *ratelimit.DomainLimiter

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewHTTPStage(cfg HTTPConfig) *HTTPStage {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &HTTPStage{
		client:     &http.Client{Timeout: timeout},
		userAgents: cfg.UserAgents,
		delay:      ratelimit.NewJitterDelay(cfg.DelayMin, cfg.DelayMax),
		limiter:    ratelimit.NewDomainLimiter(cfg.DomainRPS, 1),
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *HTTPStage) Name() string { return StageHTTP }

// Page is a fetched document decoded to UTF-8.
type Page struct {
	StatusCode int
	HTML       string
}

func (s *HTTPStage) Attempt(ctx context.Context, h sites.Handler, url string, req Request) Attempt {
	logger := requestLogger(req).With("stage", StageHTTP)
	host := sites.Host(url)

	if err := s.limiter.Wait(ctx, host); err != nil {
		return Attempt{Err: err}
	}
	if err := s.delay.Wait(ctx); err != nil {
		return Attempt{Err: err}
	}

	page, err := s.Get(ctx, url)
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			logger.Warn("non-200 status", "url", url, "status", statusErr.StatusCode)
			if throttled(statusErr.StatusCode) {
				s.limiter.RecordError(host)
			}
			return Attempt{
				StatusCode: statusErr.StatusCode,
				NotFound:   statusErr.StatusCode == http.StatusNotFound,
				AntiBot:    blockedPage(h, page.HTML),
				Err:        err,
			}
		}
		logger.Warn("request failed", "url", url, "error", err)
		return Attempt{Err: err}
	}

	doc, err := parser.Parse(page.HTML)
	if err != nil {
		return Attempt{StatusCode: page.StatusCode, Err: err}
	}

	a := inspect(h, url, url, page.HTML, doc)
	a.StatusCode = page.StatusCode

	if a.Found {
		s.limiter.RecordSuccess(host)
		// Aggregator prices belong to the shop; the browser stage follows
		// the offer link to confirm them.
		if _, ok := h.(sites.VendorResolver); ok && a.Vendor != nil && a.Vendor.URL != "" {
			a.Provisional = true
		}
		logger.Debug("price found", "url", url, "selector", a.Selector, "price", a.Price, "provisional", a.Provisional)
	} else if a.Mismatch == nil {
		logger.Debug("no selector matched", "url", url, "selectors", h.Selectors(), "anti_bot", a.AntiBot)
	}

	return a
}

// Get performs the request with browser-like headers. A non-2xx status
// returns the page along with an *HTTPStatusError.
func (s *HTTPStage) Get(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Page{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", s.userAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")

	resp, err := s.client.Do(req)
	if err != nil {
		return &Page{}, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Page{StatusCode: resp.StatusCode}, fmt.Errorf("failed to read response body: %w", err)
	}

	page := &Page{StatusCode: resp.StatusCode, HTML: decode(body, resp.Header.Get("Content-Type"))}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return page, &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	return page, nil
}

// decode converts body to UTF-8 using the Content-Type header and any
// <meta charset> in the document.
func decode(body []byte, contentType string) string {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return string(body)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return string(body)
	}
	return string(out)
}

func (s *HTTPStage) userAgent() string {
	if len(s.userAgents) == 0 {
		return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userAgents[s.rnd.Intn(len(s.userAgents))]
}

func throttled(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusForbidden || status == http.StatusServiceUnavailable
}

// blockedPage checks an error page for challenge markers.
func blockedPage(h sites.Handler, html string) bool {
	if html == "" {
		return false
	}
	doc, err := parser.Parse(html)
	if err != nil {
		return antibot.Detect(html)
	}
	return blocked(h, html, doc)
}

func requestLogger(req Request) *slog.Logger {
	if req.Logger != nil {
		return req.Logger
	}
	return slog.Default()
}
