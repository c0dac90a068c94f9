// Package scraper runs the two-stage extraction pipeline: a plain HTTP
// fetch first, then a real browser when the fast path yields nothing.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/price-tracker/internal/antibot"
	"github.com/maltedev/price-tracker/internal/sites"
)

var (
	ErrBlocked = errors.New("blocked by anti-bot protection")
	ErrNoPrice = errors.New("no price found")
)

type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

type Kind int

const (
	KindSuccess Kind = iota
	KindNotFound
	KindAntiBot
	KindHTTPError
	KindNameMismatch
	KindNoPrice
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindNotFound:
		return "not_found"
	case KindAntiBot:
		return "anti_bot"
	case KindHTTPError:
		return "http_error"
	case KindNameMismatch:
		return "name_mismatch"
	case KindNoPrice:
		return "no_price"
	}
	return "unknown"
}

const (
	StageHTTP    = "http"
	StageBrowser = "browser"
)

// Result is the classified outcome of fetching one URL.
type Result struct {
	URL        string
	Kind       Kind
	Price      float64
	Selector   string
	Vendor     *sites.Vendor
	StatusCode int
	Stage      string
	Err        error

	ExpectedName string
	ActualName   string
}

func (r Result) OK() bool {
	return r.Kind == KindSuccess
}

// Request is one fetch. ForceStealth switches to the stealth browser
// profile and doubles the site's settle time.
type Request struct {
	URL          string
	ForceStealth bool
	Logger       *slog.Logger
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) Result
}

// Attempt is what a single stage observed. A Provisional price is kept
// only if no later stage prices the URL.
type Attempt struct {
	Found       bool
	Provisional bool
	Price       float64
	Selector    string
	Vendor      *sites.Vendor
	StatusCode  int
	NotFound    bool
	AntiBot     bool
	Mismatch    *sites.MismatchError
	Err         error
}

// Stage is one extraction strategy.
type Stage interface {
	Name() string
	Attempt(ctx context.Context, h sites.Handler, url string, req Request) Attempt
}

// inspect applies the handler to a parsed page. Validation runs before
// extraction so a wrong product never yields a price.
func inspect(h sites.Handler, url, pageURL, html string, doc *goquery.Document) Attempt {
	var a Attempt

	if v, ok := h.(sites.Validator); ok {
		if err := v.Validate(url, doc); err != nil {
			var mismatch *sites.MismatchError
			if errors.As(err, &mismatch) {
				a.Mismatch = mismatch
				return a
			}
			a.Err = err
			return a
		}
	}

	if price, selector, ok := h.ExtractPrice(doc); ok {
		a.Found = true
		a.Price = price
		a.Selector = selector
		if vi, ok := h.(sites.VendorInspector); ok {
			a.Vendor = vi.InspectVendor(pageURL, doc)
		}
		return a
	}

	a.AntiBot = blocked(h, html, doc)
	return a
}

func blocked(h sites.Handler, html string, doc *goquery.Document) bool {
	if bd, ok := h.(sites.BlockDetector); ok && bd.Blocked(doc) {
		return true
	}
	return antibot.Detect(html)
}
