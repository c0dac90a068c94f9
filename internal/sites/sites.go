// Package sites holds the per-domain knowledge used by the extraction
// pipeline: selectors, URL cleaning, page preparation and validation.
package sites

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/price-tracker/internal/parser"
)

const UnknownSite = "Unknown"

// Handler describes how to scrape one site.
type Handler interface {
	Name() string
	Domains() []string
	Selectors() []string
	NormalizeURL(raw string) string
	UseStealth() bool
	WaitTime() time.Duration
	PreparePage(ctx context.Context, page playwright.Page) error
	ExtractPrice(doc *goquery.Document) (float64, string, bool)
}

// Validator is implemented by handlers that can tell whether a page
// shows the product its URL promises. Validate returns a *MismatchError
// when it does not.
type Validator interface {
	Validate(rawURL string, doc *goquery.Document) error
}

// VendorResolver is implemented by aggregators whose price belongs to a
// third-party shop.
type VendorResolver interface {
	ResolveVendor(ctx context.Context, page playwright.Page, doc *goquery.Document) (*VendorLink, error)
}

// VendorInspector reads seller details straight from a product page.
type VendorInspector interface {
	InspectVendor(pageURL string, doc *goquery.Document) *Vendor
}

// BlockDetector recognizes a site's own block or captcha page.
type BlockDetector interface {
	Blocked(doc *goquery.Document) bool
}

type Vendor struct {
	Name            string `json:"name"`
	URL             string `json:"url,omitempty"`
	IsMarketplace   bool   `json:"is_marketplace"`
	IsPrimeEligible bool   `json:"is_prime_eligible"`
}

// VendorLink is the offer an aggregator points at.
type VendorLink struct {
	Name string
	URL  string
}

type MismatchError struct {
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("product mismatch: expected %q, page shows %q", e.Expected, e.Actual)
}

// site implements Handler for sites that need nothing beyond selectors.
// Richer handlers embed it and override what they need.
type site struct {
	name      string
	domains   []string
	selectors []string
	stealth   bool
	wait      time.Duration
	logger    *slog.Logger
}

func (s *site) Name() string                                       { return s.name }
func (s *site) Domains() []string                                  { return s.domains }
func (s *site) Selectors() []string                                { return s.selectors }
func (s *site) NormalizeURL(raw string) string                     { return raw }
func (s *site) UseStealth() bool                                   { return s.stealth }
func (s *site) WaitTime() time.Duration                            { return s.wait }
func (s *site) PreparePage(context.Context, playwright.Page) error { return nil }

func (s *site) ExtractPrice(doc *goquery.Document) (float64, string, bool) {
	m, ok := parser.FirstPrice(doc, s.selectors, nil)
	if !ok {
		return 0, "", false
	}
	return m.Price, m.Selector, true
}

const defaultWait = 3 * time.Second

func newSite(logger *slog.Logger, name string, domains, selectors []string) *site {
	return &site{
		name:      name,
		domains:   domains,
		selectors: selectors,
		wait:      defaultWait,
		logger:    logger.With("component", "site", "site", name),
	}
}

// Host returns the lower-cased host of rawURL without a leading "www.".
func Host(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// MatchesDomain reports whether host is domain or a subdomain of it.
func MatchesDomain(host, domain string) bool {
	domain = strings.TrimPrefix(strings.ToLower(domain), "www.")
	return host == domain || strings.HasSuffix(host, "."+domain)
}
