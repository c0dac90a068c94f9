package sites

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/maltedev/price-tracker/internal/browser"
	"github.com/maltedev/price-tracker/internal/parser"
)

// Idealo is a price aggregator: its listed price belongs to a shop,
// and its product pages sometimes drift to a different product.
type Idealo struct {
	*site
}

func NewIdealo(logger *slog.Logger) *Idealo {
	s := newSite(logger, "Idealo", []string{"idealo.fr"},
		[]string{".productOffers-listItemOfferPrice"})
	s.stealth = true
	s.wait = 8 * time.Second
	return &Idealo{site: s}
}

var idealoConsentSelectors = []string{
	`button:has-text("Accepter")`,
	`button:has-text("Accept")`,
	`button:has-text("Tout accepter")`,
	`button:has-text("Accept all")`,
	`[data-testid="accept"]`,
	".cookie-consent button",
	"#cookie-consent button",
}

func (i *Idealo) PreparePage(ctx context.Context, page playwright.Page) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if selector, ok := browser.ClickFirstVisible(page, idealoConsentSelectors); ok {
		i.logger.Info("accepted consent", "selector", selector)
		browser.Wait(page, 2*time.Second)
	}

	browser.Wait(page, 3*time.Second)
	return nil
}

// ExtractPrice falls back to structured data and the meta description
// when the offer list has not rendered.
func (i *Idealo) ExtractPrice(doc *goquery.Document) (float64, string, bool) {
	if price, selector, ok := i.site.ExtractPrice(doc); ok {
		return price, selector, true
	}
	if price, ok := parser.JSONLDPrice(doc); ok {
		return price, "json-ld", true
	}
	if price, ok := parser.MetaDescriptionPrice(doc); ok {
		return price, "meta-description", true
	}
	return 0, "", false
}

var idealoSlugPattern = regexp.MustCompile(`/prix/\d+/([^.]+)\.html`)

var idealoBrands = []string{
	"razer", "logitech", "corsair", "keychron", "steelseries", "hyperx",
	"asus", "msi", "gigabyte", "amd", "intel", "nvidia",
}

var idealoCommonWords = map[string]bool{
	"pro": true, "gaming": true, "rgb": true, "wireless": true,
	"black": true, "white": true, "red": true, "blue": true,
}

// ExpectedProduct is what an Idealo URL says the page should show.
type ExpectedProduct struct {
	Slug     string
	Brand    string
	Keywords []string
}

// ParseIdealoURL reads brand and model keywords from the URL slug, as in
// /prix/202062898/razer-deathadder-v3-pro.html.
func ParseIdealoURL(rawURL string) (ExpectedProduct, bool) {
	m := idealoSlugPattern.FindStringSubmatch(rawURL)
	if len(m) < 2 || m[1] == "" {
		return ExpectedProduct{}, false
	}

	slug := strings.ToLower(m[1])
	expected := ExpectedProduct{Slug: slug}

	for _, brand := range idealoBrands {
		if strings.Contains(slug, brand) {
			expected.Brand = brand
			break
		}
	}

	for _, part := range strings.Split(slug, "-") {
		if part == "" || idealoCommonWords[part] || part == expected.Brand {
			continue
		}
		expected.Keywords = append(expected.Keywords, part)
	}

	return expected, true
}

var idealoNameSelectors = []string{
	"h1",
	"h2",
	"header h1",
	"header h2",
	`[data-testid="productTitle"]`,
	`[class*="productTitle"]`,
	`[class*="product-title"]`,
	".productName",
}

const minNameLength = 5

// PageProductName prefers the structured-data name over headings.
func PageProductName(doc *goquery.Document) string {
	if name := parser.JSONLDName(doc, minNameLength); name != "" {
		return name
	}

	for _, selector := range idealoNameSelectors {
		var name string
		doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if text := parser.Text(sel); len(text) > minNameLength {
				name = text
				return false
			}
			return true
		})
		if name != "" {
			return name
		}
	}
	return ""
}

// Validate reports a *MismatchError when the page shows another brand or
// none of the URL's model keywords. A URL without a known brand, or a
// page without a readable name, is given the benefit of the doubt.
func (i *Idealo) Validate(rawURL string, doc *goquery.Document) error {
	expected, ok := ParseIdealoURL(rawURL)
	if !ok || expected.Brand == "" {
		return nil
	}

	actual := PageProductName(doc)
	if actual == "" {
		i.logger.Warn("could not read product name", "url", rawURL)
		return nil
	}

	folded := fold(actual)
	mismatch := &MismatchError{
		Expected: strings.ReplaceAll(expected.Slug, "-", " "),
		Actual:   actual,
	}

	if !strings.Contains(folded, expected.Brand) {
		i.logger.Warn("brand mismatch", "url", rawURL, "brand", expected.Brand, "actual", actual)
		return mismatch
	}

	if len(expected.Keywords) == 0 {
		return nil
	}
	for _, kw := range expected.Keywords {
		if len(kw) > 2 && strings.Contains(folded, fold(kw)) {
			return nil
		}
	}

	i.logger.Warn("model mismatch", "url", rawURL, "keywords", expected.Keywords, "actual", actual)
	return mismatch
}

// fold lower-cases s and strips diacritics so "Séries" matches "series".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// OfferVendor reads the shop behind the first listed offer.
func OfferVendor(pageURL string, doc *goquery.Document) *VendorLink {
	offer := doc.Find(".productOffers-listItem").First()
	if offer.Length() == 0 {
		return nil
	}

	name, _ := offer.Attr("data-shop-name")
	if name == "" {
		name, _ = offer.Find("[data-shop-name]").First().Attr("data-shop-name")
	}
	if name == "" {
		name, _ = offer.Find("img.productOffers-listItemOfferShopV2LogoImage, .productOffers-listItemOfferShopV2 img").First().Attr("alt")
	}
	name = strings.TrimSpace(name)

	var href string
	offer.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		h, _ := a.Attr("href")
		if strings.Contains(h, "/relocator/") || strings.Contains(h, "offerId") || a.HasClass("productOffers-listItemOfferCtaLeadout") {
			href = h
			return false
		}
		if href == "" {
			href = h
		}
		return true
	})

	link := &VendorLink{Name: name, URL: resolveLink(pageURL, href)}
	if link.Name == "" && link.URL == "" {
		return nil
	}
	return link
}

// InspectVendor reports the first offer's shop as listed on the page,
// before any redirect is followed.
func (i *Idealo) InspectVendor(pageURL string, doc *goquery.Document) *Vendor {
	link := OfferVendor(pageURL, doc)
	if link == nil {
		return nil
	}
	return &Vendor{Name: link.Name, URL: link.URL}
}

// ResolveVendor returns the first offer's shop. The pipeline follows
// the link in the browser to reach the shop's own page.
func (i *Idealo) ResolveVendor(ctx context.Context, page playwright.Page, doc *goquery.Document) (*VendorLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return OfferVendor(page.URL(), doc), nil
}
