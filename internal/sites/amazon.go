package sites

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/price-tracker/internal/browser"
	"github.com/maltedev/price-tracker/internal/parser"
)

type Amazon struct {
	*site
}

func NewAmazon(logger *slog.Logger) *Amazon {
	return &Amazon{site: newSite(logger, "Amazon",
		[]string{"amazon.fr", "amazon.de", "amazon.com", "amazon.co.uk", "amazon.it", "amazon.es"},
		[]string{
			".a-price-whole",
			".a-price.a-text-price.a-size-medium.apexPriceToPay .a-offscreen",
			".a-price .a-offscreen",
			"span.a-price-symbol + span.a-price-whole",
			".a-price-range .a-price .a-offscreen",
			"#priceblock_dealprice",
			"#priceblock_ourprice",
			".a-price-current .a-price-whole",
		})}
}

// NormalizeURL strips wishlist parameters, which make Amazon serve a
// different page, by rebuilding the URL as prefix/dp/ASIN/.
func (a *Amazon) NormalizeURL(raw string) string {
	if !strings.Contains(raw, "coliid=") && !strings.Contains(raw, "colid=") {
		return raw
	}

	i := strings.Index(raw, "/dp/")
	if i < 0 {
		return raw
	}

	asin := raw[i+len("/dp/"):]
	if j := strings.IndexAny(asin, "/?"); j >= 0 {
		asin = asin[:j]
	}
	if asin == "" {
		return raw
	}

	cleaned := raw[:i] + "/dp/" + asin + "/"
	a.logger.Debug("cleaned wishlist URL", "from", raw, "to", cleaned)
	return cleaned
}

var amazonInterstitialSelectors = []string{
	"#sp-cc-accept",
	`button:has-text("Continuer les achats")`,
	`input[type="submit"][value*="Continuer"]`,
	`button:has-text("Weiter shoppen")`,
	`button:has-text("Continue shopping")`,
}

func (a *Amazon) PreparePage(ctx context.Context, page playwright.Page) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if selector, ok := browser.ClickFirstVisible(page, amazonInterstitialSelectors); ok {
		a.logger.Info("dismissed interstitial", "selector", selector)
		browser.Wait(page, 2*time.Second)
	}
	return nil
}

func (a *Amazon) ExtractPrice(doc *goquery.Document) (float64, string, bool) {
	m, ok := parser.FirstPrice(doc, a.selectors, amazonPriceText)
	if !ok {
		return 0, "", false
	}
	return m.Price, m.Selector, true
}

// amazonPriceText joins .a-price-whole with its sibling fraction so that
// "579," + "95" reads as 579.95 rather than 579.
func amazonPriceText(sel *goquery.Selection) string {
	text := parser.Text(sel)
	if !sel.HasClass("a-price-whole") {
		return text
	}

	fraction := strings.TrimSpace(sel.Parent().Find(".a-price-fraction").First().Text())
	if fraction == "" {
		return text
	}
	return strings.TrimRight(text, ".,") + "," + fraction
}

func (a *Amazon) Blocked(doc *goquery.Document) bool {
	if doc.Find("#captchacharacters, form[action*='Captcha'], form[action*='validateCaptcha']").Length() > 0 {
		return true
	}
	return strings.Contains(strings.ToLower(parser.Title(doc)), "robot")
}

// InspectVendor reads the buy box seller and Prime badge. It returns nil
// when the page carries neither.
func (a *Amazon) InspectVendor(pageURL string, doc *goquery.Document) *Vendor {
	trigger := doc.Find("#sellerProfileTriggerId").First()
	name := parser.Text(trigger)
	href, _ := trigger.Attr("href")

	if name == "" {
		doc.Find(".tabular-buybox-text").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			attr, _ := sel.Attr("tabular-attribute-name")
			if attr == "Vendu par" || attr == "Sold by" || attr == "Verkäufer" {
				name = parser.Text(sel)
				return false
			}
			return true
		})
	}

	if name == "" {
		merchant := strings.ToLower(parser.Text(doc.Find("#merchant-info").First()))
		if strings.Contains(merchant, "amazon") {
			name = "Amazon"
		}
	}

	prime := doc.Find(".a-icon-prime, #prime-badge, i.a-icon-prime").Length() > 0

	if name == "" && !prime {
		return nil
	}
	if name == "" {
		name = "Amazon"
	}

	return &Vendor{
		Name:            name,
		URL:             resolveLink(pageURL, href),
		IsMarketplace:   !strings.Contains(strings.ToLower(name), "amazon"),
		IsPrimeEligible: prime,
	}
}

// resolveLink makes href absolute against base. Empty or unparsable
// input yields "".
func resolveLink(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return ""
	}
	return b.ResolveReference(ref).String()
}
