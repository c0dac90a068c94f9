package sites

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"
	"golang.org/x/net/html"

	"github.com/maltedev/price-tracker/internal/browser"
	"github.com/maltedev/price-tracker/internal/parser"
)

type TopAchat struct {
	*site
}

func NewTopAchat(logger *slog.Logger) *TopAchat {
	return &TopAchat{site: newSite(logger, "TopAchat", []string{"topachat.com"},
		[]string{
			".offer-price__price.svelte-hgy1uf",
			".offer-price__price",
			"span.offer-price__price",
			".price",
			"[data-price]",
			".product-price",
			".price-value",
		})}
}

const topAchatSelectorWait = 8 * time.Second

var topAchatWaitSelectors = []string{
	".offer-price__price.svelte-hgy1uf",
	".offer-price__price",
	"span.offer-price__price",
	".price",
	"[data-price]",
	".product-price",
}

// PreparePage waits for the client-rendered price block.
func (t *TopAchat) PreparePage(ctx context.Context, page playwright.Page) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	selector, ok := browser.WaitForAnySelector(page, topAchatWaitSelectors, topAchatSelectorWait)
	if !ok {
		t.logger.Warn("no price selector appeared")
		return nil
	}
	t.logger.Debug("price selector appeared", "selector", selector)
	return nil
}

func (t *TopAchat) ExtractPrice(doc *goquery.Document) (float64, string, bool) {
	m, ok := parser.FirstPrice(doc, t.selectors, topAchatPriceText)
	if !ok {
		return 0, "", false
	}
	return m.Price, m.Selector, true
}

var topAchatPricePattern = regexp.MustCompile(`([\d.,]+)\s*€`)

// topAchatPriceText reads the first non-empty text fragment of the price
// element, which holds the current price ahead of any struck-out one.
func topAchatPriceText(sel *goquery.Selection) string {
	text := firstTextFragment(sel)
	if text == "" {
		text = parser.Text(sel)
	}

	if m := topAchatPricePattern.FindStringSubmatch(text); len(m) == 2 {
		return m[1]
	}
	if before, _, found := strings.Cut(text, "€"); found {
		return strings.TrimSpace(before)
	}
	return text
}

func firstTextFragment(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}

	var walk func(n *html.Node) string
	walk = func(n *html.Node) string {
		if n.Type == html.TextNode {
			return strings.TrimSpace(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if s := walk(c); s != "" {
				return s
			}
		}
		return ""
	}
	return walk(sel.Nodes[0])
}
