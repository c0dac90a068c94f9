// Package parser applies selector lists and structured-data lookups to
// rendered HTML.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/price-tracker/internal/pricing"
)

// Match is a price found by a selector.
type Match struct {
	Price    float64
	Selector string
	Text     string
}

// TextFunc extracts the candidate price text from a matched element.
type TextFunc func(sel *goquery.Selection) string

func Parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// Text returns the element text with surrounding whitespace removed.
func Text(sel *goquery.Selection) string {
	return strings.TrimSpace(sel.Text())
}

// FirstPrice walks selectors in order, and every element each one
// matches, returning the first whose text parses as a price.
func FirstPrice(doc *goquery.Document, selectors []string, textOf TextFunc) (Match, bool) {
	if textOf == nil {
		textOf = Text
	}

	var found Match
	ok := false

	for _, selector := range selectors {
		doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			text := textOf(sel)
			if text == "" {
				return true
			}
			price, err := pricing.Parse(text)
			if err != nil {
				return true
			}
			found = Match{Price: price, Selector: selector, Text: text}
			ok = true
			return false
		})
		if ok {
			return found, true
		}
	}

	return Match{}, false
}

// JSONLD returns every object found in ld+json scripts, flattening
// top-level arrays and @graph lists.
func JSONLD(doc *goquery.Document) []map[string]any {
	var objects []map[string]any

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		var raw any
		if err := json.Unmarshal([]byte(sel.Text()), &raw); err != nil {
			return
		}
		objects = append(objects, flatten(raw)...)
	})

	return objects
}

func flatten(v any) []map[string]any {
	switch t := v.(type) {
	case map[string]any:
		out := []map[string]any{t}
		if graph, ok := t["@graph"]; ok {
			out = append(out, flatten(graph)...)
		}
		return out
	case []any:
		var out []map[string]any
		for _, item := range t {
			out = append(out, flatten(item)...)
		}
		return out
	}
	return nil
}

// JSONLDName returns the first structured-data name longer than minLen.
func JSONLDName(doc *goquery.Document, minLen int) string {
	for _, obj := range JSONLD(doc) {
		for _, key := range []string{"name", "@name"} {
			if name, ok := obj[key].(string); ok {
				name = strings.TrimSpace(name)
				if len(name) > minLen {
					return name
				}
			}
		}
	}
	return ""
}

// JSONLDPrice reads offers.price or offers.lowPrice from Product objects.
func JSONLDPrice(doc *goquery.Document) (float64, bool) {
	for _, obj := range JSONLD(doc) {
		for _, offer := range flatten(obj["offers"]) {
			for _, key := range []string{"price", "lowPrice"} {
				if price, ok := numeric(offer[key]); ok {
					return price, true
				}
			}
		}
	}
	return 0, false
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, t > 0
	case string:
		p, err := pricing.Parse(t)
		return p, err == nil
	}
	return 0, false
}

var metaPricePattern = regexp.MustCompile(`(\d[\d\s\x{00a0}.,]*)\s*€`)

// MetaDescriptionPrice finds a euro amount in <meta name="description">.
func MetaDescriptionPrice(doc *goquery.Document) (float64, bool) {
	content, ok := doc.Find(`meta[name="description"]`).Attr("content")
	if !ok {
		return 0, false
	}

	m := metaPricePattern.FindStringSubmatch(content)
	if len(m) < 2 {
		return 0, false
	}

	price, err := pricing.Parse(strings.TrimSpace(m[1]))
	if err != nil {
		return 0, false
	}
	return price, true
}

// Title returns the document <title>.
func Title(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("title").First().Text())
}
