// Package pricing turns scraped price text into a float.
package pricing

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrNotAPrice = errors.New("not a price")

// splitCents matches a bare digit run whose cents were rendered in a
// separate element, e.g. "579" + "<sup>95</sup>" read back as "57995".
var splitCents = regexp.MustCompile(`^\d{3,6}$`)

var spaceReplacer = strings.NewReplacer(
	"€", "",
	"EUR", "",
	" ", "",
	"\u00a0", "",
	"\u202f", "",
	"\u2009", "",
	"\t", "",
	"\n", "",
)

// Parse normalizes a currency string. "579€95" gives 579.95 and
// "1 234,56 €" gives 1234.56.
func Parse(raw string) (float64, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return 0, fmt.Errorf("%w: empty", ErrNotAPrice)
	}

	cleaned := spaceReplacer.Replace(text)

	if splitCents.MatchString(cleaned) &&
		strings.Contains(text, "€") &&
		!strings.ContainsAny(text, ".,") {
		cleaned = cleaned[:len(cleaned)-2] + "." + cleaned[len(cleaned)-2:]
	}

	cleaned = strings.TrimSuffix(normalizeSeparators(cleaned), ".")

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNotAPrice, raw)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: non-positive %q", ErrNotAPrice, raw)
	}

	return value, nil
}

// normalizeSeparators makes the last of '.' or ',' the decimal point and
// drops the other as a thousands separator.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0 && strings.Count(s, ",") > 1:
		s = strings.Replace(s, ",", "", strings.Count(s, ",")-1)
	case lastDot >= 0 && strings.Count(s, ".") > 1:
		s = strings.Replace(s, ".", "", strings.Count(s, ".")-1)
	}

	return strings.ReplaceAll(s, ",", ".")
}

// Format renders a price the way the report and alerts show it.
func Format(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64) + "€"
}
