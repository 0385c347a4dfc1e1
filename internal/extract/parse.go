package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pricewatch-io/pagefetch/internal/fetch"
)

// Symbols checked in order so text carrying several currency markers parses
// the same way every time.
var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
}

var (
	currencyCodeRe = regexp.MustCompile(`\b(USD|EUR|GBP|CAD|AUD|JPY)\b`)
	priceValueRe   = regexp.MustCompile(`(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d{1,2}))?`)
)

// ParsePrice normalizes price text like "$1,299.99" or "Price: 49.90 EUR"
// into minor units with an explicit currency. Text without a recognizable
// numeric amount is an unparsable-value failure.
func ParsePrice(text string) (fetch.Price, error) {
	match := priceValueRe.FindStringSubmatch(text)
	if match == nil {
		return fetch.Price{}, fetch.UnparsableError("price", text)
	}
	whole, err := strconv.ParseInt(strings.ReplaceAll(match[1], ",", ""), 10, 64)
	if err != nil {
		return fetch.Price{}, fetch.UnparsableError("price", text)
	}
	minor := whole * 100
	if match[2] != "" {
		cents, err := strconv.ParseInt(match[2], 10, 64)
		if err != nil {
			return fetch.Price{}, fetch.UnparsableError("price", text)
		}
		if len(match[2]) == 1 {
			cents *= 10
		}
		minor += cents
	}
	return fetch.Price{AmountMinor: minor, Currency: detectCurrency(text)}, nil
}

func detectCurrency(text string) string {
	if code := currencyCodeRe.FindString(text); code != "" {
		return code
	}
	for _, entry := range currencySymbols {
		if strings.Contains(text, entry.symbol) {
			return entry.code
		}
	}
	return "USD"
}

// Patterns tried in order, specific first. The bare-number fallback lets
// markup like <span class="rating">4.7</span> through.
var ratingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:out\s*of\s*5|/\s*5|stars?)`),
	regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*eggs?`),
	regexp.MustCompile(`(?i)rat(?:ed|ing)[:\s]*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(\d+(?:\.\d+)?)`),
}

// parseRating pulls a star value out of free text. A match outside [0,5] is
// rejected and the next pattern gets a chance.
func parseRating(text string) (float64, bool) {
	for _, pattern := range ratingPatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		value, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			continue
		}
		if value >= 0 && value <= 5 {
			return value, true
		}
	}
	return 0, false
}

var reviewCountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\((\d{1,3}(?:,\d{3})*|\d+)\s*reviews?\)`),
	regexp.MustCompile(`(?i)(\d{1,3}(?:,\d{3})*|\d+)\s*(?:reviews?|ratings?)`),
	regexp.MustCompile(`(\d{1,3}(?:,\d{3})*|\d+)`),
}

func parseReviewCount(text string) (int, bool) {
	for _, pattern := range reviewCountPatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		count, err := strconv.Atoi(strings.ReplaceAll(match[1], ",", ""))
		if err != nil {
			continue
		}
		return count, true
	}
	return 0, false
}
