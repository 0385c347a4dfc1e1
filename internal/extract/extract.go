// Package extract turns fetched HTML into product records. Extraction is a
// pure function of the content: same bytes in, same record out, with no I/O
// and no state shared between calls.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pricewatch-io/pagefetch/internal/fetch"
)

// Locators holds the ordered CSS selector lists tried per field, first
// non-empty match wins. A selector may end in "@attr" to read an attribute
// instead of element text.
type Locators struct {
	Title        []string
	Price        []string
	Rating       []string
	Category     []string
	Brand        []string
	ReviewCount  []string
	Description  []string
	Availability []string
}

// DefaultLocators covers the markup of the large retail sites this was built
// against, ordered most-specific first with generic fallbacks last.
func DefaultLocators() Locators {
	return Locators{
		Title: []string{
			"h1.product-title",
			".product-wrap h1",
			"[data-testid='product-title']",
			"h1[itemprop='name']",
			"#productTitle",
			"h1",
		},
		Price: []string{
			".price-current",
			".product-price .price-current",
			"[data-testid='product-price']",
			".price-now",
			"[data-price]@data-price",
			".a-price .a-offscreen",
			"[itemprop='price']@content",
			".price",
		},
		Rating: []string{
			".rating-eggs@aria-label",
			"[data-testid='product-rating']",
			"[itemprop='ratingValue']@content",
			".a-icon-alt",
			".overall-rating",
		},
		Category: []string{
			"nav.breadcrumb li:last-child a",
			".breadcrumb li:last-child a",
			"[itemprop='category']",
			".breadcrumb-item.active",
		},
		Brand: []string{
			".product-brand a",
			".product-brand",
			"[data-testid='product-brand']",
			"[itemprop='brand']@content",
			"#bylineInfo",
		},
		ReviewCount: []string{
			".item-rating-num",
			"[data-testid='review-count']",
			"#acrCustomerReviewText",
			".rating-text",
		},
		Description: []string{
			".product-bullets",
			".product-overview",
			"[data-testid='product-description']",
			"#feature-bullets",
			".product-details",
		},
		Availability: []string{
			".product-inventory",
			"#availability span",
			"[itemprop='availability']@content",
			".stock-status",
		},
	}
}

// Extractor applies a locator set to fetched pages.
type Extractor struct {
	locators Locators
}

// New builds an extractor. Empty locator lists fall back to the defaults
// field by field, so configuration can override just one field.
func New(locators Locators) *Extractor {
	defaults := DefaultLocators()
	if len(locators.Title) == 0 {
		locators.Title = defaults.Title
	}
	if len(locators.Price) == 0 {
		locators.Price = defaults.Price
	}
	if len(locators.Rating) == 0 {
		locators.Rating = defaults.Rating
	}
	if len(locators.Category) == 0 {
		locators.Category = defaults.Category
	}
	if len(locators.Brand) == 0 {
		locators.Brand = defaults.Brand
	}
	if len(locators.ReviewCount) == 0 {
		locators.ReviewCount = defaults.ReviewCount
	}
	if len(locators.Description) == 0 {
		locators.Description = defaults.Description
	}
	if len(locators.Availability) == 0 {
		locators.Availability = defaults.Availability
	}
	return &Extractor{locators: locators}
}

// Extract parses content into a record. Title and price are required; every
// other field is best-effort and absent fields stay zero. The caller stamps
// StrategyUsed and ScrapedAt, which are not properties of the content.
func (e *Extractor) Extract(content *fetch.Content) (*fetch.ProductRecord, error) {
	if content == nil || len(bytes.TrimSpace(content.Body)) == 0 {
		return nil, fetch.MalformedError(errors.New("empty content"))
	}
	if !htmlContentType(content.ContentType) {
		return nil, fetch.MalformedError(fmt.Errorf("unsupported content type %q", content.ContentType))
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content.Body))
	if err != nil {
		return nil, fetch.MalformedError(fmt.Errorf("parse html: %w", err))
	}

	title := cleanText(e.first(doc, e.locators.Title))
	if title == "" {
		return nil, fetch.MissingFieldError("title")
	}

	priceText := e.first(doc, e.locators.Price)
	if priceText == "" {
		return nil, fetch.MissingFieldError("price")
	}
	price, err := ParsePrice(priceText)
	if err != nil {
		return nil, err
	}

	record := &fetch.ProductRecord{
		Title:        title,
		Price:        price,
		Category:     cleanText(e.first(doc, e.locators.Category)),
		Brand:        cleanBrand(e.first(doc, e.locators.Brand)),
		Description:  cleanText(e.first(doc, e.locators.Description)),
		Availability: cleanText(e.first(doc, e.locators.Availability)),
		SourceURL:    content.FinalURL,
	}
	if text := e.first(doc, e.locators.Rating); text != "" {
		if rating, ok := parseRating(text); ok {
			record.Rating = &rating
		}
	}
	if text := e.first(doc, e.locators.ReviewCount); text != "" {
		if count, ok := parseReviewCount(text); ok {
			record.ReviewCount = &count
		}
	}
	return record, nil
}

// first walks a locator list and returns the first non-empty value.
func (e *Extractor) first(doc *goquery.Document, locators []string) string {
	for _, raw := range locators {
		selector, attr := splitLocator(raw)
		if selector == "" {
			continue
		}
		node := doc.Find(selector).First()
		if node.Length() == 0 {
			continue
		}
		var text string
		if attr != "" {
			text, _ = node.Attr(attr)
		} else {
			text = node.Text()
		}
		if text = strings.TrimSpace(text); text != "" {
			return text
		}
	}
	return ""
}

var attrNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*$`)

// splitLocator peels a trailing "@attr" off a locator. The split only
// happens when the suffix is a bare attribute name, so selectors containing
// "@" inside quoted values pass through untouched.
func splitLocator(raw string) (selector, attr string) {
	idx := strings.LastIndex(raw, "@")
	if idx <= 0 {
		return raw, ""
	}
	candidate := raw[idx+1:]
	if !attrNameRe.MatchString(candidate) {
		return raw, ""
	}
	return raw[:idx], candidate
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func cleanText(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

var brandPrefixRe = regexp.MustCompile(`(?i)^(brand|manufacturer|visit the)[:\s]+`)

func cleanBrand(text string) string {
	return cleanText(brandPrefixRe.ReplaceAllString(cleanText(text), ""))
}

func htmlContentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	lower := strings.ToLower(contentType)
	return strings.Contains(lower, "html") || strings.Contains(lower, "xml")
}
