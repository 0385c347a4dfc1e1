package fetch

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Challenge signals observed across Cloudflare, PerimeterX, and retail-site
// CAPTCHA interstitials. Markers are matched case-insensitively against the
// body; selectors and title fragments against the parsed document.
var (
	defaultChallengeMarkers = []string{
		"checking your browser before accessing",
		"just a moment",
		"cf-browser-verification",
		"challenge-platform",
		"verify you are human",
		"attention required",
		"enable javascript and cookies to continue",
		"are you a robot",
	}
	defaultChallengeSelectors = []string{
		"#captchacharacters",
		"form[action*='Captcha']",
		"#challenge-form",
		"iframe[src*='captcha']",
	}
	defaultChallengeTitles = []string{
		"robot or human",
		"access to this page has been denied",
		"access denied",
		"just a moment",
	}
)

// ChallengeDetector decides whether a response body is an anti-bot
// interstitial rather than real content. Shared by all strategies; pure.
type ChallengeDetector struct {
	markers   [][]byte
	selectors []string
	titles    []string
}

// NewChallengeDetector builds a detector with the default signal corpus.
func NewChallengeDetector() *ChallengeDetector {
	markers := make([][]byte, 0, len(defaultChallengeMarkers))
	for _, m := range defaultChallengeMarkers {
		markers = append(markers, []byte(m))
	}
	return &ChallengeDetector{
		markers:   markers,
		selectors: defaultChallengeSelectors,
		titles:    defaultChallengeTitles,
	}
}

// Blocked reports whether the response looks like a challenge page. Marker
// and DOM probes apply at any status; 403/503 bodies naming cloudflare are
// challenges even without a known marker.
func (d *ChallengeDetector) Blocked(statusCode int, body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, m := range d.markers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	if (statusCode == 403 || statusCode == 503) && bytes.Contains(lower, []byte("cloudflare")) {
		return true
	}
	return d.domProbe(body)
}

func (d *ChallengeDetector) domProbe(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	for _, sel := range d.selectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	if title == "" {
		return false
	}
	for _, t := range d.titles {
		if strings.Contains(title, t) {
			return true
		}
	}
	return false
}
