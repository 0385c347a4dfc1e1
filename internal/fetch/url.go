package fetch

import (
	"fmt"
	"net/url"
	"strings"
)

// DomainOf extracts the rate-limiting and robots scope key from a URL: the
// lowercased hostname without port.
func DomainOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return host, nil
}

// NormalizeRequest fills the derived fields of a submitted request: Domain
// from the URL host when unset. Returns an error for unusable URLs.
func NormalizeRequest(req Request) (Request, error) {
	if strings.TrimSpace(req.URL) == "" {
		return req, fmt.Errorf("request has empty url")
	}
	if req.Domain == "" {
		domain, err := DomainOf(req.URL)
		if err != nil {
			return req, err
		}
		req.Domain = domain
	} else {
		req.Domain = strings.ToLower(req.Domain)
	}
	return req, nil
}
