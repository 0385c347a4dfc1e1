package fetch

import (
	"bytes"
	"errors"
	"net/http"
	"time"
)

// Interpret maps a completed HTTP exchange onto the shared taxonomy. Every
// strategy funnels its responses through here so blocked/http_error/
// malformed classification stays identical regardless of transport.
func Interpret(detector *ChallengeDetector, status int, header http.Header, body []byte, finalURL string) (*Content, error) {
	if detector.Blocked(status, body) {
		return nil, BlockedError("challenge interstitial detected")
	}
	if status >= 400 {
		var retryAfter time.Duration
		if status == 429 || status == 503 {
			retryAfter = ParseRetryAfter(header.Get("Retry-After"), time.Now())
		}
		return nil, HTTPError(status, retryAfter)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, MalformedError(errors.New("empty response body"))
	}
	return &Content{
		Body:        body,
		ContentType: header.Get("Content-Type"),
		StatusCode:  status,
		FinalURL:    finalURL,
	}, nil
}
