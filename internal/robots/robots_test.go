package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAllowAllPolicy(t *testing.T) {
	ctx := context.Background()
	policy := New(false, "pagefetch", zap.NewNop())
	require.True(t, policy.Allowed(ctx, "https://shop.example/private/item"))
	require.Zero(t, policy.CrawlDelay(ctx, "https://shop.example/item/1"))
}

func TestEnforcerAllowedAndDelay(t *testing.T) {
	ctx := context.Background()
	var robotsHits atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			fmt.Fprintln(w, "User-agent: *\nDisallow: /private/\nCrawl-delay: 3")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	enforcer := New(true, "pagefetch", zap.NewNop())

	require.True(t, enforcer.Allowed(ctx, srv.URL+"/item/1"))
	require.False(t, enforcer.Allowed(ctx, srv.URL+"/private/item"))
	require.Equal(t, 3*time.Second, enforcer.CrawlDelay(ctx, srv.URL+"/item/1"))

	// Every call above must have been served from the per-host cache.
	require.EqualValues(t, 1, robotsHits.Load())
}

func TestEnforcerMissingRobotsAllows(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	enforcer := New(true, "pagefetch", zap.NewNop())
	require.True(t, enforcer.Allowed(ctx, srv.URL+"/anything"))
	require.Zero(t, enforcer.CrawlDelay(ctx, srv.URL+"/anything"))
}

func TestEnforcerUnreachableHostFailsOpen(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	enforcer := New(true, "pagefetch", zap.NewNop())
	// Reserved TEST-NET-1 address; the fetch errors out quickly.
	require.True(t, enforcer.Allowed(ctx, "http://192.0.2.1:9/item"))
}

func TestEnforcerBadURL(t *testing.T) {
	enforcer := New(true, "pagefetch", zap.NewNop())
	require.False(t, enforcer.Allowed(context.Background(), "://not-a-url"))
}
