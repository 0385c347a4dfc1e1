package renderer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pricewatch-io/pagefetch/internal/fetch"
)

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	src := http.Header{
		"Accept-Language": {"en-US"},
		"X-Multi":         {"a", "b"},
		"X-Empty":         {},
	}
	headers := toNetworkHeaders(src)

	require.Equal(t, "en-US", headers["Accept-Language"])
	require.Equal(t, []string{"a", "b"}, headers["X-Multi"])
	require.NotContains(t, headers, "X-Empty")
}

func TestCloneHeaderIsolation(t *testing.T) {
	t.Parallel()

	src := http.Header{"X-Test": {"a", "b"}}
	cloned := cloneHeader(src)
	cloned.Add("X-Test", "c")
	require.Len(t, src["X-Test"], 2)

	require.Nil(t, cloneHeader(nil))
}

func TestResponseMetaCapture(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.capture(&network.EventResponseReceived{
		Type: network.ResourceTypeImage,
		Response: &network.Response{
			Status: 404,
			URL:    "https://example.com/banner.png",
		},
	})
	status, _, url := meta.snapshot()
	require.Zero(t, status, "subresources must not be recorded")
	require.Empty(t, url)

	meta.capture(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  302,
			URL:     "https://example.com/old",
			Headers: network.Headers{"Location": "/new"},
		},
	})
	meta.capture(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  200,
			URL:     "https://example.com/new",
			Headers: network.Headers{"Content-Type": "text/html"},
		},
	})
	status, headers, url := meta.snapshot()
	require.Equal(t, 200, status, "last document response wins")
	require.Equal(t, "https://example.com/new", url)
	require.Equal(t, "text/html", headers.Get("Content-Type"))
}

func TestResponseMetaFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	status, headers, url := meta.snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://final", url)
	require.NotNil(t, headers)

	status, _, url = meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://req", url)
}

func TestBudget(t *testing.T) {
	t.Parallel()

	s := &Strategy{cfg: Config{Timeout: 45 * time.Second}}
	require.Equal(t, 45*time.Second, s.budget(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got := s.budget(ctx)
	require.LessOrEqual(t, got, time.Second)
	require.Greater(t, got, 500*time.Millisecond)
}

func TestAcquireSlotCanceled(t *testing.T) {
	t.Parallel()

	s := &Strategy{slots: make(chan struct{}, 1)}
	release, err := s.acquireSlot(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.acquireSlot(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStrategyFetchRendersDynamicContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><body><script>document.body.innerHTML = '<span id="price">$19.99</span>';</script></body></html>`)
	}))
	defer srv.Close()

	s, err := New(Config{MaxParallel: 1, Timeout: 10 * time.Second}, fetch.NewChallengeDetector(), zap.NewNop())
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer s.Close()

	content, err := s.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Skipf("render failed: %v", err)
	}
	require.Equal(t, 200, content.StatusCode)
	require.Contains(t, string(content.Body), "$19.99")
}
