package lightweight

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pricewatch-io/pagefetch/internal/fetch"
)

func newStrategy() *Strategy {
	return New(Config{Timeout: 2 * time.Second}, fetch.NewChallengeDetector(), zap.NewNop())
}

func kindOf(t *testing.T, err error) fetch.FailureKind {
	t.Helper()
	var fe *fetch.FetchError
	require.ErrorAs(t, err, &fe)
	return fe.Kind
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><h1 class="product-title">Widget</h1></body></html>`)
	}))
	defer srv.Close()

	content, err := newStrategy().Fetch(context.Background(), srv.URL+"/item/1")
	require.NoError(t, err)
	require.Equal(t, 200, content.StatusCode)
	require.Contains(t, string(content.Body), "Widget")
	require.Contains(t, content.ContentType, "text/html")
	require.Equal(t, srv.URL+"/item/1", content.FinalURL)
}

func TestFetchFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>moved here</body></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	content, err := newStrategy().Fetch(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/new", content.FinalURL)
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newStrategy().Fetch(context.Background(), srv.URL)
	var fe *fetch.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, fetch.KindHTTPError, fe.Kind)
	require.Equal(t, 404, fe.Status)
	require.False(t, fe.Retryable())
}

func TestFetchTooManyRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, "slow down")
	}))
	defer srv.Close()

	_, err := newStrategy().Fetch(context.Background(), srv.URL)
	var fe *fetch.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, fetch.KindHTTPError, fe.Kind)
	require.Equal(t, 429, fe.Status)
	require.Equal(t, 7*time.Second, fe.RetryAfter)
	require.True(t, fe.Retryable())
}

func TestFetchBlockedChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Just a moment...</title></head><body>Checking your browser before accessing</body></html>`)
	}))
	defer srv.Close()

	_, err := newStrategy().Fetch(context.Background(), srv.URL)
	require.Equal(t, fetch.KindBlocked, kindOf(t, err))
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := newStrategy().Fetch(ctx, srv.URL)
	require.Equal(t, fetch.KindTimeout, kindOf(t, err))
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newStrategy().Fetch(context.Background(), srv.URL)
	require.Equal(t, fetch.KindNetworkError, kindOf(t, err))
}

func TestFetchEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := newStrategy().Fetch(context.Background(), srv.URL)
	require.Equal(t, fetch.KindMalformedResponse, kindOf(t, err))
}

func TestFetchBadURL(t *testing.T) {
	_, err := newStrategy().Fetch(context.Background(), "://bad")
	require.Error(t, err)
	require.False(t, errors.As(err, new(*fetch.FetchError)))
}
