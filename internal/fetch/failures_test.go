package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeNetErr struct{ timeout bool }

func (e fakeNetErr) Error() string   { return "dial tcp: i/o failure" }
func (e fakeNetErr) Timeout() bool   { return e.timeout }
func (e fakeNetErr) Temporary() bool { return true }

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  *FetchError
		want bool
	}{
		{"timeout", TimeoutError(context.DeadlineExceeded), true},
		{"network", NetworkError(errors.New("reset")), true},
		{"http 429", HTTPError(429, 5*time.Second), true},
		{"http 503", HTTPError(503, 0), false},
		{"http 404", HTTPError(404, 0), false},
		{"blocked", BlockedError("challenge page"), false},
		{"malformed", MalformedError(errors.New("empty body")), false},
		{"canceled", CanceledError(context.Canceled), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.err.Retryable())
		})
	}
}

func TestClassify(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		require.Nil(t, Classify(nil))
	})
	t.Run("passthrough", func(t *testing.T) {
		fe := BlockedError("captcha")
		require.Same(t, fe, Classify(fmt.Errorf("fetch: %w", fe)))
	})
	t.Run("deadline", func(t *testing.T) {
		require.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	})
	t.Run("canceled", func(t *testing.T) {
		require.Equal(t, KindCanceled, KindOf(context.Canceled))
	})
	t.Run("net timeout", func(t *testing.T) {
		require.Equal(t, KindTimeout, KindOf(fakeNetErr{timeout: true}))
	})
	t.Run("net other", func(t *testing.T) {
		require.Equal(t, KindNetworkError, KindOf(fakeNetErr{timeout: false}))
	})
	t.Run("plain error", func(t *testing.T) {
		require.Equal(t, KindNetworkError, KindOf(errors.New("boom")))
	})
}

func TestFetchErrorUnwrap(t *testing.T) {
	cause := errors.New("root")
	fe := NetworkError(cause)
	require.ErrorIs(t, fe, cause)
}

func TestFetchErrorMarshalJSON(t *testing.T) {
	raw, err := json.Marshal(HTTPError(429, 1500*time.Millisecond))
	require.NoError(t, err)
	require.JSONEq(t, `{"kind":"http_error","status":429,"retry_after_ms":1500}`, string(raw))

	raw, err = json.Marshal(MissingFieldError("title"))
	require.NoError(t, err)
	require.JSONEq(t, `{"kind":"missing_required_field","message":"no value for required field \"title\""}`, string(raw))
}
