package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveRateLimitWait("shop.example", 250*time.Millisecond)
	ObserveExtractFailure("missing_required_field")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, "pagefetch_rate_limit_wait_seconds"))
	require.True(t, strings.Contains(body, "pagefetch_extract_failures_total"))
	require.True(t, strings.Contains(body, `reason="missing_required_field"`))
}
