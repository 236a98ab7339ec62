package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/warden/service"
)

var _ service.Recorder = (*Metrics)(nil)

func TestCounters(t *testing.T) {
	m := New()

	m.AuthAttempt("credential", "authenticated")
	m.AuthAttempt("credential", "authenticated")
	m.AuthAttempt("wallet", "failed")
	m.RateLimited("login.credential")
	m.RefreshReplay()
	m.CodeDelivery(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuthAttempts.WithLabelValues("credential", "authenticated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthAttempts.WithLabelValues("wallet", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitedTotal.WithLabelValues("login.credential")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshReplays))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CodeDeliveries.WithLabelValues("false")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.RefreshReplay()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "warden_refresh_replays_total 1")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
