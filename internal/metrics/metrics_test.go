package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JonMunkholm/membergen/internal/core"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationObserver(t *testing.T) {
	m := New()

	m.GenerationStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))

	m.MemberGenerated()
	m.MemberGenerated()
	m.GenerationFailed(core.StageFabricate)
	m.GenerationFinished()

	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.generated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues(core.StageFabricate)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.failures.WithLabelValues(core.StageAddress)))
}

func TestObserveRequest(t *testing.T) {
	m := New()

	m.ObserveRequest(http.MethodGet, "/members/{id}", http.StatusOK, 20*time.Millisecond)
	m.ObserveRequest(http.MethodGet, "/members/{id}", http.StatusOK, 30*time.Millisecond)
	m.ObserveRequest(http.MethodGet, "", http.StatusNotFound, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/members/{id}", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "unmatched", "404")))
}

func TestHandler_Exposition(t *testing.T) {
	m := New()
	m.MemberGenerated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "membergen_members_generated_total 1")
	assert.Contains(t, string(body), `membergen_generation_failures_total{stage="store"} 0`)
	assert.Contains(t, string(body), "go_goroutines")
}
