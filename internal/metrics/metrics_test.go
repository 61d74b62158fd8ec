package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTransition(t *testing.T) {
	m := New()

	m.ObserveTransition("approve", "success")
	m.ObserveTransition("approve", "success")
	m.ObserveTransition("approve", "invalid_state")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("approve", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("approve", "invalid_state")))
}

func TestObserveAnalysis(t *testing.T) {
	m := New()

	m.ObserveAnalysis(true)
	m.ObserveAnalysis(false)
	m.ObserveAnalysis(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.analyses.WithLabelValues("created")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.analyses.WithLabelValues("existing")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveTransition("approve", "success")
		m.ObserveKnowledgeCreated()
		m.ObserveAnalysis(true)
		m.ObserveRequest(http.MethodGet, "/knowledge", http.StatusOK, time.Millisecond)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveKnowledgeCreated()
	m.ObserveRequest(http.MethodGet, "/knowledge", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dkn_knowledge_created_total 1")
	assert.Contains(t, rec.Body.String(), `dkn_http_requests_total{method="GET",route="/knowledge",status="200"} 1`)
}
