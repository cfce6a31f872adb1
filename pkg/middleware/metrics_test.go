package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectMetric extracts the first label-matched metric from a Collector.
func collectMetric(t *testing.T, c prometheus.Collector, labels map[string]string) *dto.Metric {
	if t != nil {
		t.Helper()
	}
	ch := make(chan prometheus.Metric, 100)
	c.Collect(ch)
	close(ch)

	for m := range ch {
		d := &dto.Metric{}
		if err := m.Write(d); err != nil {
			continue
		}

		match := true
		for k, v := range labels {
			found := false
			for _, lp := range d.GetLabel() {
				if lp.GetName() == k && lp.GetValue() == v {
					found = true
					break
				}
			}
			if !found {
				match = false
				break
			}
		}
		if match {
			return d
		}
	}
	return nil
}

func serveWithChi(mw func(http.Handler) http.Handler, pattern string, handler http.HandlerFunc) *chi.Mux {
	r := chi.NewRouter()
	r.Use(mw)
	r.Post(pattern, handler)
	return r
}

func TestHTTPMetrics_RequestCounting(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())
	handler := serveWithChi(m.Middleware("auth"), "/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	labels := map[string]string{"service": "auth", "method": "POST", "path": "/api/auth/login", "status": "200"}
	got := collectMetric(t, m.requestsTotal, labels)
	require.NotNil(t, got)
	assert.Equal(t, float64(3), got.GetCounter().GetValue())
}

func TestHTTPMetrics_DurationHistogram(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())
	handler := serveWithChi(m.Middleware("auth"), "/api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/auth/register", nil))

	labels := map[string]string{"service": "auth", "path": "/api/auth/register", "status": "201"}
	got := collectMetric(t, m.requestDuration, labels)
	require.NotNil(t, got)
	assert.Equal(t, uint64(1), got.GetHistogram().GetSampleCount())
}

func TestHTTPMetrics_InFlightGauge(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())
	inFlightSeen := float64(-1)
	handler := serveWithChi(m.Middleware("auth"), "/test", func(w http.ResponseWriter, r *http.Request) {
		if got := collectMetric(nil, m.requestsInFlight, map[string]string{"service": "auth"}); got != nil {
			inFlightSeen = got.GetGauge().GetValue()
		}
		w.WriteHeader(http.StatusNoContent)
	})

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/test", nil))

	assert.Equal(t, float64(1), inFlightSeen)
	after := collectMetric(t, m.requestsInFlight, map[string]string{"service": "auth"})
	require.NotNil(t, after)
	assert.Equal(t, float64(0), after.GetGauge().GetValue())
}

func TestHTTPMetrics_DefaultStatusCode(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())
	handler := serveWithChi(m.Middleware("auth"), "/test", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/test", nil))

	require.NotNil(t, collectMetric(t, m.requestsTotal, map[string]string{"status": "200"}))
}

func TestHTTPMetrics_FirstStatusWins(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())
	handler := serveWithChi(m.Middleware("auth"), "/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.WriteHeader(http.StatusOK)
	})

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/test", nil))

	assert.NotNil(t, collectMetric(t, m.requestsTotal, map[string]string{"status": "401"}))
	assert.Nil(t, collectMetric(t, m.requestsTotal, map[string]string{"status": "200"}))
}

func TestNewHTTPMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewHTTPMetrics(reg)
	assert.Panics(t, func() { NewHTTPMetrics(reg) })
}
